package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

// PutArtifact persists an immutable artifact. The (task, agent, type)
// slot is write-once; a second write returns ErrArtifactExists.
func (s *Store) PutArtifact(ctx context.Context, taskID, agentType, artifactType, mimeType string, payload any) (*a2a.Artifact, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact payload: %w", err)
	}
	sum := sha256.Sum256(data)

	art := &a2a.Artifact{
		ID:        "artifact_" + uuid.New().String(),
		TaskID:    taskID,
		AgentType: agentType,
		Type:      artifactType,
		MimeType:  mimeType,
		Data:      data,
		SizeBytes: int64(len(data)),
		Checksum:  hex.EncodeToString(sum[:]),
		Created:   time.Now().UTC(),
		Immutable: true,
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO artifacts (id, task_id, agent_type, type, mime_type, data,
			size_bytes, checksum, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		art.ID, art.TaskID, art.AgentType, art.Type, art.MimeType,
		string(art.Data), art.SizeBytes, art.Checksum, art.Created)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("artifact %s/%s/%s: %w", taskID, agentType, artifactType, ErrArtifactExists)
		}
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	return art, nil
}

// GetArtifact loads an artifact by its (task, agent, type) address and
// verifies the stored checksum against the payload.
func (s *Store) GetArtifact(ctx context.Context, taskID, agentType, artifactType string) (*a2a.Artifact, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, task_id, agent_type, type, mime_type, data, size_bytes, checksum, created
		FROM artifacts WHERE task_id = ? AND agent_type = ? AND type = ?`),
		taskID, agentType, artifactType)
	return scanArtifact(row)
}

// LatestArtifact returns the most recently created artifact of a task,
// regardless of producer.
func (s *Store) LatestArtifact(ctx context.Context, taskID string) (*a2a.Artifact, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, task_id, agent_type, type, mime_type, data, size_bytes, checksum, created
		FROM artifacts WHERE task_id = ? ORDER BY created DESC, id DESC LIMIT 1`),
		taskID)
	return scanArtifact(row)
}

// ListArtifacts returns all artifacts of a task in creation order.
func (s *Store) ListArtifacts(ctx context.Context, taskID string) ([]*a2a.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, task_id, agent_type, type, mime_type, data, size_bytes, checksum, created
		FROM artifacts WHERE task_id = ? ORDER BY created ASC, id ASC`), taskID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*a2a.Artifact
	for rows.Next() {
		art, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, art)
	}
	return artifacts, rows.Err()
}

// CountArtifacts returns how many artifacts a task has produced. The
// replay path uses this to rewind the step counter.
func (s *Store) CountArtifacts(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM artifacts WHERE task_id = ?`), taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}

func scanArtifact(row rowScanner) (*a2a.Artifact, error) {
	var (
		art  a2a.Artifact
		data string
	)
	err := row.Scan(&art.ID, &art.TaskID, &art.AgentType, &art.Type,
		&art.MimeType, &data, &art.SizeBytes, &art.Checksum, &art.Created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	art.Data = json.RawMessage(data)
	art.Immutable = true

	sum := sha256.Sum256(art.Data)
	if hex.EncodeToString(sum[:]) != art.Checksum {
		return nil, fmt.Errorf("artifact %s: checksum mismatch", art.ID)
	}
	return &art, nil
}
