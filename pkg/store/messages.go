package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

// AppendMessage durably appends a message to the task's log, assigning
// the next per-task sequence number. The assigned Seq is written back
// into msg.
func (s *Store) AppendMessage(ctx context.Context, msg *a2a.Message) error {
	metadata, err := json.Marshal(orEmpty(msg.Metadata))
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}

	// Retry once on a seq collision with a concurrent appender.
	for attempt := 0; attempt < 3; attempt++ {
		var seq int64
		err := s.db.QueryRowContext(ctx, s.rebind(
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE task_id = ?`),
			msg.TaskID).Scan(&seq)
		if err != nil {
			return fmt.Errorf("next message seq: %w", err)
		}

		_, err = s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO messages (id, task_id, agent_type, type, content, seq, timestamp, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			msg.ID, msg.TaskID, msg.AgentType, string(msg.Type), msg.Content,
			seq, msg.Timestamp, string(metadata))
		if err == nil {
			msg.Seq = seq
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return fmt.Errorf("message %s: %w", msg.ID, ErrConflict)
}

// ListMessages returns a task's messages with seq > after, in seq
// order. after = 0 returns the full log.
func (s *Store) ListMessages(ctx context.Context, taskID string, after int64) ([]*a2a.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, task_id, agent_type, type, content, seq, timestamp, metadata
		FROM messages WHERE task_id = ? AND seq > ? ORDER BY seq ASC`),
		taskID, after)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*a2a.Message
	for rows.Next() {
		var (
			msg      a2a.Message
			msgType  string
			metadata string
		)
		err := rows.Scan(&msg.ID, &msg.TaskID, &msg.AgentType, &msgType,
			&msg.Content, &msg.Seq, &msg.Timestamp, &metadata)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Type = a2a.MessageType(msgType)
		if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}
