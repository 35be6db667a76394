package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

// TaskPatch carries the optional field updates applied atomically with
// a status transition.
type TaskPatch struct {
	CurrentAgent *string
	CurrentStep  *int
	ErrorMessage *string
	Context      map[string]any
}

// TaskFilter selects tasks for listing. Zero fields match everything.
type TaskFilter struct {
	UserID       string
	Status       a2a.TaskStatus
	WorkflowType string
	CreatedAfter time.Time
	Limit        int
}

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *a2a.Task) error {
	agents, err := json.Marshal(t.Workflow.Agents)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	taskCtx, err := json.Marshal(t.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	metadata, err := json.Marshal(orEmpty(t.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tasks (id, type, status, workflow_type, agents, current_agent,
			current_step, total_steps, context, metadata, user_id, error_message,
			created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Type, string(t.Status), t.Workflow.Type, string(agents),
		t.Workflow.CurrentAgent, t.Workflow.CurrentStep, t.Workflow.TotalSteps,
		string(taskCtx), string(metadata), t.UserID, t.ErrorMessage,
		t.Created, t.Updated)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", t.ID, ErrConflict)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// LoadTask reads a task by id.
func (s *Store) LoadTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, type, status, workflow_type, agents, current_agent,
			current_step, total_steps, context, metadata, user_id, error_message,
			created, updated
		FROM tasks WHERE id = ?`), taskID)
	return scanTask(row)
}

// Transition performs a compare-and-set status change from -> to,
// applying the patch in the same statement. A task whose status is no
// longer from yields ErrConflict; a transition the lifecycle forbids
// yields ErrInvalidTransition.
func (s *Store) Transition(ctx context.Context, taskID string, from, to a2a.TaskStatus, patch TaskPatch) (*a2a.Task, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	current, err := scanTask(tx.QueryRowContext(ctx, s.rebind(`
		SELECT id, type, status, workflow_type, agents, current_agent,
			current_step, total_steps, context, metadata, user_id, error_message,
			created, updated
		FROM tasks WHERE id = ?`), taskID))
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, fmt.Errorf("task %s is %s, expected %s: %w", taskID, current.Status, from, ErrConflict)
	}

	current.Status = to
	current.Updated = time.Now().UTC()
	if patch.CurrentAgent != nil {
		current.Workflow.CurrentAgent = *patch.CurrentAgent
	}
	if patch.CurrentStep != nil {
		current.Workflow.CurrentStep = *patch.CurrentStep
	}
	if patch.ErrorMessage != nil {
		current.ErrorMessage = *patch.ErrorMessage
	}
	for k, v := range patch.Context {
		current.Context[k] = v
	}

	taskCtx, err := json.Marshal(current.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE tasks SET status = ?, current_agent = ?, current_step = ?,
			context = ?, error_message = ?, updated = ?
		WHERE id = ? AND status = ?`),
		string(to), current.Workflow.CurrentAgent, current.Workflow.CurrentStep,
		string(taskCtx), current.ErrorMessage, current.Updated,
		taskID, string(from))
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("task %s lost transition race: %w", taskID, ErrConflict)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return current, nil
}

// AdvanceStage moves a running task to its next workflow step without
// changing status, merging artifact fields into the context. The task
// must still be running; a cancelled or failed task loses the race.
func (s *Store) AdvanceStage(ctx context.Context, taskID string, step int, currentAgent string, contextPatch map[string]any) (*a2a.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin advance: %w", err)
	}
	defer tx.Rollback()

	current, err := scanTask(tx.QueryRowContext(ctx, s.rebind(`
		SELECT id, type, status, workflow_type, agents, current_agent,
			current_step, total_steps, context, metadata, user_id, error_message,
			created, updated
		FROM tasks WHERE id = ?`), taskID))
	if err != nil {
		return nil, err
	}
	if current.Status != a2a.TaskRunning {
		return nil, fmt.Errorf("task %s is %s, expected running: %w", taskID, current.Status, ErrConflict)
	}

	current.Workflow.CurrentStep = step
	current.Workflow.CurrentAgent = currentAgent
	current.Updated = time.Now().UTC()
	for k, v := range contextPatch {
		current.Context[k] = v
	}
	taskCtx, err := json.Marshal(current.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE tasks SET current_step = ?, current_agent = ?, context = ?, updated = ?
		WHERE id = ? AND status = ?`),
		step, currentAgent, string(taskCtx), current.Updated,
		taskID, string(a2a.TaskRunning))
	if err != nil {
		return nil, fmt.Errorf("advance task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("task %s lost advance race: %w", taskID, ErrConflict)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit advance: %w", err)
	}
	return current, nil
}

// ResetForReplay rewinds a failed task to pending so the manager can
// re-dispatch it. The step counter is set by the caller from the count
// of artifacts already produced; the error message is cleared.
func (s *Store) ResetForReplay(ctx context.Context, taskID string, currentStep int) (*a2a.Task, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE tasks SET status = ?, current_step = ?, current_agent = '',
			error_message = '', updated = ?
		WHERE id = ? AND status = ?`),
		string(a2a.TaskPending), currentStep, now, taskID, string(a2a.TaskFailed))
	if err != nil {
		return nil, fmt.Errorf("reset task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		task, loadErr := s.LoadTask(ctx, taskID)
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, fmt.Errorf("task %s is %s, only failed tasks replay: %w", taskID, task.Status, ErrConflict)
	}
	return s.LoadTask(ctx, taskID)
}

// AppendContext shallow-merges fields into the task context. Terminal
// tasks are frozen.
func (s *Store) AppendContext(ctx context.Context, taskID string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin context merge: %w", err)
	}
	defer tx.Rollback()

	var status, rawCtx string
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT status, context FROM tasks WHERE id = ?`), taskID).Scan(&status, &rawCtx)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load context: %w", err)
	}
	if a2a.TaskStatus(status).IsTerminal() {
		return fmt.Errorf("task %s is %s: %w", taskID, status, ErrConflict)
	}

	merged := make(map[string]any)
	if err := json.Unmarshal([]byte(rawCtx), &merged); err != nil {
		return fmt.Errorf("decode context: %w", err)
	}
	for k, v := range fields {
		merged[k] = v
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE tasks SET context = ?, updated = ? WHERE id = ?`),
		string(encoded), time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("update context: %w", err)
	}
	return tx.Commit()
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*a2a.Task, error) {
	query := `SELECT id, type, status, workflow_type, agents, current_agent,
		current_step, total_steps, context, metadata, user_id, error_message,
		created, updated FROM tasks WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowType != "" {
		query += ` AND workflow_type = ?`
		args = append(args, filter.WorkflowType)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*a2a.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*a2a.Task, error) {
	var (
		t                         a2a.Task
		status                    string
		agents, taskCtx, metadata string
	)
	err := row.Scan(&t.ID, &t.Type, &status, &t.Workflow.Type, &agents,
		&t.Workflow.CurrentAgent, &t.Workflow.CurrentStep, &t.Workflow.TotalSteps,
		&taskCtx, &metadata, &t.UserID, &t.ErrorMessage, &t.Created, &t.Updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = a2a.TaskStatus(status)
	if err := json.Unmarshal([]byte(agents), &t.Workflow.Agents); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	if err := json.Unmarshal([]byte(taskCtx), &t.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &t, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
