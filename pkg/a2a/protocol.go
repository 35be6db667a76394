// Package a2a defines the agent-to-agent contract used by the bookmark
// pipeline: tasks, typed immutable artifacts, progress messages, and
// capability cards for discovery.
//
// A Task is a persistent workflow instance pinned to a user. It tracks
// progression through a fixed ordered list of agents. Agents exchange
// data exclusively through typed artifacts; messages are advisory and
// never authoritative for task state.
package a2a

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a permitted transition.
// The transition graph is a DAG: pending -> running -> (completed |
// failed | cancelled), plus pending -> cancelled for tasks cancelled
// before dispatch.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskRunning || next == TaskCancelled
	case TaskRunning:
		return next == TaskCompleted || next == TaskFailed || next == TaskCancelled
	}
	return false
}

// WorkflowState tracks a task's position inside its agent sequence.
type WorkflowState struct {
	Type         string   `json:"type"`
	Agents       []string `json:"agents"`
	CurrentAgent string   `json:"currentAgent,omitempty"`
	CurrentStep  int      `json:"currentStep"`
	TotalSteps   int      `json:"totalSteps"`
}

// Task is the unit of work coordinated by the task manager.
type Task struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Status       TaskStatus     `json:"status"`
	Workflow     WorkflowState  `json:"workflow"`
	Context      map[string]any `json:"context"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	UserID       string         `json:"userId"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Created      time.Time      `json:"created"`
	Updated      time.Time      `json:"updated"`
}

// NewTask creates a pending task for the given workflow.
func NewTask(taskType, workflowType string, agents []string, userID string, context map[string]any) *Task {
	now := time.Now().UTC()
	if context == nil {
		context = make(map[string]any)
	}
	return &Task{
		ID:     fmt.Sprintf("task_%d_%s", now.UnixMilli(), uuid.New().String()[:8]),
		Type:   taskType,
		Status: TaskPending,
		Workflow: WorkflowState{
			Type:        workflowType,
			Agents:      agents,
			CurrentStep: 0,
			TotalSteps:  len(agents),
		},
		Context: context,
		UserID:  userID,
		Created: now,
		Updated: now,
	}
}

// NextAgent returns the agent type for the current step, or false when
// the workflow is exhausted.
func (t *Task) NextAgent() (string, bool) {
	if t.Workflow.CurrentStep >= t.Workflow.TotalSteps {
		return "", false
	}
	return t.Workflow.Agents[t.Workflow.CurrentStep], true
}

// Progress returns the workflow completion percentage derived from the
// step counter. Stage-internal progress is reported via messages.
func (t *Task) Progress() int {
	if t.Workflow.TotalSteps == 0 {
		return 100
	}
	return t.Workflow.CurrentStep * 100 / t.Workflow.TotalSteps
}

// Snapshot is the externally visible view of a task.
type Snapshot struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Status       TaskStatus `json:"status"`
	WorkflowType string     `json:"workflowType"`
	CurrentAgent string     `json:"currentAgent,omitempty"`
	CurrentStep  int        `json:"currentStep"`
	TotalSteps   int        `json:"totalSteps"`
	Progress     int        `json:"progress"`
	UserID       string     `json:"userId"`
	Created      time.Time  `json:"created"`
	Updated      time.Time  `json:"updated"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Snapshot builds the API view of the task.
func (t *Task) Snapshot() Snapshot {
	return Snapshot{
		ID:           t.ID,
		Type:         t.Type,
		Status:       t.Status,
		WorkflowType: t.Workflow.Type,
		CurrentAgent: t.Workflow.CurrentAgent,
		CurrentStep:  t.Workflow.CurrentStep,
		TotalSteps:   t.Workflow.TotalSteps,
		Progress:     t.Progress(),
		UserID:       t.UserID,
		Created:      t.Created,
		Updated:      t.Updated,
		ErrorMessage: t.ErrorMessage,
	}
}

// Artifact is an immutable typed output of one agent execution,
// addressable by (task, producer, type). After creation no field may
// change.
type Artifact struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"taskId"`
	AgentType string          `json:"agentType"`
	Type      string          `json:"type"`
	MimeType  string          `json:"mimeType"`
	Data      json.RawMessage `json:"data"`
	SizeBytes int64           `json:"sizeBytes"`
	Checksum  string          `json:"checksum"`
	Created   time.Time       `json:"created"`
	Immutable bool            `json:"immutable"`
}

// Decode unmarshals the artifact payload into v.
func (a *Artifact) Decode(v any) error {
	if err := json.Unmarshal(a.Data, v); err != nil {
		return fmt.Errorf("decode artifact %s (%s): %w", a.ID, a.Type, err)
	}
	return nil
}

// MessageType classifies a progress log entry.
type MessageType string

const (
	MessageProgress   MessageType = "progress"
	MessageStatus     MessageType = "status"
	MessageError      MessageType = "error"
	MessageWarning    MessageType = "warning"
	MessageInfo       MessageType = "info"
	MessageCompletion MessageType = "completion"
)

// Message is an append-only advisory record describing in-flight state
// of a task.
type Message struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"taskId"`
	AgentType string         `json:"agentType,omitempty"`
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a message of the given type.
func NewMessage(taskID, agentType string, msgType MessageType, content string) *Message {
	return &Message{
		ID:        "msg_" + uuid.New().String(),
		TaskID:    taskID,
		AgentType: agentType,
		Type:      msgType,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewProgressMessage creates a progress message carrying processed/total
// counters and the derived percentage.
func NewProgressMessage(taskID, agentType string, processed, total int, content string) *Message {
	msg := NewMessage(taskID, agentType, MessageProgress, content)
	pct := 100
	if total > 0 {
		pct = processed * 100 / total
	}
	msg.Metadata = map[string]any{
		"processed": processed,
		"total":     total,
		"progress":  pct,
	}
	return msg
}

// StreamEventType identifies a live progress stream event.
type StreamEventType string

const (
	StreamEventStatus   StreamEventType = "status"
	StreamEventMessage  StreamEventType = "message"
	StreamEventArtifact StreamEventType = "artifact"
)

// StreamEvent is delivered to progress stream subscribers. Exactly one
// of Message, Artifact, Status is set depending on Type.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	TaskID    string          `json:"taskId"`
	Message   *Message        `json:"message,omitempty"`
	Artifact  *Artifact       `json:"artifact,omitempty"`
	Status    *Snapshot       `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Terminal reports whether the event announces a terminal task status.
func (e StreamEvent) Terminal() bool {
	return e.Type == StreamEventStatus && e.Status != nil && e.Status.Status.IsTerminal()
}
