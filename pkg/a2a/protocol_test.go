package a2a

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		allowed  bool
	}{
		{TaskPending, TaskRunning, true},
		{TaskPending, TaskCancelled, true},
		{TaskPending, TaskCompleted, false},
		{TaskPending, TaskFailed, false},
		{TaskRunning, TaskCompleted, true},
		{TaskRunning, TaskFailed, true},
		{TaskRunning, TaskCancelled, true},
		{TaskRunning, TaskPending, false},
		{TaskCompleted, TaskRunning, false},
		{TaskFailed, TaskRunning, false},
		{TaskCancelled, TaskPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, TaskPending.IsTerminal())
	assert.False(t, TaskRunning.IsTerminal())
	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
	assert.True(t, TaskCancelled.IsTerminal())
}

func TestNewTask(t *testing.T) {
	task := NewTask("bookmark_pipeline", "quick_import", []string{"import", "validation"}, "user-1", nil)

	assert.True(t, strings.HasPrefix(task.ID, "task_"))
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, 2, task.Workflow.TotalSteps)
	assert.Zero(t, task.Workflow.CurrentStep)
	assert.NotNil(t, task.Context, "nil context is normalized")

	agent, ok := task.NextAgent()
	require.True(t, ok)
	assert.Equal(t, "import", agent)
}

func TestTaskProgress(t *testing.T) {
	task := NewTask("bookmark_pipeline", "full_import",
		[]string{"a", "b", "c", "d"}, "user-1", nil)

	assert.Equal(t, 0, task.Progress())
	task.Workflow.CurrentStep = 2
	assert.Equal(t, 50, task.Progress())
	task.Workflow.CurrentStep = 4
	assert.Equal(t, 100, task.Progress())

	_, ok := task.NextAgent()
	assert.False(t, ok, "exhausted workflow has no next agent")

	empty := NewTask("bookmark_pipeline", "noop", nil, "user-1", nil)
	assert.Equal(t, 100, empty.Progress())
}

func TestStreamEventTerminal(t *testing.T) {
	running := Snapshot{ID: "t1", Status: TaskRunning}
	done := Snapshot{ID: "t1", Status: TaskCompleted}

	assert.False(t, StreamEvent{Type: StreamEventStatus, Status: &running}.Terminal())
	assert.True(t, StreamEvent{Type: StreamEventStatus, Status: &done}.Terminal())
	assert.False(t, StreamEvent{Type: StreamEventMessage}.Terminal())
}
