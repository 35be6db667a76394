package manager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
	"github.com/halcasteel/bookmark-pipeline/pkg/agent"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
	"github.com/halcasteel/bookmark-pipeline/pkg/stream"
)

// stubAgent is a scriptable pipeline stage for manager tests.
type stubAgent struct {
	agentType string
	execute   func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result
}

func (s *stubAgent) AgentType() string { return s.agentType }

func (s *stubAgent) Card() *a2a.AgentCard {
	return a2a.NewAgentCard(s.agentType, "0.0.1", "test stage").
		WithOutput(s.agentType+"_result", "test output")
}

func (s *stubAgent) Validate(*a2a.Task) error { return nil }

func (s *stubAgent) Execute(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
	return s.execute(ctx, task, reporter)
}

func artifactResult(agentType string, data map[string]any) *agent.Result {
	return agent.Completed(agent.ArtifactSpec{Type: agentType + "_result", Data: data})
}

type managerFixture struct {
	store   *store.Store
	agents  *agent.Registry
	hub     *stream.Hub
	manager *Manager
}

func newFixture(t *testing.T, flowAgents ...*stubAgent) *managerFixture {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	agentReg := agent.NewRegistry()
	types := make([]string, 0, len(flowAgents))
	for _, ag := range flowAgents {
		agentReg.Register(ag)
		types = append(types, ag.agentType)
	}

	workflows := NewWorkflowRegistry()
	workflows.Register("test_flow", &Workflow{Type: "test_flow", Agents: types})

	hub := stream.NewHub()
	m := New(s, agentReg, workflows, hub, nil)
	t.Cleanup(m.Shutdown)

	return &managerFixture{store: s, agents: agentReg, hub: hub, manager: m}
}

func waitForStatus(t *testing.T, s *store.Store, taskID string, want a2a.TaskStatus) *a2a.Task {
	t.Helper()
	var task *a2a.Task
	require.Eventually(t, func() bool {
		loaded, err := s.LoadTask(context.Background(), taskID)
		if err != nil {
			return false
		}
		task = loaded
		return task.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task never reached %s", want)
	return task
}

func TestSubmitRunsWorkflowToCompletion(t *testing.T) {
	first := &stubAgent{agentType: "stage_one", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		reporter.Progress(ctx, 1, 1, "stage one done")
		return artifactResult("stage_one", map[string]any{"handoff": "from-one"})
	}}
	second := &stubAgent{agentType: "stage_two", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		// Context carries the previous stage's artifact fields.
		assert.Equal(t, "from-one", task.Context["handoff"])
		return artifactResult("stage_two", map[string]any{"final": true})
	}}
	fx := newFixture(t, first, second)

	task, err := fx.manager.Submit(context.Background(), "test_flow",
		map[string]any{"seed": "value"}, "user-1")
	require.NoError(t, err)

	done := waitForStatus(t, fx.store, task.ID, a2a.TaskCompleted)
	assert.Equal(t, 2, done.Workflow.CurrentStep)
	assert.Empty(t, done.Workflow.CurrentAgent)
	assert.Equal(t, 100, done.Progress())

	artifacts, err := fx.store.ListArtifacts(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "stage_one_result", artifacts[0].Type)
	assert.Equal(t, "stage_two_result", artifacts[1].Type)

	messages, err := fx.store.ListMessages(context.Background(), task.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	assert.Equal(t, a2a.MessageCompletion, messages[len(messages)-1].Type)
}

func TestSubmitEmptyWorkflowCompletes(t *testing.T) {
	fx := newFixture(t)
	fx.manager.workflows.Register("empty_flow", &Workflow{Type: "empty_flow"})

	task, err := fx.manager.Submit(context.Background(), "empty_flow", nil, "user-1")
	require.NoError(t, err)

	done := waitForStatus(t, fx.store, task.ID, a2a.TaskCompleted)
	assert.Zero(t, done.Workflow.TotalSteps)
	assert.Zero(t, done.Workflow.CurrentStep)
	assert.Equal(t, 100, done.Progress())
}

func TestSubmitUnknownWorkflow(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.manager.Submit(context.Background(), "nope", nil, "user-1")
	assert.Error(t, err)
}

func TestSubmitRequiresRegisteredAgents(t *testing.T) {
	fx := newFixture(t)
	fx.manager.workflows.Register("broken", &Workflow{Type: "broken", Agents: []string{"ghost"}})
	_, err := fx.manager.Submit(context.Background(), "broken", nil, "user-1")
	assert.Error(t, err)
}

func TestStageFailureFailsTask(t *testing.T) {
	first := &stubAgent{agentType: "stage_one", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		return artifactResult("stage_one", map[string]any{"n": 1})
	}}
	boom := errors.New("upstream exploded")
	second := &stubAgent{agentType: "stage_two", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		return agent.Failed(boom)
	}}
	fx := newFixture(t, first, second)

	task, err := fx.manager.Submit(context.Background(), "test_flow", nil, "user-1")
	require.NoError(t, err)

	failed := waitForStatus(t, fx.store, task.ID, a2a.TaskFailed)
	assert.Contains(t, failed.ErrorMessage, "upstream exploded")
	assert.Equal(t, 1, failed.Workflow.CurrentStep, "only the first stage finished")

	// The completed stage's artifact survives the failure.
	artifacts, err := fx.store.ListArtifacts(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
}

func TestStagePanicIsIsolated(t *testing.T) {
	panicky := &stubAgent{agentType: "stage_one", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		panic("boom")
	}}
	fx := newFixture(t, panicky)

	task, err := fx.manager.Submit(context.Background(), "test_flow", nil, "user-1")
	require.NoError(t, err)

	failed := waitForStatus(t, fx.store, task.ID, a2a.TaskFailed)
	assert.Contains(t, failed.ErrorMessage, "panicked")
}

func TestCancelRunningTask(t *testing.T) {
	started := make(chan struct{})
	blocking := &stubAgent{agentType: "stage_one", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		close(started)
		<-ctx.Done()
		return agent.Failed(ctx.Err())
	}}
	fx := newFixture(t, blocking)

	task, err := fx.manager.Submit(context.Background(), "test_flow", nil, "user-1")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("stage never started")
	}
	require.NoError(t, fx.manager.Cancel(context.Background(), task.ID))

	cancelled := waitForStatus(t, fx.store, task.ID, a2a.TaskCancelled)
	assert.Empty(t, cancelled.ErrorMessage, "cancellation is not an error")
}

func TestCancelPendingTask(t *testing.T) {
	fx := newFixture(t)
	task := a2a.NewTask("bookmark_pipeline", "test_flow", []string{"stage_one"}, "user-1", nil)
	require.NoError(t, fx.store.CreateTask(context.Background(), task))

	require.NoError(t, fx.manager.Cancel(context.Background(), task.ID))
	waitForStatus(t, fx.store, task.ID, a2a.TaskCancelled)
}

func TestCancelTerminalTaskRejected(t *testing.T) {
	ok := &stubAgent{agentType: "stage_one", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		return artifactResult("stage_one", nil)
	}}
	fx := newFixture(t, ok)

	task, err := fx.manager.Submit(context.Background(), "test_flow", nil, "user-1")
	require.NoError(t, err)
	waitForStatus(t, fx.store, task.ID, a2a.TaskCompleted)

	err = fx.manager.Cancel(context.Background(), task.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestReplayResumesAfterFailedStage(t *testing.T) {
	var attempts int
	first := &stubAgent{agentType: "stage_one", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		return artifactResult("stage_one", map[string]any{"handoff": "kept"})
	}}
	flaky := &stubAgent{agentType: "stage_two", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		attempts++
		if attempts == 1 {
			return agent.Failed(fmt.Errorf("transient failure"))
		}
		assert.Equal(t, "kept", task.Context["handoff"], "context survives replay")
		return artifactResult("stage_two", nil)
	}}
	fx := newFixture(t, first, flaky)

	task, err := fx.manager.Submit(context.Background(), "test_flow", nil, "user-1")
	require.NoError(t, err)
	waitForStatus(t, fx.store, task.ID, a2a.TaskFailed)

	replayed, err := fx.manager.Replay(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.Workflow.CurrentStep, "resume after the completed stage")

	done := waitForStatus(t, fx.store, task.ID, a2a.TaskCompleted)
	assert.Empty(t, done.ErrorMessage)
	assert.Equal(t, 2, attempts, "first stage is not re-executed")

	artifacts, err := fx.store.ListArtifacts(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
}

func TestReplayOnlyFailedTasks(t *testing.T) {
	ok := &stubAgent{agentType: "stage_one", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		return artifactResult("stage_one", nil)
	}}
	fx := newFixture(t, ok)

	task, err := fx.manager.Submit(context.Background(), "test_flow", nil, "user-1")
	require.NoError(t, err)
	waitForStatus(t, fx.store, task.ID, a2a.TaskCompleted)

	_, err = fx.manager.Replay(context.Background(), task.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestStreamReceivesTerminalStatus(t *testing.T) {
	slow := &stubAgent{agentType: "stage_one", execute: func(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
		time.Sleep(50 * time.Millisecond)
		return artifactResult("stage_one", nil)
	}}
	fx := newFixture(t, slow)

	task, err := fx.manager.Submit(context.Background(), "test_flow", nil, "user-1")
	require.NoError(t, err)

	sub := fx.hub.Subscribe(task.ID)
	defer sub.Close()

	var sawTerminal bool
	deadline := time.After(5 * time.Second)
	for !sawTerminal {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				sawTerminal = true
			} else if ev.Terminal() {
				sawTerminal = true
			}
		case <-deadline:
			t.Fatal("no terminal event")
		}
	}
}
