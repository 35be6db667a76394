// Package manager coordinates workflow tasks: it resolves workflows,
// dispatches stages to agents, persists transitions and artifacts, and
// feeds the progress stream. Every status change is written to the
// store before it is announced; the task row is authoritative.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
	"github.com/halcasteel/bookmark-pipeline/pkg/agent"
	"github.com/halcasteel/bookmark-pipeline/pkg/logger"
	"github.com/halcasteel/bookmark-pipeline/pkg/observability"
	"github.com/halcasteel/bookmark-pipeline/pkg/registry"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
	"github.com/halcasteel/bookmark-pipeline/pkg/stream"
)

// Manager runs workflows. One goroutine executes each in-flight task;
// cancellation is cooperative through per-task contexts.
type Manager struct {
	store     *store.Store
	agents    *agent.Registry
	workflows *registry.Registry[*Workflow]
	hub       *stream.Hub
	metrics   *observability.Metrics
	log       *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	baseCtx context.Context
	stop    context.CancelFunc
}

// New creates a manager. metrics may be nil to disable instrumentation.
func New(s *store.Store, agentReg *agent.Registry, workflows *registry.Registry[*Workflow], hub *stream.Hub, metrics *observability.Metrics) *Manager {
	baseCtx, stop := context.WithCancel(context.Background())
	return &Manager{
		store:     s,
		agents:    agentReg,
		workflows: workflows,
		hub:       hub,
		metrics:   metrics,
		log:       logger.GetLogger().With("component", "manager"),
		cancels:   make(map[string]context.CancelFunc),
		baseCtx:   baseCtx,
		stop:      stop,
	}
}

// Shutdown cancels all in-flight tasks and waits for their goroutines.
func (m *Manager) Shutdown() {
	m.stop()
	m.wg.Wait()
}

// Submit creates a task for the workflow and immediately dispatches its
// first stage. Every agent the workflow names must be registered.
func (m *Manager) Submit(ctx context.Context, workflowType string, taskCtx map[string]any, userID string) (*a2a.Task, error) {
	workflow, err := m.workflows.Get(workflowType)
	if err != nil {
		return nil, fmt.Errorf("unknown workflow: %s", workflowType)
	}
	for _, agentType := range workflow.Agents {
		if _, err := m.agents.Lookup(agentType); err != nil {
			return nil, fmt.Errorf("workflow %s: %w", workflowType, err)
		}
	}

	task := a2a.NewTask("bookmark_pipeline", workflowType, workflow.Agents, userID, taskCtx)
	if err := m.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.TasksSubmitted.WithLabelValues(workflowType).Inc()
	}
	m.log.Info("task submitted", "task", task.ID, "workflow", workflowType, "user", userID)

	m.startRunner(task.ID)
	return task, nil
}

// Replay rewinds a failed task to its first unfinished stage and
// re-dispatches it. Artifacts from completed stages are kept; the step
// counter resumes after them.
func (m *Manager) Replay(ctx context.Context, taskID string) (*a2a.Task, error) {
	completedStages, err := m.store.CountArtifacts(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task, err := m.store.ResetForReplay(ctx, taskID, completedStages)
	if err != nil {
		return nil, err
	}
	m.log.Info("task replayed", "task", taskID, "resumeStep", completedStages)

	m.startRunner(task.ID)
	return task, nil
}

// Cancel requests cancellation. A pending task is cancelled in place; a
// running task gets its context cancelled and finishes cooperatively.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	task, err := m.store.LoadTask(ctx, taskID)
	if err != nil {
		return err
	}
	switch task.Status {
	case a2a.TaskPending:
		updated, err := m.store.Transition(ctx, taskID, a2a.TaskPending, a2a.TaskCancelled, store.TaskPatch{})
		if err != nil {
			// The runner may have started it meanwhile; fall through to
			// the cooperative path.
			if !errors.Is(err, store.ErrConflict) {
				return err
			}
		} else {
			m.finish(updated)
			return nil
		}
	case a2a.TaskCompleted, a2a.TaskFailed, a2a.TaskCancelled:
		return fmt.Errorf("task %s is already %s: %w", taskID, task.Status, store.ErrConflict)
	}

	m.mu.Lock()
	cancel, ok := m.cancels[taskID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s has no active runner: %w", taskID, store.ErrNotFound)
	}
	cancel()
	return nil
}

// startRunner spawns the goroutine driving one task through its
// workflow.
func (m *Manager) startRunner(taskID string) {
	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.mu.Lock()
	m.cancels[taskID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.TasksInFlight.Inc()
	}
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.cancels, taskID)
			m.mu.Unlock()
			cancel()
			if m.metrics != nil {
				m.metrics.TasksInFlight.Dec()
			}
			m.wg.Done()
		}()
		m.run(runCtx, taskID)
	}()
}

// run drives the task stage by stage until the workflow is exhausted or
// a stage fails.
func (m *Manager) run(ctx context.Context, taskID string) {
	task, err := m.store.LoadTask(ctx, taskID)
	if err != nil {
		m.log.Error("runner load failed", "task", taskID, "error", err.Error())
		return
	}

	agentType, ok := task.NextAgent()
	if !ok {
		// Degenerate empty workflow. The lifecycle has no
		// pending->completed edge, so it still passes through running.
		started, err := m.store.Transition(ctx, taskID, a2a.TaskPending, a2a.TaskRunning, store.TaskPatch{})
		if err != nil {
			m.log.Warn("task did not start", "task", taskID, "error", err.Error())
			return
		}
		m.hub.PublishStatus(started.Snapshot())
		m.complete(ctx, started)
		return
	}

	task, err = m.store.Transition(ctx, taskID, a2a.TaskPending, a2a.TaskRunning,
		store.TaskPatch{CurrentAgent: &agentType})
	if err != nil {
		// Lost to a concurrent cancel.
		m.log.Warn("task did not start", "task", taskID, "error", err.Error())
		return
	}
	m.hub.PublishStatus(task.Snapshot())

	for {
		agentType, ok := task.NextAgent()
		if !ok {
			m.complete(ctx, task)
			return
		}

		if task.Workflow.CurrentAgent != agentType {
			advanced, err := m.store.AdvanceStage(ctx, task.ID, task.Workflow.CurrentStep, agentType, nil)
			if err != nil {
				m.log.Warn("stage advance lost", "task", task.ID, "error", err.Error())
				m.observeExternalState(ctx, task.ID)
				return
			}
			task = advanced
			m.hub.PublishStatus(task.Snapshot())
		}

		result := m.executeStage(ctx, task, agentType)
		if result.Err != nil {
			m.fail(ctx, task, agentType, result.Err)
			return
		}

		contextPatch, err := m.persistArtifacts(ctx, task, agentType, result.Artifacts)
		if err != nil {
			m.fail(ctx, task, agentType, err)
			return
		}

		task, err = m.store.AdvanceStage(ctx, task.ID, task.Workflow.CurrentStep+1, agentType, contextPatch)
		if err != nil {
			m.log.Warn("stage completion lost", "task", task.ID, "error", err.Error())
			m.observeExternalState(ctx, task.ID)
			return
		}
		m.hub.PublishStatus(task.Snapshot())
	}
}

// executeStage runs one agent with panic isolation.
func (m *Manager) executeStage(ctx context.Context, task *a2a.Task, agentType string) (result *agent.Result) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("stage panicked", "task", task.ID, "agent", agentType,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			result = agent.Failed(fmt.Errorf("agent %s panicked: %v", agentType, r))
		}
	}()

	ag, err := m.agents.Lookup(agentType)
	if err != nil {
		return agent.Failed(err)
	}
	if err := ag.Validate(task); err != nil {
		return agent.Failed(fmt.Errorf("agent %s rejected task: %w", agentType, err))
	}

	start := time.Now()
	reporter := &taskReporter{manager: m, taskID: task.ID, agentType: agentType}
	result = ag.Execute(ctx, task, reporter)
	if m.metrics != nil {
		m.metrics.StageDuration.WithLabelValues(agentType).Observe(time.Since(start).Seconds())
		if result.Err != nil {
			m.metrics.StageFailures.WithLabelValues(agentType).Inc()
		}
	}
	return result
}

// persistArtifacts stores the stage's artifacts and builds the context
// patch for the next stage from their top-level fields.
func (m *Manager) persistArtifacts(ctx context.Context, task *a2a.Task, agentType string, specs []agent.ArtifactSpec) (map[string]any, error) {
	patch := make(map[string]any)
	for _, spec := range specs {
		art, err := m.store.PutArtifact(ctx, task.ID, agentType, spec.Type, a2a.MimeJSON, spec.Data)
		if err != nil {
			if errors.Is(err, store.ErrArtifactExists) {
				// Replay of a stage that already produced output; reuse it.
				art, err = m.store.GetArtifact(ctx, task.ID, agentType, spec.Type)
			}
			if err != nil {
				return nil, err
			}
		} else if m.metrics != nil {
			m.metrics.ArtifactsStored.WithLabelValues(spec.Type).Inc()
		}
		m.hub.PublishArtifact(art)

		var fields map[string]any
		if err := json.Unmarshal(art.Data, &fields); err == nil {
			for k, v := range fields {
				patch[k] = v
			}
			if m.metrics != nil {
				// Per-item outcome counters ride on the artifact's
				// *Count fields (insertedCount, failedCount, ...).
				for k, v := range fields {
					if n, ok := v.(float64); ok && strings.HasSuffix(k, "Count") {
						outcome := strings.TrimSuffix(k, "Count")
						m.metrics.BookmarksSeen.WithLabelValues(agentType, outcome).Add(n)
					}
				}
			}
		}
	}
	return patch, nil
}

func (m *Manager) complete(ctx context.Context, task *a2a.Task) {
	empty := ""
	done, err := m.store.Transition(ctx, task.ID, a2a.TaskRunning, a2a.TaskCompleted,
		store.TaskPatch{CurrentAgent: &empty})
	if err != nil {
		m.log.Warn("completion lost", "task", task.ID, "error", err.Error())
		m.observeExternalState(ctx, task.ID)
		return
	}
	msg := a2a.NewMessage(task.ID, "", a2a.MessageCompletion, "workflow completed")
	m.record(ctx, msg)
	m.finish(done)
}

func (m *Manager) fail(ctx context.Context, task *a2a.Task, agentType string, cause error) {
	// Cooperative cancellation surfaces as a context error.
	target := a2a.TaskFailed
	if errors.Is(cause, context.Canceled) {
		target = a2a.TaskCancelled
	}

	// The runner context may already be cancelled; persist with a
	// detached context so the terminal state is never lost.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	errMsg := cause.Error()
	patch := store.TaskPatch{}
	if target == a2a.TaskFailed {
		patch.ErrorMessage = &errMsg
	}
	done, err := m.store.Transition(persistCtx, task.ID, a2a.TaskRunning, target, patch)
	if err != nil {
		m.log.Error("terminal transition lost", "task", task.ID, "error", err.Error())
		m.observeExternalState(persistCtx, task.ID)
		return
	}

	if target == a2a.TaskFailed {
		m.record(persistCtx, a2a.NewMessage(task.ID, agentType, a2a.MessageError, errMsg))
		m.log.Warn("task failed", "task", task.ID, "agent", agentType, "error", errMsg)
	} else {
		m.record(persistCtx, a2a.NewMessage(task.ID, agentType, a2a.MessageStatus, "task cancelled"))
		m.log.Info("task cancelled", "task", task.ID, "agent", agentType)
	}
	m.finish(done)
}

// finish publishes the terminal snapshot and counts the outcome.
func (m *Manager) finish(task *a2a.Task) {
	if m.metrics != nil {
		m.metrics.TasksFinished.WithLabelValues(task.Workflow.Type, string(task.Status)).Inc()
	}
	m.hub.PublishStatus(task.Snapshot())
}

// observeExternalState reloads a task whose transition was taken over
// by another writer (cancel racing a runner) and publishes its terminal
// snapshot if it reached one.
func (m *Manager) observeExternalState(ctx context.Context, taskID string) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	task, err := m.store.LoadTask(persistCtx, taskID)
	if err != nil {
		return
	}
	if task.Status.IsTerminal() {
		m.finish(task)
	}
}

// record appends a message durably and fans it out; persistence
// failures degrade to stream-only delivery.
func (m *Manager) record(ctx context.Context, msg *a2a.Message) {
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		m.log.Warn("message append failed", "task", msg.TaskID, "error", err.Error())
	}
	m.hub.PublishMessage(msg)
}

// taskReporter adapts the agent Reporter contract onto the message log
// and the stream hub.
type taskReporter struct {
	manager   *Manager
	taskID    string
	agentType string
}

func (r *taskReporter) Progress(ctx context.Context, processed, total int, content string) {
	msg := a2a.NewProgressMessage(r.taskID, r.agentType, processed, total, content)
	r.manager.record(contextForReport(ctx), msg)
}

func (r *taskReporter) Message(ctx context.Context, msgType a2a.MessageType, content string, metadata map[string]any) {
	msg := a2a.NewMessage(r.taskID, r.agentType, msgType, content)
	msg.Metadata = metadata
	r.manager.record(contextForReport(ctx), msg)
}

// contextForReport detaches reporting from stage cancellation so final
// progress from a cancelled stage still lands in the log.
func contextForReport(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
