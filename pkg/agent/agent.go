// Package agent defines the contract each pipeline stage implements and
// the registry that serves agent discovery.
package agent

import (
	"context"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

// Reporter delivers advisory progress from a running agent. Reporting
// is best effort; a failed report never fails the stage.
type Reporter interface {
	// Progress reports processed/total counters with a human-readable note.
	Progress(ctx context.Context, processed, total int, content string)
	// Message emits a typed advisory message.
	Message(ctx context.Context, msgType a2a.MessageType, content string, metadata map[string]any)
}

// ArtifactSpec is an artifact payload produced by an agent, typed but
// not yet persisted.
type ArtifactSpec struct {
	Type string
	Data any
}

// Result is the outcome of one agent execution. Exactly one of
// Artifacts or Err is meaningful: a completed result carries artifacts,
// a failed result carries the error.
type Result struct {
	Completed bool
	Artifacts []ArtifactSpec
	Err       error
}

// Completed builds a successful result with the produced artifacts.
func Completed(artifacts ...ArtifactSpec) *Result {
	return &Result{Completed: true, Artifacts: artifacts}
}

// Failed builds a failed result.
func Failed(err error) *Result {
	return &Result{Err: err}
}

// Agent is a pipeline stage. Implementations must be safe for
// concurrent Execute calls on distinct tasks.
type Agent interface {
	// AgentType returns the stable type identifier ("import", "validation", ...).
	AgentType() string
	// Card returns the capability declaration served for discovery.
	Card() *a2a.AgentCard
	// Validate checks that the task context satisfies the card's
	// required inputs before execution starts.
	Validate(task *a2a.Task) error
	// Execute runs the stage. Cancellation arrives through ctx; a
	// cancelled stage should return promptly with ctx.Err().
	Execute(ctx context.Context, task *a2a.Task, reporter Reporter) *Result
}
