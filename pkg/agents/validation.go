package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
	"github.com/halcasteel/bookmark-pipeline/pkg/agent"
	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/fetcher"
	"github.com/halcasteel/bookmark-pipeline/pkg/logger"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
)

// AgentTypeValidation is the validation stage identifier.
const AgentTypeValidation = "validation"

// progressEvery throttles per-bookmark progress messages.
const progressEvery = 5

// ValidationAgent checks bookmark reachability through the navigation
// pool and records outcomes with stable failure reasons. Database
// writes happen in one batch near the end; a failed batch write is
// reported but does not fail the stage.
type ValidationAgent struct {
	store       *store.Store
	pool        *fetcher.Pool
	concurrency int
	log         *slog.Logger
}

// NewValidationAgent creates the validation stage.
func NewValidationAgent(s *store.Store, pool *fetcher.Pool, cfg *config.PipelineConfig) *ValidationAgent {
	return &ValidationAgent{
		store:       s,
		pool:        pool,
		concurrency: cfg.ValidationConcurrency,
		log:         logger.GetLogger().With("agent", AgentTypeValidation),
	}
}

func (a *ValidationAgent) AgentType() string { return AgentTypeValidation }

func (a *ValidationAgent) Card() *a2a.AgentCard {
	return a2a.NewAgentCard(AgentTypeValidation, "1.0.0",
		"Validates bookmark reachability and extracts page metadata").
		WithInput("bookmarkIds", "string[]", false, "Bookmarks to validate; defaults to the import batch").
		WithInput("importId", "string", false, "Import batch to validate when bookmarkIds is absent").
		WithOutput(a2a.ArtifactValidationResult, "Per-bookmark reachability outcomes")
}

func (a *ValidationAgent) Validate(task *a2a.Task) error {
	return requireTargets(task)
}

// requireTargets checks that a downstream stage was handed something to
// work on. An explicitly empty bookmarkIds list is legal zero-work
// input; only the complete absence of both keys is an error.
func requireTargets(task *a2a.Task) error {
	if !contextHas(task, "bookmarkIds") && contextString(task, "importId") == "" {
		return fmt.Errorf("bookmarkIds or importId is required")
	}
	return nil
}

// loadTargets resolves the bookmarks a stage operates on. An explicit
// id list takes precedence over the import batch, including an empty
// list, which selects nothing.
func loadTargets(ctx context.Context, s *store.Store, task *a2a.Task) ([]*store.Bookmark, error) {
	if contextHas(task, "bookmarkIds") {
		ids := contextStrings(task, "bookmarkIds")
		if len(ids) == 0 {
			return nil, nil
		}
		return s.ListBookmarksByIDs(ctx, ids)
	}
	if importID := contextString(task, "importId"); importID != "" {
		return s.ListBookmarksByImport(ctx, importID)
	}
	return nil, nil
}

func (a *ValidationAgent) Execute(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
	bookmarks, err := loadTargets(ctx, a.store, task)
	if err != nil {
		return agent.Failed(err)
	}

	total := len(bookmarks)
	reporter.Progress(ctx, 0, total, fmt.Sprintf("validating %d bookmarks", total))

	var (
		mu        sync.Mutex
		processed int
		outcomes  = make([]a2a.ValidationOutcome, total)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for idx, bm := range bookmarks {
		idx, bm := idx, bm
		g.Go(func() error {
			nav, err := a.pool.Navigate(gctx, bm.URL)
			if err != nil {
				return err
			}

			outcome := a2a.ValidationOutcome{
				BookmarkID: bm.ID,
				URL:        bm.URL,
				Validated:  nav.Valid,
				StatusCode: nav.StatusCode,
			}
			if !nav.Valid {
				outcome.Error = nav.Reason
			}
			if nav.Metadata != nil {
				outcome.Metadata = nav.Metadata.ToMap()
			}

			mu.Lock()
			outcomes[idx] = outcome
			processed++
			done := processed
			mu.Unlock()

			if done%progressEvery == 0 || done == total {
				reporter.Progress(gctx, done, total,
					fmt.Sprintf("validated %d/%d bookmarks", done, total))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return agent.Failed(err)
	}

	result := a2a.ValidationResult{ValidationResults: outcomes}
	updates := make([]store.ValidationUpdate, 0, total)
	for _, outcome := range outcomes {
		if outcome.Validated {
			result.ValidatedCount++
		} else {
			result.FailedCount++
		}
		update := store.ValidationUpdate{
			BookmarkID: outcome.BookmarkID,
			Valid:      outcome.Validated,
			Metadata:   outcome.Metadata,
		}
		if outcome.Error != "" {
			update.Errors = []string{outcome.Error}
		}
		updates = append(updates, update)
	}
	if result.ValidationResults == nil {
		result.ValidationResults = []a2a.ValidationOutcome{}
	}

	// Persist outcomes; losing this write degrades queries but the
	// artifact still carries the authoritative result.
	if err := a.store.ApplyValidation(ctx, updates); err != nil {
		a.log.Warn("validation batch write failed", "task", task.ID, "error", err.Error())
		reporter.Message(ctx, a2a.MessageWarning,
			fmt.Sprintf("validation results not persisted: %v", err), nil)
	}

	reporter.Progress(ctx, total, total,
		fmt.Sprintf("validation complete: %d ok, %d failed",
			result.ValidatedCount, result.FailedCount))

	return agent.Completed(agent.ArtifactSpec{Type: a2a.ArtifactValidationResult, Data: result})
}
