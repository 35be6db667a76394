package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
	"github.com/halcasteel/bookmark-pipeline/pkg/agent"
	"github.com/halcasteel/bookmark-pipeline/pkg/ai"
	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/logger"
	"github.com/halcasteel/bookmark-pipeline/pkg/ratelimit"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
)

// AgentTypeEnrichment is the enrichment stage identifier.
const AgentTypeEnrichment = "enrichment"

// EnrichmentAgent asks the AI provider for category, tags, summary, and
// keywords per bookmark. Calls run concurrently but are paced by the
// rate limiter; bookmarks known to be unreachable are skipped. Failures
// are per-bookmark, never fatal to the stage.
type EnrichmentAgent struct {
	store       *store.Store
	provider    ai.Provider
	limiter     *ratelimit.Limiter
	concurrency int
	categories  []string
	log         *slog.Logger
}

// NewEnrichmentAgent creates the enrichment stage.
func NewEnrichmentAgent(s *store.Store, provider ai.Provider, cfg *config.PipelineConfig) *EnrichmentAgent {
	return &EnrichmentAgent{
		store:       s,
		provider:    provider,
		limiter:     ratelimit.PerMinute(cfg.EnrichmentRatePerMinute),
		concurrency: cfg.EnrichmentConcurrency,
		categories:  config.DefaultCategories,
		log:         logger.GetLogger().With("agent", AgentTypeEnrichment),
	}
}

func (a *EnrichmentAgent) AgentType() string { return AgentTypeEnrichment }

func (a *EnrichmentAgent) Card() *a2a.AgentCard {
	return a2a.NewAgentCard(AgentTypeEnrichment, "1.0.0",
		"Enriches bookmarks with AI-derived category, tags, summary, and keywords").
		WithInput("bookmarkIds", "string[]", false, "Bookmarks to enrich; defaults to the import batch").
		WithInput("importId", "string", false, "Import batch to enrich when bookmarkIds is absent").
		WithOutput(a2a.ArtifactEnrichmentResult, "Per-bookmark enrichment outcomes")
}

func (a *EnrichmentAgent) Validate(task *a2a.Task) error {
	return requireTargets(task)
}

// invalidFromValidation collects bookmark ids the validation stage
// marked unreachable, read from the validation artifact fields merged
// into the task context. Returns nil when no validation data is
// present; callers then fall back to the bookmark rows.
func invalidFromValidation(task *a2a.Task) map[string]bool {
	raw, ok := task.Context["validationResults"].([]any)
	if !ok {
		return nil
	}
	invalid := make(map[string]bool)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["bookmarkId"].(string)
		validated, _ := m["validated"].(bool)
		if id != "" && !validated {
			invalid[id] = true
		}
	}
	return invalid
}

func (a *EnrichmentAgent) Execute(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
	bookmarks, err := loadTargets(ctx, a.store, task)
	if err != nil {
		return agent.Failed(err)
	}

	// Known-dead bookmarks are not worth an AI call. The validation
	// artifact is authoritative when present (its database write may
	// have been lost); the bookmark rows are the fallback.
	invalid := invalidFromValidation(task)
	eligible := make([]*store.Bookmark, 0, len(bookmarks))
	skipped := 0
	for _, bm := range bookmarks {
		dead := bm.IsValid != nil && !*bm.IsValid
		if invalid != nil {
			dead = invalid[bm.ID]
		}
		if dead {
			skipped++
			continue
		}
		eligible = append(eligible, bm)
	}
	if skipped > 0 {
		reporter.Message(ctx, a2a.MessageInfo,
			fmt.Sprintf("skipping %d invalid bookmarks", skipped), nil)
	}

	total := len(eligible)
	reporter.Progress(ctx, 0, total, fmt.Sprintf("enriching %d bookmarks", total))

	var (
		mu        sync.Mutex
		processed int
		outcomes  = make([]a2a.EnrichmentOutcome, total)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for idx, bm := range eligible {
		idx, bm := idx, bm
		g.Go(func() error {
			if err := a.limiter.Wait(gctx); err != nil {
				return err
			}

			outcome := a2a.EnrichmentOutcome{BookmarkID: bm.ID, URL: bm.URL}
			enrichment, err := a.provider.Enrich(gctx, ai.Input{
				URL:         bm.URL,
				Title:       bm.Title,
				Description: bm.Description,
				Categories:  a.categories,
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.log.Warn("enrichment failed", "bookmark", bm.ID, "error", err.Error())
				outcome.Error = err.Error()
			} else {
				outcome.Enriched = true
				outcome.Category = enrichment.Category
				outcome.Tags = enrichment.Tags
				outcome.Summary = enrichment.Summary
				outcome.Keywords = enrichment.Keywords
			}

			mu.Lock()
			outcomes[idx] = outcome
			processed++
			done := processed
			mu.Unlock()

			if done%progressEvery == 0 || done == total {
				reporter.Progress(gctx, done, total,
					fmt.Sprintf("enriched %d/%d bookmarks", done, total))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return agent.Failed(err)
	}

	result := a2a.EnrichmentResult{EnrichmentResults: outcomes}
	var updates []store.EnrichmentUpdate
	for _, outcome := range outcomes {
		if !outcome.Enriched {
			result.FailedCount++
			continue
		}
		result.EnrichedCount++
		updates = append(updates, store.EnrichmentUpdate{
			BookmarkID: outcome.BookmarkID,
			AITags:     outcome.Tags,
			AISummary:  outcome.Summary,
			Data: map[string]any{
				"category": outcome.Category,
				"keywords": outcome.Keywords,
			},
		})
	}
	if result.EnrichmentResults == nil {
		result.EnrichmentResults = []a2a.EnrichmentOutcome{}
	}

	if err := a.store.ApplyEnrichment(ctx, updates); err != nil {
		a.log.Warn("enrichment batch write failed", "task", task.ID, "error", err.Error())
		reporter.Message(ctx, a2a.MessageWarning,
			fmt.Sprintf("enrichment results not persisted: %v", err), nil)
	}

	reporter.Progress(ctx, total, total,
		fmt.Sprintf("enrichment complete: %d enriched, %d failed",
			result.EnrichedCount, result.FailedCount))

	return agent.Completed(agent.ArtifactSpec{Type: a2a.ArtifactEnrichmentResult, Data: result})
}
