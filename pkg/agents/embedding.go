package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
	"github.com/halcasteel/bookmark-pipeline/pkg/agent"
	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/embedder"
	"github.com/halcasteel/bookmark-pipeline/pkg/logger"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
	"github.com/halcasteel/bookmark-pipeline/pkg/vector"
)

// AgentTypeEmbedding is the embedding stage identifier.
const AgentTypeEmbedding = "embedding"

// EmbeddingAgent computes embeddings for bookmarks that lack them and
// stores the vectors in the search index. Batches run in parallel; a
// failed batch fails its bookmarks, not the stage.
type EmbeddingAgent struct {
	store     *store.Store
	embedder  embedder.Embedder
	index     *vector.Index
	batchSize int
	parallel  int
	log       *slog.Logger
}

// NewEmbeddingAgent creates the embedding stage.
func NewEmbeddingAgent(s *store.Store, emb embedder.Embedder, idx *vector.Index, cfg *config.PipelineConfig) *EmbeddingAgent {
	return &EmbeddingAgent{
		store:     s,
		embedder:  emb,
		index:     idx,
		batchSize: cfg.EmbeddingBatchSize,
		parallel:  cfg.EmbeddingParallel,
		log:       logger.GetLogger().With("agent", AgentTypeEmbedding),
	}
}

func (a *EmbeddingAgent) AgentType() string { return AgentTypeEmbedding }

func (a *EmbeddingAgent) Card() *a2a.AgentCard {
	return a2a.NewAgentCard(AgentTypeEmbedding, "1.0.0",
		"Computes embeddings for semantic bookmark search").
		WithInput("bookmarkIds", "string[]", false, "Bookmarks to embed; defaults to the import batch").
		WithInput("importId", "string", false, "Import batch to embed when bookmarkIds is absent").
		WithInput("regenerate", "boolean", false, "Recompute embeddings that already exist").
		WithOutput(a2a.ArtifactEmbeddingResult, "Per-bookmark embedding outcomes")
}

func (a *EmbeddingAgent) Validate(task *a2a.Task) error {
	return requireTargets(task)
}

func (a *EmbeddingAgent) Execute(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
	bookmarks, err := loadTargets(ctx, a.store, task)
	if err != nil {
		return agent.Failed(err)
	}

	// Already-embedded bookmarks are skipped unless a regeneration was
	// requested.
	if !contextBool(task, "regenerate") {
		ids := make([]string, len(bookmarks))
		for i, bm := range bookmarks {
			ids[i] = bm.ID
		}
		needing, err := a.store.FilterNeedingEmbedding(ctx, ids)
		if err != nil {
			return agent.Failed(err)
		}
		keep := make(map[string]bool, len(needing))
		for _, id := range needing {
			keep[id] = true
		}
		filtered := bookmarks[:0]
		for _, bm := range bookmarks {
			if keep[bm.ID] {
				filtered = append(filtered, bm)
			}
		}
		bookmarks = filtered
	}

	total := len(bookmarks)
	reporter.Progress(ctx, 0, total, fmt.Sprintf("embedding %d bookmarks", total))

	var (
		mu        sync.Mutex
		processed int
		outcomes  []a2a.EmbeddingOutcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallel)
	for offset := 0; offset < total; offset += a.batchSize {
		end := offset + a.batchSize
		if end > total {
			end = total
		}
		batch := bookmarks[offset:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, bm := range batch {
				texts[i] = embeddingText(bm)
			}

			vectors, err := a.embedder.Embed(gctx, texts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.log.Warn("embedding batch failed", "task", task.ID, "size", len(batch), "error", err.Error())
				mu.Lock()
				for _, bm := range batch {
					outcomes = append(outcomes, a2a.EmbeddingOutcome{BookmarkID: bm.ID, Error: err.Error()})
					processed++
				}
				done := processed
				mu.Unlock()
				reporter.Progress(gctx, done, total, fmt.Sprintf("embedded %d/%d bookmarks", done, total))
				return nil
			}

			batchOutcomes := make([]a2a.EmbeddingOutcome, 0, len(batch))
			for i, bm := range batch {
				outcome := a2a.EmbeddingOutcome{BookmarkID: bm.ID}
				err := a.index.Upsert(gctx, bm.ID, vectors[i], texts[i], map[string]string{
					"user_id": bm.UserID,
					"title":   bm.Title,
					"url":     bm.URL,
				})
				if err == nil {
					err = a.store.MarkEmbedded(gctx, bm.ID, bm.UserID, a.embedder.Model(), a.embedder.Dimension())
				}
				if err != nil {
					a.log.Warn("embedding store failed", "bookmark", bm.ID, "error", err.Error())
					outcome.Error = err.Error()
				} else {
					outcome.Success = true
					outcome.VectorDimensions = a.embedder.Dimension()
				}
				batchOutcomes = append(batchOutcomes, outcome)
			}

			mu.Lock()
			outcomes = append(outcomes, batchOutcomes...)
			processed += len(batch)
			done := processed
			mu.Unlock()
			reporter.Progress(gctx, done, total, fmt.Sprintf("embedded %d/%d bookmarks", done, total))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return agent.Failed(err)
	}

	result := a2a.EmbeddingResult{
		EmbeddingResults: outcomes,
		VectorDimensions: a.embedder.Dimension(),
	}
	for _, outcome := range outcomes {
		if outcome.Success {
			result.EmbeddedCount++
		} else {
			result.FailedCount++
		}
	}
	if result.EmbeddingResults == nil {
		result.EmbeddingResults = []a2a.EmbeddingOutcome{}
	}

	reporter.Progress(ctx, total, total,
		fmt.Sprintf("embedding complete: %d embedded, %d failed",
			result.EmbeddedCount, result.FailedCount))

	return agent.Completed(agent.ArtifactSpec{Type: a2a.ArtifactEmbeddingResult, Data: result})
}

// embeddingText builds the text representation fed to the embedder.
func embeddingText(bm *store.Bookmark) string {
	parts := []string{bm.Title, bm.URL}
	if bm.AISummary != "" {
		parts = append(parts, bm.AISummary)
	} else if bm.Description != "" {
		parts = append(parts, bm.Description)
	}
	if len(bm.AITags) > 0 {
		parts = append(parts, strings.Join(bm.AITags, " "))
	} else if len(bm.Tags) > 0 {
		parts = append(parts, strings.Join(bm.Tags, " "))
	}
	return strings.Join(parts, "\n")
}
