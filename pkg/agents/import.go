package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
	"github.com/halcasteel/bookmark-pipeline/pkg/agent"
	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/logger"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
)

// AgentTypeImport is the import stage identifier.
const AgentTypeImport = "import"

// ImportAgent parses an uploaded bookmark file and upserts its entries
// in chunked transactions. A failed chunk rolls back alone; the import
// carries on with the remaining chunks.
type ImportAgent struct {
	store     *store.Store
	chunkSize int
	log       *slog.Logger
}

// NewImportAgent creates the import stage.
func NewImportAgent(s *store.Store, cfg *config.PipelineConfig) *ImportAgent {
	return &ImportAgent{
		store:     s,
		chunkSize: cfg.ImportChunkSize,
		log:       logger.GetLogger().With("agent", AgentTypeImport),
	}
}

func (a *ImportAgent) AgentType() string { return AgentTypeImport }

func (a *ImportAgent) Card() *a2a.AgentCard {
	return a2a.NewAgentCard(AgentTypeImport, "1.0.0",
		"Parses bookmark exports (Netscape HTML or JSON) and stores deduplicated bookmarks").
		WithInput("fileContent", "string", true, "Raw bookmark file content").
		WithInput("filename", "string", false, "Original upload filename").
		WithOutput(a2a.ArtifactImportResult, "Import counts and inserted bookmark ids")
}

func (a *ImportAgent) Validate(task *a2a.Task) error {
	if contextString(task, "fileContent") == "" {
		return fmt.Errorf("fileContent is required")
	}
	return nil
}

func (a *ImportAgent) Execute(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
	start := time.Now()

	reporter.Progress(ctx, 10, 100, "parsing bookmark file")
	parsed, err := ParseBookmarkFile(contextString(task, "fileContent"))
	if err != nil {
		return agent.Failed(fmt.Errorf("parse bookmark file: %w", err))
	}
	reporter.Progress(ctx, 20, 100, fmt.Sprintf("parsed %d bookmarks", len(parsed)))

	importID := "imp_" + uuid.New().String()
	record := &store.ImportRecord{
		ID:       importID,
		UserID:   task.UserID,
		Filename: contextString(task, "filename"),
		Status:   "running",
	}
	if err := a.store.CreateImportRecord(ctx, record); err != nil {
		return agent.Failed(err)
	}

	result := a2a.ImportResult{
		BookmarkIDs:    []string{},
		TotalBookmarks: len(parsed),
		ImportID:       importID,
	}

	for offset := 0; offset < len(parsed); offset += a.chunkSize {
		if err := ctx.Err(); err != nil {
			return agent.Failed(err)
		}
		end := offset + a.chunkSize
		if end > len(parsed) {
			end = len(parsed)
		}

		chunk := make([]*store.Bookmark, 0, end-offset)
		for _, bm := range parsed[offset:end] {
			chunk = append(chunk, &store.Bookmark{
				URL:         bm.URL,
				Title:       bm.Title,
				Description: bm.Description,
				FolderPath:  bm.FolderPath,
				FaviconURL:  bm.FaviconURL,
				Tags:        bm.Tags,
			})
		}

		chunkResult, err := a.store.UpsertBookmarkChunk(ctx, task.UserID, importID, chunk)
		if err != nil {
			// The chunk rolled back; the rest of the file still imports.
			a.log.Warn("bookmark chunk failed", "task", task.ID,
				"offset", offset, "error", err.Error())
			reporter.Message(ctx, a2a.MessageWarning,
				fmt.Sprintf("chunk at offset %d failed: %v", offset, err), nil)
			continue
		}

		result.BookmarkIDs = append(result.BookmarkIDs, chunkResult.BookmarkIDs...)
		result.InsertedCount += chunkResult.Inserted
		result.DuplicateCount += chunkResult.Duplicates

		// Parsing owns 0-20, storage owns 20-95.
		pct := 20
		if len(parsed) > 0 {
			pct = 20 + end*75/len(parsed)
		}
		reporter.Progress(ctx, pct, 100,
			fmt.Sprintf("imported %d/%d bookmarks", end, len(parsed)))
	}

	result.DurationMs = time.Since(start).Milliseconds()
	if err := a.store.CompleteImportRecord(ctx, importID, "completed",
		result.TotalBookmarks, result.InsertedCount, result.DuplicateCount); err != nil {
		a.log.Warn("import record finalize failed", "import", importID, "error", err.Error())
	}

	reporter.Progress(ctx, 100, 100,
		fmt.Sprintf("import complete: %d inserted, %d duplicates",
			result.InsertedCount, result.DuplicateCount))

	return agent.Completed(agent.ArtifactSpec{Type: a2a.ArtifactImportResult, Data: result})
}
