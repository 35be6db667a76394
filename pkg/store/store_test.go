package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTask(t *testing.T, s *Store) *a2a.Task {
	t.Helper()
	task := a2a.NewTask("bookmark_import", "full_import",
		[]string{"import", "validation", "enrichment", "categorization", "embedding"},
		"user-1", map[string]any{"fileContent": "<html></html>"})
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func TestTaskCreateAndLoad(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	loaded, err := s.LoadTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, loaded.ID)
	assert.Equal(t, a2a.TaskPending, loaded.Status)
	assert.Equal(t, 5, loaded.Workflow.TotalSteps)
	assert.Equal(t, "full_import", loaded.Workflow.Type)
	assert.Equal(t, "<html></html>", loaded.Context["fileContent"])
}

func TestLoadTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadTask(context.Background(), "task_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)
	ctx := context.Background()

	agent := "import"
	updated, err := s.Transition(ctx, task.ID, a2a.TaskPending, a2a.TaskRunning,
		TaskPatch{CurrentAgent: &agent})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskRunning, updated.Status)
	assert.Equal(t, "import", updated.Workflow.CurrentAgent)

	// The pending->running edge is gone; a second identical CAS loses.
	_, err = s.Transition(ctx, task.ID, a2a.TaskPending, a2a.TaskRunning, TaskPatch{})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTransitionInvalidEdge(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	_, err := s.Transition(context.Background(), task.ID, a2a.TaskPending, a2a.TaskCompleted, TaskPatch{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionPatchMergesContext(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)
	ctx := context.Background()

	step := 1
	_, err := s.Transition(ctx, task.ID, a2a.TaskPending, a2a.TaskRunning, TaskPatch{
		CurrentStep: &step,
		Context:     map[string]any{"importId": "imp-1"},
	})
	require.NoError(t, err)

	loaded, err := s.LoadTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "imp-1", loaded.Context["importId"])
	assert.Equal(t, "<html></html>", loaded.Context["fileContent"])
	assert.Equal(t, 1, loaded.Workflow.CurrentStep)
}

func TestAppendContextFrozenWhenTerminal(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)
	ctx := context.Background()

	require.NoError(t, s.AppendContext(ctx, task.ID, map[string]any{"k": "v"}))

	_, err := s.Transition(ctx, task.ID, a2a.TaskPending, a2a.TaskCancelled, TaskPatch{})
	require.NoError(t, err)

	err = s.AppendContext(ctx, task.ID, map[string]any{"late": true})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestResetForReplay(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)
	ctx := context.Background()

	_, err := s.Transition(ctx, task.ID, a2a.TaskPending, a2a.TaskRunning, TaskPatch{})
	require.NoError(t, err)
	msg := "validation blew up"
	_, err = s.Transition(ctx, task.ID, a2a.TaskRunning, a2a.TaskFailed,
		TaskPatch{ErrorMessage: &msg})
	require.NoError(t, err)

	replayed, err := s.ResetForReplay(ctx, task.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskPending, replayed.Status)
	assert.Equal(t, 1, replayed.Workflow.CurrentStep)
	assert.Empty(t, replayed.ErrorMessage)

	// Only failed tasks replay.
	_, err = s.ResetForReplay(ctx, task.ID, 0)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1 := newTestTask(t, s)
	t2 := a2a.NewTask("bookmark_import", "import_only", []string{"import"}, "user-2", nil)
	require.NoError(t, s.CreateTask(ctx, t2))

	byUser, err := s.ListTasks(ctx, TaskFilter{UserID: "user-2"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, t2.ID, byUser[0].ID)

	byWorkflow, err := s.ListTasks(ctx, TaskFilter{WorkflowType: "full_import"})
	require.NoError(t, err)
	require.Len(t, byWorkflow, 1)
	assert.Equal(t, t1.ID, byWorkflow[0].ID)

	all, err := s.ListTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestArtifactWriteOnce(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)
	ctx := context.Background()

	payload := a2a.ImportResult{TotalBookmarks: 3, InsertedCount: 2, DuplicateCount: 1, ImportID: "imp-1"}
	art, err := s.PutArtifact(ctx, task.ID, "import", a2a.ArtifactImportResult, a2a.MimeJSON, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, art.Checksum)
	assert.True(t, art.Immutable)

	_, err = s.PutArtifact(ctx, task.ID, "import", a2a.ArtifactImportResult, a2a.MimeJSON, payload)
	assert.ErrorIs(t, err, ErrArtifactExists)

	loaded, err := s.GetArtifact(ctx, task.ID, "import", a2a.ArtifactImportResult)
	require.NoError(t, err)
	var decoded a2a.ImportResult
	require.NoError(t, loaded.Decode(&decoded))
	assert.Equal(t, 2, decoded.InsertedCount)
	assert.Equal(t, art.Checksum, loaded.Checksum)
}

func TestArtifactListOrdered(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)
	ctx := context.Background()

	_, err := s.PutArtifact(ctx, task.ID, "import", a2a.ArtifactImportResult, a2a.MimeJSON, a2a.ImportResult{})
	require.NoError(t, err)
	_, err = s.PutArtifact(ctx, task.ID, "validation", a2a.ArtifactValidationResult, a2a.MimeJSON, a2a.ValidationResult{})
	require.NoError(t, err)

	artifacts, err := s.ListArtifacts(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, a2a.ArtifactImportResult, artifacts[0].Type)
	assert.Equal(t, a2a.ArtifactValidationResult, artifacts[1].Type)

	n, err := s.CountArtifacts(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMessagesSequencedPerTask(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := a2a.NewProgressMessage(task.ID, "import", i+1, 3, "importing")
		require.NoError(t, s.AppendMessage(ctx, msg))
		assert.Equal(t, int64(i+1), msg.Seq)
	}

	all, err := s.ListMessages(ctx, task.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].Seq)
	assert.Equal(t, int64(3), all[2].Seq)

	tail, err := s.ListMessages(ctx, task.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Seq)
}

func TestUpsertBookmarkChunkDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertBookmarkChunk(ctx, "user-1", "imp-1", []*Bookmark{
		{URL: "https://go.dev", Title: "Go"},
		{URL: "https://pkg.go.dev", Title: "Packages"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, 0, first.Duplicates)
	require.Len(t, first.BookmarkIDs, 2)

	// Re-importing the same URL refreshes the title and reuses the id.
	second, err := s.UpsertBookmarkChunk(ctx, "user-1", "imp-2", []*Bookmark{
		{URL: "https://go.dev", Title: "The Go Programming Language"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, first.BookmarkIDs[0], second.BookmarkIDs[0])

	b, err := s.GetBookmark(ctx, first.BookmarkIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "The Go Programming Language", b.Title)
	assert.Equal(t, "imp-1", b.ImportID)
	assert.Equal(t, HashURL("https://go.dev"), b.URLHash)
}

func TestUpsertBookmarkScopedPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBookmarkChunk(ctx, "user-1", "imp-1", []*Bookmark{{URL: "https://go.dev", Title: "Go"}})
	require.NoError(t, err)
	res, err := s.UpsertBookmarkChunk(ctx, "user-2", "imp-2", []*Bookmark{{URL: "https://go.dev", Title: "Go"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
}

func TestApplyValidationMergesMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.UpsertBookmarkChunk(ctx, "user-1", "imp-1", []*Bookmark{{URL: "https://go.dev", Title: "Go"}})
	require.NoError(t, err)
	id := res.BookmarkIDs[0]

	err = s.ApplyValidation(ctx, []ValidationUpdate{{
		BookmarkID: id,
		Valid:      true,
		Metadata:   map[string]any{"description": "Go language site"},
	}})
	require.NoError(t, err)

	err = s.ApplyValidation(ctx, []ValidationUpdate{{
		BookmarkID: id,
		Valid:      false,
		Errors:     []string{"TIMEOUT"},
		Metadata:   map[string]any{"statusCode": 0},
	}})
	require.NoError(t, err)

	b, err := s.GetBookmark(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, b.IsValid)
	assert.False(t, *b.IsValid)
	assert.Equal(t, []string{"TIMEOUT"}, b.ValidationErrors)
	assert.Equal(t, "Go language site", b.Metadata["description"])
	assert.NotNil(t, b.LastValidatedAt)
}

func TestApplyEnrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.UpsertBookmarkChunk(ctx, "user-1", "imp-1", []*Bookmark{{URL: "https://go.dev", Title: "Go"}})
	require.NoError(t, err)
	id := res.BookmarkIDs[0]

	err = s.ApplyEnrichment(ctx, []EnrichmentUpdate{{
		BookmarkID: id,
		AITags:     []string{"golang", "programming"},
		AISummary:  "Official Go site.",
		Data:       map[string]any{"category": "Development"},
	}})
	require.NoError(t, err)

	b, err := s.GetBookmark(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "programming"}, b.AITags)
	assert.Equal(t, "Official Go site.", b.AISummary)
	assert.Equal(t, "Development", b.EnrichmentData["category"])
}

func TestFindOrCreateCategoryIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.FindOrCreateCategory(ctx, "user-1", "Development")
	require.NoError(t, err)
	second, err := s.FindOrCreateCategory(ctx, "user-1", "Development")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Color, second.Color)
	assert.NotEmpty(t, first.Color)
}

func TestEnsureDefaultCategories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	names := []string{"Development", "AI/ML", "Other"}
	require.NoError(t, s.EnsureDefaultCategories(ctx, "user-1", names))
	require.NoError(t, s.EnsureDefaultCategories(ctx, "user-1", names))

	categories, err := s.ListCategories(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, categories, 3)
}

func TestCategoryRulesPriorityOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cat, err := s.FindOrCreateCategory(ctx, "user-1", "Development")
	require.NoError(t, err)

	require.NoError(t, s.CreateCategoryRule(ctx, &CategoryRule{
		UserID: "user-1", RuleType: "tag", Pattern: "golang", CategoryID: cat.ID, Priority: 1,
	}))
	require.NoError(t, s.CreateCategoryRule(ctx, &CategoryRule{
		UserID: "user-1", RuleType: "url_pattern", Pattern: "github.com", CategoryID: cat.ID, Priority: 10,
	}))

	rules, err := s.ListCategoryRules(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "url_pattern", rules[0].RuleType)
}

func TestFilterNeedingEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.UpsertBookmarkChunk(ctx, "user-1", "imp-1", []*Bookmark{
		{URL: "https://go.dev", Title: "Go"},
		{URL: "https://pkg.go.dev", Title: "Packages"},
	})
	require.NoError(t, err)

	needing, err := s.FilterNeedingEmbedding(ctx, res.BookmarkIDs)
	require.NoError(t, err)
	assert.Len(t, needing, 2)

	require.NoError(t, s.MarkEmbedded(ctx, res.BookmarkIDs[0], "user-1", "text-embedding-3-small", 1536))

	needing, err = s.FilterNeedingEmbedding(ctx, res.BookmarkIDs)
	require.NoError(t, err)
	require.Len(t, needing, 1)
	assert.Equal(t, res.BookmarkIDs[1], needing[0])
}

func TestImportHistoryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &ImportRecord{ID: "imp-1", UserID: "user-1", Filename: "bookmarks.html", Status: "running"}
	require.NoError(t, s.CreateImportRecord(ctx, rec))
	require.NoError(t, s.CompleteImportRecord(ctx, "imp-1", "completed", 10, 8, 2))
}

func TestSqliteDSNForeignKeys(t *testing.T) {
	assert.Equal(t, "bookmarks.db?_foreign_keys=on", sqliteDSN("bookmarks.db"))
	assert.Equal(t, "file:x?mode=memory&_foreign_keys=on", sqliteDSN("file:x?mode=memory"))
	assert.Equal(t, "file:x?_foreign_keys=off", sqliteDSN("file:x?_foreign_keys=off"))
}

func TestDeleteTaskCascades(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)
	ctx := context.Background()

	_, err := s.PutArtifact(ctx, task.ID, "import", a2a.ArtifactImportResult, a2a.MimeJSON, a2a.ImportResult{})
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, a2a.NewProgressMessage(task.ID, "import", 1, 1, "importing")))

	// Foreign keys are enforced on every pooled connection, so deleting
	// the task row takes its artifacts and messages with it.
	_, err = s.db.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = ?`), task.ID)
	require.NoError(t, err)

	n, err := s.CountArtifacts(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	msgs, err := s.ListMessages(ctx, task.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
