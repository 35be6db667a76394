package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Bookmark is the persisted bookmark row.
type Bookmark struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	URL              string         `json:"url"`
	URLHash          string         `json:"urlHash"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	FolderPath       string         `json:"folderPath,omitempty"`
	FaviconURL       string         `json:"faviconUrl,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	ImportID         string         `json:"importId,omitempty"`
	IsValid          *bool          `json:"isValid,omitempty"`
	LastValidatedAt  *time.Time     `json:"lastValidatedAt,omitempty"`
	ValidationErrors []string       `json:"validationErrors,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	AITags           []string       `json:"aiTags,omitempty"`
	AISummary        string         `json:"aiSummary,omitempty"`
	EnrichmentData   map[string]any `json:"enrichmentData,omitempty"`
	CategoryID       string         `json:"categoryId,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Category is a per-user bookmark category.
type Category struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

// CategoryRule is a user-defined categorization override. RuleType is
// "url_pattern" or "tag"; rules are evaluated in priority order before
// heuristic scoring.
type CategoryRule struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	RuleType   string    `json:"ruleType"`
	Pattern    string    `json:"pattern"`
	CategoryID string    `json:"categoryId"`
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ImportRecord tracks one import run.
type ImportRecord struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Filename       string     `json:"filename,omitempty"`
	TotalBookmarks int        `json:"totalBookmarks"`
	InsertedCount  int        `json:"insertedCount"`
	DuplicateCount int        `json:"duplicateCount"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// HashURL returns the SHA-256 hex digest used for URL identity.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// UpsertChunkResult reports the outcome of one bookmark chunk write.
type UpsertChunkResult struct {
	BookmarkIDs []string
	Inserted    int
	Duplicates  int
}

// UpsertBookmarkChunk writes one chunk of parsed bookmarks in a single
// transaction. A URL already present for the user counts as a duplicate
// and only refreshes the title. Failure rolls back the whole chunk.
func (s *Store) UpsertBookmarkChunk(ctx context.Context, userID, importID string, items []*Bookmark) (*UpsertChunkResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin chunk: %w", err)
	}
	defer tx.Rollback()

	result := &UpsertChunkResult{}
	now := time.Now().UTC()
	for _, item := range items {
		var existingID string
		err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT id FROM bookmarks WHERE user_id = ? AND url = ?`),
			userID, item.URL).Scan(&existingID)
		switch {
		case err == sql.ErrNoRows:
			id := uuid.New().String()
			tags, err := json.Marshal(orEmptySlice(item.Tags))
			if err != nil {
				return nil, fmt.Errorf("marshal tags: %w", err)
			}
			_, err = tx.ExecContext(ctx, s.rebind(`
				INSERT INTO bookmarks (id, user_id, url, url_hash, title, description,
					folder_path, favicon_url, tags, import_id, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				id, userID, item.URL, HashURL(item.URL), item.Title, item.Description,
				item.FolderPath, item.FaviconURL, string(tags), importID, now, now)
			if err != nil {
				return nil, fmt.Errorf("insert bookmark %s: %w", item.URL, err)
			}
			result.BookmarkIDs = append(result.BookmarkIDs, id)
			result.Inserted++
		case err != nil:
			return nil, fmt.Errorf("lookup bookmark %s: %w", item.URL, err)
		default:
			_, err = tx.ExecContext(ctx, s.rebind(
				`UPDATE bookmarks SET title = ?, updated_at = ? WHERE id = ?`),
				item.Title, now, existingID)
			if err != nil {
				return nil, fmt.Errorf("refresh bookmark %s: %w", item.URL, err)
			}
			result.BookmarkIDs = append(result.BookmarkIDs, existingID)
			result.Duplicates++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit chunk: %w", err)
	}
	return result, nil
}

// GetBookmark loads a bookmark by id.
func (s *Store) GetBookmark(ctx context.Context, id string) (*Bookmark, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(bookmarkSelect+` WHERE id = ?`), id)
	return scanBookmark(row)
}

// ListBookmarksByIDs loads bookmarks preserving store order by id list
// membership (result order follows creation time).
func (s *Store) ListBookmarksByIDs(ctx context.Context, ids []string) ([]*Bookmark, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		bookmarkSelect+` WHERE id IN (`+placeholders+`) ORDER BY created_at ASC`), args...)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()
	return collectBookmarks(rows)
}

// ListBookmarksByImport returns the bookmarks inserted by an import run.
func (s *Store) ListBookmarksByImport(ctx context.Context, importID string) ([]*Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		bookmarkSelect+` WHERE import_id = ? ORDER BY created_at ASC`), importID)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks by import: %w", err)
	}
	defer rows.Close()
	return collectBookmarks(rows)
}

// ValidationUpdate carries the reachability outcome for one bookmark.
type ValidationUpdate struct {
	BookmarkID string
	Valid      bool
	Errors     []string
	Metadata   map[string]any
}

// ApplyValidation writes a batch of validation outcomes. Metadata is
// shallow-merged into the existing bookmark metadata.
func (s *Store) ApplyValidation(ctx context.Context, updates []ValidationUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin validation update: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, u := range updates {
		var rawMeta string
		err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT metadata FROM bookmarks WHERE id = ?`), u.BookmarkID).Scan(&rawMeta)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("load bookmark metadata: %w", err)
		}
		merged := make(map[string]any)
		if err := json.Unmarshal([]byte(rawMeta), &merged); err != nil {
			return fmt.Errorf("decode bookmark metadata: %w", err)
		}
		for k, v := range u.Metadata {
			merged[k] = v
		}
		metadata, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal bookmark metadata: %w", err)
		}
		validationErrors, err := json.Marshal(orEmptySlice(u.Errors))
		if err != nil {
			return fmt.Errorf("marshal validation errors: %w", err)
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE bookmarks SET is_valid = ?, last_validated_at = ?,
				validation_errors = ?, metadata = ?, updated_at = ?
			WHERE id = ?`),
			u.Valid, now, string(validationErrors), string(metadata), now, u.BookmarkID)
		if err != nil {
			return fmt.Errorf("update validation: %w", err)
		}
	}
	return tx.Commit()
}

// EnrichmentUpdate carries AI-derived fields for one bookmark.
type EnrichmentUpdate struct {
	BookmarkID string
	AITags     []string
	AISummary  string
	Data       map[string]any
}

// ApplyEnrichment writes a batch of enrichment outcomes.
func (s *Store) ApplyEnrichment(ctx context.Context, updates []EnrichmentUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrichment update: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, u := range updates {
		aiTags, err := json.Marshal(orEmptySlice(u.AITags))
		if err != nil {
			return fmt.Errorf("marshal ai tags: %w", err)
		}
		data, err := json.Marshal(orEmpty(u.Data))
		if err != nil {
			return fmt.Errorf("marshal enrichment data: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE bookmarks SET ai_tags = ?, ai_summary = ?, enrichment_data = ?, updated_at = ?
			WHERE id = ?`),
			string(aiTags), u.AISummary, string(data), now, u.BookmarkID)
		if err != nil {
			return fmt.Errorf("update enrichment: %w", err)
		}
	}
	return tx.Commit()
}

// AssignCategory sets a bookmark's category.
func (s *Store) AssignCategory(ctx context.Context, bookmarkID, categoryID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE bookmarks SET category_id = ?, updated_at = ? WHERE id = ?`),
		categoryID, time.Now().UTC(), bookmarkID)
	if err != nil {
		return fmt.Errorf("assign category: %w", err)
	}
	return nil
}

// categoryPalette provides deterministic colors for created categories.
var categoryPalette = []string{
	"#3b82f6", "#8b5cf6", "#06b6d4", "#10b981", "#f59e0b",
	"#ef4444", "#ec4899", "#6366f1", "#84cc16", "#64748b", "#a855f7",
}

func categoryColor(name string) string {
	sum := sha256.Sum256([]byte(name))
	return categoryPalette[int(sum[0])%len(categoryPalette)]
}

// EnsureDefaultCategories seeds the default taxonomy for a user. Names
// already present are left untouched.
func (s *Store) EnsureDefaultCategories(ctx context.Context, userID string, names []string) error {
	for _, name := range names {
		if _, err := s.FindOrCreateCategory(ctx, userID, name); err != nil {
			return err
		}
	}
	return nil
}

// FindOrCreateCategory returns the user's category with the given name,
// creating it with a deterministic color when absent.
func (s *Store) FindOrCreateCategory(ctx context.Context, userID, name string) (*Category, error) {
	cat := &Category{}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, name, color, created_at FROM categories
		WHERE user_id = ? AND name = ?`), userID, name).
		Scan(&cat.ID, &cat.UserID, &cat.Name, &cat.Color, &cat.CreatedAt)
	if err == nil {
		return cat, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup category: %w", err)
	}

	cat = &Category{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Color:     categoryColor(name),
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO categories (id, user_id, name, color, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		cat.ID, cat.UserID, cat.Name, cat.Color, cat.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a create race; the row exists now.
			return s.FindOrCreateCategory(ctx, userID, name)
		}
		return nil, fmt.Errorf("create category: %w", err)
	}
	return cat, nil
}

// ListCategories returns the user's categories ordered by name.
func (s *Store) ListCategories(ctx context.Context, userID string) ([]*Category, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, name, color, created_at FROM categories
		WHERE user_id = ? ORDER BY name ASC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []*Category
	for rows.Next() {
		cat := &Category{}
		if err := rows.Scan(&cat.ID, &cat.UserID, &cat.Name, &cat.Color, &cat.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, cat)
	}
	return categories, rows.Err()
}

// CreateCategoryRule stores a user categorization rule.
func (s *Store) CreateCategoryRule(ctx context.Context, rule *CategoryRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO category_rules (id, user_id, rule_type, pattern, category_id, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rule.ID, rule.UserID, rule.RuleType, rule.Pattern, rule.CategoryID,
		rule.Priority, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("create category rule: %w", err)
	}
	return nil
}

// ListCategoryRules returns the user's rules in priority order.
func (s *Store) ListCategoryRules(ctx context.Context, userID string) ([]*CategoryRule, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, rule_type, pattern, category_id, priority, created_at
		FROM category_rules WHERE user_id = ? ORDER BY priority DESC, created_at ASC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list category rules: %w", err)
	}
	defer rows.Close()

	var rules []*CategoryRule
	for rows.Next() {
		rule := &CategoryRule{}
		err := rows.Scan(&rule.ID, &rule.UserID, &rule.RuleType, &rule.Pattern,
			&rule.CategoryID, &rule.Priority, &rule.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan category rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// CreateImportRecord opens an import history entry.
func (s *Store) CreateImportRecord(ctx context.Context, rec *ImportRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO import_history (id, user_id, filename, total_bookmarks,
			inserted_count, duplicate_count, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.UserID, rec.Filename, rec.TotalBookmarks,
		rec.InsertedCount, rec.DuplicateCount, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create import record: %w", err)
	}
	return nil
}

// CompleteImportRecord finalizes an import history entry with counts.
func (s *Store) CompleteImportRecord(ctx context.Context, importID, status string, total, inserted, duplicates int) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE import_history SET status = ?, total_bookmarks = ?,
			inserted_count = ?, duplicate_count = ?, completed_at = ?
		WHERE id = ?`),
		status, total, inserted, duplicates, time.Now().UTC(), importID)
	if err != nil {
		return fmt.Errorf("complete import record: %w", err)
	}
	return nil
}

// MarkEmbedded records that a bookmark has a current embedding.
func (s *Store) MarkEmbedded(ctx context.Context, bookmarkID, userID, model string, dimension int) error {
	now := time.Now().UTC()
	if s.dialect == "postgres" {
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO bookmark_embeddings (bookmark_id, user_id, model, dimension, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (bookmark_id) DO UPDATE SET model = EXCLUDED.model,
				dimension = EXCLUDED.dimension, created_at = EXCLUDED.created_at`),
			bookmarkID, userID, model, dimension, now)
		if err != nil {
			return fmt.Errorf("mark embedded: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO bookmark_embeddings (bookmark_id, user_id, model, dimension, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		bookmarkID, userID, model, dimension, now)
	if err != nil {
		return fmt.Errorf("mark embedded: %w", err)
	}
	return nil
}

// FilterNeedingEmbedding returns the subset of ids without a stored
// embedding record.
func (s *Store) FilterNeedingEmbedding(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT bookmark_id FROM bookmark_embeddings WHERE bookmark_id IN (`+placeholders+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("filter embedded: %w", err)
	}
	defer rows.Close()

	embedded := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan embedded id: %w", err)
		}
		embedded[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var needing []string
	for _, id := range ids {
		if !embedded[id] {
			needing = append(needing, id)
		}
	}
	return needing, nil
}

const bookmarkSelect = `SELECT id, user_id, url, url_hash, title, description,
	folder_path, favicon_url, tags, import_id, is_valid, last_validated_at,
	validation_errors, metadata, ai_tags, ai_summary, enrichment_data,
	category_id, created_at, updated_at FROM bookmarks`

func scanBookmark(row rowScanner) (*Bookmark, error) {
	var (
		b                Bookmark
		tags             string
		isValid          sql.NullBool
		lastValidated    sql.NullTime
		validationErrors string
		metadata         string
		aiTags           string
		enrichmentData   string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.URL, &b.URLHash, &b.Title, &b.Description,
		&b.FolderPath, &b.FaviconURL, &tags, &b.ImportID, &isValid, &lastValidated,
		&validationErrors, &metadata, &aiTags, &b.AISummary, &enrichmentData,
		&b.CategoryID, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bookmark: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan bookmark: %w", err)
	}
	if isValid.Valid {
		b.IsValid = &isValid.Bool
	}
	if lastValidated.Valid {
		t := lastValidated.Time
		b.LastValidatedAt = &t
	}
	if err := json.Unmarshal([]byte(tags), &b.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(validationErrors), &b.ValidationErrors); err != nil {
		return nil, fmt.Errorf("decode validation errors: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &b.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(aiTags), &b.AITags); err != nil {
		return nil, fmt.Errorf("decode ai tags: %w", err)
	}
	if err := json.Unmarshal([]byte(enrichmentData), &b.EnrichmentData); err != nil {
		return nil, fmt.Errorf("decode enrichment data: %w", err)
	}
	return &b, nil
}

func collectBookmarks(rows *sql.Rows) ([]*Bookmark, error) {
	var bookmarks []*Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		bookmarks = append(bookmarks, b)
	}
	return bookmarks, rows.Err()
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
