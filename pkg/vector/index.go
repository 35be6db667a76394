// Package vector stores bookmark embeddings in an embedded chromem-go
// index with optional file persistence. Vectors arrive pre-computed
// from the embedder; the index never calls an embedding model itself.
package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/logger"
)

const collectionName = "bookmarks"

// Result is one semantic search hit.
type Result struct {
	BookmarkID string            `json:"bookmarkId"`
	Score      float32           `json:"score"`
	Content    string            `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Index is the bookmark vector store.
type Index struct {
	mu          sync.Mutex
	db          *chromem.DB
	collection  *chromem.Collection
	persistPath string
	compress    bool
}

// NewIndex opens the index, loading a persisted database when one
// exists at the configured path.
func NewIndex(cfg *config.VectorConfig) (*Index, error) {
	log := logger.GetLogger()

	db := chromem.NewDB()
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("create vector directory: %w", err)
		}
		// Export writes a single gob file; ImportFromFile is its
		// counterpart and handles the compressed variant too.
		dbPath := dbFilePath(cfg.PersistPath, cfg.Compress)
		if _, err := os.Stat(dbPath); err == nil {
			if err := db.ImportFromFile(dbPath, ""); err != nil {
				log.Warn("failed to load vector database, starting empty",
					"path", dbPath, "error", err.Error())
				db = chromem.NewDB()
			}
		}
	}

	// Vectors are pre-computed; the embedding hook must never fire.
	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("vectors must be pre-computed")
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	return &Index{
		db:          db,
		collection:  col,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
	}, nil
}

// Upsert stores a bookmark vector. Metadata must include user_id so
// searches can be scoped per user.
func (i *Index) Upsert(ctx context.Context, bookmarkID string, vector []float32, content string, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	doc := chromem.Document{
		ID:        bookmarkID,
		Content:   content,
		Metadata:  metadata,
		Embedding: vector,
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("upsert vector %s: %w", bookmarkID, err)
	}
	return i.persistLocked()
}

// Search returns the topK most similar bookmarks for the user. topK is
// clamped to the collection size; an empty index returns no results.
func (i *Index) Search(ctx context.Context, userID string, vector []float32, topK int) ([]Result, error) {
	i.mu.Lock()
	count := i.collection.Count()
	i.mu.Unlock()

	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}
	if topK < 1 {
		topK = 1
	}

	where := map[string]string{"user_id": userID}
	hits, err := i.collection.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			BookmarkID: hit.ID,
			Score:      hit.Similarity,
			Content:    hit.Content,
			Metadata:   hit.Metadata,
		})
	}
	return results, nil
}

// Delete removes a bookmark's vector. Deleting an absent id is a no-op.
func (i *Index) Delete(ctx context.Context, bookmarkID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.collection.Delete(ctx, nil, nil, bookmarkID); err != nil {
		return fmt.Errorf("delete vector %s: %w", bookmarkID, err)
	}
	return i.persistLocked()
}

// Count returns the number of stored vectors.
func (i *Index) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.collection.Count()
}

func (i *Index) persistLocked() error {
	if i.persistPath == "" {
		return nil
	}
	dbPath := dbFilePath(i.persistPath, i.compress)
	if err := i.db.Export(dbPath, i.compress, ""); err != nil {
		return fmt.Errorf("persist vector database: %w", err)
	}
	return nil
}

func dbFilePath(dir string, compress bool) string {
	name := "vectors.gob"
	if compress {
		name += ".gz"
	}
	return filepath.Join(dir, name)
}
