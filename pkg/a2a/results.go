package a2a

// Artifact type names form the wire contract between pipeline stages.
// Each stage produces exactly one artifact whose type matches its
// declared output capability.
const (
	ArtifactImportResult         = "bookmark_import_result"
	ArtifactValidationResult     = "bookmark_validation_result"
	ArtifactEnrichmentResult     = "bookmark_enrichment_result"
	ArtifactCategorizationResult = "bookmark_categorization_result"
	ArtifactEmbeddingResult      = "bookmark_embedding_result"

	MimeJSON = "application/json"
)

// ImportResult is the payload of a bookmark_import_result artifact.
type ImportResult struct {
	BookmarkIDs    []string `json:"bookmarkIds"`
	TotalBookmarks int      `json:"totalBookmarks"`
	InsertedCount  int      `json:"insertedCount"`
	DuplicateCount int      `json:"duplicateCount"`
	ImportID       string   `json:"importId"`
	DurationMs     int64    `json:"duration"`
}

// ValidationOutcome records a single bookmark's reachability check.
type ValidationOutcome struct {
	BookmarkID string         `json:"bookmarkId"`
	URL        string         `json:"url"`
	Validated  bool           `json:"validated"`
	StatusCode int            `json:"statusCode,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ValidationResult is the payload of a bookmark_validation_result artifact.
type ValidationResult struct {
	ValidatedCount    int                 `json:"validatedCount"`
	FailedCount       int                 `json:"failedCount"`
	ValidationResults []ValidationOutcome `json:"validationResults"`
}

// EnrichmentOutcome records AI enrichment of a single bookmark.
type EnrichmentOutcome struct {
	BookmarkID string   `json:"bookmarkId"`
	URL        string   `json:"url"`
	Enriched   bool     `json:"enriched"`
	Category   string   `json:"category,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// EnrichmentResult is the payload of a bookmark_enrichment_result artifact.
type EnrichmentResult struct {
	EnrichedCount     int                 `json:"enrichedCount"`
	FailedCount       int                 `json:"failedCount"`
	EnrichmentResults []EnrichmentOutcome `json:"enrichmentResults"`
}

// CategorizationOutcome records the category assignment of a bookmark.
type CategorizationOutcome struct {
	BookmarkID   string  `json:"bookmarkId"`
	CategoryID   string  `json:"categoryId"`
	CategoryName string  `json:"categoryName"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

// CategorizationResult is the payload of a bookmark_categorization_result
// artifact.
type CategorizationResult struct {
	CategorizedCount      int                     `json:"categorizedCount"`
	FailedCount           int                     `json:"failedCount"`
	CategorizationResults []CategorizationOutcome `json:"categorizationResults"`
	CategoryDistribution  map[string]int          `json:"categoryDistribution"`
}

// EmbeddingOutcome records the embedding computation for a bookmark.
type EmbeddingOutcome struct {
	BookmarkID       string `json:"bookmarkId"`
	Success          bool   `json:"success"`
	VectorDimensions int    `json:"vectorDimensions,omitempty"`
	Error            string `json:"error,omitempty"`
}

// EmbeddingResult is the payload of a bookmark_embedding_result artifact.
// VectorDimensions is the declared provider dimension, not a measured
// value; it is reported even when zero bookmarks were processed.
type EmbeddingResult struct {
	EmbeddedCount    int                `json:"embeddedCount"`
	FailedCount      int                `json:"failedCount"`
	EmbeddingResults []EmbeddingOutcome `json:"embeddingResults"`
	VectorDimensions int                `json:"vectorDimensions"`
}
