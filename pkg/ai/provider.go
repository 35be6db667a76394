// Package ai abstracts the language-model capability used by the
// enrichment stage: categorize, tag, summarize, and extract keywords
// for one bookmark.
package ai

import (
	"context"

	"github.com/halcasteel/bookmark-pipeline/pkg/config"
)

// Input describes one bookmark to enrich. Categories is the closed set
// the provider must choose from.
type Input struct {
	URL         string
	Title       string
	Description string
	Categories  []string
}

// Enrichment is the provider's answer for one bookmark.
type Enrichment struct {
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Provider produces enrichment for bookmarks.
type Provider interface {
	Name() string
	Enrich(ctx context.Context, input Input) (*Enrichment, error)
}

// NewProvider builds the configured provider implementation.
func NewProvider(cfg *config.AIConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	default:
		return NewStubProvider(), nil
	}
}
