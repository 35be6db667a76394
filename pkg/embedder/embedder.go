// Package embedder computes text embeddings for semantic bookmark
// search. The OpenAI implementation talks to any compatible
// /embeddings endpoint; the stub produces deterministic vectors for
// tests and keyless deployments.
package embedder

import (
	"context"

	"github.com/halcasteel/bookmark-pipeline/pkg/config"
)

// Embedder turns texts into fixed-dimension vectors.
type Embedder interface {
	Name() string
	Model() string
	// Dimension is the declared output dimension of the model.
	Dimension() int
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// New builds the configured embedder implementation.
func New(cfg *config.EmbedderConfig) (Embedder, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg), nil
	default:
		return NewStubEmbedder(cfg.Dimension), nil
	}
}
