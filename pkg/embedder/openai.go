package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/httpclient"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	host      string
	model     string
	apiKey    string
	dimension int
	client    *httpclient.Client
}

// NewOpenAIEmbedder creates an embedder from config.
func NewOpenAIEmbedder(cfg *config.EmbedderConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		host:      strings.TrimSuffix(cfg.Host, "/"),
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		client:    httpclient.New(time.Duration(cfg.Timeout)*time.Second, httpclient.DefaultRetryConfig()),
	}
}

func (e *OpenAIEmbedder) Name() string   { return "openai" }
func (e *OpenAIEmbedder) Model() string  { return e.model }
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed requests vectors for all texts in one call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	err := e.client.PostJSON(ctx, e.host+"/embeddings",
		map[string]string{"Authorization": "Bearer " + e.apiKey},
		embeddingRequest{Model: e.model, Input: texts}, &resp)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embeddings request: %s", resp.Error.Message)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings request: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("embeddings request: index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
