package embedder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcasteel/bookmark-pipeline/pkg/config"
)

func TestStubEmbedderDeterministic(t *testing.T) {
	e := NewStubEmbedder(64)
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"golang", "rust"})
	require.NoError(t, err)
	second, err := e.Embed(ctx, []string{"golang", "rust"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first[0], first[1])
	assert.Len(t, first[0], 64)
}

func TestStubEmbedderUnitNorm(t *testing.T) {
	e := NewStubEmbedder(128)
	vectors, err := e.Embed(context.Background(), []string{"bookmark"})
	require.NoError(t, err)

	var norm float64
	for _, v := range vectors[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		// Answer out of order; the client must reorder by index.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&config.EmbedderConfig{
		Type: "openai", Host: srv.URL, Model: "text-embedding-3-small",
		APIKey: "k", Dimension: 2, Timeout: 5,
	})
	vectors, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1}, vectors[1])
}

func TestOpenAIEmbedderCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1}}},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&config.EmbedderConfig{
		Type: "openai", Host: srv.URL, Model: "m", APIKey: "k", Dimension: 1, Timeout: 5,
	})
	_, err := e.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestNewSelectsImplementation(t *testing.T) {
	stub, err := New(&config.EmbedderConfig{Type: "stub", Dimension: 8})
	require.NoError(t, err)
	assert.Equal(t, "stub", stub.Name())

	openai, err := New(&config.EmbedderConfig{Type: "openai", Host: "http://localhost", Model: "m", APIKey: "k", Dimension: 8, Timeout: 1})
	require.NoError(t, err)
	assert.Equal(t, "openai", openai.Name())
}
