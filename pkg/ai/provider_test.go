package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcasteel/bookmark-pipeline/pkg/config"
)

func TestStubProviderCategorizesByDomain(t *testing.T) {
	p := NewStubProvider()
	out, err := p.Enrich(context.Background(), Input{
		URL:        "https://github.com/golang/go",
		Title:      "golang/go: The Go programming language",
		Categories: []string{"Development", "Other"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Development", out.Category)
	assert.NotEmpty(t, out.Tags)
	assert.NotEmpty(t, out.Summary)
}

func TestStubProviderFallsBackToOther(t *testing.T) {
	p := NewStubProvider()
	out, err := p.Enrich(context.Background(), Input{
		URL:        "https://example.com/page",
		Title:      "Some page",
		Categories: []string{"Development", "Other"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Other", out.Category)
}

func TestOpenAIProviderParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": `{"category":"Development","tags":["golang"],"summary":"The Go site.","keywords":["go"]}`,
				},
			}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&config.AIConfig{
		Type: "openai", Host: srv.URL, Model: "gpt-4o-mini", APIKey: "test-key", Timeout: 5,
	})
	out, err := p.Enrich(context.Background(), Input{
		URL: "https://go.dev", Title: "Go", Categories: []string{"Development", "Other"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Development", out.Category)
	assert.Equal(t, []string{"golang"}, out.Tags)
	assert.Equal(t, "The Go site.", out.Summary)
}

func TestOpenAIProviderStripsCodeFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "```json\n{\"category\":\"Other\",\"tags\":[],\"summary\":\"x\",\"keywords\":[]}\n```",
				},
			}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&config.AIConfig{Type: "openai", Host: srv.URL, Model: "m", APIKey: "k", Timeout: 5})
	out, err := p.Enrich(context.Background(), Input{URL: "https://example.com", Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Other", out.Category)
}
