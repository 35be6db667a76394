package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/httpclient"
)

// OpenAIProvider enriches bookmarks through an OpenAI-compatible chat
// completions endpoint. The model is asked for a strict JSON object so
// the answer parses without post-processing.
type OpenAIProvider struct {
	host   string
	model  string
	apiKey string
	client *httpclient.Client
}

// NewOpenAIProvider creates a provider from config.
func NewOpenAIProvider(cfg *config.AIConfig) *OpenAIProvider {
	return &OpenAIProvider{
		host:   strings.TrimSuffix(cfg.Host, "/"),
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		client: httpclient.New(time.Duration(cfg.Timeout)*time.Second, httpclient.DefaultRetryConfig()),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const systemPrompt = `You are a bookmark librarian. Given a bookmark, respond with a JSON object:
{"category": one of the allowed categories, "tags": up to 5 short lowercase tags, "summary": one sentence, "keywords": up to 5 keywords}.
Respond with JSON only.`

// Enrich asks the model to categorize, tag, and summarize the bookmark.
func (p *OpenAIProvider) Enrich(ctx context.Context, input Input) (*Enrichment, error) {
	user := fmt.Sprintf("URL: %s\nTitle: %s\nDescription: %s\nAllowed categories: %s",
		input.URL, input.Title, input.Description, strings.Join(input.Categories, ", "))

	req := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:    0.2,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	var resp chatResponse
	err := p.client.PostJSON(ctx, p.host+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + p.apiKey}, req, &resp)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("chat completion: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: empty response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var enrichment Enrichment
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &enrichment); err != nil {
		return nil, fmt.Errorf("parse enrichment: %w", err)
	}
	return &enrichment, nil
}
