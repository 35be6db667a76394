package ai

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// StubProvider derives enrichment from the bookmark text itself,
// without network calls. It backs tests and keyless deployments.
type StubProvider struct{}

// NewStubProvider creates the offline provider.
func NewStubProvider() *StubProvider { return &StubProvider{} }

func (p *StubProvider) Name() string { return "stub" }

var stubDomainHints = map[string]string{
	"github.com":           "Development",
	"gitlab.com":           "Development",
	"stackoverflow.com":    "Development",
	"go.dev":               "Development",
	"arxiv.org":            "AI/ML",
	"huggingface.co":       "AI/ML",
	"openai.com":           "AI/ML",
	"wikipedia.org":        "Reference",
	"youtube.com":          "Entertainment",
	"news.ycombinator.com": "News",
}

// Enrich categorizes by domain hints and extracts tags and keywords
// from the title. Deterministic for a given input.
func (p *StubProvider) Enrich(ctx context.Context, input Input) (*Enrichment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	category := "Other"
	if parsed, err := url.Parse(input.URL); err == nil {
		host := strings.TrimPrefix(parsed.Hostname(), "www.")
		for domain, cat := range stubDomainHints {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				if contains(input.Categories, cat) || len(input.Categories) == 0 {
					category = cat
				}
				break
			}
		}
	}

	words := tokenize(input.Title)
	tags := words
	if len(tags) > 5 {
		tags = tags[:5]
	}

	summary := strings.TrimSpace(input.Description)
	if summary == "" {
		summary = fmt.Sprintf("Bookmark for %s.", input.Title)
	}

	return &Enrichment{
		Category: category,
		Tags:     tags,
		Summary:  summary,
		Keywords: words,
	}, nil
}

func tokenize(text string) []string {
	seen := make(map[string]bool)
	var words []string
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(w) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
