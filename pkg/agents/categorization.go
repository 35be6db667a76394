package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
	"github.com/halcasteel/bookmark-pipeline/pkg/agent"
	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/logger"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
)

// AgentTypeCategorization is the categorization stage identifier.
const AgentTypeCategorization = "categorization"

// Confidence levels assigned by the different categorization paths.
const (
	confidenceURLRule  = 0.9
	confidenceTagRule  = 0.85
	confidenceCreated  = 0.7
	confidenceFallback = 0.3
)

// categoryKeywords feed the heuristic scorer. Keys are the default
// taxonomy names.
var categoryKeywords = map[string][]string{
	"Development":   {"github", "gitlab", "stackoverflow", "code", "programming", "developer", "api", "sdk", "docs"},
	"AI/ML":         {"ai", "ml", "machine learning", "neural", "llm", "model", "arxiv", "huggingface", "openai"},
	"Technology":    {"tech", "software", "hardware", "gadget", "computer", "cloud", "linux"},
	"Business":      {"business", "startup", "finance", "invest", "market", "saas"},
	"Education":     {"course", "tutorial", "learn", "university", "education", "lecture"},
	"News":          {"news", "times", "post", "daily", "reuters", "bbc"},
	"Entertainment": {"youtube", "netflix", "game", "music", "movie", "twitch"},
	"Reference":     {"wikipedia", "wiki", "reference", "dictionary", "manual", "spec"},
	"Tools":         {"tool", "converter", "generator", "calculator", "utility"},
	"Personal":      {"blog", "recipe", "travel", "fitness", "diary"},
}

// CategorizationAgent assigns each bookmark to a category. User-defined
// rules win outright; otherwise the AI-suggested category is matched
// against the user's taxonomy, created when new, and a keyword
// heuristic catches the rest. "Other" is the floor.
type CategorizationAgent struct {
	store    *store.Store
	taxonomy []string
	log      *slog.Logger
}

// NewCategorizationAgent creates the categorization stage.
func NewCategorizationAgent(s *store.Store) *CategorizationAgent {
	return &CategorizationAgent{
		store:    s,
		taxonomy: config.DefaultCategories,
		log:      logger.GetLogger().With("agent", AgentTypeCategorization),
	}
}

func (a *CategorizationAgent) AgentType() string { return AgentTypeCategorization }

func (a *CategorizationAgent) Card() *a2a.AgentCard {
	return a2a.NewAgentCard(AgentTypeCategorization, "1.0.0",
		"Assigns bookmarks to categories using user rules, AI suggestions, and keyword heuristics").
		WithInput("bookmarkIds", "string[]", false, "Bookmarks to categorize; defaults to the import batch").
		WithInput("importId", "string", false, "Import batch to categorize when bookmarkIds is absent").
		WithOutput(a2a.ArtifactCategorizationResult, "Per-bookmark category assignments with confidence")
}

func (a *CategorizationAgent) Validate(task *a2a.Task) error {
	return requireTargets(task)
}

func (a *CategorizationAgent) Execute(ctx context.Context, task *a2a.Task, reporter agent.Reporter) *agent.Result {
	bookmarks, err := loadTargets(ctx, a.store, task)
	if err != nil {
		return agent.Failed(err)
	}

	// First categorization for a user seeds the default taxonomy.
	if err := a.store.EnsureDefaultCategories(ctx, task.UserID, a.taxonomy); err != nil {
		return agent.Failed(err)
	}
	rules, err := a.store.ListCategoryRules(ctx, task.UserID)
	if err != nil {
		return agent.Failed(err)
	}

	total := len(bookmarks)
	reporter.Progress(ctx, 0, total, fmt.Sprintf("categorizing %d bookmarks", total))

	result := a2a.CategorizationResult{
		CategorizationResults: []a2a.CategorizationOutcome{},
		CategoryDistribution:  map[string]int{},
	}

	for idx, bm := range bookmarks {
		if err := ctx.Err(); err != nil {
			return agent.Failed(err)
		}

		name, confidence, reason := a.categorize(bm, rules, func(categoryID string) string {
			return a.categoryName(ctx, task.UserID, categoryID)
		})

		category, err := a.store.FindOrCreateCategory(ctx, task.UserID, name)
		if err != nil {
			a.log.Warn("category resolve failed", "bookmark", bm.ID, "error", err.Error())
			result.FailedCount++
			continue
		}
		if err := a.store.AssignCategory(ctx, bm.ID, category.ID); err != nil {
			a.log.Warn("category assign failed", "bookmark", bm.ID, "error", err.Error())
			result.FailedCount++
			continue
		}

		result.CategorizedCount++
		result.CategoryDistribution[category.Name]++
		result.CategorizationResults = append(result.CategorizationResults, a2a.CategorizationOutcome{
			BookmarkID:   bm.ID,
			CategoryID:   category.ID,
			CategoryName: category.Name,
			Confidence:   confidence,
			Reason:       reason,
		})

		if (idx+1)%progressEvery == 0 || idx+1 == total {
			reporter.Progress(ctx, idx+1, total,
				fmt.Sprintf("categorized %d/%d bookmarks", idx+1, total))
		}
	}

	reporter.Progress(ctx, total, total,
		fmt.Sprintf("categorization complete: %d categorized", result.CategorizedCount))

	return agent.Completed(agent.ArtifactSpec{Type: a2a.ArtifactCategorizationResult, Data: result})
}

// categorize picks a category name, confidence, and reason for one
// bookmark. resolveRule maps a rule's category id back to its name.
func (a *CategorizationAgent) categorize(bm *store.Bookmark, rules []*store.CategoryRule, resolveRule func(string) string) (string, float64, string) {
	urlLower := strings.ToLower(bm.URL)
	allTags := append(append([]string{}, bm.Tags...), bm.AITags...)

	// User rules short-circuit everything else.
	for _, rule := range rules {
		switch rule.RuleType {
		case "url_pattern":
			if strings.Contains(urlLower, strings.ToLower(rule.Pattern)) {
				if name := resolveRule(rule.CategoryID); name != "" {
					return name, confidenceURLRule, "custom_url_rule"
				}
			}
		case "tag":
			for _, tag := range allTags {
				if strings.EqualFold(tag, rule.Pattern) {
					if name := resolveRule(rule.CategoryID); name != "" {
						return name, confidenceTagRule, "custom_tag_rule"
					}
				}
			}
		}
	}

	// The AI suggestion either maps onto the taxonomy or becomes a new
	// category.
	aiCategory, _ := bm.EnrichmentData["category"].(string)
	if aiCategory != "" && !strings.EqualFold(aiCategory, "Other") {
		for _, known := range a.taxonomy {
			if strings.EqualFold(aiCategory, known) {
				score := a.score(known, bm, allTags)
				return known, score, "ai_category"
			}
		}
		return aiCategory, confidenceCreated, "ai_category_created"
	}

	// Keyword heuristic across the taxonomy.
	bestName, bestScore := "", 0.0
	for _, known := range a.taxonomy {
		if known == "Other" {
			continue
		}
		if score := a.score(known, bm, allTags); score > bestScore {
			bestName, bestScore = known, score
		}
	}
	if bestScore > confidenceFallback {
		return bestName, bestScore, "heuristic"
	}
	return "Other", confidenceFallback, "fallback_other"
}

// score accumulates evidence that a bookmark belongs to a category:
// a matching AI suggestion weighs 0.5 (0.3 when partial), tag overlap
// 0.3, URL keywords 0.2, title keywords 0.1. Capped at 1.0.
func (a *CategorizationAgent) score(category string, bm *store.Bookmark, tags []string) float64 {
	score := 0.0
	categoryLower := strings.ToLower(category)
	titleLower := strings.ToLower(bm.Title)
	urlLower := strings.ToLower(bm.URL)

	if aiCategory, _ := bm.EnrichmentData["category"].(string); aiCategory != "" {
		aiLower := strings.ToLower(aiCategory)
		if aiLower == categoryLower {
			score += 0.5
		} else if strings.Contains(aiLower, categoryLower) || strings.Contains(categoryLower, aiLower) {
			score += 0.3
		}
	}

	keywords := categoryKeywords[category]
	tagHit, urlHit, titleHit := false, false, false
	for _, kw := range keywords {
		if !urlHit && strings.Contains(urlLower, kw) {
			urlHit = true
		}
		if !titleHit && strings.Contains(titleLower, kw) {
			titleHit = true
		}
		if !tagHit {
			for _, tag := range tags {
				if strings.Contains(strings.ToLower(tag), kw) {
					tagHit = true
					break
				}
			}
		}
	}
	if tagHit {
		score += 0.3
	}
	if urlHit {
		score += 0.2
	}
	if titleHit {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// categoryName resolves a category id to its name, empty when unknown.
func (a *CategorizationAgent) categoryName(ctx context.Context, userID, categoryID string) string {
	categories, err := a.store.ListCategories(ctx, userID)
	if err != nil {
		return ""
	}
	for _, cat := range categories {
		if cat.ID == categoryID {
			return cat.Name
		}
	}
	return ""
}
