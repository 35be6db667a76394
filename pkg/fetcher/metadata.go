package fetcher

import (
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageMetadata is extracted from reachable HTML documents and merged
// into the bookmark's metadata.
type PageMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Author      string   `json:"author,omitempty"`
	OGImage     string   `json:"ogImage,omitempty"`
	FaviconURL  string   `json:"faviconUrl,omitempty"`
}

// ToMap renders the metadata for shallow-merge into bookmark metadata.
func (m *PageMetadata) ToMap() map[string]any {
	out := make(map[string]any)
	if m.Title != "" {
		out["title"] = m.Title
	}
	if m.Description != "" {
		out["description"] = m.Description
	}
	if len(m.Keywords) > 0 {
		out["keywords"] = m.Keywords
	}
	if m.Author != "" {
		out["author"] = m.Author
	}
	if m.OGImage != "" {
		out["ogImage"] = m.OGImage
	}
	if m.FaviconURL != "" {
		out["faviconUrl"] = m.FaviconURL
	}
	return out
}

// ExtractMetadata pulls title, description, keywords, author, social
// image, and favicon from an HTML document. OpenGraph values win over
// plain meta tags when both exist.
func ExtractMetadata(r io.Reader) (*PageMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	meta := &PageMetadata{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	if og := metaContent(doc, `meta[property="og:title"]`); og != "" {
		meta.Title = og
	}
	meta.Description = metaContent(doc, `meta[property="og:description"]`)
	if meta.Description == "" {
		meta.Description = metaContent(doc, `meta[name="description"]`)
	}
	meta.Author = metaContent(doc, `meta[name="author"]`)
	meta.OGImage = metaContent(doc, `meta[property="og:image"]`)

	if keywords := metaContent(doc, `meta[name="keywords"]`); keywords != "" {
		for _, kw := range strings.Split(keywords, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				meta.Keywords = append(meta.Keywords, kw)
			}
		}
	}

	doc.Find(`link[rel="icon"], link[rel="shortcut icon"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if href, ok := sel.Attr("href"); ok && href != "" {
			meta.FaviconURL = href
			return false
		}
		return true
	})

	return meta, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

// errorTitlePattern matches titles that soft-404 pages typically carry.
var errorTitlePattern = regexp.MustCompile(`(?i)(404|not\s+found|page\s+(not\s+found|doesn'?t\s+exist|unavailable)|access\s+denied|forbidden|error\s+occurred|server\s+error|site\s+can'?t\s+be\s+reached)`)

// errorBodyPattern matches error phrasing in the first chunk of body text.
var errorBodyPattern = regexp.MustCompile(`(?i)(the\s+page\s+you\s+(requested|are\s+looking\s+for)\s+(was\s+not\s+found|could\s+not\s+be\s+found|doesn'?t\s+exist)|this\s+page\s+isn'?t\s+working|domain\s+(is\s+)?for\s+sale|account\s+suspended)`)

// IsErrorPage applies soft-404 heuristics to a page that answered 200.
func IsErrorPage(title, body string) bool {
	if errorTitlePattern.MatchString(title) {
		return true
	}
	head := body
	if len(head) > 8192 {
		head = head[:8192]
	}
	return errorBodyPattern.MatchString(head)
}
