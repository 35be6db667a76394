// Package agents implements the five pipeline stages: import,
// validation, enrichment, categorization, and embedding.
package agents

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ParsedBookmark is one bookmark extracted from an uploaded file.
type ParsedBookmark struct {
	URL         string
	Title       string
	Description string
	FolderPath  string
	FaviconURL  string
	Tags        []string
	AddedAt     time.Time
}

// DetectFormat sniffs whether content is a Netscape HTML export or a
// JSON export.
func DetectFormat(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return "json"
	}
	return "html"
}

// ParseBookmarkFile parses either supported format. Entries without a
// usable http(s) URL are dropped.
func ParseBookmarkFile(content string) ([]*ParsedBookmark, error) {
	if DetectFormat(content) == "json" {
		return ParseJSONExport(content)
	}
	return ParseNetscapeHTML(content)
}

// ParseNetscapeHTML parses the Netscape bookmark file format browsers
// export. Folder structure comes from nested DL lists labeled by H3
// headers; ADD_DATE, ICON, and TAGS attributes are preserved.
func ParseNetscapeHTML(content string) ([]*ParsedBookmark, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse bookmark html: %w", err)
	}

	var bookmarks []*ParsedBookmark
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !usableURL(href) {
			return
		}
		bm := &ParsedBookmark{
			URL:        href,
			Title:      strings.TrimSpace(sel.Text()),
			FolderPath: folderPathFor(sel),
		}
		if bm.Title == "" {
			bm.Title = href
		}
		if icon, ok := sel.Attr("icon"); ok {
			bm.FaviconURL = icon
		}
		if tags, ok := sel.Attr("tags"); ok {
			bm.Tags = splitTags(tags)
		}
		if addDate, ok := sel.Attr("add_date"); ok {
			if secs, err := strconv.ParseInt(addDate, 10, 64); err == nil && secs > 0 {
				bm.AddedAt = time.Unix(secs, 0).UTC()
			}
		}
		// A DD element directly after the link holds the description.
		if dd := sel.Parent().Next(); dd.Is("dd") {
			bm.Description = strings.TrimSpace(dd.Text())
		}
		bookmarks = append(bookmarks, bm)
	})
	return bookmarks, nil
}

// folderPathFor walks the link's enclosing DL lists and joins their H3
// labels into a "/"-separated path, outermost folder first.
func folderPathFor(link *goquery.Selection) string {
	var names []string
	for parent := link.Parent(); parent.Length() > 0; parent = parent.Parent() {
		if !parent.Is("dl") {
			continue
		}
		if name := labelFor(parent); name != "" {
			names = append([]string{name}, names...)
		}
	}
	return strings.Join(names, "/")
}

// labelFor finds the H3 heading that labels a DL list. Exports place
// the heading in the DT immediately before the list; the HTML parser
// sometimes flattens it to a plain preceding sibling.
func labelFor(dl *goquery.Selection) string {
	for prev := dl.Prev(); prev.Length() > 0; prev = prev.Prev() {
		if prev.Is("h3") {
			return strings.TrimSpace(prev.Text())
		}
		if h3 := prev.Find("h3").Last(); prev.Is("dt") && h3.Length() > 0 {
			return strings.TrimSpace(h3.Text())
		}
		if prev.Is("dl") || prev.Find("a[href]").Length() > 0 {
			break
		}
	}
	return ""
}

type jsonBookmark struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Folder      string   `json:"folder,omitempty"`
	FaviconURL  string   `json:"faviconUrl,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	AddDate     int64    `json:"addDate,omitempty"`
}

type jsonExport struct {
	Bookmarks []jsonBookmark `json:"bookmarks"`
}

// ParseJSONExport parses a JSON bookmark export, either a bare array or
// an object with a "bookmarks" field.
func ParseJSONExport(content string) ([]*ParsedBookmark, error) {
	var entries []jsonBookmark
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
			return nil, fmt.Errorf("parse bookmark json: %w", err)
		}
	} else {
		var export jsonExport
		if err := json.Unmarshal([]byte(trimmed), &export); err != nil {
			return nil, fmt.Errorf("parse bookmark json: %w", err)
		}
		entries = export.Bookmarks
	}

	var bookmarks []*ParsedBookmark
	for _, entry := range entries {
		if !usableURL(entry.URL) {
			continue
		}
		bm := &ParsedBookmark{
			URL:         entry.URL,
			Title:       strings.TrimSpace(entry.Title),
			Description: entry.Description,
			FolderPath:  entry.Folder,
			FaviconURL:  entry.FaviconURL,
			Tags:        entry.Tags,
		}
		if bm.Title == "" {
			bm.Title = entry.URL
		}
		if entry.AddDate > 0 {
			bm.AddedAt = time.Unix(entry.AddDate, 0).UTC()
		}
		bookmarks = append(bookmarks, bm)
	}
	return bookmarks, nil
}

// usableURL keeps http(s) URLs and drops browser-internal entries.
func usableURL(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" || lower == "about:blank" {
		return false
	}
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func splitTags(raw string) []string {
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
