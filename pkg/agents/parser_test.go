package agents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const netscapeSample = `<!DOCTYPE NETSCAPE-Bookmark-file-1>
<META HTTP-EQUIV="Content-Type" CONTENT="text/html; charset=UTF-8">
<TITLE>Bookmarks</TITLE>
<H1>Bookmarks</H1>
<DL><p>
	<DT><H3 ADD_DATE="1700000000">Development</H3>
	<DL><p>
		<DT><A HREF="https://go.dev" ADD_DATE="1700000100" ICON="data:image/png;base64,AAA" TAGS="golang,docs">The Go Programming Language</A>
		<DT><A HREF="https://github.com" ADD_DATE="1700000200">GitHub</A>
		<DD>Where code lives.
	</DL><p>
	<DT><A HREF="https://news.ycombinator.com">Hacker News</A>
	<DT><A HREF="about:blank">Blank</A>
	<DT><A HREF="javascript:void(0)">Bookmarklet</A>
	<DT><A HREF="chrome://settings">Settings</A>
</DL><p>`

func TestParseNetscapeHTML(t *testing.T) {
	bookmarks, err := ParseNetscapeHTML(netscapeSample)
	require.NoError(t, err)
	require.Len(t, bookmarks, 3, "non-http entries must be dropped")

	goDev := bookmarks[0]
	assert.Equal(t, "https://go.dev", goDev.URL)
	assert.Equal(t, "The Go Programming Language", goDev.Title)
	assert.Equal(t, "Development", goDev.FolderPath)
	assert.Equal(t, []string{"golang", "docs"}, goDev.Tags)
	assert.Equal(t, "data:image/png;base64,AAA", goDev.FaviconURL)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), goDev.AddedAt)

	github := bookmarks[1]
	assert.Equal(t, "Where code lives.", github.Description)

	hn := bookmarks[2]
	assert.Equal(t, "https://news.ycombinator.com", hn.URL)
	assert.Empty(t, hn.FolderPath, "top-level bookmarks have no folder")
}

func TestParseNetscapeHTMLUntitledLink(t *testing.T) {
	bookmarks, err := ParseNetscapeHTML(`<DL><DT><A HREF="https://example.com"></A></DL>`)
	require.NoError(t, err)
	require.Len(t, bookmarks, 1)
	assert.Equal(t, "https://example.com", bookmarks[0].Title)
}

func TestParseJSONExportArray(t *testing.T) {
	content := `[
		{"url": "https://go.dev", "title": "Go", "tags": ["golang"], "addDate": 1700000000},
		{"url": "ftp://old.example.com", "title": "skip me"},
		{"url": "https://example.com", "title": ""}
	]`
	bookmarks, err := ParseJSONExport(content)
	require.NoError(t, err)
	require.Len(t, bookmarks, 2)
	assert.Equal(t, "Go", bookmarks[0].Title)
	assert.Equal(t, []string{"golang"}, bookmarks[0].Tags)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), bookmarks[0].AddedAt)
	assert.Equal(t, "https://example.com", bookmarks[1].Title, "empty title falls back to URL")
}

func TestParseJSONExportWrapped(t *testing.T) {
	content := `{"bookmarks": [{"url": "https://go.dev", "title": "Go", "folder": "Dev/Go"}]}`
	bookmarks, err := ParseJSONExport(content)
	require.NoError(t, err)
	require.Len(t, bookmarks, 1)
	assert.Equal(t, "Dev/Go", bookmarks[0].FolderPath)
}

func TestParseJSONExportInvalid(t *testing.T) {
	_, err := ParseJSONExport(`{"bookmarks": "nope"`)
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, "json", DetectFormat(`  [{"url": "https://go.dev"}]`))
	assert.Equal(t, "json", DetectFormat(`{"bookmarks": []}`))
	assert.Equal(t, "html", DetectFormat(netscapeSample))
}

func TestParseBookmarkFileDispatches(t *testing.T) {
	fromJSON, err := ParseBookmarkFile(`[{"url": "https://go.dev", "title": "Go"}]`)
	require.NoError(t, err)
	assert.Len(t, fromJSON, 1)

	fromHTML, err := ParseBookmarkFile(netscapeSample)
	require.NoError(t, err)
	assert.Len(t, fromHTML, 3)
}
