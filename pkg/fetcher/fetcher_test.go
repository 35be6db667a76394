package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNavigateReachablePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>
			<title>Go Blog</title>
			<meta name="description" content="News from the Go project">
			<meta name="keywords" content="go, golang, programming">
			<meta property="og:image" content="https://go.dev/og.png">
			<link rel="icon" href="/favicon.ico">
		</head><body>posts</body></html>`))
	}))
	defer srv.Close()

	pool := NewPool(2, 5*time.Second)
	outcome, err := pool.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.True(t, outcome.Valid)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	require.NotNil(t, outcome.Metadata)
	assert.Equal(t, "Go Blog", outcome.Metadata.Title)
	assert.Equal(t, "News from the Go project", outcome.Metadata.Description)
	assert.Equal(t, []string{"go", "golang", "programming"}, outcome.Metadata.Keywords)
	assert.Equal(t, "https://go.dev/og.png", outcome.Metadata.OGImage)
	assert.Equal(t, "/favicon.ico", outcome.Metadata.FaviconURL)
}

func TestNavigateClassifiesHTTPErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		reason     string
	}{
		{"not found", http.StatusNotFound, ReasonHTTP4xx},
		{"gone", http.StatusGone, ReasonHTTP4xx},
		{"internal error", http.StatusInternalServerError, ReasonHTTP5xx},
		{"bad gateway", http.StatusBadGateway, ReasonHTTP5xx},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer srv.Close()

			pool := NewPool(1, 5*time.Second)
			outcome, err := pool.Navigate(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.False(t, outcome.Valid)
			assert.Equal(t, tt.statusCode, outcome.StatusCode)
			assert.Equal(t, tt.reason, outcome.Reason)
		})
	}
}

func TestNavigateDetectsSoftErrorPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>404 Not Found</title></head><body>gone</body></html>`))
	}))
	defer srv.Close()

	pool := NewPool(1, 5*time.Second)
	outcome, err := pool.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, ReasonErrorPage, outcome.Reason)
}

func TestNavigateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	pool := NewPool(1, 50*time.Millisecond)
	outcome, err := pool.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, ReasonTimeout, outcome.Reason)
}

func TestNavigateDNSError(t *testing.T) {
	pool := NewPool(1, 5*time.Second)
	outcome, err := pool.Navigate(context.Background(), "http://bookmark-pipeline-test.invalid/")
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, ReasonDNSError, outcome.Reason)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte(`<html><title>ok</title></html>`))
	}))
	defer srv.Close()

	pool := NewPool(2, 5*time.Second)
	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, err := pool.Navigate(context.Background(), srv.URL)
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestIsErrorPage(t *testing.T) {
	tests := []struct {
		name  string
		title string
		body  string
		want  bool
	}{
		{"plain title", "Go Blog", "<p>welcome</p>", false},
		{"404 title", "404 Not Found", "", true},
		{"page not found title", "Page Not Found | Example", "", true},
		{"access denied", "Access Denied", "", true},
		{"soft 404 body", "Example", "The page you requested was not found.", true},
		{"domain parking", "Example", "This domain is for sale!", true},
		{"mentions error in prose", "Understanding Error Handling", "errors are values", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsErrorPage(tt.title, tt.body))
		})
	}
}

func TestExtractMetadataPrefersOpenGraph(t *testing.T) {
	html := `<html><head>
		<title>Raw Title</title>
		<meta property="og:title" content="OG Title">
		<meta name="description" content="plain description">
		<meta property="og:description" content="og description">
	</head></html>`
	meta, err := ExtractMetadata(strings.NewReader(html))
	require.NoError(t, err)
	assert.Equal(t, "OG Title", meta.Title)
	assert.Equal(t, "og description", meta.Description)
}
