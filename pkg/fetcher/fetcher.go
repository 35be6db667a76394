// Package fetcher navigates bookmark URLs for validation. A fixed-size
// pool bounds concurrent navigations; each navigation classifies the
// outcome into a stable failure reason and extracts page metadata from
// reachable documents.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"
)

// Failure reasons recorded on unreachable or suspect bookmarks.
const (
	ReasonDNSError          = "DNS_ERROR"
	ReasonConnectionRefused = "CONNECTION_REFUSED"
	ReasonTimeout           = "TIMEOUT"
	ReasonHTTP4xx           = "HTTP_4XX"
	ReasonHTTP5xx           = "HTTP_5XX"
	ReasonErrorPage         = "ERROR_PAGE_DETECTED"
	ReasonValidationError   = "VALIDATION_ERROR"
)

const maxBodyBytes = 2 << 20

// Outcome is the result of navigating one URL.
type Outcome struct {
	Valid      bool
	StatusCode int
	Reason     string
	Error      string
	Metadata   *PageMetadata
}

// Pool bounds concurrent navigations with a semaphore and applies a
// per-navigation timeout.
type Pool struct {
	slots   chan struct{}
	client  *http.Client
	timeout time.Duration
}

// NewPool creates a pool admitting capacity concurrent navigations.
func NewPool(capacity int, timeout time.Duration) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		slots: make(chan struct{}, capacity),
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		timeout: timeout,
	}
}

// Navigate fetches the URL within a pool slot. It blocks for a slot
// until ctx is done. Navigate never returns an error for unreachable
// pages; failures are encoded in the Outcome.
func (p *Pool) Navigate(ctx context.Context, url string) (*Outcome, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.slots }()

	navCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(navCtx, http.MethodGet, url, nil)
	if err != nil {
		return &Outcome{Reason: ReasonValidationError, Error: err.Error()}, nil
	}
	req.Header.Set("User-Agent", "bookmark-pipeline/1.0 (+validation)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		reason := classifyNetworkError(err)
		return &Outcome{Reason: reason, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return &Outcome{StatusCode: resp.StatusCode, Reason: ReasonHTTP5xx,
			Error: fmt.Sprintf("server error: %s", resp.Status)}, nil
	case resp.StatusCode >= 400:
		return &Outcome{StatusCode: resp.StatusCode, Reason: ReasonHTTP4xx,
			Error: fmt.Sprintf("client error: %s", resp.Status)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return &Outcome{StatusCode: resp.StatusCode, Reason: ReasonTimeout, Error: err.Error()}, nil
		}
		return &Outcome{StatusCode: resp.StatusCode, Reason: ReasonValidationError, Error: err.Error()}, nil
	}

	meta, parseErr := ExtractMetadata(strings.NewReader(string(body)))
	if parseErr != nil {
		// Non-HTML content still counts as reachable.
		return &Outcome{Valid: true, StatusCode: resp.StatusCode}, nil
	}

	// A 200 that renders an error page is a dead bookmark in practice.
	if IsErrorPage(meta.Title, string(body)) {
		return &Outcome{StatusCode: resp.StatusCode, Reason: ReasonErrorPage,
			Error: "page content indicates an error page", Metadata: meta}, nil
	}

	return &Outcome{Valid: true, StatusCode: resp.StatusCode, Metadata: meta}, nil
}

func classifyNetworkError(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonDNSError
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonConnectionRefused
	}
	if isTimeout(err) {
		return ReasonTimeout
	}
	return ReasonValidationError
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
