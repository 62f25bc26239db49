package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Conditional carries the HTTP validators saved from the last 200
// response, replayed on the next request.
type Conditional struct {
	ETag         string
	LastModified string
}

// FetchResult is the outcome of one conditional GET.
type FetchResult struct {
	Body         []byte
	NotModified  bool
	ETag         string
	LastModified string
	Status       int
}

// Fetcher retrieves a feed document.
type Fetcher interface {
	Fetch(ctx context.Context, url string, cond Conditional) (*FetchResult, error)
}

// HTTPFetcher fetches feeds over HTTP with a shared client.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher returns a fetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

// Fetch issues a conditional GET for the feed. A 304 comes back with
// NotModified set and no body; any status other than 200 or 304 is an
// error.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, cond Conditional) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	if cond.ETag != "" {
		req.Header.Set("If-None-Match", cond.ETag)
	}
	if cond.LastModified != "" {
		req.Header.Set("If-Modified-Since", cond.LastModified)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{NotModified: true, Status: resp.StatusCode}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	return &FetchResult{
		Body:         body,
		Status:       resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}
