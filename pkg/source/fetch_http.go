package source

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Compile-time interface check.
var _ Fetcher = (*httpFetcher)(nil)

type httpFetcher struct {
	client  *http.Client
	url     string
	maxSize int64
}

func newHTTPFetcher(url string, timeout time.Duration, maxSize int64) *httpFetcher {
	return &httpFetcher{
		client:  &http.Client{Timeout: timeout},
		url:     url,
		maxSize: maxSize,
	}
}

func (f *httpFetcher) Key() string { return f.url }

// Fetch issues a GET for the snapshot. Any non-2xx status is an error.
func (f *httpFetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", f.url, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("downloading %s: unexpected status %s", f.url, resp.Status)
	}

	data, err := readLimited(resp.Body, f.maxSize)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.url, err)
	}

	return data, nil
}
