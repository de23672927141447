package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// The largest page body the fetcher accepts.
const maxBodySize = 10 << 20

// HTTPClient is implemented by objects that can perform HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads pages over HTTP.
type Fetcher struct {
	client    HTTPClient
	userAgent string
}

// NewFetcher returns a Fetcher that uses client. A nil client is replaced by
// an http.Client with the given timeout.
func NewFetcher(client HTTPClient, timeout time.Duration, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{client: client, userAgent: userAgent}
}

// Fetch returns the body of the page at url. Transport failures, non-2xx
// responses and bodies larger than maxBodySize yield ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: unexpected status %s", ErrFetch, url, res.Status)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading body: %v", ErrFetch, url, err)
	}
	// A truncated page would hide the links past the cut.
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: %s: body exceeds %d bytes", ErrFetch, url, maxBodySize)
	}
	return body, nil
}
