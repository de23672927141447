// Package source retrieves the monitored page and extracts the document links
// it publishes.
package source

import (
	"context"
	"errors"
	"github.com/ejacobg/gdo-checker/snapshot"
)

var (
	// ErrFetch is returned when the page cannot be retrieved.
	ErrFetch = errors.New("fetch failed")

	// ErrParse is returned when the page does not contain the expected
	// content region.
	ErrParse = errors.New("content region not found")
)

// Page fetches a page and extracts its document links.
type Page struct {
	fetcher   *Fetcher
	extractor *Extractor
}

// NewPage combines a fetcher and an extractor.
func NewPage(fetcher *Fetcher, extractor *Extractor) *Page {
	return &Page{fetcher: fetcher, extractor: extractor}
}

// Links retrieves url and returns the document links found in its content
// region, in document order.
func (p *Page) Links(ctx context.Context, url string) ([]snapshot.Link, error) {
	content, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return p.extractor.Extract(content)
}
