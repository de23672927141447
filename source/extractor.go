package source

import (
	"bytes"
	"fmt"
	"github.com/ejacobg/gdo-checker/snapshot"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"strings"
	"sync"
)

// Extractor finds document links inside a designated region of a page.
type Extractor struct {
	region    selector
	extension string

	// bluemonday policies are not thread-safe, so each extraction borrows
	// its own.
	policyPool sync.Pool
}

// NewExtractor returns an Extractor that looks for anchors below the first
// element matching regionSelector whose href ends in extension.
func NewExtractor(regionSelector, extension string) (*Extractor, error) {
	region, err := parseSelector(regionSelector)
	if err != nil {
		return nil, err
	}
	if extension == "" {
		return nil, fmt.Errorf("document extension must be specified")
	}

	return &Extractor{
		region:    region,
		extension: extension,
		policyPool: sync.Pool{
			New: func() interface{} {
				return bluemonday.StrictPolicy()
			},
		},
	}, nil
}

// Extract returns the (title, href) pairs of every matching anchor in
// document order. Hrefs are returned as written on the page. ErrParse is
// returned when the region is missing.
func (e *Extractor) Extract(content []byte) ([]snapshot.Link, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	region := e.region.first(doc)
	if region == nil {
		return nil, ErrParse
	}

	policy := e.policyPool.Get().(*bluemonday.Policy)
	defer e.policyPool.Put(policy)

	var links []snapshot.Link
	var walk func(*html.Node) error
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href, ok := lookupAttr(n, "href"); ok && strings.HasSuffix(href, e.extension) {
				title, err := anchorText(policy, n)
				if err != nil {
					return err
				}
				links = append(links, snapshot.Link{Name: title, URL: href})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(region); err != nil {
		return nil, err
	}

	return links, nil
}

// anchorText returns the text content of an anchor. Whitespace is kept as is
// since titles take part in link identity.
func anchorText(policy *bluemonday.Policy, a *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := a.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render anchor content: %w", err)
		}
	}
	return html.UnescapeString(policy.SanitizeReader(&buf).String()), nil
}
