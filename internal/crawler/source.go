package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"sjsage522/immoworker/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// ListingLinkSelector matches the title link of every search result card
const ListingLinkSelector = "a.card__title-link"

// PageSource navigates search result pages and reports the listing links
// found on the current page.
type PageSource interface {
	// Navigate loads the given search page
	Navigate(ctx context.Context, url string) error

	// ListingLinks returns the link target of every listing anchor on the
	// current page. An anchor without a target fails the whole call.
	ListingLinks(ctx context.Context) ([]string, error)

	// Close releases the transport resources held by the source
	Close() error
}

// HTTPPageSource walks search pages with plain GET requests
type HTTPPageSource struct {
	fetcher *Fetcher
	doc     *goquery.Document
	pageURL *url.URL
}

var _ PageSource = (*HTTPPageSource)(nil)

// NewHTTPPageSource creates a page source sharing the session's fetcher
func NewHTTPPageSource(fetcher *Fetcher) *HTTPPageSource {
	return &HTTPPageSource{fetcher: fetcher}
}

// Navigate fetches and parses a search page
func (s *HTTPPageSource) Navigate(ctx context.Context, pageURL string) error {
	s.doc, s.pageURL = nil, nil

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	body, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTML parsing error: %w", err)
	}

	s.doc, s.pageURL = doc, parsed
	return nil
}

// ListingLinks returns the absolute link of every listing anchor
func (s *HTTPPageSource) ListingLinks(_ context.Context) ([]string, error) {
	if s.doc == nil {
		return nil, fmt.Errorf("no page loaded")
	}

	var (
		links []string
		err   error
	)
	s.doc.Find(ListingLinkSelector).EachWithBreak(func(i int, a *goquery.Selection) bool {
		href, exists := a.Attr("href")
		href = strings.TrimSpace(href)
		if !exists || href == "" {
			err = errors.NewLinkMissing(s.pageURL.String(), i)
			return false
		}

		ref, parseErr := url.Parse(href)
		if parseErr != nil {
			err = errors.NewLinkMissing(s.pageURL.String(), i)
			return false
		}
		links = append(links, s.pageURL.ResolveReference(ref).String())
		return true
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// Close releases idle connections of the underlying client
func (s *HTTPPageSource) Close() error {
	s.fetcher.Client.CloseIdleConnections()
	return nil
}
