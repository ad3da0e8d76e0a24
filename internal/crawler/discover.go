package crawler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sjsage522/immoworker/logger"
	"sjsage522/immoworker/pkg/errors"
)

// PagePlaceholder is replaced by the page number in a search URL template
const PagePlaceholder = "{}"

// PageReport describes the outcome of walking one search page
type PageReport struct {
	Page  int
	URL   string
	Links int
	Err   error
}

// Discoverer walks numbered search pages and collects listing references
type Discoverer struct {
	source   PageSource
	template string
	pages    int
	log      *logger.Logger
	retry    RetryPolicy
	sleep    func(ctx context.Context, d time.Duration) error

	reports []PageReport
}

// NewDiscoverer validates the template and page count
func NewDiscoverer(source PageSource, template string, pages int, log *logger.Logger) (*Discoverer, error) {
	if pages < 1 {
		return nil, errors.NewConfiguration(fmt.Sprintf("page count must be >= 1, got %d", pages), nil)
	}
	if !strings.Contains(template, PagePlaceholder) {
		return nil, errors.NewConfiguration(fmt.Sprintf("URL template %q has no %s page placeholder", template, PagePlaceholder), nil)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Discoverer{
		source:   source,
		template: template,
		pages:    pages,
		log:      log,
		retry:    RetryPolicy{MaxAttempts: 1},
		sleep:    sleepContext,
	}, nil
}

// SetRetry sets how often a rate-limited page is tried again
func (d *Discoverer) SetRetry(p RetryPolicy) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	d.retry = p
}

// PageURL returns the search URL of the given page
func (d *Discoverer) PageURL(page int) string {
	return strings.ReplaceAll(d.template, PagePlaceholder, strconv.Itoa(page))
}

// Discover visits pages 1..N in order. A page that fails to load, or that
// holds an anchor without a target, contributes nothing; the walk goes on.
// A rate-limited page is retried after the server's delay, and the next page
// waits out a block the failed one left behind. Only cancellation of ctx
// stops the walk early.
func (d *Discoverer) Discover(ctx context.Context) ([]ListingReference, error) {
	d.reports = d.reports[:0]
	var refs []ListingReference
	var cooldown time.Duration

	for page := 1; page <= d.pages; page++ {
		if err := ctx.Err(); err != nil {
			return refs, err
		}
		if cooldown > 0 {
			if err := d.sleep(ctx, cooldown); err != nil {
				return refs, err
			}
			cooldown = 0
		}

		pageURL := d.PageURL(page)
		links, err := d.walkPageWithRetry(ctx, pageURL)
		if err != nil {
			if ce, ok := errors.As(err); ok && ce.Type == errors.ErrorTypeTooManyRequests {
				cooldown = ce.RetryAfter
			}
			if ctx.Err() != nil {
				return refs, ctx.Err()
			}
			pageErr := errors.NewDiscoveryPage(pageURL, page, err)
			d.reports = append(d.reports, PageReport{Page: page, URL: pageURL, Err: pageErr})
			d.log.Warn().
				Err(err).
				Int("page", page).
				Str("url", pageURL).
				Str("kind", string(errors.ErrorTypeDiscoveryPage)).
				Str("cause", string(errors.TypeOf(err))).
				Msg("Search page discarded")
			continue
		}

		for _, link := range links {
			refs = append(refs, ListingReference{URL: link})
		}
		d.reports = append(d.reports, PageReport{Page: page, URL: pageURL, Links: len(links)})
		d.log.Debug().
			Int("page", page).
			Int("links", len(links)).
			Msg("Search page walked")
	}

	return refs, nil
}

func (d *Discoverer) walkPageWithRetry(ctx context.Context, pageURL string) ([]string, error) {
	for attempt := 1; ; attempt++ {
		links, err := d.walkPage(ctx, pageURL)
		if err == nil {
			return links, nil
		}

		ce, ok := errors.As(err)
		if !ok || ce.Type != errors.ErrorTypeTooManyRequests || attempt >= d.retry.MaxAttempts {
			return nil, err
		}

		delay := d.retry.Delay(attempt, ce.RetryAfter)
		d.log.Debug().
			Str("url", pageURL).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Retrying rate-limited search page")
		if err := d.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (d *Discoverer) walkPage(ctx context.Context, pageURL string) ([]string, error) {
	if err := d.source.Navigate(ctx, pageURL); err != nil {
		return nil, err
	}
	return d.source.ListingLinks(ctx)
}

// Reports returns the per-page outcomes of the last Discover call
func (d *Discoverer) Reports() []PageReport {
	out := make([]PageReport, len(d.reports))
	copy(out, d.reports)
	return out
}
