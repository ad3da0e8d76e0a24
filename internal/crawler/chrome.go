package crawler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"sjsage522/immoworker/pkg/errors"

	"github.com/chromedp/chromedp"
)

// ChromeConfig contains configuration for the headless browser page source
type ChromeConfig struct {
	ExecPath string
	// PageWait bounds how long a page may take to show its listing anchors
	PageWait time.Duration
	// NavigateTimeout bounds one navigation including PageWait
	NavigateTimeout time.Duration
}

const listingLinksJS = `Array.from(document.querySelectorAll(%q)).map(a => a.getAttribute("href") ? a.href : "")`

// ChromePageSource renders search pages in headless Chrome. The search
// results are client-rendered, so this is the reference discovery transport.
type ChromePageSource struct {
	cfg ChromeConfig

	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
	closeOnce     sync.Once
	lastURL       string
}

var _ PageSource = (*ChromePageSource)(nil)

// NewChromePageSource starts a browser. The caller owns it and must Close it.
func NewChromePageSource(cfg ChromeConfig) (*ChromePageSource, error) {
	if cfg.PageWait <= 0 {
		cfg.PageWait = 2 * time.Second
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30*time.Second + cfg.PageWait
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	s := &ChromePageSource{
		cfg:           cfg,
		browserCtx:    browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
	}

	// Start the browser now so its lifetime is bound to browserCtx
	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return s, nil
}

// run executes actions on the browser tab, bounded by timeout and by ctx
func (s *ChromePageSource) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads a search page and waits up to PageWait for listing anchors
func (s *ChromePageSource) Navigate(ctx context.Context, pageURL string) error {
	s.lastURL = ""

	if err := s.run(ctx, s.cfg.NavigateTimeout,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return errors.NewTransport(pageURL, "navigation failed", err)
	}

	// Anchors may render late. An empty result page is not an error.
	var ready bool
	err := s.run(ctx, s.cfg.PageWait+time.Second,
		chromedp.Poll(fmt.Sprintf(`document.querySelectorAll(%q).length > 0`, ListingLinkSelector), &ready,
			chromedp.WithPollingTimeout(s.cfg.PageWait)),
	)
	if err != nil && !stderrors.Is(err, chromedp.ErrPollingTimeout) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewTransport(pageURL, "waiting for listings failed", err)
	}

	s.lastURL = pageURL
	return nil
}

// ListingLinks returns the resolved href of every listing anchor
func (s *ChromePageSource) ListingLinks(ctx context.Context) ([]string, error) {
	if s.lastURL == "" {
		return nil, fmt.Errorf("no page loaded")
	}

	var links []string
	if err := s.run(ctx, s.cfg.NavigateTimeout,
		chromedp.Evaluate(fmt.Sprintf(listingLinksJS, ListingLinkSelector), &links),
	); err != nil {
		return nil, errors.NewTransport(s.lastURL, "reading listing links failed", err)
	}

	for i, link := range links {
		if link == "" {
			return nil, errors.NewLinkMissing(s.lastURL, i)
		}
	}
	return links, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *ChromePageSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancelBrowser()
		s.cancelAlloc()
	})
	return nil
}
