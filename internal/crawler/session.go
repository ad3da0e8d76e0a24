package crawler

import (
	"context"
	"fmt"
	"time"

	"sjsage522/immoworker/logger"
	"sjsage522/immoworker/pkg/errors"
	"sjsage522/immoworker/services/cache"

	"github.com/google/uuid"
)

// RetryPolicy bounds the retries of rate-limited and transport failures
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the wait before the next attempt: exponential in attempt,
// capped at MaxDelay, and never shorter than the server's Retry-After.
func (p RetryPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt && (p.MaxDelay <= 0 || d < p.MaxDelay); i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

// SourceFactory acquires the page source of one session
type SourceFactory func(fetcher *Fetcher) (PageSource, error)

// HTTPSource is the SourceFactory of HTTPPageSource
func HTTPSource(fetcher *Fetcher) (PageSource, error) {
	return NewHTTPPageSource(fetcher), nil
}

// ChromeSource returns a SourceFactory starting a headless browser
func ChromeSource(cfg ChromeConfig) SourceFactory {
	return func(*Fetcher) (PageSource, error) {
		return NewChromePageSource(cfg)
	}
}

// SessionConfig contains configuration for a crawl session
type SessionConfig struct {
	Name     string
	Template string
	Pages    int
	Fetch    FetcherConfig
	Retry    RetryPolicy
	Source   SourceFactory
	CacheSvc cache.CacheService
	Logger   *logger.Logger
}

// Stats summarizes one session run
type Stats struct {
	PagesWalked      int           `json:"pages_walked"`
	PagesFailed      int           `json:"pages_failed"`
	Discovered       int           `json:"discovered"`
	Extracted        int           `json:"extracted"`
	Excluded         int           `json:"excluded"`
	FetchFailed      int           `json:"fetch_failed"`
	ExtractionFailed int           `json:"extraction_failed"`
	RateLimited      int           `json:"rate_limited"`
	DiscoveryTime    time.Duration `json:"discovery_time"`
	ProcessTime      time.Duration `json:"process_time"`
}

// Session owns one batch, one fetcher and one page source for one query
// template. Sessions share nothing and may run concurrently.
type Session struct {
	name      string
	template  string
	pages     int
	fetcher   *Fetcher
	newSource SourceFactory
	retry     RetryPolicy
	log       *logger.Logger

	source  PageSource
	batch   *Batch
	reports []PageReport
	stats   Stats

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSession creates a session; nothing is acquired until Discover or Run
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Name == "" {
		return nil, errors.NewConfiguration("session name is required", nil)
	}
	if cfg.Pages < 1 {
		return nil, errors.NewConfiguration(fmt.Sprintf("session %s: page count must be >= 1, got %d", cfg.Name, cfg.Pages), nil)
	}
	if cfg.Source == nil {
		cfg.Source = HTTPSource
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	cfg.Fetch.Session = cfg.Name
	return &Session{
		name:      cfg.Name,
		template:  cfg.Template,
		pages:     cfg.Pages,
		fetcher:   NewFetcher(cfg.Fetch, cfg.CacheSvc),
		newSource: cfg.Source,
		retry:     cfg.Retry,
		log:       log.WithStr("session", cfg.Name),
		batch:     NewBatch(),
		sleep:     sleepContext,
	}, nil
}

// Name returns the session name
func (s *Session) Name() string {
	return s.name
}

// Run discovers, processes and collects into a fresh batch. The page
// source is released on every exit path.
func (s *Session) Run(ctx context.Context) ([]Record, error) {
	runLog := s.log
	s.log = s.log.WithStr("run_id", uuid.NewString())
	defer func() { s.log = runLog }()
	defer s.Close()

	s.reports = nil
	s.stats = Stats{}

	if err := s.Discover(ctx); err != nil {
		return nil, err
	}
	if err := s.Process(ctx); err != nil {
		return nil, err
	}
	return s.Collect(), nil
}

// Discover walks the search pages and fills a fresh batch with pending slots
func (s *Session) Discover(ctx context.Context) error {
	start := time.Now()

	if s.source == nil {
		src, err := s.newSource(s.fetcher)
		if err != nil {
			return fmt.Errorf("session %s: acquire page source: %w", s.name, err)
		}
		s.source = src
	}

	d, err := NewDiscoverer(s.source, s.template, s.pages, s.log)
	if err != nil {
		return err
	}
	d.SetRetry(s.retry)
	d.sleep = s.sleep

	s.batch = NewBatch()

	refs, err := d.Discover(ctx)
	for _, ref := range refs {
		s.batch.Add(ref)
	}
	s.reports = d.Reports()
	s.stats.Discovered = s.batch.Len()
	s.stats.PagesWalked, s.stats.PagesFailed = 0, 0
	for _, r := range s.reports {
		if r.Err != nil {
			s.stats.PagesFailed++
		} else {
			s.stats.PagesWalked++
		}
	}
	s.stats.DiscoveryTime = time.Since(start)
	if err != nil {
		return err
	}

	s.log.Info().
		Int("urls", s.stats.Discovered).
		Int("pages_failed", s.stats.PagesFailed).
		Dur("elapsed", s.stats.DiscoveryTime).
		Msg("Recorded listing urls")
	return nil
}

// Process fetches and extracts every pending slot in discovery order.
// Cataloged failures are logged and isolated to their slot. An unclassified
// failure or a cancelled ctx stops processing and is returned.
func (s *Session) Process(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.stats.Extracted = s.batch.Count(StateExtracted)
		s.stats.Excluded = s.batch.Count(StateExcluded)
		s.stats.FetchFailed = s.batch.Count(StateFetchFailed)
		s.stats.ExtractionFailed = s.batch.Count(StateExtractionFailed)
		s.stats.ProcessTime += time.Since(start)
	}()

	for _, seq := range s.batch.Pending() {
		if err := ctx.Err(); err != nil {
			return err
		}
		slot, _ := s.batch.Get(seq)
		if err := s.processSlot(ctx, slot); err != nil {
			return err
		}
	}

	s.log.Info().
		Int("records", s.batch.Count(StateExtracted)).
		Int("excluded", s.batch.Count(StateExcluded)).
		Int("fetch_failed", s.batch.Count(StateFetchFailed)).
		Int("extraction_failed", s.batch.Count(StateExtractionFailed)).
		Int("rate_limited", s.stats.RateLimited).
		Dur("elapsed", time.Since(start)).
		Msg("Scraped listing data")
	return nil
}

func (s *Session) processSlot(ctx context.Context, slot *Slot) error {
	url := slot.Ref.URL

	body, attempts, err := s.fetchWithRetry(ctx, url)
	slot.Attempts = attempts
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := errors.As(err); !ok {
			return fmt.Errorf("session %s: listing %s: %w", s.name, url, err)
		}
		s.fail(slot, StateFetchFailed, err)
		return nil
	}

	ext, err := Extract(url, body)
	if err != nil {
		if _, ok := errors.As(err); !ok {
			return fmt.Errorf("session %s: listing %s: %w", s.name, url, err)
		}
		s.fail(slot, StateExtractionFailed, err)
		return nil
	}

	if ext.Excluded {
		slot.State = StateExcluded
		s.log.Debug().
			Str("url", url).
			Str("property_type", ext.PropertyType).
			Msg("Group listing excluded")
		return nil
	}

	ext.Record.Session = s.name
	slot.Record = ext.Record
	slot.State = StateExtracted
	return nil
}

func (s *Session) fail(slot *Slot, state SlotState, err error) {
	slot.State = state
	slot.Err = err
	s.log.Warn().
		Err(err).
		Int("seq", slot.Seq).
		Str("url", slot.Ref.URL).
		Str("kind", string(errors.TypeOf(err))).
		Int("attempts", slot.Attempts).
		Msg("Listing dropped")
}

// fetchWithRetry retries rate-limited and transport failures with backoff
func (s *Session) fetchWithRetry(ctx context.Context, url string) ([]byte, int, error) {
	for attempt := 1; ; attempt++ {
		body, err := s.fetcher.Fetch(ctx, url)
		if err == nil {
			return body, attempt, nil
		}

		ce, ok := errors.As(err)
		if ok && ce.Type == errors.ErrorTypeTooManyRequests {
			s.stats.RateLimited++
		}
		if !ok || !ce.IsRetryable() || attempt >= s.retry.MaxAttempts {
			return nil, attempt, err
		}

		delay := s.retry.Delay(attempt, ce.RetryAfter)
		s.log.Debug().
			Str("url", url).
			Str("kind", string(ce.Type)).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Retrying listing fetch")
		if err := s.sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
}

// Collect returns the extracted records in discovery order
func (s *Session) Collect() []Record {
	return s.batch.Records()
}

// Failures returns the failed slots in discovery order
func (s *Session) Failures() []Slot {
	return s.batch.Failures()
}

// PageReports returns the per-page discovery outcomes
func (s *Session) PageReports() []PageReport {
	return s.reports
}

// Stats returns the counters of the last run
func (s *Session) Stats() Stats {
	return s.stats
}

// Close releases the page source, if one was acquired
func (s *Session) Close() error {
	if s.source == nil {
		return nil
	}
	err := s.source.Close()
	s.source = nil
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
