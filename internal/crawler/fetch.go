package crawler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"sjsage522/immoworker/helpers"
	"sjsage522/immoworker/pkg/errors"
	"sjsage522/immoworker/services/cache"

	"golang.org/x/time/rate"
)

// FetcherConfig contains configuration for a Fetcher
type FetcherConfig struct {
	Session           string
	Timeout           time.Duration
	RequestsPerSecond float64
	BlockTime         time.Duration
}

// Fetcher performs the HTTP retrieval of one URL and classifies the outcome.
// It never retries; the caller decides what to do with a failure.
type Fetcher struct {
	Client    *http.Client
	Limiter   *rate.Limiter
	CacheSvc  cache.CacheService
	CacheKey  string
	BlockTime time.Duration

	now func() time.Time
}

// NewFetcher creates a fetcher owning its own client and limiter.
// cacheSvc may be nil, which disables the shared rate-limit block.
func NewFetcher(cfg FetcherConfig, cacheSvc cache.CacheService) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Fetcher{
		Client:    &http.Client{Timeout: timeout},
		Limiter:   rate.NewLimiter(limit, 1),
		CacheSvc:  cacheSvc,
		CacheKey:  cache.BlockKey(cfg.Session),
		BlockTime: cfg.BlockTime,
		now:       time.Now,
	}
}

// Fetch performs one GET and returns the UTF-8 body of a 200 answer.
// Failures are *errors.CrawlerError of type too_many_requests,
// unexpected_status or transport; a cancelled ctx yields ctx.Err().
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if remaining, blocked := f.blocked(); blocked {
		return nil, errors.NewTooManyRequests(url, remaining)
	}

	if err := f.Limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewTransport(url, "request pacing aborted", err)
	}

	req, err := helpers.NewBrowserRequest(ctx, url)
	if err != nil {
		return nil, errors.NewTransport(url, "invalid request", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewTransport(url, "failed to fetch URL", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		retryAfter := helpers.ParseRetryAfter(resp.Header.Get("Retry-After"), f.now())
		return nil, errors.NewTooManyRequests(url, f.block(retryAfter))
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.NewUnexpectedStatus(url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewTransport(url, "failed to read response body", err)
	}

	utf8Body, err := helpers.ToUTF8(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, errors.NewTransport(url, "failed to decode response body", err)
	}
	return utf8Body, nil
}

// blocked reports whether a previous 429 marked this session as rate limited
func (f *Fetcher) blocked() (time.Duration, bool) {
	if f.CacheSvc == nil {
		return 0, false
	}
	value, err := f.CacheSvc.Get(f.CacheKey)
	if err != nil {
		return 0, false
	}

	until, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return f.BlockTime, true
	}
	remaining := time.Unix(until, 0).Sub(f.now())
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// block marks the session as rate limited and returns how long callers
// should stay away.
func (f *Fetcher) block(retryAfter time.Duration) time.Duration {
	if f.CacheSvc == nil {
		return retryAfter
	}

	d := retryAfter
	if d <= 0 {
		d = f.BlockTime
	}
	if d <= 0 {
		return retryAfter
	}

	until := f.now().Add(d).Unix()
	if err := f.CacheSvc.Set(f.CacheKey, []byte(strconv.FormatInt(until, 10)), d); err != nil {
		return retryAfter
	}
	return d
}
