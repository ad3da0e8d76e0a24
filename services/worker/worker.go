package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"sjsage522/immoworker/internal/crawler"
	"sjsage522/immoworker/logger"
	"sjsage522/immoworker/services/publisher"
	"sjsage522/immoworker/services/sink"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned by RunOnce while another run is active
var ErrRunInProgress = errors.New("crawl already in progress")

// Runner produces the records of one crawl session
type Runner interface {
	Name() string
	Run(ctx context.Context) ([]crawler.Record, error)
}

// Result is the outcome of one run over all runners
type Result struct {
	ID       string
	Table    *sink.Table
	Records  []crawler.Record
	Errors   map[string]error
	Started  time.Time
	Finished time.Time
}

// Worker handles the crawling, storing and publishing process
type Worker struct {
	runners       []Runner
	sinks         []sink.Sink
	publisher     publisher.Publisher
	logger        *logger.Logger
	crawlInterval time.Duration

	running atomic.Bool
	mu      sync.RWMutex
	last    *Result
}

// NewWorker creates a new worker. pub may be nil.
func NewWorker(
	runners []Runner,
	sinks []sink.Sink,
	pub publisher.Publisher,
	log *logger.Logger,
	crawlInterval time.Duration,
) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{
		runners:       runners,
		sinks:         sinks,
		publisher:     pub,
		logger:        log,
		crawlInterval: crawlInterval,
	}
}

// Start runs once, then again every crawl interval until ctx is cancelled.
// A zero interval means a single run.
func (w *Worker) Start(ctx context.Context) error {
	for {
		start := time.Now()
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn().Err(err).Msg("Crawl skipped")
		}
		if os.Getenv("IMMO_ENVIRONMENT") != "production" {
			w.logger.Info().Dur("elapsed", time.Since(start)).Msg("Crawl took")
		}

		if w.crawlInterval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.crawlInterval):
		}
	}
}

// RunOnce runs all the runners in parallel, combines their records in
// runner order, then stores, publishes and trims the streams.
func (w *Worker) RunOnce(ctx context.Context) (*Result, error) {
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer w.running.Store(false)

	res := &Result{
		ID:      uuid.NewString(),
		Errors:  make(map[string]error),
		Started: time.Now(),
	}
	log := w.logger.WithStr("run", res.ID)

	outputs := make([][]crawler.Record, len(w.runners))
	errs := make([]error, len(w.runners))

	var wg sync.WaitGroup
	for i, r := range w.runners {
		wg.Add(1)
		go func(i int, r Runner) {
			defer wg.Done()
			outputs[i], errs[i] = r.Run(ctx)
		}(i, r)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tables := make([]*sink.Table, 0, len(w.runners))
	for i, r := range w.runners {
		if errs[i] != nil {
			res.Errors[r.Name()] = errs[i]
			log.Error().Err(errs[i]).Str("session", r.Name()).Msg("Session aborted")
			continue
		}
		tables = append(tables, sink.NewTable(outputs[i]))
		res.Records = append(res.Records, outputs[i]...)
		w.logSample(log, r.Name(), outputs[i])
	}
	res.Table = sink.Concat(tables...)

	for _, s := range w.sinks {
		if err := s.Write(ctx, res.Table); err != nil {
			res.Errors["sink:"+s.Name()] = err
			log.Error().Err(err).Str("sink", s.Name()).Msg("Failed to write table")
		}
	}

	w.publish(ctx, log, res)

	res.Finished = time.Now()
	w.mu.Lock()
	w.last = res
	w.mu.Unlock()

	log.Info().
		Int("rows", res.Table.Len()).
		Int("errors", len(res.Errors)).
		Dur("elapsed", res.Finished.Sub(res.Started)).
		Msg("Crawl run finished")
	return res, nil
}

// publish sends every record to the stream keyed by its session and trims
// the streams afterwards
func (w *Worker) publish(ctx context.Context, log *logger.Logger, res *Result) {
	if w.publisher == nil {
		return
	}

	failed := 0
	var lastErr error
	for i := range res.Records {
		data, err := json.Marshal(res.Records[i])
		if err != nil {
			failed++
			lastErr = err
			continue
		}
		if err := w.publisher.Publish(ctx, res.Records[i].Session, data); err != nil {
			failed++
			lastErr = err
		}
	}
	if lastErr != nil {
		res.Errors["publisher"] = lastErr
		log.Error().Err(lastErr).Int("failed", failed).Msg("Failed to publish records")
	}

	if err := w.publisher.TrimStreams(ctx); err != nil {
		res.Errors["publisher:trim"] = err
		log.Error().Err(err).Msg("StreamTrimming")
	}
}

// logSample logs the first record of a session outside production
func (w *Worker) logSample(log *logger.Logger, name string, records []crawler.Record) {
	if os.Getenv("IMMO_ENVIRONMENT") == "production" || len(records) == 0 {
		return
	}
	data, err := json.Marshal(records[0])
	if err != nil {
		return
	}
	log.Debug().
		Str("session", name).
		Int("records", len(records)).
		RawJSON("sample", data).
		Msg("Crawled data")
}

// Last returns the result of the most recent completed run, or nil
func (w *Worker) Last() *Result {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

// Running reports whether a run is in progress
func (w *Worker) Running() bool {
	return w.running.Load()
}
