// Package dispatcher runs one pass of page assignments across concurrent
// workers and joins them.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/metrics"
	"github.com/Dev-pucci/FCW-Targeted/internal/worker"
)

// Config controls crash handling and rate limiting scope.
type Config struct {
	// ReassignAttempts bounds how many times crashed remainders are retried
	// inside the same pass before being deferred to the next one.
	ReassignAttempts int
	LimitKey         string
}

// Dispatcher fans a pass out to one worker per assignment.
type Dispatcher struct {
	factory   crawler.FetcherFactory
	parser    crawler.EntryParser
	extractor crawler.MetadataExtractor
	registry  worker.Registry
	limiter   crawler.RateLimiter
	stop      *worker.StopSignal
	matches   chan<- crawler.Match
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher. The stop signal and matches channel are shared by
// every pass it runs.
func New(
	factory crawler.FetcherFactory,
	parser crawler.EntryParser,
	extractor crawler.MetadataExtractor,
	registry worker.Registry,
	limiter crawler.RateLimiter,
	stop *worker.StopSignal,
	matches chan<- crawler.Match,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stop == nil {
		stop = &worker.StopSignal{}
	}
	if cfg.ReassignAttempts < 0 {
		cfg.ReassignAttempts = 0
	}
	return &Dispatcher{
		factory:   factory,
		parser:    parser,
		extractor: extractor,
		registry:  registry,
		limiter:   limiter,
		stop:      stop,
		matches:   matches,
		cfg:       cfg,
		logger:    logger,
	}
}

// Stopped reports whether the shared all-found signal has fired.
func (d *Dispatcher) Stopped() bool {
	return d.stop.Stopped()
}

// RunPass starts every assignment concurrently and blocks until all workers
// finish. Crashed remainders are handed to fresh workers while reassign
// attempts remain; whatever is left is returned as Deferred.
func (d *Dispatcher) RunPass(ctx context.Context, assignments []crawler.PageAssignment) crawler.PassResult {
	var result crawler.PassResult
	nextID := 0
	for _, a := range assignments {
		if a.WorkerID >= nextID {
			nextID = a.WorkerID + 1
		}
	}

	batch := assignments
	for attempt := 0; len(batch) > 0; attempt++ {
		reports := d.runBatch(ctx, batch)
		batch = nil
		for _, r := range reports {
			result.Reports = append(result.Reports, r)
			result.PagesVisited += r.PagesVisited
			if r.Stop == crawler.StopEndOfListing {
				result.EndOfListing = true
			}
			rest, ok := r.Remainder()
			if !ok {
				continue
			}
			if d.stop.Stopped() || ctx.Err() != nil {
				continue
			}
			if attempt < d.cfg.ReassignAttempts {
				d.logger.Warn("reassigning crashed remainder",
					zap.Int("from_worker", r.WorkerID),
					zap.Int("to_worker", nextID),
					zap.Int("range_start", rest.RangeStart),
					zap.Int("range_end", rest.RangeEnd),
				)
				rest.WorkerID = nextID
				nextID++
				batch = append(batch, rest)
				continue
			}
			d.logger.Warn("deferring crashed remainder to next pass",
				zap.Int("worker_id", r.WorkerID),
				zap.Int("range_start", rest.RangeStart),
				zap.Int("range_end", rest.RangeEnd),
			)
			result.Deferred = append(result.Deferred, rest)
		}
		if result.EndOfListing {
			// Pages past the end of the listing would only come back empty.
			batch = nil
		}
	}
	return result
}

func (d *Dispatcher) runBatch(ctx context.Context, batch []crawler.PageAssignment) []crawler.WorkerReport {
	reports := make([]crawler.WorkerReport, len(batch))
	var wg sync.WaitGroup
	for i, a := range batch {
		wg.Add(1)
		go func(i int, a crawler.PageAssignment) {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			reports[i] = d.runOne(ctx, a)
		}(i, a)
	}
	wg.Wait()
	return reports
}

func (d *Dispatcher) runOne(ctx context.Context, a crawler.PageAssignment) crawler.WorkerReport {
	fetcher, err := d.factory.NewFetcher(a.WorkerID)
	if err != nil {
		metrics.ObserveWorkerCrash()
		d.logger.Error("fetcher setup failed", zap.Int("worker_id", a.WorkerID), zap.Error(err))
		return crawler.WorkerReport{
			WorkerID:   a.WorkerID,
			Assignment: a,
			LastPage:   a.RangeStart - 1,
			Stop:       crawler.StopCrashed,
			Err:        fmt.Errorf("%w: new fetcher: %w", crawler.ErrWorkerCrashed, err),
		}
	}
	if closer, ok := fetcher.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				d.logger.Warn("fetcher close failed", zap.Int("worker_id", a.WorkerID), zap.Error(cerr))
			}
		}()
	}
	w := worker.New(fetcher, d.parser, d.extractor, d.registry, d.limiter, d.stop, d.matches,
		worker.Config{LimitKey: d.cfg.LimitKey}, d.logger)
	return w.Run(ctx, a)
}
