// Package worker implements the per-assignment page scan loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/metrics"
)

// Registry is the slice of the target registry a worker needs.
type Registry interface {
	Contains(id string) bool
	MarkFound(id string, record crawler.Metadata, page, workerID int) bool
	AllFound() bool
}

// StopSignal is the broadcast "all targets found" flag shared by every worker
// of a run. Workers poll it between pages.
type StopSignal struct {
	stopped atomic.Bool
}

// Broadcast sets the flag. It is idempotent.
func (s *StopSignal) Broadcast() {
	s.stopped.Store(true)
}

// Stopped reports whether the flag is set.
func (s *StopSignal) Stopped() bool {
	return s.stopped.Load()
}

// Config controls Worker behavior.
type Config struct {
	// LimitKey scopes rate limiter waits, normally the listing host.
	LimitKey string
}

// Worker scans one assignment sequentially using its own fetcher.
type Worker struct {
	fetcher   crawler.PageFetcher
	parser    crawler.EntryParser
	extractor crawler.MetadataExtractor
	registry  Registry
	limiter   crawler.RateLimiter
	stop      *StopSignal
	matches   chan<- crawler.Match
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. limiter may be nil.
func New(
	fetcher crawler.PageFetcher,
	parser crawler.EntryParser,
	extractor crawler.MetadataExtractor,
	registry Registry,
	limiter crawler.RateLimiter,
	stop *StopSignal,
	matches chan<- crawler.Match,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stop == nil {
		stop = &StopSignal{}
	}
	return &Worker{
		fetcher:   fetcher,
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

// Run scans the assignment in increasing page order and returns its report.
// It ends early when the stop signal is set, the context is canceled, the
// listing runs out, or the fetch layer crashes.
func (w *Worker) Run(ctx context.Context, a crawler.PageAssignment) (report crawler.WorkerReport) {
	report = crawler.WorkerReport{
		WorkerID:   a.WorkerID,
		Assignment: a,
		LastPage:   a.RangeStart - 1,
		Stop:       crawler.StopRangeExhausted,
	}
	logger := w.logger.With(zap.Int("worker_id", a.WorkerID), zap.Int("pass", a.PassNumber))
	current := a.RangeStart

	defer func() {
		if r := recover(); r != nil {
			report.Stop = crawler.StopCrashed
			report.Err = fmt.Errorf("%w: worker %d panicked on page %d: %v",
				crawler.ErrWorkerCrashed, a.WorkerID, current, r)
			metrics.ObserveWorkerCrash()
			logger.Error("worker crashed", zap.Error(report.Err))
		}
	}()

	logger.Info("worker starting",
		zap.Int("range_start", a.RangeStart),
		zap.Int("range_end", a.RangeEnd),
	)
	for page := a.RangeStart; page <= a.RangeEnd; page++ {
		if w.stop.Stopped() {
			report.Stop = crawler.StopAllFound
			break
		}
		if ctx.Err() != nil {
			report.Stop = crawler.StopCanceled
			break
		}

		current = page
		stop, err := w.scanPage(ctx, a, page, &report, logger)
		if err != nil {
			report.Err = err
		}
		if stop != "" {
			report.Stop = stop
			break
		}
	}

	logger.Info("worker done",
		zap.String("stop", string(report.Stop)),
		zap.Int("pages_visited", report.PagesVisited),
		zap.Int("found", report.Found),
	)
	return report
}

// scanPage runs FETCHING then MATCHING for one page. A non-empty stop reason
// ends the assignment.
func (w *Worker) scanPage(
	ctx context.Context,
	a crawler.PageAssignment,
	page int,
	report *crawler.WorkerReport,
	logger *zap.Logger,
) (crawler.StopReason, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, w.cfg.LimitKey); err != nil {
			return crawler.StopCanceled, nil
		}
		// Another worker may have finished the run while this one was queued.
		if w.stop.Stopped() {
			return crawler.StopAllFound, nil
		}
	}

	start := time.Now()
	entries, err := w.fetcher.FetchPage(ctx, page)
	elapsed := time.Since(start)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return crawler.StopCanceled, nil
	case errors.Is(err, crawler.ErrWorkerCrashed):
		metrics.ObserveWorkerCrash()
		logger.Error("fetch layer crashed", zap.Int("page", page), zap.Error(err))
		return crawler.StopCrashed, err
	default:
		report.PagesVisited++
		report.LastPage = page
		metrics.ObservePage(metrics.PageFetchError, elapsed)
		logger.Warn("page fetch failed; treating as zero entries", zap.Int("page", page), zap.Error(err))
		return "", nil
	}

	report.PagesVisited++
	if len(entries) == 0 {
		report.LastPage = page
		metrics.ObservePage(metrics.PageEmpty, elapsed)
		logger.Info("page returned no entries; assuming end of listing", zap.Int("page", page))
		return crawler.StopEndOfListing, nil
	}
	metrics.ObservePage(metrics.PageOK, elapsed)
	logger.Debug("page fetched", zap.Int("page", page), zap.Int("entries", len(entries)))

	foundOnPage := 0
	for _, entry := range entries {
		matched, err := w.matchEntry(ctx, a, page, entry, logger)
		if err != nil {
			return crawler.StopCanceled, nil
		}
		if matched {
			foundOnPage++
			report.Found++
		}
		if w.stop.Stopped() {
			break
		}
	}
	// LastPage moves only once every entry was matched, so a crash mid-page
	// leaves the page in the remainder.
	report.LastPage = page
	if foundOnPage == 0 {
		logger.Debug("no targets on page", zap.Int("page", page))
	}
	if w.stop.Stopped() {
		return crawler.StopAllFound, nil
	}
	return "", nil
}

// matchEntry checks one entry against the registry and reports a first
// detection. The only error is context cancellation while sending the match.
func (w *Worker) matchEntry(
	ctx context.Context,
	a crawler.PageAssignment,
	page int,
	entry crawler.ListingEntry,
	logger *zap.Logger,
) (bool, error) {
	id, err := w.parser.ParseEntry(entry)
	if err != nil {
		logger.Debug("skipping entry without id", zap.Int("page", page), zap.Int("index", entry.Index), zap.Error(err))
		return false, nil
	}
	if !w.registry.Contains(id) {
		return false, nil
	}

	record, err := w.extractor.ExtractMetadata(entry, id, a.WorkerID)
	if err != nil {
		metrics.ObserveExtractWarning()
		logger.Warn("matched entry has malformed fields; emitting partial record",
			zap.String("id", id), zap.Int("page", page), zap.Error(err))
	}
	record.ID = id
	record.PageNumber = page
	record.WorkerID = a.WorkerID

	if !w.registry.MarkFound(id, record, page, a.WorkerID) {
		metrics.ObserveDuplicateMatch()
		return false, nil
	}
	metrics.ObserveMatch()
	if w.registry.AllFound() {
		logger.Info("all targets found; broadcasting stop", zap.Int("page", page))
		w.stop.Broadcast()
	}

	match := crawler.Match{ID: id, Record: record, Page: page, WorkerID: a.WorkerID, Pass: a.PassNumber}
	select {
	case w.matches <- match:
		return true, nil
	case <-ctx.Done():
		return true, fmt.Errorf("send match: %w", ctx.Err())
	}
}
