// Package engine runs the targeted crawl for every configured start URL
// against one shared target registry and page budget.
package engine

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/aggregate"
	"github.com/Dev-pucci/FCW-Targeted/internal/controller"
	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/dispatcher"
	"github.com/Dev-pucci/FCW-Targeted/internal/listing"
	"github.com/Dev-pucci/FCW-Targeted/internal/registry"
	"github.com/Dev-pucci/FCW-Targeted/internal/worker"
)

const matchBuffer = 64

// FetcherSource builds the fetcher factory for one listing.
type FetcherSource func(pages *listing.Builder) (crawler.FetcherFactory, error)

// Config describes a run.
type Config struct {
	StartURLs []string
	Filters   listing.Filters
	// Controller.MaxPages is the budget for the whole run, shared by all start URLs.
	Controller       controller.Config
	ReassignAttempts int
}

// ListingReport is the outcome for one start URL.
type ListingReport struct {
	StartURL string
	Outcome  controller.Outcome
	// Skipped is set when the listing never ran; Outcome.Reason says why.
	Skipped bool
}

// Report is the finalized result of a run.
type Report struct {
	Result       aggregate.Result
	Listings     []ListingReport
	Targets      int
	PagesVisited int
}

// Engine wires registry, controller, dispatcher and aggregator.
type Engine struct {
	cfg       Config
	source    FetcherSource
	parser    crawler.EntryParser
	extractor crawler.MetadataExtractor
	limiter   crawler.RateLimiter
	logger    *zap.Logger
}

// New validates cfg and returns an Engine. limiter may be nil.
func New(
	cfg Config,
	source FetcherSource,
	parser crawler.EntryParser,
	extractor crawler.MetadataExtractor,
	limiter crawler.RateLimiter,
	logger *zap.Logger,
) (*Engine, error) {
	if len(cfg.StartURLs) == 0 {
		return nil, fmt.Errorf("%w: no start urls", crawler.ErrConfig)
	}
	if err := cfg.Controller.Validate(); err != nil {
		return nil, err
	}
	if source == nil || parser == nil || extractor == nil {
		return nil, fmt.Errorf("%w: fetcher source, parser and extractor are required", crawler.ErrConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		source:    source,
		parser:    parser,
		extractor: extractor,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// Run locates targetIDs. The returned report is complete even when the
// context is canceled; the error is then the context's.
func (e *Engine) Run(ctx context.Context, targetIDs []string) (Report, error) {
	reg := registry.New(e.logger.Named("registry"), targetIDs...)
	if reg.Len() == 0 {
		return Report{}, fmt.Errorf("%w: no targets", crawler.ErrConfig)
	}
	e.logger.Info("run starting",
		zap.Int("targets", reg.Len()),
		zap.Int("start_urls", len(e.cfg.StartURLs)),
		zap.Int("max_pages", e.cfg.Controller.MaxPages),
	)

	stop := &worker.StopSignal{}
	matches := make(chan crawler.Match, matchBuffer)
	collector := aggregate.Collect(matches)

	report := Report{Targets: reg.Len()}
	var runErr error
	for _, startURL := range e.cfg.StartURLs {
		lr, err := e.runListing(ctx, startURL, reg, stop, matches, report.PagesVisited)
		report.Listings = append(report.Listings, lr)
		report.PagesVisited += lr.Outcome.PagesVisited
		if err != nil {
			runErr = err
			break
		}
		if lr.Outcome.State == controller.StateCanceled {
			runErr = context.Cause(ctx)
			break
		}
	}

	close(matches)
	report.Result = aggregate.Result{
		Found:    aggregate.Merge(collector.Wait()),
		NotFound: aggregate.NotFound(reg),
	}
	if len(report.Result.Found)+len(report.Result.NotFound) != reg.Len() {
		// A canceled worker can win a target without delivering its match.
		e.logger.Warn("match stream incomplete, rebuilding result from registry")
		report.Result = aggregate.Build(reg.Snapshot())
	}
	e.logger.Info("run finished",
		zap.Int("found", len(report.Result.Found)),
		zap.Int("not_found", len(report.Result.NotFound)),
		zap.Int("pages_visited", report.PagesVisited),
	)
	return report, runErr
}

func (e *Engine) runListing(
	ctx context.Context,
	startURL string,
	reg *registry.Registry,
	stop *worker.StopSignal,
	matches chan<- crawler.Match,
	spent int,
) (ListingReport, error) {
	lr := ListingReport{StartURL: startURL}
	logger := e.logger.With(zap.String("start_url", startURL))

	if reg.AllFound() {
		logger.Info("skipping start url, all targets found")
		lr.Skipped = true
		lr.Outcome = controller.Outcome{State: controller.StateSucceeded, Reason: controller.ReasonAllFound}
		return lr, nil
	}
	left := e.cfg.Controller.MaxPages - spent
	if left <= 0 {
		logger.Info("skipping start url, page budget spent")
		lr.Skipped = true
		lr.Outcome = controller.Outcome{State: controller.StateExhausted, Reason: controller.ReasonBudget}
		return lr, nil
	}

	pages, err := listing.NewBuilder(startURL, e.cfg.Filters)
	if err != nil {
		return lr, err
	}
	factory, err := e.source(pages)
	if err != nil {
		return lr, fmt.Errorf("build fetchers for %s: %w", startURL, err)
	}
	if closer, ok := factory.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				logger.Warn("close fetcher factory", zap.Error(cerr))
			}
		}()
	}

	disp := dispatcher.New(
		factory, e.parser, e.extractor, reg, e.limiter, stop, matches,
		dispatcher.Config{ReassignAttempts: e.cfg.ReassignAttempts, LimitKey: pages.Host()},
		logger.Named("dispatcher"),
	)
	cc := e.cfg.Controller
	cc.MaxPages = left
	ctrl, err := controller.New(disp, reg, cc, logger.Named("controller"))
	if err != nil {
		return lr, err
	}
	lr.Outcome = ctrl.Run(ctx)
	return lr, nil
}
