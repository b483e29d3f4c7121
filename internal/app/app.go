// Package app builds the run's collaborators from configuration and drives
// a run from engine to sinks.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/aggregate"
	"github.com/Dev-pucci/FCW-Targeted/internal/clock/system"
	"github.com/Dev-pucci/FCW-Targeted/internal/config"
	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/download"
	"github.com/Dev-pucci/FCW-Targeted/internal/engine"
	"github.com/Dev-pucci/FCW-Targeted/internal/extract"
	"github.com/Dev-pucci/FCW-Targeted/internal/fetcher"
	collyfetcher "github.com/Dev-pucci/FCW-Targeted/internal/fetcher/colly"
	headlessfetcher "github.com/Dev-pucci/FCW-Targeted/internal/fetcher/headless"
	"github.com/Dev-pucci/FCW-Targeted/internal/hash/sha256"
	"github.com/Dev-pucci/FCW-Targeted/internal/id/uuid"
	"github.com/Dev-pucci/FCW-Targeted/internal/listing"
	"github.com/Dev-pucci/FCW-Targeted/internal/metrics"
	"github.com/Dev-pucci/FCW-Targeted/internal/output"
	"github.com/Dev-pucci/FCW-Targeted/internal/policy/ratelimit"
	pubsubpublisher "github.com/Dev-pucci/FCW-Targeted/internal/publisher/pubsub"
	"github.com/Dev-pucci/FCW-Targeted/internal/storage/gcs"
	"github.com/Dev-pucci/FCW-Targeted/internal/storage/local"
	"github.com/Dev-pucci/FCW-Targeted/internal/storage/postgres"
)

// ResultStore persists the finalized result of a run.
type ResultStore interface {
	StoreResult(ctx context.Context, runID string, at time.Time, res aggregate.Result) error
}

// Deps are the collaborators of a run. Nil optional sinks are skipped.
type Deps struct {
	Source    engine.FetcherSource
	Store     crawler.BlobStore
	Limiter   crawler.RateLimiter
	Results   ResultStore
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
}

// RunCompleted is published once a run's outputs are written.
type RunCompleted struct {
	RunID        string   `json:"run_id"`
	Targets      int      `json:"targets"`
	Found        int      `json:"found"`
	NotFound     []string `json:"not_found"`
	PagesVisited int      `json:"pages_visited"`
	CSV          string   `json:"csv,omitempty"`
	Summary      string   `json:"summary,omitempty"`
}

// Result is what a run produced.
type Result struct {
	RunID  string
	Report engine.Report
	Files  output.Files
}

// App holds the long-lived services of one CLI invocation.
type App struct {
	cfg        config.Config
	deps       Deps
	engine     *engine.Engine
	writer     *output.Writer
	downloader *download.Downloader
	logger     *zap.Logger

	closers       []func() error
	metricsServer *http.Server
}

// New builds every collaborator named by cfg. Call Close when done.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	store, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	initial, maxBackoff := cfg.Backoff()
	policy := crawler.NewExponentialRetryPolicy(cfg.Fetcher.MaxRetries, initial, maxBackoff)
	deps := Deps{
		Source:  fetcherSource(cfg, store, policy, logger),
		Store:   store,
		Limiter: ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Fetcher.RequestsPerSecond, DefaultBurst: cfg.Fetcher.Burst}),
		Hasher:  sha256.New(),
		IDs:     uuid.New(),
		Clock:   system.New(),
	}

	if cfg.Output.PostgresDSN != "" {
		ms, err := postgres.NewMatchStore(ctx, postgres.Config{DSN: cfg.Output.PostgresDSN, Table: cfg.Output.PostgresTable})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init result store: %w", err)
		}
		closers = append(closers, func() error { ms.Close(); return nil })
		if err := ms.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("init result store: %w", err)
		}
		logger.Info("postgres result store enabled", zap.String("table", cfg.Output.PostgresTable))
		deps.Results = ms
	}

	if cfg.Output.PubsubProject != "" {
		pub, err := pubsubpublisher.Open(ctx, cfg.Output.PubsubProject)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		closers = append(closers, pub.Close)
		logger.Info("pubsub publisher enabled", zap.String("topic", cfg.Output.PubsubTopic))
		deps.Publisher = pub
	}

	a, err := NewWithDeps(cfg, deps, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	a.closers = closers
	a.startMetrics()
	return a, nil
}

// NewWithDeps builds an App around explicit collaborators.
func NewWithDeps(cfg config.Config, deps Deps, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Store == nil || deps.Source == nil {
		return nil, fmt.Errorf("%w: blob store and fetcher source are required", crawler.ErrConfig)
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}

	parser, err := extract.NewParser(listing.DefaultBase)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Config{
		StartURLs:        cfg.StartURLs,
		Filters:          cfg.Filters(),
		Controller:       cfg.ControllerConfig(),
		ReassignAttempts: cfg.Crawl.ReassignAttempts,
	}, deps.Source, parser, extract.NewExtractor(), deps.Limiter, logger.Named("engine"))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		deps:   deps,
		engine: eng,
		writer: output.NewWriter(deps.Store, deps.Clock, "", logger),
		logger: logger,
	}
	if cfg.DownloadDocuments {
		a.downloader = download.New(
			download.Config{UserAgent: cfg.Fetcher.UserAgent, Timeout: cfg.FetchTimeout()},
			deps.Store, deps.Hasher, deps.Limiter, logger,
		)
	}
	return a, nil
}

// Run executes the crawl and then every configured sink. Sinks run even when
// the crawl was interrupted; all failures are joined.
func (a *App) Run(ctx context.Context) (Result, error) {
	ids, err := a.cfg.TargetIDs()
	if err != nil {
		return Result{}, err
	}
	runID, err := a.deps.IDs.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("run id: %w", err)
	}
	started := a.deps.Clock.Now()
	logger := a.logger.With(zap.String("run_id", runID))
	logger.Info("run starting", zap.Int("targets", len(ids)), zap.Strings("start_urls", a.cfg.StartURLs))

	report, runErr := a.engine.Run(ctx, ids)
	res := Result{RunID: runID, Report: report}

	sinkCtx := context.WithoutCancel(ctx)
	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}

	if a.downloader != nil && len(report.Result.Found) > 0 {
		found, err := a.downloader.DownloadAll(ctx, report.Result.Found)
		res.Report.Result.Found = found
		if err != nil {
			logger.Error("document downloads failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("download documents: %w", err))
		}
	}

	summary := a.summary(runID, started, res.Report)
	files, err := a.writer.Write(sinkCtx, res.Report.Result, summary)
	res.Files = files
	if err != nil {
		logger.Error("writing outputs failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("write outputs: %w", err))
	}

	if a.deps.Results != nil {
		if err := a.deps.Results.StoreResult(sinkCtx, runID, summary.FinishedAt, res.Report.Result); err != nil {
			logger.Error("storing results failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("store results: %w", err))
		}
	}

	if a.deps.Publisher != nil {
		event := RunCompleted{
			RunID:        runID,
			Targets:      res.Report.Targets,
			Found:        len(res.Report.Result.Found),
			NotFound:     res.Report.Result.NotFound,
			PagesVisited: res.Report.PagesVisited,
			CSV:          files.CSV,
			Summary:      files.Summary,
		}
		msgID, err := a.deps.Publisher.Publish(sinkCtx, a.cfg.Output.PubsubTopic, event)
		if err != nil {
			logger.Error("publishing run event failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("publish run event: %w", err))
		} else {
			logger.Info("run event published", zap.String("message_id", msgID))
		}
	}

	logger.Info("run complete",
		zap.Int("found", len(res.Report.Result.Found)),
		zap.Int("not_found", len(res.Report.Result.NotFound)),
		zap.Int("pages_visited", res.Report.PagesVisited),
	)
	return res, errors.Join(errs...)
}

func (a *App) summary(runID string, started time.Time, report engine.Report) output.Summary {
	s := output.Summary{
		RunID:        runID,
		StartedAt:    started,
		FinishedAt:   a.deps.Clock.Now(),
		Targets:      report.Targets,
		Found:        len(report.Result.Found),
		NotFound:     report.Result.NotFound,
		PagesVisited: report.PagesVisited,
	}
	for _, l := range report.Listings {
		s.Listings = append(s.Listings, output.ListingSummary{
			StartURL:     l.StartURL,
			State:        string(l.Outcome.State),
			Reason:       l.Outcome.Reason,
			Passes:       l.Outcome.Passes,
			PagesVisited: l.Outcome.PagesVisited,
			Skipped:      l.Skipped,
		})
	}
	return s
}

// Close shuts down the metrics endpoint and every owned client.
func (a *App) Close() error {
	var errs []error
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) startMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	a.metricsServer = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           metrics.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("starting metrics server", zap.String("addr", a.cfg.Metrics.Addr))
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func openBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.BlobStore, error) {
	if cfg.Output.GCSBucket != "" {
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Output.GCSBucket, Prefix: cfg.Output.Dir})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		logger.Info("writing outputs to gcs", zap.String("bucket", cfg.Output.GCSBucket))
		return store, nil
	}
	store, err := local.New(local.Config{BaseDir: cfg.Output.Dir})
	if err != nil {
		return nil, fmt.Errorf("init local store: %w", err)
	}
	logger.Info("writing outputs locally", zap.String("dir", store.Dir()))
	return store, nil
}

func fetcherSource(cfg config.Config, debugStore crawler.BlobStore, policy crawler.RetryPolicy, logger *zap.Logger) engine.FetcherSource {
	return func(pages *listing.Builder) (crawler.FetcherFactory, error) {
		var factory crawler.FetcherFactory
		switch cfg.Fetcher.Mode {
		case config.ModeHeadless:
			hf, err := headlessfetcher.NewFactory(headlessfetcher.Config{
				UserAgent:         cfg.Fetcher.UserAgent,
				NavigationTimeout: cfg.FetchTimeout(),
				Debug:             cfg.Logging.Debug,
			}, pages, debugStore, logger.Named("headless"))
			if err != nil {
				return nil, err
			}
			factory = hf
		default:
			factory = collyfetcher.NewFactory(collyfetcher.Config{
				UserAgent: cfg.Fetcher.UserAgent,
				Timeout:   cfg.FetchTimeout(),
			}, pages, logger.Named("colly"))
		}
		return fetcher.NewRetryingFactory(factory, policy, logger.Named("fetch")), nil
	}
}
