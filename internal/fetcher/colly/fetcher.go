// Package collyfetcher implements crawler.PageFetcher over plain HTTP using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/extract"
	"github.com/Dev-pucci/FCW-Targeted/internal/headless/detector"
)

// errNeedsRendering marks a 200 response that is a script shell, not an empty listing.
var errNeedsRendering = errors.New("listing page needs javascript rendering; use headless mode")

type renderCheck interface {
	NeedsRendering(status int, body []byte) bool
}

// PageURLer maps page numbers to listing URLs.
type PageURLer interface {
	PageURL(page int) string
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Factory builds one collector per worker so workers never share connections.
type Factory struct {
	cfg    Config
	pages  PageURLer
	shell  renderCheck
	logger *zap.Logger
}

// NewFactory builds a Factory for one listing.
func NewFactory(cfg Config, pages PageURLer, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Factory{cfg: cfg, pages: pages, shell: detector.New(), logger: logger}
}

// NewFetcher implements crawler.FetcherFactory.
func (f *Factory) NewFetcher(workerID int) (crawler.PageFetcher, error) {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(f.cfg.Timeout)
	c.UserAgent = WorkerUserAgent(f.cfg.UserAgent, workerID)
	return &Fetcher{
		base:     c,
		pages:    f.pages,
		shell:    f.shell,
		workerID: workerID,
		logger:   f.logger.With(zap.Int("worker_id", workerID)),
	}, nil
}

// WorkerUserAgent tags ua with the worker id so server logs can tell workers apart.
func WorkerUserAgent(ua string, workerID int) string {
	if ua == "" {
		ua = colly.NewCollector().UserAgent
	}
	return fmt.Sprintf("%s FCWWorker/%d", ua, workerID)
}

// Fetcher fetches listing pages for a single worker.
type Fetcher struct {
	base     *colly.Collector
	pages    PageURLer
	shell    renderCheck
	workerID int
	logger   *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// FetchPage implements crawler.PageFetcher. Transport failures and non-2xx
// responses wrap crawler.ErrFetch.
func (f *Fetcher) FetchPage(ctx context.Context, page int) ([]crawler.ListingEntry, error) {
	var (
		entries  []crawler.ListingEntry
		fetchErr error
	)
	target := f.pages.PageURL(page)
	collector := f.base.Clone()
	collector.AllowURLRevisit = true
	configureHooks(collector, f.shell, page, &entries, &fetchErr)

	if err := runCollector(ctx, collector, target, &fetchErr); err != nil {
		return nil, err
	}
	f.logger.Debug("listing page fetched", zap.Int("page", page), zap.String("url", target), zap.Int("entries", len(entries)))
	return entries, nil
}

func configureHooks(hooks collectorHooks, shell renderCheck, page int, entries *[]crawler.ListingEntry, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		parsed, err := extract.ParseListingBytes(r.Body, page)
		if err != nil {
			*fetchErr = err
			return
		}
		if len(parsed) == 0 && shell != nil && shell.NeedsRendering(r.StatusCode, r.Body) {
			*fetchErr = errNeedsRendering
			return
		}
		*entries = parsed
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("%w: %s: %w", crawler.ErrFetch, url, *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("%w: visit %s: %w", crawler.ErrFetch, url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
