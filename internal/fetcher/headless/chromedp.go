// Package headless fetches listing pages through a real browser via chromedp,
// for listings that only render results with JavaScript.
package headless

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/extract"
)

// PageURLer maps page numbers to listing URLs.
type PageURLer interface {
	PageURL(page int) string
}

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for result items to render.
	Settle time.Duration
	// Debug saves every listing page's HTML to the debug store.
	Debug bool
}

// Factory owns the browser allocator; every worker gets its own browser.
type Factory struct {
	cfg         Config
	pages       PageURLer
	debugStore  crawler.BlobStore
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewFactory creates a chromedp-backed Factory. debugStore may be nil.
func NewFactory(cfg Config, pages PageURLer, debugStore crawler.BlobStore, logger *zap.Logger) (*Factory, error) {
	if pages == nil {
		return nil, errors.New("headless factory requires a page url builder")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Factory{
		cfg:         cfg,
		pages:       pages,
		debugStore:  debugStore,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the allocator and any browsers still running.
func (f *Factory) Close() error {
	f.allocCancel()
	return nil
}

// NewFetcher implements crawler.FetcherFactory. It starts the worker's
// browser before returning, so per-page timeouts never apply to the launch.
func (f *Factory) NewFetcher(workerID int) (crawler.PageFetcher, error) {
	if err := f.allocator.Err(); err != nil {
		return nil, fmt.Errorf("browser allocator closed: %w", err)
	}
	browserCtx, cancel := chromedp.NewContext(f.allocator)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser for worker %d: %w", workerID, err)
	}
	return &Fetcher{
		cfg:        f.cfg,
		pages:      f.pages,
		debugStore: f.debugStore,
		workerID:   workerID,
		userAgent:  workerUserAgent(f.cfg.UserAgent, workerID),
		browser:    browserCtx,
		cancel:     cancel,
		logger:     f.logger.With(zap.Int("worker_id", workerID)),
	}, nil
}

// Fetcher drives one browser for one worker.
type Fetcher struct {
	cfg        Config
	pages      PageURLer
	debugStore crawler.BlobStore
	workerID   int
	userAgent  string
	browser    context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
}

// Close closes the worker's browser.
func (f *Fetcher) Close() error {
	f.cancel()
	return nil
}

// FetchPage implements crawler.PageFetcher. Navigation failures wrap
// crawler.ErrFetch; a dead browser wraps crawler.ErrWorkerCrashed.
func (f *Fetcher) FetchPage(ctx context.Context, page int) ([]crawler.ListingEntry, error) {
	if err := f.browser.Err(); err != nil {
		return nil, fmt.Errorf("%w: browser for worker %d is gone: %w", crawler.ErrWorkerCrashed, f.workerID, err)
	}
	target := f.pages.PageURL(page)

	// The browser and its tab already exist; canceling taskCtx only aborts
	// this page's actions.
	taskCtx, cancel := context.WithTimeout(f.browser, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, err := f.render(taskCtx, target)
	if err != nil {
		return nil, f.classify(ctx, target, err)
	}
	if status := meta.statusOr(http.StatusOK); status >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s: status %d", crawler.ErrFetch, target, status)
	}

	if f.cfg.Debug {
		f.saveDebug(ctx, page, html)
	}
	entries, err := extract.ParseListingBytes([]byte(html), page)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", crawler.ErrFetch, target, err)
	}
	return entries, nil
}

func (f *Fetcher) render(ctx context.Context, target string) (string, error) {
	var html string
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(f.userAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// classify maps a chromedp failure onto the engine's error taxonomy.
func (f *Fetcher) classify(ctx context.Context, target string, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("headless fetch canceled: %w", ctx.Err())
	case f.browser.Err() != nil:
		return fmt.Errorf("%w: %s: %w", crawler.ErrWorkerCrashed, target, err)
	default:
		return fmt.Errorf("%w: %s: %w", crawler.ErrFetch, target, err)
	}
}

func (f *Fetcher) saveDebug(ctx context.Context, page int, html string) {
	if f.debugStore == nil {
		return
	}
	path := DebugPath(f.workerID, page)
	if _, err := f.debugStore.PutObject(ctx, path, "text/html", bytes.NewReader([]byte(html))); err != nil {
		f.logger.Warn("saving page source failed", zap.String("path", path), zap.Error(err))
	}
}

// DebugPath is where page sources are stored in debug mode.
func DebugPath(workerID, page int) string {
	return fmt.Sprintf("debug/worker_%d/page-%d.html", workerID, page)
}

func workerUserAgent(ua string, workerID int) string {
	if ua == "" {
		ua = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	}
	return fmt.Sprintf("%s FCWWorker/%d", ua, workerID)
}

// responseMeta records the status of the main document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) statusOr(fallback int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == 0 {
		return fallback
	}
	return m.status
}
