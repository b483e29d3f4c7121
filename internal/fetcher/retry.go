// Package fetcher holds transport-independent PageFetcher decorators.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/metrics"
)

// Retrying retries failed page fetches according to a RetryPolicy.
type Retrying struct {
	next   crawler.PageFetcher
	policy crawler.RetryPolicy
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewRetrying wraps next. A nil policy disables retries.
func NewRetrying(next crawler.PageFetcher, policy crawler.RetryPolicy, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger, sleep: sleepCtx}
}

// FetchPage implements crawler.PageFetcher.
func (r *Retrying) FetchPage(ctx context.Context, page int) ([]crawler.ListingEntry, error) {
	for attempt := 1; ; attempt++ {
		entries, err := r.next.FetchPage(ctx, page)
		if err == nil {
			return entries, nil
		}
		if r.policy == nil || !r.policy.ShouldRetry(err, attempt) {
			return nil, err
		}
		delay := r.policy.Backoff(attempt)
		metrics.ObserveFetchRetry()
		r.logger.Debug("retrying page fetch",
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if serr := r.sleep(ctx, delay); serr != nil {
			return nil, fmt.Errorf("retry wait for page %d: %w", page, serr)
		}
	}
}

// Close closes the wrapped fetcher when it holds resources.
func (r *Retrying) Close() error {
	if c, ok := r.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// RetryingFactory wraps every fetcher a factory builds in Retrying.
type RetryingFactory struct {
	next   crawler.FetcherFactory
	policy crawler.RetryPolicy
	logger *zap.Logger
}

// NewRetryingFactory wraps next.
func NewRetryingFactory(next crawler.FetcherFactory, policy crawler.RetryPolicy, logger *zap.Logger) *RetryingFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingFactory{next: next, policy: policy, logger: logger}
}

// NewFetcher implements crawler.FetcherFactory.
func (f *RetryingFactory) NewFetcher(workerID int) (crawler.PageFetcher, error) {
	inner, err := f.next.NewFetcher(workerID)
	if err != nil {
		return nil, err
	}
	return NewRetrying(inner, f.policy, f.logger.With(zap.Int("worker_id", workerID))), nil
}

// Close releases factory-level resources of the wrapped factory.
func (f *RetryingFactory) Close() error {
	if c, ok := f.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
