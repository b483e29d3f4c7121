// Package download fetches the documents of found agreements into a blob store.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

const (
	defaultContentType = "application/pdf"
	maxDocumentBytes   = 64 << 20
)

// Config controls the download collector.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Downloader stores each found agreement's document under
// downloads/worker_<id>/.
type Downloader struct {
	base    *colly.Collector
	store   crawler.BlobStore
	hasher  crawler.Hasher
	limiter crawler.RateLimiter
	logger  *zap.Logger
}

// New builds a Downloader. limiter may be nil.
func New(cfg Config, store crawler.BlobStore, hasher crawler.Hasher, limiter crawler.RateLimiter, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.MaxBodySize = maxDocumentBytes
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Downloader{
		base:    c,
		store:   store,
		hasher:  hasher,
		limiter: limiter,
		logger:  logger.Named("download"),
	}
}

// Path returns the blob path for a document found by workerID.
func Path(workerID int, downloadURL string) string {
	name := "document"
	if u, err := url.Parse(downloadURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	if path.Ext(name) == "" {
		name += ".pdf"
	}
	return fmt.Sprintf("downloads/worker_%d/%s", workerID, name)
}

// Download fetches rec.DownloadURL and returns a copy of rec that references
// the stored document.
func (d *Downloader) Download(ctx context.Context, rec crawler.Metadata) (crawler.Metadata, error) {
	if rec.DownloadURL == "" {
		return rec, fmt.Errorf("%w: %s: empty download url", crawler.ErrFetch, rec.ID)
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, rec.DownloadURL); err != nil {
			return rec, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, contentType, err := d.fetch(ctx, rec.DownloadURL)
	if err != nil {
		return rec, err
	}
	digest, err := d.hasher.Hash(body)
	if err != nil {
		return rec, fmt.Errorf("hash %s: %w", rec.DownloadURL, err)
	}
	uri, err := d.store.PutObject(ctx, Path(rec.WorkerID, rec.DownloadURL), contentType, bytes.NewReader(body))
	if err != nil {
		return rec, fmt.Errorf("store %s: %w", rec.DownloadURL, err)
	}
	d.logger.Info("document downloaded",
		zap.String("id", rec.ID),
		zap.String("uri", uri),
		zap.Int("bytes", len(body)),
	)
	return rec.WithDocument(uri, digest), nil
}

// DownloadAll downloads every record in order. Records whose download failed
// are returned unchanged and their errors joined.
func (d *Downloader) DownloadAll(ctx context.Context, records []crawler.Metadata) ([]crawler.Metadata, error) {
	out := make([]crawler.Metadata, len(records))
	var errs []error
	for i, rec := range records {
		if ctx.Err() != nil {
			copy(out[i:], records[i:])
			errs = append(errs, ctx.Err())
			break
		}
		updated, err := d.Download(ctx, rec)
		if err != nil {
			d.logger.Warn("document download failed", zap.String("id", rec.ID), zap.Error(err))
			errs = append(errs, err)
		}
		out[i] = updated
	}
	return out, errors.Join(errs...)
}

func (d *Downloader) fetch(ctx context.Context, target string) ([]byte, string, error) {
	var (
		body        []byte
		contentType string
		fetchErr    error
	)
	collector := d.base.Clone()
	collector.AllowURLRevisit = true
	collector.MaxBodySize = maxDocumentBytes
	collector.OnResponse(func(r *colly.Response) {
		body = r.Body
		contentType = r.Headers.Get("Content-Type")
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("download canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, "", fmt.Errorf("%w: %s: %w", crawler.ErrFetch, target, fetchErr)
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: visit %s: %w", crawler.ErrFetch, target, err)
		}
	}
	if contentType == "" {
		contentType = defaultContentType
	}
	return body, contentType, nil
}
