package crawler

import (
	"context"
	"io"
	"time"
)

// PageFetcher turns a page number into parsed listing entries. Implementations
// own their transport and are never shared between workers.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) ([]ListingEntry, error)
}

// FetcherFactory builds an independent PageFetcher for each worker. Fetchers
// that also implement io.Closer are closed when their worker ends.
type FetcherFactory interface {
	NewFetcher(workerID int) (PageFetcher, error)
}

// EntryParser computes the canonical id of a listing entry.
type EntryParser interface {
	ParseEntry(entry ListingEntry) (string, error)
}

// MetadataExtractor builds the metadata record for a matched entry. On
// ErrExtract the returned record still carries the fields that parsed.
type MetadataExtractor interface {
	ExtractMetadata(entry ListingEntry, id string, workerID int) (Metadata, error)
}

// RateLimiter paces page fetches.
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for downloaded documents.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
