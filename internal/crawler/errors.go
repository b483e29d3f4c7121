package crawler

import "errors"

// Error taxonomy for the crawl engine. Callers wrap these with context and
// test with errors.Is.
var (
	// ErrFetch marks a listing page that could not be fetched; it counts as zero entries.
	ErrFetch = errors.New("fetch error")
	// ErrExtract marks a matched entry whose fields were malformed.
	ErrExtract = errors.New("extract error")
	// ErrConfig marks invalid configuration; it is fatal before any fetch.
	ErrConfig = errors.New("config error")
	// ErrWorkerCrashed marks an unexpected fetch-layer failure that ends a worker.
	ErrWorkerCrashed = errors.New("worker crashed")
	// ErrNoEntryID marks a listing entry without a recognizable document link.
	ErrNoEntryID = errors.New("listing entry has no document id")
	// ErrBudgetExhausted is an outcome reason, not a failure.
	ErrBudgetExhausted = errors.New("page budget exhausted")
)
