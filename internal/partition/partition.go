// Package partition splits a page interval into contiguous per-worker ranges.
package partition

import (
	"fmt"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

// Partition divides [start, start+span) across up to workers assignments of at
// most perWorker pages each. The assignments are ordered, disjoint and
// contiguous, and together cover min(span, workers*perWorker) pages from
// start. Pages are spread as evenly as possible; no assignment is empty.
func Partition(start, span, workers, perWorker, pass int) ([]crawler.PageAssignment, error) {
	switch {
	case start < 1:
		return nil, fmt.Errorf("start page must be >= 1, got %d", start)
	case span < 0:
		return nil, fmt.Errorf("span must be >= 0, got %d", span)
	case workers < 1:
		return nil, fmt.Errorf("workers must be >= 1, got %d", workers)
	case perWorker < 1:
		return nil, fmt.Errorf("pages per worker must be >= 1, got %d", perWorker)
	}

	total := span
	if capacity := workers * perWorker; capacity < total {
		total = capacity
	}
	if total == 0 {
		return nil, nil
	}

	n := workers
	if total < n {
		n = total
	}
	base, extra := total/n, total%n

	out := make([]crawler.PageAssignment, 0, n)
	next := start
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, crawler.PageAssignment{
			RangeStart: next,
			RangeEnd:   next + size - 1,
			WorkerID:   i,
			PassNumber: pass,
		})
		next += size
	}
	return out, nil
}

// Covered returns the number of pages spanned by assignments.
func Covered(assignments []crawler.PageAssignment) int {
	total := 0
	for _, a := range assignments {
		total += a.Pages()
	}
	return total
}
