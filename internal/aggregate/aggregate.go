// Package aggregate turns the matches of a run into the final, ordered result.
package aggregate

import (
	"sort"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

// Result is the finalized output of a run.
type Result struct {
	Found    []crawler.Metadata
	NotFound []string
}

// Tracker exposes the registry's remaining targets.
type Tracker interface {
	UnfoundIDs() []string
}

// Merge returns one record per id, keeping the first match seen for an id,
// ordered by (page, worker, id). The input is not modified.
func Merge(matches []crawler.Match) []crawler.Metadata {
	seen := make(map[string]struct{}, len(matches))
	kept := make([]crawler.Match, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		kept = append(kept, m)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.WorkerID != b.WorkerID {
			return a.WorkerID < b.WorkerID
		}
		return a.ID < b.ID
	})

	out := make([]crawler.Metadata, 0, len(kept))
	for _, m := range kept {
		rec := m.Record
		rec.ID = m.ID
		rec.PageNumber = m.Page
		rec.WorkerID = m.WorkerID
		rec.Warnings = append([]string(nil), m.Record.Warnings...)
		out = append(out, rec)
	}
	return out
}

// NotFound lists the ids the run never located, in registration order.
func NotFound(t Tracker) []string {
	ids := t.UnfoundIDs()
	if ids == nil {
		return []string{}
	}
	return ids
}

// Build derives a Result from a registry snapshot.
func Build(snapshot []crawler.Target) Result {
	matches := make([]crawler.Match, 0, len(snapshot))
	notFound := []string{}
	for _, t := range snapshot {
		if !t.Found || t.Record == nil {
			notFound = append(notFound, t.ID)
			continue
		}
		matches = append(matches, crawler.Match{
			ID:       t.ID,
			Record:   *t.Record,
			Page:     t.FoundOnPage,
			WorkerID: t.FoundByWorker,
		})
	}
	return Result{Found: Merge(matches), NotFound: notFound}
}

// Collector drains a match channel on its own goroutine.
type Collector struct {
	done    chan struct{}
	matches []crawler.Match
}

// Collect starts draining ch. Call Wait after ch is closed.
func Collect(ch <-chan crawler.Match) *Collector {
	c := &Collector{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for m := range ch {
			c.matches = append(c.matches, m)
		}
	}()
	return c
}

// Wait blocks until the channel is closed and drained, then returns every
// match in arrival order.
func (c *Collector) Wait() []crawler.Match {
	<-c.done
	return c.matches
}
