// Package registry holds the set of targets a run must locate and their
// found/unfound state. It is safe for concurrent use by many workers.
package registry

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

// Registry tracks targets by canonical id. The unfound -> found transition
// happens at most once per target and is never reverted.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	targets map[string]*crawler.Target
	unfound int
	logger  *zap.Logger
}

// New builds a Registry seeded with ids. Duplicate and blank ids collapse.
func New(logger *zap.Logger, ids ...string) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		targets: make(map[string]*crawler.Target),
		logger:  logger,
	}
	r.Register(ids)
	return r
}

// Register adds ids to the unfound set and returns how many were new.
func (r *Registry) Register(ids []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := r.targets[id]; ok {
			continue
		}
		r.targets[id] = &crawler.Target{ID: id}
		r.order = append(r.order, id)
		r.unfound++
		added++
	}
	return added
}

// Contains reports whether id is a registered target, found or not.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.targets[id]
	return ok
}

// MarkFound records the first match for id. It returns false without error
// when the id is unknown or a concurrent report already won; the losing report
// is logged as a duplicate detection.
func (r *Registry) MarkFound(id string, record crawler.Metadata, page, workerID int) bool {
	r.mu.Lock()
	target, ok := r.targets[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("ignoring match for unregistered id", zap.String("id", id))
		return false
	}
	if target.Found {
		firstPage, firstWorker := target.FoundOnPage, target.FoundByWorker
		r.mu.Unlock()
		r.logger.Info("duplicate target detection discarded",
			zap.String("id", id),
			zap.Bool("duplicate_detection", true),
			zap.Int("page", page),
			zap.Int("worker_id", workerID),
			zap.Int("first_page", firstPage),
			zap.Int("first_worker_id", firstWorker),
		)
		return false
	}
	rec := record
	target.Found = true
	target.Record = &rec
	target.FoundOnPage = page
	target.FoundByWorker = workerID
	r.unfound--
	remaining := r.unfound
	r.mu.Unlock()

	r.logger.Info("target found",
		zap.String("id", id),
		zap.Int("page", page),
		zap.Int("worker_id", workerID),
		zap.Int("remaining", remaining),
	)
	return true
}

// UnfoundIDs returns the ids still missing, in registration order.
func (r *Registry) UnfoundIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, r.unfound)
	for _, id := range r.order {
		if !r.targets[id].Found {
			out = append(out, id)
		}
	}
	return out
}

// AllFound reports whether every registered target has been found. An empty
// registry is never complete.
func (r *Registry) AllFound() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order) > 0 && r.unfound == 0
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Snapshot returns copies of all targets in registration order.
func (r *Registry) Snapshot() []crawler.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crawler.Target, 0, len(r.order))
	for _, id := range r.order {
		t := *r.targets[id]
		if t.Record != nil {
			rec := *t.Record
			t.Record = &rec
		}
		out = append(out, t)
	}
	return out
}
