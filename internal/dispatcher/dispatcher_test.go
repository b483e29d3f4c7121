package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/registry"
	"github.com/Dev-pucci/FCW-Targeted/internal/worker"
)

func TestDispatcher_RunPass_JoinsAllWorkers(t *testing.T) {
	t.Parallel()

	factory := newFakeFactory(fullListing(6))
	reg := registry.New(nil, "p2-0", "p5-1", "absent")
	matches := make(chan crawler.Match, 8)
	d := New(factory, idParser{}, noopExtractor{}, reg, nil, nil, matches, Config{}, zap.NewNop())

	res := d.RunPass(context.Background(), []crawler.PageAssignment{
		{RangeStart: 1, RangeEnd: 3, WorkerID: 0, PassNumber: 1},
		{RangeStart: 4, RangeEnd: 6, WorkerID: 1, PassNumber: 1},
	})

	require.Equal(t, 6, res.PagesVisited)
	require.False(t, res.EndOfListing)
	require.Empty(t, res.Deferred)
	require.Len(t, res.Reports, 2)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, factory.visited())
	require.Len(t, matches, 2)
	require.Equal(t, []string{"absent"}, reg.UnfoundIDs())
	require.Equal(t, 2, factory.closed())
}

func TestDispatcher_RunPass_ReassignsCrashedRemainder(t *testing.T) {
	t.Parallel()

	factory := newFakeFactory(fullListing(6))
	factory.crashOn[0] = 2
	reg := registry.New(nil, "p3-0", "never")
	d := New(factory, idParser{}, noopExtractor{}, reg, nil, nil, make(chan crawler.Match, 4),
		Config{ReassignAttempts: 1}, nil)

	res := d.RunPass(context.Background(), []crawler.PageAssignment{
		{RangeStart: 1, RangeEnd: 3, WorkerID: 0, PassNumber: 1},
		{RangeStart: 4, RangeEnd: 6, WorkerID: 1, PassNumber: 1},
	})

	require.Empty(t, res.Deferred)
	require.Equal(t, 6, res.PagesVisited)
	require.Len(t, res.Reports, 3)
	require.Equal(t, 2, res.Reports[2].WorkerID)
	require.Equal(t, 2, res.Reports[2].Assignment.RangeStart)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, factory.visited(), "no page is fetched twice")
	require.Equal(t, []string{"never"}, reg.UnfoundIDs())
}

func TestDispatcher_RunPass_RescansPageAfterExtractPanic(t *testing.T) {
	t.Parallel()

	factory := newFakeFactory(map[int][]string{1: {"bad", "t"}, 2: {"x"}, 3: {"y"}})
	reg := registry.New(nil, "bad", "t")
	matches := make(chan crawler.Match, 4)
	d := New(factory, idParser{}, &panicOnceExtractor{}, reg, nil, nil, matches,
		Config{ReassignAttempts: 1}, nil)

	res := d.RunPass(context.Background(), []crawler.PageAssignment{
		{RangeStart: 1, RangeEnd: 3, WorkerID: 0, PassNumber: 1},
	})

	require.Len(t, res.Reports, 2)
	require.ErrorContains(t, res.Reports[0].Err, "panicked on page 1")
	require.Equal(t, 1, res.Reports[1].Assignment.RangeStart)
	require.Equal(t, 3, res.Reports[1].Assignment.RangeEnd)
	require.Empty(t, reg.UnfoundIDs())
	require.Empty(t, res.Deferred)
	require.Len(t, matches, 2)
	require.Equal(t, 2, res.PagesVisited)
}

func TestDispatcher_RunPass_DefersWhenNoAttemptsLeft(t *testing.T) {
	t.Parallel()

	factory := newFakeFactory(fullListing(4))
	factory.crashOn[0] = 3
	d := New(factory, idParser{}, noopExtractor{}, registry.New(nil, "x"), nil, nil, make(chan crawler.Match, 1),
		Config{ReassignAttempts: 0}, nil)

	res := d.RunPass(context.Background(), []crawler.PageAssignment{
		{RangeStart: 1, RangeEnd: 4, WorkerID: 0, PassNumber: 2},
	})

	require.Equal(t, 2, res.PagesVisited)
	require.Equal(t, []crawler.PageAssignment{{RangeStart: 3, RangeEnd: 4, WorkerID: 0, PassNumber: 2}}, res.Deferred)
}

func TestDispatcher_RunPass_FetcherSetupFailureIsACrash(t *testing.T) {
	t.Parallel()

	factory := newFakeFactory(fullListing(2))
	factory.failFor[0] = errors.New("no browser")
	d := New(factory, idParser{}, noopExtractor{}, registry.New(nil, "x"), nil, nil, make(chan crawler.Match, 1),
		Config{ReassignAttempts: 1}, nil)

	res := d.RunPass(context.Background(), []crawler.PageAssignment{
		{RangeStart: 1, RangeEnd: 2, WorkerID: 0, PassNumber: 1},
	})

	require.Len(t, res.Reports, 2)
	require.Equal(t, crawler.StopCrashed, res.Reports[0].Stop)
	require.ErrorIs(t, res.Reports[0].Err, crawler.ErrWorkerCrashed)
	require.Equal(t, 1, res.Reports[1].WorkerID)
	require.Equal(t, 2, res.PagesVisited)
	require.Empty(t, res.Deferred)
}

func TestDispatcher_RunPass_EndOfListing(t *testing.T) {
	t.Parallel()

	factory := newFakeFactory(fullListing(3))
	d := New(factory, idParser{}, noopExtractor{}, registry.New(nil, "x"), nil, nil, make(chan crawler.Match, 1), Config{}, nil)

	res := d.RunPass(context.Background(), []crawler.PageAssignment{
		{RangeStart: 1, RangeEnd: 2, WorkerID: 0},
		{RangeStart: 3, RangeEnd: 4, WorkerID: 1},
		{RangeStart: 5, RangeEnd: 6, WorkerID: 2},
	})

	require.True(t, res.EndOfListing)
	// 1,2,3 have entries; 4 and 5 come back empty and still count.
	require.Equal(t, 5, res.PagesVisited)
}

func TestDispatcher_RunPass_NoReassignAfterStop(t *testing.T) {
	t.Parallel()

	factory := newFakeFactory(fullListing(4))
	factory.crashOn[0] = 2
	stop := &worker.StopSignal{}
	stop.Broadcast()
	d := New(factory, idParser{}, noopExtractor{}, registry.New(nil, "x"), nil, stop, make(chan crawler.Match, 1),
		Config{ReassignAttempts: 3}, nil)

	res := d.RunPass(context.Background(), []crawler.PageAssignment{{RangeStart: 1, RangeEnd: 4, WorkerID: 0}})

	require.True(t, d.Stopped())
	require.Len(t, res.Reports, 1)
	require.Equal(t, crawler.StopAllFound, res.Reports[0].Stop)
	require.Empty(t, res.Deferred)
}

// fullListing builds pages 1..n with two entries each, named p<page>-<index>.
func fullListing(n int) map[int][]string {
	pages := make(map[int][]string, n)
	for p := 1; p <= n; p++ {
		pages[p] = []string{fmt.Sprintf("p%d-0", p), fmt.Sprintf("p%d-1", p)}
	}
	return pages
}

type fakeFactory struct {
	mu         sync.Mutex
	pages      map[int][]string
	crashOn    map[int]int
	failFor    map[int]error
	seen       []int
	closeCount int
}

func newFakeFactory(pages map[int][]string) *fakeFactory {
	return &fakeFactory{pages: pages, crashOn: map[int]int{}, failFor: map[int]error{}}
}

func (f *fakeFactory) NewFetcher(workerID int) (crawler.PageFetcher, error) {
	if err := f.failFor[workerID]; err != nil {
		return nil, err
	}
	return &fakeFetcher{factory: f, crashOn: f.crashOn[workerID]}, nil
}

func (f *fakeFactory) visited() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int(nil), f.seen...)
	sort.Ints(out)
	return out
}

func (f *fakeFactory) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

type fakeFetcher struct {
	factory *fakeFactory
	crashOn int
}

func (f *fakeFetcher) FetchPage(_ context.Context, page int) ([]crawler.ListingEntry, error) {
	if page == f.crashOn {
		return nil, fmt.Errorf("%w: session lost", crawler.ErrWorkerCrashed)
	}
	f.factory.mu.Lock()
	f.factory.seen = append(f.factory.seen, page)
	f.factory.mu.Unlock()
	var entries []crawler.ListingEntry
	for i, id := range f.factory.pages[page] {
		entries = append(entries, crawler.ListingEntry{Page: page, Index: i, Title: id})
	}
	return entries, nil
}

func (f *fakeFetcher) Close() error {
	f.factory.mu.Lock()
	f.factory.closeCount++
	f.factory.mu.Unlock()
	return nil
}

type idParser struct{}

func (idParser) ParseEntry(e crawler.ListingEntry) (string, error) {
	return e.Title, nil
}

type noopExtractor struct{}

func (noopExtractor) ExtractMetadata(_ crawler.ListingEntry, id string, _ int) (crawler.Metadata, error) {
	return crawler.Metadata{ID: id}, nil
}

type panicOnceExtractor struct {
	fired atomic.Bool
}

func (e *panicOnceExtractor) ExtractMetadata(_ crawler.ListingEntry, id string, _ int) (crawler.Metadata, error) {
	if e.fired.CompareAndSwap(false, true) {
		panic("unexpected chip layout")
	}
	return crawler.Metadata{ID: id}, nil
}
