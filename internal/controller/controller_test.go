package controller

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/registry"
)

func TestController_SucceedsInFirstPass(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil, "a", "b")
	runner := newFakeRunner(reg, map[int][]string{2: {"a"}, 7: {"b"}})
	c := mustController(t, runner, reg, Config{MaxPages: 20, TargetPage: 1, Workers: 2, PagesPerWorker: 5})

	out := c.Run(context.Background())

	require.Equal(t, StateSucceeded, out.State)
	require.Equal(t, ReasonAllFound, out.Reason)
	require.Equal(t, 1, out.Passes)
	require.NoError(t, out.Err())
	require.Empty(t, reg.UnfoundIDs())
}

func TestController_DeepensIntoNextPass(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil, "deep")
	runner := newFakeRunner(reg, map[int][]string{14: {"deep"}})
	c := mustController(t, runner, reg, Config{MaxPages: 50, TargetPage: 1, Workers: 2, PagesPerWorker: 5})

	out := c.Run(context.Background())

	require.Equal(t, StateSucceeded, out.State)
	require.Equal(t, 2, out.Passes)
	require.Equal(t, []crawler.PageAssignment{
		{RangeStart: 11, RangeEnd: 15, WorkerID: 0, PassNumber: 2},
		{RangeStart: 16, RangeEnd: 20, WorkerID: 1, PassNumber: 2},
	}, out.Assignments[1])
}

func TestController_ExhaustsBudgetWithMissingTarget(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil, "t1", "t2", "ghost")
	runner := newFakeRunner(reg, map[int][]string{3: {"t1"}, 18: {"t2"}})
	c := mustController(t, runner, reg, Config{MaxPages: 20, TargetPage: 1, Workers: 2, PagesPerWorker: 5})

	out := c.Run(context.Background())

	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, ReasonBudget, out.Reason)
	require.Equal(t, 20, out.PagesVisited)
	require.ErrorIs(t, out.Err(), crawler.ErrBudgetExhausted)
	require.True(t, IsExhausted(out.Err()))
	require.Equal(t, []string{"ghost"}, reg.UnfoundIDs())
}

func TestController_ClampsToBudget(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil, "ghost")
	runner := newFakeRunner(reg, nil)
	c := mustController(t, runner, reg, Config{MaxPages: 7, TargetPage: 3, Workers: 2, PagesPerWorker: 5})

	out := c.Run(context.Background())

	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, 7, out.PagesVisited)
	require.Equal(t, []crawler.PageAssignment{
		{RangeStart: 3, RangeEnd: 6, WorkerID: 0, PassNumber: 1},
		{RangeStart: 7, RangeEnd: 9, WorkerID: 1, PassNumber: 1},
	}, out.Assignments[0])
	require.Equal(t, []int{3, 4, 5, 6, 7, 8, 9}, runner.visitedPages())
}

func TestController_EndOfListing(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil, "ghost")
	runner := newFakeRunner(reg, nil)
	runner.lastPage = 12
	c := mustController(t, runner, reg, Config{MaxPages: 100, TargetPage: 1, Workers: 2, PagesPerWorker: 5})

	out := c.Run(context.Background())

	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, ReasonEndOfListing, out.Reason)
	require.Equal(t, 2, out.Passes)
}

func TestController_ExponentialGrowth(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil, "x")
	runner := newFakeRunner(reg, map[int][]string{12: {"x"}})
	c := mustController(t, runner, reg, Config{
		MaxPages: 100, TargetPage: 1, Workers: 1, PagesPerWorker: 2, Growth: GrowthExponential, GrowthCap: 64,
	})

	out := c.Run(context.Background())

	require.Equal(t, StateSucceeded, out.State)
	require.Equal(t, []int{2, 4, 8}, passSizes(out))
	require.Equal(t, 7, out.Assignments[2][0].RangeStart)
}

func TestController_ExponentialGrowthRespectsCap(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil, "ghost")
	runner := newFakeRunner(reg, nil)
	c := mustController(t, runner, reg, Config{
		MaxPages: 20, TargetPage: 1, Workers: 1, PagesPerWorker: 2, Growth: GrowthExponential, GrowthCap: 5,
	})

	out := c.Run(context.Background())

	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, []int{2, 4, 5, 5, 4}, passSizes(out))
	require.Equal(t, 20, out.PagesVisited)
}

func TestController_DeferredRemainderRunsFirst(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil, "late")
	runner := newFakeRunner(reg, map[int][]string{3: {"late"}})
	runner.crashAt[3] = true
	c := mustController(t, runner, reg, Config{MaxPages: 30, TargetPage: 1, Workers: 2, PagesPerWorker: 3})

	out := c.Run(context.Background())

	require.Equal(t, StateSucceeded, out.State)
	require.Equal(t, 2, out.Passes)
	second := out.Assignments[1]
	require.Equal(t, crawler.PageAssignment{RangeStart: 3, RangeEnd: 3, WorkerID: 0, PassNumber: 2}, second[0])
	require.Equal(t, 7, second[1].RangeStart)
	require.Equal(t, 1, second[1].WorkerID)
}

func TestController_StallsAfterRepeatedZeroProgress(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil, "ghost")
	runner := newFakeRunner(reg, nil)
	runner.zeroVisit = true
	c := mustController(t, runner, reg, Config{MaxPages: 100, TargetPage: 1, Workers: 2, PagesPerWorker: 2})

	out := c.Run(context.Background())

	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, ReasonStalled, out.Reason)
	require.Equal(t, 3, out.Passes)
}

func TestController_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg := registry.New(nil, "ghost")
	c := mustController(t, newFakeRunner(reg, nil), reg, Config{MaxPages: 10, TargetPage: 1, Workers: 1, PagesPerWorker: 1})

	out := c.Run(ctx)

	require.Equal(t, StateCanceled, out.State)
	require.Zero(t, out.Passes)
	require.ErrorIs(t, out.Err(), context.Canceled)
}

func TestController_CoverageIsContiguousAndWithinBudget(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		max, start, workers, per int
		growth                   Growth
	}{
		{max: 5, start: 1, workers: 4, per: 5},
		{max: 23, start: 1, workers: 3, per: 2},
		{max: 40, start: 9, workers: 4, per: 5},
		{max: 37, start: 2, workers: 2, per: 1, growth: GrowthExponential},
		{max: 1, start: 100, workers: 8, per: 8},
	} {
		reg := registry.New(nil, "ghost")
		runner := newFakeRunner(reg, nil)
		c := mustController(t, runner, reg, Config{
			MaxPages: tc.max, TargetPage: tc.start, Workers: tc.workers, PagesPerWorker: tc.per, Growth: tc.growth,
		})

		out := c.Run(context.Background())

		require.Equal(t, StateExhausted, out.State)
		require.Equal(t, tc.max, out.PagesVisited)
		want := make([]int, 0, tc.max)
		for p := tc.start; p < tc.start+tc.max; p++ {
			want = append(want, p)
		}
		require.Equal(t, want, runner.visitedPages(), "case %+v", tc)
		for _, pass := range out.Assignments {
			for _, a := range pass {
				require.LessOrEqual(t, a.Pages(), tc.per<<len(out.Assignments))
			}
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := Config{MaxPages: 5, TargetPage: 1, Workers: 4, PagesPerWorker: 5}
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*Config){
		"max pages":   func(c *Config) { c.MaxPages = 0 },
		"target page": func(c *Config) { c.TargetPage = 0 },
		"workers":     func(c *Config) { c.Workers = 0 },
		"per worker":  func(c *Config) { c.PagesPerWorker = -1 },
		"growth":      func(c *Config) { c.Growth = "linear" },
		"growth cap":  func(c *Config) { c.GrowthCap = -1 },
	} {
		cfg := valid
		mutate(&cfg)
		err := cfg.Validate()
		require.ErrorIs(t, err, crawler.ErrConfig, name)

		_, err = New(nil, nil, cfg, zap.NewNop())
		require.Error(t, err, name)
	}
}

func TestParseGrowth(t *testing.T) {
	t.Parallel()

	g, err := ParseGrowth("")
	require.NoError(t, err)
	require.Equal(t, GrowthFixed, g)

	g, err = ParseGrowth("exponential")
	require.NoError(t, err)
	require.Equal(t, GrowthExponential, g)

	_, err = ParseGrowth("random")
	require.ErrorIs(t, err, crawler.ErrConfig)
}

func mustController(t *testing.T, runner PassRunner, tracker Tracker, cfg Config) *Controller {
	t.Helper()
	c, err := New(runner, tracker, cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func passSizes(out Outcome) []int {
	sizes := make([]int, 0, len(out.Assignments))
	for _, pass := range out.Assignments {
		total := 0
		for _, a := range pass {
			total += a.Pages()
		}
		sizes = append(sizes, total)
	}
	return sizes
}

// fakeRunner walks assignments sequentially against an in-memory listing.
type fakeRunner struct {
	reg       *registry.Registry
	pages     map[int][]string
	lastPage  int
	crashAt   map[int]bool
	zeroVisit bool
	visited   []int
}

func newFakeRunner(reg *registry.Registry, pages map[int][]string) *fakeRunner {
	return &fakeRunner{reg: reg, pages: pages, crashAt: map[int]bool{}}
}

func (f *fakeRunner) RunPass(_ context.Context, assignments []crawler.PageAssignment) crawler.PassResult {
	var res crawler.PassResult
	for _, a := range assignments {
		for p := a.RangeStart; p <= a.RangeEnd; p++ {
			if f.zeroVisit || f.reg.AllFound() {
				break
			}
			if f.crashAt[p] {
				delete(f.crashAt, p)
				rest := a
				rest.RangeStart = p
				res.Deferred = append(res.Deferred, rest)
				break
			}
			f.visited = append(f.visited, p)
			res.PagesVisited++
			if f.lastPage > 0 && p > f.lastPage {
				res.EndOfListing = true
				break
			}
			for _, id := range f.pages[p] {
				f.reg.MarkFound(id, crawler.Metadata{ID: id}, p, a.WorkerID)
			}
		}
	}
	return res
}

func (f *fakeRunner) visitedPages() []int {
	out := append([]int(nil), f.visited...)
	sort.Ints(out)
	return out
}
