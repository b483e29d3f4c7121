// Package controller drives the bounded sequence of crawl passes for one
// listing and decides when the run stops.
package controller

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/metrics"
	"github.com/Dev-pucci/FCW-Targeted/internal/partition"
)

// State is a controller FSM state.
type State string

// Controller states. SUCCEEDED, EXHAUSTED and CANCELED are terminal.
const (
	StatePassRunning State = "PASS_RUNNING"
	StateEvaluating  State = "EVALUATING"
	StateNextPass    State = "NEXT_PASS"
	StateSucceeded   State = "SUCCEEDED"
	StateExhausted   State = "EXHAUSTED"
	StateCanceled    State = "CANCELED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateCanceled
}

// Outcome reasons.
const (
	ReasonAllFound     = "all_found"
	ReasonBudget       = "budget"
	ReasonEndOfListing = "end_of_listing"
	ReasonStalled      = "stalled"
	ReasonCanceled     = "canceled"
)

// stallLimit is the number of consecutive zero-progress passes tolerated.
const stallLimit = 3

// Growth selects how pages-per-worker evolves across passes.
type Growth string

// Growth policies.
const (
	GrowthFixed       Growth = "fixed"
	GrowthExponential Growth = "exponential"
)

// ParseGrowth maps a config value onto a Growth policy. Empty means fixed.
func ParseGrowth(s string) (Growth, error) {
	switch Growth(s) {
	case "", GrowthFixed:
		return GrowthFixed, nil
	case GrowthExponential:
		return GrowthExponential, nil
	default:
		return "", fmt.Errorf("%w: unknown growth policy %q", crawler.ErrConfig, s)
	}
}

// PassRunner executes one pass of assignments to completion.
type PassRunner interface {
	RunPass(ctx context.Context, assignments []crawler.PageAssignment) crawler.PassResult
}

// Tracker exposes the registry's remaining targets.
type Tracker interface {
	UnfoundIDs() []string
}

// Config sizes the passes.
type Config struct {
	MaxPages       int
	TargetPage     int
	Workers        int
	PagesPerWorker int
	Growth         Growth
	// GrowthCap bounds pages-per-worker under exponential growth; 0 means no cap.
	GrowthCap int
}

// Validate rejects configurations that could never make progress.
func (c Config) Validate() error {
	switch {
	case c.MaxPages <= 0:
		return fmt.Errorf("%w: maxPages must be positive, got %d", crawler.ErrConfig, c.MaxPages)
	case c.TargetPage < 1:
		return fmt.Errorf("%w: targetPage must be at least 1, got %d", crawler.ErrConfig, c.TargetPage)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive, got %d", crawler.ErrConfig, c.Workers)
	case c.PagesPerWorker <= 0:
		return fmt.Errorf("%w: pagesPerWorker must be positive, got %d", crawler.ErrConfig, c.PagesPerWorker)
	case c.GrowthCap < 0:
		return fmt.Errorf("%w: growthCap must not be negative, got %d", crawler.ErrConfig, c.GrowthCap)
	}
	if _, err := ParseGrowth(string(c.Growth)); err != nil {
		return err
	}
	return nil
}

// Outcome is the terminal result of Run.
type Outcome struct {
	State        State
	Reason       string
	Passes       int
	PagesVisited int
	// Assignments is the planned assignment list of every pass, in order.
	Assignments [][]crawler.PageAssignment
}

// Err maps a non-success outcome onto an error for callers that want one.
func (o Outcome) Err() error {
	switch o.State {
	case StateExhausted:
		return fmt.Errorf("%w: %s after %d pages", crawler.ErrBudgetExhausted, o.Reason, o.PagesVisited)
	case StateCanceled:
		return context.Canceled
	default:
		return nil
	}
}

// Controller owns the RunState for one listing.
type Controller struct {
	runner  PassRunner
	tracker Tracker
	cfg     Config
	logger  *zap.Logger

	state    State
	run      crawler.RunState
	deferred []crawler.PageAssignment
	last     crawler.PassResult
	stalls   int
	history  [][]crawler.PageAssignment
	reason   string
}

// New validates cfg and returns a Controller ready to Run.
func New(runner PassRunner, tracker Tracker, cfg Config, logger *zap.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Growth == "" {
		cfg.Growth = GrowthFixed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		runner:  runner,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run drives passes until a terminal state is reached.
func (c *Controller) Run(ctx context.Context) Outcome {
	c.state = StatePassRunning
	c.run = crawler.RunState{
		Pass:            1,
		BudgetRemaining: c.cfg.MaxPages,
		NextPage:        c.cfg.TargetPage,
	}
	c.deferred = nil
	c.history = nil
	c.stalls = 0

	for !c.state.Terminal() {
		switch c.state {
		case StatePassRunning:
			c.runPass(ctx)
		case StateEvaluating:
			c.evaluate(ctx)
		case StateNextPass:
			c.run.Pass++
			c.state = StatePassRunning
		}
	}

	metrics.ObservePass(string(c.state))
	out := Outcome{
		State:        c.state,
		Reason:       c.reason,
		Passes:       len(c.history),
		PagesVisited: c.run.PagesVisited,
		Assignments:  c.history,
	}
	c.logger.Info("crawl finished",
		zap.String("state", string(out.State)),
		zap.String("reason", out.Reason),
		zap.Int("passes", out.Passes),
		zap.Int("pages_visited", out.PagesVisited),
	)
	return out
}

func (c *Controller) runPass(ctx context.Context) {
	if ctx.Err() != nil {
		c.finish(StateCanceled, ReasonCanceled)
		return
	}
	if len(c.tracker.UnfoundIDs()) == 0 {
		c.finish(StateSucceeded, ReasonAllFound)
		return
	}

	assignments, freshEnd, err := c.plan()
	if err != nil {
		// plan only feeds validated, positive sizes to the partitioner.
		c.logger.Error("pass planning failed", zap.Error(err))
		c.finish(StateExhausted, ReasonBudget)
		return
	}
	if len(assignments) == 0 {
		c.finish(StateExhausted, ReasonBudget)
		return
	}

	c.logger.Info("pass starting",
		zap.Int("pass", c.run.Pass),
		zap.Int("assignments", len(assignments)),
		zap.Int("pages_planned", partition.Covered(assignments)),
		zap.Int("budget_remaining", c.run.BudgetRemaining),
	)
	c.history = append(c.history, assignments)
	c.last = c.runner.RunPass(ctx, assignments)

	c.run.PagesVisited += c.last.PagesVisited
	c.run.BudgetRemaining = c.cfg.MaxPages - c.run.PagesVisited
	if freshEnd > 0 {
		c.run.NextPage = freshEnd + 1
	}
	c.deferred = c.last.Deferred
	c.state = StateEvaluating
}

// plan builds this pass's assignments: deferred crash remainders first, then
// a fresh interval starting at NextPage. It returns the fresh interval's last
// page, or 0 when no fresh pages were planned.
func (c *Controller) plan() ([]crawler.PageAssignment, int, error) {
	budget := c.run.BudgetRemaining
	var out []crawler.PageAssignment
	for _, d := range c.deferred {
		if budget <= 0 {
			break
		}
		if d.Pages() > budget {
			d.RangeEnd = d.RangeStart + budget - 1
		}
		d.WorkerID = len(out)
		d.PassNumber = c.run.Pass
		out = append(out, d)
		budget -= d.Pages()
	}

	perWorker := c.pagesPerWorker(c.run.Pass)
	span := c.cfg.Workers * perWorker
	if span > budget {
		span = budget
	}
	if span <= 0 {
		return out, 0, nil
	}
	fresh, err := partition.Partition(c.run.NextPage, span, c.cfg.Workers, perWorker, c.run.Pass)
	if err != nil {
		return nil, 0, fmt.Errorf("partition pass %d: %w", c.run.Pass, err)
	}
	offset := len(out)
	for i := range fresh {
		fresh[i].WorkerID += offset
	}
	out = append(out, fresh...)
	return out, fresh[len(fresh)-1].RangeEnd, nil
}

func (c *Controller) pagesPerWorker(pass int) int {
	p := c.cfg.PagesPerWorker
	if c.cfg.Growth != GrowthExponential {
		return p
	}
	limit := c.cfg.GrowthCap
	if limit <= 0 {
		limit = c.cfg.MaxPages
	}
	if limit < p {
		return p
	}
	for i := 1; i < pass && p < limit; i++ {
		p *= 2
	}
	if p > limit {
		p = limit
	}
	return p
}

func (c *Controller) evaluate(ctx context.Context) {
	unfound := c.tracker.UnfoundIDs()
	switch {
	case len(unfound) == 0:
		c.finish(StateSucceeded, ReasonAllFound)
	case ctx.Err() != nil:
		c.finish(StateCanceled, ReasonCanceled)
	case c.run.PagesVisited >= c.cfg.MaxPages:
		c.finish(StateExhausted, ReasonBudget)
	case c.last.EndOfListing:
		c.finish(StateExhausted, ReasonEndOfListing)
	default:
		if c.last.PagesVisited == 0 {
			c.stalls++
		} else {
			c.stalls = 0
		}
		if c.stalls >= stallLimit {
			c.finish(StateExhausted, ReasonStalled)
			return
		}
		c.logger.Info("targets remain; scheduling next pass",
			zap.Int("pass", c.run.Pass),
			zap.Int("unfound", len(unfound)),
			zap.Int("next_page", c.run.NextPage),
			zap.Int("deferred", len(c.deferred)),
		)
		c.state = StateNextPass
	}
}

func (c *Controller) finish(state State, reason string) {
	c.state = state
	c.reason = reason
}

// IsExhausted reports whether err came from an exhausted Outcome.
func IsExhausted(err error) bool {
	return errors.Is(err, crawler.ErrBudgetExhausted)
}
