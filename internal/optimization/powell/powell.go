// Package powell implements Powell's conjugate direction method: successive
// line searches along a direction set that is refreshed with the net
// displacement of each cycle.
package powell

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/extrema/internal/optimization"
	"github.com/copyleftdev/extrema/internal/optimization/linesearch"
)

// Name is the technique identifier.
const Name = "Powell"

// tiny guards the relative convergence test around zero.
const tiny = 1e-25

// Powell implements optimization.Strategy.
type Powell struct {
	config optimization.Config

	// LineSearch bounds each 1-D search. InitialStep and Tolerance are
	// taken from the strategy config when zero.
	LineSearch linesearch.Settings
}

// New creates a Powell strategy.
func New(opts ...optimization.Option) *Powell {
	cfg := optimization.NewConfig(opts...)
	ls := linesearch.DefaultSettings()
	ls.InitialStep = cfg.InitialStep
	ls.Tolerance = cfg.Tolerance
	return &Powell{config: cfg, LineSearch: ls}
}

// Name implements optimization.Strategy.
func (p *Powell) Name() string { return Name }

// Config returns the strategy configuration.
func (p *Powell) Config() optimization.Config { return p.config }

// Optimize runs Powell's method on target.
func (p *Powell) Optimize(ctx context.Context, target optimization.Target) (*optimization.Result, error) {
	n := len(target.InputValues())
	if n == 0 {
		return optimization.Idle(target), nil
	}

	tracker, err := optimization.NewTracker(ctx, target)
	if err != nil {
		return nil, err
	}

	run := &cycle{
		tracker:    tracker,
		directions: identity(n),
		settings:   p.LineSearch,
	}
	run.point, run.value = tracker.Best()

	iter := 0
	for ; iter < p.config.MaxIterations; iter++ {
		start := append([]float64(nil), run.point...)
		startValue := run.value

		bigIdx, bigGain := -1, 0.0
		for i := 0; i < n; i++ {
			if err := optimization.Checkpoint(ctx); err != nil {
				return tracker.Finish(ctx, iter, false, err)
			}
			gain, err := run.minimizeAlong(ctx, run.directions.RawRowView(i))
			if err != nil {
				return tracker.Finish(ctx, iter, false, err)
			}
			if gain > bigGain {
				bigIdx, bigGain = i, gain
			}
		}

		if 2*math.Abs(startValue-run.value) <= p.config.Tolerance*(math.Abs(startValue)+math.Abs(run.value))+tiny {
			return tracker.Finish(ctx, iter+1, true, nil)
		}

		net := floats.SubTo(make([]float64, n), run.point, start)
		if bigIdx < 0 || floats.Norm(net, 2) == 0 {
			continue
		}

		// Drop the direction of largest gain; the newest direction goes last.
		if bigIdx != n-1 {
			run.directions.SetRow(bigIdx, run.directions.RawRowView(n-1))
		}
		run.directions.SetRow(n-1, net)

		if err := optimization.Checkpoint(ctx); err != nil {
			return tracker.Finish(ctx, iter+1, false, err)
		}
		if _, err := run.minimizeAlong(ctx, run.directions.RawRowView(n-1)); err != nil {
			return tracker.Finish(ctx, iter+1, false, err)
		}
	}

	return tracker.Finish(ctx, iter, false, nil)
}

// cycle is the run-scoped state of one Optimize call.
type cycle struct {
	tracker    *optimization.Tracker
	directions *mat.Dense
	settings   linesearch.Settings
	point      []float64
	value      float64
}

// minimizeAlong line-searches from the current point along dir and moves
// there on improvement. It returns the absolute gain.
func (c *cycle) minimizeAlong(ctx context.Context, dir []float64) (float64, error) {
	if floats.Norm(dir, 2) == 0 {
		return 0, nil
	}

	trial := make([]float64, len(c.point))
	f := func(t float64) (float64, error) {
		floats.AddScaledTo(trial, c.point, t, dir)
		return c.tracker.At(ctx, trial)
	}

	best, _, err := linesearch.Search(f, c.tracker.Better, c.value, c.settings)
	if err != nil {
		return 0, err
	}
	if best.T == 0 || !c.tracker.Better(best.F, c.value) {
		return 0, nil
	}

	gain := math.Abs(c.value - best.F)
	floats.AddScaled(c.point, best.T, dir)
	c.value = best.F
	return gain, nil
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}
