// Package randomwalk implements an adaptive random walk: uniform
// perturbations around the incumbent, accepted only on strict improvement,
// with the step halved after a run of failures.
package randomwalk

import (
	"context"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/extrema/internal/optimization"
)

// Name is the technique identifier.
const Name = "RandomWalk"

const (
	// DefaultPatience is the number of consecutive rejections that trigger a
	// step reduction.
	DefaultPatience = 20
	// DefaultShrinkFactor scales the step after Patience rejections.
	DefaultShrinkFactor = 0.5
)

// Walker implements optimization.Strategy.
type Walker struct {
	config optimization.Config

	// Patience is K, the rejection streak that shrinks the step.
	Patience int
	// ShrinkFactor multiplies the step on each reduction, in (0, 1).
	ShrinkFactor float64
}

// New creates a Walker.
func New(opts ...optimization.Option) *Walker {
	return &Walker{
		config:       optimization.NewConfig(opts...),
		Patience:     DefaultPatience,
		ShrinkFactor: DefaultShrinkFactor,
	}
}

// Name implements optimization.Strategy.
func (w *Walker) Name() string { return Name }

// Config returns the walker's configuration.
func (w *Walker) Config() optimization.Config { return w.config }

// Optimize runs the walk on target.
func (w *Walker) Optimize(ctx context.Context, target optimization.Target) (*optimization.Result, error) {
	if len(target.InputValues()) == 0 {
		return optimization.Idle(target), nil
	}

	tracker, err := optimization.NewTracker(ctx, target)
	if err != nil {
		return nil, err
	}

	patience := w.Patience
	if patience < 1 {
		patience = DefaultPatience
	}
	shrink := w.ShrinkFactor
	if shrink <= 0 || shrink >= 1 {
		shrink = DefaultShrinkFactor
	}

	src := w.source()
	point, value := tracker.Best()
	candidate := make([]float64, len(point))
	step := w.config.InitialStep
	rejections := 0
	converged := false

	iter := 0
	for ; iter < w.config.MaxIterations; iter++ {
		if err := optimization.Checkpoint(ctx); err != nil {
			return tracker.Finish(ctx, iter, false, err)
		}

		perturb := distuv.Uniform{Min: -step, Max: step, Src: src}
		for i := range point {
			candidate[i] = point[i] + perturb.Rand()
		}

		v, err := tracker.At(ctx, candidate)
		if err != nil {
			return tracker.Finish(ctx, iter, false, err)
		}

		if tracker.Better(v, value) {
			copy(point, candidate)
			value = v
			rejections = 0
			continue
		}

		rejections++
		if rejections >= patience {
			rejections = 0
			step *= shrink
			if step < w.config.Tolerance {
				converged = true
				iter++
				break
			}
		}
	}

	return tracker.Finish(ctx, iter, converged, nil)
}

func (w *Walker) source() rand.Source {
	seed := uint64(w.config.RandomSeed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}
