// Package neldermead adapts gonum's Nelder-Mead simplex method to the
// optimization.Strategy interface.
package neldermead

import (
	"context"

	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/extrema/internal/optimization"
)

// Name is the technique identifier.
const Name = "NelderMead"

// NelderMead implements optimization.Strategy.
type NelderMead struct {
	config optimization.Config
}

// New creates a NelderMead strategy.
func New(opts ...optimization.Option) *NelderMead {
	return &NelderMead{config: optimization.NewConfig(opts...)}
}

// Name implements optimization.Strategy.
func (nm *NelderMead) Name() string { return Name }

// Config returns the strategy configuration.
func (nm *NelderMead) Config() optimization.Config { return nm.config }

// Optimize runs the simplex search on target. gonum minimizes, so the
// objective is negated when the target maximizes.
func (nm *NelderMead) Optimize(ctx context.Context, target optimization.Target) (*optimization.Result, error) {
	start := target.InputValues()
	if len(start) == 0 {
		return optimization.Idle(target), nil
	}

	tracker, err := optimization.NewTracker(ctx, target)
	if err != nil {
		return nil, err
	}
	_, f0 := tracker.Best()

	sign := 1.0
	if !tracker.Minimize() {
		sign = -1.0
	}

	// evalErr is the first error seen; Status reports it so Minimize stops
	// after the failing evaluation.
	var evalErr error
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if evalErr != nil {
				return 0
			}
			if err := optimization.Checkpoint(ctx); err != nil {
				evalErr = err
				return 0
			}
			v, err := tracker.At(ctx, x)
			if err != nil {
				evalErr = err
				return 0
			}
			return sign * v
		},
		Status: func() (optimize.Status, error) {
			if evalErr != nil {
				return optimize.Failure, evalErr
			}
			return optimize.NotTerminated, nil
		},
	}

	settings := &optimize.Settings{
		InitValues:      &optimize.Location{F: sign * f0},
		MajorIterations: nm.config.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   nm.config.Tolerance,
			Relative:   nm.config.Tolerance,
			Iterations: 50,
		},
	}

	method := &optimize.NelderMead{
		Reflection:  1.0,
		Expansion:   2.0,
		Contraction: 0.5,
		Shrink:      0.5,
		SimplexSize: nm.config.InitialStep,
	}

	result, err := optimize.Minimize(problem, start, settings, method)
	iterations := 0
	if result != nil {
		iterations = result.MajorIterations
	}
	if evalErr != nil {
		return tracker.Finish(ctx, iterations, false, evalErr)
	}
	if err != nil {
		return tracker.Finish(ctx, iterations, false, optimization.WrapError(err, "nelder-mead"))
	}

	converged := result.Status == optimize.FunctionConvergence || result.Status == optimize.MethodConverge
	return tracker.Finish(ctx, iterations, converged, nil)
}
