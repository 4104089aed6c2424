// Package bayesian implements a trust-region Bayesian optimizer. A Gaussian
// process is fitted to recent evaluations and the next point maximizes
// Expected Improvement inside a box around the incumbent. The box shrinks
// after a run of unsuccessful proposals.
package bayesian

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/extrema/internal/optimization"
	"github.com/copyleftdev/extrema/internal/optimization/acquisition"
	"github.com/copyleftdev/extrema/internal/optimization/kernels"
)

// Name is the technique identifier.
const Name = "Bayesian"

const (
	// DefaultInitialPoints is the size of the Latin hypercube design
	// evaluated before the surrogate takes over.
	DefaultInitialPoints = 5
	// DefaultHistory caps the number of observations the surrogate is
	// fitted to.
	DefaultHistory = 40
	// DefaultPatience is the number of consecutive unsuccessful proposals
	// that shrink the trust region.
	DefaultPatience = 3
	// DefaultShrinkFactor scales the trust region radius on each shrink.
	DefaultShrinkFactor = 0.5
	// DefaultXi is the exploration margin of Expected Improvement.
	DefaultXi = 0.01

	noiseVar = 1e-6
)

// Optimizer implements optimization.Strategy.
type Optimizer struct {
	config optimization.Config

	InitialPoints int
	History       int
	Patience      int
	ShrinkFactor  float64
	Xi            float64

	// Logger receives surrogate diagnostics. Nil discards them.
	Logger *zap.Logger
}

// New creates an Optimizer. The trust region starts with radius
// Config.InitialStep and the run converges once it drops below
// Config.Tolerance.
func New(opts ...optimization.Option) *Optimizer {
	return &Optimizer{
		config:        optimization.NewConfig(opts...),
		InitialPoints: DefaultInitialPoints,
		History:       DefaultHistory,
		Patience:      DefaultPatience,
		ShrinkFactor:  DefaultShrinkFactor,
		Xi:            DefaultXi,
	}
}

// Name implements optimization.Strategy.
func (o *Optimizer) Name() string { return Name }

// Config returns the optimizer's configuration.
func (o *Optimizer) Config() optimization.Config { return o.config }

// observation is one evaluated point.
type observation struct {
	x []float64
	y float64
}

// Optimize runs the optimizer on target. Every evaluation counts as one
// iteration.
func (o *Optimizer) Optimize(ctx context.Context, target optimization.Target) (*optimization.Result, error) {
	if len(target.InputValues()) == 0 {
		return optimization.Idle(target), nil
	}

	tracker, err := optimization.NewTracker(ctx, target)
	if err != nil {
		return nil, err
	}

	patience := o.Patience
	if patience < 1 {
		patience = DefaultPatience
	}
	shrink := o.ShrinkFactor
	if shrink <= 0 || shrink >= 1 {
		shrink = DefaultShrinkFactor
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rng := rand.New(o.source())
	center, best := tracker.Best()
	history := []observation{{x: append([]float64(nil), center...), y: best}}
	radius := o.config.InitialStep
	design := latinHypercube(rng, o.InitialPoints, center, radius)
	failures := 0
	converged := false

	iter := 0
	for ; iter < o.config.MaxIterations; iter++ {
		if err := optimization.Checkpoint(ctx); err != nil {
			return tracker.Finish(ctx, iter, false, err)
		}

		var candidate []float64
		fromDesign := len(design) > 0
		if fromDesign {
			candidate, design = design[0], design[1:]
		} else {
			candidate = o.propose(rng, logger, history, center, best, radius, tracker.Minimize())
		}

		v, err := tracker.At(ctx, candidate)
		if err != nil {
			return tracker.Finish(ctx, iter, false, err)
		}
		history = append(history, observation{x: append([]float64(nil), candidate...), y: v})

		if tracker.Better(v, best) {
			copy(center, candidate)
			best = v
			failures = 0
			continue
		}
		if fromDesign {
			continue
		}

		failures++
		if failures >= patience {
			failures = 0
			radius *= shrink
			logger.Debug("Shrinking trust region", zap.Float64("radius", radius))
			if radius < o.config.Tolerance {
				converged = true
				iter++
				break
			}
		}
	}

	return tracker.Finish(ctx, iter, converged, nil)
}

// propose returns the point in the trust region that maximizes Expected
// Improvement under a surrogate fitted to recent history. When the
// surrogate cannot be fitted it returns a uniform draw from the region.
func (o *Optimizer) propose(rng *rand.Rand, logger *zap.Logger, history []observation, center []float64, best, radius float64, minimize bool) []float64 {
	dims := len(center)
	train := o.trainingSet(history, best)

	ys := make([]float64, len(train))
	for i, obs := range train {
		ys[i] = obs.y
	}
	mean, std := stat.MeanStdDev(ys, nil)
	if !(std > 0) {
		std = 1
	}

	X := mat.NewDense(len(train), dims, nil)
	y := mat.NewVecDense(len(train), nil)
	for i, obs := range train {
		X.SetRow(i, obs.x)
		y.SetVec(i, (obs.y-mean)/std)
	}

	kernel, err := kernels.NewMatern52Kernel(radius, 1)
	if err != nil {
		return uniformIn(rng, center, radius)
	}
	gp := NewGP(kernel, noiseVar, logger)
	if err := gp.Fit(X, y); err != nil {
		logger.Debug("Surrogate fit failed, sampling uniformly", zap.Error(err))
		return uniformIn(rng, center, radius)
	}

	ei := acquisition.NewExpectedImprovement((best-mean)/std, o.Xi, minimize)
	point := mat.NewDense(1, dims, nil)
	clamped := make([]float64, dims)
	negEI := func(x []float64) float64 {
		clamp(clamped, x, center, radius)
		point.SetRow(0, clamped)
		mu, variance, err := gp.Predict(point)
		if err != nil {
			return math.Inf(1)
		}
		return -ei.Compute(mu.AtVec(0), math.Sqrt(variance.AtVec(0)))
	}

	starts := [][]float64{append([]float64(nil), center...)}
	for i := 0; i < 2+dims; i++ {
		starts = append(starts, uniformIn(rng, center, radius))
	}

	problem := optimize.Problem{Func: negEI}
	settings := &optimize.Settings{
		MajorIterations: 50 * dims,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Iterations: 20,
		},
	}

	bestX := make([]float64, dims)
	bestVal := math.Inf(1)
	for _, start := range starts {
		method := &optimize.NelderMead{SimplexSize: radius / 2}
		result, err := optimize.Minimize(problem, start, settings, method)
		if err != nil || result == nil {
			continue
		}
		if result.F < bestVal {
			bestVal = result.F
			clamp(bestX, result.X, center, radius)
		}
	}

	// Zero improvement everywhere means the surrogate has nothing to say.
	if !(bestVal < 0) {
		return uniformIn(rng, center, radius)
	}
	return bestX
}

// trainingSet returns the most recent History observations, always
// including one at the best value.
func (o *Optimizer) trainingSet(history []observation, best float64) []observation {
	limit := o.History
	if limit < 2 {
		limit = DefaultHistory
	}
	if len(history) <= limit {
		return history
	}
	recent := history[len(history)-limit+1:]
	for _, obs := range recent {
		if obs.y == best {
			return history[len(history)-limit:]
		}
	}
	for _, obs := range history {
		if obs.y == best {
			return append([]observation{obs}, recent...)
		}
	}
	return history[len(history)-limit:]
}

func (o *Optimizer) source() rand.Source {
	seed := uint64(o.config.RandomSeed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// latinHypercube returns n points stratified along every axis of the box
// center ± radius.
func latinHypercube(rng *rand.Rand, n int, center []float64, radius float64) [][]float64 {
	if n < 1 {
		return nil
	}
	dims := len(center)
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, dims)
	}

	strata := make([]float64, n)
	for i := 0; i < dims; i++ {
		for j := range strata {
			strata[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(k, l int) {
			strata[k], strata[l] = strata[l], strata[k]
		})
		for j := range samples {
			samples[j][i] = center[i] - radius + 2*radius*strata[j]
		}
	}
	return samples
}

func uniformIn(rng *rand.Rand, center []float64, radius float64) []float64 {
	x := make([]float64, len(center))
	for i := range x {
		x[i] = center[i] - radius + 2*radius*rng.Float64()
	}
	return x
}

// clamp writes x limited to the box center ± radius into dst.
func clamp(dst, x, center []float64, radius float64) {
	for i := range dst {
		dst[i] = math.Max(center[i]-radius, math.Min(x[i], center[i]+radius))
	}
}
