package optimization

import (
	"context"
)

// Strategy defines the interface for optimization techniques.
type Strategy interface {
	// Name returns the technique identifier the strategy was created under.
	Name() string

	// Optimize drives target toward an extremum and leaves it at the best
	// point found. A Strategy must not retain target after returning.
	Optimize(ctx context.Context, target Target) (*Result, error)
}

// Target is the view of an objective function a Strategy works against.
// Evaluate may cross a remote boundary, so it can block and can fail.
type Target interface {
	InputValues() []float64
	SetInputValues(values []float64) error
	Evaluate(ctx context.Context) (float64, error)
	Output() float64
	IsMinimize() bool
}

// Config contains the tuning knobs shared by all strategies.
type Config struct {
	// Maximum number of iterations (RandomWalk steps, Powell cycles,
	// Nelder-Mead major iterations).
	MaxIterations int

	// Convergence threshold.
	Tolerance float64

	// Initial step size for perturbations and line searches.
	InitialStep float64

	// Random seed for reproducibility. Zero picks a time based seed.
	RandomSeed int64
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 5000,
		Tolerance:     1e-6,
		InitialStep:   1.0,
	}
}

// Option mutates a Config.
type Option func(*Config)

// WithMaxIterations caps the iteration budget.
func WithMaxIterations(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxIterations = n
		}
	}
}

// WithTolerance sets the convergence threshold.
func WithTolerance(tol float64) Option {
	return func(c *Config) {
		if tol > 0 {
			c.Tolerance = tol
		}
	}
}

// WithInitialStep sets the starting step size.
func WithInitialStep(step float64) Option {
	return func(c *Config) {
		if step > 0 {
			c.InitialStep = step
		}
	}
}

// WithSeed sets the random seed.
func WithSeed(seed int64) Option {
	return func(c *Config) {
		c.RandomSeed = seed
	}
}

// NewConfig applies opts on top of DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Termination reasons reported in Result.Reason.
const (
	ReasonConverged      = "converged"
	ReasonIterationLimit = "iteration limit"
	ReasonCancelled      = "cancelled"
	ReasonTimeBudget     = "time budget"
	ReasonFailed         = "evaluation failed"
	ReasonNoInputs       = "no inputs"
)

// Result contains the outcome of one Optimize call.
type Result struct {
	// Output is the best value found.
	Output float64
	// Inputs is the point where Output was reached.
	Inputs []float64
	// Iterations completed.
	Iterations int
	// Evaluations of the objective function, including the starting point.
	Evaluations int
	// Converged is true when the tolerance test stopped the run.
	Converged bool
	// Reason describes why the run ended.
	Reason string
}

// Better reports whether candidate is strictly better than incumbent for the
// given direction.
func Better(minimize bool, candidate, incumbent float64) bool {
	if minimize {
		return candidate < incumbent
	}
	return candidate > incumbent
}
