package bayesian_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/extrema/internal/functions"
	"github.com/copyleftdev/extrema/internal/objective"
	"github.com/copyleftdev/extrema/internal/optimization"
	"github.com/copyleftdev/extrema/internal/optimization/bayesian"
)

func sphere(t *testing.T, start ...float64) *objective.Function {
	t.Helper()
	names := make([]string, len(start))
	for i := range names {
		names[i] = string(rune('a' + i))
	}
	fn, err := objective.New("sphere", names, start, true, func(x []float64) (float64, error) {
		var sum float64
		for _, v := range x {
			sum += v * v
		}
		return sum, nil
	})
	require.NoError(t, err)
	return fn
}

func newFunction(t *testing.T, key string) *objective.Function {
	t.Helper()
	def, ok := functions.Lookup(key)
	require.True(t, ok)
	fn, err := def.New()
	require.NoError(t, err)
	return fn
}

func TestOptimizerMinimizesSphere(t *testing.T) {
	fn := sphere(t, 3, -2)

	o := bayesian.New(optimization.WithSeed(1), optimization.WithMaxIterations(150))
	res, err := o.Optimize(context.Background(), fn)
	require.NoError(t, err)

	assert.Less(t, res.Output, 0.5)
	assert.Equal(t, res.Output, fn.Output())
	assert.Equal(t, res.Inputs, fn.InputValues())
	assert.Greater(t, res.Evaluations, res.Iterations)
}

func TestOptimizerImprovesCatalog(t *testing.T) {
	dell := newFunction(t, functions.Dell)
	res, err := bayesian.New(optimization.WithSeed(2), optimization.WithMaxIterations(60)).
		Optimize(context.Background(), dell)
	require.NoError(t, err)
	assert.Less(t, res.Output, 262.0)

	sams := newFunction(t, functions.SamsClub)
	def, _ := functions.Lookup(functions.SamsClub)
	start, err := def.Formula(sams.InputValues())
	require.NoError(t, err)

	res, err = bayesian.New(optimization.WithSeed(3), optimization.WithMaxIterations(60)).
		Optimize(context.Background(), sams)
	require.NoError(t, err)
	assert.Greater(t, res.Output, start, "maximizes")
}

func TestOptimizerConverges(t *testing.T) {
	// Starting at the minimum, every proposal fails and the trust region
	// collapses.
	fn := sphere(t, 0)

	o := bayesian.New(optimization.WithSeed(4), optimization.WithTolerance(0.3))
	res, err := o.Optimize(context.Background(), fn)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, optimization.ReasonConverged, res.Reason)
	// Five design points, then two shrinks of three failures each.
	assert.Equal(t, bayesian.DefaultInitialPoints+2*bayesian.DefaultPatience, res.Iterations)
	assert.Equal(t, 0.0, res.Output)
	assert.Equal(t, []float64{0}, fn.InputValues())
}

func TestOptimizerSingleIteration(t *testing.T) {
	fn := sphere(t, 1, 1)

	res, err := bayesian.New(optimization.WithSeed(5), optimization.WithMaxIterations(1)).
		Optimize(context.Background(), fn)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, optimization.ReasonIterationLimit, res.Reason)
	assert.LessOrEqual(t, res.Output, 2.0)
}

func TestOptimizerIsReproducible(t *testing.T) {
	run := func() *optimization.Result {
		fn := sphere(t, 2, 2, 2)
		res, err := bayesian.New(optimization.WithSeed(99), optimization.WithMaxIterations(30)).
			Optimize(context.Background(), fn)
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	assert.Equal(t, a.Inputs, b.Inputs)
	assert.Equal(t, a.Output, b.Output)
}

func TestOptimizerCancel(t *testing.T) {
	fn := sphere(t, 4, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	evaluations := 0
	fn.RegisterObserver(objective.NewObserverFunc(func([]float64) {
		evaluations++
		if evaluations == 10 {
			cancel()
		}
	}))

	res, err := bayesian.New(optimization.WithSeed(7)).Optimize(ctx, fn)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, optimization.ReasonCancelled, res.Reason)
	assert.LessOrEqual(t, fn.Output(), 32.0)
	assert.Equal(t, res.Inputs, fn.InputValues())
}

func TestOptimizerRemoteFailure(t *testing.T) {
	calls := 0
	fn, err := objective.New("flaky", []string{"x"}, []float64{4}, true, func(x []float64) (float64, error) {
		calls++
		if calls == 8 {
			return 0, errors.New("connection refused")
		}
		return x[0] * x[0], nil
	})
	require.NoError(t, err)

	res, err := bayesian.New(optimization.WithSeed(11)).Optimize(context.Background(), fn)
	assert.ErrorIs(t, err, optimization.ErrRemoteFailure)
	require.NotNil(t, res)
	assert.Equal(t, optimization.ReasonFailed, res.Reason)
	assert.LessOrEqual(t, res.Output, 16.0)
	assert.Equal(t, 8, calls, "the run aborts on the first failure")
}

func TestOptimizerNoInputs(t *testing.T) {
	fn, err := objective.New("empty", nil, nil, true, func([]float64) (float64, error) { return 0, nil })
	require.NoError(t, err)

	res, err := bayesian.New().Optimize(context.Background(), fn)
	require.NoError(t, err)
	assert.Equal(t, optimization.ReasonNoInputs, res.Reason)
}

func TestName(t *testing.T) {
	o := bayesian.New(optimization.WithInitialStep(2))
	assert.Equal(t, "Bayesian", o.Name())
	assert.Equal(t, 2.0, o.Config().InitialStep)
	assert.Equal(t, bayesian.DefaultPatience, o.Patience)
	assert.Equal(t, bayesian.DefaultHistory, o.History)
}
