package randomwalk_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/extrema/internal/functions"
	"github.com/copyleftdev/extrema/internal/objective"
	"github.com/copyleftdev/extrema/internal/optimization"
	"github.com/copyleftdev/extrema/internal/optimization/randomwalk"
)

func newFunction(t *testing.T, key string) *objective.Function {
	t.Helper()
	def, ok := functions.Lookup(key)
	require.True(t, ok)
	fn, err := def.New()
	require.NoError(t, err)
	return fn
}

func startValue(t *testing.T, fn *objective.Function) float64 {
	t.Helper()
	def, _ := functions.Lookup(functions.SamsClub)
	v, err := def.Formula(fn.InputValues())
	require.NoError(t, err)
	return v
}

func TestWalkerImprovesSamsClub(t *testing.T) {
	fn := newFunction(t, functions.SamsClub)
	start := startValue(t, fn)

	w := randomwalk.New(optimization.WithSeed(42), optimization.WithMaxIterations(2000))
	res, err := w.Optimize(context.Background(), fn)
	require.NoError(t, err)

	assert.Greater(t, res.Output, start)
	assert.Equal(t, res.Output, fn.Output())
	assert.Len(t, fn.InputValues(), 2)
	assert.Equal(t, res.Inputs, fn.InputValues())
	assert.Greater(t, res.Evaluations, 1)
}

func TestWalkerMinimizes(t *testing.T) {
	fn := newFunction(t, functions.Dell)

	w := randomwalk.New(optimization.WithSeed(1), optimization.WithTolerance(1e-4))
	res, err := w.Optimize(context.Background(), fn)
	require.NoError(t, err)

	assert.Less(t, res.Output, 262.0)
	assert.InDelta(t, 100, res.Output, 1)
}

func TestWalkerConverges(t *testing.T) {
	fn := newFunction(t, functions.MinAbsSum)

	w := randomwalk.New(optimization.WithSeed(3), optimization.WithTolerance(0.01))
	res, err := w.Optimize(context.Background(), fn)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, optimization.ReasonConverged, res.Reason)
	assert.Less(t, res.Iterations, optimization.DefaultConfig().MaxIterations)
}

func TestWalkerSingleIteration(t *testing.T) {
	fn := newFunction(t, functions.SamsClub)
	start := startValue(t, fn)

	w := randomwalk.New(optimization.WithSeed(5), optimization.WithMaxIterations(1))
	res, err := w.Optimize(context.Background(), fn)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, optimization.ReasonIterationLimit, res.Reason)
	assert.GreaterOrEqual(t, res.Output, start)
}

func TestWalkerIsReproducible(t *testing.T) {
	run := func() *optimization.Result {
		fn := newFunction(t, functions.SamsClub)
		res, err := randomwalk.New(optimization.WithSeed(99), optimization.WithMaxIterations(300)).
			Optimize(context.Background(), fn)
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	assert.Equal(t, a.Inputs, b.Inputs)
	assert.Equal(t, a.Output, b.Output)
}

func TestWalkerCancel(t *testing.T) {
	fn := newFunction(t, functions.SamsClub)
	start := startValue(t, fn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	evaluations := 0
	fn.RegisterObserver(objective.NewObserverFunc(func([]float64) {
		evaluations++
		if evaluations == 10 {
			cancel()
		}
	}))

	res, err := randomwalk.New(optimization.WithSeed(7)).Optimize(ctx, fn)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, optimization.ReasonCancelled, res.Reason)
	assert.GreaterOrEqual(t, fn.Output(), start, "never worse than the start")
	assert.Equal(t, res.Inputs, fn.InputValues())
}

func TestWalkerRemoteFailure(t *testing.T) {
	calls := 0
	fn, err := objective.New("flaky", []string{"x"}, []float64{4}, true, func(x []float64) (float64, error) {
		calls++
		if calls == 20 {
			return 0, errors.New("connection refused")
		}
		return x[0] * x[0], nil
	})
	require.NoError(t, err)

	res, err := randomwalk.New(optimization.WithSeed(11)).Optimize(context.Background(), fn)
	assert.ErrorIs(t, err, optimization.ErrRemoteFailure)
	require.NotNil(t, res)
	assert.Equal(t, optimization.ReasonFailed, res.Reason)
	assert.LessOrEqual(t, res.Output, 16.0)
	assert.Equal(t, 20, calls, "the run aborts on the first failure")
}

func TestWalkerNoInputs(t *testing.T) {
	fn, err := objective.New("empty", nil, nil, true, func([]float64) (float64, error) { return 0, nil })
	require.NoError(t, err)

	res, err := randomwalk.New().Optimize(context.Background(), fn)
	require.NoError(t, err)
	assert.Equal(t, optimization.ReasonNoInputs, res.Reason)
}

func TestName(t *testing.T) {
	w := randomwalk.New()
	assert.Equal(t, "RandomWalk", w.Name())
	assert.Equal(t, randomwalk.DefaultPatience, w.Patience)
	assert.Equal(t, randomwalk.DefaultShrinkFactor, w.ShrinkFactor)
}
