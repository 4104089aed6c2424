package linesearch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func less(a, b float64) bool    { return a < b }
func greater(a, b float64) bool { return a > b }

func TestSearch(t *testing.T) {
	tests := []struct {
		name   string
		f      func(t float64) float64
		better Better
		want   float64
	}{
		{"minimum ahead", func(t float64) float64 { return (t - 3) * (t - 3) }, less, 3},
		{"minimum behind", func(t float64) float64 { return (t + 2) * (t + 2) }, less, -2},
		{"minimum far away", func(t float64) float64 { return (t - 40) * (t - 40) }, less, 40},
		{"minimum inside first probe", func(t float64) float64 { return (t - 0.2) * (t - 0.2) }, less, 0.2},
		{"maximum", func(t float64) float64 { return -(t - 1.5) * (t - 1.5) }, greater, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := func(x float64) (float64, error) { return tt.f(x), nil }
			s := DefaultSettings()
			s.MaxEvaluations = 200

			best, used, err := Search(f, tt.better, tt.f(0), s)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, best.T, 1e-3)
			assert.LessOrEqual(t, used, s.MaxEvaluations)
		})
	}
}

func TestSearchNoImprovement(t *testing.T) {
	f := func(x float64) (float64, error) { return 5, nil }

	best, _, err := Search(f, less, 5, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, Point{T: 0, F: 5}, best)
}

func TestSearchRespectsBudget(t *testing.T) {
	calls := 0
	f := func(x float64) (float64, error) {
		calls++
		return -x, nil
	}
	s := DefaultSettings()
	s.MaxEvaluations = 10

	_, used, err := Search(f, less, 0, s)
	require.NoError(t, err)
	assert.Equal(t, calls, used)
	assert.LessOrEqual(t, used, 10)
}

func TestSearchPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	f := func(x float64) (float64, error) {
		calls++
		if calls == 3 {
			return 0, boom
		}
		return (x - 10) * (x - 10), nil
	}

	best, used, err := Search(f, less, 100, DefaultSettings())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, used)
	assert.InDelta(t, 1+1/invPhi, best.T, 1e-12, "best point before the failure is kept")
}
