package acquisition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedImprovement(t *testing.T) {
	tests := []struct {
		name          string
		bestObserved  float64
		xi            float64
		mu            float64
		sigma         float64
		minimize      bool
		expectedValue float64
	}{
		{
			name:          "no improvement",
			bestObserved:  1.0,
			xi:            0.01,
			mu:            1.5, // worse than the best when minimizing
			sigma:         0.1,
			minimize:      true,
			expectedValue: 0.0,
		},
		{
			name:          "definite improvement",
			bestObserved:  1.0,
			xi:            0.01,
			mu:            0.5,
			sigma:         0.2,
			minimize:      true,
			expectedValue: 0.4905, // 0.49 plus a small PDF contribution
		},
		{
			name:          "zero sigma",
			bestObserved:  1.0,
			xi:            0.0,
			mu:            0.5,
			sigma:         0.0,
			minimize:      true,
			expectedValue: 0.5, // bestObserved - mu - xi
		},
		{
			name:          "maximize improvement",
			bestObserved:  1.0,
			xi:            0.0,
			mu:            1.5,
			sigma:         0.0,
			minimize:      false,
			expectedValue: 0.5,
		},
		{
			name:          "maximize no improvement",
			bestObserved:  1.0,
			xi:            0.0,
			mu:            0.5,
			sigma:         0.0,
			minimize:      false,
			expectedValue: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ei := NewExpectedImprovement(tt.bestObserved, tt.xi, tt.minimize)
			assert.InDelta(t, tt.expectedValue, ei.Compute(tt.mu, tt.sigma), 1e-4)
		})
	}
}

func TestExpectedImprovementUncertainty(t *testing.T) {
	ei := NewExpectedImprovement(1.0, 0.0, true)

	// A point predicted worse than the best still has some chance of
	// improving when the prediction is uncertain.
	assert.Greater(t, ei.Compute(1.2, 0.5), 0.0)
	// More uncertainty means more expected improvement.
	assert.Greater(t, ei.Compute(1.2, 1.0), ei.Compute(1.2, 0.5))
}

func TestExpectedImprovementUpdate(t *testing.T) {
	ei := NewExpectedImprovement(1.0, 0.01, true)
	assert.Equal(t, 1.0, ei.BestObserved())

	ei.UpdateBest(0.5)
	assert.Equal(t, 0.5, ei.BestObserved())

	ei.SetXi(0.01)
	assert.Greater(t, ei.Compute(0.4, 0.1), 0.0)
	assert.Zero(t, ei.Compute(0.6, 0))
}

func TestExpectedImprovementGradient(t *testing.T) {
	tests := []struct {
		name     string
		mu       float64
		sigma    float64
		minimize bool
	}{
		{name: "maximize below best", mu: 0.5, sigma: 0.5, minimize: false},
		{name: "minimize below best", mu: 0.5, sigma: 0.5, minimize: true},
		{name: "minimize above best", mu: 1.3, sigma: 0.8, minimize: true},
	}

	const (
		h    = 1e-6
		dmu  = 1.0
		dsig = 1.0
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ei := NewExpectedImprovement(1.0, 0.01, tt.minimize)

			grad := ei.Gradient(tt.mu, dmu, tt.sigma, dsig)

			f := func(eps float64) float64 {
				return ei.Compute(tt.mu+eps*dmu, tt.sigma+eps*dsig)
			}
			numerical := (f(h) - f(-h)) / (2 * h)
			assert.InDelta(t, numerical, grad, 1e-6)
		})
	}
}
