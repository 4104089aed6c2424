// Package acquisition scores candidate points from a surrogate's
// predictive distribution.
package acquisition

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// minSigma is the predictive deviation below which a prediction is treated
// as certain.
const minSigma = 1e-10

// ExpectedImprovement implements the Expected Improvement acquisition function
type ExpectedImprovement struct {
	// Best observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
	// Whether we're minimizing (true) or maximizing (false)
	minimize bool
}

// NewExpectedImprovement creates an ExpectedImprovement for the given
// direction.
func NewExpectedImprovement(bestObserved, xi float64, minimize bool) *ExpectedImprovement {
	return &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
		minimize:     minimize,
	}
}

// Compute returns the expected improvement over the best observed value of
// a point whose prediction has mean mu and standard deviation sigma. The
// result is never negative.
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := ei.improvement(mu)
	if sigma <= minSigma {
		if improvement <= 0 {
			return 0
		}
		return improvement
	}

	// EI = improvement * Φ(z) + sigma * φ(z)
	z := improvement / sigma
	v := improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
	if v < 0 {
		return 0
	}
	return v
}

// Gradient computes the derivative of Compute along a direction in which
// mu changes by dmu and sigma by dsigma.
func (ei *ExpectedImprovement) Gradient(mu, dmu, sigma, dsigma float64) float64 {
	if ei.minimize {
		dmu = -dmu
	}
	if sigma <= minSigma {
		if ei.improvement(mu) <= 0 {
			return 0
		}
		return dmu
	}
	z := ei.improvement(mu) / sigma
	return distuv.UnitNormal.CDF(z)*dmu + distuv.UnitNormal.Prob(z)*dsigma
}

func (ei *ExpectedImprovement) improvement(mu float64) float64 {
	if ei.minimize {
		return ei.bestObserved - mu - ei.xi
	}
	return mu - ei.bestObserved - ei.xi
}

// UpdateBest updates the best observed value
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// SetXi sets the exploration-exploitation trade-off parameter
func (ei *ExpectedImprovement) SetXi(xi float64) {
	ei.xi = xi
}

// BestObserved returns the best observed value
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}
