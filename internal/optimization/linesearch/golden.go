// Package linesearch implements a derivative-free 1-D search along a
// direction: expand a bracket from the origin, then shrink it by golden
// section.
package linesearch

import (
	"math"
)

// invPhi is 1/φ, the golden section ratio.
var invPhi = (math.Sqrt(5) - 1) / 2

// Func evaluates the objective at scalar step t along a fixed direction.
type Func func(t float64) (float64, error)

// Better reports whether a is strictly better than b.
type Better func(a, b float64) bool

// Settings bound a single search.
type Settings struct {
	// InitialStep is the first trial distance from the origin.
	InitialStep float64
	// Tolerance is the bracket width at which golden section stops.
	Tolerance float64
	// MaxEvaluations caps the number of calls to Func.
	MaxEvaluations int
	// MaxExpansions caps how often the bracket may grow.
	MaxExpansions int
}

// DefaultSettings returns settings suitable for the toy functions.
func DefaultSettings() Settings {
	return Settings{
		InitialStep:    1.0,
		Tolerance:      1e-6,
		MaxEvaluations: 60,
		MaxExpansions:  40,
	}
}

// Point is a step along the direction and the objective value there.
type Point struct {
	T float64
	F float64
}

// Search looks for an improvement over f0 = f(0). It returns the best point
// seen and the number of evaluations used. When nothing beats f0 the
// returned point is {0, f0}. An error from f aborts the search immediately.
func Search(f Func, better Better, f0 float64, s Settings) (Point, int, error) {
	if s.InitialStep <= 0 {
		s.InitialStep = 1
	}
	if s.MaxEvaluations <= 0 {
		s.MaxEvaluations = DefaultSettings().MaxEvaluations
	}
	if s.MaxExpansions <= 0 {
		s.MaxExpansions = DefaultSettings().MaxExpansions
	}

	ls := &search{f: f, better: better, budget: s.MaxEvaluations, best: Point{0, f0}}

	// Probe both sides of the origin to pick a downhill sign.
	step := s.InitialStep
	fwd, err := ls.eval(step)
	if err != nil {
		return ls.best, ls.used, err
	}
	if !better(fwd, f0) {
		back, err := ls.eval(-step)
		if err != nil {
			return ls.best, ls.used, err
		}
		if !better(back, f0) {
			// The origin beats both probes, so an optimum along this line
			// (if any) lies inside [-step, step].
			err := ls.golden(-step, step, s.Tolerance)
			return ls.best, ls.used, err
		}
		step = -step
	}

	// Expand until the value stops improving.
	lo, mid, fmid := 0.0, step, ls.best.F
	hi := mid
	for i := 0; i < s.MaxExpansions && ls.remaining(); i++ {
		hi = mid + (mid-lo)/invPhi
		fhi, err := ls.eval(hi)
		if err != nil {
			return ls.best, ls.used, err
		}
		if !better(fhi, fmid) {
			break
		}
		lo, mid, fmid = mid, hi, fhi
	}

	if lo > hi {
		lo, hi = hi, lo
	}
	err = ls.golden(lo, hi, s.Tolerance)
	return ls.best, ls.used, err
}

type search struct {
	f      Func
	better Better
	budget int
	used   int
	best   Point
}

func (ls *search) remaining() bool {
	return ls.used < ls.budget
}

func (ls *search) eval(t float64) (float64, error) {
	ls.used++
	v, err := ls.f(t)
	if err != nil {
		return 0, err
	}
	if ls.better(v, ls.best.F) {
		ls.best = Point{T: t, F: v}
	}
	return v, nil
}

// golden shrinks [lo, hi] around the best interior point.
func (ls *search) golden(lo, hi, tol float64) error {
	if tol <= 0 {
		tol = DefaultSettings().Tolerance
	}
	if !ls.remaining() {
		return nil
	}
	x1 := hi - invPhi*(hi-lo)
	f1, err := ls.eval(x1)
	if err != nil {
		return err
	}
	if !ls.remaining() {
		return nil
	}
	x2 := lo + invPhi*(hi-lo)
	f2, err := ls.eval(x2)
	if err != nil {
		return err
	}

	for math.Abs(hi-lo) > tol && ls.remaining() {
		if ls.better(f1, f2) {
			hi, x2, f2 = x2, x1, f1
			x1 = hi - invPhi*(hi-lo)
			if f1, err = ls.eval(x1); err != nil {
				return err
			}
		} else {
			lo, x1, f1 = x1, x2, f2
			x2 = lo + invPhi*(hi-lo)
			if f2, err = ls.eval(x2); err != nil {
				return err
			}
		}
	}
	return nil
}
