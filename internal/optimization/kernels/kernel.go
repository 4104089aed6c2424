// Package kernels provides stationary covariance functions for Gaussian
// process surrogates.
package kernels

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Kernel represents a kernel function for Gaussian Processes
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the length scale and signal variance.
	Hyperparameters() []float64

	// SetHyperparameters sets the length scale and signal variance.
	SetHyperparameters(params []float64) error
}

// params holds what every stationary kernel here shares.
type params struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

func newParams(lengthScale, signalVar float64) (params, error) {
	if !(lengthScale > 0) || math.IsInf(lengthScale, 0) {
		return params{}, fmt.Errorf("length scale must be positive and finite, got %v", lengthScale)
	}
	if !(signalVar > 0) || math.IsInf(signalVar, 0) {
		return params{}, fmt.Errorf("signal variance must be positive and finite, got %v", signalVar)
	}
	return params{lengthScale: lengthScale, signalVar: signalVar}, nil
}

func (p *params) Hyperparameters() []float64 {
	return []float64{p.lengthScale, p.signalVar}
}

func (p *params) SetHyperparameters(values []float64) error {
	if len(values) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(values))
	}
	next, err := newParams(values[0], values[1])
	if err != nil {
		return err
	}
	*p = next
	return nil
}

// RBFKernel is the squared exponential kernel
// k(r) = s² exp(-r² / 2l²).
type RBFKernel struct {
	params
}

// NewRBFKernel creates an RBF kernel.
func NewRBFKernel(lengthScale, signalVar float64) (*RBFKernel, error) {
	p, err := newParams(lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &RBFKernel{params: p}, nil
}

// Eval implements Kernel.
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	d := floats.Distance(x1, x2, 2) / k.lengthScale
	return k.signalVar * math.Exp(-0.5*d*d)
}

// Matern52Kernel implements the Matérn 5/2 kernel. It is twice
// differentiable, which suits smooth but not analytic objectives.
type Matern52Kernel struct {
	params
}

// NewMatern52Kernel creates a Matérn 5/2 kernel.
func NewMatern52Kernel(lengthScale, signalVar float64) (*Matern52Kernel, error) {
	p, err := newParams(lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &Matern52Kernel{params: p}, nil
}

// Eval implements Kernel.
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := math.Sqrt(5) * floats.Distance(x1, x2, 2) / k.lengthScale
	return k.signalVar * (1 + r + r*r/3) * math.Exp(-r)
}
