package bayesian

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/extrema/internal/optimization"
	"github.com/copyleftdev/extrema/internal/optimization/kernels"
)

const (
	initialJitter  = 1e-10
	maxJitterTries = 10
)

// GP is a zero-mean Gaussian process regression model.
type GP struct {
	// Kernel function
	kernel kernels.Kernel

	// Noise variance added to the diagonal of the training covariance.
	noiseVar float64

	// Training data
	X *mat.Dense // Input points (n_samples, n_features)

	// Precomputed values
	alpha *mat.VecDense
	L     *mat.Cholesky

	logger *zap.Logger
}

// NewGP creates a Gaussian process model. A nil logger discards output.
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		logger:   logger.Named("gaussian_process"),
	}
}

// Kernel returns the covariance function.
func (gp *GP) Kernel() kernels.Kernel { return gp.kernel }

// Fit conditions the model on the training data. On failure the previous
// fit is kept.
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return gpError(op, errors.New("input matrices must not be nil"))
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return gpError(op, errors.New("input matrix X must not be empty"))
	}
	if nSamples != y.Len() {
		return gpError(op, fmt.Errorf("X has %d samples but y has length %d", nSamples, y.Len()))
	}

	K := gp.covariance(X)
	chol, jitter, err := gp.factorize(K)
	if err != nil {
		return gpError(op, err)
	}

	alpha := mat.NewVecDense(nSamples, nil)
	if err := chol.SolveVecTo(alpha, y); !usable(err) {
		return gpError(op, fmt.Errorf("solving for weights: %w", err))
	}

	gp.X = mat.DenseCopyOf(X)
	gp.alpha = alpha
	gp.L = chol

	gp.logger.Debug("Fitted GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("jitter", jitter),
	)
	return nil
}

// covariance builds K(X, X) + noise*I.
func (gp *GP) covariance(X *mat.Dense) *mat.SymDense {
	n, _ := X.Dims()
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		xi := X.RawRowView(i)
		K.SetSym(i, i, gp.kernel.Eval(xi, xi)+gp.noiseVar)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(xi, X.RawRowView(j)))
		}
	}
	return K
}

// factorize runs a Cholesky decomposition of K, adding growing jitter to
// the diagonal until K is numerically positive definite.
func (gp *GP) factorize(K *mat.SymDense) (*mat.Cholesky, float64, error) {
	n := K.SymmetricDim()
	var chol mat.Cholesky
	if chol.Factorize(K) {
		return &chol, 0, nil
	}

	jitter := initialJitter
	for attempt := 0; attempt < maxJitterTries; attempt++ {
		Kj := mat.NewSymDense(n, nil)
		Kj.CopySym(K)
		for i := 0; i < n; i++ {
			Kj.SetSym(i, i, Kj.At(i, i)+jitter)
		}
		if chol.Factorize(Kj) {
			return &chol, jitter, nil
		}
		gp.logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", jitter))
		jitter *= 10
	}
	return nil, 0, errors.New("covariance matrix is not positive definite")
}

// Predict returns the posterior mean and variance at each row of X.
// Variances are clamped at zero.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, gpError(op, errors.New("input matrix X is nil"))
	}
	if gp.X == nil || gp.alpha == nil {
		return nil, nil, gpError(op, errors.New("model not trained"))
	}

	nTest, nFeatures := X.Dims()
	nTrain, trained := gp.X.Dims()
	if nFeatures != trained {
		return nil, nil, gpError(op, optimization.DimensionMismatch(trained, nFeatures))
	}

	Kstar := mat.NewDense(nTest, nTrain, nil)
	Kss := make([]float64, nTest)
	for i := 0; i < nTest; i++ {
		xStar := X.RawRowView(i)
		Kss[i] = gp.kernel.Eval(xStar, xStar)
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, gp.kernel.Eval(xStar, gp.X.RawRowView(j)))
		}
	}

	mean := mat.NewVecDense(nTest, nil)
	mean.MulVec(Kstar, gp.alpha)

	// diag(K** - K* K^-1 K*^T), through the Cholesky factor.
	var v mat.Dense
	if err := gp.L.SolveTo(&v, Kstar.T()); !usable(err) {
		return nil, nil, gpError(op, fmt.Errorf("solving for variance: %w", err))
	}
	variance := mat.NewVecDense(nTest, nil)
	for i := 0; i < nTest; i++ {
		var reduction float64
		for j := 0; j < nTrain; j++ {
			reduction += Kstar.At(i, j) * v.At(j, i)
		}
		variance.SetVec(i, math.Max(0, Kss[i]-reduction))
	}

	return mean, variance, nil
}

// usable reports whether err is nil or only a conditioning
// warning, in which case the solution is still usable.
func usable(err error) bool {
	var cond mat.Condition
	return err == nil || errors.As(err, &cond)
}

func gpError(op string, err error) error {
	return optimization.WrapError(err, "gaussian process").
		WithComponent("bayesian").
		WithOperation(op)
}
