package optimization

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/floats"
)

// Tracker evaluates trial points on a Target on behalf of a strategy and
// remembers the best one. Finish moves the target back to that point so a
// run never ends on a worse intermediate state.
type Tracker struct {
	target      Target
	minimize    bool
	best        []float64
	bestValue   float64
	current     []float64
	evaluations int
	failed      bool
}

// NewTracker evaluates the target at its current point, which becomes the
// first incumbent. A failure here aborts the run before anything moves.
func NewTracker(ctx context.Context, target Target) (*Tracker, error) {
	t := &Tracker{
		target:   target,
		minimize: target.IsMinimize(),
	}
	start := target.InputValues()
	value, err := t.evaluate(ctx)
	if err != nil {
		return nil, WrapError(err, "starting point")
	}
	t.best = start
	t.bestValue = value
	t.current = append([]float64(nil), start...)
	return t, nil
}

// At moves the target to x, evaluates it and returns the output.
func (t *Tracker) At(ctx context.Context, x []float64) (float64, error) {
	if err := t.target.SetInputValues(x); err != nil {
		return 0, err
	}
	value, err := t.evaluate(ctx)
	if err != nil {
		return 0, err
	}
	t.current = append(t.current[:0], x...)
	if Better(t.minimize, value, t.bestValue) {
		t.best = append(t.best[:0], x...)
		t.bestValue = value
	}
	return value, nil
}

// Better reports whether a beats b in the target's direction.
func (t *Tracker) Better(a, b float64) bool {
	return Better(t.minimize, a, b)
}

// Minimize reports the direction captured when the run started.
func (t *Tracker) Minimize() bool {
	return t.minimize
}

// Best returns a copy of the best point and its value.
func (t *Tracker) Best() ([]float64, float64) {
	return append([]float64(nil), t.best...), t.bestValue
}

// Evaluations returns the number of evaluations performed so far.
func (t *Tracker) Evaluations() int {
	return t.evaluations
}

// Finish restores the best point (unless an evaluation failed) and builds
// the Result. cause is the error that stopped the run, if any; it is
// returned unchanged unless restoring fails.
func (t *Tracker) Finish(ctx context.Context, iterations int, converged bool, cause error) (*Result, error) {
	if !t.failed && !floats.Equal(t.current, t.best) {
		// The restore must happen even when ctx was cancelled.
		restoreCtx := context.WithoutCancel(ctx)
		if err := t.target.SetInputValues(t.best); err != nil {
			cause = errors.Join(cause, err)
		} else if _, err := t.evaluate(restoreCtx); err != nil {
			cause = errors.Join(cause, WrapError(err, "restoring best point"))
		} else {
			t.current = append(t.current[:0], t.best...)
		}
	}

	res := &Result{
		Output:      t.bestValue,
		Inputs:      append([]float64(nil), t.best...),
		Iterations:  iterations,
		Evaluations: t.evaluations,
		Converged:   converged && cause == nil,
	}
	switch {
	case cause == nil && converged:
		res.Reason = ReasonConverged
	case cause == nil:
		res.Reason = ReasonIterationLimit
	case errors.Is(cause, ErrRemoteFailure):
		res.Reason = ReasonFailed
	default:
		res.Reason = ReasonCancelled
	}
	return res, cause
}

func (t *Tracker) evaluate(ctx context.Context) (float64, error) {
	t.evaluations++
	value, err := t.target.Evaluate(ctx)
	if err != nil {
		if interrupted(err) {
			return 0, err
		}
		t.failed = true
		if !errors.Is(err, ErrRemoteFailure) {
			err = RemoteFailure(err)
		}
		return 0, err
	}
	return value, nil
}

func interrupted(err error) bool {
	if errors.Is(err, ErrRemoteFailure) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Checkpoint returns a non-nil error once ctx is done. Strategies call it
// between evaluations, never in the middle of one.
func Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return WrapError(err, "optimization interrupted")
	}
	return nil
}

// Idle is the result of optimizing a function with no inputs.
func Idle(target Target) *Result {
	return &Result{
		Output:    target.Output(),
		Inputs:    []float64{},
		Converged: true,
		Reason:    ReasonNoInputs,
	}
}
