// Package objective holds the state of an objective function: its current
// design point, last output, direction and bound optimization technique,
// plus the observer registry that reports every evaluation.
package objective

import (
	"context"
	"slices"
	"sync"

	"github.com/copyleftdev/extrema/internal/optimization"
)

// Formula computes the output for a point. It may fail, for example when
// the function body is served remotely.
type Formula func(x []float64) (float64, error)

// Function is an objective function with observable state. It is safe for
// concurrent use; while a session is running only that session's worker
// should mutate inputs.
type Function struct {
	Notifier

	formula Formula

	// evalMu serializes evaluations so notifications follow evaluation order.
	evalMu sync.Mutex

	mu        sync.RWMutex
	title     string
	names     []string
	values    []float64
	evaluated []float64
	output    float64
	hasOutput bool
	minimize  bool
	strategy  optimization.Strategy
	running   bool
}

var _ optimization.Target = (*Function)(nil)

// New creates a function at the given starting point.
func New(title string, names []string, values []float64, minimize bool, formula Formula) (*Function, error) {
	if len(values) != len(names) {
		return nil, optimization.DimensionMismatch(len(names), len(values)).
			WithComponent(title).
			WithOperation("new")
	}
	if formula == nil {
		return nil, optimization.NewErrorf("nil formula").WithComponent(title).WithOperation("new")
	}
	return &Function{
		formula:   formula,
		title:     title,
		names:     slices.Clone(names),
		values:    slices.Clone(values),
		evaluated: slices.Clone(values),
		minimize:  minimize,
	}, nil
}

// Title returns the display name.
func (f *Function) Title() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.title
}

// SetTitle renames the function.
func (f *Function) SetTitle(title string) {
	f.mu.Lock()
	f.title = title
	f.mu.Unlock()
}

// Dimension returns N, the number of inputs.
func (f *Function) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.names)
}

// InputNames returns a copy of the input names.
func (f *Function) InputNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.names)
}

// SetInputNames replaces the names; the count must stay N.
func (f *Function) SetInputNames(names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(names) != len(f.names) {
		return optimization.DimensionMismatch(len(f.names), len(names)).
			WithComponent(f.title).
			WithOperation("set input names")
	}
	f.names = slices.Clone(names)
	return nil
}

// InputValues returns a copy of the current point.
func (f *Function) InputValues() []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.values)
}

// SetInputValues replaces the current point in one step. It neither
// evaluates nor notifies. A vector of the wrong length is rejected and the
// current point is left untouched.
func (f *Function) SetInputValues(values []float64) error {
	next := slices.Clone(values)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(next) != len(f.names) {
		return optimization.DimensionMismatch(len(f.names), len(next)).
			WithComponent(f.title).
			WithOperation("set input values")
	}
	f.values = next
	return nil
}

// Output returns the last computed output, or zero before the first
// evaluation (see HasOutput).
func (f *Function) Output() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.output
}

// HasOutput reports whether Evaluate has succeeded at least once.
func (f *Function) HasOutput() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hasOutput
}

// Evaluate computes the output at the current point, stores it, notifies
// observers and returns it. On failure the inputs roll back to the last
// successfully evaluated point and no notification is sent.
//
// Observers run inside Evaluate and must not call Evaluate themselves.
func (f *Function) Evaluate(ctx context.Context) (float64, error) {
	f.evalMu.Lock()
	defer f.evalMu.Unlock()

	f.mu.RLock()
	x := slices.Clone(f.values)
	title := f.title
	f.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		f.rollback()
		return 0, optimization.WrapError(err, "evaluation interrupted").
			WithComponent(title).
			WithOperation("evaluate")
	}

	out, err := f.formula(x)
	if err != nil {
		f.rollback()
		return 0, optimization.RemoteFailure(err).WithComponent(title).WithOperation("evaluate")
	}

	f.mu.Lock()
	f.output = out
	f.hasOutput = true
	f.evaluated = x
	f.mu.Unlock()

	f.notify(x)
	return out, nil
}

// NotifyObservers delivers the current inputs to every observer.
func (f *Function) NotifyObservers() {
	f.notify(f.InputValues())
}

func (f *Function) rollback() {
	f.mu.Lock()
	f.values = slices.Clone(f.evaluated)
	f.mu.Unlock()
}

// IsMinimize reports the direction; true means lower is better.
func (f *Function) IsMinimize() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.minimize
}

// SetMinimize changes the direction. It fails while a session runs.
func (f *Function) SetMinimize(minimize bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return optimization.IllegalStateTransition("cannot change direction of %q while optimizing", f.title).
			WithOperation("set minimize")
	}
	f.minimize = minimize
	return nil
}

// Strategy returns the bound strategy, or nil.
func (f *Function) Strategy() optimization.Strategy {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.strategy
}

// Technique returns the name of the bound strategy, or "".
func (f *Function) Technique() string {
	s := f.Strategy()
	if s == nil {
		return ""
	}
	return s.Name()
}

// SetStrategy binds s for later Optimize calls. It fails while a session
// runs.
func (f *Function) SetStrategy(s optimization.Strategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return optimization.IllegalStateTransition("cannot rebind technique of %q while optimizing", f.title).
			WithOperation("set strategy")
	}
	f.strategy = s
	return nil
}

// Acquire marks the function as running and binds s (when non-nil). Only
// one holder at a time; a second Acquire fails with ErrSessionBusy.
func (f *Function) Acquire(s optimization.Strategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return optimization.SessionBusy(f.title).WithOperation("acquire")
	}
	if s != nil {
		f.strategy = s
	}
	f.running = true
	return nil
}

// Release ends the running state taken by Acquire.
func (f *Function) Release() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

// Manual runs op while holding the function the way a session does, so no
// session can start between a caller's mutation and its evaluation. It
// fails with ErrSessionBusy, without calling op, while a session holds f.
func (f *Function) Manual(op func() error) error {
	if err := f.Acquire(nil); err != nil {
		return err
	}
	defer f.Release()
	return op()
}

// Running reports whether a session currently holds the function.
func (f *Function) Running() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

// Optimize runs the bound strategy synchronously and returns the best
// output.
func (f *Function) Optimize(ctx context.Context) (*optimization.Result, error) {
	s := f.Strategy()
	if s == nil {
		return nil, optimization.IllegalStateTransition("no technique bound to %q", f.Title()).
			WithOperation("optimize")
	}
	if err := f.Acquire(nil); err != nil {
		return nil, err
	}
	defer f.Release()
	return s.Optimize(ctx, f)
}

// Snapshot is a consistent copy of the function's observable state.
type Snapshot struct {
	Title       string    `json:"title"`
	InputNames  []string  `json:"input_names"`
	InputValues []float64 `json:"input_values"`
	Output      float64   `json:"output"`
	HasOutput   bool      `json:"has_output"`
	Minimize    bool      `json:"minimize"`
	Technique   string    `json:"technique,omitempty"`
	Running     bool      `json:"running"`
}

// Snapshot returns the current state under a single read lock.
func (f *Function) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := Snapshot{
		Title:       f.title,
		InputNames:  slices.Clone(f.names),
		InputValues: slices.Clone(f.values),
		Output:      f.output,
		HasOutput:   f.hasOutput,
		Minimize:    f.minimize,
		Running:     f.running,
	}
	if f.strategy != nil {
		s.Technique = f.strategy.Name()
	}
	return s
}

// Equal reports whether f and other have the same input names and values.
func (f *Function) Equal(other *Function) bool {
	if other == nil {
		return false
	}
	if f == other {
		return true
	}
	return slices.Equal(f.InputNames(), other.InputNames()) &&
		slices.Equal(f.InputValues(), other.InputValues())
}
