// Package session runs optimization strategies against objective functions
// on bounded worker goroutines and tracks each run's lifecycle.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/copyleftdev/extrema/internal/objective"
	"github.com/copyleftdev/extrema/internal/optimization"
)

// State is the lifecycle state of a session.
type State string

const (
	Idle      State = "idle"
	Running   State = "running"
	Completed State = "completed"
	Cancelled State = "cancelled"
	Failed    State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// Causes attached to a session's context when it is stopped early.
var (
	// ErrTimeBudget ends a run whose wall-clock budget ran out. The session
	// completes with the best point found.
	ErrTimeBudget = errors.New("time budget exhausted")
	// ErrCancelled is the cause of an explicit Cancel.
	ErrCancelled = errors.New("session cancelled")
	// ErrShutdown is the cause used when the manager closes.
	ErrShutdown = errors.New("session manager closed")
	// ErrNotFound reports an unknown session id.
	ErrNotFound = errors.New("session not found")
)

// Status is a point-in-time copy of a session.
type Status struct {
	ID          string     `json:"id"`
	Function    string     `json:"function"`
	Title       string     `json:"title"`
	Technique   string     `json:"technique"`
	State       State      `json:"state"`
	Output      float64    `json:"output"`
	Inputs      []float64  `json:"inputs"`
	Iterations  int        `json:"iterations"`
	Evaluations int        `json:"evaluations"`
	Reason      string     `json:"reason,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Session is one run of a strategy against a function.
type Session struct {
	id        string
	key       string
	technique string
	fn        *objective.Function
	cancel    context.CancelCauseFunc
	done      chan struct{}

	mu       sync.RWMutex
	state    State
	result   *optimization.Result
	err      error
	started  time.Time
	finished time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// FunctionKey returns the key of the function being optimized.
func (s *Session) FunctionKey() string { return s.key }

// Technique returns the technique name.
func (s *Session) Technique() string { return s.technique }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Result returns the strategy result and the error that ended the run. Both
// are nil while the session is running.
func (s *Session) Result() (*optimization.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.err
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (Status, error) {
	select {
	case <-s.done:
		return s.Status(), nil
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	}
}

// Cancel asks the run to stop at its next checkpoint. Cancelling a finished
// session is a no-op.
func (s *Session) Cancel() {
	s.cancel(ErrCancelled)
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		ID:        s.id,
		Function:  s.key,
		Title:     s.fn.Title(),
		Technique: s.technique,
		State:     s.state,
		StartedAt: s.started,
	}
	if s.result != nil {
		st.Output = s.result.Output
		st.Inputs = append([]float64(nil), s.result.Inputs...)
		st.Iterations = s.result.Iterations
		st.Evaluations = s.result.Evaluations
		st.Reason = s.result.Reason
	} else {
		st.Output = s.fn.Output()
		st.Inputs = s.fn.InputValues()
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	if !s.finished.IsZero() {
		f := s.finished
		st.FinishedAt = &f
	}
	return st
}

func (s *Session) finish(state State, res *optimization.Result, err error) {
	s.mu.Lock()
	s.state = state
	s.result = res
	s.err = err
	s.finished = time.Now()
	s.mu.Unlock()
}
