package optimization

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is(err, ErrSessionBusy) and friends to classify an
// error returned anywhere in the engine.
var (
	// ErrDimensionMismatch reports an input vector whose length differs from
	// the function's dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrUnknownTechnique reports a technique name the factory cannot resolve.
	ErrUnknownTechnique = errors.New("unknown technique")
	// ErrRemoteFailure reports a failed evaluation of the objective function.
	ErrRemoteFailure = errors.New("remote failure")
	// ErrSessionBusy reports an attempt to start or mutate while another
	// session is running against the same function.
	ErrSessionBusy = errors.New("session busy")
	// ErrIllegalStateTransition reports a state change that is not allowed in
	// the current state, such as flipping direction mid-run.
	ErrIllegalStateTransition = errors.New("illegal state transition")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Kind is one of the Err* sentinels, if any.
	Kind error
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if e.Kind != nil {
		if msg == "" {
			msg = e.Kind.Error()
		} else {
			msg = e.Kind.Error() + ": " + msg
		}
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the error's Kind so that errors.Is works against the sentinels
// while the underlying cause stays reachable through Unwrap.
func (e *Error) Is(target error) bool {
	if e == nil || e.Kind == nil {
		return false
	}
	return e.Kind == target
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithKind tags the error with one of the Err* sentinels.
func (e *Error) WithKind(kind error) *Error {
	e.Kind = kind
	return e
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// DimensionMismatch reports a vector of length got where want was expected.
func DimensionMismatch(want, got int) *Error {
	return NewErrorf("expected %d values, got %d", want, got).WithKind(ErrDimensionMismatch)
}

// UnknownTechnique reports an unresolvable technique identifier.
func UnknownTechnique(name string) *Error {
	return NewErrorf("%q", name).WithKind(ErrUnknownTechnique)
}

// RemoteFailure wraps a failed evaluation.
func RemoteFailure(err error) *Error {
	return WrapError(err, "evaluation failed").WithKind(ErrRemoteFailure)
}

// SessionBusy reports that the named function already has a running session.
func SessionBusy(title string) *Error {
	return NewErrorf("%q already has a running session", title).WithKind(ErrSessionBusy)
}

// IllegalStateTransition reports a disallowed state change.
func IllegalStateTransition(format string, args ...interface{}) *Error {
	return NewErrorf(format, args...).WithKind(ErrIllegalStateTransition)
}

// IsOptimizationError checks if an error is, or wraps, an Error.
// If so, it returns the outermost Error and true.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
