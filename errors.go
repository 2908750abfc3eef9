package promise

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	ErrLoopTerminated     = errors.New("promise: loop has been terminated")
	ErrLoopAlreadyRunning = errors.New("promise: loop is already running")
	ErrReentrantRun       = errors.New("promise: cannot call Run from within the loop")
	ErrTimerNotFound      = errors.New("promise: timer not found")
	ErrNilPromise         = errors.New("promise: nil promise")
)

// AlreadyResolvedError reports an attempt to fulfill or fail a promise that
// has already settled. This is a programming defect: the error is returned to
// the caller of the resolution attempt, and the promise's state, value, and
// error are left exactly as the first resolution set them.
type AlreadyResolvedError struct {
	// State is the terminal state the promise was already in.
	State State
}

// Error implements the error interface.
func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("promise: already resolved: state %s", e.State)
}

// PanicError wraps a value recovered from a panic inside a callback or thunk.
// It is how such panics surface as Failed resolutions of the promise the
// callback was populating, rather than escaping the drain loop.
type PanicError struct {
	// Value is the recovered panic value.
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("promise: recovered panic: %v", e.Value)
}

// Unwrap returns the underlying error if the recovered value is an error
// type, enabling [errors.Is] and [errors.As] matching through the cause
// chain. It returns nil for non-error panic values.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
