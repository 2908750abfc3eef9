package promise

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestSentinelErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrLoopTerminated, "promise: loop has been terminated"},
		{ErrLoopAlreadyRunning, "promise: loop is already running"},
		{ErrReentrantRun, "promise: cannot call Run from within the loop"},
		{ErrTimerNotFound, "promise: timer not found"},
		{ErrNilPromise, "promise: nil promise"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestAlreadyResolvedError_Error(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Fulfilled, "promise: already resolved: state Fulfilled"},
		{Failed, "promise: already resolved: state Failed"},
	}
	for _, tt := range tests {
		err := &AlreadyResolvedError{State: tt.state}
		if got := err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestPanicError_Error(t *testing.T) {
	err := &PanicError{Value: "kaput"}
	if got := err.Error(); got != "promise: recovered panic: kaput" {
		t.Errorf("Error() = %q, want %q", got, "promise: recovered panic: kaput")
	}
}

func TestPanicError_Unwrap(t *testing.T) {
	ioErr := io.ErrUnexpectedEOF
	panicErr := &PanicError{Value: ioErr}
	if got := panicErr.Unwrap(); got != ioErr {
		t.Errorf("Unwrap() with error = %v, want %v", got, ioErr)
	}

	stringPanic := &PanicError{Value: "panic string"}
	if got := stringPanic.Unwrap(); got != nil {
		t.Errorf("Unwrap() with string = %v, want nil", got)
	}

	nilPanic := &PanicError{Value: nil}
	if got := nilPanic.Unwrap(); got != nil {
		t.Errorf("Unwrap() with nil = %v, want nil", got)
	}
}

func TestPanicError_ErrorsIs(t *testing.T) {
	panicErr := &PanicError{Value: io.EOF}
	if !errors.Is(panicErr, io.EOF) {
		t.Error("errors.Is(panicErr, io.EOF) = false, want true")
	}

	stringPanic := &PanicError{Value: "panic!"}
	if errors.Is(stringPanic, io.EOF) {
		t.Error("errors.Is(stringPanic, io.EOF) = true, want false")
	}
}

type codedTestError struct {
	code int
}

func (e *codedTestError) Error() string {
	return fmt.Sprintf("coded error: %d", e.code)
}

func TestPanicError_ErrorsAs(t *testing.T) {
	coded := &codedTestError{code: 42}
	panicErr := &PanicError{Value: coded}

	var target *codedTestError
	if !errors.As(panicErr, &target) {
		t.Fatal("errors.As failed to find codedTestError in PanicError")
	}
	if target.code != 42 {
		t.Errorf("target.code = %d, want 42", target.code)
	}
}

func TestPanicError_SurfacesThroughSettlement(t *testing.T) {
	// A panic in a thunk lands on the promise as a *PanicError wrapping the
	// panic value, matchable through the chain when that value is an error.
	cause := &codedTestError{code: 7}
	out := Then(Of(1), func(int) (int, error) { panic(cause) })

	if !errors.Is(out.Err(), cause) {
		t.Error("errors.Is through settled promise = false, want true")
	}
	var target *codedTestError
	if !errors.As(out.Err(), &target) || target.code != 7 {
		t.Error("errors.As failed to recover the panic cause from the settlement")
	}
}
