package promise

import (
	"errors"
	"sync"
)

var errNilFailure = errors.New("promise: failed with nil error")

// Failer is the failure-accepting half of a promise, consumed by
// [Promise.ForwardFailureTo]. Every *Promise[U] satisfies it, regardless of
// value type.
type Failer interface {
	Fail(err error) error
}

// Promise is an asynchronous single-value container. It starts Pending and
// settles at most once, either Fulfilled with a value or Failed with an
// error; the transition is one-way and permanent. Callbacks registered while
// Pending accumulate in FIFO order and are drained exactly once, in
// registration order, at the moment of settlement. Callbacks registered
// after settlement are invoked immediately and synchronously; consumers must
// not assume asynchrony, only delivery order.
//
// A promise also carries a stitched diagnostic trace, built from stack
// captures at its creation site, at each combinator boundary it was derived
// through, and at its failure site. The trace never participates in control
// flow; see [Promise.Trace].
//
// Thread Safety:
//
// All methods are safe for concurrent use. Mutation is guarded by a single
// mutex per promise, and callbacks always run outside that lock, so a
// callback may register further callbacks or settle other promises
// (including this promise's own downstream chain) without deadlocking.
type Promise[T any] struct {
	mu          sync.Mutex
	state       State
	value       T
	err         error
	onFulfilled []func(T)
	onFailed    []func(error)
	trace       []string
}

// New returns a new Pending promise with empty callback queues. When trace
// capture is enabled the promise records its creation site as the first hop
// of its diagnostic trace.
func New[T any]() *Promise[T] {
	return &Promise[T]{trace: captureHop(1)}
}

// newDerived returns a Pending promise created at a combinator boundary: its
// trace is the parent lineage extended with a capture of the combinator call
// site, stitched under the given hop label. skip counts the stack frames
// between newDerived's caller and the user call site.
func newDerived[T any](parentTrace []string, label string, skip int) *Promise[T] {
	return &Promise[T]{trace: stitchTrace(parentTrace, captureHop(skip+1), label)}
}

// State returns the promise's current state.
func (p *Promise[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Value returns the fulfillment value, or the zero value of T unless the
// promise is Fulfilled.
func (p *Promise[T]) Value() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Fulfilled {
		var zero T
		return zero
	}
	return p.value
}

// Err returns the failure error, or nil unless the promise is Failed.
func (p *Promise[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Failed {
		return nil
	}
	return p.err
}

// Trace returns the promise's stitched diagnostic trace, trimmed of leading
// and trailing blank lines. The result is a copy and safe to retain. With
// trace capture disabled the result is empty.
func (p *Promise[T]) Trace() []string {
	p.mu.Lock()
	trace := p.trace
	p.mu.Unlock()
	return StripEmptyLines(trace)
}

// traceSnapshot returns the current stitched trace, for use as the parent
// lineage of a derived promise. Trace slices are never mutated in place once
// assigned, so the result may alias internal state but must not be written
// to.
func (p *Promise[T]) traceSnapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trace
}

// extendTrace stitches a capture of the current goroutine's stack onto the
// promise's trace beneath the given hop label. skip counts the frames
// between extendTrace's caller and the frame the capture starts at, so 0
// starts at the caller itself.
func (p *Promise[T]) extendTrace(label string, skip int) {
	hop := captureHop(skip + 1)
	if len(hop) == 0 {
		return
	}
	p.mu.Lock()
	p.trace = stitchTrace(p.trace, hop, label)
	p.mu.Unlock()
}

// Fulfill transitions the promise from Pending to Fulfilled and synchronously
// drains the fulfillment callbacks in registration order, each receiving
// value. If the promise has already settled, Fulfill returns an
// *AlreadyResolvedError and changes nothing.
//
// A panic inside a drained callback is recovered and logged; it never
// propagates to the caller of Fulfill. Combinator-installed callbacks
// additionally convert such panics into failures of the promise they were
// populating.
func (p *Promise[T]) Fulfill(value T) error {
	p.mu.Lock()
	if p.state != Pending {
		state := p.state
		p.mu.Unlock()
		return &AlreadyResolvedError{State: state}
	}
	p.state = Fulfilled
	p.value = value
	callbacks := p.onFulfilled
	p.onFulfilled = nil
	p.onFailed = nil
	p.mu.Unlock()

	for _, fn := range callbacks {
		invokeFulfilled(fn, value)
	}
	return nil
}

// Fail transitions the promise from Pending to Failed and synchronously
// drains the failure callbacks in registration order, each receiving err.
// If the promise has already settled, Fail returns an *AlreadyResolvedError
// and changes nothing. A nil err is normalized to a placeholder so Failed
// promises always carry a non-nil error.
//
// When trace capture is enabled the call site of Fail is stitched onto the
// promise's trace before the drain, so downstream observers see where the
// failure originated.
func (p *Promise[T]) Fail(err error) error {
	hop := captureHop(1)
	if err == nil {
		err = errNilFailure
	}

	p.mu.Lock()
	if p.state != Pending {
		state := p.state
		p.mu.Unlock()
		return &AlreadyResolvedError{State: state}
	}
	p.state = Failed
	p.err = err
	p.trace = stitchTrace(p.trace, hop, "failure")
	callbacks := p.onFailed
	p.onFulfilled = nil
	p.onFailed = nil
	p.mu.Unlock()

	for _, fn := range callbacks {
		invokeFailed(fn, err)
	}
	return nil
}

// OnFulfilled registers fn to receive the promise's value. While Pending,
// callbacks accumulate in FIFO order; if the promise is already Fulfilled,
// fn is invoked immediately and synchronously. fn is released after
// invocation, and discarded without invocation if the promise fails. A nil
// fn is ignored.
func (p *Promise[T]) OnFulfilled(fn func(T)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	switch p.state {
	case Pending:
		p.onFulfilled = append(p.onFulfilled, fn)
		p.mu.Unlock()
	case Fulfilled:
		value := p.value
		p.mu.Unlock()
		invokeFulfilled(fn, value)
	default:
		p.mu.Unlock()
	}
}

// OnFailed registers fn to receive the promise's failure, with the same
// discipline as [Promise.OnFulfilled] for the Failed transition.
func (p *Promise[T]) OnFailed(fn func(error)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	switch p.state {
	case Pending:
		p.onFailed = append(p.onFailed, fn)
		p.mu.Unlock()
	case Failed:
		err := p.err
		p.mu.Unlock()
		invokeFailed(fn, err)
	default:
		p.mu.Unlock()
	}
}

// ForwardFailureTo registers an implicit failure callback that calls
// target.Fail with this promise's error when it fails; fulfillment is
// ignored. This is the idiom for keeping errors observable when a promise is
// not otherwise chained into an overall result.
//
// Forwarding to an already settled target is a caller defect: the resulting
// *AlreadyResolvedError has no caller to surface to, so it is logged, and
// delivery to the promise's remaining callbacks continues. A nil target is
// ignored.
func (p *Promise[T]) ForwardFailureTo(target Failer) {
	if target == nil {
		return
	}
	p.OnFailed(func(err error) {
		if ferr := target.Fail(err); ferr != nil {
			getLogger().Err().
				Err(ferr).
				Str("cause", err.Error()).
				Log("promise: failure forwarded to settled target")
		}
	})
}

// invokeFulfilled runs a fulfillment callback with panic recovery, so a
// panicking callback can neither break the drain loop nor escape to the
// caller of Fulfill.
func invokeFulfilled[T any](fn func(T), value T) {
	defer logRecoveredPanic()
	fn(value)
}

// invokeFailed runs a failure callback with panic recovery.
func invokeFailed(fn func(error), err error) {
	defer logRecoveredPanic()
	fn(err)
}

// logRecoveredPanic recovers a panic from a drained callback and logs it.
// Must be invoked via defer.
func logRecoveredPanic() {
	if r := recover(); r != nil {
		getLogger().Err().
			Interface("panic", r).
			Log("promise: recovered panic in callback")
	}
}
