package promise

import (
	"sync"
	"time"
)

// Of returns a promise already Fulfilled with value.
func Of[T any](value T) *Promise[T] {
	return &Promise[T]{state: Fulfilled, value: value, trace: captureHop(1)}
}

// OfError returns a promise already Failed with err. A nil err is normalized
// the same way as [Promise.Fail].
func OfError[T any](err error) *Promise[T] {
	if err == nil {
		err = errNilFailure
	}
	return &Promise[T]{state: Failed, err: err, trace: captureHop(1)}
}

// Defer returns a promise settled by thunk, which is submitted to s and runs
// strictly after Defer returns, never on the caller's stack. The promise
// fulfills with thunk's value, fails with its error, or fails with a
// *PanicError if thunk panics. If the scheduler rejects the submission (a
// terminated loop, for example) the promise fails with the scheduler's error
// before Defer returns.
func Defer[T any](s Scheduler, thunk func() (T, error)) *Promise[T] {
	out := newDerived[T](nil, "defer", 1)
	if err := s.Submit(func() {
		out.extendTrace("deferred", 0)
		value, err := runThunk(thunk)
		if err != nil {
			completeFailed(out, err)
			return
		}
		completeFulfilled(out, value)
	}); err != nil {
		completeFailed(out, err)
	}
	return out
}

// DeferLazy is Defer for thunks that deliver their result as another
// promise: once the thunk has run, the returned promise settles exactly as
// the thunk's promise does, one level of flattening. A thunk that returns
// nil fails the promise with ErrNilPromise.
func DeferLazy[T any](s Scheduler, thunk func() *Promise[T]) *Promise[T] {
	out := newDerived[T](nil, "deferLazy", 1)
	if err := s.Submit(func() {
		out.extendTrace("deferred", 0)
		inner, err := runLazy(thunk)
		if err != nil {
			completeFailed(out, err)
			return
		}
		adopt(out, inner)
	}); err != nil {
		completeFailed(out, err)
	}
	return out
}

// Then derives a promise by mapping p's fulfillment value through fn. The
// derived promise fulfills with fn's result, or fails with fn's error or
// with a *PanicError if fn panics; if p fails, the failure passes through
// unchanged and fn is never called.
//
// fn runs synchronously within p's settlement drain, or immediately when p
// is already Fulfilled.
func Then[T, U any](p *Promise[T], fn func(T) (U, error)) *Promise[U] {
	if p == nil {
		out := newDerived[U](nil, "then", 1)
		completeFailed(out, ErrNilPromise)
		return out
	}
	out := newDerived[U](p.traceSnapshot(), "then", 1)
	p.OnFulfilled(func(value T) {
		mapped, err := runThunk(func() (U, error) { return fn(value) })
		if err != nil {
			completeFailed(out, err)
			return
		}
		completeFulfilled(out, mapped)
	})
	p.OnFailed(func(err error) {
		completeFailed(out, err)
	})
	return out
}

// LazyThen derives a promise by mapping p's fulfillment value through fn,
// where fn itself returns a promise; the derived promise adopts that
// promise's eventual settlement. fn is not evaluated unless p fulfills, and
// p's failure passes through unchanged. A nil promise from fn fails the
// derived promise with ErrNilPromise, and a panic in fn fails it with a
// *PanicError.
func LazyThen[T, U any](p *Promise[T], fn func(T) *Promise[U]) *Promise[U] {
	if p == nil {
		out := newDerived[U](nil, "lazyThen", 1)
		completeFailed(out, ErrNilPromise)
		return out
	}
	out := newDerived[U](p.traceSnapshot(), "lazyThen", 1)
	p.OnFulfilled(func(value T) {
		inner, err := runLazy(func() *Promise[U] { return fn(value) })
		if err != nil {
			completeFailed(out, err)
			return
		}
		adopt(out, inner)
	})
	p.OnFailed(func(err error) {
		completeFailed(out, err)
	})
	return out
}

// Join returns a promise over the values of ps, in declaration order,
// fulfilled once every input has fulfilled. If any input fails, the joined
// promise fails with the first failure observed in delivery order, and every
// later settlement (fulfillment or failure) of the remaining inputs is
// ignored. Inputs that are already settled are observed immediately, in
// declaration order, before Join returns.
//
// Join with no inputs returns a promise already fulfilled with an empty,
// non-nil slice. A nil input fails the joined promise with ErrNilPromise.
func Join[T any](ps ...*Promise[T]) *Promise[[]T] {
	out := newDerived[[]T](nil, "join", 1)
	if len(ps) == 0 {
		completeFulfilled(out, make([]T, 0))
		return out
	}

	results := make([]T, len(ps))
	var (
		mu      sync.Mutex
		pending = len(ps)
		failed  bool
	)
	fail := func(err error) {
		mu.Lock()
		if failed {
			mu.Unlock()
			return
		}
		failed = true
		mu.Unlock()
		completeFailed(out, err)
	}
	for i, p := range ps {
		i := i
		if p == nil {
			fail(ErrNilPromise)
			continue
		}
		p.OnFulfilled(func(value T) {
			mu.Lock()
			if failed {
				mu.Unlock()
				return
			}
			results[i] = value
			pending--
			done := pending == 0
			mu.Unlock()
			if done {
				completeFulfilled(out, results)
			}
		})
		p.OnFailed(fail)
	}
	return out
}

// Time derives a promise that settles identically to p, recording the
// elapsed time from the Time call to p's settlement in the package timing
// estimator (see [TimingSnapshot]) and emitting a debug log line with the
// duration. Purely observational; values, errors, and delivery order are
// unaffected.
func Time[T any](p *Promise[T]) *Promise[T] {
	if p == nil {
		out := newDerived[T](nil, "time", 1)
		completeFailed(out, ErrNilPromise)
		return out
	}
	out := newDerived[T](p.traceSnapshot(), "time", 1)
	start := time.Now()
	observe := func(outcome string) {
		elapsed := time.Since(start)
		observeTiming(elapsed)
		getLogger().Debug().
			Dur("elapsed", elapsed).
			Str("outcome", outcome).
			Log("promise: timed settlement")
	}
	p.OnFulfilled(func(value T) {
		observe("fulfilled")
		completeFulfilled(out, value)
	})
	p.OnFailed(func(err error) {
		observe("failed")
		completeFailed(out, err)
	})
	return out
}

// Go runs fn on its own goroutine and settles the returned promise with the
// result, handing the settlement to s so callbacks fire on the scheduler's
// goroutine. If the hand-off is rejected (a terminated loop) the settlement
// happens directly on fn's goroutine instead, so the result is never lost.
// A panic in fn fails the promise with a *PanicError.
func Go[T any](s Scheduler, fn func() (T, error)) *Promise[T] {
	out := newDerived[T](nil, "go", 1)
	go func() {
		value, err := runThunk(fn)
		settle := func() {
			if err != nil {
				completeFailed(out, err)
				return
			}
			completeFulfilled(out, value)
		}
		if serr := s.Submit(settle); serr != nil {
			settle()
		}
	}()
	return out
}

// adopt ties out to inner: out settles exactly as inner does. A nil inner
// fails out with ErrNilPromise.
func adopt[T any](out, inner *Promise[T]) {
	if inner == nil {
		completeFailed(out, ErrNilPromise)
		return
	}
	inner.OnFulfilled(func(value T) { completeFulfilled(out, value) })
	inner.OnFailed(func(err error) { completeFailed(out, err) })
}

// runThunk invokes thunk, converting a panic into a *PanicError.
func runThunk[T any](thunk func() (T, error)) (_ T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return thunk()
}

// runLazy invokes thunk, converting a panic into a *PanicError.
func runLazy[T any](thunk func() *Promise[T]) (_ *Promise[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return thunk(), nil
}

// completeFulfilled settles a combinator-built promise with a value. The
// combinator owns the settlement, so a non-nil error means the caller
// settled the output promise directly; that is logged and otherwise
// tolerated.
func completeFulfilled[T any](p *Promise[T], value T) {
	if err := p.Fulfill(value); err != nil {
		getLogger().Err().
			Err(err).
			Log("promise: combinator output already settled")
	}
}

// completeFailed settles a combinator-built promise with an error, under the
// same ownership rule as completeFulfilled.
func completeFailed[T any](p *Promise[T], err error) {
	if rerr := p.Fail(err); rerr != nil {
		getLogger().Err().
			Err(rerr).
			Str("cause", err.Error()).
			Log("promise: combinator output already settled")
	}
}
