// Package promise provides an asynchronous single-value container with
// chainable combinators, an event loop to run deferred work on, and a
// diagnostic trace subsystem that stitches readable stack traces across
// asynchronous call boundaries.
//
// # Architecture
//
// A [Promise] settles at most once, Fulfilled with a value or Failed with
// an error, and drains its registered callbacks exactly once in FIFO order
// at the moment of settlement. The combinators ([Of], [Defer], [Then],
// [LazyThen], [DeferLazy], [Join], [Time], [Go]) derive promises from
// values, thunks, and other promises without exposing any shared mutable
// state.
//
// Deferred execution goes through the [Scheduler] interface; [Loop] is the
// package's implementation, a single-goroutine cooperative loop with FIFO
// tasks, fully drained microtasks, and deadline-ordered timers. Tests
// substitute trivial schedulers for determinism.
//
// # Diagnostics
//
// Every promise carries a stitched trace: stack captures taken at its
// creation site, at each combinator boundary it was derived through, at
// deferred-thunk execution, and at its failure site, merged with
// shared-suffix elision ([ReplaceCommonTrailingElements]) and per-hop
// indentation ([AppendIndented]). [Promise.Trace] returns the rendered
// lines; [SetTraceCapture] turns capture off globally for hot paths.
//
// # Thread Safety
//
//   - All [Promise] methods are safe for concurrent use; callbacks run
//     outside the promise lock and may settle other promises re-entrantly.
//   - [Loop.Submit], [Loop.ScheduleMicrotask], [Loop.ScheduleTimer], and
//     [Loop.CancelTimer] are safe to call from any goroutine.
//   - Callbacks scheduled on a [Loop] execute sequentially on the loop
//     goroutine; promises settled there need no further synchronization.
//
// # Execution Model
//
// Within each loop tick:
//  1. Timer callbacks (earliest deadline first, scheduling order on ties)
//  2. Submitted tasks (FIFO)
//  3. Microtasks (fully drained after every timer and task)
//
// Promise callbacks themselves are synchronous: registering on a settled
// promise invokes immediately, and settling a promise drains its queue on
// the settling goroutine. Asynchrony comes only from the scheduler.
//
// # Usage
//
//	loop, err := promise.NewLoop()
//	if err != nil {
//		log.Fatal(err)
//	}
//	go func() {
//		p := promise.Defer(loop, func() (int, error) {
//			return 42, nil
//		})
//		q := promise.Then(p, func(v int) (string, error) {
//			return strconv.Itoa(v), nil
//		})
//		q.OnFulfilled(func(s string) {
//			fmt.Println(s)
//			_ = loop.Shutdown(context.Background())
//		})
//	}()
//	if err := loop.Run(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// # Error Types
//
//   - [AlreadyResolvedError]: a second resolution attempt on a settled
//     promise
//   - [PanicError]: wraps panics recovered from callbacks and thunks
//   - [ErrLoopTerminated], [ErrLoopAlreadyRunning], [ErrReentrantRun],
//     [ErrTimerNotFound], [ErrNilPromise]: sentinel errors for loop and
//     combinator misuse
//
// All error types implement the standard [error] interface and support
// [errors.Is] and [errors.As] matching.
package promise
