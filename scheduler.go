package promise

import "time"

// TimerID identifies a timer scheduled on a [Scheduler]. IDs are assigned
// monotonically from 1; the zero value never names a live timer.
type TimerID uint64

// Scheduler is the execution surface the combinators defer work onto. The
// package's own implementation is [Loop]; tests substitute deterministic
// stand-ins.
//
// Implementations must guarantee that a submitted function runs strictly
// after the scheduling call returns, never synchronously on the caller's
// stack, and that functions scheduled with equal delay run in scheduling
// order. No ordering is implied between functions scheduled with different
// delays beyond the delays themselves.
type Scheduler interface {
	// Submit enqueues fn to run as soon as the scheduler next processes
	// work. A non-nil error means fn will never run.
	Submit(fn func()) error

	// ScheduleTimer enqueues fn to run no earlier than delay from now,
	// returning an id usable with cancellation where the implementation
	// supports it. A non-nil error means fn will never run.
	ScheduleTimer(delay time.Duration, fn func()) (TimerID, error)
}

var _ Scheduler = (*Loop)(nil)
