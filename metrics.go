package promise

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot is a point-in-time copy of a loop's counters; see
// [Loop.Metrics].
//
// Example:
//
//	loop, _ := NewLoop(WithMetrics(true))
//	_ = loop.Run(ctx)
//	stats := loop.Metrics()
//	fmt.Printf("ticks=%d tasks=%d\n", stats.Ticks, stats.Tasks)
type MetricsSnapshot struct {
	// Ticks is the number of loop iterations.
	Ticks uint64

	// Tasks is the number of submitted tasks executed.
	Tasks uint64

	// Microtasks is the number of microtasks executed.
	Microtasks uint64

	// TimersFired is the number of timer callbacks that ran.
	TimersFired uint64

	// TimersCanceled is the number of timers canceled before firing.
	TimersCanceled uint64

	// MaxTaskQueue is the largest observed task queue depth.
	MaxTaskQueue int64

	// MaxMicroQueue is the largest observed microtask queue depth.
	MaxMicroQueue int64
}

// loopMetrics collects loop counters with atomics. A nil *loopMetrics is a
// valid no-op collector, so metrics-disabled loops carry no accounting
// branches beyond the nil check.
type loopMetrics struct {
	ticks          atomic.Uint64
	tasks          atomic.Uint64
	microtasks     atomic.Uint64
	timersFired    atomic.Uint64
	timersCanceled atomic.Uint64
	maxTaskQueue   atomic.Int64
	maxMicroQueue  atomic.Int64
}

func (m *loopMetrics) recordTick() {
	if m == nil {
		return
	}
	m.ticks.Add(1)
}

func (m *loopMetrics) recordTask() {
	if m == nil {
		return
	}
	m.tasks.Add(1)
}

func (m *loopMetrics) recordMicrotasks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.microtasks.Add(uint64(n))
}

func (m *loopMetrics) recordTimerFired() {
	if m == nil {
		return
	}
	m.timersFired.Add(1)
}

func (m *loopMetrics) recordTimerCanceled() {
	if m == nil {
		return
	}
	m.timersCanceled.Add(1)
}

func (m *loopMetrics) recordTaskDepth(depth int) {
	if m == nil {
		return
	}
	storeMax(&m.maxTaskQueue, int64(depth))
}

func (m *loopMetrics) recordMicroDepth(depth int) {
	if m == nil {
		return
	}
	storeMax(&m.maxMicroQueue, int64(depth))
}

func (m *loopMetrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Ticks:          m.ticks.Load(),
		Tasks:          m.tasks.Load(),
		Microtasks:     m.microtasks.Load(),
		TimersFired:    m.timersFired.Load(),
		TimersCanceled: m.timersCanceled.Load(),
		MaxTaskQueue:   m.maxTaskQueue.Load(),
		MaxMicroQueue:  m.maxMicroQueue.Load(),
	}
}

// storeMax raises v to at least x.
func storeMax(v *atomic.Int64, x int64) {
	for {
		cur := v.Load()
		if x <= cur || v.CompareAndSwap(cur, x) {
			return
		}
	}
}

// TimingStats summarizes the promise latencies observed through [Time].
// The quantiles are streaming P-Square estimates, not exact order
// statistics; with fewer than five observations they fall back to exact
// values.
type TimingStats struct {
	// Count is the number of timed settlements.
	Count int

	// Mean is the arithmetic mean latency.
	Mean time.Duration

	// P50, P90, and P99 are estimated latency quantiles.
	P50 time.Duration
	P90 time.Duration
	P99 time.Duration

	// Max is the largest observed latency.
	Max time.Duration
}

// timing is the package-wide latency estimator fed by [Time]. Package-level
// for the same reason as the logger: instrumentation is a cross-cutting
// concern shared by every promise, and the estimator is O(1) space
// regardless of observation count.
var timing = struct {
	sync.Mutex
	q50   *quantileEstimator
	q90   *quantileEstimator
	q99   *quantileEstimator
	sum   float64
	count int
	max   float64
}{
	q50: newQuantileEstimator(0.50),
	q90: newQuantileEstimator(0.90),
	q99: newQuantileEstimator(0.99),
}

// observeTiming feeds one latency observation into the package estimator.
func observeTiming(d time.Duration) {
	x := float64(d)
	timing.Lock()
	defer timing.Unlock()
	timing.count++
	timing.sum += x
	if x > timing.max {
		timing.max = x
	}
	timing.q50.update(x)
	timing.q90.update(x)
	timing.q99.update(x)
}

// TimingSnapshot returns the current package timing statistics.
func TimingSnapshot() TimingStats {
	timing.Lock()
	defer timing.Unlock()
	if timing.count == 0 {
		return TimingStats{}
	}
	return TimingStats{
		Count: timing.count,
		Mean:  time.Duration(timing.sum / float64(timing.count)),
		P50:   time.Duration(timing.q50.quantile()),
		P90:   time.Duration(timing.q90.quantile()),
		P99:   time.Duration(timing.q99.quantile()),
		Max:   time.Duration(timing.max),
	}
}

// ResetTimings clears the package timing estimator. Intended for tests and
// for long-running processes that window their statistics externally.
func ResetTimings() {
	timing.Lock()
	defer timing.Unlock()
	timing.count = 0
	timing.sum = 0
	timing.max = 0
	timing.q50 = newQuantileEstimator(0.50)
	timing.q90 = newQuantileEstimator(0.90)
	timing.q99 = newQuantileEstimator(0.99)
}
