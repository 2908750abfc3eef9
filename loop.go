package promise

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Loop is a single-goroutine cooperative scheduler: tasks, microtasks, and
// timers submitted from any goroutine execute sequentially on the goroutine
// that called [Loop.Run]. It is the package's canonical [Scheduler], giving
// deferred thunks and promise settlements a serial execution context without
// any locking in user code.
//
// A tick runs due timers (earliest deadline first, scheduling order for
// equal deadlines), then queued tasks in FIFO order, with the microtask
// queue fully drained after every timer and task. Between ticks the loop
// sleeps on a wake channel until new work or the next timer deadline
// arrives.
//
// Shutdown policy: [Loop.Shutdown] moves the loop to StateTerminating, the
// loop drains queued tasks and microtasks, then lands in StateTerminated.
// Submissions are rejected only once terminated, so work queued while
// draining still runs. Pending timers do not delay termination; they are
// dropped.
type Loop struct {
	// Prevent copying
	_ [0]func()

	state loopState

	logger *logiface.Logger[logiface.Event]

	metrics *loopMetrics

	taskMu  sync.Mutex
	tasks   funcQueue
	taskBuf []func()

	microMu  sync.Mutex
	micro    funcQueue
	microBuf []func()

	timerMu  sync.Mutex
	timers   timerHeap
	registry *timerRegistry

	// Wake-up mechanism: capacity 1, send never blocks
	wake chan struct{}

	stopOnce sync.Once

	// Closed when run exits, signalling completion to Shutdown waiters
	loopDone chan struct{}

	// In-flight submit counter for shutdown synchronization
	inflight atomic.Int64

	loopGoroutineID atomic.Uint64
}

// timerNode is a heap entry; the callback lives in the timer registry so
// cancellation can detach it without touching the heap.
type timerNode struct {
	id   TimerID
	when time.Time
}

// timerHeap is a min-heap of timerNodes ordered by deadline, with the
// monotonic id as tie-break so equal deadlines fire in scheduling order.
type timerHeap []timerNode

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].id < h[j].id
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timerNode))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// NewLoop returns a loop in StateAwake, ready for [Loop.Run]. Submissions
// are accepted immediately; they execute once the loop runs, or during the
// drain if the loop is shut down without ever running.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		logger:   cfg.logger,
		registry: newTimerRegistry(),
		timers:   make(timerHeap, 0),
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}
	if cfg.taskBacklog > 0 {
		l.taskBuf = make([]func(), 0, cfg.taskBacklog)
	}
	if cfg.metricsEnabled {
		l.metrics = new(loopMetrics)
	}

	return l, nil
}

// log returns the loop's logger, falling back to the package logger. Both
// may be nil; logiface treats a nil logger as a no-op.
func (l *Loop) log() *logiface.Logger[logiface.Event] {
	if l.logger != nil {
		return l.logger
	}
	return getLogger()
}

// Run runs the event loop and blocks until fully stopped.
//
// Run blocks until the loop terminates, via [Loop.Shutdown] or ctx
// cancellation. To run in a separate goroutine, use: `go loop.Run(ctx)`.
// Calling Run from inside the loop returns ErrReentrantRun; calling it
// twice returns ErrLoopAlreadyRunning.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopGoroutine() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	defer close(l.loopDone)

	return l.run(ctx)
}

// Shutdown gracefully shuts down the event loop: queued tasks and
// microtasks are drained, then the loop terminates. It blocks until
// termination completes or ctx expires. Pending timers are dropped, not
// awaited.
func (l *Loop) Shutdown(ctx context.Context) error {
	var result error
	l.stopOnce.Do(func() {
		result = l.shutdownImpl(ctx)
	})
	if result == nil && l.state.Load() != StateTerminated {
		return ErrLoopTerminated
	}
	return result
}

// shutdownImpl contains the actual Shutdown implementation.
func (l *Loop) shutdownImpl(ctx context.Context) error {
	for {
		current := l.state.Load()
		if current == StateTerminated || current == StateTerminating {
			return ErrLoopTerminated
		}

		if l.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				// Never ran: drain on the caller's goroutine.
				l.drain()
				return nil
			}
			if current == StateSleeping {
				l.wakeLoop()
			}
			break
		}
	}

	// Wait for termination via channel, not polling
	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main loop goroutine.
func (l *Loop) run(ctx context.Context) error {
	l.loopGoroutineID.Store(goroutineID())
	defer l.loopGoroutineID.Store(0)

	// Watcher goroutine wakes the loop on cancellation
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.wakeLoop()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	l.log().Debug().Log("promise: loop started")

	for {
		select {
		case <-ctx.Done():
			l.beginTermination()
			l.drain()
			return ctx.Err()
		default:
		}

		if state := l.state.Load(); state == StateTerminating || state == StateTerminated {
			l.drain()
			return nil
		}

		l.tick()
		l.sleep()
	}
}

// beginTermination moves the loop to StateTerminating from whatever state
// it is in, unless already terminating or terminated.
func (l *Loop) beginTermination() {
	for {
		current := l.state.Load()
		if current == StateTerminating || current == StateTerminated {
			return
		}
		if l.state.TryTransition(current, StateTerminating) {
			return
		}
	}
}

// drain is the termination sequence: mark the loop terminated so new
// submissions are rejected, run everything already queued (including work
// those callbacks chain synchronously), then drop pending timers.
//
// The empty-check rounds close the race with submitters that observed a
// pre-terminated state: the inflight counter covers a Submit between its
// state check and its push, and the required consecutive empty rounds cover
// a push that lands just after a round observed empty queues.
func (l *Loop) drain() {
	l.state.Store(StateTerminated)

	emptyChecks := 0
	const requiredEmptyChecks = 3
	for emptyChecks < requiredEmptyChecks {
		spinCount := 0
		for l.inflight.Load() > 0 {
			spinCount++
			if spinCount > 1000 {
				time.Sleep(100 * time.Microsecond)
			} else {
				runtime.Gosched()
			}
		}

		drained := false
		if l.runTasks() > 0 {
			drained = true
		}
		if l.runMicrotasks() > 0 {
			drained = true
		}

		if drained || l.inflight.Load() > 0 {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}

	if dropped := l.dropTimers(); dropped > 0 {
		l.log().Debug().
			Int("count", dropped).
			Log("promise: loop terminated with pending timers")
	}

	l.log().Debug().Log("promise: loop stopped")
}

// tick is a single iteration of the event loop: due timers, then queued
// tasks, then a final microtask drain. Each timer and task is followed by a
// full microtask drain, so microtasks scheduled by a callback run before
// the next callback.
func (l *Loop) tick() {
	l.metrics.recordTick()

	l.runDueTimers()
	l.runTasks()
	l.runMicrotasks()
}

// runDueTimers executes all timers due as of the start of the call.
// Deadlines are compared against a single time capture, so a timer
// scheduled by a timer callback never fires in the same pass.
func (l *Loop) runDueTimers() {
	now := time.Now()
	for {
		l.timerMu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) {
			l.timerMu.Unlock()
			return
		}
		node := heap.Pop(&l.timers).(timerNode)
		l.timerMu.Unlock()

		fn, ok := l.registry.take(node.id)
		if !ok {
			// Canceled
			continue
		}
		l.metrics.recordTimerFired()
		l.execute(fn)
		l.runMicrotasks()
	}
}

// runTasks drains the task queue into the run buffer and executes it in
// FIFO order, draining microtasks after each task. Returns the number of
// tasks run. Tasks submitted by a running task land in the emptied queue
// and run next call.
func (l *Loop) runTasks() int {
	l.taskMu.Lock()
	if l.tasks.size == 0 {
		l.taskMu.Unlock()
		return 0
	}
	tasks := l.tasks.drainInto(l.taskBuf[:0])
	l.taskBuf = tasks
	l.taskMu.Unlock()

	for i, fn := range tasks {
		l.metrics.recordTask()
		l.execute(fn)
		tasks[i] = nil
		l.runMicrotasks()
	}
	return len(tasks)
}

// runMicrotasks drains the microtask queue completely, including microtasks
// scheduled while draining. Returns the number run.
func (l *Loop) runMicrotasks() int {
	total := 0
	for {
		l.microMu.Lock()
		if l.micro.size == 0 {
			l.microMu.Unlock()
			return total
		}
		fns := l.micro.drainInto(l.microBuf[:0])
		l.microBuf = fns
		l.microMu.Unlock()

		for i, fn := range fns {
			l.execute(fn)
			fns[i] = nil
		}
		total += len(fns)
		l.metrics.recordMicrotasks(len(fns))
	}
}

// sleep blocks until new work arrives or the next timer deadline passes.
// The Sleeping state is published before the queues are re-checked, so a
// submitter either sees Sleeping and sends a wake, or pushed early enough
// for the re-check to see its work.
func (l *Loop) sleep() {
	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	if l.hasWork() {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	timeout := l.sleepTimeout()
	if timeout <= 0 {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	t := time.NewTimer(timeout)
	select {
	case <-l.wake:
		t.Stop()
	case <-t.C:
	}

	l.state.TryTransition(StateSleeping, StateRunning)
}

// sleepTimeout returns how long the loop may sleep: until the next timer
// deadline, capped at 10 seconds. A canceled timer at the heap head only
// wakes the loop early, which is harmless.
func (l *Loop) sleepTimeout() time.Duration {
	const maxSleep = 10 * time.Second

	l.timerMu.Lock()
	if len(l.timers) == 0 {
		l.timerMu.Unlock()
		return maxSleep
	}
	next := l.timers[0].when
	l.timerMu.Unlock()

	d := time.Until(next)
	if d <= 0 {
		return 0
	}
	if d > maxSleep {
		return maxSleep
	}
	return d
}

// hasWork reports whether any task or microtask is queued.
func (l *Loop) hasWork() bool {
	l.taskMu.Lock()
	n := l.tasks.size
	l.taskMu.Unlock()
	if n > 0 {
		return true
	}
	l.microMu.Lock()
	n = l.micro.size
	l.microMu.Unlock()
	return n > 0
}

// wakeLoop nudges a sleeping loop. The buffered channel deduplicates
// concurrent wake-ups; a stale token costs one spurious early wake.
func (l *Loop) wakeLoop() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues fn on the task queue in FIFO order.
//
// State policy during shutdown:
//   - StateTerminated: returns ErrLoopTerminated
//   - StateTerminating: allowed, the loop drains in-flight work
//   - otherwise: normal operation
func (l *Loop) Submit(fn func()) error {
	// Increment inflight first, before checking state
	l.inflight.Add(1)
	defer l.inflight.Add(-1)

	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}

	l.taskMu.Lock()
	l.tasks.push(fn)
	depth := l.tasks.size
	l.taskMu.Unlock()
	l.metrics.recordTaskDepth(depth)

	if l.state.Load() == StateSleeping {
		l.wakeLoop()
	}
	return nil
}

// ScheduleMicrotask enqueues fn on the microtask queue, which is drained
// completely after every timer and task. Same state policy as
// [Loop.Submit].
func (l *Loop) ScheduleMicrotask(fn func()) error {
	l.inflight.Add(1)
	defer l.inflight.Add(-1)

	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}

	l.microMu.Lock()
	l.micro.push(fn)
	depth := l.micro.size
	l.microMu.Unlock()
	l.metrics.recordMicroDepth(depth)

	if l.state.Load() == StateSleeping {
		l.wakeLoop()
	}
	return nil
}

// ScheduleTimer enqueues fn to run no earlier than delay from now. Timers
// with equal deadlines fire in scheduling order. A negative delay is
// treated as zero; the timer fires on the next tick. Same state policy as
// [Loop.Submit].
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) (TimerID, error) {
	l.inflight.Add(1)
	defer l.inflight.Add(-1)

	if l.state.Load() == StateTerminated {
		return 0, ErrLoopTerminated
	}

	if delay < 0 {
		delay = 0
	}
	when := time.Now().Add(delay)

	id := l.registry.put(fn)
	l.timerMu.Lock()
	heap.Push(&l.timers, timerNode{id: id, when: when})
	l.timerMu.Unlock()

	l.log().Debug().
		Uint64("timer", uint64(id)).
		Dur("delay", delay).
		Log("promise: timer scheduled")

	if l.state.Load() == StateSleeping {
		l.wakeLoop()
	}
	return id, nil
}

// CancelTimer detaches the callback of a pending timer so it never runs.
// Returns ErrTimerNotFound if the id is unknown, already fired, or already
// canceled. The heap node is skipped on pop; heavily canceled heaps are
// compacted opportunistically.
func (l *Loop) CancelTimer(id TimerID) error {
	if !l.registry.cancel(id) {
		return ErrTimerNotFound
	}
	l.metrics.recordTimerCanceled()

	l.log().Debug().
		Uint64("timer", uint64(id)).
		Log("promise: timer canceled")

	l.scavengeTimers()
	return nil
}

// scavengeTimers rebuilds the timer heap without dead nodes once they are
// both numerous and the majority, keeping cancellation O(1) in the common
// case and the heap linear in live timers overall.
func (l *Loop) scavengeTimers() {
	const minDead = 32

	l.timerMu.Lock()
	defer l.timerMu.Unlock()

	dead := len(l.timers) - l.registry.size()
	if dead < minDead || dead*2 < len(l.timers) {
		return
	}

	live := make(timerHeap, 0, len(l.timers)-dead)
	for _, node := range l.timers {
		if l.registry.contains(node.id) {
			live = append(live, node)
		}
	}
	l.timers = live
	heap.Init(&l.timers)
}

// dropTimers discards all pending timers, returning how many live
// callbacks were dropped.
func (l *Loop) dropTimers() int {
	l.timerMu.Lock()
	l.timers = nil
	l.timerMu.Unlock()
	return l.registry.clear()
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Metrics returns a snapshot of the loop's counters. The zero snapshot is
// returned unless the loop was built with WithMetrics(true).
func (l *Loop) Metrics() MetricsSnapshot {
	return l.metrics.snapshot()
}

// execute runs fn with panic recovery; a panicking callback never kills
// the loop.
func (l *Loop) execute(fn func()) {
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.log().Err().
				Interface("panic", r).
				Log("promise: recovered panic in loop task")
		}
	}()

	fn()
}

// isLoopGoroutine checks if we're on the loop goroutine.
func (l *Loop) isLoopGoroutine() bool {
	id := l.loopGoroutineID.Load()
	if id == 0 {
		return false
	}
	return goroutineID() == id
}

// goroutineID returns the current goroutine's ID, parsed from the stack
// header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
