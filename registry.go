package promise

import "sync"

// timerRegistry owns the callbacks of pending timers, keyed by TimerID. The
// heap in the loop holds only (id, deadline) nodes, so cancellation is a
// map delete here and the heap discovers dead nodes lazily on pop.
//
// IDs are assigned monotonically from 1 under the registry lock, which
// doubles as the tie-break order for equal deadlines: the id order of two
// timers is the order their ScheduleTimer calls were serialized.
type timerRegistry struct {
	mu      sync.Mutex
	nextID  TimerID
	entries map[TimerID]func()
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{
		entries: make(map[TimerID]func()),
	}
}

// put registers fn and returns its freshly assigned id.
func (r *timerRegistry) put(fn func()) TimerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.entries[id] = fn
	return id
}

// take removes and returns the callback for id. ok is false when the timer
// was canceled or never existed, in which case the caller skips the heap
// node.
func (r *timerRegistry) take(id TimerID) (fn func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok = r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return fn, ok
}

// cancel removes id, reporting whether it was still pending.
func (r *timerRegistry) cancel(id TimerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// contains reports whether id is still pending.
func (r *timerRegistry) contains(id TimerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// size returns the number of pending timers.
func (r *timerRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// clear drops every pending timer, returning how many were dropped. Called
// during shutdown so dropped callbacks can be accounted for.
func (r *timerRegistry) clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	r.entries = make(map[TimerID]func())
	return n
}
