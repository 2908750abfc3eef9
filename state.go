package promise

import (
	"sync/atomic"
)

// State is the lifecycle state of a Promise.
//
// The state machine has exactly two edges, both one-way and permanent:
//
//	Pending --Fulfill--> Fulfilled (terminal)
//	Pending --Fail-----> Failed    (terminal)
//
// No terminal-to-terminal or terminal-to-Pending transition is ever
// observable.
type State int32

const (
	// Pending indicates the promise has not yet settled.
	Pending State = iota
	// Fulfilled indicates the promise settled with a value.
	Fulfilled
	// Failed indicates the promise settled with an error.
	Failed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Fulfilled:
		return "Fulfilled"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// LoopState represents the current state of an event loop.
//
// State machine:
//
//	StateAwake → StateRunning            [Run]
//	StateAwake → StateTerminated         [Shutdown before Run]
//	StateRunning ⇄ StateSleeping         [idle wait, CAS]
//	StateRunning → StateTerminating      [Shutdown / ctx cancellation]
//	StateSleeping → StateTerminating     [Shutdown / ctx cancellation]
//	StateTerminating → StateTerminated   [drain complete]
//
// Temporary states (Running, Sleeping) transition via CAS; Terminated is
// stored directly once shutdown completes and is terminal.
type LoopState uint32

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = iota
	// StateRunning indicates the loop is actively processing work.
	StateRunning
	// StateSleeping indicates the loop is blocked waiting for work.
	StateSleeping
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating
	// StateTerminated indicates the loop has fully shut down.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is the loop's atomic state machine.
type loopState struct {
	v atomic.Uint32
}

// Load returns the current state.
func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store unconditionally stores a new state. Reserved for irreversible
// transitions; storing Running or Sleeping directly would break the CAS
// discipline used for the temporary states.
func (s *loopState) Store(state LoopState) {
	s.v.Store(uint32(state))
}

// TryTransition atomically transitions from one state to another, reporting
// whether the swap happened.
func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
