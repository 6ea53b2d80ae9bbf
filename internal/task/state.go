package task

import "fmt"

// State is the lifecycle state of a task node.
type State string

const (
	StatePending   State = "pending"
	StateReady     State = "ready"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
	StateCancelled State = "cancelled"
)

// States lists every state in lifecycle order.
var States = []State{
	StatePending,
	StateReady,
	StateRunning,
	StateSucceeded,
	StateFailed,
	StateSkipped,
	StateCancelled,
}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped, StateCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// CanTransition reports whether the state machine allows from -> to.
//
//	pending  -> ready | skipped | cancelled
//	ready    -> running | skipped | cancelled
//	running  -> succeeded | ready (retry) | failed | cancelled
//
// Terminal states never move.
func CanTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateReady || to == StateSkipped || to == StateCancelled
	case StateReady:
		return to == StateRunning || to == StateSkipped || to == StateCancelled
	case StateRunning:
		return to == StateSucceeded || to == StateReady || to == StateFailed || to == StateCancelled
	default:
		return false
	}
}

// TransitionError reports a move the state machine refuses.
type TransitionError struct {
	NodeID string
	From   State
	To     State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("disallowed transition for %q: %s -> %s", e.NodeID, e.From, e.To)
}
