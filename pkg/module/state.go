// Package module provides the abstract lifecycle every speech module
// follows: acquire its model, initialize a native engine, run in a
// steady state, and dispose exactly once, per spec.md §4.9.
package module

import "fmt"

// State is a module's position in its lifecycle. Transitions are
// monotone: a module never moves backward except into Failed, and
// Failed always still reaches Disposed.
type State int32

const (
	StateConstructing State = iota
	StateAcquiring
	StateLoading
	StateReady
	StateDisposing
	StateDisposed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "Constructing"
	case StateAcquiring:
		return "Acquiring"
	case StateLoading:
		return "Loading"
	case StateReady:
		return "Ready"
	case StateDisposing:
		return "Disposing"
	case StateDisposed:
		return "Disposed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}
