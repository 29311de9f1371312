// ABOUTME: Integration state machine states for the bridge
// ABOUTME: One state value per bridge instance, mutated only under its locks

package bridge

// State is the integration lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateDegraded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
