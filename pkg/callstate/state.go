// Package callstate implements the per-call finite-state machine: the sole
// authority on which lifecycle transitions are legal, when media is
// gathered, when SDP is emitted, and when a call tears down. It has no
// dependency on the signaling transport or the peer-connection primitive —
// callers observe entry/exit events and drive side effects themselves.
package callstate

// State is one of the named call lifecycle states. There is exactly one
// current State at all times.
type State string

const (
	Idle                  State = "idle"
	Preparing             State = "preparing"
	ApprovingDeviceAccess State = "approvingDeviceAccess"
	ApprovingContent      State = "approvingContent"
	Offering              State = "offering"
	Connecting            State = "connecting"
	Connected             State = "connected"
	Modifying             State = "modifying"
	Terminated            State = "terminated"
)

// IsTerminal reports whether s is the machine's terminal state. No event
// dispatched after entering Terminated causes a transition or emits an
// entry/exit event.
func (s State) IsTerminal() bool { return s == Terminated }
