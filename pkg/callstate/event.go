package callstate

// Event is one of the named inputs the machine accepts. Any event dispatched
// from a state/event pair not listed in the transition table is a no-op: the
// machine stays in its current state and no entry/exit fires.
type Event string

const (
	Initiate         Event = "initiate"
	Answer           Event = "answer"
	Approve          Event = "approve"
	ReceiveLocalMedia Event = "receiveLocalMedia"
	SentOffer        Event = "sentOffer"
	ReceiveAnswer    Event = "receiveAnswer"
	ReceiveRemoteMedia Event = "receiveRemoteMedia"
	Reject           Event = "reject"
	Modify           Event = "modify"
	Accept           Event = "accept"
	Hangup           Event = "hangup"
)

// DispatchOptions carries the handful of event-specific facts the transition
// guards need. Zero value is correct for events that consult none of them.
type DispatchOptions struct {
	// ListenerPresent gates Initiate from Idle (guard 1): a callee-side
	// machine without a registered incoming-call listener goes straight to
	// terminated. The caller side ignores it.
	ListenerPresent bool

	// Receive marks a Modify event as having arrived from the remote side
	// ("receive:true") rather than being locally initiated. Only meaningful
	// from Connected.
	Receive bool
}
