package callstate

import "sync"

// Listener is an observer of a specific state's entry or exit.
type Listener func(m *Machine)

// TransitionListener observes every transition, regardless of state.
type TransitionListener func(prev, next State, event Event)

// Machine is the per-call finite-state machine: the sole authority on which
// lifecycle transitions are legal. It holds the call's lifecycle state plus
// the handful of booleans the transition guards consult. Its fields are
// guarded by mu, so Dispatch may be called from several goroutines; entry,
// exit and transition listeners run after mu is released, so the order in
// which listeners of concurrent Dispatch calls run is not defined.
type Machine struct {
	mu sync.Mutex

	name State

	caller                bool
	hasLocalMedia         bool
	hasLocalMediaApproval bool
	isMediaFlowing        bool
	renegotiating         bool

	entryListeners map[State][]Listener
	exitListeners  map[State][]Listener
	transitionSubs []TransitionListener
}

// NewMachine constructs a Machine in Idle with the given caller flag. caller
// is fixed for the life of a non-modifying call; a modify renegotiation may
// flip it internally (see Dispatch's handling of Modify).
func NewMachine(caller bool) *Machine {
	return &Machine{
		name:           Idle,
		caller:         caller,
		entryListeners: make(map[State][]Listener),
		exitListeners:  make(map[State][]Listener),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Caller reports whether this call's local side is the caller.
func (m *Machine) Caller() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caller
}

// IsMediaFlowing reports whether media is currently considered live —
// true from the moment Connected is entered until a modify tears the
// underlying negotiation down, or the call terminates.
func (m *Machine) IsMediaFlowing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isMediaFlowing
}

// IsModifying reports whether the current state belongs to a renegotiation
// cycle triggered from an already-established Connected call, as opposed to
// the call's initial setup.
func (m *Machine) IsModifying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renegotiating
}

// OnEntry registers fn to run whenever the machine enters s. Re-entry into
// the same state (a self-loop) does not fire entry/exit.
func (m *Machine) OnEntry(s State, fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entryListeners[s] = append(m.entryListeners[s], fn)
}

// OnExit registers fn to run whenever the machine leaves s.
func (m *Machine) OnExit(s State, fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exitListeners[s] = append(m.exitListeners[s], fn)
}

// OnTransition registers fn to run on every state change, in addition to any
// per-state entry/exit listeners.
func (m *Machine) OnTransition(fn TransitionListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionSubs = append(m.transitionSubs, fn)
}

// Dispatch feeds event into the machine. It returns true if the event moved
// the machine to a different state, false if it was a no-op (either because
// the (state, event) pair is not in the transition table, a guard rejected
// it, or the resulting transition is a same-state self-loop). Dispatch on a
// Terminated machine is always a no-op.
func (m *Machine) Dispatch(event Event, opts DispatchOptions) bool {
	m.mu.Lock()

	prev := m.name
	if prev.IsTerminal() {
		m.mu.Unlock()
		return false
	}

	next, moved := m.transition(prev, event, opts)
	m.name = next
	m.mu.Unlock()

	if !moved {
		return false
	}

	m.fireExit(prev)
	m.fireEntry(next)
	m.fireTransition(prev, next, event)
	return true
}

// transition computes the next state for (prev, event) and applies the
// guard/side-effect logic of the state table below. Callers hold m.mu. It
// returns the resulting state and whether that counts as a moved
// (non-self-loop) transition.
func (m *Machine) transition(prev State, event Event, opts DispatchOptions) (State, bool) {
	// Hangup tears down from any non-idle, non-terminal state.
	if event == Hangup && prev != Idle {
		m.resetFlags()
		return Terminated, true
	}

	switch prev {
	case Idle:
		if event == Initiate {
			// guard 1: a callee-side machine needs a registered incoming-call
			// listener to move to preparing; without one it goes straight to
			// terminated. The caller side always moves to preparing.
			if !m.caller && !opts.ListenerPresent {
				m.resetFlags()
				return Terminated, true
			}
			return Preparing, true
		}

	case Preparing:
		switch event {
		case Answer:
			// guard 2: only when no media is already flowing — i.e. either
			// the call's initial setup, or a modify-receive cycle, which
			// clears isMediaFlowing before re-entering Preparing.
			if m.isMediaFlowing {
				return prev, false
			}
			return ApprovingDeviceAccess, true
		case Reject:
			return m.rejectGate(prev)
		}

	case ApprovingDeviceAccess:
		switch event {
		case Approve:
			return ApprovingContent, true
		case Reject:
			return m.rejectGate(prev)
		}

	case ApprovingContent:
		switch event {
		case ReceiveLocalMedia:
			// Local media always arrives and is recorded, independent of
			// whether the user has approved it yet.
			m.hasLocalMedia = true
			if m.hasLocalMediaApproval {
				return m.offerOrConnect(), true
			}
			return prev, false
		case Approve:
			m.hasLocalMediaApproval = true
			if m.hasLocalMedia {
				return m.offerOrConnect(), true
			}
			return prev, false
		case Reject:
			return m.rejectGate(prev)
		}

	case Offering:
		switch event {
		case SentOffer:
			return prev, false
		case ReceiveLocalMedia:
			// A second media track (e.g. screenshare added mid-offer) can
			// still arrive here; recorded but does not re-trigger the
			// offer that already went out.
			m.hasLocalMedia = true
			return prev, false
		case ReceiveAnswer:
			return Connecting, true
		case Reject:
			return m.rejectGate(prev)
		}

	case Connecting:
		switch event {
		case ReceiveRemoteMedia:
			m.isMediaFlowing = true
			m.renegotiating = false
			return Connected, true
		case Reject:
			return m.rejectGate(prev)
		}

	case Connected:
		switch event {
		case Reject:
			// guard 9: reject on an established call never tears it down.
			return prev, false
		case Modify:
			if opts.Receive {
				m.caller = false
				m.hasLocalMedia = false
				m.hasLocalMediaApproval = false
				m.isMediaFlowing = false
				m.renegotiating = true
				return Preparing, true
			}
			m.renegotiating = true
			return Modifying, true
		}

	case Modifying:
		switch event {
		case Accept:
			m.caller = true
			m.hasLocalMedia = false
			m.hasLocalMediaApproval = false
			m.isMediaFlowing = false
			return Preparing, true
		case Reject:
			// guard 11: the modify proposal was rejected by the remote
			// side; the call falls back to the established connection
			// unconditionally, regardless of isMediaFlowing.
			m.renegotiating = false
			return Connected, true
		}
	}

	return prev, false
}

// rejectGate implements the shared "losing fork" reject behavior (guards
// 3/9): reject is a no-op while media is already flowing, and otherwise
// tears the call down.
func (m *Machine) rejectGate(prev State) (State, bool) {
	if m.isMediaFlowing {
		return prev, false
	}
	m.resetFlags()
	return Terminated, true
}

// offerOrConnect resolves the caller/callee split shared by the two
// approvingContent transitions (guards 4/5/6): the caller side emits an
// SDP offer next, the callee side proceeds straight to awaiting a remote
// description.
func (m *Machine) offerOrConnect() State {
	if m.caller {
		return Offering
	}
	return Connecting
}

func (m *Machine) resetFlags() {
	m.hasLocalMedia = false
	m.hasLocalMediaApproval = false
	m.isMediaFlowing = false
	m.renegotiating = false
}

func (m *Machine) fireEntry(s State) {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.entryListeners[s]...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(m)
	}
}

func (m *Machine) fireExit(s State) {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.exitListeners[s]...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(m)
	}
}

func (m *Machine) fireTransition(prev, next State, event Event) {
	m.mu.Lock()
	subs := append([]TransitionListener(nil), m.transitionSubs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(prev, next, event)
	}
}
