// Package call aggregates a CallState machine, a peer-connection handle, and
// a reference to the owning SignalingChannel into a single Call entity — the
// wiring between "a state changed" and "a signal must go out" or "a
// peer-connection primitive must run" lives here, nowhere else.
package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roj1signal/internal/util"
	"github.com/1ureka/roj1signal/pkg/callstate"
	"github.com/1ureka/roj1signal/pkg/model"
	"github.com/1ureka/roj1signal/pkg/signaling"
	"github.com/1ureka/roj1signal/pkg/webrtcx"
)

// MediaGatherer stands in for the platform's getUserMedia/getDisplayMedia
// primitive, an explicit non-goal of the core: it acquires whatever local
// media or content the call needs and reports completion by returning.
type MediaGatherer interface {
	GatherLocalMedia(ctx context.Context, c *Call) error
}

// Options configures a new Call.
type Options struct {
	ID                 string
	Caller             bool
	Target             model.Target
	RemoteEndpointID   string
	RemoteConnectionID string

	// ListenerPresent answers guard 1 for the callee side: whether the
	// client has a registered incoming-call listener.
	ListenerPresent bool

	Channel *signaling.Channel
	Peer    *webrtcx.Peer
	Media   MediaGatherer
}

// Call is one point-to-point media or data session. It owns its CallState
// and peer-connection handle exclusively; the SignalingChannel only holds a
// weak reference to it for routing.
type Call struct {
	mu sync.Mutex

	id                 string
	target             model.Target
	remoteEndpointID   string
	remoteConnectionID string
	remoteOfferSDP     string
	listenerPresent    bool

	state   *callstate.Machine
	peer    *webrtcx.Peer
	channel *signaling.Channel
	media   MediaGatherer
}

// New constructs a Call and wires its CallState entry/exit hooks to the
// peer-connection and signaling side effects that drive its lifecycle.
func New(opts Options) *Call {
	c := &Call{
		id:                 opts.ID,
		target:             opts.Target,
		remoteEndpointID:   opts.RemoteEndpointID,
		remoteConnectionID: opts.RemoteConnectionID,
		listenerPresent:    opts.ListenerPresent,
		state:              callstate.NewMachine(opts.Caller),
		peer:               opts.Peer,
		channel:            opts.Channel,
		media:              opts.Media,
	}
	c.wireState()
	c.wirePeer()
	util.Stats.AddCallStarted()
	return c
}

// ID returns the call's session id.
func (c *Call) ID() string { return c.id }

// Caller reports whether this side emitted (or will emit) the first offer.
func (c *Call) Caller() bool { return c.state.Caller() }

// RemoteConnectionID returns the connection id this call has committed to
// (set once the remote side's answer/offer names a specific connection).
func (c *Call) RemoteConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteConnectionID
}

// State exposes the underlying CallState for observers that want to
// subscribe to entry/exit events directly.
func (c *Call) State() *callstate.Machine { return c.state }

// Peer exposes the underlying peer-connection handle.
func (c *Call) Peer() *webrtcx.Peer { return c.peer }

// --- Client-driven events ---

// Start dispatches initiate; the caller side always may, the callee side
// requires ListenerPresent (guard 1).
func (c *Call) Start() bool {
	return c.state.Dispatch(callstate.Initiate, callstate.DispatchOptions{ListenerPresent: c.listenerPresent})
}

// Answer dispatches answer (the callee accepting an incoming call, or this
// side re-entering preparing after a modify).
func (c *Call) Answer() bool {
	return c.state.Dispatch(callstate.Answer, callstate.DispatchOptions{})
}

// Approve dispatches approve (device-access approval, then content approval).
func (c *Call) Approve() bool {
	return c.state.Dispatch(callstate.Approve, callstate.DispatchOptions{})
}

// ModifyLocal dispatches modify with Receive=false: this side proposes a
// renegotiation of an already-connected call.
func (c *Call) ModifyLocal(ctx context.Context) error {
	if err := c.channel.SendModify(ctx, c.remoteEndpointID, c.id, c.target, model.ModifyInitiate); err != nil {
		return err
	}
	c.state.Dispatch(callstate.Modify, callstate.DispatchOptions{})
	return nil
}

// AcceptModify dispatches accept: this side (the modify initiator) has had
// its renegotiation accepted by the remote.
func (c *Call) AcceptModify() bool {
	return c.state.Dispatch(callstate.Accept, callstate.DispatchOptions{})
}

// Reject dispatches reject. While media is already flowing this is a no-op
// on state (losing-fork rule, guard 9); otherwise it tears the call down.
// Either way a bye is sent so the remote side's bookkeeping matches.
func (c *Call) Reject(ctx context.Context, reason string) bool {
	if err := c.channel.SendHangup(ctx, c.remoteEndpointID, c.id, c.target, reason); err != nil {
		util.LogWarning("call %s: send reject bye: %v", c.id, err)
	}
	return c.state.Dispatch(callstate.Reject, callstate.DispatchOptions{})
}

// Hangup dispatches hangup and notifies the remote side with a bye.
func (c *Call) Hangup(ctx context.Context, reason string) bool {
	if err := c.channel.SendHangup(ctx, c.remoteEndpointID, c.id, c.target, reason); err != nil {
		util.LogWarning("call %s: send hangup bye: %v", c.id, err)
	}
	return c.state.Dispatch(callstate.Hangup, callstate.DispatchOptions{})
}

// --- signaling.CallHandler ---

// SignalOffer stores the remote offer SDP and, for a freshly created
// callee-side call, starts the lifecycle (R-S2 delivers the offer to a call
// that exists only because of this very signal).
func (c *Call) SignalOffer(msg signaling.Message) {
	c.mu.Lock()
	c.remoteOfferSDP = msg.SDP
	if c.remoteEndpointID == "" {
		c.remoteEndpointID = msg.FromEndpoint
	}
	c.mu.Unlock()
	c.state.Dispatch(callstate.Initiate, callstate.DispatchOptions{ListenerPresent: c.listenerPresent})
}

// SignalAnswer applies the remote answer SDP and, once applied, dispatches
// receiveAnswer to move offering → connecting.
func (c *Call) SignalAnswer(msg signaling.Message) {
	c.mu.Lock()
	c.remoteConnectionID = msg.FromConnection
	c.mu.Unlock()

	if err := c.peer.SetRemoteAnswer(msg.SDP); err != nil {
		util.LogError("call %s: apply remote answer: %v", c.id, err)
		return
	}
	c.state.Dispatch(callstate.ReceiveAnswer, callstate.DispatchOptions{})
}

// SignalConnected dispatches receiveRemoteMedia: the remote side has
// announced its media/data is flowing.
func (c *Call) SignalConnected(msg signaling.Message) {
	c.state.Dispatch(callstate.ReceiveRemoteMedia, callstate.DispatchOptions{})
}

// SignalICECandidates forwards trickled candidates to the peer connection.
func (c *Call) SignalICECandidates(msg signaling.Message) {
	for _, cand := range msg.Candidates {
		init := webrtc.ICECandidateInit{Candidate: cand.Candidate}
		if cand.SDPMid != "" {
			mid := cand.SDPMid
			init.SDPMid = &mid
		}
		init.SDPMLineIndex = cand.SDPMLineIndex
		if err := c.peer.AddICECandidate(init); err != nil {
			util.LogWarning("call %s: add ice candidate: %v", c.id, err)
		}
	}
}

// SignalModify maps a modify signal's action onto the corresponding
// CallState event: a remote-initiated proposal dispatches modify with
// Receive=true, an accept/reject of our own proposal dispatches accept/reject.
func (c *Call) SignalModify(msg signaling.Message) {
	switch msg.Action {
	case model.ModifyInitiate:
		c.state.Dispatch(callstate.Modify, callstate.DispatchOptions{Receive: true})
	case model.ModifyAccept:
		c.state.Dispatch(callstate.Accept, callstate.DispatchOptions{})
	case model.ModifyReject:
		c.state.Dispatch(callstate.Reject, callstate.DispatchOptions{})
	default:
		util.LogWarning("call %s: modify signal with unrecognised action %q", c.id, msg.Action)
	}
}

// SignalHangup dispatches hangup; duplicates are idempotent since Dispatch
// on an already-Terminated machine is always a no-op.
func (c *Call) SignalHangup(msg signaling.Message) {
	c.state.Dispatch(callstate.Hangup, callstate.DispatchOptions{})
}

// --- internal wiring ---

// wireState attaches the CallState entry hooks that drive media gathering,
// SDP emission, and peer-connection teardown.
func (c *Call) wireState() {
	c.state.OnEntry(callstate.ApprovingDeviceAccess, func(*callstate.Machine) {
		go c.gatherLocalMedia()
	})
	c.state.OnEntry(callstate.Offering, func(*callstate.Machine) {
		go c.createAndSendOffer()
	})
	c.state.OnEntry(callstate.Connecting, func(m *callstate.Machine) {
		if !m.Caller() {
			go c.createAndSendAnswer()
		}
	})
	c.state.OnEntry(callstate.Connected, func(*callstate.Machine) {
		go c.announceConnected()
	})
	c.state.OnEntry(callstate.Terminated, func(*callstate.Machine) {
		if err := c.peer.Close(); err != nil {
			util.LogWarning("call %s: close peer on terminate: %v", c.id, err)
		}
		util.Stats.AddCallEnded()
	})
}

// wirePeer forwards locally-gathered ICE candidates to the remote side as
// they trickle in.
func (c *Call) wirePeer() {
	c.peer.OnICECandidate(func(init *webrtc.ICECandidateInit) {
		if init == nil {
			return
		}
		candidate := signaling.ICECandidateInit{
			Candidate:     init.Candidate,
			SDPMLineIndex: init.SDPMLineIndex,
		}
		if init.SDPMid != nil {
			candidate.SDPMid = *init.SDPMid
		}
		if err := c.channel.SendCandidate(context.Background(), c.remoteEndpointID, c.id, c.target, []signaling.ICECandidateInit{candidate}); err != nil {
			util.LogWarning("call %s: send ice candidate: %v", c.id, err)
		}
	})
}

func (c *Call) gatherLocalMedia() {
	if c.media != nil {
		if err := c.media.GatherLocalMedia(context.Background(), c); err != nil {
			util.LogError("call %s: gather local media: %v", c.id, err)
			c.Hangup(context.Background(), "local media gathering failed")
			return
		}
	}
	c.state.Dispatch(callstate.ReceiveLocalMedia, callstate.DispatchOptions{})
}

func (c *Call) createAndSendOffer() {
	sdp, err := c.peer.CreateOffer()
	if err != nil {
		util.LogError("call %s: create offer: %v", c.id, err)
		return
	}
	if err := c.channel.SendSDP(context.Background(), c.remoteEndpointID, c.id, c.target, model.SignalOffer, sdp); err != nil {
		util.LogError("call %s: send offer: %v", c.id, err)
		return
	}
	c.state.Dispatch(callstate.SentOffer, callstate.DispatchOptions{})
}

func (c *Call) createAndSendAnswer() {
	c.mu.Lock()
	remoteSDP := c.remoteOfferSDP
	c.mu.Unlock()

	sdp, err := c.peer.CreateAnswer(remoteSDP)
	if err != nil {
		util.LogError("call %s: create answer: %v", c.id, err)
		return
	}
	if err := c.channel.SendSDP(context.Background(), c.remoteEndpointID, c.id, c.target, model.SignalAnswer, sdp); err != nil {
		util.LogError("call %s: send answer: %v", c.id, err)
	}
}

func (c *Call) announceConnected() {
	if err := c.channel.SendConnected(context.Background(), c.remoteEndpointID, c.id, c.target); err != nil {
		util.LogWarning("call %s: announce connected: %v", c.id, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.state.OnEntry(callstate.Terminated, func(*callstate.Machine) { cancel() })
	c.peer.StartStatsPolling(ctx, func(report webrtc.StatsReport) {
		if err := c.channel.ReportCallDebug(ctx, c.id, map[string]any{"stats": report}); err != nil {
			util.LogCall(c.id, "report call debug: %v", err)
		}
	})
}
