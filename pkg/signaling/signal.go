package signaling

import (
	"context"
	"fmt"

	"github.com/1ureka/roj1signal/internal/util"
	"github.com/1ureka/roj1signal/pkg/model"
)

// SendSignalOptions is the argument to SendSignal.
type SendSignalOptions struct {
	Recipient    string
	SignalType   model.SignalType
	SessionID    string
	ConnectionID string
	Target       model.Target
	FromEndpoint string

	SDP        string
	Candidates []ICECandidateInit
	Reason     string
	Action     model.ModifyAction
}

// SendSignal produces a SignalingMessage with a fresh signalId, serializes
// it as a POST /v1/signaling RPC, and resolves on server ack.
func (c *Channel) SendSignal(ctx context.Context, opts SendSignalOptions) error {
	msg := NewMessage(opts.SignalType, opts.Target, opts.SessionID)
	msg.FromEndpoint = opts.FromEndpoint
	msg.SDP = opts.SDP
	msg.Candidates = opts.Candidates
	msg.Reason = opts.Reason
	msg.Action = opts.Action

	util.Stats.AddSignalSent()
	_, err := c.Do(ctx, "POST", "/v1/signaling", nil, map[string]any{
		"signal":       msg,
		"to":           opts.Recipient,
		"toConnection": opts.ConnectionID,
		"toType":       opts.Target,
	})
	return err
}

// SendSDP validates signalType and sends an offer/answer.
func (c *Channel) SendSDP(ctx context.Context, recipient, sessionID string, target model.Target, signalType model.SignalType, sdp string) error {
	if signalType != model.SignalOffer && signalType != model.SignalAnswer {
		return fmt.Errorf("signaling: sendSDP requires signalType offer or answer, got %s", signalType)
	}
	return c.SendSignal(ctx, SendSignalOptions{
		Recipient:  recipient,
		SignalType: signalType,
		SessionID:  sessionID,
		Target:     target,
		SDP:        sdp,
	})
}

// SendCandidate sends trickled ICE candidates.
func (c *Channel) SendCandidate(ctx context.Context, recipient, sessionID string, target model.Target, candidates []ICECandidateInit) error {
	return c.SendSignal(ctx, SendSignalOptions{
		Recipient:  recipient,
		SignalType: model.SignalICECandidates,
		SessionID:  sessionID,
		Target:     target,
		Candidates: candidates,
	})
}

// SendConnected announces that media/data has started flowing.
func (c *Channel) SendConnected(ctx context.Context, recipient, sessionID string, target model.Target) error {
	return c.SendSignal(ctx, SendSignalOptions{
		Recipient:  recipient,
		SignalType: model.SignalConnected,
		SessionID:  sessionID,
		Target:     target,
	})
}

// SendHangup sends a bye, optionally with a human-readable reason.
func (c *Channel) SendHangup(ctx context.Context, recipient, sessionID string, target model.Target, reason string) error {
	return c.SendSignal(ctx, SendSignalOptions{
		Recipient:  recipient,
		SignalType: model.SignalBye,
		SessionID:  sessionID,
		Target:     target,
		Reason:     reason,
	})
}

// SendModify validates action and sends a modify signal.
func (c *Channel) SendModify(ctx context.Context, recipient, sessionID string, target model.Target, action model.ModifyAction) error {
	switch action {
	case model.ModifyInitiate, model.ModifyAccept, model.ModifyReject:
	default:
		return fmt.Errorf("signaling: sendModify requires action in {initiate, accept, reject}, got %s", action)
	}
	return c.SendSignal(ctx, SendSignalOptions{
		Recipient:  recipient,
		SignalType: model.SignalModify,
		SessionID:  sessionID,
		Target:     target,
		Action:     action,
	})
}

// RouteSignal dispatches an inbound signal per rules R-S1 through R-S5. It
// must run on the channel's run loop (callers are handlePush and tests
// exercising routing directly).
func (c *Channel) RouteSignal(msg Message) {
	util.Stats.AddSignalRecv()

	// R-S1: validate target/signalType before anything else.
	if err := msg.Validate(); err != nil {
		util.LogWarning("signaling: dropping malformed signal: %v", err)
		return
	}
	if msg.SignalType == model.SignalAck {
		return
	}

	call, found := c.Calls().resolve(msg)
	if call == nil {
		return
	}

	// R-S3: a resolved call whose id differs from the signal's sessionId is
	// an orphan.
	if found && call.ID() != msg.SessionID {
		util.LogWarning("signaling: dropping orphan signal for session %s (call %s)", msg.SessionID, call.ID())
		return
	}

	// R-S4: the losing-fork bye rule.
	if msg.SignalType == model.SignalBye && call.Caller() &&
		call.RemoteConnectionID() != "" && call.RemoteConnectionID() != msg.FromConnection {
		util.LogCall(call.ID(), "dropping bye from losing fork connection %s", msg.FromConnection)
		return
	}

	// R-S5: fan out to per-kind handlers.
	switch msg.SignalType {
	case model.SignalOffer:
		call.SignalOffer(msg)
	case model.SignalAnswer:
		call.SignalAnswer(msg)
	case model.SignalConnected:
		call.SignalConnected(msg)
	case model.SignalICECandidates:
		call.SignalICECandidates(msg)
	case model.SignalModify:
		call.SignalModify(msg)
	case model.SignalBye:
		call.SignalHangup(msg)
	default:
		util.LogWarning("signaling: dropping unrecognised but well-formed signal type %s", msg.SignalType)
	}
}

// Calls exposes the CallLookup/DirectConnectionFactory pair as a small
// resolver implementing R-S2, kept out of Options to avoid a public method
// per lookup on Channel itself.
func (c *Channel) Calls() *resolver {
	return &resolver{calls: c.opts.Calls, directConns: c.opts.DirectConnections}
}

type resolver struct {
	calls       CallLookup
	directConns DirectConnectionFactory
}

// resolve implements R-S2: resolve by sessionId first; on a miss, an
// unknown offer whose target isn't directConnection creates a new
// caller=false Call, while a directConnection target is handed to the
// endpoint's direct-connection factory instead.
func (r *resolver) resolve(msg Message) (call CallHandler, found bool) {
	call, found = r.calls.GetCall(CallLookupOptions{
		SessionID:      msg.SessionID,
		FromEndpoint:   msg.FromEndpoint,
		FromConnection: msg.FromConnection,
		Target:         msg.Target,
	})
	if found {
		return call, true
	}

	if msg.Target == model.TargetDirectConnection {
		if r.directConns == nil {
			return nil, false
		}
		return r.directConns.GetOrCreateDirectConnection(msg.FromEndpoint, msg.SessionID), false
	}

	if msg.SignalType != model.SignalOffer {
		return nil, false
	}

	call, _ = r.calls.GetCall(CallLookupOptions{
		SessionID:      msg.SessionID,
		FromEndpoint:   msg.FromEndpoint,
		FromConnection: msg.FromConnection,
		Target:         msg.Target,
		Create:         true,
		Caller:         false,
	})
	return call, false
}
