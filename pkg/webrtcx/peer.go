// Package webrtcx wraps pion/webrtc's PeerConnection and DataChannel with
// the surface the signaling core needs: offer/answer/candidate generation,
// a directConnection DataChannel with backpressure, and periodic stats
// polling. It is the one package that talks to the platform's media/ICE
// primitive directly; everything above it speaks in terms of its events.
package webrtcx

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ICEServer mirrors webrtc.ICEServer without requiring callers to import
// pion directly to build Options.
type ICEServer = webrtc.ICEServer

// Options configures a Peer's underlying PeerConnection.
type Options struct {
	ICEServers []ICEServer
}

// Peer wraps a single pion PeerConnection for one Call. pkg/call drives it
// from several goroutines (state-entry hooks and the signaling run loop);
// the registered callbacks and direct channel are guarded by mu, and the
// offer/answer/candidate methods call the PeerConnection directly.
type Peer struct {
	pc *webrtc.PeerConnection

	mu               sync.Mutex
	onICECandidate   func(*webrtc.ICECandidateInit)
	onDirectChannel  func(*DataChannel)
	onStats          func(webrtc.StatsReport)
	onStateChange    func(webrtc.PeerConnectionState)
	directChannel    *DataChannel
	statsCancel      context.CancelFunc
}

// NewPeer creates a PeerConnection with the given ICE server configuration
// (ordinarily produced from a signaling channel's TURN credential fetch plus
// well-known STUN servers).
func NewPeer(opts Options) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: opts.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("webrtcx: create peer connection: %w", err)
	}

	p := &Peer{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		p.mu.Lock()
		fn := p.onICECandidate
		p.mu.Unlock()
		if fn == nil {
			return
		}
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})

	pc.OnDataChannel(func(raw *webrtc.DataChannel) {
		dc := newDataChannel(raw)
		p.mu.Lock()
		first := p.directChannel == nil
		if first {
			p.directChannel = dc
		}
		fn := p.onDirectChannel
		p.mu.Unlock()
		if first && fn != nil {
			fn(dc)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.mu.Lock()
		fn := p.onStateChange
		p.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	return p, nil
}

// CreateOffer generates a local offer, sets it as the local description, and
// returns the resulting SDP string.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtcx: create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("webrtcx: set local description (offer): %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer sets remoteSDP as the remote offer, generates a local answer,
// sets it as the local description, and returns the resulting SDP string.
func (p *Peer) CreateAnswer(remoteSDP string) (string, error) {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remoteSDP,
	}); err != nil {
		return "", fmt.Errorf("webrtcx: set remote description (offer): %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtcx: create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("webrtcx: set local description (answer): %w", err)
	}
	return answer.SDP, nil
}

// SetRemoteAnswer applies a remote answer SDP to a caller-side peer.
func (p *Peer) SetRemoteAnswer(remoteSDP string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  remoteSDP,
	}); err != nil {
		return fmt.Errorf("webrtcx: set remote description (answer): %w", err)
	}
	return nil
}

// AddICECandidate applies a trickled remote ICE candidate.
func (p *Peer) AddICECandidate(init webrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("webrtcx: add ice candidate: %w", err)
	}
	return nil
}

// CreateDirectChannel opens an application DataChannel for a
// directConnection target. Unlike the tunnel use case this channel carries
// arbitrary application messages, so it is ordered by default.
func (p *Peer) CreateDirectChannel(label string) (*DataChannel, error) {
	raw, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("webrtcx: create data channel: %w", err)
	}
	dc := newDataChannel(raw)

	p.mu.Lock()
	if p.directChannel == nil {
		p.directChannel = dc
	}
	p.mu.Unlock()

	return dc, nil
}

// OnICECandidate registers fn to receive locally-gathered ICE candidates as
// they trickle in; a nil argument marks end-of-candidates.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICECandidate = fn
}

// OnDirectChannel registers fn to fire the first time a remotely-created
// DataChannel arrives (the callee side of a directConnection).
func (p *Peer) OnDirectChannel(fn func(*DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDirectChannel = fn
}

// OnConnectionStateChange registers fn to observe PeerConnectionState
// transitions, the basis for IsActive.
func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStateChange = fn
}

// IsActive reports whether the underlying connection is in a state where
// media/data can flow. It is derived from PeerConnectionState rather than
// ICEConnectionState, since the latter can read "connected" while DTLS/SCTP
// setup is still in progress.
func (p *Peer) IsActive() bool {
	switch p.pc.ConnectionState() {
	case webrtc.PeerConnectionStateConnected:
		return true
	default:
		return false
	}
}

// Close tears down the PeerConnection and stops stats polling if started.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.statsCancel != nil {
		p.statsCancel()
	}
	p.mu.Unlock()
	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("webrtcx: close peer connection: %w", err)
	}
	return nil
}

// Raw exposes the underlying pion PeerConnection for callers that need
// lower-level access (tests, stats polling).
func (p *Peer) Raw() *webrtc.PeerConnection { return p.pc }
