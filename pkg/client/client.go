// Package client implements the orchestration layer above SignalingChannel
// and Call: the endpoint/connection/call index that owns both, presence
// bookkeeping, and the outbound StartCall / inbound incoming-call surface a
// real application drives.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/1ureka/roj1signal/internal/util"
	"github.com/1ureka/roj1signal/pkg/call"
	"github.com/1ureka/roj1signal/pkg/callstate"
	"github.com/1ureka/roj1signal/pkg/model"
	"github.com/1ureka/roj1signal/pkg/signaling"
	"github.com/1ureka/roj1signal/pkg/webrtcx"
)

// PeerFactory builds a fresh webrtcx.Peer for each new Call, typically using
// the TURN credentials the client fetched at startup.
type PeerFactory func() (*webrtcx.Peer, error)

// IncomingCallHandler is invoked whenever a remote offer creates a new
// callee-side Call. Returning false rejects the call before it rings
// (guard 1's "no listener" case).
type IncomingCallHandler func(c *call.Call) bool

// Options configures a Client.
type Options struct {
	EndpointID   string
	SessionToken string
	Dialer       signaling.Dialer

	Peers PeerFactory
	Media call.MediaGatherer

	OnIncomingCall   IncomingCallHandler
	CallDebugEnabled bool
	ReconnectEnabled bool
}

// Client is the top-level orchestration object: one Client per local
// endpoint, owning the SignalingChannel and every Call or direct connection
// it is a party to.
type Client struct {
	opts Options

	mu          sync.Mutex
	calls       map[string]*call.Call
	directConns map[string]*call.Call
	endpoints   map[string]*model.Endpoint
	groups      map[string]struct{}

	channel *signaling.Channel
}

// New constructs a Client and its SignalingChannel, wiring the Client as the
// channel's CallLookup and DirectConnectionFactory — the seam that lets
// pkg/signaling stay free of any dependency on pkg/call.
func New(opts Options) *Client {
	cl := &Client{
		opts:        opts,
		calls:       make(map[string]*call.Call),
		directConns: make(map[string]*call.Call),
		endpoints:   make(map[string]*model.Endpoint),
		groups:      make(map[string]struct{}),
	}
	cl.channel = signaling.NewChannel(signaling.Options{
		Dialer:            opts.Dialer,
		LocalEndpointID:   opts.EndpointID,
		Calls:             cl,
		DirectConnections: cl,
		RejoinGroups:      cl.joinedGroupIDs,
		ReconnectEnabled:  opts.ReconnectEnabled,
		CallDebugEnabled:  opts.CallDebugEnabled,
	})
	return cl
}

// Open opens the underlying SignalingChannel.
func (cl *Client) Open(ctx context.Context) error {
	return cl.channel.Open(ctx, cl.opts.SessionToken)
}

// Close closes the underlying SignalingChannel.
func (cl *Client) Close() error { return cl.channel.Close() }

// Channel exposes the underlying SignalingChannel for operations this Client
// doesn't wrap directly (presence, messaging, conferences).
func (cl *Client) Channel() *signaling.Channel { return cl.channel }

// StartCall begins an outbound call to remoteEndpointID: Call construction
// is immediately followed by start.
func (cl *Client) StartCall(remoteEndpointID string, target model.Target) (*call.Call, error) {
	peer, err := cl.newPeer()
	if err != nil {
		return nil, fmt.Errorf("client: start call: %w", err)
	}

	c := call.New(call.Options{
		ID:               model.NewID(),
		Caller:           true,
		Target:           target,
		RemoteEndpointID: remoteEndpointID,
		ListenerPresent:  true,
		Channel:          cl.channel,
		Peer:             peer,
		Media:            cl.opts.Media,
	})

	cl.mu.Lock()
	cl.calls[c.ID()] = c
	cl.mu.Unlock()

	c.Start()
	return c, nil
}

// GetCall implements signaling.CallLookup: a lookup by session id, with an
// optional create-on-miss for an inbound offer naming an unknown session
// (rule R-S2).
func (cl *Client) GetCall(opts signaling.CallLookupOptions) (signaling.CallHandler, bool) {
	cl.mu.Lock()
	if c, ok := cl.calls[opts.SessionID]; ok {
		cl.mu.Unlock()
		return c, true
	}
	cl.mu.Unlock()

	if !opts.Create {
		return nil, false
	}

	peer, err := cl.newPeer()
	if err != nil {
		util.LogError("client: create inbound call peer: %v", err)
		return nil, false
	}

	listenerPresent := cl.opts.OnIncomingCall != nil
	c := call.New(call.Options{
		ID:                 opts.SessionID,
		Caller:             opts.Caller,
		Target:             opts.Target,
		RemoteEndpointID:   opts.FromEndpoint,
		RemoteConnectionID: opts.FromConnection,
		ListenerPresent:    listenerPresent,
		Channel:            cl.channel,
		Peer:               peer,
		Media:              cl.opts.Media,
	})

	cl.mu.Lock()
	cl.calls[c.ID()] = c
	cl.mu.Unlock()

	if cl.opts.OnIncomingCall != nil && !cl.opts.OnIncomingCall(c) {
		c.Reject(context.Background(), "no listener")
		// Reject is a no-op on an idle machine; treat the refusal as guard 1's
		// no-listener case so the offer delivered next cannot start the call.
		c.State().Dispatch(callstate.Initiate, callstate.DispatchOptions{ListenerPresent: false})
	}

	return c, true
}

// GetOrCreateDirectConnection implements signaling.DirectConnectionFactory:
// at most one direct connection Call per remote endpoint, reused by session
// id thereafter.
func (cl *Client) GetOrCreateDirectConnection(endpointID, sessionID string) signaling.CallHandler {
	cl.mu.Lock()
	if c, ok := cl.directConns[endpointID]; ok {
		cl.mu.Unlock()
		return c
	}
	cl.mu.Unlock()

	peer, err := cl.newPeer()
	if err != nil {
		util.LogError("client: create direct connection peer: %v", err)
		return nil
	}

	c := call.New(call.Options{
		ID:               sessionID,
		Caller:           false,
		Target:           model.TargetDirectConnection,
		RemoteEndpointID: endpointID,
		ListenerPresent:  true,
		Channel:          cl.channel,
		Peer:             peer,
		Media:            cl.opts.Media,
	})

	cl.mu.Lock()
	cl.directConns[endpointID] = c
	cl.calls[c.ID()] = c
	cl.mu.Unlock()

	return c
}

func (cl *Client) newPeer() (*webrtcx.Peer, error) {
	if cl.opts.Peers != nil {
		return cl.opts.Peers()
	}
	return webrtcx.NewPeer(webrtcx.Options{})
}

// --- Group membership (joinGroup/leaveGroup, rejoined on reconnect) ---

func (cl *Client) joinedGroupIDs(ctx context.Context) []string {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	ids := make([]string, 0, len(cl.groups))
	for g := range cl.groups {
		ids = append(ids, g)
	}
	return ids
}

// JoinGroups joins groups and records them so a future reconnect rejoins them.
func (cl *Client) JoinGroups(ctx context.Context, groups []string) error {
	if err := cl.channel.JoinGroup(ctx, groups); err != nil {
		return err
	}
	cl.mu.Lock()
	for _, g := range groups {
		cl.groups[g] = struct{}{}
	}
	cl.mu.Unlock()
	return nil
}

// LeaveGroups leaves groups and forgets them.
func (cl *Client) LeaveGroups(ctx context.Context, groups []string) error {
	if err := cl.channel.LeaveGroup(ctx, groups); err != nil {
		return err
	}
	cl.mu.Lock()
	for _, g := range groups {
		delete(cl.groups, g)
	}
	cl.mu.Unlock()
	return nil
}

// --- Endpoint/connection/presence bookkeeping ---

// UpsertConnection records or updates a connection's presence under its
// owning endpoint, creating the Endpoint on first sight.
func (cl *Client) UpsertConnection(conn model.Connection) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	e, ok := cl.endpoints[conn.EndpointID]
	if !ok {
		e = &model.Endpoint{ID: conn.EndpointID}
		cl.endpoints[conn.EndpointID] = e
	}
	e.AddConnection(conn)
}

// RemoveConnection drops a connection from its owning endpoint. Once the
// endpoint has no connections left it has gone fully offline, so its
// presence registration is forgotten: a later RegisterPresence call for it
// must actually reach the server instead of being suppressed as a stale
// duplicate.
func (cl *Client) RemoveConnection(endpointID, connectionID string) {
	cl.mu.Lock()
	e, ok := cl.endpoints[endpointID]
	if !ok {
		cl.mu.Unlock()
		return
	}
	e.RemoveConnection(connectionID)
	empty := len(e.Connections) == 0
	cl.mu.Unlock()

	if empty {
		cl.channel.ForgetPresence(endpointID)
	}
}

// GetEndpoint returns a snapshot of the endpoint's current state.
func (cl *Client) GetEndpoint(endpointID string) (model.Endpoint, bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	e, ok := cl.endpoints[endpointID]
	if !ok {
		return model.Endpoint{}, false
	}
	return *e, true
}

// --- Channel/group operation wrappers ---

// CreateGroup creates a new broadcast channel owned by this endpoint.
func (cl *Client) CreateGroup(ctx context.Context, name string) (any, error) {
	return cl.channel.CreateGroup(ctx, name)
}

// Subscribers lists the endpoints subscribed to a channel.
func (cl *Client) Subscribers(ctx context.Context, channelID string) (any, error) {
	return cl.channel.Subscribers(ctx, channelID)
}

// Publish posts a message to every subscriber of a channel.
func (cl *Client) Publish(ctx context.Context, channelID string, message any) error {
	return cl.channel.Publish(ctx, channelID, message)
}

// History fetches the retained message history for a group.
func (cl *Client) History(ctx context.Context, group string) (any, error) {
	return cl.channel.History(ctx, group)
}
