package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/1ureka/roj1signal/internal/clock"
	"github.com/1ureka/roj1signal/internal/util"
)

// Options configures a Channel. CallDebugEnabled gates the optional
// POST /v1/call-debugs upload used for periodic call-quality telemetry.
type Options struct {
	Dialer      Dialer
	Clock       clock.Clock
	LocalEndpointID string

	Calls             CallLookup
	DirectConnections DirectConnectionFactory

	// RejoinGroups is invoked after a successful reconnect to re-join every
	// group the client had joined before the disconnect.
	RejoinGroups func(ctx context.Context) []string

	ReconnectEnabled bool
	CallDebugEnabled bool

	// RPCRateLimiter caps the client's own outbound RPC rate, independent of
	// the server's 429 policy — a courtesy throttle so a bug in calling code
	// (a tight retry loop, a runaway batch) can't hammer the cloud service.
	// Defaults to 50 req/s with a burst of 10.
	RPCRateLimiter *rate.Limiter
}

// Channel is the single duplex session to the cloud service, multiplexing
// RPC, pushes, and signals. All mutable state is confined to the run loop
// goroutine started by Open — cmds standing in for a single-threaded
// cooperative scheduler's implicit serialization of every state mutation.
type Channel struct {
	opts  Options
	clock clock.Clock

	cmds chan func()
	quit chan struct{}

	transport    Transport
	sessionToken string
	connected    bool
	reconnecting bool
	joinedGroups map[string]struct{}

	nextRequestID int64
	pending       map[int64]*pendingRequest

	joinBatcher     *membershipBatcher
	leaveBatcher    *membershipBatcher
	presenceBatcher *presenceBatcher

	limiter *rate.Limiter

	mu sync.Mutex // guards only fields read from outside the run loop (connected, for IsConnected)
}

// NewChannel constructs a Channel. Open must be called before any RPC or
// signal can be sent.
func NewChannel(opts Options) *Channel {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	if opts.RPCRateLimiter == nil {
		opts.RPCRateLimiter = rate.NewLimiter(rate.Limit(50), 10)
	}
	c := &Channel{
		opts:         opts,
		clock:        opts.Clock,
		cmds:         make(chan func(), 64),
		quit:         make(chan struct{}),
		pending:      make(map[int64]*pendingRequest),
		joinedGroups: make(map[string]struct{}),
		limiter:      opts.RPCRateLimiter,
	}
	c.joinBatcher = newMembershipBatcher(c.clock, func(ids []string) error {
		return c.flushGroups(context.Background(), "POST", ids)
	})
	c.leaveBatcher = newMembershipBatcher(c.clock, func(ids []string) error {
		return c.flushGroups(context.Background(), "DELETE", ids)
	})
	c.presenceBatcher = newPresenceBatcher(c.clock, func(ids []string) error {
		_, err := c.Do(context.Background(), "POST", "/v1/presence", nil, map[string]any{"endpoints": ids})
		return err
	})
	return c
}

// Open dials the duplex session with an already-obtained session token (the
// HTTP token steps are Bootstrap's job) and starts the run and read loops.
// A dial failure is returned as the Dialer reported it.
func (c *Channel) Open(ctx context.Context, sessionToken string) error {
	c.sessionToken = sessionToken

	t, err := c.opts.Dialer.Dial(ctx, sessionToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.transport = t
	c.connected = true
	c.mu.Unlock()

	go c.runLoop()
	go c.readLoop(t)

	util.LogSuccess("signaling: session opened for %s", c.opts.LocalEndpointID)
	return nil
}

// Close stops the run loop, rejecting pending requests, and closes the
// transport. It does not deregister the connection or revoke the session
// token on the server.
func (c *Channel) Close() error {
	c.mu.Lock()
	t := c.transport
	c.connected = false
	c.mu.Unlock()

	util.LogInfo("signaling: closing session for %s", c.opts.LocalEndpointID)
	close(c.quit)
	if t != nil {
		return t.Close()
	}
	return nil
}

// ForgetPresence clears the registered-bit presenceBatcher keeps for each
// endpoint id, e.g. once Client has observed an endpoint going fully
// offline. A later RegisterPresence call for it is then sent to the server
// again instead of being suppressed as an already-registered duplicate.
func (c *Channel) ForgetPresence(endpointIDs ...string) {
	for _, id := range endpointIDs {
		c.presenceBatcher.Forget(id)
	}
}

// IsConnected reports whether the duplex session is currently open.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// submit runs fn on the run loop goroutine and blocks until it completes.
func (c *Channel) submit(fn func()) {
	done := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(done) }:
		<-done
	case <-c.quit:
	}
}

func (c *Channel) runLoop() {
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.quit:
			c.rejectAllPending(&SignalError{Kind: ErrDisconnected, Message: "channel closed"})
			return
		}
	}
}

// readLoop is the dedicated goroutine reading the transport; it hands every
// inbound frame to the run loop as a command, preserving the guarantee that
// RouteSignal observes frames in server delivery order.
func (c *Channel) readLoop(t Transport) {
	for {
		f, err := t.Recv(context.Background())
		if err != nil {
			c.submit(func() { c.handleDisconnect(err) })
			return
		}
		frame := f
		c.submit(func() { c.handleInboundFrame(frame) })
	}
}

func (c *Channel) handleInboundFrame(f Frame) {
	if f.RequestID != 0 {
		c.handleResponse(f)
		return
	}
	c.handlePush(f)
}

func (c *Channel) handlePush(f Frame) {
	if f.PushKind != "signal" {
		return
	}
	data, err := json.Marshal(f.Data)
	if err != nil {
		util.LogWarning("signaling: failed to re-marshal signal push: %v", err)
		return
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		util.LogWarning("signaling: failed to decode signal push: %v", err)
		return
	}
	c.RouteSignal(msg)
}

func (c *Channel) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.rejectAllPending(&SignalError{Kind: ErrDisconnected, Message: err.Error()})

	if c.opts.ReconnectEnabled {
		go c.reconnectLoop(0)
	}
}

func (c *Channel) rejectAllPending(err error) {
	for id, p := range c.pending {
		p.reject(err)
		delete(c.pending, id)
	}
}

// reconnectLoop retries Dial with exponential backoff. It is
// re-entrancy-guarded by Channel.reconnecting, cleared in a defer so a
// failed attempt does not permanently disable future ones.
func (c *Channel) reconnectLoop(backoff time.Duration) {
	started := false
	c.submit(func() {
		if c.reconnecting {
			return
		}
		c.reconnecting = true
		started = true
	})
	if !started {
		return
	}
	defer c.submit(func() { c.reconnecting = false })

	delay := backoff
	for {
		delay = nextBackoff(delay)
		select {
		case <-c.clock.After(delay):
		case <-c.quit:
			return
		}

		t, err := c.opts.Dialer.Dial(context.Background(), c.sessionToken)
		if err != nil {
			util.LogWarning("signaling: reconnect attempt failed: %v", err)
			continue
		}

		c.mu.Lock()
		c.transport = t
		c.connected = true
		c.mu.Unlock()
		util.Stats.AddReconnect()
		util.LogSuccess("signaling: reconnected for %s", c.opts.LocalEndpointID)

		go c.readLoop(t)

		if c.opts.RejoinGroups != nil {
			groups := c.opts.RejoinGroups(context.Background())
			if len(groups) > 0 {
				if err := c.JoinGroup(context.Background(), groups); err != nil {
					util.LogWarning("signaling: rejoin groups failed after reconnect: %v", err)
					continue
				}
			}
		}
		return
	}
}

// Do issues one RPC and blocks for its resolution, handling the 429 retry
// policy (up to 3 attempts, ~1s spacing) and the client-side body size
// limit.
func (c *Channel) Do(ctx context.Context, method, path string, params map[string]string, data any) (any, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("signaling: marshal request body: %w", err)
	}
	if bodyTooLarge(encoded) {
		return nil, &SignalError{Kind: ErrOverLimit, Message: "request body exceeds size limit"}
	}

	resolvedPath, query := buildPath(path, params)

	req := &pendingRequest{
		method:    method,
		path:      resolvedPath,
		params:    query,
		data:      data,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	for {
		req.tries++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, ctx.Err()
		}
		if err := c.issue(ctx, req); err != nil {
			return nil, err
		}

		select {
		case <-req.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if req.err != nil {
			if se, ok := req.err.(*SignalError); ok && se.Kind == ErrRateLimited && req.tries < maxRateLimitTries {
				util.Stats.AddRPCRetry()
				select {
				case <-c.clock.After(rateLimitBackoff):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				req.done = make(chan struct{})
				req.err = nil
				continue
			}
			return nil, req.err
		}
		return req.result, nil
	}
}

// issue submits req's frame on the run loop and registers it in c.pending,
// keyed by a fresh monotonic id.
func (c *Channel) issue(ctx context.Context, req *pendingRequest) error {
	var sendErr error
	c.submit(func() {
		if !c.connected {
			sendErr = &SignalError{Kind: ErrDisconnected, Message: "transport not connected"}
			return
		}
		c.nextRequestID++
		req.id = c.nextRequestID
		c.pending[req.id] = req

		f := Frame{
			RequestID: req.id,
			Method:    req.method,
			Path:      req.path,
			Params:    req.params,
			Data:      req.data,
		}
		if err := c.transport.Send(ctx, f); err != nil {
			delete(c.pending, req.id)
			sendErr = err
			return
		}
		util.Stats.AddRPCIssued()
	})
	return sendErr
}

func (c *Channel) handleResponse(f Frame) {
	req, ok := c.pending[f.RequestID]
	if !ok {
		return
	}
	delete(c.pending, f.RequestID)

	body, _ := f.Body.(map[string]any)
	resolved, retriable, err := classifyResponse(f.Status, body)
	if retriable {
		req.reject(&SignalError{Kind: ErrRateLimited, Message: "rate limited", Tries: req.tries})
		return
	}
	if err != nil {
		req.reject(err)
		return
	}
	req.resolve(resolved)
}

func (c *Channel) flushGroups(ctx context.Context, method string, groups []string) error {
	_, err := c.Do(ctx, method, "/v1/groups/", nil, map[string]any{"groups": groups})
	if err != nil {
		return err
	}
	c.submit(func() {
		for _, g := range groups {
			if method == "POST" {
				c.joinedGroups[g] = struct{}{}
			} else {
				delete(c.joinedGroups, g)
			}
		}
	})
	return nil
}

// JoinGroup batches groups into the open join window.
func (c *Channel) JoinGroup(ctx context.Context, groups []string) error {
	return c.joinBatcher.Add(ctx, groups)
}

// LeaveGroup batches groups into the open leave window.
func (c *Channel) LeaveGroup(ctx context.Context, groups []string) error {
	return c.leaveBatcher.Add(ctx, groups)
}

// RegisterPresence batches endpoint ids into the open presence window,
// suppressing endpoints already registered from a prior successful flush.
func (c *Channel) RegisterPresence(ctx context.Context, endpoints []string) error {
	return c.presenceBatcher.Add(ctx, endpoints)
}

// GetTurnCredentials fetches the ephemeral ICE server list.
func (c *Channel) GetTurnCredentials(ctx context.Context) ([]TurnServer, error) {
	body, err := c.Do(ctx, "GET", "/v1/turn", nil, nil)
	if err != nil {
		return nil, err
	}
	return parseTurnServers(body)
}

// GetConference fetches a conference's roster.
func (c *Channel) GetConference(ctx context.Context, id string) (any, error) {
	return c.Do(ctx, "GET", "/v1/conferences/{id}", map[string]string{"id": id}, nil)
}

// LeaveConference removes this endpoint from a conference.
func (c *Channel) LeaveConference(ctx context.Context, id string) error {
	_, err := c.Do(ctx, "DELETE", "/v1/conferences/{id}", map[string]string{"id": id}, nil)
	return err
}

// RemoveConferenceParticipant removes a specific participant.
func (c *Channel) RemoveConferenceParticipant(ctx context.Context, id, endpointID string) error {
	_, err := c.Do(ctx, "DELETE", "/v1/conferences/{id}/participants/{endpointId}",
		map[string]string{"id": id, "endpointId": endpointID}, nil)
	return err
}

// SendMessage sends an application text message.
func (c *Channel) SendMessage(ctx context.Context, recipient, message, connectionID string, ccSelf, push bool) error {
	_, err := c.Do(ctx, "POST", "/v1/messages", nil, map[string]any{
		"to":           recipient,
		"message":      message,
		"toConnection": connectionID,
		"ccSelf":       ccSelf,
		"push":         push,
	})
	return err
}

// ReportCallDebug uploads periodic call statistics when CallDebugEnabled.
func (c *Channel) ReportCallDebug(ctx context.Context, callID string, stats map[string]any) error {
	if !c.opts.CallDebugEnabled {
		return nil
	}
	_, err := c.Do(ctx, "POST", "/v1/call-debugs", nil, map[string]any{"callId": callID, "stats": stats})
	return err
}
