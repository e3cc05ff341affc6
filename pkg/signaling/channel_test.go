package signaling

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/roj1signal/internal/clock"
	"github.com/1ureka/roj1signal/pkg/model"
)

func newTestChannel(t *testing.T, transport *fakeTransport, clk clock.Clock) *Channel {
	t.Helper()
	c := NewChannel(Options{
		Dialer: &fakeDialer{transport: transport},
		Clock:  clk,
	})
	require.NoError(t, c.Open(context.Background(), "tok"))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDoResolvesOnOK(t *testing.T) {
	transport := newFakeTransport()
	c := newTestChannel(t, transport, clock.Real)

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := c.Do(context.Background(), "GET", "/v1/turn", nil, nil)
		resultCh <- r
		errCh <- err
	}()

	waitForSent(t, transport, 1)
	f, _ := transport.lastSent()
	transport.respondOK(f.RequestID, map[string]any{"iceServers": []any{}})

	require.NoError(t, <-errCh)
	assert.NotNil(t, <-resultCh)
}

func TestRateLimitRetriesThenFails(t *testing.T) {
	transport := newFakeTransport()
	fake := clock.NewFake()
	c := newTestChannel(t, transport, fake)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), "GET", "/v1/turn", nil, nil)
		errCh <- err
	}()

	for i := 0; i < maxRateLimitTries; i++ {
		waitForSent(t, transport, i+1)
		f, _ := transport.lastSent()
		transport.respondStatus(f.RequestID, 429, map[string]any{})
		if i < maxRateLimitTries-1 {
			advanceUntilDrained(fake, rateLimitBackoff)
		}
	}

	err := <-errCh
	require.Error(t, err)
	se, ok := err.(*SignalError)
	require.True(t, ok)
	assert.Equal(t, ErrRateLimited, se.Kind)
	assert.Equal(t, maxRateLimitTries, se.Tries)
	assert.Equal(t, maxRateLimitTries, transport.sentCount())
}

func TestOversizeBodyRejectedLocally(t *testing.T) {
	transport := newFakeTransport()
	c := newTestChannel(t, transport, clock.Real)

	huge := strings.Repeat("a", maxBodyBytes+1)
	_, err := c.Do(context.Background(), "POST", "/v1/messages", nil, map[string]any{"message": huge})

	require.Error(t, err)
	se, ok := err.(*SignalError)
	require.True(t, ok)
	assert.Equal(t, ErrOverLimit, se.Kind)
	assert.Equal(t, 0, transport.sentCount())
}

func TestSignalIDsAreUniqueAndNonEmpty(t *testing.T) {
	a := NewMessage(model.SignalOffer, model.TargetCall, "s1")
	b := NewMessage(model.SignalOffer, model.TargetCall, "s1")
	assert.NotEmpty(t, a.SignalID)
	assert.NotEmpty(t, b.SignalID)
	assert.NotEqual(t, a.SignalID, b.SignalID)
}

func TestJoinGroupBatchesSynchronousCalls(t *testing.T) {
	transport := newFakeTransport()
	fake := clock.NewFake()
	c := newTestChannel(t, transport, fake)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	sets := [][]string{{"g1"}, {"g2", "g3"}, {"g1", "g3"}}
	for i := range sets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.JoinGroup(context.Background(), sets[i])
		}(i)
	}

	// Give all three goroutines a chance to register before the window
	// flushes; the fake clock only advances on our say-so.
	time.Sleep(20 * time.Millisecond)
	fake.Advance(0)

	waitForSent(t, transport, 1)
	f, _ := transport.lastSent()
	groups, _ := f.Data.(map[string]any)["groups"]
	assert.ElementsMatch(t, []string{"g1", "g2", "g3"}, groups)

	transport.respondOK(f.RequestID, map[string]any{})
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, transport.sentCount())
}

func TestRegisterPresenceSuppressesAlreadyRegistered(t *testing.T) {
	transport := newFakeTransport()
	fake := clock.NewFake()
	c := newTestChannel(t, transport, fake)

	errCh := make(chan error, 1)
	go func() { errCh <- c.RegisterPresence(context.Background(), []string{"u1", "u2"}) }()
	fake.Advance(0)
	waitForSent(t, transport, 1)
	f, _ := transport.lastSent()
	transport.respondOK(f.RequestID, map[string]any{})
	require.NoError(t, <-errCh)

	// A later call repeating u1 should omit it from the flushed set.
	err := c.RegisterPresence(context.Background(), []string{"u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, transport.sentCount(), "already-registered endpoint must not trigger a new RPC")
}

func TestRouteSignalDropsLoserForkBye(t *testing.T) {
	call := &fakeCall{id: "sess-A", caller: true, remoteConnID: "connA"}
	lookup := &fakeCallLookup{byID: map[string]*fakeCall{"sess-A": call}}

	transport := newFakeTransport()
	c := NewChannel(Options{Dialer: &fakeDialer{transport: transport}, Clock: clock.Real, Calls: lookup})
	require.NoError(t, c.Open(context.Background(), "tok"))
	defer c.Close()

	msg := Message{
		SignalID: "m1", SignalType: model.SignalBye, Target: model.TargetCall,
		SessionID: "sess-A", FromConnection: "connB",
	}
	c.RouteSignal(msg)

	assert.False(t, call.hangupCalled)
}

func TestRouteSignalDeliversNonLosingBye(t *testing.T) {
	call := &fakeCall{id: "sess-A", caller: true, remoteConnID: "connA"}
	lookup := &fakeCallLookup{byID: map[string]*fakeCall{"sess-A": call}}

	transport := newFakeTransport()
	c := NewChannel(Options{Dialer: &fakeDialer{transport: transport}, Clock: clock.Real, Calls: lookup})
	require.NoError(t, c.Open(context.Background(), "tok"))
	defer c.Close()

	msg := Message{
		SignalID: "m1", SignalType: model.SignalBye, Target: model.TargetCall,
		SessionID: "sess-A", FromConnection: "connA",
	}
	c.RouteSignal(msg)

	assert.True(t, call.hangupCalled)
}

func TestRouteSignalDropsOrphan(t *testing.T) {
	call := &fakeCall{id: "sess-A", caller: false}
	lookup := &fakeCallLookup{byID: map[string]*fakeCall{"sess-A": call}, matchAnySession: true}

	transport := newFakeTransport()
	c := NewChannel(Options{Dialer: &fakeDialer{transport: transport}, Clock: clock.Real, Calls: lookup})
	require.NoError(t, c.Open(context.Background(), "tok"))
	defer c.Close()

	msg := Message{
		SignalID: "m1", SignalType: model.SignalICECandidates, Target: model.TargetCall,
		SessionID: "sess-other",
	}
	c.RouteSignal(msg)

	assert.False(t, call.candidatesCalled)
}

func TestReconnectRejoinsGroups(t *testing.T) {
	transport1 := newFakeTransport()
	fake := clock.NewFake()

	var dialCount int32
	var transport2mu sync.Mutex
	var transport2 *fakeTransport
	dialer := dialerFunc(func(ctx context.Context, token string) (Transport, error) {
		n := atomic.AddInt32(&dialCount, 1)
		if n == 1 {
			return transport1, nil
		}
		transport2mu.Lock()
		transport2 = newFakeTransport()
		t2 := transport2
		transport2mu.Unlock()
		return t2, nil
	})
	getTransport2 := func() *fakeTransport {
		transport2mu.Lock()
		defer transport2mu.Unlock()
		return transport2
	}
	getDialCount := func() int32 { return atomic.LoadInt32(&dialCount) }

	c := NewChannel(Options{
		Dialer:           dialer,
		Clock:            fake,
		ReconnectEnabled: true,
		RejoinGroups: func(ctx context.Context) []string {
			return []string{"g1", "g2"}
		},
	})
	require.NoError(t, c.Open(context.Background(), "tok"))
	defer c.Close()

	transport1.Close()

	require.Eventually(t, func() bool { return getDialCount() >= 1 }, time.Second, time.Millisecond)
	fake.Advance(reconnectInitialBackoff)

	require.Eventually(t, func() bool { return getDialCount() >= 2 && getTransport2() != nil }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return getTransport2().sentCount() > 0 }, time.Second, time.Millisecond)

	t2 := getTransport2()
	f, _ := t2.lastSent()
	groups, _ := f.Data.(map[string]any)["groups"]
	assert.ElementsMatch(t, []string{"g1", "g2"}, groups)

	t2.respondOK(f.RequestID, map[string]any{})
}

// waitForSent blocks until transport has sent at least n frames.
func waitForSent(t *testing.T, transport *fakeTransport, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if transport.sentCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent frames, got %d", n, transport.sentCount())
}

// advanceUntilDrained advances the fake clock by d and gives goroutines a
// moment to react before the test proceeds.
func advanceUntilDrained(fake *clock.Fake, d time.Duration) {
	fake.Advance(d)
	time.Sleep(10 * time.Millisecond)
}

type dialerFunc func(ctx context.Context, token string) (Transport, error)

func (f dialerFunc) Dial(ctx context.Context, token string) (Transport, error) { return f(ctx, token) }

type fakeCall struct {
	id               string
	caller           bool
	remoteConnID     string
	hangupCalled     bool
	candidatesCalled bool
}

func (c *fakeCall) ID() string                  { return c.id }
func (c *fakeCall) Caller() bool                { return c.caller }
func (c *fakeCall) RemoteConnectionID() string   { return c.remoteConnID }
func (c *fakeCall) SignalOffer(Message)          {}
func (c *fakeCall) SignalAnswer(Message)         {}
func (c *fakeCall) SignalConnected(Message)      {}
func (c *fakeCall) SignalICECandidates(Message)  { c.candidatesCalled = true }
func (c *fakeCall) SignalModify(Message)         {}
func (c *fakeCall) SignalHangup(Message)         { c.hangupCalled = true }

type fakeCallLookup struct {
	byID            map[string]*fakeCall
	matchAnySession bool
}

func (l *fakeCallLookup) GetCall(opts CallLookupOptions) (CallHandler, bool) {
	if c, ok := l.byID[opts.SessionID]; ok {
		return c, true
	}
	if l.matchAnySession {
		for _, c := range l.byID {
			return c, true
		}
	}
	return nil, false
}
