package signaling

import (
	"context"
	"sync"
)

// fakeTransport is an in-memory Transport pair standing in for the real
// websocket during tests, without any real network. server drives it by
// pushing responses/pushes and inspecting what the channel sent.
type fakeTransport struct {
	mu     sync.Mutex
	outbox []Frame
	inbox  chan Frame
	closed chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox:  make(chan Frame, 64),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) Send(ctx context.Context, f Frame) error {
	t.mu.Lock()
	t.outbox = append(t.outbox, f)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Recv(ctx context.Context) (Frame, error) {
	select {
	case f := <-t.inbox:
		return f, nil
	case <-t.closed:
		return Frame{}, errClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (t *fakeTransport) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return nil
}

func (t *fakeTransport) lastSent() (Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.outbox) == 0 {
		return Frame{}, false
	}
	return t.outbox[len(t.outbox)-1], true
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outbox)
}

// respondOK pushes a 200 response frame for the given request id.
func (t *fakeTransport) respondOK(requestID int64, body map[string]any) {
	t.inbox <- Frame{RequestID: requestID, Status: 200, Body: body}
}

func (t *fakeTransport) respondStatus(requestID int64, status int, body map[string]any) {
	t.inbox <- Frame{RequestID: requestID, Status: status, Body: body}
}

func (t *fakeTransport) pushSignal(msg Message) {
	t.inbox <- Frame{PushKind: "signal", Data: msg}
}

type fakeDialer struct {
	transport *fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, sessionToken string) (Transport, error) {
	return d.transport, nil
}

var errClosed = &SignalError{Kind: ErrTransport, Message: "fake transport closed"}
