package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/1ureka/roj1signal/internal/util"
)

// wsTransport is the production Transport, dialing the cloud service's
// duplex websocket endpoint and framing each Frame as a JSON text message.
type wsTransport struct {
	conn *websocket.Conn
}

// wsDialer opens a wsTransport against a fixed base URL (e.g.
// "wss://api.example.com/v1/websocket"), appending the session token as a
// query parameter.
type wsDialer struct {
	baseURL string
}

// NewWSDialer constructs a Dialer for the given websocket base URL.
func NewWSDialer(baseURL string) Dialer {
	return &wsDialer{baseURL: baseURL}
}

func (d *wsDialer) Dial(ctx context.Context, sessionToken string) (Transport, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("signaling: parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", sessionToken)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &SignalError{Kind: ErrTransport, Message: err.Error()}
	}
	util.LogSession(sessionToken, "websocket connected to %s", d.baseURL)
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Send(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("signaling: marshal frame: %w", err)
	}
	util.Stats.AddSent(len(data))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &SignalError{Kind: ErrTransport, Message: err.Error()}
	}
	return nil
}

func (t *wsTransport) Recv(ctx context.Context) (Frame, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return Frame{}, &SignalError{Kind: ErrTransport, Message: err.Error()}
	}
	util.Stats.AddRecv(len(data))

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("signaling: unmarshal frame: %w", err)
	}
	return f, nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
