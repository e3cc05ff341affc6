package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Bootstrap performs the plain-HTTP steps that precede Channel.Open: minting
// a dev-mode token and exchanging it for a session token. These happen
// before any duplex session exists, so they go over an ordinary http.Client
// rather than through Do/issue.
type Bootstrap struct {
	BaseURL string
	Client  *http.Client
}

// NewBootstrap constructs a Bootstrap against the given HTTP base URL (e.g.
// "https://api.example.com").
func NewBootstrap(baseURL string) *Bootstrap {
	return &Bootstrap{BaseURL: baseURL, Client: http.DefaultClient}
}

func (b *Bootstrap) client() *http.Client {
	if b.Client != nil {
		return b.Client
	}
	return http.DefaultClient
}

func (b *Bootstrap) post(ctx context.Context, method, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("signaling: marshal bootstrap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("signaling: build bootstrap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client().Do(req)
	if err != nil {
		return &SignalError{Kind: ErrTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &SignalError{Kind: ErrAuth, Message: fmt.Sprintf("bootstrap %s %s: status %d", method, path, resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// DevToken issues POST /v1/tokens, the dev-mode shortcut that mints a token
// for a named endpoint without a real identity provider in front of it.
// Request/response field names (tokenId) match the documented wire contract.
func (b *Bootstrap) DevToken(ctx context.Context, endpointID string) (string, error) {
	var out struct {
		TokenID string `json:"tokenId"`
	}
	if err := b.post(ctx, http.MethodPost, "/v1/tokens", map[string]any{"endpointId": endpointID}, &out); err != nil {
		return "", err
	}
	return out.TokenID, nil
}

// CreateSessionToken exchanges a tokenId for the session token Channel.Open
// needs (POST /v1/session-tokens).
func (b *Bootstrap) CreateSessionToken(ctx context.Context, tokenID string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := b.post(ctx, http.MethodPost, "/v1/session-tokens", map[string]any{"tokenId": tokenID}, &out)
	if err != nil {
		return "", err
	}
	return out.Token, nil
}

// DeleteSessionToken revokes a session token (DELETE /v1/session-tokens),
// e.g. on an explicit sign-out distinct from just closing the duplex socket.
func (b *Bootstrap) DeleteSessionToken(ctx context.Context, sessionToken string) error {
	return b.post(ctx, http.MethodDelete, "/v1/session-tokens", map[string]any{"token": sessionToken}, nil)
}
