// Package devserver is a local, in-memory reference implementation of the
// cloud signaling service: the HTTP token bootstrap plus the duplex
// WebSocket session that pkg/signaling.Channel dials. It exists so that
// integration tests and local development have something to dial without a
// real deployment.
package devserver

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/roj1signal/pkg/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is a complete in-memory cloud-service stand-in: token issuance,
// session-token exchange, and the duplex WebSocket session multiplexing
// RPC, presence, groups, and signal relay. The zero value is not usable;
// construct with New.
type Server struct {
	mu sync.Mutex

	// tokens maps a dev token to the endpoint id it was minted for.
	tokens map[string]string
	// sessionTokens maps a session token to the endpoint id it authenticates.
	sessionTokens map[string]string

	endpoints map[string]*endpointState
	groups    map[string]*groupState

	nextConnID int
}

type endpointState struct {
	conns map[string]*connState
}

type groupState struct {
	id          string
	name        string
	subscribers map[string]struct{}
	history     []any
}

// New constructs an empty Server.
func New() *Server {
	return &Server{
		tokens:        make(map[string]string),
		sessionTokens: make(map[string]string),
		endpoints:     make(map[string]*endpointState),
		groups:        make(map[string]*groupState),
	}
}

// ServeHTTP implements http.Handler, so a Server can be wrapped directly by
// httptest.NewServer in a test or embedded in a larger mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/v1/tokens" && r.Method == http.MethodPost:
		s.handleIssueToken(w, r)
	case r.URL.Path == "/v1/session-tokens" && r.Method == http.MethodPost:
		s.handleCreateSessionToken(w, r)
	case r.URL.Path == "/v1/session-tokens" && r.Method == http.MethodDelete:
		s.handleDeleteSessionToken(w, r)
	case r.URL.Path == "/v1/websocket":
		s.handleWebsocket(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EndpointID string `json:"endpointId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EndpointID == "" {
		http.Error(w, "endpointId required", http.StatusBadRequest)
		return
	}

	tokenID := randomID("tok")
	s.mu.Lock()
	s.tokens[tokenID] = body.EndpointID
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"tokenId": tokenID})
}

func (s *Server) handleCreateSessionToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TokenID string `json:"tokenId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "tokenId required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	endpointID, ok := s.tokens[body.TokenID]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "unknown tokenId", http.StatusUnauthorized)
		return
	}
	sessionToken := randomID("sess")
	s.sessionTokens[sessionToken] = endpointID
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"token": sessionToken})
}

func (s *Server) handleDeleteSessionToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	delete(s.sessionTokens, body.Token)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionToken := r.URL.Query().Get("token")

	s.mu.Lock()
	endpointID, ok := s.sessionTokens[sessionToken]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	cs := s.registerConnection(endpointID, conn)
	defer s.unregisterConnection(cs)

	cs.readLoop()
}

func (s *Server) registerConnection(endpointID string, conn *websocket.Conn) *connState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextConnID++
	cs := &connState{
		id:         randomID("conn"),
		endpointID: endpointID,
		conn:       conn,
		server:     s,
		presence:   model.PresenceAvailable,
	}

	e, ok := s.endpoints[endpointID]
	if !ok {
		e = &endpointState{conns: make(map[string]*connState)}
		s.endpoints[endpointID] = e
	}
	e.conns[cs.id] = cs
	return cs
}

func (s *Server) unregisterConnection(cs *connState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stillPresent := false
	if e, ok := s.endpoints[cs.endpointID]; ok {
		delete(e.conns, cs.id)
		if len(e.conns) == 0 {
			delete(s.endpoints, cs.endpointID)
		} else {
			stillPresent = true
		}
	}
	if !stillPresent {
		for _, g := range s.groups {
			delete(g.subscribers, cs.endpointID)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func randomID(prefix string) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 16)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		b[i] = alphabet[n.Int64()]
	}
	return prefix + "_" + string(b)
}
