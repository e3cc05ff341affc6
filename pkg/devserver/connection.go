package devserver

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/roj1signal/pkg/model"
	"github.com/1ureka/roj1signal/pkg/signaling"
)

// connState is one duplex WebSocket session, the server-side mirror of
// pkg/signaling's Channel: it owns one *websocket.Conn and serializes
// writes to it, since gorilla/websocket forbids concurrent writers.
type connState struct {
	id         string
	endpointID string
	conn       *websocket.Conn
	server     *Server
	presence   model.Presence

	writeMu sync.Mutex
}

func (cs *connState) readLoop() {
	for {
		_, data, err := cs.conn.ReadMessage()
		if err != nil {
			return
		}

		var f signaling.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.RequestID == 0 {
			// The client never sends unsolicited pushes; an id-less frame
			// from a client is malformed and dropped.
			continue
		}
		go cs.dispatch(f)
	}
}

func (cs *connState) dispatch(f signaling.Frame) {
	status, body := cs.server.route(cs, f.Method, f.Path, f.Data)
	cs.send(signaling.Frame{RequestID: f.RequestID, Status: status, Body: body})
}

// send writes a frame to this connection, guarding against concurrent
// writers from multiple in-flight dispatch goroutines.
func (cs *connState) send(f signaling.Frame) error {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return cs.conn.WriteMessage(websocket.TextMessage, data)
}

// pushTo delivers an unsolicited frame (a signal, a group message, an
// application message) to every connection currently registered under
// endpointID.
func (s *Server) pushTo(endpointID string, f signaling.Frame) {
	s.mu.Lock()
	e, ok := s.endpoints[endpointID]
	var targets []*connState
	if ok {
		targets = make([]*connState, 0, len(e.conns))
		for _, cs := range e.conns {
			targets = append(targets, cs)
		}
	}
	s.mu.Unlock()

	for _, cs := range targets {
		_ = cs.send(f)
	}
}

// pushToConnection delivers to exactly one connection id, regardless of
// which endpoint owns it.
func (s *Server) pushToConnection(connectionID string, f signaling.Frame) {
	s.mu.Lock()
	var target *connState
	for _, e := range s.endpoints {
		if cs, ok := e.conns[connectionID]; ok {
			target = cs
			break
		}
	}
	s.mu.Unlock()

	if target != nil {
		_ = target.send(f)
	}
}
