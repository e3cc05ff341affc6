package devserver

import (
	"strings"

	"github.com/1ureka/roj1signal/pkg/model"
	"github.com/1ureka/roj1signal/pkg/signaling"
)

// route dispatches one request frame by method and path, mirroring the
// fixed set of RPCs pkg/signaling.Channel issues. Unrecognized routes get a
// 404 the same shape a real cloud service would return.
func (s *Server) route(cs *connState, method, path string, data any) (int, any) {
	segs := splitPath(path)

	switch {
	case method == "POST" && path == "/v1/signaling":
		return s.handleSignal(cs, asMap(data))
	case method == "POST" && path == "/v1/presence":
		return s.handlePresence(cs, asMap(data))
	case method == "POST" && path == "/v1/groups/":
		return s.handleGroupMembership(cs, asMap(data), true)
	case method == "DELETE" && path == "/v1/groups/":
		return s.handleGroupMembership(cs, asMap(data), false)
	case method == "GET" && path == "/v1/turn":
		return s.handleTurn()
	case method == "POST" && path == "/v1/messages":
		return s.handleMessage(cs, asMap(data))
	case method == "POST" && path == "/v1/call-debugs":
		return 200, map[string]any{}
	case method == "POST" && path == "/v1/channels/":
		return s.handleCreateGroup(cs, asMap(data))
	case method == "GET" && len(segs) == 4 && segs[0] == "v1" && segs[1] == "channels" && segs[3] == "subscribers":
		return s.handleSubscribers(segs[2])
	case method == "POST" && len(segs) == 4 && segs[0] == "v1" && segs[1] == "channels" && segs[3] == "publish":
		return s.handlePublish(cs, segs[2], asMap(data))
	case method == "GET" && len(segs) == 4 && segs[0] == "v1" && segs[1] == "groups" && segs[3] == "history":
		return s.handleHistory(segs[2])
	case method == "GET" && len(segs) == 3 && segs[0] == "v1" && segs[1] == "conferences":
		return s.handleGetConference(segs[2])
	case method == "DELETE" && len(segs) == 3 && segs[0] == "v1" && segs[1] == "conferences":
		return 204, map[string]any{}
	case method == "DELETE" && len(segs) == 5 && segs[0] == "v1" && segs[1] == "conferences" && segs[3] == "participants":
		return 204, map[string]any{}
	default:
		return 404, map[string]any{"error": "no such route: " + method + " " + path}
	}
}

func asMap(data any) map[string]any {
	m, _ := data.(map[string]any)
	return m
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// handleSignal implements POST /v1/signaling: relay a signal to its
// recipient, preferring a specific connection over a whole endpoint.
func (s *Server) handleSignal(cs *connState, body map[string]any) (int, any) {
	recipient, _ := body["to"].(string)
	toConnection, _ := body["toConnection"].(string)
	signalPayload := body["signal"]

	push := signaling.Frame{PushKind: "signal", Data: signalPayload}
	if toConnection != "" {
		s.pushToConnection(toConnection, push)
	} else if recipient != "" {
		s.pushTo(recipient, push)
	}
	return 200, map[string]any{}
}

// handlePresence implements POST /v1/presence: registering interest in a
// set of endpoints' presence. The reference server has no separate
// subscription list — it simply reports each endpoint's currently resolved
// presence back to the caller.
func (s *Server) handlePresence(cs *connState, body map[string]any) (int, any) {
	raw, _ := body["endpoints"].([]any)
	result := make(map[string]string, len(raw))

	s.mu.Lock()
	for _, v := range raw {
		id, ok := v.(string)
		if !ok {
			continue
		}
		presence := model.PresenceUnavailable
		if e, ok := s.endpoints[id]; ok {
			presences := make([]model.Presence, 0, len(e.conns))
			for _, c := range e.conns {
				presences = append(presences, c.presence)
			}
			presence = model.ResolvePresence(presences)
		}
		result[id] = string(presence)
	}
	s.mu.Unlock()

	return 200, map[string]any{"presence": result}
}

func (s *Server) handleGroupMembership(cs *connState, body map[string]any, join bool) (int, any) {
	raw, _ := body["groups"].([]any)

	s.mu.Lock()
	for _, v := range raw {
		name, ok := v.(string)
		if !ok {
			continue
		}
		g, ok := s.groups[name]
		if !ok {
			if !join {
				continue
			}
			g = &groupState{id: name, name: name, subscribers: make(map[string]struct{})}
			s.groups[name] = g
		}
		if join {
			g.subscribers[cs.endpointID] = struct{}{}
		} else {
			delete(g.subscribers, cs.endpointID)
		}
	}
	s.mu.Unlock()

	return 200, map[string]any{}
}

func (s *Server) handleTurn() (int, any) {
	return 200, map[string]any{
		"iceServers": []any{
			map[string]any{
				"urls":       []any{"turn:127.0.0.1:3478?transport=udp"},
				"username":   "devserver",
				"credential": "devserver",
			},
		},
	}
}

func (s *Server) handleMessage(cs *connState, body map[string]any) (int, any) {
	recipient, _ := body["to"].(string)
	ccSelf, _ := body["ccSelf"].(bool)

	push := signaling.Frame{PushKind: "message", Data: body}
	if recipient != "" {
		s.pushTo(recipient, push)
	}
	if ccSelf {
		s.pushTo(cs.endpointID, push)
	}
	return 200, map[string]any{}
}

func (s *Server) handleCreateGroup(cs *connState, body map[string]any) (int, any) {
	name, _ := body["name"].(string)
	if name == "" {
		return 400, map[string]any{"error": "name required"}
	}

	s.mu.Lock()
	g, ok := s.groups[name]
	if !ok {
		g = &groupState{id: name, name: name, subscribers: make(map[string]struct{})}
		s.groups[name] = g
	}
	g.subscribers[cs.endpointID] = struct{}{}
	s.mu.Unlock()

	return 200, map[string]any{"id": g.id, "name": g.name}
}

func (s *Server) handleSubscribers(channelID string) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[channelID]
	if !ok {
		return 404, map[string]any{"error": "unknown channel"}
	}
	subs := make([]string, 0, len(g.subscribers))
	for id := range g.subscribers {
		subs = append(subs, id)
	}
	return 200, map[string]any{"subscribers": subs}
}

func (s *Server) handlePublish(cs *connState, channelID string, body map[string]any) (int, any) {
	message := body["message"]

	s.mu.Lock()
	g, ok := s.groups[channelID]
	var subs []string
	if ok {
		g.history = append(g.history, message)
		subs = make([]string, 0, len(g.subscribers))
		for id := range g.subscribers {
			subs = append(subs, id)
		}
	}
	s.mu.Unlock()

	if !ok {
		return 404, map[string]any{"error": "unknown channel"}
	}
	for _, id := range subs {
		s.pushTo(id, signaling.Frame{PushKind: "groupMessage", Data: map[string]any{"channel": channelID, "message": message}})
	}
	return 200, map[string]any{}
}

func (s *Server) handleHistory(group string) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[group]
	if !ok {
		return 200, map[string]any{"history": []any{}}
	}
	return 200, map[string]any{"history": g.history}
}

func (s *Server) handleGetConference(id string) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	participants := []string{}
	if ok {
		for p := range g.subscribers {
			participants = append(participants, p)
		}
	}
	return 200, map[string]any{"id": id, "participants": participants}
}
