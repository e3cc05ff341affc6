package model

// Connection is one physical/session instance of an Endpoint, identified by
// a server-issued id.
type Connection struct {
	ID         string
	EndpointID string
	Presence   Presence
}

// Endpoint is one logical user identity; it may have zero or more concurrent
// Connections. ResolvedPresence is derived from the member connections by
// rule R-P1 (see ResolvePresence) and is recomputed whenever the connection
// set changes.
type Endpoint struct {
	ID               string
	Connections      []Connection
	ResolvedPresence Presence
}

// Recompute refreshes ResolvedPresence from the current Connections.
func (e *Endpoint) Recompute() {
	presences := make([]Presence, len(e.Connections))
	for i, c := range e.Connections {
		presences[i] = c.Presence
	}
	e.ResolvedPresence = ResolvePresence(presences)
}

// AddConnection inserts or replaces a connection by id and recomputes presence.
func (e *Endpoint) AddConnection(c Connection) {
	for i, existing := range e.Connections {
		if existing.ID == c.ID {
			e.Connections[i] = c
			e.Recompute()
			return
		}
	}
	e.Connections = append(e.Connections, c)
	e.Recompute()
}

// RemoveConnection deletes a connection by id and recomputes presence.
func (e *Endpoint) RemoveConnection(connectionID string) {
	out := e.Connections[:0]
	for _, c := range e.Connections {
		if c.ID != connectionID {
			out = append(out, c)
		}
	}
	e.Connections = out
	e.Recompute()
}
