// Package model holds the data shapes shared across the signaling core:
// endpoints, connections, presence, and the target/signal-type enums that
// the call-state machine and signaling channel both speak.
package model

import "github.com/google/uuid"

// NewID returns a fresh random identifier suitable for a signalId, callId,
// or sessionId. Every SignalingMessage must carry a non-empty signalId and
// distinct messages must have distinct ids — backed by UUIDv4 so collisions
// are not a practical concern.
func NewID() string {
	return uuid.NewString()
}
