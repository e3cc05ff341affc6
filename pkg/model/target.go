package model

// Target identifies what kind of session a Call represents.
type Target string

const (
	TargetCall            Target = "call"
	TargetScreenshare     Target = "screenshare"
	TargetDirectConnection Target = "directConnection"
)

// SignalType identifies the kind of a SignalingMessage.
type SignalType string

const (
	SignalOffer         SignalType = "offer"
	SignalAnswer        SignalType = "answer"
	SignalConnected     SignalType = "connected"
	SignalICECandidates SignalType = "iceCandidates"
	SignalBye           SignalType = "bye"
	SignalModify        SignalType = "modify"
	SignalAck           SignalType = "ack"
)

// ModifyAction is the action field carried by a "modify" signal.
type ModifyAction string

const (
	ModifyInitiate ModifyAction = "initiate"
	ModifyAccept   ModifyAction = "accept"
	ModifyReject   ModifyAction = "reject"
)

// Presence is an endpoint or connection's availability state.
type Presence string

const (
	PresenceAvailable   Presence = "available"
	PresenceAway        Presence = "away"
	PresenceDND         Presence = "dnd"
	PresenceUnavailable Presence = "unavailable"
)

// presenceRank implements rule R-P1: the endpoint's resolved presence is the
// highest-ranked presence among its member connections. Lower number wins.
var presenceRank = map[Presence]int{
	PresenceAvailable:   0,
	PresenceAway:        1,
	PresenceDND:         2,
	PresenceUnavailable: 3,
}

// ResolvePresence applies rule R-P1 to a set of connection presences,
// returning the highest-priority one, or PresenceUnavailable if empty.
func ResolvePresence(connPresences []Presence) Presence {
	if len(connPresences) == 0 {
		return PresenceUnavailable
	}
	best := connPresences[0]
	for _, p := range connPresences[1:] {
		if presenceRank[p] < presenceRank[best] {
			best = p
		}
	}
	return best
}
