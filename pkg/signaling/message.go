package signaling

import "github.com/1ureka/roj1signal/pkg/model"

// Message is the tagged union carried by every SignalingMessage. Only the
// fields relevant to SignalType are populated; the rest are zero values.
// Modeling it as one struct rather than an interface keeps (de)serialization
// to/from the wire a single json.Marshal/Unmarshal call.
type Message struct {
	SignalID       string          `json:"signalId"`
	SignalType     model.SignalType `json:"signalType"`
	Target         model.Target    `json:"target"`
	SessionID      string          `json:"sessionId"`
	FromEndpoint   string          `json:"fromEndpoint"`
	FromConnection string          `json:"fromConnection"`
	ToOriginal     string          `json:"toOriginal,omitempty"`
	CallerID       string          `json:"callerId,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`

	SDP        string              `json:"sdp,omitempty"`
	Candidates []ICECandidateInit  `json:"candidates,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Action     model.ModifyAction  `json:"action,omitempty"`
}

// ICECandidateInit mirrors the wire shape of a trickled ICE candidate; kept
// independent of pion's type so this package doesn't need to import
// pkg/webrtcx just to describe the wire.
type ICECandidateInit struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// NewMessage stamps a fresh signalId onto a Message, per the invariant that
// every outbound SignalingMessage carries a non-empty, distinct signalId.
func NewMessage(signalType model.SignalType, target model.Target, sessionID string) Message {
	return Message{
		SignalID:   model.NewID(),
		SignalType: signalType,
		Target:     target,
		SessionID:  sessionID,
	}
}

// Validate implements rule R-S1: every inbound signal must carry a target,
// and unknown signal types other than ack are malformed.
func (m Message) Validate() error {
	if m.Target == "" {
		return &SignalError{Kind: ErrMalformedSignal, Message: "signal missing target"}
	}
	switch m.SignalType {
	case model.SignalOffer, model.SignalAnswer, model.SignalConnected,
		model.SignalICECandidates, model.SignalBye, model.SignalModify, model.SignalAck:
		return nil
	default:
		return &SignalError{Kind: ErrMalformedSignal, Message: "unknown signalType: " + string(m.SignalType)}
	}
}
