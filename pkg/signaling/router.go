package signaling

import "github.com/1ureka/roj1signal/pkg/model"

// CallHandler is the narrow surface RouteSignal needs from a Call, without
// pkg/signaling importing pkg/call: the dependency runs the other way, with
// pkg/call's Call type implementing this interface and pkg/client wiring
// the two together.
type CallHandler interface {
	ID() string
	Caller() bool
	RemoteConnectionID() string

	SignalOffer(Message)
	SignalAnswer(Message)
	SignalConnected(Message)
	SignalICECandidates(Message)
	SignalModify(Message)
	SignalHangup(Message)
}

// CallLookupOptions is the argument to CallLookup.GetCall.
type CallLookupOptions struct {
	SessionID      string
	EndpointID     string
	Target         model.Target
	Create         bool
	FromEndpoint   string
	FromConnection string
	Caller         bool
}

// CallLookup resolves or creates Calls by session id, owned by the client.
type CallLookup interface {
	GetCall(opts CallLookupOptions) (CallHandler, bool)
}

// DirectConnectionFactory implements rule R-S2's directConnection case: at
// most one direct connection per endpoint, reused by sessionId.
type DirectConnectionFactory interface {
	GetOrCreateDirectConnection(endpointID, sessionID string) CallHandler
}
