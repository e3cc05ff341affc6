package signaling

import (
	"strings"
	"time"
)

// pendingRequest tracks one in-flight RPC so a transport failure can reject
// it synchronously, and so a 429 response can be retried without the caller
// knowing.
type pendingRequest struct {
	id        int64
	method    string
	path      string
	params    map[string]string
	data      any
	tries     int
	startedAt time.Time

	done   chan struct{}
	result any
	err    error
}

func (p *pendingRequest) resolve(body any) {
	p.result = body
	close(p.done)
}

func (p *pendingRequest) reject(err error) {
	p.err = err
	close(p.done)
}

// classifyResponse turns a response Frame's status/body into either a
// resolved body or an error. It never itself performs the 429 retry — the
// caller (Channel.Do) does that so retries can be scheduled on the clock.
func classifyResponse(status int, body map[string]any) (resolvedBody any, retriable bool, err error) {
	switch status {
	case 200, 204, 205, 302, 401, 403, 404, 418:
		if status == 401 {
			if se := classifySuspension(body); se != nil {
				return nil, false, se
			}
			return nil, false, &SignalError{Kind: ErrAuth, Message: "unauthorized"}
		}
		return body, false, nil
	case 429:
		return nil, true, nil
	default:
		if msg, ok := body["error"].(string); ok && msg != "" {
			return nil, false, &SignalError{Kind: ErrTransport, Message: msg}
		}
		return nil, false, &SignalError{Kind: ErrTransport, Message: formatStatusMessage(status)}
	}
}

// classifySuspension distinguishes billing suspension from general
// suspension in a 401 body. Returns nil if the body does not indicate a
// suspension at all (an ordinary unauthorized 401).
func classifySuspension(body map[string]any) *SignalError {
	details, _ := body["details"].(map[string]any)
	if details == nil {
		return nil
	}
	if reason, ok := details["reason"].(string); ok && strings.Contains(reason, "billing suspension") {
		return &SignalError{Kind: ErrBillingSuspend, Message: reason}
	}
	if msg, ok := details["message"].(string); ok && strings.Contains(msg, "suspended") {
		return &SignalError{Kind: ErrSuspension, Message: msg}
	}
	return nil
}
