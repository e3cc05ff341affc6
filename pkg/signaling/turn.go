package signaling

import "fmt"

// TurnServer is one entry of the ephemeral ICE server list returned by
// GET /v1/turn, shaped to feed directly into webrtcx.Options.ICEServers.
type TurnServer struct {
	URLs       []string
	Username   string
	Credential string
}

// parseTurnServers decodes the GET /v1/turn response body into TurnServers.
func parseTurnServers(body any) ([]TurnServer, error) {
	m, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("signaling: unexpected /v1/turn response shape")
	}
	raw, _ := m["iceServers"].([]any)
	servers := make([]TurnServer, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ts := TurnServer{
			Username:   stringField(entry, "username"),
			Credential: stringField(entry, "credential"),
		}
		switch urls := entry["urls"].(type) {
		case string:
			ts.URLs = []string{urls}
		case []any:
			for _, u := range urls {
				if s, ok := u.(string); ok {
					ts.URLs = append(ts.URLs, s)
				}
			}
		}
		servers = append(servers, ts)
	}
	return servers, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
