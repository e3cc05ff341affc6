package signaling

import (
	"strconv"
	"strings"
)

// buildPath substitutes {name} placeholders in template from params.
// Remaining params not consumed by a placeholder are sent as Frame.Params,
// a JSON object rather than a flattened query string — the duplex session
// carries JSON frames, not literal HTTP URLs, so there is no query string
// to construct in the first place, and Frame.Params's map[string]string
// shape has no representation for array-valued parameters (none of this
// module's GET/DELETE calls need one).
func buildPath(template string, params map[string]string) (path string, remaining map[string]string) {
	remaining = make(map[string]string, len(params))
	for k, v := range params {
		remaining[k] = v
	}

	path = template
	for k, v := range params {
		placeholder := "{" + k + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, v)
			delete(remaining, k)
		}
	}
	return path, remaining
}

// maxBodyBytes is the client-side request body size limit: over this many
// UTF-8-encoded bytes, a request fails locally without a frame ever being
// transmitted.
const maxBodyBytes = 20000

func bodyTooLarge(encoded []byte) bool {
	return len(encoded) > maxBodyBytes
}

// formatStatusMessage returns the generic per-code message used when a
// response status isn't otherwise recognized and the body carries no
// "error" field.
func formatStatusMessage(status int) string {
	return "request failed with status " + strconv.Itoa(status)
}
