package persona

import "strings"

// DefaultLabel is the voice adopted when a session has no persona.
const DefaultLabel = "the individual described in the provided sources"

// Label resolves the persona a session speaks as. Blank personas fall back to
// DefaultLabel.
func Label(raw string) string {
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		return trimmed
	}
	return DefaultLabel
}
