package generate

import (
	"encoding/json"
	"strings"
)

// stripCodeFences removes ```json ... ``` wrapping from model output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// parseJSON unmarshals fenced-or-bare JSON model output into v.
// Returns false on unparseable output so callers can degrade gracefully.
func parseJSON(text string, v any) bool {
	text = stripCodeFences(text)
	if text == "" {
		return false
	}
	return json.Unmarshal([]byte(text), v) == nil
}
