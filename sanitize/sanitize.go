// Package sanitize strips credentials and secrets from text before it
// enters an LLM prompt or a journal file.
package sanitize

import "regexp"

// Redacted is the literal replacement for every matched secret.
const Redacted = "[REDACTED]"

type rule struct {
	name string
	re   *regexp.Regexp
	repl string
}

// Rules are applied in order. Order matters: the broad env-assignment rule
// runs after the key-specific rules so the more precise replacements win.
var rules = []rule{
	{
		name: "openai_key",
		re:   regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
		repl: Redacted,
	},
	{
		name: "labeled_token",
		re:   regexp.MustCompile(`(?i)\b(key=|token=|secret=|authorization:\s*|bearer\s+)[A-Za-z0-9_-]{32,}=?`),
		repl: "${1}" + Redacted,
	},
	{
		name: "jwt",
		re:   regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
		repl: Redacted,
	},
	{
		name: "url_credentials",
		re:   regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s:@]+:[^/\s@]+@`),
		repl: "${1}" + Redacted + "@",
	},
	{
		name: "env_assignment",
		re:   regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*(?:KEY|TOKEN|SECRET|PASSWORD)[A-Za-z0-9_]*)=[^\s\[]\S*`),
		repl: "${1}=" + Redacted,
	},
	{
		name: "database_url",
		re:   regexp.MustCompile(`\b(postgres|postgresql|mysql|mongodb(?:\+srv)?|redis|amqp)://\S*:\S*@`),
		repl: "${1}://" + Redacted + "@",
	},
}

// Text applies every redaction rule, in order, to s.
func Text(s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// Clean reports whether s contains no recognizable secrets.
func Clean(s string) bool {
	for _, r := range rules {
		if r.re.MatchString(s) {
			return false
		}
	}
	return true
}
