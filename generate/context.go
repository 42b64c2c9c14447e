// Package generate turns a commit's collected context into journal
// sections, filtering the chat window to the commit's work first and
// falling back to git-derived content when the model is unavailable.
package generate

import (
	"fmt"
	"strings"

	"commitstory.dev/chatdb"
	"commitstory.dev/gitctx"
)

// Input carries everything the generators may draw on for one commit.
type Input struct {
	Commit   *gitctx.Commit
	Window   gitctx.Window
	Chat     *chatdb.Window
	Previous string // tail of the prior journal entry, may be empty
}

// transcriptCap bounds the chat text embedded into any one prompt.
const transcriptCap = 48 * 1024

// formatTranscript renders the chat window as "User:"/"Assistant:"
// lines, truncated from the front so the most recent exchange survives.
func formatTranscript(w *chatdb.Window) string {
	if w.Empty() {
		return ""
	}
	var b strings.Builder
	for _, m := range w.Messages {
		b.WriteString(speakerLabel(m.Speaker))
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteByte('\n')
	}
	s := b.String()
	if len(s) > transcriptCap {
		s = s[len(s)-transcriptCap:]
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
	}
	return s
}

// formatTranscriptWithIDs is the boundary-filter variant: every line is
// prefixed with its bubbleId so the model can name cut points.
func formatTranscriptWithIDs(w *chatdb.Window) string {
	if w.Empty() {
		return ""
	}
	var b strings.Builder
	for _, m := range w.Messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.BubbleID, speakerLabel(m.Speaker), m.Text)
	}
	s := b.String()
	if len(s) > transcriptCap {
		s = s[len(s)-transcriptCap:]
		if idx := strings.Index(s, "\n["); idx != -1 {
			s = s[idx+1:]
		}
	}
	return s
}

func speakerLabel(sp chatdb.Speaker) string {
	if sp == chatdb.SpeakerAssistant {
		return "Assistant"
	}
	return "User"
}

// commitContext renders commit metadata, file stats, and bounded diffs
// for prompts.
func commitContext(c *gitctx.Commit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Commit %s by %s at %s\n", c.ShortHash(), c.Author, c.Timestamp.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Message:\n%s\n\nFiles changed:\n", c.Message)
	for _, f := range c.Files {
		if f.Binary {
			fmt.Fprintf(&b, "- %s (binary, %s)\n", f.Path, f.Type)
			continue
		}
		fmt.Fprintf(&b, "- %s (+%d/-%d, %s)\n", f.Path, f.Additions, f.Deletions, f.Type)
	}
	if len(c.Diffs) > 0 {
		b.WriteString("\nDiffs:\n")
		for _, f := range c.Files {
			d, ok := c.Diffs[f.Path]
			if !ok || d == "" {
				continue
			}
			fmt.Fprintf(&b, "--- %s ---\n%s\n", f.Path, d)
		}
	}
	return b.String()
}
