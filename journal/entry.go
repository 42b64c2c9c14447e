// Package journal defines the journal entry model, its canonical
// markdown rendering, and on-disk layout.
package journal

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SectionStatus records how a section's content was produced.
type SectionStatus string

const (
	StatusOK       SectionStatus = "ok"
	StatusFallback SectionStatus = "fallback" // git-derived content only
	StatusEmpty    SectionStatus = "empty"
)

// Canonical section names, in output order.
const (
	SectionSummary       = "Summary"
	SectionTechnical     = "Technical Synopsis"
	SectionAccomplished  = "Accomplishments"
	SectionFrustrations  = "Frustrations / Challenges"
	SectionTone          = "Tone / Mood"
	SectionDiscussion    = "Discussion Notes"
	SectionCommitDetails = "Commit Details"
)

// SectionOrder is the fixed rendering order regardless of generation
// completion order.
var SectionOrder = []string{
	SectionSummary,
	SectionTechnical,
	SectionAccomplished,
	SectionFrustrations,
	SectionTone,
	SectionDiscussion,
	SectionCommitDetails,
}

// Section is one named part of an entry. Content holds markdown-ready
// text; Structured holds a field map for generators that returned a JSON
// object, flattened at render time.
type Section struct {
	Name       string
	Content    string
	Structured map[string]any
	Status     SectionStatus
}

func (s *Section) empty() bool {
	return strings.TrimSpace(s.Content) == "" && len(s.Structured) == 0
}

// Entry is one commit's worth of journal content.
type Entry struct {
	CommitHash string
	Timestamp  time.Time
	Sections   []Section
}

// ShortHash returns the 7-character abbreviated commit hash.
func (e *Entry) ShortHash() string {
	if len(e.CommitHash) < 7 {
		return e.CommitHash
	}
	return e.CommitHash[:7]
}

// Header returns the entry's H3 header line.
func (e *Entry) Header() string {
	return fmt.Sprintf("### %s — Commit %s", e.Timestamp.Format("3:04 PM"), e.ShortHash())
}

// Render serializes the entry to canonical markdown: H3 entry header,
// H4 section headers in SectionOrder, one blank line between blocks.
// Sections with no content are omitted. Rendering the same entry twice
// yields byte-identical output.
func (e *Entry) Render() string {
	var b strings.Builder
	b.WriteString(e.Header())
	b.WriteString("\n")

	byName := map[string]*Section{}
	for i := range e.Sections {
		byName[e.Sections[i].Name] = &e.Sections[i]
	}
	for _, name := range SectionOrder {
		s, ok := byName[name]
		if !ok || s.empty() {
			continue
		}
		b.WriteString("\n#### ")
		b.WriteString(name)
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(renderContent(s)))
		b.WriteString("\n")
	}
	return b.String()
}

// renderContent flattens a structured section to paragraphs: map keys
// become bold leads, list values become bullets. Keys render in sorted
// order so output is deterministic.
func renderContent(s *Section) string {
	if len(s.Structured) == 0 {
		return s.Content
	}
	keys := make([]string, 0, len(s.Structured))
	for k := range s.Structured {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		v := s.Structured[k]
		lead := "**" + titleize(k) + "**"
		switch val := v.(type) {
		case []any:
			var items []string
			for _, it := range val {
				items = append(items, "- "+fmt.Sprint(it))
			}
			parts = append(parts, lead+"\n"+strings.Join(items, "\n"))
		case []string:
			var items []string
			for _, it := range val {
				items = append(items, "- "+it)
			}
			parts = append(parts, lead+"\n"+strings.Join(items, "\n"))
		case nil:
			continue
		default:
			text := strings.TrimSpace(fmt.Sprint(val))
			if text == "" {
				continue
			}
			parts = append(parts, lead+": "+text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// titleize turns snake_case field names into a readable lead.
func titleize(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
