package journal

import (
	"strings"
	"testing"
	"time"
)

func testEntry() *Entry {
	return &Entry{
		CommitHash: "abc1234def5678",
		Timestamp:  time.Date(2025, 1, 10, 14, 17, 0, 0, time.UTC),
		Sections: []Section{
			{Name: SectionCommitDetails, Content: "- README.md (+1/-0)", Status: StatusOK},
			{Name: SectionSummary, Content: "Added a greeting to the README.", Status: StatusOK},
			{Name: SectionTone, Content: "", Status: StatusOK},
		},
	}
}

func TestRenderHeaderAndOrder(t *testing.T) {
	got := testEntry().Render()

	if !strings.HasPrefix(got, "### 2:17 PM — Commit abc1234\n") {
		t.Errorf("header wrong:\n%s", got)
	}
	// Summary renders before Commit Details regardless of slice order.
	sum := strings.Index(got, "#### Summary")
	det := strings.Index(got, "#### Commit Details")
	if sum == -1 || det == -1 || sum > det {
		t.Errorf("section order wrong:\n%s", got)
	}
	// Empty sections are omitted.
	if strings.Contains(got, SectionTone) {
		t.Errorf("empty section rendered:\n%s", got)
	}
}

func TestRenderSectionHeadings(t *testing.T) {
	e := testEntry()
	e.Sections = append(e.Sections,
		Section{Name: SectionFrustrations, Content: "- flaky network", Status: StatusOK},
		Section{Name: SectionTone, Content: "Focused.", Status: StatusOK},
	)
	got := e.Render()
	if !strings.Contains(got, "#### Frustrations / Challenges\n") {
		t.Errorf("frustrations heading wrong:\n%s", got)
	}
	if !strings.Contains(got, "#### Tone / Mood\n") {
		t.Errorf("tone heading wrong:\n%s", got)
	}
}

func TestRenderDeterministic(t *testing.T) {
	e := testEntry()
	e.Sections = append(e.Sections, Section{
		Name: SectionTechnical,
		Structured: map[string]any{
			"design_change": "Swapped the ad-hoc parser for the shared lexer.",
			"files":         []any{"lexer.go", "parser.go"},
		},
		Status: StatusOK,
	})
	first := e.Render()
	second := e.Render()
	if first != second {
		t.Fatal("rendering is not byte-identical across runs")
	}
}

func TestRenderStructuredFlattening(t *testing.T) {
	e := &Entry{
		CommitHash: "abc1234",
		Timestamp:  time.Date(2025, 1, 10, 9, 5, 0, 0, time.UTC),
		Sections: []Section{{
			Name: SectionTechnical,
			Structured: map[string]any{
				"approach":   "Replaced the mutex with a channel.",
				"components": []any{"worker pool", "scheduler"},
			},
			Status: StatusOK,
		}},
	}
	got := e.Render()
	if !strings.Contains(got, "**Approach**: Replaced the mutex with a channel.") {
		t.Errorf("missing bold lead:\n%s", got)
	}
	if !strings.Contains(got, "- worker pool\n- scheduler") {
		t.Errorf("missing bullets:\n%s", got)
	}
	if !strings.Contains(got, "### 9:05 AM — Commit abc1234") {
		t.Errorf("AM header wrong:\n%s", got)
	}
}

func TestTitleize(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"design_change", "Design Change"},
		{"files", "Files"},
		{"key-insights", "Key Insights"},
	}
	for _, tt := range tests {
		if got := titleize(tt.in); got != tt.expected {
			t.Errorf("titleize(%q) = %q, want %q", tt.in, got, tt.expected)
		}
	}
}

func TestDateOfDailyFile(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"2025-01-10-journal.md", true},
		{"2025-01-10-summary.md", false},
		{"journal.md", false},
		{"2025-1-10-journal.md", false},
	}
	for _, tt := range tests {
		if _, ok := DateOfDailyFile(tt.name); ok != tt.ok {
			t.Errorf("DateOfDailyFile(%q) ok = %v, want %v", tt.name, ok, tt.ok)
		}
	}
}
