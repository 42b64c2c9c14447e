package journal

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// previousEntryCap bounds how much prior-entry text feeds back into
// prompts as continuity context.
const previousEntryCap = 8 * 1024

// PreviousEntry returns the tail of the most recent journal file whose
// date is on or before the given date. It never fails: when no prior
// entry exists it returns the empty string.
func PreviousEntry(root string, date time.Time) string {
	entries, err := os.ReadDir(filepath.Join(root, "daily"))
	if err != nil {
		return ""
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		d, ok := DateOfDailyFile(e.Name())
		if !ok || d.After(date) {
			continue
		}
		candidates = append(candidates, e.Name())
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates) // date-prefixed names sort chronologically
	latest := candidates[len(candidates)-1]

	data, err := os.ReadFile(filepath.Join(root, "daily", latest))
	if err != nil {
		return ""
	}
	if len(data) > previousEntryCap {
		data = data[len(data)-previousEntryCap:]
	}
	return string(data)
}

// Reflection is a human-authored block inside a journal file, preserved
// verbatim into summaries.
type Reflection struct {
	Header  string // the full "### HH:MM AM/PM — Reflection" line
	Content string // verbatim body text
}

var reflectionHeaderRe = regexp.MustCompile(`^### \d{1,2}:\d{2} (AM|PM) — Reflection\s*$`)

// ExtractReflections finds every reflection block in a journal file.
// A block runs from its header to the next H3 header or entry separator.
func ExtractReflections(markdown string) []Reflection {
	lines := strings.Split(markdown, "\n")
	var out []Reflection
	for i := 0; i < len(lines); i++ {
		if !reflectionHeaderRe.MatchString(lines[i]) {
			continue
		}
		header := lines[i]
		var body []string
		j := i + 1
		for ; j < len(lines); j++ {
			if strings.HasPrefix(lines[j], "### ") || strings.TrimSpace(lines[j]) == "---" {
				break
			}
			body = append(body, lines[j])
		}
		out = append(out, Reflection{
			Header:  header,
			Content: strings.Trim(strings.Join(body, "\n"), "\n"),
		})
		i = j - 1
	}
	return out
}

// HasEntryForCommit reports whether a journal file already contains an
// entry header for the given short hash. Used to keep re-runs of the
// hook on the same commit idempotent.
func HasEntryForCommit(markdown, shortHash string) bool {
	marker := "— Commit " + shortHash
	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(line, "### ") && strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
