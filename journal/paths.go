package journal

import (
	"path/filepath"
	"regexp"
	"time"
)

// DateFormat is the date component of journal and summary file names.
const DateFormat = "2006-01-02"

// DailyPath returns the journal file path for a date:
// <root>/daily/YYYY-MM-DD-journal.md.
func DailyPath(root string, date time.Time) string {
	return filepath.Join(root, "daily", date.Format(DateFormat)+"-journal.md")
}

// SummaryPath returns the daily summary file path for a date:
// <root>/summaries/daily/YYYY-MM-DD-summary.md.
func SummaryPath(root string, date time.Time) string {
	return filepath.Join(root, "summaries", "daily", date.Format(DateFormat)+"-summary.md")
}

var dailyNameRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})-journal\.md$`)

// DateOfDailyFile extracts the date from a journal file name, or a zero
// time when the name does not match the journal layout.
func DateOfDailyFile(name string) (time.Time, bool) {
	m := dailyNameRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(DateFormat, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
