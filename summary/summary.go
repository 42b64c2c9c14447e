// Package summary generates daily summary files from completed journal
// days. A day is complete once the local date has rolled past it; the
// first hook run on a later day backfills any missing summaries.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"commitstory.dev/journal"
	"commitstory.dev/llm"
	"commitstory.dev/sanitize"
)

// journalCap bounds how much of a day's journal feeds the prompt,
// truncated from the front.
const journalCap = 64 * 1024

// summaryTimeout bounds one day's model call.
const summaryTimeout = 30 * time.Second

// Runner backfills daily summaries under a journal root.
type Runner struct {
	Root    string
	Service llm.Service // nil means model-free fallback summaries
	Now     func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run summarizes every past day that has a journal file but no summary,
// oldest first. Summaries already on disk are never rewritten, so the
// trigger is idempotent. One failed day aborts the backfill; earlier
// days written in this run stay written.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	pending, err := r.Pending()
	if err != nil {
		return nil, err
	}
	var written []string
	for _, date := range pending {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		path, err := r.summarize(ctx, date)
		if err != nil {
			return written, fmt.Errorf("summary: %s: %w", date.Format(journal.DateFormat), err)
		}
		written = append(written, path)
		slog.InfoContext(ctx, "daily summary written", "date", date.Format(journal.DateFormat), "path", path)
	}
	return written, nil
}

// Pending returns the dates needing a summary: every daily journal file
// dated strictly before today (local time) whose summary file is absent.
func (r *Runner) Pending() ([]time.Time, error) {
	entries, err := os.ReadDir(filepath.Join(r.Root, "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("summary: scan daily dir: %w", err)
	}
	today := r.now().Format(journal.DateFormat)

	var pending []time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		date, ok := journal.DateOfDailyFile(e.Name())
		if !ok || date.Format(journal.DateFormat) >= today {
			continue
		}
		if _, err := os.Stat(journal.SummaryPath(r.Root, date)); err == nil {
			continue
		}
		pending = append(pending, date)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Before(pending[j]) })
	return pending, nil
}

func (r *Runner) summarize(ctx context.Context, date time.Time) (string, error) {
	data, err := os.ReadFile(journal.DailyPath(r.Root, date))
	if err != nil {
		return "", fmt.Errorf("read journal: %w", err)
	}
	markdown := string(data)
	reflections := journal.ExtractReflections(markdown)

	body := r.generateBody(ctx, date, markdown)

	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Summary — %s\n\n%s\n", date.Format(journal.DateFormat), strings.TrimSpace(body))
	if len(reflections) > 0 {
		b.WriteString("\n## Reflections\n")
		for _, ref := range reflections {
			b.WriteString("\n")
			b.WriteString(ref.Header)
			b.WriteString("\n\n")
			b.WriteString(ref.Content)
			b.WriteString("\n")
		}
	}

	path := journal.SummaryPath(r.Root, date)
	if err := journal.WriteFileAtomic(path, []byte(b.String())); err != nil {
		return "", err
	}
	return path, nil
}

const summarySystem = "You condense a day of engineering journal entries into a daily summary."

const summaryPrompt = `Below is one day of engineering journal entries, each entry covering one commit. Write a daily summary in markdown with these H2 sections:

## Overview
2-4 sentences on the arc of the day's work.

## Key Accomplishments
Bullet list of what shipped.

## Challenges
Bullet list of friction the entries evidence. Omit this section if there was none.

Ground everything in the entries. Do not invent work that is not recorded. Do not include reflection blocks; they are handled separately.

Journal entries for %s:
%s`

// generateBody returns the model-written summary body, or the
// deterministic fallback (the day's entry headers) when the model is
// unavailable or fails.
func (r *Runner) generateBody(ctx context.Context, date time.Time, markdown string) string {
	if r.Service == nil {
		return fallbackBody(markdown)
	}
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	excerpt := markdown
	if len(excerpt) > journalCap {
		excerpt = excerpt[len(excerpt)-journalCap:]
	}
	resp, err := r.Service.Complete(ctx, &llm.Request{
		System: summarySystem,
		Prompt: fmt.Sprintf(summaryPrompt, date.Format(journal.DateFormat), excerpt),
	})
	if err != nil {
		slog.WarnContext(ctx, "daily summary generation failed, using fallback",
			"date", date.Format(journal.DateFormat), "error", err)
		return fallbackBody(markdown)
	}
	body := strings.TrimSpace(sanitize.Text(resp.Text))
	if body == "" {
		return fallbackBody(markdown)
	}
	return body
}

// fallbackBody lists the day's commit entry headers.
func fallbackBody(markdown string) string {
	var lines []string
	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(line, "### ") && strings.Contains(line, "— Commit ") {
			lines = append(lines, "- "+strings.TrimPrefix(line, "### "))
		}
	}
	if len(lines) == 0 {
		return "## Overview\n\nNo commit entries recorded."
	}
	return "## Commits\n\n" + strings.Join(lines, "\n")
}
