package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"commitstory.dev/chatdb"
	"commitstory.dev/journal"
	"commitstory.dev/llm"
	"commitstory.dev/sanitize"
)

// Options tunes section generation.
type Options struct {
	SectionTimeout time.Duration // per-section model budget, default 20s
	MaxConcurrent  int           // concurrent model calls, default 4
}

func (o Options) timeout() time.Duration {
	if o.SectionTimeout > 0 {
		return o.SectionTimeout
	}
	return 20 * time.Second
}

func (o Options) limit() int {
	if o.MaxConcurrent > 0 {
		return o.MaxConcurrent
	}
	return 4
}

// sectionSpec describes one model-backed section: how to prompt for it
// and what deterministic content replaces it when the model cannot.
type sectionSpec struct {
	name      string
	needsChat bool // skip the model call entirely without chat evidence
	system    string
	prompt    func(*Input) string
	parse     func(text string, in *Input) (journal.Section, bool)
	fallback  func(*Input) journal.Section
}

// Generate produces a complete journal entry for the commit. Each
// model-backed section runs independently under its own timeout; any
// failure degrades that one section to its git-derived fallback.
// Commit Details is always deterministic and never consults the model.
// With svc nil (AI disabled) every section is a fallback.
func Generate(ctx context.Context, svc llm.Service, in *Input, opts Options) (*journal.Entry, llm.Usage) {
	specs := sectionSpecs()
	sections := make([]journal.Section, len(specs)+1)

	var mu sync.Mutex
	var usage llm.Usage

	var g errgroup.Group
	g.SetLimit(opts.limit())
	for i, sp := range specs {
		i, sp := i, sp
		g.Go(func() error {
			sec, u := generateOne(ctx, svc, in, sp, opts.timeout())
			mu.Lock()
			usage.Add(u)
			mu.Unlock()
			sections[i] = sec
			return nil
		})
	}
	g.Wait()

	sections[len(specs)] = commitDetails(in)
	return &journal.Entry{
		CommitHash: in.Commit.Hash,
		Timestamp:  in.Commit.Timestamp.Local(),
		Sections:   sections,
	}, usage
}

func generateOne(ctx context.Context, svc llm.Service, in *Input, sp sectionSpec, timeout time.Duration) (journal.Section, llm.Usage) {
	if svc == nil || (sp.needsChat && in.Chat.Empty()) {
		return sp.fallback(in), llm.Usage{}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := svc.Complete(ctx, &llm.Request{System: sp.system, Prompt: sp.prompt(in)})
	if err != nil {
		slog.WarnContext(ctx, "section generation failed, using fallback", "section", sp.name, "error", err)
		return sp.fallback(in), llm.Usage{}
	}

	text := sanitize.Text(resp.Text)
	if sp.parse != nil {
		if sec, ok := sp.parse(text, in); ok {
			return sec, resp.Usage
		}
		slog.WarnContext(ctx, "section returned unparseable output, using fallback", "section", sp.name)
		return sp.fallback(in), resp.Usage
	}
	text = strings.TrimSpace(stripCodeFences(text))
	if text == "" || strings.EqualFold(text, "none") {
		return journal.Section{Name: sp.name, Status: journal.StatusEmpty}, resp.Usage
	}
	// A generator that answers with a JSON object gets its fields
	// flattened at render time rather than raw JSON in the entry.
	if strings.HasPrefix(text, "{") {
		var fields map[string]any
		if parseJSON(text, &fields) && len(fields) > 0 {
			return journal.Section{Name: sp.name, Structured: fields, Status: journal.StatusOK}, resp.Usage
		}
	}
	return journal.Section{Name: sp.name, Content: text, Status: journal.StatusOK}, resp.Usage
}

// evidenceRule is appended to every prompt so sections stay grounded in
// the transcript and diff instead of inventing a tidy story.
const evidenceRule = `Ground every statement in the commit or transcript above. Do not infer feelings, motivations, or work that is not directly evidenced. If there is nothing to say, respond with the single word: none.`

func promptWith(in *Input, ask string) string {
	var b strings.Builder
	b.WriteString(commitContext(in.Commit))
	if t := formatTranscript(in.Chat); t != "" {
		b.WriteString("\nChat transcript from this work session:\n")
		b.WriteString(t)
	}
	if in.Previous != "" {
		b.WriteString("\nTail of the previous journal entry, for continuity only (do not re-describe its work):\n")
		b.WriteString(in.Previous)
	}
	b.WriteString("\n")
	b.WriteString(ask)
	b.WriteString("\n\n")
	b.WriteString(evidenceRule)
	return b.String()
}

func sectionSpecs() []sectionSpec {
	return []sectionSpec{
		{
			name:   journal.SectionSummary,
			system: "You write concise engineering journal entries in plain first-person prose.",
			prompt: func(in *Input) string {
				return promptWith(in, `Write a Summary section: 2-4 sentences of plain prose describing what this commit accomplished and, if the transcript shows it, why. Write for the developer re-reading this months later. No headers, no bullet lists.`)
			},
			fallback: summaryFallback,
		},
		{
			name:   journal.SectionTechnical,
			system: "You write technical synopses of code changes for an engineering journal.",
			prompt: func(in *Input) string {
				return promptWith(in, `Write a Technical Synopsis section: a short paragraph or bullet list covering the concrete implementation details of this change. What was added, changed, or removed, and how the pieces fit. Stay at the level of the diff.`)
			},
			fallback: technicalFallback,
		},
		{
			name:   journal.SectionAccomplished,
			system: "You summarize completed engineering work as bullet points.",
			prompt: func(in *Input) string {
				return promptWith(in, `Write an Accomplishments section: a markdown bullet list of what was completed in this commit. One bullet per distinct accomplishment, past tense.`)
			},
			fallback: accomplishmentsFallback,
		},
		{
			name:      journal.SectionFrustrations,
			needsChat: true,
			system:    "You identify friction and roadblocks evidenced in an engineering work session.",
			prompt: func(in *Input) string {
				return promptWith(in, `Write a Frustrations section: a markdown bullet list of difficulties, dead ends, or roadblocks the transcript shows the developer actually hit. Only include friction that is explicit in the transcript.`)
			},
			fallback: emptySection(journal.SectionFrustrations),
		},
		{
			name:      journal.SectionTone,
			needsChat: true,
			system:    "You describe the working mood of an engineering session from transcript evidence.",
			prompt: func(in *Input) string {
				return promptWith(in, `Write a Tone / Mood section: 1-2 sentences describing the mood of this session, each claim tied to specific transcript evidence (quote or paraphrase it). If the transcript gives no mood signal, respond with: none.`)
			},
			fallback: emptySection(journal.SectionTone),
		},
		{
			name:      journal.SectionDiscussion,
			needsChat: true,
			system:    "You select the most valuable quotes from an engineering chat transcript. Respond only with a JSON array.",
			prompt: func(in *Input) string {
				return promptWith(in, `Select up to 8 verbatim quotes from the transcript that capture decisions, reasoning, tradeoffs, or insights from this session. Prefer analytical exchanges (why something was chosen, what was rejected) over procedural ones (run this, fix that).

Return a JSON array of objects with fields "speaker" ("User" or "Assistant") and "quote" (verbatim text from the transcript).`)
			},
			parse:    parseDiscussion,
			fallback: emptySection(journal.SectionDiscussion),
		},
	}
}

func emptySection(name string) func(*Input) journal.Section {
	return func(*Input) journal.Section {
		return journal.Section{Name: name, Status: journal.StatusEmpty}
	}
}

func summaryFallback(in *Input) journal.Section {
	c := in.Commit
	subject := c.Message
	if idx := strings.Index(subject, "\n"); idx != -1 {
		subject = subject[:idx]
	}
	adds, dels := 0, 0
	for _, f := range c.Files {
		adds += f.Additions
		dels += f.Deletions
	}
	return journal.Section{
		Name:    journal.SectionSummary,
		Content: fmt.Sprintf("%s (%d files, +%d/-%d)", subject, len(c.Files), adds, dels),
		Status:  journal.StatusFallback,
	}
}

func technicalFallback(in *Input) journal.Section {
	byType := map[string][]string{}
	for _, f := range in.Commit.Files {
		byType[f.Type] = append(byType[f.Type], f.Path)
	}
	var lines []string
	for _, t := range []string{"source", "tests", "config", "build", "docs", "other"} {
		paths, ok := byType[t]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", t, strings.Join(paths, ", ")))
	}
	if len(lines) == 0 {
		return journal.Section{Name: journal.SectionTechnical, Status: journal.StatusEmpty}
	}
	return journal.Section{
		Name:    journal.SectionTechnical,
		Content: strings.Join(lines, "\n"),
		Status:  journal.StatusFallback,
	}
}

func accomplishmentsFallback(in *Input) journal.Section {
	subject := in.Commit.Message
	if idx := strings.Index(subject, "\n"); idx != -1 {
		subject = subject[:idx]
	}
	return journal.Section{
		Name:    journal.SectionAccomplished,
		Content: "- " + subject,
		Status:  journal.StatusFallback,
	}
}

type discussionQuote struct {
	Speaker string `json:"speaker"`
	Quote   string `json:"quote"`
}

// maxDiscussionQuotes caps the Discussion Notes section. When the model
// over-selects, analytical quotes win over procedural ones.
const maxDiscussionQuotes = 8

func parseDiscussion(text string, in *Input) (journal.Section, bool) {
	var quotes []discussionQuote
	if !parseJSON(text, &quotes) {
		return journal.Section{}, false
	}
	var kept []discussionQuote
	for _, q := range quotes {
		if strings.TrimSpace(q.Quote) == "" {
			continue
		}
		if q.Speaker != "User" && q.Speaker != "Assistant" {
			sp, ok := speakerOfQuote(in.Chat, q.Quote)
			if !ok {
				continue
			}
			q.Speaker = sp
		}
		kept = append(kept, q)
	}
	if len(kept) == 0 {
		return journal.Section{Name: journal.SectionDiscussion, Status: journal.StatusEmpty}, true
	}
	if len(kept) > maxDiscussionQuotes {
		kept = preferAnalytical(kept, maxDiscussionQuotes)
	}
	var b strings.Builder
	for _, q := range kept {
		fmt.Fprintf(&b, "> **%s**: %s\n\n", q.Speaker, strings.TrimSpace(q.Quote))
	}
	return journal.Section{
		Name:    journal.SectionDiscussion,
		Content: strings.TrimSpace(b.String()),
		Status:  journal.StatusOK,
	}, true
}

// speakerOfQuote attributes a mislabeled quote by locating it in the
// window. A quote matching no message is dropped rather than guessed.
func speakerOfQuote(w *chatdb.Window, quote string) (string, bool) {
	if w == nil {
		return "", false
	}
	needle := strings.TrimSpace(quote)
	for _, m := range w.Messages {
		if strings.Contains(m.Text, needle) {
			if m.Speaker == chatdb.SpeakerAssistant {
				return "Assistant", true
			}
			return "User", true
		}
	}
	return "", false
}

// analyticalMarkers signal reasoning rather than procedure. Quotes
// containing them survive the cap first, in original order.
var analyticalMarkers = []string{
	"because", "why", "instead", "tradeoff", "trade-off", "decided",
	"rather than", "the problem", "turns out", "realized",
}

func preferAnalytical(quotes []discussionQuote, max int) []discussionQuote {
	scored := make([]bool, len(quotes))
	analytical := 0
	for i, q := range quotes {
		lower := strings.ToLower(q.Quote)
		for _, m := range analyticalMarkers {
			if strings.Contains(lower, m) {
				scored[i] = true
				analytical++
				break
			}
		}
	}
	out := make([]discussionQuote, 0, max)
	// First pass keeps analytical quotes, second pass tops up in order.
	for i, q := range quotes {
		if scored[i] && len(out) < max {
			out = append(out, q)
		}
	}
	for i, q := range quotes {
		if !scored[i] && len(out) < max {
			out = append(out, q)
		}
	}
	return out
}

// commitDetails is the always-deterministic section: pure git facts,
// never model output.
func commitDetails(in *Input) journal.Section {
	c := in.Commit
	var b strings.Builder
	fmt.Fprintf(&b, "**Commit**: %s\n", c.Hash)
	fmt.Fprintf(&b, "**Author**: %s\n", c.Author)
	fmt.Fprintf(&b, "**Date**: %s\n", c.Timestamp.Format("2006-01-02 15:04:05 MST"))
	if len(c.Files) > 0 {
		b.WriteString("**Files**:\n")
		adds, dels := 0, 0
		for _, f := range c.Files {
			if f.Binary {
				fmt.Fprintf(&b, "- %s (binary)\n", f.Path)
				continue
			}
			fmt.Fprintf(&b, "- %s (+%d/-%d)\n", f.Path, f.Additions, f.Deletions)
			adds += f.Additions
			dels += f.Deletions
		}
		fmt.Fprintf(&b, "\n%d files changed, %d insertions(+), %d deletions(-)", len(c.Files), adds, dels)
	}
	return journal.Section{
		Name:    journal.SectionCommitDetails,
		Content: strings.TrimSpace(b.String()),
		Status:  journal.StatusOK,
	}
}
