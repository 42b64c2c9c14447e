// Package worker orchestrates one journal run: collect the commit's
// context, filter the chat window, generate sections, append the entry,
// and backfill daily summaries. A run is the unit the post-commit hook
// launches.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"commitstory.dev/chatdb"
	"commitstory.dev/config"
	"commitstory.dev/generate"
	"commitstory.dev/gitctx"
	"commitstory.dev/journal"
	"commitstory.dev/llm"
	"commitstory.dev/llm/oai"
	"commitstory.dev/sanitize"
	"commitstory.dev/summary"
)

// State names the stage a run is in. Transitions are strictly linear;
// a run never revisits a stage.
type State string

const (
	StateStarting          State = "starting"
	StateCollecting        State = "collecting"
	StateFiltering         State = "filtering"
	StateGenerating        State = "generating"
	StateAssembling        State = "assembling"
	StateTriggeringSummary State = "triggering_summary"
	StateDone              State = "done"
	StateAborted           State = "aborted"
)

// FailKind classifies an aborted run for the sync-mode exit code.
type FailKind int

const (
	FailNone FailKind = iota
	FailConfig
	FailRepo
	FailBudget
	FailFallback // entry written, but every narrative section degraded
)

// Result is the outcome of one run.
type Result struct {
	RunID       string
	State       State
	Fail        FailKind
	Err         error
	EntryPath   string
	Summaries   []string
	Usage       llm.Usage
	AllFallback bool
	Duplicate   bool
}

// ExitCode maps a result to the process exit code. In hook mode the
// caller ignores this and always exits 0; a journal failure must never
// fail the commit.
func (r *Result) ExitCode() int {
	switch r.Fail {
	case FailConfig:
		return 1
	case FailRepo:
		return 2
	case FailBudget:
		return 3
	case FailFallback:
		return 4
	}
	return 0
}

// Options configures one run.
type Options struct {
	Dir  string // directory inside the repo, "" means CWD
	Hash string // commit to journal, "" means HEAD

	Config *config.Config

	// Service overrides the provider built from Config, used in tests.
	Service llm.Service
	// ChatDBs overrides platform chat database discovery, used in tests.
	ChatDBs []string

	Now func() time.Time
}

// Run executes the full pipeline. It always returns a Result; Err is
// set only when the run aborted before an entry could be written.
func Run(ctx context.Context, opts Options) *Result {
	res := &Result{RunID: ulid.Make().String(), State: StateStarting}
	log := slog.With("run_id", res.RunID)

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.TotalBudget())
	defer cancel()

	repoRoot, err := gitctx.RepoRoot(ctx, opts.Dir)
	if err != nil {
		return res.abort(log, FailRepo, fmt.Errorf("worker: not a git repository: %w", err))
	}
	hash := opts.Hash
	if hash == "" {
		if hash, err = gitctx.Head(ctx, repoRoot); err != nil {
			return res.abort(log, FailRepo, fmt.Errorf("worker: resolve HEAD: %w", err))
		}
	}
	journalRoot, err := cfg.JournalRoot(repoRoot)
	if err != nil {
		return res.abort(log, FailConfig, err)
	}
	log.InfoContext(ctx, "run starting", "repo", repoRoot, "hash", hash, "ai_enabled", cfg.AIEnabled())

	// Collecting: the commit first (its window bounds everything else),
	// then chat extraction and the previous entry in parallel.
	res.advance(log, StateCollecting)
	commit, err := gitctx.Collect(ctx, repoRoot, hash, gitctx.Options{ExcludePatterns: cfg.Git.ExcludePatterns})
	if err != nil {
		return res.abort(log, FailRepo, err)
	}
	window, err := gitctx.CommitWindow(ctx, repoRoot, commit)
	if err != nil {
		return res.abort(log, FailRepo, err)
	}

	in := &generate.Input{Commit: commit, Window: window}
	var g errgroup.Group
	g.Go(func() error {
		paths := opts.ChatDBs
		if paths == nil {
			paths = chatdb.Discover(chatdb.DiscoverOptions{Lookback: cfg.Lookback(), Now: opts.Now})
		}
		raw := chatdb.Read(ctx, paths, window.End)
		in.Chat = chatdb.Reconstruct(raw, window.Start, window.End, cfg.Chat.MaxMessages)
		return nil
	})
	g.Go(func() error {
		in.Previous = journal.PreviousEntry(journalRoot, commit.Timestamp.Local())
		return nil
	})
	g.Wait()
	sanitizeChat(in.Chat)
	sanitizeCommit(commit)
	log.InfoContext(ctx, "context collected",
		"files", len(commit.Files),
		"messages", len(in.Chat.Messages),
		"confidence", in.Chat.Quality.Confidence,
		"dbs_failed", len(in.Chat.Quality.DatabasesFailed))

	svc := opts.Service
	if svc == nil {
		svc = buildService(cfg)
	}

	res.advance(log, StateFiltering)
	in.Chat = generate.FilterBoundary(ctx, svc, in)

	res.advance(log, StateGenerating)
	entry, usage := generate.Generate(ctx, svc, in, generate.Options{})
	res.Usage = usage
	res.AllFallback = svc != nil && allFallback(entry)
	budgetExceeded := ctx.Err() != nil

	// On budget exhaustion the entry still gets written: unfinished
	// sections already degraded to fallbacks inside Generate, and the
	// file write does not depend on the expired context.
	res.advance(log, StateAssembling)
	path, err := journal.AppendEntry(journalRoot, entry)
	if errors.Is(err, journal.ErrDuplicateEntry) {
		res.Duplicate = true
		log.InfoContext(ctx, "entry already present, skipping append", "hash", entry.ShortHash())
	} else if err != nil {
		return res.abort(log, FailConfig, err)
	}
	res.EntryPath = path
	if budgetExceeded {
		res.State = StateAborted
		res.Fail = FailBudget
		log.Warn("budget exhausted, entry written with fallbacks", "path", path)
		return res
	}

	// Summary failures never abort the run; the entry is already on disk.
	res.advance(log, StateTriggeringSummary)
	written, err := (&summary.Runner{Root: journalRoot, Service: svc, Now: opts.Now}).Run(ctx)
	res.Summaries = written
	if err != nil {
		log.WarnContext(ctx, "summary backfill incomplete", "written", len(written), "error", err)
	}

	res.advance(log, StateDone)
	if res.AllFallback {
		res.Fail = FailFallback
	}
	log.InfoContext(ctx, "run complete",
		"path", res.EntryPath,
		"all_fallback", res.AllFallback,
		"summaries", len(res.Summaries),
		res.Usage.Attr())
	return res
}

func (r *Result) advance(log *slog.Logger, s State) {
	log.Debug("state transition", "from", string(r.State), "to", string(s))
	r.State = s
}

func (r *Result) abort(log *slog.Logger, kind FailKind, err error) *Result {
	r.State = StateAborted
	r.Fail = kind
	r.Err = err
	log.Error("run aborted", "state", string(StateAborted), "error", err)
	return r
}

// buildService assembles the provider behind a circuit breaker, or nil
// when AI is disabled.
func buildService(cfg *config.Config) llm.Service {
	if !cfg.AIEnabled() {
		return nil
	}
	return llm.NewBreaker(&oai.Service{
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.Timeout(),
	}, llm.BreakerConfig{})
}

// sanitizeChat scrubs credentials from messages before they reach any
// prompt or journal output.
func sanitizeChat(w *chatdb.Window) {
	for i := range w.Messages {
		w.Messages[i].Text = sanitize.Text(w.Messages[i].Text)
	}
}

// sanitizeCommit scrubs the commit message and diff text, both of which
// feed prompts and rendered sections.
func sanitizeCommit(c *gitctx.Commit) {
	c.Message = sanitize.Text(c.Message)
	for path, diff := range c.Diffs {
		c.Diffs[path] = sanitize.Text(diff)
	}
}

// allFallback reports whether no narrative section got model content.
// Commit Details is deterministic and does not count either way.
func allFallback(e *journal.Entry) bool {
	for _, s := range e.Sections {
		if s.Name == journal.SectionCommitDetails {
			continue
		}
		if s.Status == journal.StatusOK {
			return false
		}
	}
	return true
}
