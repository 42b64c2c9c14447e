// Package gitctx collects commit metadata, file stats, and bounded diffs
// from a git repository.
package gitctx

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EmptyTreeHash is git's canonical empty tree, used to diff the initial
// commit (which has no parent).
const EmptyTreeHash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

const (
	// DefaultPerFileDiffCap bounds a single file's diff text.
	DefaultPerFileDiffCap = 10 * 1024
	// DefaultTotalDiffCap bounds the sum of all collected diffs.
	DefaultTotalDiffCap = 200 * 1024
	// TruncatedMarker is appended to any diff cut at a cap.
	TruncatedMarker = "\n[TRUNCATED]"
)

// FileChange describes one changed file in a commit.
type FileChange struct {
	Path      string
	Additions int
	Deletions int
	// Type is an extension heuristic: source, tests, config, docs, build, other.
	Type string
	// Binary is true when git reports no line stats for the file.
	Binary bool
}

// Commit is an immutable snapshot of one commit's context.
type Commit struct {
	Hash       string
	Author     string
	Timestamp  time.Time // UTC
	Message    string
	Files      []FileChange
	Diffs      map[string]string // path -> bounded diff text
	ParentHash string            // empty for the initial commit
}

// ShortHash returns the 7-character abbreviated hash.
func (c *Commit) ShortHash() string {
	if len(c.Hash) < 7 {
		return c.Hash
	}
	return c.Hash[:7]
}

// Window is the commit time interval used to correlate chat to code.
type Window struct {
	Start time.Time // previous commit time (or Start = End - 24h for the initial commit)
	End   time.Time // this commit's time
}

// Options tunes collection.
type Options struct {
	PerFileDiffCap  int
	TotalDiffCap    int
	ExcludePatterns []string
}

func (o Options) perFileCap() int {
	if o.PerFileDiffCap > 0 {
		return o.PerFileDiffCap
	}
	return DefaultPerFileDiffCap
}

func (o Options) totalCap() int {
	if o.TotalDiffCap > 0 {
		return o.TotalDiffCap
	}
	return DefaultTotalDiffCap
}

// Collect builds a Commit for hash in the repository at repoRoot.
func Collect(ctx context.Context, repoRoot, hash string, opts Options) (*Commit, error) {
	if !validHash(hash) {
		return nil, fmt.Errorf("gitctx: malformed commit hash %q", hash)
	}

	meta, err := runGit(ctx, repoRoot, "show", "-s", "--format=%H%x00%an <%ae>%x00%ct%x00%B", hash)
	if err != nil {
		return nil, fmt.Errorf("gitctx: read commit %s: %w", hash, err)
	}
	parts := strings.SplitN(strings.TrimRight(meta, "\n"), "\x00", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("gitctx: unexpected show output for %s", hash)
	}
	epoch, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("gitctx: parse commit time: %w", err)
	}

	c := &Commit{
		Hash:      parts[0],
		Author:    parts[1],
		Timestamp: time.Unix(epoch, 0).UTC(),
		Message:   strings.TrimSpace(parts[3]),
		Diffs:     map[string]string{},
	}
	if c.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		slog.Warn("commit timestamp is in the future", "hash", c.ShortHash(), "timestamp", c.Timestamp)
	}

	base := EmptyTreeHash
	if parent, err := runGit(ctx, repoRoot, "rev-parse", "--verify", "--quiet", hash+"^"); err == nil {
		c.ParentHash = strings.TrimSpace(parent)
		base = c.ParentHash
	}

	if err := collectStats(ctx, repoRoot, base, c, opts); err != nil {
		return nil, err
	}
	collectDiffs(ctx, repoRoot, base, c, opts)
	return c, nil
}

// CommitWindow returns the [previous commit, this commit] interval.
// The initial commit gets a 24 hour window ending at its own timestamp.
func CommitWindow(ctx context.Context, repoRoot string, c *Commit) (Window, error) {
	if c.ParentHash == "" {
		return Window{Start: c.Timestamp.Add(-24 * time.Hour), End: c.Timestamp}, nil
	}
	out, err := runGit(ctx, repoRoot, "show", "-s", "--format=%ct", c.ParentHash)
	if err != nil {
		return Window{}, fmt.Errorf("gitctx: parent time: %w", err)
	}
	epoch, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return Window{}, fmt.Errorf("gitctx: parse parent time: %w", err)
	}
	return Window{Start: time.Unix(epoch, 0).UTC(), End: c.Timestamp}, nil
}

func collectStats(ctx context.Context, repoRoot, base string, c *Commit, opts Options) error {
	out, err := runGit(ctx, repoRoot, "diff", "--numstat", base, c.Hash)
	if err != nil {
		return fmt.Errorf("gitctx: numstat: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		path := fields[2]
		if excluded(path, opts.ExcludePatterns) {
			continue
		}
		fc := FileChange{Path: path, Type: classify(path)}
		if fields[0] == "-" || fields[1] == "-" {
			fc.Binary = true
		} else {
			fc.Additions, _ = strconv.Atoi(fields[0])
			fc.Deletions, _ = strconv.Atoi(fields[1])
		}
		c.Files = append(c.Files, fc)
	}
	return nil
}

// collectDiffs gathers per-file diffs under the byte caps. Failures here
// degrade to an entry without diff text rather than failing collection.
func collectDiffs(ctx context.Context, repoRoot, base string, c *Commit, opts Options) {
	total := 0
	for _, fc := range c.Files {
		if fc.Binary {
			continue
		}
		if total >= opts.totalCap() {
			break
		}
		out, err := runGit(ctx, repoRoot, "diff", base, c.Hash, "--", fc.Path)
		if err != nil {
			slog.Warn("diff collection failed", "path", fc.Path, "error", err)
			continue
		}
		if out == "" {
			continue
		}
		capped := false
		if len(out) > opts.perFileCap() {
			out = out[:opts.perFileCap()]
			capped = true
		}
		if total+len(out) > opts.totalCap() {
			out = out[:opts.totalCap()-total]
			capped = true
		}
		if capped {
			out += TruncatedMarker
		}
		c.Diffs[fc.Path] = out
		total += len(out)
	}
}

// RepoRoot resolves the top-level worktree directory for dir.
func RepoRoot(ctx context.Context, dir string) (string, error) {
	out, err := runGit(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("gitctx: not a git repository: %s", dir)
	}
	return strings.TrimSpace(out), nil
}

// Head returns the current HEAD commit hash.
func Head(ctx context.Context, repoRoot string) (string, error) {
	out, err := runGit(ctx, repoRoot, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitctx: resolve HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func validHash(h string) bool {
	if len(h) < 7 || len(h) > 40 {
		return false
	}
	for _, r := range h {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// excluded reports whether path matches any exclude pattern. Patterns
// ending in "/**" match the whole subtree.
func excluded(path string, patterns []string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "/**"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

var sourceExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".rs": true, ".java": true, ".c": true, ".h": true, ".cpp": true, ".rb": true,
	".sh": true, ".sql": true, ".swift": true, ".kt": true,
}

var configExts = map[string]bool{
	".yaml": true, ".yml": true, ".toml": true, ".json": true, ".ini": true, ".env": true,
}

var docExts = map[string]bool{
	".md": true, ".rst": true, ".txt": true, ".adoc": true,
}

func classify(path string) string {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	switch {
	case strings.HasSuffix(base, "_test.go"), strings.HasPrefix(base, "test_"),
		strings.Contains(path, "/tests/"), strings.Contains(path, "/test/"):
		return "tests"
	case base == "Makefile", base == "Dockerfile", base == "go.mod", base == "go.sum",
		base == "package.json", base == "requirements.txt", base == "pyproject.toml":
		return "build"
	case sourceExts[ext]:
		return "source"
	case configExts[ext]:
		return "config"
	case docExts[ext]:
		return "docs"
	default:
		return "other"
	}
}
