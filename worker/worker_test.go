package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"commitstory.dev/config"
	"commitstory.dev/journal"
	"commitstory.dev/llm"
)

func runGitT(t *testing.T, dir string, args ...string) {
	t.Helper()
	if len(args) > 0 && args[0] == "commit" {
		newArgs := append([]string{"commit", "--no-verify"}, args[1:]...)
		args = newArgs
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.com",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, output)
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGitT(t, dir, "init")
	runGitT(t, dir, "config", "user.email", "test@test.com")
	runGitT(t, dir, "config", "user.name", "Test")
	return dir
}

func commitFile(t *testing.T, dir, name, content, message string) string {
	t.Helper()
	full := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	runGitT(t, dir, "add", ".")
	runGitT(t, dir, "commit", "-m", message)
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(out))
}

// writeChatDB builds a minimal Cursor workspace database with one
// session whose messages sit just before now.
func writeChatDB(t *testing.T, path string, texts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE cursorDiskKV (key TEXT PRIMARY KEY, value BLOB)`); err != nil {
		t.Fatal(err)
	}
	base := time.Now().Add(-10 * time.Minute).UnixMilli()
	for i, text := range texts {
		typ := 1
		if i%2 == 1 {
			typ = 2
		}
		value, _ := json.Marshal(map[string]any{"type": typ, "text": text, "createdAt": base + int64(i)*60_000})
		key := fmt.Sprintf("bubbleId:comp-1:b%d", i)
		if _, err := db.Exec(`INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`, key, value); err != nil {
			t.Fatal(err)
		}
	}
	meta, _ := json.Marshal(map[string]any{
		"composerId":    "comp-1",
		"createdAt":     base,
		"lastUpdatedAt": base + int64(len(texts))*60_000,
	})
	if _, err := db.Exec(`INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`, "composerData:comp-1", meta); err != nil {
		t.Fatal(err)
	}
}

func readEntry(t *testing.T, repo string) string {
	t.Helper()
	dir := filepath.Join(repo, "journal", "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("no journal written: %v", err)
	}
	var latest string
	for _, e := range entries {
		if _, ok := journal.DateOfDailyFile(e.Name()); ok {
			latest = e.Name()
		}
	}
	if latest == "" {
		t.Fatal("no daily journal file")
	}
	data, err := os.ReadFile(filepath.Join(dir, latest))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRunFirstCommitNoChatNoAI(t *testing.T) {
	repo := initRepo(t)
	hash := commitFile(t, repo, "README.md", "hello\n", "initial commit")

	res := Run(context.Background(), Options{Dir: repo, Hash: hash, ChatDBs: []string{}})
	if res.Err != nil {
		t.Fatalf("run aborted: %v", res.Err)
	}
	if res.State != StateDone {
		t.Errorf("state = %s", res.State)
	}
	if res.ExitCode() != 0 {
		t.Errorf("exit = %d, want 0 with AI disabled", res.ExitCode())
	}

	text := readEntry(t, repo)
	if !strings.Contains(text, "— Commit "+hash[:7]) {
		t.Errorf("entry header missing:\n%s", text)
	}
	if !strings.Contains(text, "#### Summary") || !strings.Contains(text, "initial commit") {
		t.Errorf("fallback summary missing:\n%s", text)
	}
	if !strings.Contains(text, "#### Commit Details") {
		t.Errorf("commit details missing:\n%s", text)
	}
}

func TestRunWithChatAndModel(t *testing.T) {
	repo := initRepo(t)
	hash := commitFile(t, repo, "uploader.go", "package main\n", "add uploader")

	dbPath := filepath.Join(t.TempDir(), "state.vscdb")
	writeChatDB(t, dbPath,
		"why does the upload flake?",
		"the server drops idle connections, add a retry because reconnects are cheap",
	)

	svc := &llm.PredictableService{CannedText: "Reworked the uploader after diagnosing dropped connections."}
	res := Run(context.Background(), Options{Dir: repo, Hash: hash, ChatDBs: []string{dbPath}, Service: svc})
	if res.Err != nil {
		t.Fatalf("run aborted: %v", res.Err)
	}
	if res.AllFallback {
		t.Error("model content produced, must not be all-fallback")
	}
	if res.Usage.OutputTokens == 0 {
		t.Error("usage not aggregated")
	}

	text := readEntry(t, repo)
	if !strings.Contains(text, "Reworked the uploader") {
		t.Errorf("model summary missing:\n%s", text)
	}
}

func TestRunSanitizesChatBeforePrompting(t *testing.T) {
	repo := initRepo(t)
	hash := commitFile(t, repo, "main.go", "package main\n", "wire the client\n\nTOTALLY_REAL_TOKEN=abcdef0123456789abcdef0123456789 was rotated")

	dbPath := filepath.Join(t.TempDir(), "state.vscdb")
	writeChatDB(t, dbPath,
		"use OPENAI_API_KEY=sk-abcdefghij1234567890abcd for the client",
		"done, reading it from the environment now",
	)

	svc := &llm.PredictableService{CannedText: "Wired the client."}
	res := Run(context.Background(), Options{Dir: repo, Hash: hash, ChatDBs: []string{dbPath}, Service: svc})
	if res.Err != nil {
		t.Fatalf("run aborted: %v", res.Err)
	}
	for _, req := range svc.Requests() {
		if strings.Contains(req.Prompt, "sk-abcdefghij") {
			t.Fatal("raw chat credential reached a prompt")
		}
		if strings.Contains(req.Prompt, "abcdef0123456789abcdef0123456789") {
			t.Fatal("raw commit-message credential reached a prompt")
		}
	}
	text := readEntry(t, repo)
	if strings.Contains(text, "sk-abcdefghij") || strings.Contains(text, "abcdef0123456789abcdef0123456789") {
		t.Error("raw credential reached the journal")
	}
}

func TestRunDuplicateCommit(t *testing.T) {
	repo := initRepo(t)
	hash := commitFile(t, repo, "README.md", "hello\n", "initial commit")

	first := Run(context.Background(), Options{Dir: repo, Hash: hash, ChatDBs: []string{}})
	if first.Err != nil {
		t.Fatal(first.Err)
	}
	before := readEntry(t, repo)

	second := Run(context.Background(), Options{Dir: repo, Hash: hash, ChatDBs: []string{}})
	if second.Err != nil {
		t.Fatal(second.Err)
	}
	if !second.Duplicate {
		t.Error("second run did not detect the existing entry")
	}
	if after := readEntry(t, repo); before != after {
		t.Error("re-run modified the journal file")
	}
}

func TestRunModelFailureAllFallback(t *testing.T) {
	repo := initRepo(t)
	hash := commitFile(t, repo, "README.md", "hello\n", "initial commit")

	res := Run(context.Background(), Options{
		Dir: repo, Hash: hash, ChatDBs: []string{},
		Service: failingService{},
	})
	if res.Err != nil {
		t.Fatalf("model failure must not abort the run: %v", res.Err)
	}
	if !res.AllFallback {
		t.Error("expected all-fallback result")
	}
	if res.ExitCode() != 4 {
		t.Errorf("exit = %d, want 4", res.ExitCode())
	}
	text := readEntry(t, repo)
	if !strings.Contains(text, "initial commit") {
		t.Errorf("fallback entry missing:\n%s", text)
	}
}

func TestRunBackfillsSummaryOnRollover(t *testing.T) {
	repo := initRepo(t)
	hash := commitFile(t, repo, "README.md", "hello\n", "initial commit")

	// A journal day that predates today and has no summary yet.
	old := "### 9:15 AM — Commit aaa1111\n\n#### Summary\n\nOld work.\n"
	dir := filepath.Join(repo, "journal", "daily")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	oldDate := time.Now().AddDate(0, 0, -2)
	name := oldDate.Format(journal.DateFormat) + "-journal.md"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(old), 0o644); err != nil {
		t.Fatal(err)
	}

	res := Run(context.Background(), Options{Dir: repo, Hash: hash, ChatDBs: []string{}})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if len(res.Summaries) == 0 {
		t.Fatal("no summary backfilled")
	}
	data, err := os.ReadFile(journal.SummaryPath(filepath.Join(repo, "journal"), oldDate))
	if err != nil {
		t.Fatalf("summary file missing: %v", err)
	}
	if !strings.Contains(string(data), "Commit aaa1111") {
		t.Errorf("summary content:\n%s", data)
	}
}

func TestRunNotARepo(t *testing.T) {
	res := Run(context.Background(), Options{Dir: t.TempDir(), ChatDBs: []string{}})
	if res.State != StateAborted || res.Fail != FailRepo {
		t.Fatalf("state = %s fail = %d, want aborted repo failure", res.State, res.Fail)
	}
	if res.ExitCode() != 2 {
		t.Errorf("exit = %d, want 2", res.ExitCode())
	}
}

func TestRunJournalPathEscapes(t *testing.T) {
	repo := initRepo(t)
	commitFile(t, repo, "README.md", "hello\n", "initial commit")

	cfg := config.Default()
	cfg.Journal.Path = "../outside"
	res := Run(context.Background(), Options{Dir: repo, Config: cfg, ChatDBs: []string{}})
	if res.Fail != FailConfig {
		t.Fatalf("fail = %d, want config failure", res.Fail)
	}
	if res.ExitCode() != 1 {
		t.Errorf("exit = %d, want 1", res.ExitCode())
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		fail FailKind
		want int
	}{
		{FailNone, 0},
		{FailConfig, 1},
		{FailRepo, 2},
		{FailBudget, 3},
		{FailFallback, 4},
	}
	for _, tt := range tests {
		r := &Result{Fail: tt.fail}
		if got := r.ExitCode(); got != tt.want {
			t.Errorf("ExitCode(%d) = %d, want %d", tt.fail, got, tt.want)
		}
	}
}

type failingService struct{}

func (failingService) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return nil, llm.Errf(llm.ErrKindTransient, "provider down")
}
