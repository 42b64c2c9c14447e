package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func runGitT(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.com",
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, output)
	}
}

func TestRunSyncNotARepo(t *testing.T) {
	if got := run([]string{"-sync", "-repo", t.TempDir()}); got != 2 {
		t.Errorf("exit = %d, want 2 for a non-repository", got)
	}
}

func TestRunHookModeNeverFails(t *testing.T) {
	// Hook mode with background disabled runs inline and still exits 0,
	// even against a directory that is not a repository.
	dir := t.TempDir()
	cfgYAML := "journal:\n  background: false\n"
	if err := os.WriteFile(filepath.Join(dir, ".mcp-commit-storyrc.yaml"), []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := run([]string{"-repo", dir}); got != 0 {
		t.Errorf("exit = %d, hook mode must always exit 0", got)
	}
}

func TestRunSyncWritesEntry(t *testing.T) {
	dir := t.TempDir()
	runGitT(t, dir, "init")
	runGitT(t, dir, "config", "user.email", "test@test.com")
	runGitT(t, dir, "config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGitT(t, dir, "add", ".")
	runGitT(t, dir, "commit", "--no-verify", "-m", "initial commit")

	// No API key configured: fallback-only entry, exit 0.
	if got := run([]string{"-sync", "-repo", dir}); got != 0 {
		t.Errorf("exit = %d, want 0", got)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "journal", "daily"))
	if err != nil || len(entries) == 0 {
		t.Fatalf("no journal written: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "journal", "daily", entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "initial commit") {
		t.Errorf("entry content:\n%s", data)
	}
}

func TestBoolExit(t *testing.T) {
	if boolExit(true, 3) != 3 {
		t.Error("sync mode must propagate the code")
	}
	if boolExit(false, 3) != 0 {
		t.Error("hook mode must swallow the code")
	}
}
