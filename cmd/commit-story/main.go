// Command commit-story is the post-commit entry point. The git hook
// invokes it with no flags; it loads configuration, re-executes itself
// detached so the commit returns immediately, and always exits 0 so a
// journal failure can never fail a commit. With -sync it runs in the
// foreground and reports the real exit code, for debugging and for the
// detached child itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"commitstory.dev/config"
	"commitstory.dev/worker"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("commit-story", flag.ContinueOnError)
	repo := fs.String("repo", "", "repository directory (default: current directory)")
	hash := fs.String("hash", "", "commit to journal (default: HEAD)")
	sync := fs.Bool("sync", false, "run in the foreground and exit nonzero on failure")
	logPath := fs.String("log", "", "append logs to this file instead of stderr")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "commit-story: open log: %v\n", err)
			return boolExit(*sync, 1)
		}
		defer f.Close()
		os.Stderr = f
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	// Log files get JSON for later grepping; interactive runs get text.
	var handler slog.Handler
	if *logPath != "" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))

	dir := *repo
	if dir == "" {
		dir, _ = os.Getwd()
	}
	cfg, err := config.Load(config.Discover(dir))
	if err != nil {
		slog.Error("config load failed", "error", err)
		return boolExit(*sync, 1)
	}

	if !*sync && cfg.BackgroundEnabled() {
		if err := detach(dir, *hash, *logPath, *verbose); err != nil {
			slog.Error("background detach failed, running inline", "error", err)
			worker.Run(context.Background(), worker.Options{Dir: dir, Hash: *hash, Config: cfg})
		}
		return 0
	}

	res := worker.Run(context.Background(), worker.Options{Dir: dir, Hash: *hash, Config: cfg})
	if *sync {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "commit-story: %v\n", res.Err)
		} else {
			fmt.Printf("journal entry: %s\n", res.EntryPath)
			for _, s := range res.Summaries {
				fmt.Printf("daily summary: %s\n", s)
			}
		}
		return res.ExitCode()
	}
	return 0
}

// detach re-executes the binary in -sync mode with no controlling
// terminal, so the git hook returns immediately.
func detach(dir, hash, logPath string, verbose bool) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	if logPath == "" {
		logPath = filepath.Join(os.TempDir(), "commit-story.log")
	}
	args := []string{"-sync", "-repo", dir, "-log", logPath}
	if hash != "" {
		args = append(args, "-hash", hash)
	}
	if verbose {
		args = append(args, "-v")
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func boolExit(sync bool, code int) int {
	if sync {
		return code
	}
	return 0
}
