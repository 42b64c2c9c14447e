package chatdb

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// DefaultEditor is the editor whose workspace storage is scanned.
const DefaultEditor = "Cursor"

// DiscoverOptions controls database discovery.
type DiscoverOptions struct {
	Editor   string        // defaults to DefaultEditor
	Roots    []string      // overrides platform roots, used in tests
	Lookback time.Duration // skip databases older than this; 0 disables
	Now      func() time.Time
}

// Discover locates candidate state.vscdb files under the platform's
// workspace storage roots, filtered by modification time. Discovery never
// fails: unreadable roots simply contribute no candidates.
func Discover(opts DiscoverOptions) []string {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	roots := opts.Roots
	if roots == nil {
		roots = platformRoots(opts.editor())
	}

	var out []string
	cutoff := time.Time{}
	if opts.Lookback > 0 {
		cutoff = opts.Now().Add(-opts.Lookback)
	}
	for _, root := range roots {
		matches, err := filepath.Glob(filepath.Join(root, "*", "state.vscdb"))
		if err != nil {
			continue
		}
		for _, m := range matches {
			fi, err := os.Stat(m)
			if err != nil {
				continue
			}
			if !cutoff.IsZero() && fi.ModTime().Before(cutoff) {
				continue
			}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func (o DiscoverOptions) editor() string {
	if o.Editor != "" {
		return o.Editor
	}
	return DefaultEditor
}

func platformRoots(editor string) []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var roots []string
	switch runtime.GOOS {
	case "darwin":
		roots = append(roots, filepath.Join(home, "Library", "Application Support", editor, "User", "workspaceStorage"))
	case "windows":
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			roots = append(roots, filepath.Join(appdata, editor, "User", "workspaceStorage"))
		}
	default:
		roots = append(roots, filepath.Join(home, ".config", editor, "User", "workspaceStorage"))
		roots = append(roots, wslRoots(editor)...)
	}
	return roots
}

// wslRoots adds the Windows-side storage when running under WSL.
func wslRoots(editor string) []string {
	data, err := os.ReadFile("/proc/version")
	if err != nil || !strings.Contains(strings.ToLower(string(data)), "microsoft") {
		return nil
	}
	users, err := filepath.Glob("/mnt/c/Users/*")
	if err != nil {
		return nil
	}
	var roots []string
	for _, u := range users {
		base := filepath.Base(u)
		if base == "Public" || base == "Default" || base == "All Users" {
			continue
		}
		roots = append(roots, filepath.Join(u, "AppData", "Roaming", editor, "User", "workspaceStorage"))
	}
	return roots
}
