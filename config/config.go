// Package config loads the .mcp-commit-storyrc.yaml configuration file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file discovered by walking up from the CWD.
const FileName = ".mcp-commit-storyrc.yaml"

type Config struct {
	Journal JournalConfig `yaml:"journal"`
	AI      AIConfig      `yaml:"ai"`
	Chat    ChatConfig    `yaml:"chat"`
	Git     GitConfig     `yaml:"git"`
}

type JournalConfig struct {
	// Path is the journal root, relative to the repo root.
	Path string `yaml:"path"`
	// Background detaches the worker from the git hook.
	Background *bool `yaml:"background"`
}

type AIConfig struct {
	Provider           string `yaml:"provider"`
	Model              string `yaml:"model"`
	APIKey             string `yaml:"api_key"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	TotalBudgetSeconds int    `yaml:"total_budget_seconds"`
}

type ChatConfig struct {
	// LookbackHours filters chat databases by mtime. 0 disables the filter.
	LookbackHours *int `yaml:"lookback_hours"`
	// MaxMessages caps messages per speaker in a chat window.
	MaxMessages int `yaml:"max_messages"`
}

type GitConfig struct {
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	bg := true
	lookback := 48
	return &Config{
		Journal: JournalConfig{Path: "journal/", Background: &bg},
		AI: AIConfig{
			Provider:           "openai",
			TimeoutSeconds:     30,
			TotalBudgetSeconds: 180,
		},
		Chat: ChatConfig{LookbackHours: &lookback, MaxMessages: 200},
		Git:  GitConfig{ExcludePatterns: []string{"journal/**", FileName}},
	}
}

// Discover walks up from startDir looking for the config file.
// Returns "" when no file exists anywhere up the tree.
func Discover(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Load reads and interpolates the config file at path. An empty path
// returns the defaults. A `.env` file next to the config is loaded first
// so ${VAR} references can resolve against it; existing environment
// variables are never overridden.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env loaded", "error", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.interpolate()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Journal.Path == "" {
		c.Journal.Path = d.Journal.Path
	}
	if c.Journal.Background == nil {
		c.Journal.Background = d.Journal.Background
	}
	if c.AI.Provider == "" {
		c.AI.Provider = d.AI.Provider
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = d.AI.TimeoutSeconds
	}
	if c.AI.TotalBudgetSeconds <= 0 {
		c.AI.TotalBudgetSeconds = d.AI.TotalBudgetSeconds
	}
	if c.Chat.LookbackHours == nil {
		c.Chat.LookbackHours = d.Chat.LookbackHours
	}
	if c.Chat.MaxMessages <= 0 {
		c.Chat.MaxMessages = d.Chat.MaxMessages
	}
	if c.Git.ExcludePatterns == nil {
		c.Git.ExcludePatterns = d.Git.ExcludePatterns
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate resolves ${VAR} references. An unresolvable reference in
// ai.api_key clears the key, which puts the worker in fallback-only mode.
func (c *Config) interpolate() {
	resolve := func(s string) (string, bool) {
		missing := false
		out := envRef.ReplaceAllStringFunc(s, func(m string) string {
			name := envRef.FindStringSubmatch(m)[1]
			if v, ok := os.LookupEnv(name); ok {
				return v
			}
			missing = true
			return ""
		})
		return out, missing
	}

	key, missing := resolve(c.AI.APIKey)
	if missing {
		slog.Warn("config: unresolved env reference in ai.api_key, AI disabled", "raw", c.AI.APIKey)
		key = ""
	}
	c.AI.APIKey = key
	c.AI.Model, _ = resolve(c.AI.Model)
	c.Journal.Path, _ = resolve(c.Journal.Path)
}

// AIEnabled reports whether LLM calls are possible at all.
func (c *Config) AIEnabled() bool {
	return c.AI.APIKey != ""
}

// BackgroundEnabled reports whether the hook should detach the worker.
func (c *Config) BackgroundEnabled() bool {
	return c.Journal.Background == nil || *c.Journal.Background
}

// Lookback returns the database mtime filter window, 0 when disabled.
func (c *Config) Lookback() time.Duration {
	if c.Chat.LookbackHours == nil {
		return 48 * time.Hour
	}
	return time.Duration(*c.Chat.LookbackHours) * time.Hour
}

// Timeout returns the per-LLM-call timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

// TotalBudget returns the worker-wide wall clock budget.
func (c *Config) TotalBudget() time.Duration {
	return time.Duration(c.AI.TotalBudgetSeconds) * time.Second
}

// JournalRoot resolves journal.path against the repo root and rejects
// paths that escape it.
func (c *Config) JournalRoot(repoRoot string) (string, error) {
	p := c.Journal.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(repoRoot, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(repoRoot, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("config: journal.path %q escapes repo root %q", c.Journal.Path, repoRoot)
	}
	return p, nil
}
