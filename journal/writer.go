package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Separator divides entries within one daily file.
const Separator = "---"

// ErrDuplicateEntry is returned when the day's file already holds an
// entry for the commit.
var ErrDuplicateEntry = errors.New("journal: entry for commit already present")

// AppendEntry renders the entry and appends it to the day's journal
// file, creating the file and its directory on demand. The write is
// atomic (temp file + rename) so a crash or a racing second worker never
// leaves a partial entry. Re-appending the same commit returns
// ErrDuplicateEntry without modifying the file.
func AppendEntry(root string, e *Entry) (string, error) {
	path := DailyPath(root, e.Timestamp)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("journal: read %s: %w", path, err)
	}
	if HasEntryForCommit(string(existing), e.ShortHash()) {
		return path, ErrDuplicateEntry
	}

	rendered := e.Render()
	var content []byte
	if len(existing) == 0 {
		content = []byte(rendered)
	} else {
		content = append(existing, []byte("\n"+Separator+"\n\n"+rendered)...)
	}
	if err := WriteFileAtomic(path, content); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFileAtomic writes data to path via a uniquely named temp file in
// the same directory followed by a rename. The directory is created on
// demand, never up front.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("journal: create dir %s: %w", dir, err)
	}
	// The uuid suffix keeps two racing workers off the same temp file.
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("journal: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("journal: rename: %w", err)
	}
	return nil
}
