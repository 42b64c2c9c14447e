package journal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func entryAt(hash string, ts time.Time) *Entry {
	return &Entry{
		CommitHash: hash,
		Timestamp:  ts,
		Sections: []Section{
			{Name: SectionSummary, Content: "Did a thing for " + hash + ".", Status: StatusOK},
		},
	}
}

func TestAppendEntryCreatesFile(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2025, 1, 10, 14, 17, 0, 0, time.UTC)

	path, err := AppendEntry(root, entryAt("abc1234def", ts))
	if err != nil {
		t.Fatal(err)
	}
	if want := DailyPath(root, ts); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "— Commit abc1234") {
		t.Errorf("entry header missing:\n%s", data)
	}
	if strings.Contains(string(data), Separator) {
		t.Errorf("first entry should not carry a separator:\n%s", data)
	}
}

func TestAppendEntrySeparatesEntries(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	if _, err := AppendEntry(root, entryAt("aaaa111bbb", ts)); err != nil {
		t.Fatal(err)
	}
	if _, err := AppendEntry(root, entryAt("cccc222ddd", ts.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(DailyPath(root, ts))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "\n"+Separator+"\n") {
		t.Errorf("separator missing between entries:\n%s", text)
	}
	if !strings.Contains(text, "aaaa111") || !strings.Contains(text, "cccc222") {
		t.Errorf("missing an entry:\n%s", text)
	}
}

func TestAppendEntryDuplicate(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	if _, err := AppendEntry(root, entryAt("abc1234def", ts)); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(DailyPath(root, ts))

	_, err := AppendEntry(root, entryAt("abc1234def", ts.Add(time.Minute)))
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("err = %v, want ErrDuplicateEntry", err)
	}
	after, _ := os.ReadFile(DailyPath(root, ts))
	if string(before) != string(after) {
		t.Error("duplicate append modified the file")
	}
}

func TestWriteFileAtomicLeavesNoTemp(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "daily", "2025-01-10-journal.md")
	if err := WriteFileAtomic(path, []byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	data, _ := os.ReadFile(path)
	if string(data) != "hello\n" {
		t.Errorf("content = %q", data)
	}
}
