// Package chatdb extracts AI chat history from local editor SQLite
// databases and reconstructs chronological conversation windows bounded
// by commit timestamps.
package chatdb

import "time"

// Speaker identifies who produced a chat message.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Message is one extracted chat message. Empty-text messages are never
// constructed; tool-output-only and thinking-only records are skipped
// at extraction.
type Message struct {
	Speaker    Speaker
	Text       string
	Timestamp  int64 // ms since epoch
	ComposerID string
	BubbleID   string

	// originalIndex is the record's position within its source database,
	// used as a sort tie-break. dbPath is the final tie-break when two
	// databases report identical triples.
	originalIndex int
	dbPath        string
}

// Session groups messages belonging to one composer.
type Session struct {
	ComposerID    string
	CreatedAt     int64 // ms
	LastUpdatedAt int64 // ms
	Messages      []Message
}

// Overlaps reports whether the session intersects the window
// [start, end]: lastUpdatedAt > start AND createdAt < end.
func (s *Session) Overlaps(start, end time.Time) bool {
	return s.LastUpdatedAt > start.UnixMilli() && s.CreatedAt < end.UnixMilli()
}

// StatusReason classifies a per-database failure.
type StatusReason string

const (
	StatusOK         StatusReason = "ok"
	StatusOpenError  StatusReason = "open_error"
	StatusQueryError StatusReason = "query_error"
	StatusParseError StatusReason = "parse_error"
	StatusTimeout    StatusReason = "timeout"
	StatusPermission StatusReason = "permission"
)

// DBStatus records the outcome of reading one database.
type DBStatus struct {
	Path     string
	Reason   StatusReason
	Err      error
	Messages int
}

// Quality describes how complete and trustworthy a chat window is.
type Quality struct {
	DatabasesScanned int
	DatabasesFailed  []DBStatus
	MessagesTotal    int
	MessagesAfter    int
	SessionCount     int
	Confidence       float64 // 0..1
	Ambiguous        bool    // set by the boundary filter on mid confidence
}

// Window is the merged, chronologically sorted message sequence from all
// sessions overlapping a commit window.
type Window struct {
	Messages []Message
	Quality  Quality
}

// Empty reports whether the window carries no messages.
func (w *Window) Empty() bool {
	return w == nil || len(w.Messages) == 0
}

// ByBubbleID returns the index of the message with the given bubbleId,
// or -1 when absent.
func (w *Window) ByBubbleID(id string) int {
	for i := range w.Messages {
		if w.Messages[i].BubbleID == id {
			return i
		}
	}
	return -1
}
