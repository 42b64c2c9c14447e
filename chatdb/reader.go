package chatdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

const (
	// maxConcurrentOpens bounds parallel SQLite opens across databases.
	maxConcurrentOpens = 8
	// perDBTimeout bounds one database's open+query+parse.
	perDBTimeout = 5 * time.Second
	// busyTimeoutMS is SQLite's own lock-wait budget.
	busyTimeoutMS = 5000
)

// bubbleKeyPrefix and composerKeyPrefix are the editor's key formats in
// its cursorDiskKV table: "bubbleId:<composerId>:<bubbleId>" for message
// records and "composerData:<composerId>" for session metadata.
const (
	bubbleKeyPrefix   = "bubbleId:"
	composerKeyPrefix = "composerData:"
)

// RawRead is the per-database extraction result before reconstruction.
type RawRead struct {
	Messages []Message
	Sessions map[string]SessionMeta
	Statuses []DBStatus
}

// SessionMeta is composer metadata read from the workspace database.
type SessionMeta struct {
	ComposerID    string
	CreatedAt     int64 // ms
	LastUpdatedAt int64 // ms
}

// Read extracts raw messages and session metadata from every database.
// A single database failure never fails the read; it is recorded in the
// returned statuses and the remaining databases still contribute.
func Read(ctx context.Context, dbPaths []string, windowEnd time.Time) *RawRead {
	out := &RawRead{Sessions: map[string]SessionMeta{}}
	if len(dbPaths) == 0 {
		return out
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentOpens)
	for _, path := range dbPaths {
		path := path
		g.Go(func() error {
			msgs, sessions, status := readOne(ctx, path, windowEnd)
			mu.Lock()
			defer mu.Unlock()
			out.Messages = append(out.Messages, msgs...)
			for id, meta := range sessions {
				// Keep the freshest metadata when a composer appears in
				// several databases.
				if prev, ok := out.Sessions[id]; !ok || meta.LastUpdatedAt > prev.LastUpdatedAt {
					out.Sessions[id] = meta
				}
			}
			out.Statuses = append(out.Statuses, status)
			return nil
		})
	}
	g.Wait()

	sort.Slice(out.Statuses, func(i, j int) bool { return out.Statuses[i].Path < out.Statuses[j].Path })
	return out
}

// readOne opens a single database read-only and extracts its bubbles and
// composer metadata. Messages timestamped after the commit (plus slack)
// cannot belong to it and are dropped here.
func readOne(ctx context.Context, path string, windowEnd time.Time) ([]Message, map[string]SessionMeta, DBStatus) {
	status := DBStatus{Path: path, Reason: StatusOK}
	ctx, cancel := context.WithTimeout(ctx, perDBTimeout)
	defer cancel()

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(%d)", path, busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fail(status, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return fail(status, err)
	}

	cutoff := windowEnd.Add(2 * time.Minute).UnixMilli()

	rows, err := db.QueryContext(ctx,
		`SELECT rowid, key, value FROM cursorDiskKV WHERE key LIKE ? ORDER BY rowid`,
		bubbleKeyPrefix+"%")
	if err != nil {
		status.Reason = StatusQueryError
		status.Err = err
		return nil, nil, classify(status, err)
	}
	defer rows.Close()

	var messages []Message
	index := 0
	parseFailures := 0
	for rows.Next() {
		var rowid int64
		var key string
		var value []byte
		if err := rows.Scan(&rowid, &key, &value); err != nil {
			parseFailures++
			continue
		}
		msg, ok := parseBubble(key, value)
		if !ok {
			continue
		}
		if msg.Timestamp > cutoff {
			continue
		}
		msg.originalIndex = index
		msg.dbPath = path
		messages = append(messages, msg)
		index++
	}
	if err := rows.Err(); err != nil {
		status.Reason = StatusQueryError
		status.Err = err
		return messages, nil, classify(status, err)
	}

	sessions, err := readComposers(ctx, db)
	if err != nil {
		status.Reason = StatusQueryError
		status.Err = err
		return messages, nil, classify(status, err)
	}

	if parseFailures > 0 && len(messages) == 0 {
		status.Reason = StatusParseError
		status.Err = fmt.Errorf("chatdb: %d unparseable records", parseFailures)
	}
	status.Messages = len(messages)
	return messages, sessions, status
}

func readComposers(ctx context.Context, db *sql.DB) (map[string]SessionMeta, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT key, value FROM cursorDiskKV WHERE key LIKE ?`,
		composerKeyPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]SessionMeta{}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		var rec struct {
			ComposerID    string `json:"composerId"`
			CreatedAt     int64  `json:"createdAt"`
			LastUpdatedAt int64  `json:"lastUpdatedAt"`
		}
		if err := json.Unmarshal(value, &rec); err != nil {
			continue
		}
		if rec.ComposerID == "" {
			rec.ComposerID = strings.TrimPrefix(key, composerKeyPrefix)
		}
		out[rec.ComposerID] = SessionMeta{
			ComposerID:    rec.ComposerID,
			CreatedAt:     rec.CreatedAt,
			LastUpdatedAt: rec.LastUpdatedAt,
		}
	}
	return out, rows.Err()
}

// parseBubble converts one cursorDiskKV record to a Message. Records
// carrying only tool output or internal reasoning, or with empty text,
// are skipped to keep conversational flow.
func parseBubble(key string, value []byte) (Message, bool) {
	// key = "bubbleId:<composerId>:<bubbleId>"
	rest := strings.TrimPrefix(key, bubbleKeyPrefix)
	composerID, bubbleID, ok := strings.Cut(rest, ":")
	if !ok || composerID == "" || bubbleID == "" {
		return Message{}, false
	}

	var rec struct {
		Type           int             `json:"type"` // 1=user, 2=assistant
		Text           string          `json:"text"`
		CreatedAt      int64           `json:"createdAt"` // ms
		Thinking       json.RawMessage `json:"thinking,omitempty"`
		ToolFormerData json.RawMessage `json:"toolFormerData,omitempty"`
	}
	if err := json.Unmarshal(value, &rec); err != nil {
		return Message{}, false
	}

	text := strings.TrimSpace(rec.Text)
	if text == "" {
		// Thinking-only and tool-only bubbles carry no conversational text.
		return Message{}, false
	}

	var speaker Speaker
	switch rec.Type {
	case 1:
		speaker = SpeakerUser
	case 2:
		speaker = SpeakerAssistant
	default:
		return Message{}, false
	}

	return Message{
		Speaker:    speaker,
		Text:       text,
		Timestamp:  rec.CreatedAt,
		ComposerID: composerID,
		BubbleID:   bubbleID,
	}, true
}

func fail(status DBStatus, err error) ([]Message, map[string]SessionMeta, DBStatus) {
	status.Reason = StatusOpenError
	status.Err = err
	return nil, nil, classify(status, err)
}

// classify refines a failed status with timeout/permission reasons.
func classify(status DBStatus, err error) DBStatus {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status.Reason = StatusTimeout
	case errors.Is(err, os.ErrPermission):
		status.Reason = StatusPermission
	}
	return status
}
