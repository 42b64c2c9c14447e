package chatdb

import (
	"sort"
	"time"
)

// Reconstruct groups raw messages into sessions, selects the sessions
// overlapping [start, end], and merges their messages into a single
// chronologically ordered window.
//
// The sort key is (timestamp, composerId, originalIndex, dbPath); for any
// two identical inputs the output ordering is byte-identical. dbPath is
// the stable final tie-break for records duplicated across databases.
func Reconstruct(raw *RawRead, start, end time.Time, maxPerSpeaker int) *Window {
	w := &Window{}
	w.Quality.DatabasesScanned = len(raw.Statuses)
	for _, st := range raw.Statuses {
		if st.Reason != StatusOK {
			w.Quality.DatabasesFailed = append(w.Quality.DatabasesFailed, st)
		}
	}
	w.Quality.MessagesTotal = len(raw.Messages)

	sessions := groupSessions(raw)
	var merged []Message
	for _, s := range sessions {
		if s.Overlaps(start, end) {
			w.Quality.SessionCount++
			merged = append(merged, s.Messages...)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.ComposerID != b.ComposerID {
			return a.ComposerID < b.ComposerID
		}
		if a.originalIndex != b.originalIndex {
			return a.originalIndex < b.originalIndex
		}
		return a.dbPath < b.dbPath
	})

	w.Messages = capPerSpeaker(merged, maxPerSpeaker)
	w.Quality.MessagesAfter = len(w.Messages)
	w.Quality.Confidence = confidence(w)
	return w
}

// groupSessions builds sessions keyed by composerId, preferring stored
// composer metadata and falling back to message timestamp bounds.
func groupSessions(raw *RawRead) []Session {
	byComposer := map[string]*Session{}
	var order []string
	for _, m := range raw.Messages {
		s, ok := byComposer[m.ComposerID]
		if !ok {
			s = &Session{ComposerID: m.ComposerID}
			if meta, ok := raw.Sessions[m.ComposerID]; ok {
				s.CreatedAt = meta.CreatedAt
				s.LastUpdatedAt = meta.LastUpdatedAt
			}
			byComposer[m.ComposerID] = s
			order = append(order, m.ComposerID)
		}
		s.Messages = append(s.Messages, m)
		if s.CreatedAt == 0 || (m.Timestamp > 0 && m.Timestamp < s.CreatedAt) {
			s.CreatedAt = m.Timestamp
		}
		if m.Timestamp > s.LastUpdatedAt {
			s.LastUpdatedAt = m.Timestamp
		}
	}
	sort.Strings(order)
	out := make([]Session, 0, len(order))
	for _, id := range order {
		out = append(out, *byComposer[id])
	}
	return out
}

// capPerSpeaker drops the oldest messages of each speaker beyond the cap.
func capPerSpeaker(msgs []Message, max int) []Message {
	if max <= 0 {
		return msgs
	}
	counts := map[Speaker]int{}
	for _, m := range msgs {
		counts[m.Speaker]++
	}
	drop := map[Speaker]int{}
	for sp, n := range counts {
		if n > max {
			drop[sp] = n - max
		}
	}
	if len(drop) == 0 {
		return msgs
	}
	out := msgs[:0:0]
	for _, m := range msgs {
		if drop[m.Speaker] > 0 {
			drop[m.Speaker]--
			continue
		}
		out = append(out, m)
	}
	return out
}

func confidence(w *Window) float64 {
	if len(w.Messages) == 0 {
		return 0
	}
	c := 1.0
	if w.Quality.SessionCount > 1 {
		c = 0.9
	}
	c -= 0.1 * float64(len(w.Quality.DatabasesFailed))
	if c < 0.1 {
		c = 0.1
	}
	return c
}

// Trim returns a copy of the window restricted to the inclusive message
// index range [first, last].
func (w *Window) Trim(first, last int) *Window {
	if first < 0 || last >= len(w.Messages) || first > last {
		return w
	}
	trimmed := &Window{Quality: w.Quality}
	trimmed.Messages = append([]Message(nil), w.Messages[first:last+1]...)
	trimmed.Quality.MessagesAfter = len(trimmed.Messages)
	return trimmed
}
