package generate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"commitstory.dev/chatdb"
	"commitstory.dev/llm"
)

// boundaryTimeout bounds the single boundary-filter call.
const boundaryTimeout = 20 * time.Second

const boundarySystem = "You locate the portion of a chat transcript that corresponds to one specific commit. Respond only with a JSON object."

const boundaryPrompt = `Below is a git commit and a chat transcript. Each transcript line is prefixed with its bubble id in brackets. The transcript may cover work beyond this commit: earlier sessions, unrelated tangents, or work that landed in later commits.

Identify the contiguous span of the transcript that corresponds to THIS commit's work.

Return a JSON object:
- first_bubble_id: bubble id of the first relevant message
- last_bubble_id: bubble id of the last relevant message
- confidence: 1-10, how certain you are of these boundaries

If the whole transcript is about this commit, use the first and last bubble ids. Never invent bubble ids that are not in the transcript.

%s

Transcript:
%s`

type boundaryResult struct {
	FirstBubbleID string `json:"first_bubble_id"`
	LastBubbleID  string `json:"last_bubble_id"`
	Confidence    int    `json:"confidence"`
}

// FilterBoundary trims the chat window to the span the model attributes
// to this commit. It never fails: on model error, unparseable output,
// low confidence, or bubble ids absent from the window, the original
// window is returned unchanged. Mid confidence trims but marks the
// window ambiguous.
func FilterBoundary(ctx context.Context, svc llm.Service, in *Input) *chatdb.Window {
	chat := in.Chat
	if svc == nil || chat.Empty() || len(chat.Messages) < 2 {
		return chat
	}

	ctx, cancel := context.WithTimeout(ctx, boundaryTimeout)
	defer cancel()

	commitText := commitContext(in.Commit)
	if in.Previous != "" {
		commitText += "\nTail of the previous journal entry (work before this commit):\n" + in.Previous + "\n"
	}
	resp, err := svc.Complete(ctx, &llm.Request{
		System: boundarySystem,
		Prompt: fmt.Sprintf(boundaryPrompt, commitText, formatTranscriptWithIDs(chat)),
	})
	if err != nil {
		slog.WarnContext(ctx, "boundary filter failed, keeping full window", "error", err)
		return chat
	}

	var res boundaryResult
	if !parseJSON(resp.Text, &res) {
		slog.WarnContext(ctx, "boundary filter returned unparseable output, keeping full window")
		return chat
	}
	if res.Confidence < 5 {
		slog.InfoContext(ctx, "boundary filter low confidence, keeping full window", "confidence", res.Confidence)
		return chat
	}

	first := chat.ByBubbleID(res.FirstBubbleID)
	last := chat.ByBubbleID(res.LastBubbleID)
	if first == -1 || last == -1 || first > last {
		slog.WarnContext(ctx, "boundary filter named unknown bubble ids, keeping full window",
			"first", res.FirstBubbleID, "last", res.LastBubbleID)
		return chat
	}

	trimmed := chat.Trim(first, last)
	if res.Confidence < 8 {
		trimmed.Quality.Ambiguous = true
	}
	slog.DebugContext(ctx, "boundary filter trimmed window",
		"before", len(chat.Messages), "after", len(trimmed.Messages), "confidence", res.Confidence)
	return trimmed
}
