package llm

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PredictableService is an LLM service that returns predictable responses
// for testing. To add new test patterns, update Complete directly; do not
// wrap or extend this service.
//
// Supported prompt patterns:
//   - "echo: <text>"  returns <text>
//   - "error: <msg>"  fails with a transient error
//   - "auth error"    fails with an auth error
//   - "delay: <sec>"  delays the response
//   - "empty"         returns an empty completion
//
// Anything else returns CannedText (or a stock string when unset).
type PredictableService struct {
	CannedText string

	mu             sync.Mutex
	recentRequests []*Request
}

var _ Service = (*PredictableService)(nil)

func (s *PredictableService) Complete(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	s.recentRequests = append(s.recentRequests, req)
	if len(s.recentRequests) > 20 {
		s.recentRequests = s.recentRequests[len(s.recentRequests)-20:]
	}
	s.mu.Unlock()

	prompt := strings.TrimSpace(req.Prompt)
	switch {
	case prompt == "empty":
		return s.makeResponse("", req), nil
	case prompt == "auth error":
		return nil, Errf(ErrKindAuth, "predictable auth failure")
	case strings.HasPrefix(prompt, "echo: "):
		return s.makeResponse(strings.TrimPrefix(prompt, "echo: "), req), nil
	case strings.HasPrefix(prompt, "error: "):
		return nil, Errf(ErrKindTransient, "predictable error: %s", strings.TrimPrefix(prompt, "error: "))
	case strings.HasPrefix(prompt, "delay: "):
		sec, err := strconv.ParseFloat(strings.TrimPrefix(prompt, "delay: "), 64)
		if err == nil && sec > 0 {
			select {
			case <-time.After(time.Duration(sec * float64(time.Second))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return s.makeResponse("delayed", req), nil
	}

	text := s.CannedText
	if text == "" {
		text = "edit predictable.go to add a response for that one..."
	}
	return s.makeResponse(text, req), nil
}

func (s *PredictableService) makeResponse(text string, req *Request) *Response {
	in := uint64((len(req.System) + len(req.Prompt)) / 4) // ~4 chars per token
	out := uint64(len(text) / 4)
	if out == 0 {
		out = 1
	}
	return &Response{
		Text:  text,
		Model: "predictable-v1",
		Usage: Usage{InputTokens: in, OutputTokens: out},
	}
}

// LastRequest returns the most recent request, or nil if none.
func (s *PredictableService) LastRequest() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recentRequests) == 0 {
		return nil
	}
	return s.recentRequests[len(s.recentRequests)-1]
}

// Requests returns a copy of the recorded requests.
func (s *PredictableService) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.recentRequests))
	copy(out, s.recentRequests)
	return out
}
