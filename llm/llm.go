// Package llm provides a unified interface for invoking LLM providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Service is the request/response contract every provider implements.
type Service interface {
	// Complete sends a prompt to an LLM and returns the generated text.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request carries a single prompt. Section generators never share
// conversation state with each other, so there is no message history here.
type Request struct {
	System      string  // system directive, may be empty
	Prompt      string  // user prompt
	MaxTokens   int     // 0 means provider default
	Temperature float64 // 0 means provider default
}

// Response is the provider-agnostic completion result.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage represents token usage for a single completion.
type Usage struct {
	InputTokens  uint64
	OutputTokens uint64
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

func (u *Usage) String() string {
	return fmt.Sprintf("in: %d, out: %d", u.InputTokens, u.OutputTokens)
}

func (u *Usage) Attr() slog.Attr {
	return slog.Group("usage",
		slog.Uint64("input_tokens", u.InputTokens),
		slog.Uint64("output_tokens", u.OutputTokens),
	)
}

// ErrorKind classifies completion failures so callers can decide
// whether to retry, fall back, or abort.
type ErrorKind int

const (
	ErrKindTransient   ErrorKind = iota // network errors, 5xx, 429
	ErrKindAuth                         // bad or missing credentials
	ErrKindBadRequest                   // 4xx other than 429
	ErrKindMalformed                    // unparseable provider response
	ErrKindBreakerOpen                  // circuit breaker short-circuit
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransient:
		return "transient"
	case ErrKindAuth:
		return "auth"
	case ErrKindBadRequest:
		return "bad_request"
	case ErrKindMalformed:
		return "malformed"
	case ErrKindBreakerOpen:
		return "breaker_open"
	default:
		return "unknown"
	}
}

// Error is a tagged completion failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf constructs a tagged error.
func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the ErrorKind of err, defaulting to transient for
// untagged errors (context deadlines, network failures).
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ErrKindTransient
}

// Retryable reports whether a failed call may be retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrKindAuth, ErrKindBadRequest, ErrKindMalformed, ErrKindBreakerOpen:
		return false
	}
	return true
}
