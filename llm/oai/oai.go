// Package oai implements llm.Service on top of the OpenAI chat API.
package oai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"commitstory.dev/llm"
)

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 2048
	DefaultTimeout   = 30 * time.Second
	DefaultRetries   = 2
)

// Service provides completions via the OpenAI chat completions API.
// Fields must be set before the first Complete call and not altered
// after; Complete itself is safe for concurrent use.
type Service struct {
	APIKey  string
	Model   string        // defaults to DefaultModel if empty
	BaseURL string        // optional, overrides the OpenAI endpoint
	Timeout time.Duration // per-attempt timeout, defaults to DefaultTimeout
	Retries int           // retries after the first attempt; 0 means DefaultRetries, negative means none
	HTTPC   *http.Client  // defaults to http.DefaultClient if nil

	once   sync.Once
	client *openai.Client
}

var _ llm.Service = (*Service)(nil)

func (s *Service) api() *openai.Client {
	s.once.Do(func() {
		cfg := openai.DefaultConfig(s.APIKey)
		if s.BaseURL != "" {
			cfg.BaseURL = s.BaseURL
		}
		if s.HTTPC != nil {
			cfg.HTTPClient = s.HTTPC
		}
		s.client = openai.NewClientWithConfig(cfg)
	})
	return s.client
}

// Complete sends a prompt to OpenAI, retrying transient failures with
// exponential backoff plus jitter. Auth failures and non-429 4xx errors
// are terminal.
func (s *Service) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if s.APIKey == "" {
		return nil, llm.Errf(llm.ErrKindAuth, "no API key configured")
	}
	model := s.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	retries := s.Retries
	switch {
	case retries < 0:
		retries = 0
	case retries == 0:
		retries = DefaultRetries
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	ccr := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	}

	backoff := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

	var errs error // accumulated errors across all attempts
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			sleep := backoff[min(attempt-1, len(backoff)-1)] + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
			slog.WarnContext(ctx, "oai sleep before retry", "sleep", sleep, "attempt", attempt)
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, errors.Join(errs, ctx.Err())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := s.api().CreateChatCompletion(attemptCtx, ccr)
		cancel()
		if err != nil {
			tagged := classify(err, model)
			if !llm.Retryable(tagged) {
				return nil, errors.Join(errs, tagged)
			}
			slog.WarnContext(ctx, "oai_request_failed", "error", err, "model", model, "attempt", attempt)
			errs = errors.Join(errs, fmt.Errorf("attempt %d: %w", attempt+1, tagged))
			continue
		}

		if len(resp.Choices) == 0 {
			return nil, errors.Join(errs, llm.Errf(llm.ErrKindMalformed, "no choices in response (model=%s)", model))
		}
		return &llm.Response{
			Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
			Model: resp.Model,
			Usage: llm.Usage{
				InputTokens:  uint64(resp.Usage.PromptTokens),
				OutputTokens: uint64(resp.Usage.CompletionTokens),
			},
		}, nil
	}
	return nil, fmt.Errorf("oai: request failed after %d attempts (model=%s): %w", retries+1, model, errs)
}

// classify maps OpenAI API errors onto the llm error taxonomy.
func classify(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return llm.Errf(llm.ErrKindAuth, "status %d (model=%s): %s", apiErr.HTTPStatusCode, model, apiErr.Message)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return llm.Errf(llm.ErrKindTransient, "status 429 (rate limited, model=%s): %s", model, apiErr.Message)
		case apiErr.HTTPStatusCode >= 500:
			return llm.Errf(llm.ErrKindTransient, "status %d (model=%s): %s", apiErr.HTTPStatusCode, model, apiErr.Message)
		case apiErr.HTTPStatusCode >= 400:
			return llm.Errf(llm.ErrKindBadRequest, "status %d (model=%s): %s", apiErr.HTTPStatusCode, model, apiErr.Message)
		}
	}
	// Network-level failure, let the retry loop handle it.
	return llm.Errf(llm.ErrKindTransient, "request error (model=%s): %v", model, err)
}
