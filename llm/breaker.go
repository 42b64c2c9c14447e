package llm

import (
	"context"
	"sync"
	"time"
)

// BreakerConfig controls when the circuit opens and for how long.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures within Window
	// that opens the circuit.
	Threshold int
	// Window bounds how far back consecutive failures count.
	Window time.Duration
	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration

	// Now is overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

const (
	DefaultBreakerThreshold = 5
	DefaultBreakerWindow    = 60 * time.Second
	DefaultBreakerCooldown  = 60 * time.Second
)

// Breaker wraps a Service with a process-wide circuit breaker.
// After Threshold consecutive failures within Window, calls short-circuit
// with an ErrKindBreakerOpen error until Cooldown elapses. Each worker
// process owns its breaker; workers are short-lived, so no cross-process
// state is shared.
type Breaker struct {
	svc Service
	cfg BreakerConfig

	mu           sync.Mutex
	failures     int
	firstFailure time.Time
	openedAt     time.Time
	open         bool
}

// NewBreaker wraps svc. Zero-valued config fields take the defaults.
func NewBreaker(svc Service, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBreakerThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultBreakerWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{svc: svc, cfg: cfg}
}

var _ Service = (*Breaker)(nil)

// Complete forwards to the wrapped service unless the circuit is open.
func (b *Breaker) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}
	resp, err := b.svc.Complete(ctx, req)
	b.record(err)
	return resp, err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	if b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		// Half-open: let one call through to probe.
		b.open = false
		b.failures = 0
		return nil
	}
	return Errf(ErrKindBreakerOpen, "circuit open since %s", b.openedAt.Format(time.RFC3339))
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.cfg.Now()
	if err == nil {
		b.failures = 0
		return
	}
	if b.failures == 0 || now.Sub(b.firstFailure) > b.cfg.Window {
		b.failures = 0
		b.firstFailure = now
	}
	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.open = true
		b.openedAt = now
	}
}

// Open reports whether the circuit is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Reset closes the circuit and clears failure history. Exposed for tests.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.failures = 0
	b.firstFailure = time.Time{}
	b.openedAt = time.Time{}
}
