// Package resilience guards calls to hosted model APIs.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops hammering a backend that keeps failing. [Chain] orders several
// backends of the same kind, each behind its own breaker, and returns the
// first success. [Analyzer] and [Extractor] apply a Chain to the interview
// services so that a report can still be produced when one vendor is down.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown has elapsed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. A successful
	// probe closes the breaker; a failed one opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values select the defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of concurrent calls allowed while half-open.
	// Default: 1.
	Probes int

	// IsFailure decides whether an error counts against the backend. Errors
	// caused by the caller's own context never count. Nil counts every error.
	IsFailure func(error) bool
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  int
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// State returns the current state. An open breaker whose cooldown has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Do runs fn unless the breaker is open. The outcome of fn is recorded and
// returned unchanged.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(ctx, probe, err)
	return err
}

func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = 0
		slog.Info("resilience: circuit half-open", "name", b.cfg.Name)
		fallthrough
	case StateHalfOpen:
		if b.probing >= b.cfg.Probes {
			return false, ErrCircuitOpen
		}
		b.probing++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(ctx context.Context, probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing--
	}
	switch {
	case err == nil:
		if b.state != StateClosed {
			slog.Info("resilience: circuit closed", "name", b.cfg.Name)
		}
		b.state = StateClosed
		b.failures = 0
	case !b.counts(ctx, err):
	case probe:
		b.trip("probe failed", err)
	default:
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			b.trip("too many failures", err)
		}
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip(reason string, err error) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
	slog.Warn("resilience: circuit opened",
		"name", b.cfg.Name,
		"reason", reason,
		"cooldown", b.cfg.Cooldown,
		"error", err,
	)
}

func (b *Breaker) counts(ctx context.Context, err error) bool {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return false
	}
	if b.cfg.IsFailure != nil {
		return b.cfg.IsFailure(err)
	}
	return true
}
