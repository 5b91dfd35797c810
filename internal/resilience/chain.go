package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [Chain] failed or was
// skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain is an ordered list of interchangeable backends. Entries are tried in
// the order they were added.
type Chain[T any] struct {
	cfg   BreakerConfig
	links []link[T]
}

// NewChain creates an empty chain. cfg is the template for each entry's
// breaker; its Name is replaced by the entry name.
func NewChain[T any](cfg BreakerConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends a backend. Add must not be called concurrently with [Call].
func (c *Chain[T]) Add(name string, value T) {
	cfg := c.cfg
	cfg.Name = name
	c.links = append(c.links, link[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Len returns the number of backends.
func (c *Chain[T]) Len() int { return len(c.links) }

// Names returns the backend names in call order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.links))
	for i, l := range c.links {
		names[i] = l.name
	}
	return names
}

// Call runs fn against each backend until one succeeds. It stops early when
// ctx is done. When every backend fails the returned error wraps
// [ErrAllFailed] together with each backend's error.
func Call[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range c.links {
		l := &c.links[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var result R
		err := l.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, l.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.InfoContext(ctx, "resilience: served by fallback", "provider", l.name)
			}
			return result, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.DebugContext(ctx, "resilience: skipping provider", "provider", l.name)
			continue
		}
		slog.WarnContext(ctx, "resilience: provider failed", "provider", l.name, "error", err)
	}
	if len(errs) == 0 {
		return zero, fmt.Errorf("%w: no providers", ErrAllFailed)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
