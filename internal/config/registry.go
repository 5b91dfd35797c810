package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/nexus/internal/interview"
	"github.com/MrWong99/nexus/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory constructs a provider of type T from its configuration entry.
type Factory[T any] func(ctx context.Context, entry ProviderEntry) (T, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	live       map[string]Factory[live.Provider]
	extraction map[string]Factory[interview.ResumeExtractor]
	analysis   map[string]Factory[interview.Analyzer]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:       make(map[string]Factory[live.Provider]),
		extraction: make(map[string]Factory[interview.ResumeExtractor]),
		analysis:   make(map[string]Factory[interview.Analyzer]),
	}
}

// RegisterLive registers a live transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory Factory[live.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterExtraction registers a résumé extractor factory under name.
func (r *Registry) RegisterExtraction(name string, factory Factory[interview.ResumeExtractor]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extraction[name] = factory
}

// RegisterAnalysis registers a feedback analyzer factory under name.
func (r *Registry) RegisterAnalysis(name string, factory Factory[interview.Analyzer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analysis[name] = factory
}

// CreateLive instantiates the live transport registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(ctx context.Context, entry ProviderEntry) (live.Provider, error) {
	return create(ctx, &r.mu, r.live, "live", entry)
}

// CreateExtraction instantiates the résumé extractor registered under entry.Name.
func (r *Registry) CreateExtraction(ctx context.Context, entry ProviderEntry) (interview.ResumeExtractor, error) {
	return create(ctx, &r.mu, r.extraction, "extraction", entry)
}

// CreateAnalysis instantiates the feedback analyzer registered under entry.Name.
func (r *Registry) CreateAnalysis(ctx context.Context, entry ProviderEntry) (interview.Analyzer, error) {
	return create(ctx, &r.mu, r.analysis, "analysis", entry)
}

// Names returns the sorted provider names registered for kind ("live",
// "extraction" or "analysis").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "live":
		names = keys(r.live)
	case "extraction":
		names = keys(r.extraction)
	case "analysis":
		names = keys(r.analysis)
	}
	slices.Sort(names)
	return names
}

func create[T any](ctx context.Context, mu *sync.RWMutex, m map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(ctx, entry)
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
