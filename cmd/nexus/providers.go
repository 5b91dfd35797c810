package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/nexus/internal/config"
	"github.com/MrWong99/nexus/internal/interview"
	geminisvc "github.com/MrWong99/nexus/internal/interview/gemini"
	openaisvc "github.com/MrWong99/nexus/internal/interview/openai"
	"github.com/MrWong99/nexus/internal/observe"
	"github.com/MrWong99/nexus/internal/resilience"
	"github.com/MrWong99/nexus/pkg/provider/live"
	geminilive "github.com/MrWong99/nexus/pkg/provider/live/gemini"
	oailive "github.com/MrWong99/nexus/pkg/provider/live/openai"
)

// serviceBreaker trips a backend on its first failure. Each process makes one
// extraction and one analysis call, so a higher threshold could never be
// reached before exit.
var serviceBreaker = resilience.BreakerConfig{MaxFailures: 1}

// providerSet holds the instantiated external services.
type providerSet struct {
	Live       live.Provider
	Extraction interview.ResumeExtractor
	Analysis   interview.Analyzer
}

// registerBuiltinProviders registers every provider implementation that ships
// with nexus. Adding a backend means adding one Register call here.
func registerBuiltinProviders(reg *config.Registry, m *observe.Metrics) {
	// ── Live ──────────────────────────────────────────────────────────────────
	reg.RegisterLive("gemini", func(_ context.Context, e config.ProviderEntry) (live.Provider, error) {
		return geminilive.New(e.APIKey,
			geminilive.WithModel(e.Model),
			geminilive.WithBaseURL(e.BaseURL),
		), nil
	})
	reg.RegisterLive("openai", func(_ context.Context, e config.ProviderEntry) (live.Provider, error) {
		return oailive.New(e.APIKey,
			oailive.WithModel(e.Model),
			oailive.WithBaseURL(e.BaseURL),
		), nil
	})

	// ── Résumé extraction ─────────────────────────────────────────────────────
	reg.RegisterExtraction("gemini", func(ctx context.Context, e config.ProviderEntry) (interview.ResumeExtractor, error) {
		return newGeminiService(ctx, e, m)
	})
	reg.RegisterExtraction("openai", func(_ context.Context, e config.ProviderEntry) (interview.ResumeExtractor, error) {
		return newOpenAIService(e, m)
	})

	// ── Analysis ──────────────────────────────────────────────────────────────
	reg.RegisterAnalysis("gemini", func(ctx context.Context, e config.ProviderEntry) (interview.Analyzer, error) {
		return newGeminiService(ctx, e, m)
	})
	reg.RegisterAnalysis("openai", func(_ context.Context, e config.ProviderEntry) (interview.Analyzer, error) {
		return newOpenAIService(e, m)
	})
}

func newGeminiService(ctx context.Context, e config.ProviderEntry, m *observe.Metrics) (*geminisvc.Client, error) {
	return geminisvc.New(ctx, e.APIKey,
		geminisvc.WithModel(e.Model),
		geminisvc.WithBaseURL(e.BaseURL),
		geminisvc.WithMetrics(m),
	)
}

func newOpenAIService(e config.ProviderEntry, m *observe.Metrics) (*openaisvc.Client, error) {
	return openaisvc.New(e.APIKey,
		openaisvc.WithModel(e.Model),
		openaisvc.WithBaseURL(e.BaseURL),
		openaisvc.WithTimeout(e.Timeout),
		openaisvc.WithMetrics(m),
	)
}

// buildProviders instantiates the configured providers. When extraction and
// analysis are served by different vendors, each falls back to the other.
// Extraction and analysis are optional: a backend without an API key is
// skipped, and a nil service disables that step.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}
	var err error

	ps.Live, err = reg.CreateLive(ctx, cfg.Providers.Live)
	if err != nil {
		return nil, fmt.Errorf("live provider: %w", err)
	}

	extraction, analysis := cfg.Providers.Extraction, cfg.Providers.Analysis

	extractor := resilience.NewExtractor(serviceBreaker)
	if err := buildChain(ctx, "extraction", failoverOrder(extraction, analysis), reg.CreateExtraction, extractor.Add); err != nil {
		return nil, err
	}
	if len(extractor.Names()) > 0 {
		ps.Extraction = extractor
	}

	analyzer := resilience.NewAnalyzer(serviceBreaker)
	if err := buildChain(ctx, "analysis", failoverOrder(analysis, extraction), reg.CreateAnalysis, analyzer.Add); err != nil {
		return nil, err
	}
	if len(analyzer.Names()) > 0 {
		ps.Analysis = analyzer
	}

	return ps, nil
}

// failoverOrder lists primary first and fallback second, unless both name the
// same vendor.
func failoverOrder(primary, fallback config.ProviderEntry) []config.ProviderEntry {
	if fallback.Name == "" || fallback.Name == primary.Name {
		return []config.ProviderEntry{primary}
	}
	return []config.ProviderEntry{primary, fallback}
}

// buildChain creates each entry and adds it to a failover chain. Entries
// without credentials are skipped with a warning. An unknown provider name is
// fatal only for the primary entry.
func buildChain[T any](
	ctx context.Context,
	kind string,
	entries []config.ProviderEntry,
	create func(context.Context, config.ProviderEntry) (T, error),
	add func(string, T),
) error {
	for i, e := range entries {
		if e.APIKey == "" {
			slog.Warn("provider skipped: no api key", "kind", kind, "provider", e.Name)
			continue
		}
		svc, err := create(ctx, e)
		if err != nil {
			if i == 0 {
				return fmt.Errorf("%s provider: %w", kind, err)
			}
			slog.Warn("fallback provider unavailable", "kind", kind, "provider", e.Name, "err", err)
			continue
		}
		add(e.Name, svc)
	}
	return nil
}
