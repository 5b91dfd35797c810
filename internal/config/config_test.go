package config_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/nexus/internal/config"
	"github.com/MrWong99/nexus/internal/interview"
	"github.com/MrWong99/nexus/pkg/provider/live"
	lmock "github.com/MrWong99/nexus/pkg/provider/live/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json

providers:
  live:
    name: gemini
    api_key: g-test
    model: gemini-2.5-flash-native-audio-preview-09-2025
  extraction:
    name: gemini
    api_key: g-test
  analysis:
    name: openai
    api_key: sk-test
    model: gpt-4o
    timeout: 30s

interview:
  candidate: Ada Lovelace
  role: Backend Engineer
  resume: ./cv.pdf
  voice: Puck
  max_duration: 20m

audio:
  input_format: alsa
  input_device: hw:1
  ffplay: /usr/local/bin/ffplay
  output_sample_rate: 24000
  window: 4096
  send_queue: 32

storage:
  postgres_dsn: "postgres://localhost/nexus"
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── Load ─────────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.Live.Model != "gemini-2.5-flash-native-audio-preview-09-2025" {
		t.Errorf("live model = %q", cfg.Providers.Live.Model)
	}
	if cfg.Providers.Analysis.Name != "openai" || cfg.Providers.Analysis.Timeout != 30*time.Second {
		t.Errorf("analysis = %+v", cfg.Providers.Analysis)
	}
	if cfg.Interview.Voice != "Puck" || cfg.Interview.MaxDuration != 20*time.Minute {
		t.Errorf("interview = %+v", cfg.Interview)
	}
	if cfg.Audio.InputDevice != "hw:1" || cfg.Audio.SendQueue != 32 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Storage.PostgresDSN == "" {
		t.Error("storage.postgres_dsn not decoded")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  colour: blue\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "colour") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interview.Candidate != "Ada Lovelace" {
		t.Errorf("candidate = %q", cfg.Interview.Candidate)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) = %v, want os.ErrNotExist", err)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := tc.in.Level(); got != tc.want {
			t.Errorf("%q.Level() = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

type stubAnalyzer struct{ model string }

func (stubAnalyzer) Analyze(context.Context, string, string, *interview.ResumeData) (interview.Feedback, error) {
	return interview.Feedback{}, nil
}

func TestRegistry_CreateLive(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &lmock.Provider{}
	var got config.ProviderEntry
	reg.RegisterLive("mock", func(_ context.Context, e config.ProviderEntry) (live.Provider, error) {
		got = e
		return want, nil
	})

	p, err := reg.CreateLive(context.Background(), config.ProviderEntry{Name: "mock", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateLive: %v", err)
	}
	if p != want {
		t.Error("factory result not returned")
	}
	if got.Model != "m1" {
		t.Errorf("factory entry = %+v", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateAnalysis(context.Background(), config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), `analysis/"nope"`) {
		t.Errorf("error should name kind and provider, got: %v", err)
	}
	if _, err := reg.CreateExtraction(context.Background(), config.ProviderEntry{}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateExtraction = %v", err)
	}
}

func TestRegistry_FactoryErrorAndOverwrite(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("bad key")
	reg.RegisterAnalysis("x", func(context.Context, config.ProviderEntry) (interview.Analyzer, error) {
		return nil, boom
	})
	if _, err := reg.CreateAnalysis(context.Background(), config.ProviderEntry{Name: "x"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}

	reg.RegisterAnalysis("x", func(_ context.Context, e config.ProviderEntry) (interview.Analyzer, error) {
		return stubAnalyzer{model: e.Model}, nil
	})
	a, err := reg.CreateAnalysis(context.Background(), config.ProviderEntry{Name: "x", Model: "m"})
	if err != nil {
		t.Fatalf("CreateAnalysis after overwrite: %v", err)
	}
	if a.(stubAnalyzer).model != "m" {
		t.Errorf("analyzer = %+v", a)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, n := range []string{"openai", "gemini"} {
		reg.RegisterLive(n, func(context.Context, config.ProviderEntry) (live.Provider, error) { return nil, nil })
	}
	if got := strings.Join(reg.Names("live"), ","); got != "gemini,openai" {
		t.Errorf("Names(live) = %s", got)
	}
	if got := reg.Names("analysis"); len(got) != 0 {
		t.Errorf("Names(analysis) = %v", got)
	}
}
