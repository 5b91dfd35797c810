package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
var ValidProviderNames = map[string][]string{
	"live":       {"gemini", "openai"},
	"extraction": {"gemini", "openai"},
	"analysis":   {"gemini", "openai"},
}

// apiKeyEnv maps provider names to the environment variable holding their key.
var apiKeyEnv = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// An empty path yields the defaults with environment fallbacks applied.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := &Config{}
		ApplyDefaults(cfg, os.Getenv)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment fallbacks, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset provider names and reads missing API keys through
// getenv. Extraction and analysis default to the live provider's name.
func ApplyDefaults(cfg *Config, getenv func(string) string) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogText
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = "gemini"
	}
	for _, e := range []*ProviderEntry{&cfg.Providers.Extraction, &cfg.Providers.Analysis} {
		if e.Name == "" {
			e.Name = cfg.Providers.Live.Name
		}
	}
	for _, e := range []*ProviderEntry{&cfg.Providers.Live, &cfg.Providers.Extraction, &cfg.Providers.Analysis} {
		if e.APIKey != "" {
			continue
		}
		if env, ok := apiKeyEnv[e.Name]; ok {
			e.APIKey = getenv(env)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Providers
	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"live", cfg.Providers.Live},
		{"extraction", cfg.Providers.Extraction},
		{"analysis", cfg.Providers.Analysis},
	} {
		validateProviderName(p.kind, p.entry.Name)
		if p.entry.Timeout < 0 {
			errs = append(errs, fmt.Errorf("providers.%s.timeout must not be negative", p.kind))
		}
	}
	if cfg.Providers.Live.Name == "" {
		errs = append(errs, errors.New("providers.live.name is required"))
	} else if cfg.Providers.Live.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.live.api_key is required (or set %s)", envHint(cfg.Providers.Live.Name)))
	}
	if cfg.Providers.Analysis.Name != "" && cfg.Providers.Analysis.APIKey == "" {
		slog.Warn("providers.analysis has no API key; the interview will end without feedback",
			"name", cfg.Providers.Analysis.Name)
	}

	// Interview
	if cfg.Interview.MaxDuration < 0 {
		errs = append(errs, errors.New("interview.max_duration must not be negative"))
	}

	// Audio
	if cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must not be negative", cfg.Audio.OutputSampleRate))
	}
	if cfg.Audio.Window < 0 {
		errs = append(errs, fmt.Errorf("audio.window %d must not be negative", cfg.Audio.Window))
	}
	if cfg.Audio.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.send_queue %d must not be negative", cfg.Audio.SendQueue))
	}
	if cfg.Audio.InputDevice != "" && cfg.Audio.InputFormat == "" {
		slog.Warn("audio.input_device is set without audio.input_format; the platform default format is used",
			"device", cfg.Audio.InputDevice)
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Debug("storage.postgres_dsn is empty; reports will not be saved")
	}

	return errors.Join(errs...)
}

func envHint(name string) string {
	if env, ok := apiKeyEnv[name]; ok {
		return env
	}
	return "an API key"
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a provider registered at runtime",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
