// Command nexus runs a live mock interview against a hosted voice model and
// prints a scored feedback report when the interview ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/nexus/internal/config"
	"github.com/MrWong99/nexus/internal/duplex"
	"github.com/MrWong99/nexus/internal/health"
	"github.com/MrWong99/nexus/internal/interview"
	"github.com/MrWong99/nexus/internal/observe"
	"github.com/MrWong99/nexus/internal/store"
	"github.com/MrWong99/nexus/pkg/audio/capture"
	"github.com/MrWong99/nexus/pkg/audio/device"
	"github.com/MrWong99/nexus/pkg/provider/live"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	analysisTimeout = 2 * time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	name := flag.String("name", "", "candidate name (default: taken from the résumé)")
	role := flag.String("role", "", "role being interviewed for (default: taken from the résumé)")
	resumePath := flag.String("resume", "", "path to a résumé document (PDF or text)")
	noSpeaker := flag.Bool("no-speaker", false, "discard the interviewer's audio instead of playing it")
	listen := flag.String("listen", "", "address for /metrics, /healthz and /readyz (overrides server.listen_addr)")
	history := flag.Bool("history", false, "list saved reports (filtered by -name) and exit")
	showReport := flag.String("report", "", "print the saved report with this ID and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "nexus: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "nexus: %v\n", err)
		}
		return 1
	}
	applyFlags(cfg, *name, *role, *resumePath, *listen)

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(observe.NewLogger(os.Stderr, string(cfg.Server.LogFormat), &level))

	slog.Info("nexus starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.NewTelemetry(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		LiveProvider:   cfg.Providers.Live.Name,
		LiveModel:      cfg.Providers.Live.Model,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	telemetry.Install()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Report storage (optional) ─────────────────────────────────────────────
	var reports *store.PostgresStore
	if cfg.Storage.PostgresDSN != "" {
		reports, err = store.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("failed to open report store", "err", err)
			return 1
		}
		defer reports.Close()
	}

	if *history || *showReport != "" {
		if reports == nil {
			slog.Error("storage.postgres_dsn is required for -history and -report")
			return 1
		}
		if err := queryReports(ctx, os.Stdout, reports, cfg.Interview.Candidate, *showReport); err != nil {
			slog.Error("report query failed", "err", err)
			return 1
		}
		return 0
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, metrics)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Observability listener ────────────────────────────────────────────────
	probes := health.New()
	if reports != nil {
		probes.Add(health.PingChecker("store", reports))
	}
	srv := startServer(cfg.Server.ListenAddr, probes, metrics)

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.Level())
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.LogFormatChanged {
				slog.Warn("log_format change takes effect after restart", "format", d.NewLogFormat)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go w.Run(ctx)
		}
	}

	// ── Résumé ────────────────────────────────────────────────────────────────
	resume := loadResume(ctx, providers.Extraction, cfg.Interview.Resume)
	candidate, jobRole := interview.Candidate(cfg.Interview.Candidate, cfg.Interview.Role, resume)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, candidate, jobRole, resume != nil, *noSpeaker)

	// ── Duplex session ────────────────────────────────────────────────────────
	sess := newSession(cfg, providers.Live, metrics, candidate, jobRole, resume, *noSpeaker)
	probes.Add(health.SessionChecker(sess.Live))

	startedAt := time.Now()
	if err := sess.Start(ctx); err != nil {
		if errors.Is(err, duplex.ErrDeviceUnavailable) {
			slog.Error("audio device unavailable; check audio.input_format and audio.input_device", "err", err)
		} else {
			slog.Error("failed to start interview", "err", err)
		}
		shutdownServer(srv)
		return 1
	}
	slog.Info("interview live, press Ctrl+C to finish", "candidate", candidate, "role", jobRole)

	reason := waitForEnd(ctx, sess, cfg.Interview.MaxDuration)
	transcript := sess.End()
	endedAt := time.Now()
	// A second Ctrl+C during analysis terminates immediately.
	stop()

	exitCode := 0
	if err := sess.Err(); err != nil {
		slog.Error("interview ended by transport failure", "err", err)
		exitCode = 1
	}
	slog.Info("interview ended",
		"reason", reason,
		"duration", endedAt.Sub(startedAt).Round(time.Second),
		"transcript_chars", len(transcript),
	)

	// ── Analysis & report ─────────────────────────────────────────────────────
	report := &interview.Report{
		CandidateName: candidate,
		Role:          jobRole,
		Transcript:    transcript,
		Resume:        resume,
		StartedAt:     startedAt,
		EndedAt:       endedAt,
	}

	actx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
	defer cancel()
	report.Feedback = analyze(actx, providers.Analysis, transcript, jobRole, resume)

	if reports != nil {
		if err := reports.Save(actx, report); err != nil {
			slog.Error("failed to save report", "err", err)
			exitCode = 1
		} else {
			slog.Info("report saved", "id", report.ID)
		}
	}

	if err := writeReport(os.Stdout, report); err != nil {
		slog.Error("failed to write report", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownServer(srv)
	slog.Info("goodbye")
	return exitCode
}

// applyFlags lets non-empty command-line values override the configuration.
func applyFlags(cfg *config.Config, name, role, resume, listen string) {
	if name != "" {
		cfg.Interview.Candidate = name
	}
	if role != "" {
		cfg.Interview.Role = role
	}
	if resume != "" {
		cfg.Interview.Resume = resume
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
	}
}

// newSession assembles the duplex session from configuration.
func newSession(cfg *config.Config, provider live.Provider, m *observe.Metrics,
	candidate, role string, resume *interview.ResumeData, noSpeaker bool,
) *duplex.Session {
	voice := cfg.Interview.Voice
	if voice == "" && cfg.Providers.Live.Name == "gemini" {
		voice = interview.DefaultVoice
	}

	speakerOpts := []device.Option{device.WithCommand(cfg.Audio.FFplay)}
	if noSpeaker {
		speakerOpts = append(speakerOpts, device.WithWriter(io.Discard))
	}

	return duplex.New(provider,
		live.Config{
			Instructions:        interview.Instructions(candidate, role, resume),
			Voice:               voice,
			OutputTranscription: true,
			InputSampleRate:     live.DefaultInputSampleRate,
		},
		duplex.WithMicrophone(duplex.FFmpegMicrophone(capture.FFmpegConfig{
			Command:     cfg.Audio.FFmpeg,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
			SampleRate:  live.DefaultInputSampleRate,
		})),
		duplex.WithSpeaker(duplex.FFplaySpeaker(speakerOpts...)),
		duplex.WithCapture(capture.WithWindow(cfg.Audio.Window)),
		duplex.WithSendQueue(cfg.Audio.SendQueue),
		duplex.WithOutputSampleRate(cfg.Audio.OutputSampleRate),
		duplex.WithProviderName(cfg.Providers.Live.Name),
		duplex.WithMetrics(m),
	)
}

// waitForEnd blocks until the interview should stop and returns why.
func waitForEnd(ctx context.Context, sess *duplex.Session, maxDuration time.Duration) string {
	var deadline <-chan time.Time
	if maxDuration > 0 {
		t := time.NewTimer(maxDuration)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case <-ctx.Done():
		return "interrupted"
	case <-sess.Done():
		return "transport closed"
	case <-deadline:
		return "time limit reached"
	}
}

// loadResume reads and extracts the résumé at path. Failures are logged and
// the interview continues without résumé context.
func loadResume(ctx context.Context, ex interview.ResumeExtractor, path string) *interview.ResumeData {
	if path == "" {
		return nil
	}
	if ex == nil {
		slog.Warn("résumé ignored: no extraction provider configured", "path", path)
		return nil
	}
	doc, mimeType, err := interview.ReadDocument(path)
	if err != nil {
		slog.Warn("résumé ignored", "err", err)
		return nil
	}

	data, err := ex.Extract(ctx, doc, mimeType)
	if err != nil {
		slog.Warn("résumé extraction failed, continuing without it", "path", path, "err", err)
		return nil
	}
	slog.Info("résumé extracted",
		"name", data.ExtractedName,
		"role", data.ExtractedRole,
		"skills", len(data.Skills),
	)
	return &data
}

// analyze scores the transcript. It returns nil when there is nothing to
// score or the analysis fails.
func analyze(ctx context.Context, an interview.Analyzer, transcript, role string, resume *interview.ResumeData) *interview.Feedback {
	if an == nil {
		slog.Warn("analysis skipped: no analysis provider configured")
		return nil
	}
	if strings.TrimSpace(transcript) == "" {
		slog.Warn("analysis skipped: empty transcript")
		return nil
	}

	fb, err := an.Analyze(ctx, transcript, role, resume)
	if err != nil {
		slog.Error("analysis failed", "err", err)
		return nil
	}
	slog.Info("analysis complete", "overall_score", fb.OverallScore)
	return &fb
}

// startServer serves /metrics and the health probes on addr. It returns nil
// when addr is empty.
func startServer(addr string, probes *health.Handler, m *observe.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	probes.Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("observability listener failed", "addr", addr, "err", err)
		}
	}()
	slog.Info("observability listener started", "addr", addr)
	return srv
}

func shutdownServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("observability listener shutdown error", "err", err)
	}
}

// printStartupSummary writes a human-readable overview of the interview
// setup to stderr.
func printStartupSummary(cfg *config.Config, candidate, role string, haveResume, noSpeaker bool) {
	orNone := func(s string) string {
		if s == "" {
			return "(none)"
		}
		return s
	}
	speaker := "ffplay"
	if noSpeaker {
		speaker = "disabled"
	}
	limit := "none"
	if cfg.Interview.MaxDuration > 0 {
		limit = cfg.Interview.MaxDuration.String()
	}

	fmt.Fprintln(os.Stderr, "╔══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║          Nexus Interview             ║")
	fmt.Fprintln(os.Stderr, "╚══════════════════════════════════════╝")
	fmt.Fprintf(os.Stderr, "  Candidate  : %s\n", candidate)
	fmt.Fprintf(os.Stderr, "  Role       : %s\n", role)
	fmt.Fprintf(os.Stderr, "  Résumé     : %v\n", haveResume)
	fmt.Fprintf(os.Stderr, "  Live       : %s %s\n", cfg.Providers.Live.Name, orNone(cfg.Providers.Live.Model))
	fmt.Fprintf(os.Stderr, "  Analysis   : %s\n", orNone(cfg.Providers.Analysis.Name))
	fmt.Fprintf(os.Stderr, "  Speaker    : %s\n", speaker)
	fmt.Fprintf(os.Stderr, "  Time limit : %s\n", limit)
	fmt.Fprintf(os.Stderr, "  Listen     : %s\n", orNone(cfg.Server.ListenAddr))
	fmt.Fprintln(os.Stderr)
}
