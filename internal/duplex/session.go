// Package duplex runs one live, bidirectional audio conversation with a hosted
// voice model.
//
// A [Session] owns the microphone, the speaker and the live transport for its
// whole lifetime. Once live it runs three goroutines:
//
//   - capture: frames the microphone into windows, encodes each window and
//     queues it for sending;
//   - sender: drains the queue into the transport in order;
//   - inbound: consumes transport messages in arrival order, schedules model
//     speech on the speaker, honours interruptions and accumulates the
//     transcript.
//
// The inbound goroutine is the only writer of the playback scheduler and the
// transcript. [Session.End] tears everything down exactly once and returns the
// transcript. A transport failure ends the session on its own; it is never
// reconnected.
package duplex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/nexus/internal/observe"
	"github.com/MrWong99/nexus/pkg/audio"
	"github.com/MrWong99/nexus/pkg/audio/capture"
	"github.com/MrWong99/nexus/pkg/audio/device"
	"github.com/MrWong99/nexus/pkg/audio/playback"
	"github.com/MrWong99/nexus/pkg/provider/live"
)

// ── Errors ─────────────────────────────────────────────────────────────────────

var (
	// ErrDeviceUnavailable is returned by Start when the microphone or the
	// speaker cannot be opened. No transport connection is attempted.
	ErrDeviceUnavailable = capture.ErrDeviceUnavailable

	// ErrTransport wraps the error that ended a session from the remote side.
	ErrTransport = errors.New("duplex: transport error")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("duplex: session already started")

	// ErrClosed is returned by Start once the session has ended.
	ErrClosed = errors.New("duplex: session closed")
)

// ── State ──────────────────────────────────────────────────────────────────────

// State is the lifecycle phase of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateLive
	StateClosed
)

// String returns the lowercase name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ── Devices ────────────────────────────────────────────────────────────────────

// Speaker is an output device the session can schedule on and release.
type Speaker interface {
	playback.Device
	io.Closer
}

// MicrophoneOpener acquires the capture device.
type MicrophoneOpener func(ctx context.Context) (capture.Source, error)

// SpeakerOpener acquires the output device.
type SpeakerOpener func(ctx context.Context) (Speaker, error)

// FFmpegMicrophone returns a MicrophoneOpener backed by an ffmpeg process.
func FFmpegMicrophone(cfg capture.FFmpegConfig) MicrophoneOpener {
	return func(ctx context.Context) (capture.Source, error) {
		return capture.OpenFFmpeg(ctx, cfg)
	}
}

// FFplaySpeaker returns a SpeakerOpener backed by an ffplay process.
func FFplaySpeaker(opts ...device.Option) SpeakerOpener {
	return func(ctx context.Context) (Speaker, error) {
		return device.Open(ctx, opts...)
	}
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a Session.
type Option func(*Session)

// WithMicrophone sets how the capture device is opened. Defaults to
// [FFmpegMicrophone] with platform defaults.
func WithMicrophone(open MicrophoneOpener) Option {
	return func(s *Session) {
		if open != nil {
			s.openMic = open
		}
	}
}

// WithSpeaker sets how the output device is opened. Defaults to
// [FFplaySpeaker].
func WithSpeaker(open SpeakerOpener) Option {
	return func(s *Session) {
		if open != nil {
			s.openSpeaker = open
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithProviderName labels provider metrics. Defaults to "live".
func WithProviderName(name string) Option {
	return func(s *Session) {
		if name != "" {
			s.providerName = name
		}
	}
}

// WithSendQueue sets how many encoded windows may wait for the sender before
// the oldest is dropped.
func WithSendQueue(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.sendQueue = n
		}
	}
}

// WithCapture passes options through to the capture pipeline.
func WithCapture(opts ...capture.Option) Option {
	return func(s *Session) {
		s.captureOpts = append(s.captureOpts, opts...)
	}
}

// WithOutputSampleRate sets the rate assumed for inbound audio whose MIME type
// carries none. Defaults to [live.DefaultOutputSampleRate].
func WithOutputSampleRate(hz int) Option {
	return func(s *Session) {
		if hz > 0 {
			s.outputRate = hz
		}
	}
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one duplex conversation. See the package documentation.
// All exported methods are safe for concurrent use.
type Session struct {
	provider     live.Provider
	liveCfg      live.Config
	openMic      MicrophoneOpener
	openSpeaker  SpeakerOpener
	metrics      *observe.Metrics
	providerName string
	sendQueue    int
	captureOpts  []capture.Option
	outputRate   int

	state atomic.Int32

	// mu guards the resources below and every state transition.
	mu        sync.Mutex
	abort     context.CancelFunc
	cancel    context.CancelFunc
	mic       capture.Source
	speaker   Speaker
	transport live.Session
	pipeline  *capture.Pipeline
	queue     *sendQueue
	liveSince time.Time
	err       error

	transcriptMu sync.Mutex
	transcript   []string

	endOnce sync.Once
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates an idle Session that will talk to provider with cfg.
func New(provider live.Provider, cfg live.Config, opts ...Option) *Session {
	s := &Session{
		provider:     provider,
		liveCfg:      cfg,
		openMic:      FFmpegMicrophone(capture.FFmpegConfig{}),
		openSpeaker:  FFplaySpeaker(),
		providerName: "live",
		sendQueue:    defaultSendQueue,
		outputRate:   live.DefaultOutputSampleRate,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Live reports whether the transport is open and audio is flowing.
func (s *Session) Live() bool { return s.State() == StateLive }

// Done is closed once the session has ended and all its goroutines exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, if any. It wraps
// [ErrTransport] when the remote side failed. A local End or a clean remote
// close leaves it nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transcript returns the model transcript accumulated so far.
func (s *Session) Transcript() string {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	return strings.Join(s.transcript, " ")
}

// Start opens both devices concurrently, connects the transport and begins
// streaming. A device failure is reported as [ErrDeviceUnavailable] before any
// connection attempt. Start returns once the session is live; ctx bounds
// device acquisition and the connection handshake only.
//
// Any failure ends the session: Done is closed and the session cannot be
// restarted.
func (s *Session) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	switch s.State() {
	case StateIdle:
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	default:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state.Store(int32(StateConnecting))
	ctx, abort := context.WithCancel(ctx)
	s.abort = abort
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer abort()

	ctx, span := observe.StartSpan(ctx, "duplex.start")
	defer func() { observe.EndSpan(span, err) }()

	mic, spk, err := s.openDevices(ctx)
	if err != nil {
		s.endOnce.Do(s.teardown)
		return fmt.Errorf("duplex: start: %w", err)
	}

	s.mu.Lock()
	if s.State() == StateClosed {
		s.mu.Unlock()
		releaseDevices(mic, spk)
		return ErrClosed
	}
	s.mic, s.speaker = mic, spk
	s.mu.Unlock()

	sched, err := playback.New(spk)
	if err != nil {
		s.endOnce.Do(s.teardown)
		return fmt.Errorf("duplex: start: %w", err)
	}

	connectStart := time.Now()
	transport, err := s.provider.Connect(ctx, s.liveCfg)
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.providerName, "live", "error")
		s.metrics.RecordProviderError(ctx, s.providerName, "live")
		ended := s.State() == StateClosed
		s.endOnce.Do(s.teardown)
		if ended {
			return ErrClosed
		}
		return fmt.Errorf("duplex: connect: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, s.providerName, "live", "ok")
	s.metrics.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds())

	s.mu.Lock()
	if s.State() == StateClosed {
		s.mu.Unlock()
		_ = transport.Close()
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(context.Background())
	queue := newSendQueue(s.sendQueue)
	pipeline := capture.New(mic, func(samples []float32) {
		s.enqueue(runCtx, queue, samples)
	}, s.captureOpts...)

	s.cancel = cancel
	s.transport = transport
	s.queue = queue
	s.pipeline = pipeline
	s.liveSince = time.Now()
	s.state.Store(int32(StateLive))

	s.wg.Add(3)
	go s.receive(runCtx, transport, sched)
	go s.send(runCtx, transport, queue)
	go s.capture(runCtx, pipeline)
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.mu.Unlock()

	slog.InfoContext(ctx, "duplex: session live",
		"provider", s.providerName,
		"connect", time.Since(connectStart).Round(time.Millisecond),
	)
	return nil
}

// End tears down capture, transport and output exactly once, waits for the
// session goroutines to exit and returns the transcript. It is safe to call
// at any time, more than once and from any goroutine.
func (s *Session) End() string {
	s.endOnce.Do(s.teardown)
	<-s.done
	return s.Transcript()
}

// openDevices acquires the microphone and the speaker concurrently. On failure
// whichever device did open is released again.
func (s *Session) openDevices(ctx context.Context) (capture.Source, Speaker, error) {
	var (
		mic capture.Source
		spk Speaker
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.openMic(gctx)
		if err != nil {
			return fmt.Errorf("microphone: %w", err)
		}
		mic = m
		return nil
	})
	g.Go(func() error {
		sp, err := s.openSpeaker(gctx)
		if err != nil {
			return fmt.Errorf("speaker: %w", err)
		}
		spk = sp
		return nil
	})
	if err := g.Wait(); err != nil {
		releaseDevices(mic, spk)
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return nil, nil, err
	}
	return mic, spk, nil
}

func releaseDevices(mic capture.Source, spk Speaker) {
	if mic != nil {
		if err := mic.Close(); err != nil {
			slog.Debug("duplex: close microphone", "err", err)
		}
	}
	if spk != nil {
		if err := spk.Close(); err != nil {
			slog.Debug("duplex: close speaker", "err", err)
		}
	}
}

// teardown moves the session to Closed and releases every resource it holds.
// It runs at most once, via endOnce. Done is closed after all session
// goroutines have returned, so teardown may be triggered from one of them.
func (s *Session) teardown() {
	s.mu.Lock()
	wasLive := s.State() == StateLive
	s.state.Store(int32(StateClosed))
	abort, cancel := s.abort, s.cancel
	pipeline, queue, transport := s.pipeline, s.queue, s.transport
	mic, spk := s.mic, s.speaker
	liveSince := s.liveSince
	s.mu.Unlock()

	if abort != nil {
		abort()
	}
	if cancel != nil {
		cancel()
	}
	if queue != nil {
		queue.close()
	}
	if pipeline != nil {
		// Closing the pipeline closes the microphone.
		if err := pipeline.Close(); err != nil {
			slog.Debug("duplex: close capture", "err", err)
		}
		mic = nil
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			slog.Debug("duplex: close transport", "err", err)
		}
	}
	releaseDevices(mic, spk)

	go func() {
		s.wg.Wait()
		if wasLive {
			ctx := context.Background()
			s.metrics.ActiveSessions.Add(ctx, -1)
			s.metrics.SessionDuration.Record(ctx, time.Since(liveSince).Seconds())
		}
		close(s.done)
	}()
}

// ── Goroutines ─────────────────────────────────────────────────────────────────

// enqueue runs on the capture goroutine. It never blocks on the transport.
func (s *Session) enqueue(ctx context.Context, q *sendQueue, samples []float32) {
	if q.push(audio.EncodeOutbound(samples)) {
		s.metrics.FramesDropped.Add(ctx, 1)
		slog.Debug("duplex: send queue full, dropped oldest frame", "queued", q.len())
	}
}

func (s *Session) capture(ctx context.Context, p *capture.Pipeline) {
	defer s.wg.Done()
	if err := p.Run(ctx); err != nil {
		slog.Warn("duplex: capture stopped", "err", err, "windows", p.Windows())
		return
	}
	slog.Debug("duplex: capture ended", "windows", p.Windows())
}

// send delivers queued frames in order. Frames still queued when the session
// ends are discarded.
func (s *Session) send(ctx context.Context, transport live.Session, q *sendQueue) {
	defer s.wg.Done()
	for {
		frame, ok := q.pop(ctx)
		if !ok {
			return
		}
		if err := transport.SendRealtimeInput(frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("duplex: send frame", "err", err)
			continue
		}
		s.metrics.FramesSent.Add(ctx, 1)
	}
}

// receive is the single consumer of transport messages and the only user of
// sched. When the message stream ends it classifies the close and ends the
// session.
func (s *Session) receive(ctx context.Context, transport live.Session, sched *playback.Scheduler) {
	defer s.wg.Done()

	for msg := range transport.Messages() {
		if ctx.Err() != nil {
			break
		}
		s.handle(ctx, sched, msg)
	}
	if ctx.Err() != nil {
		return
	}

	if err := transport.Err(); err != nil {
		s.metrics.RecordProviderError(ctx, s.providerName, "live")
		slog.Error("duplex: transport error", "provider", s.providerName, "err", err)
		s.mu.Lock()
		s.err = fmt.Errorf("%w: %w", ErrTransport, err)
		s.mu.Unlock()
	} else {
		slog.Info("duplex: transport closed", "provider", s.providerName)
	}
	s.endOnce.Do(s.teardown)
}

func (s *Session) handle(ctx context.Context, sched *playback.Scheduler, msg live.Message) {
	if msg.Transcript != "" {
		s.transcriptMu.Lock()
		s.transcript = append(s.transcript, msg.Transcript)
		s.transcriptMu.Unlock()
	}
	for _, part := range msg.Audio {
		s.play(ctx, sched, part)
	}
	if msg.Interrupted {
		n := sched.Interrupt()
		s.metrics.Interruptions.Add(ctx, 1)
		slog.Debug("duplex: playback interrupted", "stopped", n)
	}
}

// play decodes one inbound payload and schedules it. Undecodable payloads are
// dropped; the session carries on.
func (s *Session) play(ctx context.Context, sched *playback.Scheduler, part live.InlineAudio) {
	pcm, err := audio.DecodeInbound(part.Data)
	var buf audio.Buffer
	if err == nil {
		buf, err = audio.ToPlayableBuffer(pcm, audio.ParseRate(part.MIMEType, s.outputRate), 1)
	}
	if err != nil {
		s.metrics.MalformedInbound.Add(ctx, 1)
		slog.Warn("duplex: dropping inbound audio", "mime", part.MIMEType, "err", err)
		return
	}

	start, err := sched.Schedule(buf)
	if err != nil {
		slog.Debug("duplex: schedule playback", "err", err)
		return
	}
	s.metrics.PlaybackScheduled.Add(ctx, 1)
	slog.Debug("duplex: playback scheduled", "start", start, "duration", buf.Duration())
}
