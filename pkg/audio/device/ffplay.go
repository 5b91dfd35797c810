// Package device provides a speaker implementation of [playback.Device] that
// pipes PCM into an ffplay process.
//
// ffplay plays whatever arrives on its stdin as fast as the sound card drains
// it, so the speaker paces writes against its own monotonic clock: each started
// buffer is written in small chunks just ahead of the time they are due.
// Handles are chained in Start order and a handle writes nothing until its
// predecessor has written its last chunk or stopped, so back-to-back buffers
// reach the player in order. A stopped handle simply stops writing. Flush restarts ffplay to discard the
// few milliseconds of audio it already holds.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/nexus/pkg/audio"
	"github.com/MrWong99/nexus/pkg/audio/playback"
)

var (
	_ playback.Device  = (*Speaker)(nil)
	_ playback.Flusher = (*Speaker)(nil)
)

// ErrUnavailable is returned by [Open] when the player process cannot be
// started.
var ErrUnavailable = errors.New("device: output unavailable")

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("device: speaker closed")

const (
	defaultCommand    = "ffplay"
	defaultSampleRate = 24000
	defaultChunk      = 20 * time.Millisecond
	defaultLead       = 60 * time.Millisecond
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a Speaker.
type Option func(*Speaker)

// WithCommand overrides the ffplay executable.
func WithCommand(cmd string) Option {
	return func(s *Speaker) {
		if cmd != "" {
			s.command = cmd
		}
	}
}

// WithFormat sets the PCM format written to the player. Buffers in any other
// format are converted.
func WithFormat(sampleRate, channels int) Option {
	return func(s *Speaker) {
		if sampleRate > 0 {
			s.format.SampleRate = sampleRate
		}
		if channels > 0 {
			s.format.Channels = channels
		}
	}
}

// WithChunk sets the pacing granularity and how far ahead of real time chunks
// are written.
func WithChunk(chunk, lead time.Duration) Option {
	return func(s *Speaker) {
		if chunk > 0 {
			s.chunk = chunk
		}
		if lead >= 0 {
			s.lead = lead
		}
	}
}

// WithWriter replaces the player process with w. Used by tests and by the
// -no-speaker mode of the CLI.
func WithWriter(w io.Writer) Option {
	return func(s *Speaker) { s.sink = w }
}

// ── Speaker ────────────────────────────────────────────────────────────────────

// Speaker is a paced PCM writer in front of an ffplay process.
// All methods are safe for concurrent use.
type Speaker struct {
	command string
	format  audio.Format
	chunk   time.Duration
	lead    time.Duration
	sink    io.Writer
	origin  time.Time

	convMu sync.Mutex
	conv   audio.FormatConverter

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
	// tail is closed once the most recently started handle has finished
	// writing. Nil before the first Start.
	tail chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open starts the player and returns a Speaker whose clock starts now.
func Open(ctx context.Context, opts ...Option) (*Speaker, error) {
	s := &Speaker{
		command: defaultCommand,
		format:  audio.Format{SampleRate: defaultSampleRate, Channels: 1},
		chunk:   defaultChunk,
		lead:    defaultLead,
	}
	for _, o := range opts {
		o(s)
	}
	s.conv.Target = s.format

	if s.sink == nil {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		s.mu.Lock()
		err := s.startLocked()
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.origin = time.Now()
	return s, nil
}

// Format returns the PCM format written to the player.
func (s *Speaker) Format() audio.Format { return s.format }

// Now returns the time elapsed since Open, read from the monotonic clock.
func (s *Speaker) Now() time.Duration { return time.Since(s.origin) }

// Start schedules buf to begin at device time at.
func (s *Speaker) Start(buf audio.Buffer, at time.Duration) (playback.Handle, error) {
	s.convMu.Lock()
	frame := s.conv.Convert(buf.Frame())
	s.convMu.Unlock()
	if len(frame.Data) == 0 && buf.Frames() > 0 {
		return nil, fmt.Errorf("device: cannot convert %d-channel %dHz buffer", buf.NumChannels(), buf.SampleRate)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.wg.Add(1)
	prev := s.tail
	written := make(chan struct{})
	s.tail = written
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		s.play(ctx, frame.Data, at, buf.Duration(), prev, written)
	}()
	return h, nil
}

// play writes pcm in chunk-sized pieces, each shortly before it is due, then
// waits for the buffer's end time. No chunk is written before prev is closed.
// written is closed once this handle is done writing and prev is closed, so
// the chain stays ordered even when a handle in the middle is stopped early.
func (s *Speaker) play(ctx context.Context, pcm []byte, at, dur time.Duration, prev <-chan struct{}, written chan struct{}) {
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if prev == nil {
			close(written)
			return
		}
		select {
		case <-prev:
			close(written)
		default:
			go func() {
				<-prev
				close(written)
			}()
		}
	}
	defer release()

	bytesPerSec := s.format.SampleRate * s.format.Channels * 2
	chunkBytes := int(int64(bytesPerSec) * int64(s.chunk) / int64(time.Second))
	chunkBytes -= chunkBytes % (2 * s.format.Channels)
	if chunkBytes <= 0 {
		chunkBytes = 2 * s.format.Channels
	}

	for off := 0; off < len(pcm); off += chunkBytes {
		due := at + time.Duration(int64(off)*int64(time.Second)/int64(bytesPerSec)) - s.lead
		if !s.sleepUntil(ctx, due) {
			return
		}
		if off == 0 && prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return
			}
		}
		end := min(off+chunkBytes, len(pcm))
		if err := s.write(pcm[off:end]); err != nil {
			slog.Debug("device: write failed", "err", err)
			return
		}
	}
	release()
	s.sleepUntil(ctx, at+dur)
}

// sleepUntil blocks until device time t or ctx is done. It reports whether t
// was reached.
func (s *Speaker) sleepUntil(ctx context.Context, t time.Duration) bool {
	wait := t - s.Now()
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Speaker) write(p []byte) error {
	if s.sink != nil {
		_, err := s.sink.Write(p)
		return err
	}
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return errors.New("device: ffplay is not running")
	}
	_, err := stdin.Write(p)
	return err
}

// Flush restarts the player process, discarding audio it has already
// buffered. It is a no-op when writing to a custom writer.
func (s *Speaker) Flush() error {
	if s.sink != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.stopLocked()
	if err := s.startLocked(); err != nil {
		return fmt.Errorf("device: restart ffplay: %w", err)
	}
	return nil
}

// Close stops all playback and the player process. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	return nil
}

func (s *Speaker) startLocked() error {
	layout := "mono"
	if s.format.Channels == 2 {
		layout = "stereo"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-fflags", "nobuffer",
		"-f", "s16le",
		"-ch_layout", layout,
		"-ar", strconv.Itoa(s.format.SampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.command, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return err
	}
	slog.Debug("device: ffplay started", "pid", cmd.Process.Pid, "format", s.format.String())

	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

func (s *Speaker) stopLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}

// ── handle ─────────────────────────────────────────────────────────────────────

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *handle) Stop()                 { h.cancel() }
func (h *handle) Done() <-chan struct{} { return h.done }
