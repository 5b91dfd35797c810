package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrDeviceUnavailable is returned when the microphone cannot be opened.
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

const (
	startupGrace = 250 * time.Millisecond
	stopTimeout  = 1200 * time.Millisecond
)

// FFmpegConfig selects the ffmpeg input and output encoding. Zero values pick
// platform defaults.
type FFmpegConfig struct {
	// Command is the ffmpeg executable. Defaults to "ffmpeg".
	Command string
	// InputFormat is the ffmpeg demuxer (pulse, alsa, avfoundation, dshow).
	InputFormat string
	// InputDevice is the device name understood by InputFormat.
	InputDevice string
	// SampleRate in Hz. Defaults to 16000.
	SampleRate int
	// Format is the raw encoding written to stdout. Defaults to Float32LE.
	Format SampleFormat
}

// DefaultInput returns the default ffmpeg demuxer and device for goos.
func DefaultInput(goos string) (format, device string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

func (c FFmpegConfig) withDefaults() FFmpegConfig {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if !c.Format.IsValid() {
		c.Format = Float32LE
	}
	if c.InputFormat == "" {
		c.InputFormat, c.InputDevice = DefaultInput(runtime.GOOS)
	} else if c.InputDevice == "" {
		_, c.InputDevice = DefaultInput(runtime.GOOS)
	}
	return c
}

// Args returns the ffmpeg command line (without the executable) for c.
func (c FFmpegConfig) Args() []string {
	c = c.withDefaults()
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.InputFormat,
		"-i", c.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(c.SampleRate),
		"-f", string(c.Format),
		"-",
	}
}

// FFmpegSource is a microphone stream read from an ffmpeg child process.
type FFmpegSource struct {
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

var _ Source = (*FFmpegSource)(nil)

// OpenFFmpeg starts ffmpeg and waits briefly to make sure the input device
// opened. Any failure is reported as [ErrDeviceUnavailable].
func OpenFFmpeg(ctx context.Context, cfg FFmpegConfig) (*FFmpegSource, error) {
	cfg = cfg.withDefaults()

	cmd := exec.Command(cfg.Command, cfg.Args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", ErrDeviceUnavailable, cfg.Command, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	src := &FFmpegSource{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}

	select {
	case err := <-waitErr:
		msg := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited: %w: %s", ErrDeviceUnavailable, err, msg)
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %s", ErrDeviceUnavailable, msg)
	case <-ctx.Done():
		_ = src.Close()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, ctx.Err())
	case <-time.After(startupGrace):
	}
	return src, nil
}

// Read reads raw PCM from ffmpeg's stdout.
func (s *FFmpegSource) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close interrupts ffmpeg, killing it if it does not exit in time. Idempotent.
func (s *FFmpegSource) Close() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeExit(err)
			}
		case <-time.After(stopTimeout):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeExit(err)
			}
		}

		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = err
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

// normalizeExit treats a non-zero exit after our interrupt as a clean stop.
func normalizeExit(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}
