package capture_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/nexus/pkg/audio/capture"
)

// readCloser wraps a reader and counts Close calls.
type readCloser struct {
	io.Reader
	mu     sync.Mutex
	closes int
	err    error
}

func (r *readCloser) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return r.err
}

func (r *readCloser) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

func f32le(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) / float32(n)
	}
	return out
}

func TestPipeline_EmitsFullWindowsInOrder(t *testing.T) {
	t.Parallel()

	samples := ramp(3*capture.DefaultWindow + 100)
	src := &readCloser{Reader: bytes.NewReader(f32le(samples))}

	var got [][]float32
	p := capture.New(src, func(w []float32) { got = append(got, w) })
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d windows, want 3 (partial tail discarded)", len(got))
	}
	for i, w := range got {
		if len(w) != capture.DefaultWindow {
			t.Errorf("window %d has %d samples", i, len(w))
		}
		want := samples[i*capture.DefaultWindow : (i+1)*capture.DefaultWindow]
		if !slices.Equal(w, want) {
			t.Errorf("window %d out of order or corrupted", i)
		}
	}
	if p.Windows() != 3 {
		t.Errorf("Windows() = %d, want 3", p.Windows())
	}
}

func TestPipeline_NoWindowBeforeFull(t *testing.T) {
	t.Parallel()

	src := &readCloser{Reader: bytes.NewReader(f32le(make([]float32, capture.DefaultWindow-1)))}
	calls := 0
	p := capture.New(src, func([]float32) { calls++ })
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 0 {
		t.Errorf("got %d callbacks for a partial window, want 0", calls)
	}
}

func TestPipeline_SlowSourceAccumulates(t *testing.T) {
	t.Parallel()

	// A pipe delivers the window in small writes; the pipeline must wait for
	// the full window.
	pr, pw := io.Pipe()
	done := make(chan []float32, 1)
	p := capture.New(pr, func(w []float32) { done <- w }, capture.WithWindow(64))

	go func() {
		data := f32le(ramp(64))
		for off := 0; off < len(data); off += 10 {
			_, _ = pw.Write(data[off:min(off+10, len(data))])
		}
		_ = pw.Close()
	}()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case w := <-done:
		if len(w) != 64 {
			t.Errorf("window has %d samples, want 64", len(w))
		}
	default:
		t.Fatal("no window emitted")
	}
}

func TestPipeline_Int16Source(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 8)
	for i, s := range []int16{16384, -16384, 0, 32767} {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	var got []float32
	p := capture.New(&readCloser{Reader: bytes.NewReader(raw)},
		func(w []float32) { got = w },
		capture.WithWindow(4), capture.WithSampleFormat(capture.Int16LE))
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []float32{0.5, -0.5, 0, 32767.0 / 32768}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPipeline_ContextCancelStopsRun(t *testing.T) {
	t.Parallel()

	pr, _ := io.Pipe()
	p := capture.New(pr, func([]float32) {})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v after cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPipeline_CloseIdempotent(t *testing.T) {
	t.Parallel()

	closeErr := errors.New("already released")
	src := &readCloser{Reader: bytes.NewReader(nil), err: closeErr}
	p := capture.New(src, func([]float32) {})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Close(); !errors.Is(err, closeErr) {
				t.Errorf("Close() = %v, want %v", err, closeErr)
			}
		}()
	}
	wg.Wait()

	if n := src.closeCount(); n != 1 {
		t.Errorf("source closed %d times, want 1", n)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Errorf("Run after Close = %v, want nil", err)
	}
}

func TestPipeline_ReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("device unplugged")
	src := &readCloser{Reader: io.MultiReader(bytes.NewReader(make([]byte, 12)), errReader{boom})}
	p := capture.New(src, func([]float32) {}, capture.WithWindow(8))
	if err := p.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run() = %v, want %v", err, boom)
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestFFmpegConfig_Args(t *testing.T) {
	t.Parallel()

	args := capture.FFmpegConfig{InputFormat: "alsa", InputDevice: "hw:1"}.Args()
	want := []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", "alsa", "-i", "hw:1",
		"-ac", "1", "-ar", "16000",
		"-f", "f32le", "-",
	}
	if !slices.Equal(args, want) {
		t.Errorf("Args() = %v\nwant     %v", args, want)
	}
}

func TestDefaultInput(t *testing.T) {
	t.Parallel()

	tests := []struct{ goos, format, device string }{
		{"darwin", "avfoundation", ":0"},
		{"linux", "pulse", "default"},
		{"windows", "dshow", "audio=default"},
	}
	for _, tt := range tests {
		f, d := capture.DefaultInput(tt.goos)
		if f != tt.format || d != tt.device {
			t.Errorf("DefaultInput(%q) = %q, %q; want %q, %q", tt.goos, f, d, tt.format, tt.device)
		}
	}
}

func TestOpenFFmpeg_MissingBinary(t *testing.T) {
	t.Parallel()

	_, err := capture.OpenFFmpeg(context.Background(), capture.FFmpegConfig{Command: "/nonexistent/ffmpeg-binary"})
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Errorf("OpenFFmpeg error = %v, want ErrDeviceUnavailable", err)
	}
}
