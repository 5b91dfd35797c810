// Package capture turns a live microphone stream into fixed-size sample
// windows.
//
// A [Pipeline] reads raw PCM from a [Source] and invokes its window callback
// once for every complete window, in capture order. Partial windows are never
// emitted. The callback runs on the pipeline's goroutine, so it must hand work
// off (for example to a send queue) instead of blocking on the network.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

// DefaultWindow is the number of samples per emitted window.
const DefaultWindow = 4096

// SampleFormat is the raw encoding produced by a Source.
type SampleFormat string

const (
	// Float32LE is 32-bit little-endian IEEE floats in [-1, 1].
	Float32LE SampleFormat = "f32le"
	// Int16LE is signed 16-bit little-endian integers.
	Int16LE SampleFormat = "s16le"
)

// IsValid reports whether f is a supported sample format.
func (f SampleFormat) IsValid() bool {
	return f == Float32LE || f == Int16LE
}

func (f SampleFormat) bytesPerSample() int {
	if f == Int16LE {
		return 2
	}
	return 4
}

// Source is an open capture device stream.
type Source interface {
	io.ReadCloser
}

// WindowFunc receives one full window of mono samples. The slice is owned by
// the callee.
type WindowFunc func(samples []float32)

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWindow sets the window size in samples.
func WithWindow(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.window = n
		}
	}
}

// WithSampleFormat sets the encoding the source produces. Defaults to
// [Float32LE].
func WithSampleFormat(f SampleFormat) Option {
	return func(p *Pipeline) {
		if f.IsValid() {
			p.format = f
		}
	}
}

// ── Pipeline ───────────────────────────────────────────────────────────────────

// Pipeline frames a Source into windows.
type Pipeline struct {
	src      Source
	onWindow WindowFunc
	window   int
	format   SampleFormat

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	mu      sync.Mutex
	windows int
}

// New returns a Pipeline reading from src. onWindow must not be nil.
func New(src Source, onWindow WindowFunc, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:      src,
		onWindow: onWindow,
		window:   DefaultWindow,
		format:   Float32LE,
		closed:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Window returns the configured window size in samples.
func (p *Pipeline) Window() int { return p.window }

// Windows returns how many full windows have been emitted so far.
func (p *Pipeline) Windows() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.windows
}

// Run reads the source until it ends, ctx is cancelled or Close is called,
// emitting one callback per full window. A trailing partial window is
// discarded. Run returns nil on a normal end of stream or shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = p.Close() })
	defer stop()

	raw := make([]byte, p.window*p.format.bytesPerSample())
	for {
		if _, err := io.ReadFull(p.src, raw); err != nil {
			if p.isClosed() || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("capture: read: %w", err)
		}
		if p.isClosed() {
			return nil
		}

		p.onWindow(p.decode(raw))

		p.mu.Lock()
		p.windows++
		p.mu.Unlock()
	}
}

func (p *Pipeline) decode(raw []byte) []float32 {
	samples := make([]float32, p.window)
	switch p.format {
	case Int16LE:
		for i := range samples {
			samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
		}
	default:
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	return samples
}

func (p *Pipeline) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Close releases the source. It is safe to call more than once and from any
// goroutine; every call returns the result of the first.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.closeErr = p.src.Close()
	})
	return p.closeErr
}
