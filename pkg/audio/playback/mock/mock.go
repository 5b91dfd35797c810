// Package mock provides a manually clocked [playback.Device] for unit tests.
//
// The device never produces sound. Tests move its clock with [Device.Advance]
// and inspect [Device.Starts] to see which buffers were started and when.
// Handles finish either when the clock passes their end time or when the test
// calls [Handle.Finish].
//
// Example:
//
//	dev := &mock.Device{}
//	sched, _ := playback.New(dev)
//	sched.Schedule(buf)
//	dev.Advance(time.Second)
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/nexus/pkg/audio"
	"github.com/MrWong99/nexus/pkg/audio/playback"
)

var (
	_ playback.Device  = (*Device)(nil)
	_ playback.Flusher = (*Device)(nil)
	_ playback.Handle  = (*Handle)(nil)
)

// StartCall records a single invocation of Device.Start.
type StartCall struct {
	// Buf is the buffer passed to Start.
	Buf audio.Buffer
	// At is the requested start time.
	At time.Duration
	// Handle is the handle returned for this call.
	Handle *Handle
}

// Device is a mock implementation of playback.Device. The zero value is ready
// to use with its clock at zero.
type Device struct {
	mu sync.Mutex

	now time.Duration

	// StartErr, if non-nil, is returned as the error from Start.
	StartErr error

	// FlushErr is returned by Flush.
	FlushErr error

	// Starts records every successful call to Start in order.
	Starts []StartCall

	// FlushCount is the number of times Flush was called.
	FlushCount int
}

// Now returns the mock clock.
func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// Advance moves the clock forward by delta and finishes every handle whose
// end time has been reached.
func (d *Device) Advance(delta time.Duration) {
	d.mu.Lock()
	d.now += delta
	now := d.now
	starts := append([]StartCall(nil), d.Starts...)
	d.mu.Unlock()

	for _, s := range starts {
		if s.Handle.End <= now {
			s.Handle.Finish()
		}
	}
}

// Start records the call and returns a new Handle, or StartErr.
func (d *Device) Start(buf audio.Buffer, at time.Duration) (playback.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return nil, d.StartErr
	}
	h := &Handle{
		Start: max(at, d.now),
		End:   max(at, d.now) + buf.Duration(),
		done:  make(chan struct{}),
	}
	d.Starts = append(d.Starts, StartCall{Buf: buf, At: at, Handle: h})
	return h, nil
}

// Flush records the call and returns FlushErr.
func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FlushCount++
	return d.FlushErr
}

// StartTimes returns the requested start time of every recorded Start call.
func (d *Device) StartTimes() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Duration, len(d.Starts))
	for i, s := range d.Starts {
		out[i] = s.At
	}
	return out
}

// Calls returns a copy of the recorded Start calls. Use it instead of reading
// Starts while another goroutine may be scheduling.
func (d *Device) Calls() []StartCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]StartCall(nil), d.Starts...)
}

// Flushes returns FlushCount under the device lock.
func (d *Device) Flushes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.FlushCount
}

// Handle is a mock implementation of playback.Handle.
type Handle struct {
	// Start and End are the device times the buffer occupies.
	Start, End time.Duration

	mu        sync.Mutex
	stopCount int
	stopped   bool
	done      chan struct{}
	once      sync.Once
}

// Stop marks the handle stopped and closes Done.
func (h *Handle) Stop() {
	h.mu.Lock()
	h.stopCount++
	h.stopped = true
	h.mu.Unlock()
	h.once.Do(func() { close(h.done) })
}

// Finish simulates natural completion.
func (h *Handle) Finish() {
	h.once.Do(func() { close(h.done) })
}

// Done is closed after Stop or Finish.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stopped reports whether Stop was called at least once.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// StopCount returns the number of Stop calls.
func (h *Handle) StopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopCount
}
