// Package playback schedules decoded model speech onto an output device.
//
// The [Scheduler] keeps a single playback cursor: the device time at which the
// next buffer will begin. Buffers are started back-to-back in the order they
// are scheduled, so a burst of inbound audio plays as one continuous stream
// without gaps or overlap. [Scheduler.Interrupt] hard-stops everything in
// flight and rewinds the cursor, which is how barge-in is honoured.
//
// A Scheduler is not safe for concurrent use. It is meant to be owned by a
// single goroutine (the session's inbound message handler).
package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/nexus/pkg/audio"
)

// Device is an output device with a monotonic clock.
type Device interface {
	// Now returns the current device time, measured from an arbitrary fixed
	// origin. It never decreases.
	Now() time.Duration

	// Start arranges for buf to begin playing at device time at. If at is in
	// the past the buffer starts immediately. Start must not block until
	// playback completes.
	Start(buf audio.Buffer, at time.Duration) (Handle, error)
}

// Flusher is implemented by devices that hold audio in a buffer outside the
// scheduler's handles. Interrupt calls Flush so queued samples are dropped too.
type Flusher interface {
	Flush() error
}

// Handle controls one started buffer.
type Handle interface {
	// Stop ends playback immediately. Stopping a finished handle is a no-op.
	Stop()

	// Done is closed when playback has finished or been stopped.
	Done() <-chan struct{}
}

// ErrNilDevice is returned by [New] when no device is given.
var ErrNilDevice = errors.New("playback: nil device")

// Scheduler sequences buffers on a Device. See the package documentation.
type Scheduler struct {
	device Device
	cursor time.Duration
	active []Handle
}

// New creates a Scheduler for device with a zero cursor and no active handles.
func New(device Device) (*Scheduler, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	return &Scheduler{device: device}, nil
}

// Schedule starts buf at max(cursor, device time) and advances the cursor by
// the buffer's duration. It returns the start time. Empty buffers are skipped.
func (s *Scheduler) Schedule(buf audio.Buffer) (time.Duration, error) {
	s.prune()

	s.cursor = max(s.cursor, s.device.Now())
	if buf.Frames() == 0 {
		return s.cursor, nil
	}

	start := s.cursor
	h, err := s.device.Start(buf, start)
	if err != nil {
		return start, fmt.Errorf("playback: start buffer at %s: %w", start, err)
	}
	s.cursor += buf.Duration()
	s.active = append(s.active, h)
	return start, nil
}

// Interrupt stops every active handle, clears the active set and resets the
// cursor to zero. It returns the number of handles that were stopped.
func (s *Scheduler) Interrupt() int {
	s.prune()
	n := len(s.active)
	for _, h := range s.active {
		h.Stop()
	}
	clear(s.active)
	s.active = s.active[:0]
	s.cursor = 0

	if f, ok := s.device.(Flusher); ok {
		_ = f.Flush()
	}
	return n
}

// Cursor returns the device time at which the next buffer would start if the
// scheduler is ahead of real time.
func (s *Scheduler) Cursor() time.Duration { return s.cursor }

// Active returns the number of handles that have been started but have not yet
// finished.
func (s *Scheduler) Active() int {
	s.prune()
	return len(s.active)
}

// prune drops handles that finished on their own.
func (s *Scheduler) prune() {
	kept := s.active[:0]
	for _, h := range s.active {
		select {
		case <-h.Done():
		default:
			kept = append(kept, h)
		}
	}
	clear(s.active[len(kept):])
	s.active = kept
}
