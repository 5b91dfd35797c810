package playback_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/nexus/pkg/audio"
	"github.com/MrWong99/nexus/pkg/audio/playback"
	"github.com/MrWong99/nexus/pkg/audio/playback/mock"
)

// silence returns a mono 24 kHz buffer of the given length.
func silence(d time.Duration) audio.Buffer {
	frames := int(d * 24000 / time.Second)
	return audio.Buffer{Channels: [][]float32{make([]float32, frames)}, SampleRate: 24000}
}

func newScheduler(t *testing.T) (*playback.Scheduler, *mock.Device) {
	t.Helper()
	dev := &mock.Device{}
	s, err := playback.New(dev)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dev
}

func TestNew_NilDevice(t *testing.T) {
	t.Parallel()

	if _, err := playback.New(nil); !errors.Is(err, playback.ErrNilDevice) {
		t.Errorf("New(nil) error = %v, want ErrNilDevice", err)
	}
}

func TestSchedule_BackToBack(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)
	dev.Advance(2 * time.Second)
	t0 := dev.Now()

	for range 2 {
		if _, err := s.Schedule(silence(500 * time.Millisecond)); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	got := dev.StartTimes()
	want := []time.Duration{t0, t0 + 500*time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("got %d starts, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("start %d = %v, want %v", i, got[i], want[i])
		}
	}
	if s.Cursor() != t0+time.Second {
		t.Errorf("Cursor() = %v, want %v", s.Cursor(), t0+time.Second)
	}
	if s.Active() != 2 {
		t.Errorf("Active() = %d, want 2", s.Active())
	}
}

func TestSchedule_Monotonic(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)
	durations := []time.Duration{
		100 * time.Millisecond, 250 * time.Millisecond, 40 * time.Millisecond,
		500 * time.Millisecond, 10 * time.Millisecond, 170 * time.Millisecond,
	}
	// Clock steps interleaved with scheduling: some behind the cursor, some past it.
	steps := []time.Duration{0, 50 * time.Millisecond, 0, 2 * time.Second, 0, 30 * time.Millisecond}

	var prevCursor, prevStart, prevDur time.Duration
	for i, d := range durations {
		dev.Advance(steps[i])
		ahead := prevCursor > dev.Now()

		start, err := s.Schedule(silence(d))
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if s.Cursor() < prevCursor {
			t.Errorf("step %d: cursor went backwards %v → %v", i, prevCursor, s.Cursor())
		}
		if start < dev.Now() {
			t.Errorf("step %d: start %v is in the past (now %v)", i, start, dev.Now())
		}
		if i > 0 && ahead && start != prevStart+prevDur {
			t.Errorf("step %d: start %v, want %v (back-to-back)", i, start, prevStart+prevDur)
		}
		prevCursor, prevStart, prevDur = s.Cursor(), start, d
	}
}

func TestSchedule_AfterIdleStartsAtDeviceTime(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)
	if _, err := s.Schedule(silence(100 * time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	dev.Advance(3 * time.Second)

	start, err := s.Schedule(silence(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if start != 3*time.Second {
		t.Errorf("start = %v, want 3s (no scheduling in the past)", start)
	}
}

func TestSchedule_PrunesFinished(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)
	for range 3 {
		if _, err := s.Schedule(silence(200 * time.Millisecond)); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	dev.Advance(450 * time.Millisecond)
	if got := s.Active(); got != 1 {
		t.Errorf("Active() = %d, want 1 after two handles finished", got)
	}
	dev.Advance(time.Second)
	if got := s.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}

func TestSchedule_EmptyBuffer(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)
	if _, err := s.Schedule(audio.Buffer{SampleRate: 24000}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(dev.Starts) != 0 {
		t.Errorf("empty buffer should not be started, got %d starts", len(dev.Starts))
	}
	if s.Active() != 0 {
		t.Errorf("Active() = %d, want 0", s.Active())
	}
}

func TestSchedule_DeviceError(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)
	dev.StartErr = errors.New("device gone")

	if _, err := s.Schedule(silence(100 * time.Millisecond)); err == nil {
		t.Fatal("expected error from Schedule")
	}
	if s.Cursor() != 0 {
		t.Errorf("cursor advanced to %v on failed start", s.Cursor())
	}
	if s.Active() != 0 {
		t.Errorf("Active() = %d, want 0", s.Active())
	}
}

func TestInterrupt_StopsAllAndResetsCursor(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)
	dev.Advance(10 * time.Second)
	for range 3 {
		if _, err := s.Schedule(silence(500 * time.Millisecond)); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	if s.Cursor() != 11500*time.Millisecond {
		t.Fatalf("Cursor() = %v before interrupt, want 11.5s", s.Cursor())
	}

	if n := s.Interrupt(); n != 3 {
		t.Errorf("Interrupt() = %d, want 3", n)
	}
	for i, call := range dev.Starts {
		if !call.Handle.Stopped() {
			t.Errorf("handle %d not stopped", i)
		}
	}
	if s.Active() != 0 {
		t.Errorf("Active() = %d after interrupt, want 0", s.Active())
	}
	if s.Cursor() != 0 {
		t.Errorf("Cursor() = %v after interrupt, want 0", s.Cursor())
	}
	if dev.FlushCount != 1 {
		t.Errorf("FlushCount = %d, want 1", dev.FlushCount)
	}

	// The next buffer starts now, not at the old cursor.
	dev.Advance(100 * time.Millisecond)
	start, err := s.Schedule(silence(500 * time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if start != 10100*time.Millisecond {
		t.Errorf("start after interrupt = %v, want 10.1s", start)
	}
}

func TestInterrupt_FinishedHandleIsNoop(t *testing.T) {
	t.Parallel()

	s, dev := newScheduler(t)
	if _, err := s.Schedule(silence(100 * time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := s.Schedule(silence(100 * time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	dev.Starts[0].Handle.Finish()

	if n := s.Interrupt(); n != 1 {
		t.Errorf("Interrupt() = %d, want 1", n)
	}
	if dev.Starts[0].Handle.Stopped() {
		t.Error("finished handle should not be stopped")
	}
	if !dev.Starts[1].Handle.Stopped() {
		t.Error("in-flight handle should be stopped")
	}
}

func TestInterrupt_Empty(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(t)
	if n := s.Interrupt(); n != 0 {
		t.Errorf("Interrupt() = %d, want 0", n)
	}
	if n := s.Interrupt(); n != 0 {
		t.Errorf("second Interrupt() = %d, want 0", n)
	}
	if s.Cursor() != 0 {
		t.Errorf("Cursor() = %v, want 0", s.Cursor())
	}
}
