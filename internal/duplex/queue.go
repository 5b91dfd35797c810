package duplex

import (
	"context"
	"sync"
)

// defaultSendQueue is the number of encoded capture windows held for the
// sender goroutine. At 4096 samples / 16 kHz this is roughly 16 s of audio.
const defaultSendQueue = 64

// sendQueue is a bounded FIFO of encoded frames with drop-oldest overflow.
// One goroutine pushes (capture) and one pops (sender).
type sendQueue struct {
	mu     sync.Mutex
	items  []string
	limit  int
	closed bool
	ready  chan struct{}
}

func newSendQueue(limit int) *sendQueue {
	if limit <= 0 {
		limit = defaultSendQueue
	}
	return &sendQueue{
		items: make([]string, 0, limit),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// push appends frame. When the queue is full the oldest frame is discarded
// and dropped reports true. Pushing to a closed queue is a no-op.
func (q *sendQueue) push(frame string) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.items) >= q.limit {
		q.items[0] = ""
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, frame)
	q.mu.Unlock()

	q.signal()
	return dropped
}

// pop blocks until a frame is available, the queue is closed or ctx is done.
// Frames still queued at close are discarded.
func (q *sendQueue) pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return "", false
		}
		if len(q.items) > 0 {
			frame := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return frame, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return "", false
		}
	}
}

func (q *sendQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.signal()
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *sendQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
