// Package queue is the hand-off between the upscale stage and the
// optimization workers.
package queue

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Queue is an unbounded FIFO of file paths. Enqueue never blocks; Dequeue
// blocks until an item is available, the queue is closed or ctx is done.
// Safe for concurrent producers and consumers.
type Queue struct {
	mu     sync.Mutex
	items  *linkedlistqueue.Queue
	closed bool

	// ready holds at most one wake-up token; whoever consumes it passes it
	// on while items remain.
	ready chan struct{}
	done  chan struct{}
}

func New() *Queue {
	return &Queue{
		items: linkedlistqueue.New(),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue adds path. Items enqueued after Close are still stored and can be
// observed through Len, but blocked consumers are no longer woken for them.
func (q *Queue) Enqueue(path string) {
	q.mu.Lock()
	q.items.Enqueue(path)
	q.mu.Unlock()
	q.signal()
}

// Dequeue returns the next path. ok is false when the queue was closed and
// drained, or ctx ended first.
func (q *Queue) Dequeue(ctx context.Context) (path string, ok bool) {
	for {
		q.mu.Lock()
		if v, found := q.items.Dequeue(); found {
			more := !q.items.Empty()
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return v.(string), true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", false
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-q.done:
		case <-q.ready:
		}
	}
}

// Len is a point-in-time count for progress reporting only.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

// Close wakes every blocked consumer. Remaining items can still be
// dequeued. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
