// Package memory provides an unbounded in-process task queue.
package memory

import (
	"context"
	"sync"

	"github.com/xraph/courier/queue"
)

var _ queue.Queue = (*Queue)(nil)

// Queue is an unbounded FIFO guarded by a mutex.
type Queue struct {
	mu     sync.Mutex
	items  []queue.Task
	closed bool

	ready chan struct{}
	done  chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue appends t. It never blocks.
func (q *Queue) Enqueue(_ context.Context, t queue.Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return queue.ErrClosed
	}
	q.items = append(q.items, t)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue removes the oldest task, waiting for one if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (queue.Task, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = queue.Task{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return t, nil
		}
		if q.closed {
			q.mu.Unlock()
			return queue.Task{}, queue.ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return queue.Task{}, ctx.Err()
		case <-q.done:
		case <-q.ready:
		}
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Close wakes all waiters. Tasks still queued are dropped.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.items = nil
		close(q.done)
	}
	return nil
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
