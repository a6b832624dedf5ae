package delivery

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/courier/queue"
)

// Scheduler re-enqueues tasks once their retry delay has passed. A single
// goroutine owns a min-heap of due times and one timer, so waiting retries
// never hold a worker.
type Scheduler struct {
	queue  queue.Queue
	logger *slog.Logger

	add     chan scheduled
	stop    chan struct{}
	done    chan struct{}
	start   sync.Once
	halt    sync.Once
	pending atomic.Int64

	// observe, when set, receives the number of waiting tasks whenever it
	// changes.
	observe func(n int)
}

type scheduled struct {
	task queue.Task
	due  time.Time
}

// NewScheduler creates a scheduler feeding q.
func NewScheduler(q queue.Queue, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		queue:  q,
		logger: logger,
		add:    make(chan scheduled),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the scheduling goroutine. Subsequent calls are no-ops.
func (s *Scheduler) Start() {
	s.start.Do(func() { go s.run() })
}

// Schedule enqueues t at due. It reports false once the scheduler is stopped.
func (s *Scheduler) Schedule(t queue.Task, due time.Time) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.add <- scheduled{task: t, due: due}:
		return true
	case <-s.stop:
		return false
	}
}

// Len returns the number of tasks waiting for their due time.
func (s *Scheduler) Len() int {
	return int(s.pending.Load())
}

// Stop discards waiting tasks and stops the goroutine. The ledger keeps the
// deliveries pending, so they are picked up again on the next start.
func (s *Scheduler) Stop() {
	s.halt.Do(func() { close(s.stop) })
	s.start.Do(func() { close(s.done) })
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	var h dueHeap
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			s.pending.Store(0)
			s.report()
			return

		case item := <-s.add:
			heap.Push(&h, item)
			s.pending.Add(1)
			s.report()

		case <-timer.C:
			now := time.Now()
			for h.Len() > 0 && !h[0].due.After(now) {
				item := heap.Pop(&h).(scheduled)
				s.pending.Add(-1)
				s.enqueue(item.task)
			}
			s.report()
		}

		if h.Len() > 0 {
			timer.Reset(time.Until(h[0].due))
		}
	}
}

func (s *Scheduler) report() {
	if s.observe != nil {
		s.observe(s.Len())
	}
}

func (s *Scheduler) enqueue(t queue.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.queue.Enqueue(ctx, t); err != nil {
		s.logger.Error("re-enqueue scheduled delivery failed",
			"delivery_id", t.DeliveryID, "error", err)
	}
}

type dueHeap []scheduled

func (h dueHeap) Len() int           { return len(h) }
func (h dueHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h dueHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x any)        { *h = append(*h, x.(scheduled)) }
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
