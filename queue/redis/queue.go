// Package redis provides a task queue backed by a Redis list, so several
// courier processes can share one delivery backlog.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/queue"
)

// DefaultKey is the list holding pending tasks.
const DefaultKey = "courier:queue:deliveries"

var _ queue.Queue = (*Queue)(nil)

// Queue pushes with RPUSH and pops with BLPOP.
type Queue struct {
	rdb          goredis.UniversalClient
	key          string
	blockTimeout time.Duration
	closed       atomic.Bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithKey overrides the list key.
func WithKey(key string) Option {
	return func(q *Queue) { q.key = key }
}

// WithBlockTimeout sets how long each BLPOP waits before re-checking
// for shutdown.
func WithBlockTimeout(d time.Duration) Option {
	return func(q *Queue) { q.blockTimeout = d }
}

// New creates a queue on rdb. The client is owned by the caller.
func New(rdb goredis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{
		rdb:          rdb,
		key:          DefaultKey,
		blockTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends t to the tail of the list.
func (q *Queue) Enqueue(ctx context.Context, t queue.Task) error {
	if q.closed.Load() {
		return queue.ErrClosed
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("courier: encode task: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("courier: enqueue task: %w", err)
	}
	return nil
}

// Dequeue pops the head of the list, blocking until one is available.
func (q *Queue) Dequeue(ctx context.Context) (queue.Task, error) {
	for {
		if q.closed.Load() {
			return queue.Task{}, queue.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return queue.Task{}, err
		}

		res, err := q.rdb.BLPop(ctx, q.blockTimeout, q.key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return queue.Task{}, ctxErr
			}
			return queue.Task{}, fmt.Errorf("courier: dequeue task: %w", err)
		}

		// BLPOP replies with [key, value].
		var t queue.Task
		if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
			return queue.Task{}, fmt.Errorf("courier: decode task: %w", err)
		}
		return t, nil
	}
}

// Len returns the list length.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("courier: queue length: %w", err)
	}
	return int(n), nil
}

// Close stops further use of the queue. Tasks remain in Redis.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}
