// Package queue defines the FIFO of delivery tasks feeding the worker pool.
package queue

import (
	"context"
	"errors"

	"github.com/xraph/courier/id"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("courier: queue is closed")

// Task asks a worker to attempt one delivery.
type Task struct {
	DeliveryID id.ID `json:"delivery_id"`
	WebhookID  id.ID `json:"webhook_id"`
}

// Queue is a FIFO of tasks shared by all workers.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error

	// Dequeue blocks until a task is available, the queue is closed or ctx
	// is done.
	Dequeue(ctx context.Context) (Task, error)

	Len(ctx context.Context) (int, error)
	Close() error
}
