package delivery

import (
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// Status is the lifecycle state of a delivery.
type Status string

const (
	// StatusPending means the delivery awaits an attempt.
	StatusPending Status = "pending"

	// StatusInFlight means a worker holds the delivery and is attempting it.
	StatusInFlight Status = "in_flight"

	// StatusDelivered is terminal: the endpoint answered 2xx.
	StatusDelivered Status = "delivered"

	// StatusFailed is terminal: attempts ran out or the target disappeared.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Final status messages.
const (
	MessageTargetUnavailable = "target unavailable"
	MessageExhausted         = "exceeded max attempts"
	MessageRateLimited       = "rate limited"
)

// Delivery tracks one event sent to one webhook.
type Delivery struct {
	entity.Entity

	ID        id.ID  `json:"id"`
	WebhookID id.ID  `json:"webhook_id"`
	Event     string `json:"event"`
	Payload   any    `json:"payload"`

	Status        Status `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`

	// Attempts counts HTTP attempts made so far.
	Attempts int `json:"attempts"`

	// MaxAttempts is captured from configuration when the delivery is created.
	MaxAttempts int `json:"max_attempts"`

	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	LastStatusCode int        `json:"last_status_code,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	// ClaimedAt is set while the delivery is in flight. A claim older than
	// the engine's lease is treated as abandoned by a dead worker.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// Clone returns a shallow copy with its own time pointers. Payload is
// shared and treated as immutable.
func (d *Delivery) Clone() *Delivery {
	c := *d
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		c.CompletedAt = &t
	}
	if d.ClaimedAt != nil {
		t := *d.ClaimedAt
		c.ClaimedAt = &t
	}
	return &c
}

// ListOpts filters delivery listing.
type ListOpts struct {
	WebhookID id.ID
	Status    Status
	Offset    int
	Limit     int
}
