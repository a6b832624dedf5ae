package webhook

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// Store defines the persistence contract for webhooks.
//
// Implementations return copies; callers never share memory with the store.
// UpdateWebhook writes configuration fields only, so it cannot clobber
// counters maintained by RecordAttempt and RecordOutcome.
type Store interface {
	CreateWebhook(ctx context.Context, w *Webhook) error
	GetWebhook(ctx context.Context, whID id.ID) (*Webhook, error)
	UpdateWebhook(ctx context.Context, w *Webhook) error
	DeleteWebhook(ctx context.Context, whID id.ID) error

	// ListWebhooks returns webhooks ordered by creation time.
	ListWebhooks(ctx context.Context, opts ListOpts) ([]*Webhook, error)

	// RecordAttempt increments Stats.TotalAttempts.
	RecordAttempt(ctx context.Context, whID id.ID) error

	// RecordOutcome applies one terminal outcome to the stats atomically.
	RecordOutcome(ctx context.Context, whID id.ID, success bool, at time.Time) error
}
