package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/courier/id"
)

var (
	// ErrNotFound is returned when no delivery has the requested ID.
	ErrNotFound = errors.New("courier: delivery not found")

	// ErrTerminal is returned when modifying a delivered or failed record.
	ErrTerminal = errors.New("courier: delivery is already final")

	// ErrNotInFlight is returned when an attempt is recorded on a delivery
	// that no worker has claimed.
	ErrNotInFlight = errors.New("courier: delivery is not in flight")
)

// Store is the delivery ledger.
//
// ClaimDelivery is the only way to move a delivery to in_flight and must be
// atomic: of two concurrent claims at most one succeeds. A claim stamps
// ClaimedAt; release and completion clear it. Terminal records are never
// modified again.
type Store interface {
	CreateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// ClaimDelivery moves a pending delivery to in_flight and returns it.
	// It reports false, without error, when the delivery is missing, final
	// or already claimed.
	ClaimDelivery(ctx context.Context, delID id.ID) (*Delivery, bool, error)

	// IncrementAttempts bumps the attempt counter of an in-flight delivery
	// and returns the new value.
	IncrementAttempts(ctx context.Context, delID id.ID) (int, error)

	// ReleaseDelivery returns an in-flight delivery to pending, persisting
	// StatusMessage, LastStatusCode and NextAttemptAt.
	ReleaseDelivery(ctx context.Context, d *Delivery) error

	// CompleteDelivery moves a delivery to d.Status, which must be terminal,
	// persisting StatusMessage, LastStatusCode and CompletedAt.
	CompleteDelivery(ctx context.Context, d *Delivery) error

	ListDeliveries(ctx context.Context, opts ListOpts) ([]*Delivery, error)

	// PendingDeliveries returns every pending delivery, oldest first.
	PendingDeliveries(ctx context.Context) ([]*Delivery, error)

	// RecoverInFlight returns to pending every in-flight delivery claimed
	// before staleBefore and returns the recovered records. Fresher claims
	// belong to a live worker, possibly in another process, and are left
	// alone.
	RecoverInFlight(ctx context.Context, staleBefore time.Time) ([]*Delivery, error)

	// PurgeDeliveries removes final deliveries completed before cutoff.
	PurgeDeliveries(ctx context.Context, cutoff time.Time) (int, error)
}
