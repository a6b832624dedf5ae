package courier

import (
	"errors"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/webhook"
)

// Sentinel errors returned by Courier operations.
var (
	// ErrNoStore is returned when a Courier is created without a store.
	ErrNoStore = errors.New("courier: store is required")

	// ErrStopped is returned by Trigger and Start after Stop.
	ErrStopped = errors.New("courier: stopped")

	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("courier: invalid configuration")

	// ErrInvalidURL is returned when a webhook URL is not http or https.
	ErrInvalidURL = webhook.ErrInvalidURL

	// ErrWebhookNotFound is returned when a webhook cannot be found.
	ErrWebhookNotFound = webhook.ErrNotFound

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = delivery.ErrNotFound

	// ErrDeliveryTerminal is returned when modifying a final delivery.
	ErrDeliveryTerminal = delivery.ErrTerminal

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = store.ErrClosed
)
