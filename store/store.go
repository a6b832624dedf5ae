// Package store defines the aggregate Store interface for courier persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them.
package store

import (
	"context"
	"errors"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/webhook"
)

// ErrClosed is returned when a store is used after Close.
var ErrClosed = errors.New("courier: store is closed")

// Store is the aggregate persistence interface.
type Store interface {
	webhook.Store
	delivery.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
