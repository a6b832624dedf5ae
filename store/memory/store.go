// Package memory provides an in-memory Store.
//
// The maps are guarded by one RWMutex held only for lookups and membership
// changes. Every read-modify-write of a webhook's stats or a delivery's
// status happens under that record's own mutex, so updates to different
// records never contend.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/webhook"
)

var _ store.Store = (*Store)(nil)

type webhookEntry struct {
	mu      sync.Mutex
	w       *webhook.Webhook
	deleted bool
}

type deliveryEntry struct {
	mu sync.Mutex
	d  *delivery.Delivery
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu         sync.RWMutex
	webhooks   map[id.ID]*webhookEntry
	deliveries map[id.ID]*deliveryEntry
	closed     bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		webhooks:   make(map[id.ID]*webhookEntry),
		deliveries: make(map[id.ID]*deliveryEntry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook stores a copy of w.
func (s *Store) CreateWebhook(_ context.Context, w *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.webhooks[w.ID] = &webhookEntry{w: w.Clone()}
	return nil
}

// GetWebhook returns a copy of the webhook, secret included.
func (s *Store) GetWebhook(_ context.Context, whID id.ID) (*webhook.Webhook, error) {
	e, err := s.webhookEntry(whID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, webhook.ErrNotFound
	}
	return e.w.Clone(), nil
}

// UpdateWebhook copies the configuration fields of w onto the stored record.
func (s *Store) UpdateWebhook(_ context.Context, w *webhook.Webhook) error {
	e, err := s.webhookEntry(w.ID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return webhook.ErrNotFound
	}

	c := w.Clone()
	e.w.URL = c.URL
	e.w.Description = c.Description
	e.w.Format = c.Format
	e.w.Headers = c.Headers
	e.w.Events = c.Events
	e.w.Secret = c.Secret
	e.w.Active = c.Active
	e.w.UpdatedAt = c.UpdatedAt
	return nil
}

// DeleteWebhook removes a webhook. Holders of its entry see it as deleted.
func (s *Store) DeleteWebhook(_ context.Context, whID id.ID) error {
	s.mu.Lock()
	e, ok := s.webhooks[whID]
	if ok {
		delete(s.webhooks, whID)
	}
	s.mu.Unlock()
	if !ok {
		return webhook.ErrNotFound
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return nil
}

// ListWebhooks returns copies ordered by creation time.
func (s *Store) ListWebhooks(_ context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	entries := make([]*webhookEntry, 0, len(s.webhooks))
	for _, e := range s.webhooks {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	result := make([]*webhook.Webhook, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && (!opts.ActiveOnly || e.w.Active) {
			result = append(result, e.w.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// RecordAttempt increments the webhook's attempt counter.
func (s *Store) RecordAttempt(_ context.Context, whID id.ID) error {
	return s.withWebhook(whID, func(w *webhook.Webhook) {
		w.Stats.TotalAttempts++
	})
}

// RecordOutcome applies a final delivery outcome to the webhook's stats.
func (s *Store) RecordOutcome(_ context.Context, whID id.ID, success bool, at time.Time) error {
	return s.withWebhook(whID, func(w *webhook.Webhook) {
		w.Stats.Apply(success, at)
	})
}

func (s *Store) withWebhook(whID id.ID, fn func(*webhook.Webhook)) error {
	e, err := s.webhookEntry(whID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return webhook.ErrNotFound
	}
	fn(e.w)
	return nil
}

func (s *Store) webhookEntry(whID id.ID) (*webhookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	e, ok := s.webhooks[whID]
	if !ok {
		return nil, webhook.ErrNotFound
	}
	return e, nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateDelivery stores a copy of d.
func (s *Store) CreateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.deliveries[d.ID] = &deliveryEntry{d: d.Clone()}
	return nil
}

// GetDelivery returns a copy of a delivery.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	e, err := s.deliveryEntry(delID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.d.Clone(), nil
}

// ClaimDelivery moves a pending delivery to in_flight.
func (s *Store) ClaimDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, bool, error) {
	e, err := s.deliveryEntry(delID)
	if errors.Is(err, delivery.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.d.Status != delivery.StatusPending {
		return nil, false, nil
	}
	now := time.Now().UTC()
	e.d.Status = delivery.StatusInFlight
	e.d.ClaimedAt = &now
	e.d.Touch()
	return e.d.Clone(), true, nil
}

// IncrementAttempts bumps the attempt counter of an in-flight delivery.
func (s *Store) IncrementAttempts(_ context.Context, delID id.ID) (int, error) {
	var n int
	err := s.withDelivery(delID, func(d *delivery.Delivery) error {
		if d.Status != delivery.StatusInFlight {
			return statusError(d.Status)
		}
		d.Attempts++
		d.Touch()
		n = d.Attempts
		return nil
	})
	return n, err
}

// ReleaseDelivery returns an in-flight delivery to pending.
func (s *Store) ReleaseDelivery(_ context.Context, in *delivery.Delivery) error {
	return s.withDelivery(in.ID, func(d *delivery.Delivery) error {
		if d.Status != delivery.StatusInFlight {
			return statusError(d.Status)
		}
		d.Status = delivery.StatusPending
		d.StatusMessage = in.StatusMessage
		d.LastStatusCode = in.LastStatusCode
		d.NextAttemptAt = in.NextAttemptAt
		d.ClaimedAt = nil
		d.Touch()
		return nil
	})
}

// CompleteDelivery moves a delivery to a final status.
func (s *Store) CompleteDelivery(_ context.Context, in *delivery.Delivery) error {
	if !in.Status.Terminal() {
		return delivery.ErrNotInFlight
	}
	return s.withDelivery(in.ID, func(d *delivery.Delivery) error {
		if d.Status.Terminal() {
			return delivery.ErrTerminal
		}
		completed := time.Now().UTC()
		if in.CompletedAt != nil {
			completed = *in.CompletedAt
		}
		d.Status = in.Status
		d.StatusMessage = in.StatusMessage
		d.LastStatusCode = in.LastStatusCode
		d.CompletedAt = &completed
		d.ClaimedAt = nil
		d.Touch()
		return nil
	})
}

// ListDeliveries returns deliveries, newest first.
func (s *Store) ListDeliveries(_ context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	all := s.snapshotDeliveries()

	result := make([]*delivery.Delivery, 0, len(all))
	for _, d := range all {
		if !opts.WebhookID.IsNil() && d.WebhookID != opts.WebhookID {
			continue
		}
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		result = append(result, d)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// PendingDeliveries returns pending deliveries, oldest first.
func (s *Store) PendingDeliveries(_ context.Context) ([]*delivery.Delivery, error) {
	var result []*delivery.Delivery
	for _, d := range s.snapshotDeliveries() {
		if d.Status == delivery.StatusPending {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// RecoverInFlight returns deliveries claimed before staleBefore to pending.
func (s *Store) RecoverInFlight(_ context.Context, staleBefore time.Time) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	entries := make([]*deliveryEntry, 0, len(s.deliveries))
	for _, e := range s.deliveries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var recovered []*delivery.Delivery
	for _, e := range entries {
		e.mu.Lock()
		if e.d.Status == delivery.StatusInFlight && (e.d.ClaimedAt == nil || e.d.ClaimedAt.Before(staleBefore)) {
			e.d.Status = delivery.StatusPending
			e.d.ClaimedAt = nil
			e.d.Touch()
			recovered = append(recovered, e.d.Clone())
		}
		e.mu.Unlock()
	}
	return recovered, nil
}

// PurgeDeliveries removes final deliveries completed before cutoff.
func (s *Store) PurgeDeliveries(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for delID, e := range s.deliveries {
		e.mu.Lock()
		expired := e.d.Status.Terminal() && e.d.CompletedAt != nil && e.d.CompletedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(s.deliveries, delID)
			n++
		}
	}
	return n, nil
}

func (s *Store) withDelivery(delID id.ID, fn func(*delivery.Delivery) error) error {
	e, err := s.deliveryEntry(delID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.d)
}

func (s *Store) deliveryEntry(delID id.ID) (*deliveryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	e, ok := s.deliveries[delID]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return e, nil
}

func (s *Store) snapshotDeliveries() []*delivery.Delivery {
	s.mu.RLock()
	entries := make([]*deliveryEntry, 0, len(s.deliveries))
	for _, e := range s.deliveries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*delivery.Delivery, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.d.Clone())
		e.mu.Unlock()
	}
	return out
}

func statusError(st delivery.Status) error {
	if st.Terminal() {
		return delivery.ErrTerminal
	}
	return delivery.ErrNotInFlight
}

func applyPagination[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
