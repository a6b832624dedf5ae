// Package webhook holds the registry of notification endpoints.
package webhook

import (
	"maps"
	"slices"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// MaskedSecret replaces the secret on every read path.
const MaskedSecret = "••••••••"

// Delivery outcomes recorded in Stats.LastDeliveryStatus.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// DefaultEvents is the subscription used when none is given at registration.
var DefaultEvents = []string{"update.released", "update.processed", "update.error"}

// Webhook is a registered remote endpoint that receives event notifications.
type Webhook struct {
	entity.Entity

	ID          id.ID             `json:"id"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Format      string            `json:"format"`
	Headers     map[string]string `json:"headers"`
	Events      []string          `json:"events"`

	// Secret is the HMAC signing key. Reads through Service return MaskedSecret.
	Secret string `json:"secret"`

	Active bool  `json:"active"`
	Stats  Stats `json:"stats"`
}

// Stats are the delivery counters of a webhook. TotalAttempts counts every
// HTTP attempt; TotalDeliveries counts deliveries that reached a final
// outcome, so SuccessfulDeliveries+FailedDeliveries == TotalDeliveries.
type Stats struct {
	TotalDeliveries      int64      `json:"total_deliveries"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	TotalAttempts        int64      `json:"total_attempts"`
	LastDeliveryAt       *time.Time `json:"last_delivery_at,omitempty"`
	LastDeliveryStatus   string     `json:"last_delivery_status,omitempty"`
}

// Subscribed reports whether the webhook listens to event.
func (w *Webhook) Subscribed(event string) bool {
	return slices.Contains(w.Events, event)
}

// Clone returns a deep copy.
func (w *Webhook) Clone() *Webhook {
	c := *w
	c.Headers = maps.Clone(w.Headers)
	c.Events = slices.Clone(w.Events)
	if w.Stats.LastDeliveryAt != nil {
		t := *w.Stats.LastDeliveryAt
		c.Stats.LastDeliveryAt = &t
	}
	return &c
}

// Masked returns a copy with the secret hidden.
func (w *Webhook) Masked() *Webhook {
	c := w.Clone()
	if c.Secret != "" {
		c.Secret = MaskedSecret
	}
	return c
}

// Apply records one terminal outcome on the stats.
func (s *Stats) Apply(success bool, at time.Time) {
	s.TotalDeliveries++
	if success {
		s.SuccessfulDeliveries++
		s.LastDeliveryStatus = StatusSuccess
	} else {
		s.FailedDeliveries++
		s.LastDeliveryStatus = StatusFailed
	}
	at = at.UTC()
	s.LastDeliveryAt = &at
}
