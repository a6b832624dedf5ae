package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/webhook"
)

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// --- Webhook models ---

const webhookColumns = `id, url, description, format, headers, events, secret, active,
	total_deliveries, successful_deliveries, failed_deliveries, total_attempts,
	last_delivery_at, last_delivery_status, created_at, updated_at`

type webhookModel struct {
	ID                   string
	URL                  string
	Description          string
	Format               string
	Headers              string
	Events               string
	Secret               string
	Active               bool
	TotalDeliveries      int64
	SuccessfulDeliveries int64
	FailedDeliveries     int64
	TotalAttempts        int64
	LastDeliveryAt       sql.NullString
	LastDeliveryStatus   string
	CreatedAt            string
	UpdatedAt            string
}

func (m *webhookModel) scan(s scanner) error {
	return s.Scan(&m.ID, &m.URL, &m.Description, &m.Format, &m.Headers, &m.Events, &m.Secret, &m.Active,
		&m.TotalDeliveries, &m.SuccessfulDeliveries, &m.FailedDeliveries, &m.TotalAttempts,
		&m.LastDeliveryAt, &m.LastDeliveryStatus, &m.CreatedAt, &m.UpdatedAt)
}

func toWebhookModel(w *webhook.Webhook) *webhookModel {
	headers, _ := json.Marshal(w.Headers) //nolint:errcheck // map[string]string always encodes
	events, _ := json.Marshal(w.Events)   //nolint:errcheck // []string always encodes
	if w.Headers == nil {
		headers = []byte("{}")
	}
	if w.Events == nil {
		events = []byte("[]")
	}

	return &webhookModel{
		ID:                   w.ID.String(),
		URL:                  w.URL,
		Description:          w.Description,
		Format:               w.Format,
		Headers:              string(headers),
		Events:               string(events),
		Secret:               w.Secret,
		Active:               w.Active,
		TotalDeliveries:      w.Stats.TotalDeliveries,
		SuccessfulDeliveries: w.Stats.SuccessfulDeliveries,
		FailedDeliveries:     w.Stats.FailedDeliveries,
		TotalAttempts:        w.Stats.TotalAttempts,
		LastDeliveryAt:       formatTimePtr(w.Stats.LastDeliveryAt),
		LastDeliveryStatus:   w.Stats.LastDeliveryStatus,
		CreatedAt:            formatTime(w.CreatedAt),
		UpdatedAt:            formatTime(w.UpdatedAt),
	}
}

func fromWebhookModel(m *webhookModel) (*webhook.Webhook, error) {
	whID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}

	headers := map[string]string{}
	if err := json.Unmarshal([]byte(m.Headers), &headers); err != nil {
		return nil, fmt.Errorf("decode headers of %s: %w", m.ID, err)
	}
	var events []string
	if err := json.Unmarshal([]byte(m.Events), &events); err != nil {
		return nil, fmt.Errorf("decode events of %s: %w", m.ID, err)
	}

	lastAt, err := parseTimePtr(m.LastDeliveryAt)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &webhook.Webhook{
		Entity:      entity.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:          whID,
		URL:         m.URL,
		Description: m.Description,
		Format:      m.Format,
		Headers:     headers,
		Events:      events,
		Secret:      m.Secret,
		Active:      m.Active,
		Stats: webhook.Stats{
			TotalDeliveries:      m.TotalDeliveries,
			SuccessfulDeliveries: m.SuccessfulDeliveries,
			FailedDeliveries:     m.FailedDeliveries,
			TotalAttempts:        m.TotalAttempts,
			LastDeliveryAt:       lastAt,
			LastDeliveryStatus:   m.LastDeliveryStatus,
		},
	}, nil
}

// --- Delivery models ---

const deliveryColumns = `id, webhook_id, event, payload, status, status_message, attempts, max_attempts,
	next_attempt_at, last_status_code, completed_at, created_at, updated_at, claimed_at`

type deliveryModel struct {
	ID             string
	WebhookID      string
	Event          string
	Payload        string
	Status         string
	StatusMessage  string
	Attempts       int
	MaxAttempts    int
	NextAttemptAt  string
	LastStatusCode int
	CompletedAt    sql.NullString
	CreatedAt      string
	UpdatedAt      string
	ClaimedAt      sql.NullString
}

func (m *deliveryModel) scan(s scanner) error {
	return s.Scan(&m.ID, &m.WebhookID, &m.Event, &m.Payload, &m.Status, &m.StatusMessage,
		&m.Attempts, &m.MaxAttempts, &m.NextAttemptAt, &m.LastStatusCode, &m.CompletedAt,
		&m.CreatedAt, &m.UpdatedAt, &m.ClaimedAt)
}

func toDeliveryModel(d *delivery.Delivery) (*deliveryModel, error) {
	body, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	return &deliveryModel{
		ID:             d.ID.String(),
		WebhookID:      d.WebhookID.String(),
		Event:          d.Event,
		Payload:        string(body),
		Status:         string(d.Status),
		StatusMessage:  d.StatusMessage,
		Attempts:       d.Attempts,
		MaxAttempts:    d.MaxAttempts,
		NextAttemptAt:  formatTime(d.NextAttemptAt),
		LastStatusCode: d.LastStatusCode,
		CompletedAt:    formatTimePtr(d.CompletedAt),
		CreatedAt:      formatTime(d.CreatedAt),
		UpdatedAt:      formatTime(d.UpdatedAt),
		ClaimedAt:      formatTimePtr(d.ClaimedAt),
	}, nil
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}

	next, err := parseTime(m.NextAttemptAt)
	if err != nil {
		return nil, err
	}
	completedAt, err := parseTimePtr(m.CompletedAt)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	claimedAt, err := parseTimePtr(m.ClaimedAt)
	if err != nil {
		return nil, err
	}

	return &delivery.Delivery{
		Entity:         entity.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:             delID,
		WebhookID:      whID,
		Event:          m.Event,
		Payload:        json.RawMessage(m.Payload),
		Status:         delivery.Status(m.Status),
		StatusMessage:  m.StatusMessage,
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		NextAttemptAt:  next,
		LastStatusCode: m.LastStatusCode,
		CompletedAt:    completedAt,
		ClaimedAt:      claimedAt,
	}, nil
}
