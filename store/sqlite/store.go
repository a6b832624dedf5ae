// Package sqlite provides a store.Store backed by SQLite through
// database/sql and the pure-Go modernc driver. Schema changes are applied
// by goose from embedded migrations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/webhook"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using SQLite.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// New creates a store on an open database. See Open.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook persists a new webhook.
func (s *Store) CreateWebhook(ctx context.Context, w *webhook.Webhook) error {
	m := toWebhookModel(w)
	_, err := s.db.ExecContext(ctx, `INSERT INTO webhooks (`+webhookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.URL, m.Description, m.Format, m.Headers, m.Events, m.Secret, m.Active,
		m.TotalDeliveries, m.SuccessfulDeliveries, m.FailedDeliveries, m.TotalAttempts,
		m.LastDeliveryAt, m.LastDeliveryStatus, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return s.wrap("create webhook", err)
	}
	return nil
}

// GetWebhook returns a webhook, secret included.
func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	m := new(webhookModel)
	row := s.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, whID.String())
	if err := m.scan(row); err != nil {
		if isNoRows(err) {
			return nil, webhook.ErrNotFound
		}
		return nil, s.wrap("get webhook", err)
	}
	return fromWebhookModel(m)
}

// UpdateWebhook writes the configuration fields of w. Stats are left to
// RecordAttempt and RecordOutcome.
func (s *Store) UpdateWebhook(ctx context.Context, w *webhook.Webhook) error {
	m := toWebhookModel(w)
	res, err := s.db.ExecContext(ctx, `UPDATE webhooks SET
		url = ?, description = ?, format = ?, headers = ?, events = ?, secret = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		m.URL, m.Description, m.Format, m.Headers, m.Events, m.Secret, m.Active, m.UpdatedAt, m.ID)
	if err != nil {
		return s.wrap("update webhook", err)
	}
	return requireRow(res, webhook.ErrNotFound)
}

// DeleteWebhook removes a webhook. Its deliveries stay in the ledger.
func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, whID.String())
	if err != nil {
		return s.wrap("delete webhook", err)
	}
	return requireRow(res, webhook.ErrNotFound)
}

// ListWebhooks returns webhooks ordered by creation time.
func (s *Store) ListWebhooks(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	q := `SELECT ` + webhookColumns + ` FROM webhooks`
	if opts.ActiveOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, s.wrap("list webhooks", err)
	}
	defer rows.Close()

	result := make([]*webhook.Webhook, 0)
	for rows.Next() {
		m := new(webhookModel)
		if err := m.scan(rows); err != nil {
			return nil, s.wrap("list webhooks", err)
		}
		w, err := fromWebhookModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// RecordAttempt increments the webhook's attempt counter.
func (s *Store) RecordAttempt(ctx context.Context, whID id.ID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET total_attempts = total_attempts + 1 WHERE id = ?`, whID.String())
	if err != nil {
		return s.wrap("record attempt", err)
	}
	return requireRow(res, webhook.ErrNotFound)
}

// RecordOutcome applies a final delivery outcome to the webhook's stats in
// a single statement.
func (s *Store) RecordOutcome(ctx context.Context, whID id.ID, success bool, at time.Time) error {
	ok, failed, status := 0, 1, webhook.StatusFailed
	if success {
		ok, failed, status = 1, 0, webhook.StatusSuccess
	}
	res, err := s.db.ExecContext(ctx, `UPDATE webhooks SET
		total_deliveries = total_deliveries + 1,
		successful_deliveries = successful_deliveries + ?,
		failed_deliveries = failed_deliveries + ?,
		last_delivery_at = ?,
		last_delivery_status = ?
		WHERE id = ?`,
		ok, failed, formatTime(at), status, whID.String())
	if err != nil {
		return s.wrap("record outcome", err)
	}
	return requireRow(res, webhook.ErrNotFound)
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateDelivery persists a new delivery.
func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m, err := toDeliveryModel(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO deliveries (`+deliveryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.WebhookID, m.Event, m.Payload, m.Status, m.StatusMessage, m.Attempts, m.MaxAttempts,
		m.NextAttemptAt, m.LastStatusCode, m.CompletedAt, m.CreatedAt, m.UpdatedAt, m.ClaimedAt)
	if err != nil {
		return s.wrap("create delivery", err)
	}
	return nil
}

// GetDelivery returns a delivery.
func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, delID.String())
	d, err := scanDelivery(row)
	if isNoRows(err) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("get delivery", err)
	}
	return d, nil
}

// ClaimDelivery moves a pending delivery to in_flight with a conditional
// update, so concurrent claims cannot both succeed, even across processes
// sharing the database file.
func (s *Store) ClaimDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, bool, error) {
	now := formatTime(time.Now())
	row := s.db.QueryRowContext(ctx, `UPDATE deliveries SET status = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING `+deliveryColumns,
		string(delivery.StatusInFlight), now, now, delID.String(), string(delivery.StatusPending))
	d, err := scanDelivery(row)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap("claim delivery", err)
	}
	return d, true, nil
}

// IncrementAttempts bumps the attempt counter of an in-flight delivery.
func (s *Store) IncrementAttempts(ctx context.Context, delID id.ID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `UPDATE deliveries SET attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING attempts`,
		formatTime(time.Now()), delID.String(), string(delivery.StatusInFlight)).Scan(&n)
	if isNoRows(err) {
		return 0, s.statusError(ctx, delID)
	}
	if err != nil {
		return 0, s.wrap("increment attempts", err)
	}
	return n, nil
}

// ReleaseDelivery returns an in-flight delivery to pending.
func (s *Store) ReleaseDelivery(ctx context.Context, d *delivery.Delivery) error {
	res, err := s.db.ExecContext(ctx, `UPDATE deliveries SET
		status = ?, status_message = ?, last_status_code = ?, next_attempt_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(delivery.StatusPending), d.StatusMessage, d.LastStatusCode, formatTime(d.NextAttemptAt),
		formatTime(time.Now()), d.ID.String(), string(delivery.StatusInFlight))
	if err != nil {
		return s.wrap("release delivery", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return s.statusError(ctx, d.ID)
	}
	return nil
}

// CompleteDelivery moves a delivery to a final status. Final records are
// never overwritten.
func (s *Store) CompleteDelivery(ctx context.Context, d *delivery.Delivery) error {
	if !d.Status.Terminal() {
		return delivery.ErrNotInFlight
	}
	completed := time.Now()
	if d.CompletedAt != nil {
		completed = *d.CompletedAt
	}

	res, err := s.db.ExecContext(ctx, `UPDATE deliveries SET
		status = ?, status_message = ?, last_status_code = ?, completed_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(d.Status), d.StatusMessage, d.LastStatusCode, formatTime(completed), formatTime(time.Now()),
		d.ID.String(), string(delivery.StatusPending), string(delivery.StatusInFlight))
	if err != nil {
		return s.wrap("complete delivery", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		if _, getErr := s.GetDelivery(ctx, d.ID); getErr != nil {
			return getErr
		}
		return delivery.ErrTerminal
	}
	return nil
}

// ListDeliveries returns deliveries, newest first.
func (s *Store) ListDeliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var (
		where []string
		args  []any
	)
	if !opts.WebhookID.IsNil() {
		where = append(where, "webhook_id = ?")
		args = append(args, opts.WebhookID.String())
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}

	q := `SELECT ` + deliveryColumns + ` FROM deliveries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	return s.queryDeliveries(ctx, "list deliveries", q, args...)
}

// PendingDeliveries returns pending deliveries, oldest first.
func (s *Store) PendingDeliveries(ctx context.Context) ([]*delivery.Delivery, error) {
	return s.queryDeliveries(ctx, "pending deliveries",
		`SELECT `+deliveryColumns+` FROM deliveries WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(delivery.StatusPending))
}

// RecoverInFlight returns deliveries claimed before staleBefore to pending.
// Claims stored before claimed_at existed have no timestamp and count as
// stale.
func (s *Store) RecoverInFlight(ctx context.Context, staleBefore time.Time) ([]*delivery.Delivery, error) {
	return s.queryDeliveries(ctx, "recover in-flight deliveries", `UPDATE deliveries
		SET status = ?, claimed_at = NULL, updated_at = ?
		WHERE status = ? AND (claimed_at IS NULL OR claimed_at < ?)
		RETURNING `+deliveryColumns,
		string(delivery.StatusPending), formatTime(time.Now()),
		string(delivery.StatusInFlight), formatTime(staleBefore))
}

// PurgeDeliveries removes final deliveries completed before cutoff.
func (s *Store) PurgeDeliveries(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(delivery.StatusDelivered), string(delivery.StatusFailed), formatTime(cutoff))
	if err != nil {
		return 0, s.wrap("purge deliveries", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) queryDeliveries(ctx context.Context, op, q string, args ...any) ([]*delivery.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	defer rows.Close()

	result := make([]*delivery.Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, s.wrap(op, err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// statusError explains why a conditional update on delID matched no row.
func (s *Store) statusError(ctx context.Context, delID id.ID) error {
	d, err := s.GetDelivery(ctx, delID)
	if err != nil {
		return err
	}
	if d.Status.Terminal() {
		return delivery.ErrTerminal
	}
	return delivery.ErrNotInFlight
}

func (s *Store) wrap(op string, err error) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return fmt.Errorf("courier/sqlite: %s: %w", op, err)
}

func scanDelivery(row scanner) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	if err := m.scan(row); err != nil {
		return nil, err
	}
	return fromDeliveryModel(m)
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
