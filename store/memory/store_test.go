package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/webhook"
)

func ctx() context.Context { return context.Background() }

func newWebhook(active bool) *webhook.Webhook {
	return &webhook.Webhook{
		Entity:  entity.New(),
		ID:      id.NewWebhookID(),
		URL:     "https://example.com/hook",
		Format:  "json",
		Events:  []string{"update.released"},
		Secret:  "whsec_test",
		Headers: map[string]string{"X-Team": "a"},
		Active:  active,
	}
}

func newDelivery(whID id.ID) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:        entity.New(),
		ID:            id.NewDeliveryID(),
		WebhookID:     whID,
		Event:         "update.released",
		Payload:       map[string]any{"k": "v"},
		Status:        delivery.StatusPending,
		MaxAttempts:   3,
		NextAttemptAt: time.Now().UTC(),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

func TestWebhookCRUD(t *testing.T) {
	s := New()
	w := newWebhook(true)

	if err := s.CreateWebhook(ctx(), w); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWebhook(ctx(), w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != w.URL || got.Secret != "whsec_test" {
		t.Fatalf("unexpected webhook %+v", got)
	}

	// Returned values are copies.
	got.Headers["X-Team"] = "mutated"
	again, _ := s.GetWebhook(ctx(), w.ID)
	if again.Headers["X-Team"] != "a" {
		t.Fatal("store shares header map with caller")
	}

	got.URL = "https://example.com/other"
	if err := s.UpdateWebhook(ctx(), got); err != nil {
		t.Fatal(err)
	}
	again, _ = s.GetWebhook(ctx(), w.ID)
	if again.URL != "https://example.com/other" {
		t.Fatalf("url not updated: %s", again.URL)
	}

	if err := s.DeleteWebhook(ctx(), w.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetWebhook(ctx(), w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteWebhook(ctx(), w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if err := s.RecordAttempt(ctx(), w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("stats on deleted webhook: %v", err)
	}
}

func TestUpdateWebhookKeepsStats(t *testing.T) {
	s := New()
	w := newWebhook(true)
	_ = s.CreateWebhook(ctx(), w)

	stale, _ := s.GetWebhook(ctx(), w.ID)
	if err := s.RecordOutcome(ctx(), w.ID, true, time.Now()); err != nil {
		t.Fatal(err)
	}
	stale.Description = "changed"
	if err := s.UpdateWebhook(ctx(), stale); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetWebhook(ctx(), w.ID)
	if got.Stats.TotalDeliveries != 1 || got.Stats.SuccessfulDeliveries != 1 {
		t.Fatalf("update clobbered stats: %+v", got.Stats)
	}
	if got.Description != "changed" {
		t.Fatalf("description = %q", got.Description)
	}
}

func TestListWebhooksActiveOnly(t *testing.T) {
	s := New()
	a := newWebhook(true)
	b := newWebhook(false)
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	_ = s.CreateWebhook(ctx(), a)
	_ = s.CreateWebhook(ctx(), b)

	all, _ := s.ListWebhooks(ctx(), webhook.ListOpts{})
	if len(all) != 2 || all[0].ID != a.ID {
		t.Fatalf("expected 2 ordered webhooks, got %d", len(all))
	}
	active, _ := s.ListWebhooks(ctx(), webhook.ListOpts{ActiveOnly: true})
	if len(active) != 1 || active[0].ID != a.ID {
		t.Fatalf("expected only the active webhook, got %d", len(active))
	}
}

func TestConcurrentStatsUpdates(t *testing.T) {
	s := New()
	w := newWebhook(true)
	_ = s.CreateWebhook(ctx(), w)

	const n = 100
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RecordAttempt(ctx(), w.ID)
			_ = s.RecordOutcome(ctx(), w.ID, i%2 == 0, time.Now())
		}()
	}
	wg.Wait()

	got, _ := s.GetWebhook(ctx(), w.ID)
	st := got.Stats
	if st.TotalAttempts != n || st.TotalDeliveries != n {
		t.Fatalf("lost updates: %+v", st)
	}
	if st.SuccessfulDeliveries+st.FailedDeliveries != st.TotalDeliveries {
		t.Fatalf("counters disagree: %+v", st)
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func TestClaimIsExclusive(t *testing.T) {
	s := New()
	d := newDelivery(id.NewWebhookID())
	_ = s.CreateDelivery(ctx(), d)

	var claimed atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := s.ClaimDelivery(ctx(), d.ID); err == nil && ok {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	if claimed.Load() != 1 {
		t.Fatalf("expected exactly one claim, got %d", claimed.Load())
	}
}

func TestClaimMissingDelivery(t *testing.T) {
	s := New()
	got, ok, err := s.ClaimDelivery(ctx(), id.NewDeliveryID())
	if err != nil || ok || got != nil {
		t.Fatalf("claim missing: %v %v %v", got, ok, err)
	}
}

func TestDeliveryLifecycle(t *testing.T) {
	s := New()
	d := newDelivery(id.NewWebhookID())
	_ = s.CreateDelivery(ctx(), d)

	if _, err := s.IncrementAttempts(ctx(), d.ID); !errors.Is(err, delivery.ErrNotInFlight) {
		t.Fatalf("increment on pending: %v", err)
	}

	claimed, ok, err := s.ClaimDelivery(ctx(), d.ID)
	if err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if claimed.Status != delivery.StatusInFlight {
		t.Fatalf("status = %s", claimed.Status)
	}

	n, err := s.IncrementAttempts(ctx(), d.ID)
	if err != nil || n != 1 {
		t.Fatalf("increment: %d %v", n, err)
	}

	claimed.StatusMessage = "HTTP 500: boom"
	claimed.LastStatusCode = 500
	claimed.NextAttemptAt = time.Now().Add(time.Minute).UTC()
	if err := s.ReleaseDelivery(ctx(), claimed); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetDelivery(ctx(), d.ID)
	if got.Status != delivery.StatusPending || got.Attempts != 1 || got.LastStatusCode != 500 {
		t.Fatalf("after release: %+v", got)
	}

	claimed, _, _ = s.ClaimDelivery(ctx(), d.ID)
	claimed.Status = delivery.StatusDelivered
	claimed.StatusMessage = "HTTP 200"
	if err := s.CompleteDelivery(ctx(), claimed); err != nil {
		t.Fatal(err)
	}

	got, _ = s.GetDelivery(ctx(), d.ID)
	if got.Status != delivery.StatusDelivered || got.CompletedAt == nil {
		t.Fatalf("after complete: %+v", got)
	}

	// Final records never change again.
	claimed.Status = delivery.StatusFailed
	if err := s.CompleteDelivery(ctx(), claimed); !errors.Is(err, delivery.ErrTerminal) {
		t.Fatalf("complete twice: %v", err)
	}
	if err := s.ReleaseDelivery(ctx(), claimed); !errors.Is(err, delivery.ErrTerminal) {
		t.Fatalf("release final: %v", err)
	}
	if _, ok, _ := s.ClaimDelivery(ctx(), d.ID); ok {
		t.Fatal("claimed a final delivery")
	}
	got, _ = s.GetDelivery(ctx(), d.ID)
	if got.Status != delivery.StatusDelivered {
		t.Fatalf("final status changed to %s", got.Status)
	}
}

func TestRecoverAndPending(t *testing.T) {
	s := New()
	whID := id.NewWebhookID()
	a := newDelivery(whID)
	b := newDelivery(whID)
	b.CreatedAt = a.CreatedAt.Add(time.Millisecond)
	_ = s.CreateDelivery(ctx(), a)
	_ = s.CreateDelivery(ctx(), b)
	_, _, _ = s.ClaimDelivery(ctx(), a.ID)

	if got, err := s.RecoverInFlight(ctx(), time.Now().Add(-time.Minute)); err != nil || len(got) != 0 {
		t.Fatalf("recover live claim: %d %v", len(got), err)
	}
	recovered, err := s.RecoverInFlight(ctx(), time.Now().Add(time.Second))
	if err != nil || len(recovered) != 1 || recovered[0].ID != a.ID {
		t.Fatalf("recover: %d %v", len(recovered), err)
	}
	pending, _ := s.PendingDeliveries(ctx())
	if len(pending) != 2 || pending[0].ID != a.ID {
		t.Fatalf("pending = %d", len(pending))
	}
}

func TestListAndPurge(t *testing.T) {
	s := New()
	whID := id.NewWebhookID()
	old := newDelivery(whID)
	fresh := newDelivery(whID)
	other := newDelivery(id.NewWebhookID())
	for _, d := range []*delivery.Delivery{old, fresh, other} {
		_ = s.CreateDelivery(ctx(), d)
	}

	past := time.Now().Add(-48 * time.Hour).UTC()
	claimed, _, _ := s.ClaimDelivery(ctx(), old.ID)
	claimed.Status = delivery.StatusFailed
	claimed.CompletedAt = &past
	if err := s.CompleteDelivery(ctx(), claimed); err != nil {
		t.Fatal(err)
	}

	byHook, _ := s.ListDeliveries(ctx(), delivery.ListOpts{WebhookID: whID})
	if len(byHook) != 2 {
		t.Fatalf("expected 2 deliveries for webhook, got %d", len(byHook))
	}
	failed, _ := s.ListDeliveries(ctx(), delivery.ListOpts{Status: delivery.StatusFailed})
	if len(failed) != 1 || failed[0].ID != old.ID {
		t.Fatalf("expected the failed delivery, got %d", len(failed))
	}
	page, _ := s.ListDeliveries(ctx(), delivery.ListOpts{Offset: 1, Limit: 1})
	if len(page) != 1 {
		t.Fatalf("pagination returned %d", len(page))
	}

	n, err := s.PurgeDeliveries(ctx(), time.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purge: %d %v", n, err)
	}
	if _, err := s.GetDelivery(ctx(), old.ID); !errors.Is(err, delivery.ErrNotFound) {
		t.Fatalf("purged delivery still present: %v", err)
	}
}
