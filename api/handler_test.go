package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/webhook"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	c, err := courier.New(courier.WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	srv := httptest.NewServer(api.NewHandler(c, nil))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp, out
}

func registerHook(t *testing.T, srv *httptest.Server, events ...string) string {
	t.Helper()
	resp, out := do(t, srv, http.MethodPost, "/webhooks", map[string]any{
		"url":    "https://example.com/hook",
		"events": events,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status %d: %v", resp.StatusCode, out)
	}
	if out["message"] != "Webhook registered successfully" {
		t.Fatalf("register message = %v", out["message"])
	}
	whID, _ := out["id"].(string)
	if whID == "" {
		t.Fatal("register returned no id")
	}
	return whID
}

func TestRegisterAndGet(t *testing.T) {
	srv := newServer(t)
	whID := registerHook(t, srv, "order.created")

	resp, out := do(t, srv, http.MethodGet, "/webhooks/"+whID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d", resp.StatusCode)
	}
	if out["url"] != "https://example.com/hook" {
		t.Fatalf("url = %v", out["url"])
	}
	if out["secret"] != webhook.MaskedSecret {
		t.Fatalf("secret not masked: %v", out["secret"])
	}
	if resp.Header.Get(api.RequestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
}

func TestRegisterValidation(t *testing.T) {
	srv := newServer(t)

	resp, out := do(t, srv, http.MethodPost, "/webhooks", map[string]any{"description": "no url"})
	if resp.StatusCode != http.StatusBadRequest || out["error"] != "URL is required" {
		t.Fatalf("missing url: %d %v", resp.StatusCode, out)
	}

	resp, _ = do(t, srv, http.MethodPost, "/webhooks", map[string]any{"url": "ftp://example.com"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad scheme: status %d", resp.StatusCode)
	}
}

func TestListWebhooks(t *testing.T) {
	srv := newServer(t)
	first := registerHook(t, srv)
	registerHook(t, srv)

	resp, _ := do(t, srv, http.MethodPut, "/webhooks/"+first, map[string]any{"active": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: status %d", resp.StatusCode)
	}

	_, all := do(t, srv, http.MethodGet, "/webhooks", nil)
	if all["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", all["count"])
	}
	_, onlyActive := do(t, srv, http.MethodGet, "/webhooks?active_only=true", nil)
	if onlyActive["count"] != float64(1) {
		t.Fatalf("active count = %v, want 1", onlyActive["count"])
	}
}

func TestUpdateWebhook(t *testing.T) {
	srv := newServer(t)
	whID := registerHook(t, srv)

	resp, out := do(t, srv, http.MethodPut, "/webhooks/"+whID, map[string]any{})
	if resp.StatusCode != http.StatusBadRequest || out["error"] != "No data provided" {
		t.Fatalf("empty update: %d %v", resp.StatusCode, out)
	}

	resp, out = do(t, srv, http.MethodPut, "/webhooks/"+whID, map[string]any{"description": "renamed"})
	if resp.StatusCode != http.StatusOK || out["message"] != "Webhook updated successfully" {
		t.Fatalf("update: %d %v", resp.StatusCode, out)
	}

	_, got := do(t, srv, http.MethodGet, "/webhooks/"+whID, nil)
	if got["description"] != "renamed" {
		t.Fatalf("description = %v", got["description"])
	}
}

func TestDeleteWebhook(t *testing.T) {
	srv := newServer(t)
	whID := registerHook(t, srv)

	resp, out := do(t, srv, http.MethodDelete, "/webhooks/"+whID, nil)
	if resp.StatusCode != http.StatusOK || out["message"] != "Webhook deleted successfully" {
		t.Fatalf("delete: %d %v", resp.StatusCode, out)
	}

	resp, out = do(t, srv, http.MethodGet, "/webhooks/"+whID, nil)
	if resp.StatusCode != http.StatusNotFound || out["error"] != "Webhook not found" {
		t.Fatalf("get deleted: %d %v", resp.StatusCode, out)
	}

	resp, _ = do(t, srv, http.MethodDelete, "/webhooks/"+whID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete twice: status %d", resp.StatusCode)
	}
}

func TestUnknownWebhookID(t *testing.T) {
	srv := newServer(t)
	resp, out := do(t, srv, http.MethodGet, "/webhooks/not-an-id", nil)
	if resp.StatusCode != http.StatusNotFound || out["error"] != "Webhook not found" {
		t.Fatalf("got %d %v", resp.StatusCode, out)
	}
}

func TestRotateSecret(t *testing.T) {
	srv := newServer(t)
	whID := registerHook(t, srv)

	resp, out := do(t, srv, http.MethodPost, "/webhooks/"+whID+"/rotate-secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate: status %d", resp.StatusCode)
	}
	secret, _ := out["secret"].(string)
	if len(secret) < 16 || secret == webhook.MaskedSecret {
		t.Fatalf("rotated secret %q", secret)
	}
}

func TestTriggerEventAndDeliveries(t *testing.T) {
	srv := newServer(t)
	whID := registerHook(t, srv, "order.created")
	registerHook(t, srv, "order.deleted")

	resp, out := do(t, srv, http.MethodPost, "/events", map[string]any{
		"event":   "order.created",
		"payload": map[string]any{"order_id": 42},
	})
	if resp.StatusCode != http.StatusAccepted || out["count"] != float64(1) {
		t.Fatalf("trigger: %d %v", resp.StatusCode, out)
	}

	resp, out = do(t, srv, http.MethodGet, "/webhooks/"+whID+"/deliveries?status=pending", nil)
	if resp.StatusCode != http.StatusOK || out["count"] != float64(1) {
		t.Fatalf("deliveries: %d %v", resp.StatusCode, out)
	}
	items, _ := out["deliveries"].([]any)
	first, _ := items[0].(map[string]any)
	delID, _ := first["id"].(string)

	resp, got := do(t, srv, http.MethodGet, "/deliveries/"+delID, nil)
	if resp.StatusCode != http.StatusOK || got["event"] != "order.created" {
		t.Fatalf("get delivery: %d %v", resp.StatusCode, got)
	}
}

func TestTriggerRequiresEvent(t *testing.T) {
	srv := newServer(t)
	resp, _ := do(t, srv, http.MethodPost, "/events", map[string]any{"payload": 1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestTestWebhooks(t *testing.T) {
	srv := newServer(t)
	subscribed := registerHook(t, srv, courier.TestEvent)
	registerHook(t, srv, courier.TestEvent)
	registerHook(t, srv, "other")

	_, out := do(t, srv, http.MethodPost, "/webhooks/test", nil)
	if out["message"] != "Triggered 2 webhooks" {
		t.Fatalf("message = %v", out["message"])
	}

	_, out = do(t, srv, http.MethodPost, "/webhooks/test", map[string]any{"webhook_ids": []string{subscribed}})
	if out["count"] != float64(1) {
		t.Fatalf("filtered count = %v", out["count"])
	}
}

func TestNotFoundRoute(t *testing.T) {
	srv := newServer(t)
	resp, out := do(t, srv, http.MethodGet, "/nope", nil)
	if resp.StatusCode != http.StatusNotFound || out["error"] == nil {
		t.Fatalf("got %d %v", resp.StatusCode, out)
	}
	if resp.Header.Get(api.RequestIDHeader) == "" {
		t.Fatal("missing request id header on 404")
	}
}

func TestTriggerEventKeepsNumbersExact(t *testing.T) {
	received := make(chan string, 1)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		select {
		case received <- string(body):
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	c, err := courier.New(courier.WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	if _, err := c.Register(context.Background(), webhook.Input{URL: receiver.URL, Events: []string{"order.created"}}); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(api.NewHandler(c, nil))
	defer srv.Close()

	raw := `{"event":"order.created","payload":{"order_id":12345678901234567891,"amount":1e21}}`
	resp, err := http.Post(srv.URL+"/events", "application/json", strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d", resp.StatusCode)
	}

	select {
	case body := <-received:
		if want := `{"amount":1e21,"order_id":12345678901234567891}`; body != want {
			t.Fatalf("body = %s, want %s", body, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never received the event")
	}
}
