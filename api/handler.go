// Package api provides the admin HTTP API for managing webhooks, triggering
// events and reading the delivery ledger.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/webhook"
)

// RequestIDHeader carries the request ID on every response.
const RequestIDHeader = "X-Request-ID"

// Service is the subset of *courier.Courier the API needs.
type Service interface {
	Register(ctx context.Context, in webhook.Input) (id.ID, error)
	Update(ctx context.Context, whID id.ID, p webhook.Patch) (*webhook.Webhook, error)
	Delete(ctx context.Context, whID id.ID) error
	Get(ctx context.Context, whID id.ID) (*webhook.Webhook, error)
	List(ctx context.Context, activeOnly bool) ([]*webhook.Webhook, error)
	RotateSecret(ctx context.Context, whID id.ID) (string, error)
	Trigger(ctx context.Context, event string, body any, webhookIDs ...id.ID) (int, error)
	TriggerTest(ctx context.Context, webhookIDs ...id.ID) (int, error)
	Delivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error)
	Deliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error)
}

// Handler is the root HTTP handler for the admin API.
type Handler struct {
	svc     Service
	logger  *slog.Logger
	router  *mux.Router
	handler http.Handler
}

// NewHandler creates a new admin API handler.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		svc:    svc,
		logger: logger,
		router: mux.NewRouter(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	r := h.router

	// Webhooks
	r.HandleFunc("/webhooks", h.listWebhooks).Methods(http.MethodGet)
	r.HandleFunc("/webhooks", h.registerWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/test", h.testWebhooks).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/{id}", h.getWebhook).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/{id}", h.updateWebhook).Methods(http.MethodPut)
	r.HandleFunc("/webhooks/{id}", h.deleteWebhook).Methods(http.MethodDelete)
	r.HandleFunc("/webhooks/{id}/rotate-secret", h.rotateSecret).Methods(http.MethodPost)

	// Deliveries
	r.HandleFunc("/webhooks/{id}/deliveries", h.listDeliveries).Methods(http.MethodGet)
	r.HandleFunc("/deliveries/{id}", h.getDelivery).Methods(http.MethodGet)

	// Events
	r.HandleFunc("/events", h.triggerEvent).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	h.handler = h.requestID(h.panicRecovery(h.logging(r)))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

type requestIDKey struct{}

// RequestID returns the ID assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey{}).(string)
	return s
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID)))
	})
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.InfoContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestID(r.Context()),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
					"request_id", RequestID(r.Context()),
				)
				writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt returns a query parameter as a non-negative int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key)) //nolint:errcheck // absent or malformed means false
	return b
}

// parseWebhookIDs parses optional webhook ID filters. nil means no filter.
func parseWebhookIDs(raw []string) ([]id.ID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]id.ID, 0, len(raw))
	for _, s := range raw {
		whID, err := id.ParseWebhookID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, whID)
	}
	return ids, nil
}
