package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/webhook"
)

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.svc.List(r.Context(), queryBool(r, "active_only"))
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"webhooks": hooks,
		"count":    len(hooks),
	})
}

func (h *Handler) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhook.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	whID, err := h.svc.Register(r.Context(), in)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      whID,
		"message": "Webhook registered successfully",
	})
}

type testRequest struct {
	WebhookIDs []string `json:"webhook_ids,omitempty"`
}

func (h *Handler) testWebhooks(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	ids, err := parseWebhookIDs(req.WebhookIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	n, err := h.svc.TriggerTest(r.Context(), ids...)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Triggered %d webhooks", n),
		"count":   n,
	})
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}

	hook, err := h.svc.Get(r.Context(), whID)
	if err != nil {
		h.webhookError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, hook)
}

func (h *Handler) updateWebhook(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}

	var p webhook.Patch
	if err := decodeJSON(r, &p); err != nil || p.Empty() {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}

	if _, err := h.svc.Update(r.Context(), whID, p); err != nil {
		h.webhookError(w, r, err)
		return
	}

	writeMessage(w, http.StatusOK, "Webhook updated successfully")
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), whID); err != nil {
		h.webhookError(w, r, err)
		return
	}

	writeMessage(w, http.StatusOK, "Webhook deleted successfully")
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}

	secret, err := h.svc.RotateSecret(r.Context(), whID)
	if err != nil {
		h.webhookError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

// webhookID parses the {id} path variable, answering 404 when it cannot
// name a webhook.
func (h *Handler) webhookID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	whID, err := id.ParseWebhookID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return id.Nil, false
	}
	return whID, true
}

func (h *Handler) webhookError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, webhook.ErrNotFound):
		writeError(w, http.StatusNotFound, "Webhook not found")
	case errors.Is(err, webhook.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "api request failed",
		"path", r.URL.Path, "error", err, "request_id", RequestID(r.Context()))
	writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
}
