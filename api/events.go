package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type triggerRequest struct {
	Event string `json:"event"`

	// Payload is kept raw so numbers reach receivers exactly as sent.
	Payload    json.RawMessage `json:"payload"`
	WebhookIDs []string        `json:"webhook_ids,omitempty"`
}

func (h *Handler) triggerEvent(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	ids, err := parseWebhookIDs(req.WebhookIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	var body any
	if len(req.Payload) > 0 {
		body = req.Payload
	}

	n, err := h.svc.Trigger(r.Context(), req.Event, body, ids...)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": fmt.Sprintf("Triggered %d webhooks", n),
		"count":   n,
	})
}
