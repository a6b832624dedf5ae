package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}

	opts := delivery.ListOpts{
		WebhookID: whID,
		Status:    delivery.Status(r.URL.Query().Get("status")),
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
	}

	ds, err := h.svc.Deliveries(r.Context(), opts)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deliveries": ds,
		"count":      len(ds),
	})
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	delID, err := id.ParseDeliveryID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "Delivery not found")
		return
	}

	d, err := h.svc.Delivery(r.Context(), delID)
	if err != nil {
		if errors.Is(err, delivery.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Delivery not found")
			return
		}
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}
