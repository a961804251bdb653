package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/reviewdesk/backend/internal/service"
)

type AdminHandler struct {
	subs *service.SubscriptionService
}

func NewAdminHandler(subs *service.SubscriptionService) *AdminHandler {
	return &AdminHandler{subs: subs}
}

// GetStats returns subscription counts per status.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.subs.Stats(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

// GetByOrder handles GET /api/admin/orders/{orderId}.
func (h *AdminHandler) GetByOrder(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.GetByOrderID(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, sub)
}

// ListEvents returns the audit log of one subscription.
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.subs.ListEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, events)
}
