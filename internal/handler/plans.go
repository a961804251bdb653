package handler

import (
	"net/http"

	"github.com/reviewdesk/backend/internal/service"
)

// PlansHandler handles plan-related endpoints.
type PlansHandler struct {
	subs *service.SubscriptionService
}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler(subs *service.SubscriptionService) *PlansHandler {
	return &PlansHandler{subs: subs}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.subs.ListPlans(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, plans)
}
