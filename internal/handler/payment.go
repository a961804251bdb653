package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/internal/service"
)

// PaymentHandler serves the authenticated checkout and card endpoints.
type PaymentHandler struct {
	subs  *service.SubscriptionService
	cards *service.CardService
}

func NewPaymentHandler(subs *service.SubscriptionService, cards *service.CardService) *PaymentHandler {
	return &PaymentHandler{subs: subs, cards: cards}
}

// CreateCheckout handles POST /api/payment/checkout.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(w, r)
	if !ok {
		return
	}

	var req domain.CheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.subs.CreateCheckout(r.Context(), userID, &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// GetSubscription handles GET /api/payment/subscription.
func (h *PaymentHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(w, r)
	if !ok {
		return
	}

	summary, err := h.subs.GetCurrentSubscription(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, summary)
}

// SaveCard handles POST /api/payment/cards.
func (h *PaymentHandler) SaveCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(w, r)
	if !ok {
		return
	}

	var req domain.SaveCardRequest
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &req); err != nil {
			Error(w, err)
			return
		}
	}

	resp, err := h.cards.StartSave(r.Context(), userID, &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// ListCards handles GET /api/payment/cards.
func (h *PaymentHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(w, r)
	if !ok {
		return
	}

	cards, err := h.cards.List(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	if cards == nil {
		cards = []domain.PaymentMethod{}
	}

	JSON(w, http.StatusOK, cards)
}

// SetDefaultCard handles PUT /api/payment/cards/{id}/default.
func (h *PaymentHandler) SetDefaultCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(w, r)
	if !ok {
		return
	}

	if err := h.cards.SetDefault(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// DeleteCard handles DELETE /api/payment/cards/{id}.
func (h *PaymentHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := userID(w, r)
	if !ok {
		return
	}

	if err := h.cards.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}
