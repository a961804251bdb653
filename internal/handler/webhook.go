package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/internal/service"
	"github.com/sirupsen/logrus"
)

// maxWebhookBody caps callback bodies at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler receives payment gateway callbacks.
type WebhookHandler struct {
	svc *service.WebhookService
	log *logrus.Entry
}

func NewWebhookHandler(svc *service.WebhookService, log *logrus.Entry) *WebhookHandler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WebhookHandler{svc: svc, log: log.WithField("component", "webhook_handler")}
}

// HandlePayment handles POST /api/payment/webhook.
//
// Every final outcome is acknowledged with 200 so the provider stops
// redelivering. Only store and configuration failures return 5xx.
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			JSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return
		}
		Error(w, domain.ErrBadRequest("failed to read body"))
		return
	}

	outcome, err := h.svc.Handle(r.Context(), body)
	if err != nil {
		h.log.WithError(err).Warn("callback will be retried by the provider")
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"outcome":  outcome,
	})
}
