package service

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/internal/metrics"
	"github.com/reviewdesk/backend/internal/repository"
	"github.com/reviewdesk/backend/pkg/payment"
	"github.com/sirupsen/logrus"
)

// Outcome is the final routing result of one webhook delivery.
type Outcome string

const (
	OutcomeEmpty        Outcome = "empty"
	OutcomeCard         Outcome = "card"
	OutcomeSubscription Outcome = "subscription"
	OutcomeOrphan       Outcome = "orphan"
	OutcomeUndecodable  Outcome = "undecodable"
	OutcomeMalformed    Outcome = "malformed"
)

// WebhookService decodes gateway callbacks and dispatches them to the card
// flow or the subscription state machine.
type WebhookService struct {
	store         repository.Store
	gateway       Gateway
	subscriptions *SubscriptionService
	cards         *CardService
	metrics       *metrics.Collector
	log           *logrus.Entry
}

// NewWebhookService creates a WebhookService. gateway may be nil, in which
// case only plain callbacks can be processed.
func NewWebhookService(store repository.Store, gateway Gateway, subs *SubscriptionService, cards *CardService, m *metrics.Collector, log *logrus.Entry) *WebhookService {
	return &WebhookService{
		store:         store,
		gateway:       gateway,
		subscriptions: subs,
		cards:         cards,
		metrics:       m,
		log:           componentLogger(log, "webhook"),
	}
}

// Handle processes one callback body. Every returned Outcome is final and
// should be acknowledged; an error means the delivery should be retried.
func (s *WebhookService) Handle(ctx context.Context, body []byte) (Outcome, error) {
	outcome, err := s.handle(ctx, body)
	if err != nil {
		s.metrics.RecordWebhook("error")
		return "", err
	}
	s.metrics.RecordWebhook(string(outcome))
	return outcome, nil
}

func (s *WebhookService) handle(ctx context.Context, body []byte) (Outcome, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return OutcomeEmpty, nil
	}

	payload, outcome, err := s.decode(body)
	if err != nil || outcome != "" {
		return outcome, err
	}

	cb, err := domain.ParseCallback(payload)
	if err != nil {
		s.log.WithError(err).Warn("callback is not a JSON object")
		return OutcomeMalformed, nil
	}
	if cb.OrderID == "" {
		s.log.WithField("provider_status", cb.Status).Warn("callback has no order id")
		return OutcomeMalformed, nil
	}
	log := s.log.WithFields(logrus.Fields{"order_id": cb.OrderID, "provider_status": cb.Status})

	pending, err := s.store.GetPendingPaymentMethod(ctx, cb.OrderID)
	if err != nil {
		return "", domain.ErrPersistence("failed to look up pending card", err)
	}
	if pending != nil {
		action, err := s.cards.ApplyCallback(ctx, cb)
		if err != nil {
			return "", err
		}
		if action == CardMissing {
			log.WithField("kind", domain.KindOrphan).Warn("orphan callback: pending card already resolved")
			return OutcomeOrphan, nil
		}
		return OutcomeCard, nil
	}

	sub, err := s.subscriptions.ApplyCallback(ctx, cb)
	if err != nil {
		return "", err
	}
	if sub == nil {
		log.WithField("kind", domain.KindOrphan).Warn("orphan callback: no pending card or subscription matches")
		return OutcomeOrphan, nil
	}
	return OutcomeSubscription, nil
}

// decode returns the plaintext callback. A non-empty Outcome means the body
// cannot be processed further.
func (s *WebhookService) decode(body []byte) (json.RawMessage, Outcome, error) {
	var env payment.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.log.WithError(err).Warn("callback body is not JSON")
		return nil, OutcomeMalformed, nil
	}
	if !env.IsSealed() {
		return body, "", nil
	}

	if s.gateway == nil {
		return nil, "", domain.ErrConfiguration("payment gateway is not configured", errGatewayNotConfigured)
	}
	var payload json.RawMessage
	padding, err := s.gateway.Open(env, &payload)
	if err != nil {
		s.log.WithError(err).Error("failed to open callback envelope")
		return nil, OutcomeUndecodable, nil
	}
	s.log.WithField("padding", padding.String()).Debug("callback envelope opened")
	return payload, "", nil
}
