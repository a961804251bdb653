package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/internal/metrics"
	"github.com/reviewdesk/backend/internal/repository"
	"github.com/reviewdesk/backend/pkg/crypto"
	"github.com/reviewdesk/backend/pkg/payment"
	"github.com/sirupsen/logrus"
)

// CardAction is what a callback did to a pending card.
type CardAction string

const (
	CardFinalized CardAction = "finalized"
	CardRefreshed CardAction = "refreshed"
	CardDeleted   CardAction = "deleted"
	CardUntouched CardAction = "untouched"
	CardMissing   CardAction = "missing"
)

// CardService runs the save-card flow: a pending placeholder is created
// before the gateway order and finalized or deleted by its callback.
type CardService struct {
	store    repository.Store
	gateway  Gateway
	sealer   *crypto.Encryptor
	cfg      BillingConfig
	metrics  *metrics.Collector
	log      *logrus.Entry
	validate *validator.Validate
	now      func() time.Time
}

// NewCardService creates a CardService.
func NewCardService(store repository.Store, gateway Gateway, sealer *crypto.Encryptor, cfg BillingConfig, m *metrics.Collector, log *logrus.Entry) *CardService {
	return &CardService{
		store:    store,
		gateway:  gateway,
		sealer:   sealer,
		cfg:      cfg.withDefaults(),
		metrics:  m,
		log:      componentLogger(log, "cards"),
		validate: validator.New(),
		now:      time.Now,
	}
}

// StartSave creates a pending card and a zero-amount save-card order.
func (s *CardService) StartSave(ctx context.Context, userID string, req *domain.SaveCardRequest) (*domain.SaveCardResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}
	if s.gateway == nil {
		return nil, domain.ErrConfiguration(checkoutFailedMessage, errGatewayNotConfigured)
	}

	now := s.now()
	orderID := newID()
	pm := &domain.PaymentMethod{
		ID:        newID(),
		UserID:    userID,
		Token:     orderID,
		Mask:      domain.PendingCardMask,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePaymentMethod(ctx, pm); err != nil {
		return nil, domain.ErrPersistence("failed to record card", err)
	}

	log := s.log.WithFields(logrus.Fields{"order_id": orderID, "payment_method_id": pm.ID})
	resp, err := s.gateway.CreateOrder(ctx, &payment.OrderRequest{
		ExternalOrderID: orderID,
		Amount:          payment.FormatAmount(0),
		Currency:        s.cfg.Currency,
		Description:     "card verification",
		SaveCard:        true,
		SuccessURL:      orDefault(req.SuccessURL, s.cfg.SuccessURL),
		FailURL:         orDefault(req.FailURL, s.cfg.FailURL),
		CallbackURL:     s.cfg.CallbackURL,
		Metadata:        map[string]string{"userId": userID, "purpose": "save_card"},
	})
	if err != nil {
		appErr, _ := classifyOrderError(err)
		log.WithError(err).WithField("kind", appErr.Kind).Error("save-card order failed")
		// No callback will arrive for an order the gateway never accepted.
		if delErr := s.store.DeletePaymentMethod(ctx, pm.ID); delErr != nil {
			log.WithError(delErr).Error("failed to delete pending card")
		}
		s.metrics.RecordCard("start_failed")
		return nil, appErr
	}

	s.metrics.RecordCard("started")
	log.Info("save-card checkout created")
	return &domain.SaveCardResponse{CheckoutURL: resp.CheckoutURL, OrderID: orderID, PaymentMethodID: pm.ID}, nil
}

// ApplyCallback finalizes or deletes the pending card whose temporary token
// equals the callback's order id.
func (s *CardService) ApplyCallback(ctx context.Context, cb *domain.Callback) (CardAction, error) {
	action := CardMissing
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		pm, err := q.LockPendingPaymentMethod(ctx, cb.OrderID)
		if err != nil {
			return err
		}
		if pm == nil {
			action = CardMissing
			return nil
		}

		switch {
		case cb.Failure():
			action = CardDeleted
			return q.DeletePaymentMethod(ctx, pm.ID)
		case cb.Success() && cb.Card.Token != "":
			duplicate, err := s.findByToken(ctx, q, pm.UserID, cb.Card.Token)
			if err != nil {
				return err
			}
			if duplicate != nil {
				action = CardRefreshed
				return s.refresh(ctx, q, pm, duplicate, cb.Card)
			}
			action = CardFinalized
			return s.finalize(ctx, q, pm, cb.Card)
		default:
			action = CardUntouched
			return nil
		}
	})
	if err != nil {
		return "", domain.ErrPersistence("failed to apply card callback", err)
	}

	s.metrics.RecordCard(string(action))
	s.log.WithFields(logrus.Fields{
		"order_id":        cb.OrderID,
		"provider_status": cb.Status,
		"action":          action,
	}).Info("card callback applied")
	return action, nil
}

func (s *CardService) finalize(ctx context.Context, q repository.Querier, pm *domain.PaymentMethod, card domain.CardDetails) error {
	token := card.Token
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(token)
		if err != nil {
			return err
		}
		token = sealed
	}

	existing, err := q.CountFinalizedPaymentMethods(ctx, pm.UserID)
	if err != nil {
		return err
	}

	pm.Token = token
	pm.Mask = card.Mask
	if pm.Mask == "" || pm.Mask == domain.PendingCardMask {
		pm.Mask = "****"
		if card.Last4 != "" {
			pm.Mask = "**** " + card.Last4
		}
	}
	pm.Brand = card.Brand
	pm.Last4 = card.Last4
	pm.ExpiryMonth = card.ExpiryMonth
	pm.ExpiryYear = card.ExpiryYear
	pm.IsDefault = existing == 0
	pm.UpdatedAt = s.now()
	return q.FinalizePaymentMethod(ctx, pm)
}

// findByToken returns the user's finalized card that holds token, if any.
// Stored tokens are sealed with a random nonce, so they are compared after
// unsealing.
func (s *CardService) findByToken(ctx context.Context, q repository.Querier, userID, token string) (*domain.PaymentMethod, error) {
	cards, err := q.ListPaymentMethods(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range cards {
		stored := cards[i].Token
		if s.sealer != nil {
			plain, err := s.sealer.Unseal(stored)
			if err != nil {
				s.log.WithError(err).WithField("payment_method_id", cards[i].ID).Warn("stored card token cannot be unsealed")
				continue
			}
			stored = plain
		}
		if stored == token {
			return &cards[i], nil
		}
	}
	return nil, nil
}

// refresh updates an already saved card with the latest details and drops
// the placeholder created for the repeated save.
func (s *CardService) refresh(ctx context.Context, q repository.Querier, placeholder, saved *domain.PaymentMethod, card domain.CardDetails) error {
	if err := q.DeletePaymentMethod(ctx, placeholder.ID); err != nil {
		return err
	}
	if card.Mask != "" && card.Mask != domain.PendingCardMask {
		saved.Mask = card.Mask
	}
	if card.Brand != "" {
		saved.Brand = card.Brand
	}
	if card.Last4 != "" {
		saved.Last4 = card.Last4
	}
	if card.ExpiryMonth != 0 {
		saved.ExpiryMonth, saved.ExpiryYear = card.ExpiryMonth, card.ExpiryYear
	}
	saved.UpdatedAt = s.now()
	return q.FinalizePaymentMethod(ctx, saved)
}

// List returns the user's finalized cards.
func (s *CardService) List(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	cards, err := s.store.ListPaymentMethods(ctx, userID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to list cards", err)
	}
	if cards == nil {
		cards = []domain.PaymentMethod{}
	}
	return cards, nil
}

// SetDefault makes one finalized card the user's default.
func (s *CardService) SetDefault(ctx context.Context, userID, id string) error {
	var notFound bool
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		pm, err := q.GetPaymentMethod(ctx, userID, id)
		if err != nil {
			return err
		}
		if pm == nil || pm.IsPending() {
			notFound = true
			return nil
		}
		return q.SetDefaultPaymentMethod(ctx, userID, id)
	})
	if err != nil {
		return domain.ErrPersistence("failed to set default card", err)
	}
	if notFound {
		return domain.ErrNotFound("card not found")
	}
	return nil
}

// Delete removes a card. When it was the default, the newest remaining
// card becomes the default.
func (s *CardService) Delete(ctx context.Context, userID, id string) error {
	var notFound bool
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		pm, err := q.GetPaymentMethod(ctx, userID, id)
		if err != nil {
			return err
		}
		if pm == nil {
			notFound = true
			return nil
		}
		if err := q.DeletePaymentMethod(ctx, pm.ID); err != nil {
			return err
		}
		if !pm.IsDefault {
			return nil
		}
		remaining, err := q.ListPaymentMethods(ctx, userID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		return q.SetDefaultPaymentMethod(ctx, userID, remaining[0].ID)
	})
	if err != nil {
		return domain.ErrPersistence("failed to delete card", err)
	}
	if notFound {
		return domain.ErrNotFound("card not found")
	}
	s.metrics.RecordCard("removed")
	return nil
}
