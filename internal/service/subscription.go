package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/internal/metrics"
	"github.com/reviewdesk/backend/internal/repository"
	"github.com/reviewdesk/backend/pkg/crypto"
	"github.com/reviewdesk/backend/pkg/payment"
	"github.com/sirupsen/logrus"
)

// SubscriptionService starts gateway checkouts and applies the status
// callbacks that follow them.
type SubscriptionService struct {
	store    repository.Store
	gateway  Gateway
	sealer   *crypto.Encryptor
	cfg      BillingConfig
	metrics  *metrics.Collector
	log      *logrus.Entry
	validate *validator.Validate
	now      func() time.Time
}

// NewSubscriptionService creates a SubscriptionService. gateway may be nil
// when the provider is not configured; checkouts then fail with a
// configuration error.
func NewSubscriptionService(store repository.Store, gateway Gateway, sealer *crypto.Encryptor, cfg BillingConfig, m *metrics.Collector, log *logrus.Entry) *SubscriptionService {
	return &SubscriptionService{
		store:    store,
		gateway:  gateway,
		sealer:   sealer,
		cfg:      cfg.withDefaults(),
		metrics:  m,
		log:      componentLogger(log, "subscriptions"),
		validate: validator.New(),
		now:      time.Now,
	}
}

// ResolvePlan finds the price of planType for the configured provider,
// falling back to the generic provider's row.
func (s *SubscriptionService) ResolvePlan(ctx context.Context, planType string) (*domain.BillingPlan, error) {
	providers := []string{s.cfg.Provider}
	if s.cfg.Provider != domain.GenericProvider {
		providers = append(providers, domain.GenericProvider)
	}
	for _, provider := range providers {
		plan, err := s.store.FindBillingPlan(ctx, planType, provider)
		if err != nil {
			return nil, domain.ErrPersistence("failed to resolve plan", err)
		}
		if plan != nil {
			return plan, nil
		}
	}
	return nil, domain.ErrNotFound(fmt.Sprintf("plan %q not found", planType))
}

// ListPlans returns one billing plan per plan type for the configured
// provider.
func (s *SubscriptionService) ListPlans(ctx context.Context) ([]domain.BillingPlan, error) {
	rows, err := s.store.ListBillingPlans(ctx)
	if err != nil {
		return nil, domain.ErrPersistence("failed to list plans", err)
	}
	return domain.MergePlans(rows, s.cfg.Provider), nil
}

// CreateCheckout records a pending subscription, creates the recurring order
// at the gateway and returns its hosted checkout URL.
func (s *SubscriptionService) CreateCheckout(ctx context.Context, userID string, req *domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		s.metrics.RecordCheckout("invalid")
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}

	plan, err := s.ResolvePlan(ctx, req.PlanType)
	if err != nil {
		s.metrics.RecordCheckout("plan_not_found")
		return nil, err
	}

	if s.gateway == nil {
		s.metrics.RecordCheckout("configuration")
		s.log.WithField("plan_type", plan.PlanType).Error("checkout requested but payment gateway is not configured")
		return nil, domain.ErrConfiguration(checkoutFailedMessage, errGatewayNotConfigured)
	}

	now := s.now()
	orderID := newID()
	sub := &domain.Subscription{
		ID:              newID(),
		UserID:          userID,
		PlanType:        plan.PlanType,
		Status:          domain.StatusPending,
		Provider:        s.gateway.Provider(),
		ProviderOrderID: orderID,
		BillingInterval: plan.Interval,
		PriceCents:      plan.PriceCents,
		Currency:        plan.Currency,
		Attribution:     req.Attribution,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		s.metrics.RecordCheckout("persistence")
		return nil, domain.ErrPersistence("failed to record checkout", err)
	}

	log := s.log.WithFields(logrus.Fields{
		"order_id":        orderID,
		"subscription_id": sub.ID,
		"plan_type":       plan.PlanType,
	})

	order := &payment.OrderRequest{
		ExternalOrderID: orderID,
		Amount:          payment.FormatAmount(0),
		Currency:        plan.Currency,
		Description:     fmt.Sprintf("%s subscription", plan.PlanType),
		Recurring: &payment.Recurring{
			Interval:      recurringInterval(plan.Interval),
			IntervalCount: 1,
			Amount:        payment.FormatAmount(plan.PriceCents),
			Currency:      plan.Currency,
		},
		SuccessURL:  orDefault(req.SuccessURL, s.cfg.SuccessURL),
		FailURL:     orDefault(req.FailURL, s.cfg.FailURL),
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    map[string]string{"userId": userID, "planType": plan.PlanType},
	}

	resp, err := s.gateway.CreateOrder(ctx, order)
	if err != nil {
		appErr, result := classifyOrderError(err)
		s.metrics.RecordCheckout(result)
		log.WithError(err).WithField("kind", appErr.Kind).Error("gateway order failed")

		payload := mustJSON(map[string]any{"order": order, "error": err.Error(), "kind": appErr.Kind})
		if evErr := s.store.AppendEvent(ctx, newEvent(sub.ID, domain.EventCheckoutFailed, payload, s.now())); evErr != nil {
			log.WithError(evErr).Error("failed to record checkout failure")
		}
		return nil, appErr
	}

	payload := mustJSON(map[string]any{"order": order, "response": resp.Raw, "padding": resp.Padding.String()})
	if err := s.store.AppendEvent(ctx, newEvent(sub.ID, domain.EventCreated, payload, s.now())); err != nil {
		// The order exists at the gateway, so the URL is still returned.
		log.WithError(err).Error("failed to record created event")
	}

	s.metrics.RecordCheckout("ok")
	log.WithField("padding", resp.Padding.String()).Info("checkout created")

	return &domain.CheckoutResponse{
		CheckoutURL:    resp.CheckoutURL,
		OrderID:        orderID,
		SubscriptionID: sub.ID,
	}, nil
}

func recurringInterval(interval string) string {
	if interval == domain.IntervalWeek {
		return payment.IntervalWeek
	}
	return payment.IntervalMonth
}

// ApplyCallback moves the subscription with the callback's order id through
// the state machine. It returns (nil, nil) when no subscription matches.
func (s *SubscriptionService) ApplyCallback(ctx context.Context, cb *domain.Callback) (*domain.Subscription, error) {
	var result *domain.Subscription
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		sub, err := q.LockSubscriptionByOrderID(ctx, cb.OrderID)
		if err != nil {
			return err
		}
		if sub == nil {
			return nil
		}
		result = sub
		return s.transition(ctx, q, sub, cb)
	})
	if err != nil {
		return nil, domain.ErrPersistence("failed to apply subscription callback", err)
	}
	return result, nil
}

func (s *SubscriptionService) transition(ctx context.Context, q repository.Querier, sub *domain.Subscription, cb *domain.Callback) error {
	now := s.now()
	audit := cb.AuditPayload()
	log := s.log.WithFields(logrus.Fields{
		"order_id":        sub.ProviderOrderID,
		"subscription_id": sub.ID,
		"from":            sub.Status,
		"provider_status": cb.Status,
	})

	next, ok := domain.MapProviderStatus(cb.Status)
	switch {
	case !ok:
		log.Warn("unrecognized provider status, subscription unchanged")
		return q.AppendEvent(ctx, newEvent(sub.ID, domain.EventStatusUnrecognized, audit, now))
	case next == sub.Status:
		log.Info("callback replayed, subscription unchanged")
		return q.AppendEvent(ctx, newEvent(sub.ID, domain.EventCallbackReplayed, audit, now))
	case !sub.Status.CanTransition(next):
		log.WithField("to", next).Warn("transition rejected")
		return q.AppendEvent(ctx, newEvent(sub.ID, domain.EventTransitionRejected, audit, now))
	}

	if cb.ProviderSubscriptionID != "" {
		sub.ProviderSubscriptionID = cb.ProviderSubscriptionID
	}
	if cb.Card.Token != "" {
		token, err := s.sealToken(cb.Card.Token)
		if err != nil {
			return err
		}
		sub.CardToken = token
	}
	sub.Status = next
	sub.UpdatedAt = now

	switch next {
	case domain.StatusActive:
		start := now
		end := now.Add(domain.PeriodLength(sub.BillingInterval))
		refundUntil := now.Add(s.cfg.RefundWindow)
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
		sub.RefundEligibleUntil = &refundUntil

		superseded, err := q.CancelOtherActiveSubscriptions(ctx, sub.UserID, sub.ID, now)
		if err != nil {
			return err
		}
		for _, id := range superseded {
			payload := mustJSON(map[string]string{"supersededBy": sub.ID})
			if err := q.AppendEvent(ctx, newEvent(id, domain.EventSuperseded, payload, now)); err != nil {
				return err
			}
		}
		if err := q.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		if err := q.UpsertCurrentPlan(ctx, &domain.CurrentPlan{
			UserID:         sub.UserID,
			PlanType:       sub.PlanType,
			SubscriptionID: sub.ID,
			UpdatedAt:      now,
		}); err != nil {
			return err
		}
		if len(superseded) > 0 {
			log = log.WithField("superseded", superseded)
		}

	case domain.StatusCancelled:
		cancelledAt := now
		sub.CancelledAt = &cancelledAt
		if err := q.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		if err := q.DeleteCurrentPlan(ctx, sub.UserID, sub.ID); err != nil {
			return err
		}

	default:
		if err := q.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
	}

	log.WithField("to", next).Info("subscription status changed")
	return q.AppendEvent(ctx, newEvent(sub.ID, domain.StatusEvent(next), audit, now))
}

func (s *SubscriptionService) sealToken(token string) (string, error) {
	if s.sealer == nil {
		return token, nil
	}
	return s.sealer.Seal(token)
}

// GetCurrentSubscription returns the user's active subscription and current
// plan, or status "none".
func (s *SubscriptionService) GetCurrentSubscription(ctx context.Context, userID string) (*domain.SubscriptionSummary, error) {
	sub, err := s.store.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load subscription", err)
	}
	if sub == nil {
		return &domain.SubscriptionSummary{Status: "none"}, nil
	}
	current, err := s.store.GetCurrentPlan(ctx, userID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load current plan", err)
	}
	return &domain.SubscriptionSummary{Status: string(sub.Status), Subscription: sub, CurrentPlan: current}, nil
}

// GetByOrderID finds a subscription by the order id the gateway reports,
// for support lookups from the provider dashboard.
func (s *SubscriptionService) GetByOrderID(ctx context.Context, orderID string) (*domain.Subscription, error) {
	sub, err := s.store.GetSubscriptionByOrderID(ctx, orderID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load subscription", err)
	}
	if sub == nil {
		return nil, domain.ErrNotFound("subscription not found")
	}
	return sub, nil
}

// ListEvents returns the audit log of one subscription.
func (s *SubscriptionService) ListEvents(ctx context.Context, subscriptionID string) ([]domain.SubscriptionEvent, error) {
	sub, err := s.store.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load subscription", err)
	}
	if sub == nil {
		return nil, domain.ErrNotFound("subscription not found")
	}
	events, err := s.store.ListEvents(ctx, subscriptionID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load subscription events", err)
	}
	if events == nil {
		events = []domain.SubscriptionEvent{}
	}
	return events, nil
}

// Stats counts subscriptions per status.
func (s *SubscriptionService) Stats(ctx context.Context) (*domain.SubscriptionStats, error) {
	counts, err := s.store.CountSubscriptionsByStatus(ctx)
	if err != nil {
		return nil, domain.ErrPersistence("failed to count subscriptions", err)
	}
	stats := &domain.SubscriptionStats{ByStatus: make(map[domain.SubscriptionStatus]int, len(domain.AllStatuses))}
	for _, status := range domain.AllStatuses {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}
	return stats, nil
}

func formatValidationErrors(err error) string {
	return err.Error()
}
