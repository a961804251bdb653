package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/pkg/crypto"
	"github.com/reviewdesk/backend/pkg/payment"
	"github.com/sirupsen/logrus"
)

// checkoutFailedMessage is the only text users see when a gateway order
// cannot be created.
const checkoutFailedMessage = "payment could not be started"

var errGatewayNotConfigured = errors.New("payment gateway is not configured")

// Gateway creates orders at the payment provider and opens its sealed
// callbacks. *payment.Client implements it.
type Gateway interface {
	Provider() string
	CreateOrder(ctx context.Context, req *payment.OrderRequest) (*payment.OrderResponse, error)
	Open(env payment.Envelope, out any) (crypto.Padding, error)
}

// BillingConfig holds the settings shared by the checkout and card flows.
type BillingConfig struct {
	// Provider selects provider-specific billing plan rows.
	Provider     string
	CallbackURL  string
	SuccessURL   string
	FailURL      string
	Currency     string
	// RefundWindow is added to the activation time. Zero means no refund
	// period; config.Load supplies the 14 day default.
	RefundWindow time.Duration
}

func (c BillingConfig) withDefaults() BillingConfig {
	if c.Provider == "" {
		c.Provider = domain.GenericProvider
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.RefundWindow < 0 {
		c.RefundWindow = 0
	}
	return c
}

// classifyOrderError maps gateway client failures to user-facing errors.
func classifyOrderError(err error) (*domain.AppError, string) {
	switch {
	case errors.Is(err, payment.ErrConfiguration), errors.Is(err, errGatewayNotConfigured):
		return domain.ErrConfiguration(checkoutFailedMessage, err), "configuration"
	case errors.Is(err, crypto.ErrPaddingExhausted), errors.Is(err, crypto.ErrKeyUnwrap), errors.Is(err, crypto.ErrMalformed):
		return domain.ErrCrypto(checkoutFailedMessage, err), "crypto"
	default:
		return domain.ErrGateway(checkoutFailedMessage, err), "gateway"
	}
}

func newEvent(subscriptionID, eventType string, payload json.RawMessage, at time.Time) *domain.SubscriptionEvent {
	return &domain.SubscriptionEvent{
		ID:             newID(),
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		Payload:        payload,
		CreatedAt:      at,
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func componentLogger(log *logrus.Entry, component string) *logrus.Entry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithField("component", component)
}

func newID() string {
	return uuid.NewString()
}
