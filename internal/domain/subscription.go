package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// SubscriptionStatus is the lifecycle state of a Subscription.
type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "pending"
	StatusActive    SubscriptionStatus = "active"
	StatusFailed    SubscriptionStatus = "failed"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// AllStatuses lists every status, in lifecycle order.
var AllStatuses = []SubscriptionStatus{StatusPending, StatusActive, StatusFailed, StatusCancelled}

// CanTransition reports whether a subscription may move from s to next.
// Terminal states never move and nothing goes back to pending.
func (s SubscriptionStatus) CanTransition(next SubscriptionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusFailed || next == StatusCancelled
	case StatusActive:
		return next == StatusCancelled
	default:
		return false
	}
}

// MapProviderStatus translates the gateway's status vocabulary. ok is false
// for anything unrecognized.
func MapProviderStatus(raw string) (SubscriptionStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETED", "SUCCESS", "ACTIVE":
		return StatusActive, true
	case "FAILED", "DECLINED":
		return StatusFailed, true
	case "CANCELLED", "CANCELED", "REVOKED":
		return StatusCancelled, true
	}
	return "", false
}

// Billing intervals.
const (
	IntervalWeek  = "week"
	IntervalMonth = "month"
)

// PeriodLength is the local billing period for an interval: 7 days for
// weekly plans and 30 days otherwise.
func PeriodLength(interval string) time.Duration {
	if strings.EqualFold(interval, IntervalWeek) {
		return 7 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// Attribution carries marketing fields captured at checkout.
type Attribution struct {
	UTMCampaign string `json:"utmCampaign,omitempty" validate:"omitempty,max=255"`
	UTMSource   string `json:"utmSource,omitempty" validate:"omitempty,max=255"`
	UTMMedium   string `json:"utmMedium,omitempty" validate:"omitempty,max=255"`
	UTMTerm     string `json:"utmTerm,omitempty" validate:"omitempty,max=255"`
	UTMContent  string `json:"utmContent,omitempty" validate:"omitempty,max=255"`
	Referrer    string `json:"referrer,omitempty" validate:"omitempty,max=2048"`
	LandingPage string `json:"landingPage,omitempty" validate:"omitempty,max=2048"`
}

// Subscription represents a user's subscription to a plan.
type Subscription struct {
	ID                     string             `json:"id"`
	UserID                 string             `json:"userId"`
	PlanType               string             `json:"planType"`
	Status                 SubscriptionStatus `json:"status"`
	Provider               string             `json:"provider"`
	ProviderOrderID        string             `json:"providerOrderId"`
	ProviderSubscriptionID string             `json:"providerSubscriptionId,omitempty"`
	CardToken              string             `json:"-"`
	BillingInterval        string             `json:"billingInterval"`
	PriceCents             int64              `json:"priceCents"`
	Currency               string             `json:"currency"`
	CurrentPeriodStart     *time.Time         `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"currentPeriodEnd,omitempty"`
	RefundEligibleUntil    *time.Time         `json:"refundEligibleUntil,omitempty"`
	CancelledAt            *time.Time         `json:"cancelledAt,omitempty"`
	Attribution
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Event types appended to the subscription audit log.
const (
	EventCreated            = "created"
	EventCheckoutFailed     = "checkout_failed"
	EventSuperseded         = "superseded"
	EventCallbackReplayed   = "callback_replayed"
	EventTransitionRejected = "transition_rejected"
	EventStatusUnrecognized = "status_unrecognized"
)

// StatusEvent returns the event type recorded for a transition into s.
func StatusEvent(s SubscriptionStatus) string {
	return "status_" + string(s)
}

// SubscriptionEvent is one append-only audit entry.
type SubscriptionEvent struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscriptionId"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// CurrentPlan is the per-user summary of the plan in force.
type CurrentPlan struct {
	UserID         string    `json:"userId"`
	PlanType       string    `json:"planType"`
	SubscriptionID string    `json:"subscriptionId"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CheckoutRequest is the input for starting a subscription checkout.
type CheckoutRequest struct {
	PlanType   string `json:"planType" validate:"required,max=64"`
	SuccessURL string `json:"successUrl,omitempty" validate:"omitempty,url"`
	FailURL    string `json:"failUrl,omitempty" validate:"omitempty,url"`
	Attribution
}

// CheckoutResponse returns the URL to redirect the user to for payment.
type CheckoutResponse struct {
	CheckoutURL    string `json:"checkoutUrl"`
	OrderID        string `json:"orderId"`
	SubscriptionID string `json:"subscriptionId"`
}

// SubscriptionSummary is returned by GET /api/payment/subscription.
type SubscriptionSummary struct {
	Status       string        `json:"status"`
	Subscription *Subscription `json:"subscription,omitempty"`
	CurrentPlan  *CurrentPlan  `json:"currentPlan,omitempty"`
}

// SubscriptionStats holds subscription counts per status.
type SubscriptionStats struct {
	Total    int                        `json:"total"`
	ByStatus map[SubscriptionStatus]int `json:"byStatus"`
}
