package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/reviewdesk/backend/internal/domain"
)

const subscriptionColumns = `
	id, user_id, plan_type, status, provider, provider_order_id, provider_subscription_id,
	card_token, billing_interval, price_cents, currency,
	current_period_start, current_period_end, refund_eligible_until, cancelled_at,
	utm_campaign, utm_source, utm_medium, utm_term, utm_content, referrer, landing_page,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanType, &sub.Status, &sub.Provider, &sub.ProviderOrderID, &sub.ProviderSubscriptionID,
		&sub.CardToken, &sub.BillingInterval, &sub.PriceCents, &sub.Currency,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.RefundEligibleUntil, &sub.CancelledAt,
		&sub.UTMCampaign, &sub.UTMSource, &sub.UTMMedium, &sub.UTMTerm, &sub.UTMContent, &sub.Referrer, &sub.LandingPage,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (q *queries) findSubscription(ctx context.Context, where string, args ...any) (*domain.Subscription, error) {
	sub, err := scanSubscription(q.db.QueryRow(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions "+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

// CreateSubscription inserts a new subscription row.
func (q *queries) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`
	_, err := q.db.Exec(ctx, query,
		sub.ID, sub.UserID, sub.PlanType, sub.Status, sub.Provider, sub.ProviderOrderID, sub.ProviderSubscriptionID,
		sub.CardToken, sub.BillingInterval, sub.PriceCents, sub.Currency,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.RefundEligibleUntil, sub.CancelledAt,
		sub.UTMCampaign, sub.UTMSource, sub.UTMMedium, sub.UTMTerm, sub.UTMContent, sub.Referrer, sub.LandingPage,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (q *queries) GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error) {
	return q.findSubscription(ctx, "WHERE id = $1", id)
}

func (q *queries) GetSubscriptionByOrderID(ctx context.Context, orderID string) (*domain.Subscription, error) {
	return q.findSubscription(ctx, "WHERE provider_order_id = $1", orderID)
}

// LockSubscriptionByOrderID reads the row with FOR UPDATE. Only meaningful
// inside InTx.
func (q *queries) LockSubscriptionByOrderID(ctx context.Context, orderID string) (*domain.Subscription, error) {
	return q.findSubscription(ctx, "WHERE provider_order_id = $1 FOR UPDATE", orderID)
}

func (q *queries) GetActiveSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return q.findSubscription(ctx, "WHERE user_id = $1 AND status = 'active' ORDER BY created_at DESC LIMIT 1", userID)
}

// UpdateSubscription writes the mutable fields of sub.
func (q *queries) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `
		UPDATE subscriptions SET
			status = $2, provider_subscription_id = $3, card_token = $4,
			current_period_start = $5, current_period_end = $6, refund_eligible_until = $7,
			cancelled_at = $8, updated_at = $9
		WHERE id = $1
	`
	_, err := q.db.Exec(ctx, query,
		sub.ID, sub.Status, sub.ProviderSubscriptionID, sub.CardToken,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.RefundEligibleUntil,
		sub.CancelledAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// CancelOtherActiveSubscriptions cancels every active subscription of userID
// except keepID and returns the ids it cancelled.
func (q *queries) CancelOtherActiveSubscriptions(ctx context.Context, userID, keepID string, at time.Time) ([]string, error) {
	query := `
		UPDATE subscriptions SET status = 'cancelled', cancelled_at = $3, updated_at = $3
		WHERE user_id = $1 AND id <> $2 AND status = 'active'
		RETURNING id
	`
	rows, err := q.db.Query(ctx, query, userID, keepID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel active subscriptions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan cancelled subscriptions: %w", err)
	}
	return ids, nil
}

func (q *queries) CountSubscriptionsByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error) {
	rows, err := q.db.Query(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan subscription count: %w", err)
		}
		counts[domain.SubscriptionStatus(status)] = n
	}
	return counts, rows.Err()
}

// AppendEvent adds an audit entry. Events are never updated or deleted.
func (q *queries) AppendEvent(ctx context.Context, ev *domain.SubscriptionEvent) error {
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	query := `
		INSERT INTO subscription_events (id, subscription_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := q.db.Exec(ctx, query, ev.ID, ev.SubscriptionID, ev.EventType, string(payload), ev.CreatedAt); err != nil {
		return fmt.Errorf("failed to append subscription event: %w", err)
	}
	return nil
}

func (q *queries) ListEvents(ctx context.Context, subscriptionID string) ([]domain.SubscriptionEvent, error) {
	query := `
		SELECT id, subscription_id, event_type, payload, created_at
		FROM subscription_events WHERE subscription_id = $1 ORDER BY created_at, id
	`
	rows, err := q.db.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription events: %w", err)
	}
	defer rows.Close()

	var events []domain.SubscriptionEvent
	for rows.Next() {
		var ev domain.SubscriptionEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.SubscriptionID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (q *queries) UpsertCurrentPlan(ctx context.Context, cp *domain.CurrentPlan) error {
	query := `
		INSERT INTO user_plans (user_id, plan_type, subscription_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET plan_type = EXCLUDED.plan_type, subscription_id = EXCLUDED.subscription_id, updated_at = EXCLUDED.updated_at
	`
	if _, err := q.db.Exec(ctx, query, cp.UserID, cp.PlanType, cp.SubscriptionID, cp.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert current plan: %w", err)
	}
	return nil
}

func (q *queries) GetCurrentPlan(ctx context.Context, userID string) (*domain.CurrentPlan, error) {
	row := q.db.QueryRow(ctx, `SELECT user_id, plan_type, subscription_id, updated_at FROM user_plans WHERE user_id = $1`, userID)
	var cp domain.CurrentPlan
	if err := row.Scan(&cp.UserID, &cp.PlanType, &cp.SubscriptionID, &cp.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find current plan: %w", err)
	}
	return &cp, nil
}

// DeleteCurrentPlan removes the user's current plan only while it still
// points at subscriptionID.
func (q *queries) DeleteCurrentPlan(ctx context.Context, userID, subscriptionID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM user_plans WHERE user_id = $1 AND subscription_id = $2`, userID, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to delete current plan: %w", err)
	}
	return nil
}
