package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/reviewdesk/backend/internal/domain"
)

// Querier is the set of queries the billing services run. Lookups return
// (nil, nil) when no row matches.
type Querier interface {
	CreateSubscription(ctx context.Context, sub *domain.Subscription) error
	GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error)
	GetSubscriptionByOrderID(ctx context.Context, orderID string) (*domain.Subscription, error)
	LockSubscriptionByOrderID(ctx context.Context, orderID string) (*domain.Subscription, error)
	GetActiveSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *domain.Subscription) error
	CancelOtherActiveSubscriptions(ctx context.Context, userID, keepID string, at time.Time) ([]string, error)
	CountSubscriptionsByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error)

	AppendEvent(ctx context.Context, ev *domain.SubscriptionEvent) error
	ListEvents(ctx context.Context, subscriptionID string) ([]domain.SubscriptionEvent, error)

	UpsertCurrentPlan(ctx context.Context, cp *domain.CurrentPlan) error
	GetCurrentPlan(ctx context.Context, userID string) (*domain.CurrentPlan, error)
	DeleteCurrentPlan(ctx context.Context, userID, subscriptionID string) error

	CreatePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error
	GetPendingPaymentMethod(ctx context.Context, token string) (*domain.PaymentMethod, error)
	LockPendingPaymentMethod(ctx context.Context, token string) (*domain.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, userID, id string) (*domain.PaymentMethod, error)
	FinalizePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error
	DeletePaymentMethod(ctx context.Context, id string) error
	CountFinalizedPaymentMethods(ctx context.Context, userID string) (int, error)
	ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, userID, id string) error

	FindBillingPlan(ctx context.Context, planType, provider string) (*domain.BillingPlan, error)
	ListBillingPlans(ctx context.Context) ([]domain.BillingPlan, error)
}

// Store is a Querier that can also run a group of queries atomically.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
	Ping(ctx context.Context) error
}

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
