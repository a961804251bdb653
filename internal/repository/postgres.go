package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reviewdesk/backend/internal/domain"
)

// queries implements Querier over a pool or a transaction.
type queries struct {
	db DBTX
}

// PostgresStore is the production Store.
type PostgresStore struct {
	*queries
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{queries: &queries{db: pool}, pool: pool}
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&queries{db: tx})
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (q *queries) FindBillingPlan(ctx context.Context, planType, provider string) (*domain.BillingPlan, error) {
	query := `
		SELECT plan_type, provider, price_cents, currency, billing_interval
		FROM billing_plans WHERE plan_type = $1 AND provider = $2
	`
	var p domain.BillingPlan
	err := q.db.QueryRow(ctx, query, planType, provider).Scan(&p.PlanType, &p.Provider, &p.PriceCents, &p.Currency, &p.Interval)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find billing plan: %w", err)
	}
	return &p, nil
}

func (q *queries) ListBillingPlans(ctx context.Context) ([]domain.BillingPlan, error) {
	rows, err := q.db.Query(ctx, `
		SELECT plan_type, provider, price_cents, currency, billing_interval
		FROM billing_plans ORDER BY price_cents, plan_type, provider
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing plans: %w", err)
	}
	plans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BillingPlan, error) {
		var p domain.BillingPlan
		err := row.Scan(&p.PlanType, &p.Provider, &p.PriceCents, &p.Currency, &p.Interval)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan billing plans: %w", err)
	}
	return plans, nil
}
