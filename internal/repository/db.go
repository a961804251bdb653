package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reviewdesk/backend/internal/domain"
	"github.com/sirupsen/logrus"
)

// NewDB creates a new PostgreSQL connection pool. The first ping is retried
// with exponential backoff so the server can start alongside the database.
func NewDB(ctx context.Context, databaseURL string, log *logrus.Entry) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	ping := func() error {
		return pool.Ping(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait).Warn("database not ready")
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations creates the billing tables and seeds the generic plans.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS billing_plans (
			plan_type        TEXT NOT NULL,
			provider         TEXT NOT NULL,
			price_cents      BIGINT NOT NULL,
			currency         TEXT NOT NULL DEFAULT 'USD',
			billing_interval TEXT NOT NULL DEFAULT 'month',
			PRIMARY KEY (plan_type, provider)
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                       TEXT PRIMARY KEY,
			user_id                  TEXT NOT NULL,
			plan_type                TEXT NOT NULL,
			status                   TEXT NOT NULL DEFAULT 'pending',
			provider                 TEXT NOT NULL,
			provider_order_id        TEXT NOT NULL UNIQUE,
			provider_subscription_id TEXT NOT NULL DEFAULT '',
			card_token               TEXT NOT NULL DEFAULT '',
			billing_interval         TEXT NOT NULL DEFAULT 'month',
			price_cents              BIGINT NOT NULL,
			currency                 TEXT NOT NULL,
			current_period_start     TIMESTAMPTZ,
			current_period_end       TIMESTAMPTZ,
			refund_eligible_until    TIMESTAMPTZ,
			cancelled_at             TIMESTAMPTZ,
			utm_campaign             TEXT NOT NULL DEFAULT '',
			utm_source               TEXT NOT NULL DEFAULT '',
			utm_medium               TEXT NOT NULL DEFAULT '',
			utm_term                 TEXT NOT NULL DEFAULT '',
			utm_content              TEXT NOT NULL DEFAULT '',
			referrer                 TEXT NOT NULL DEFAULT '',
			landing_page             TEXT NOT NULL DEFAULT '',
			created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active
			ON subscriptions(user_id) WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS subscription_events (
			id              TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL REFERENCES subscriptions(id),
			event_type      TEXT NOT NULL,
			payload         JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscription_events_subscription_id
			ON subscription_events(subscription_id, created_at);

		CREATE TABLE IF NOT EXISTS payment_methods (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			token        TEXT NOT NULL UNIQUE,
			mask         TEXT NOT NULL,
			brand        TEXT NOT NULL DEFAULT '',
			last4        TEXT NOT NULL DEFAULT '',
			expiry_month INT NOT NULL DEFAULT 0,
			expiry_year  INT NOT NULL DEFAULT 0,
			is_default   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_payment_methods_user_id ON payment_methods(user_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_methods_one_default
			ON payment_methods(user_id) WHERE is_default;

		CREATE TABLE IF NOT EXISTS user_plans (
			user_id         TEXT PRIMARY KEY,
			plan_type       TEXT NOT NULL,
			subscription_id TEXT NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range domain.DefaultBillingPlans() {
		batch.Queue(`
			INSERT INTO billing_plans (plan_type, provider, price_cents, currency, billing_interval)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING
		`, p.PlanType, p.Provider, p.PriceCents, p.Currency, p.Interval)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to seed billing plans: %w", err)
	}
	return nil
}
