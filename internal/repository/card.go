package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/reviewdesk/backend/internal/domain"
)

const paymentMethodColumns = `
	id, user_id, token, mask, brand, last4, expiry_month, expiry_year, is_default, created_at, updated_at`

func scanPaymentMethod(row pgx.Row) (*domain.PaymentMethod, error) {
	var pm domain.PaymentMethod
	err := row.Scan(
		&pm.ID, &pm.UserID, &pm.Token, &pm.Mask, &pm.Brand, &pm.Last4,
		&pm.ExpiryMonth, &pm.ExpiryYear, &pm.IsDefault, &pm.CreatedAt, &pm.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

func (q *queries) findPaymentMethod(ctx context.Context, where string, args ...any) (*domain.PaymentMethod, error) {
	pm, err := scanPaymentMethod(q.db.QueryRow(ctx, "SELECT "+paymentMethodColumns+" FROM payment_methods "+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find payment method: %w", err)
	}
	return pm, nil
}

func (q *queries) CreatePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (` + paymentMethodColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := q.db.Exec(ctx, query,
		pm.ID, pm.UserID, pm.Token, pm.Mask, pm.Brand, pm.Last4,
		pm.ExpiryMonth, pm.ExpiryYear, pm.IsDefault, pm.CreatedAt, pm.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment method: %w", err)
	}
	return nil
}

func (q *queries) GetPendingPaymentMethod(ctx context.Context, token string) (*domain.PaymentMethod, error) {
	return q.findPaymentMethod(ctx, "WHERE token = $1 AND mask = $2", token, domain.PendingCardMask)
}

func (q *queries) LockPendingPaymentMethod(ctx context.Context, token string) (*domain.PaymentMethod, error) {
	return q.findPaymentMethod(ctx, "WHERE token = $1 AND mask = $2 FOR UPDATE", token, domain.PendingCardMask)
}

func (q *queries) GetPaymentMethod(ctx context.Context, userID, id string) (*domain.PaymentMethod, error) {
	return q.findPaymentMethod(ctx, "WHERE id = $1 AND user_id = $2", id, userID)
}

// FinalizePaymentMethod stores the provider token and card details.
func (q *queries) FinalizePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error {
	query := `
		UPDATE payment_methods SET
			token = $2, mask = $3, brand = $4, last4 = $5,
			expiry_month = $6, expiry_year = $7, is_default = $8, updated_at = $9
		WHERE id = $1
	`
	_, err := q.db.Exec(ctx, query,
		pm.ID, pm.Token, pm.Mask, pm.Brand, pm.Last4,
		pm.ExpiryMonth, pm.ExpiryYear, pm.IsDefault, pm.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize payment method: %w", err)
	}
	return nil
}

func (q *queries) DeletePaymentMethod(ctx context.Context, id string) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM payment_methods WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete payment method: %w", err)
	}
	return nil
}

func (q *queries) CountFinalizedPaymentMethods(ctx context.Context, userID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_methods WHERE user_id = $1 AND mask <> $2`,
		userID, domain.PendingCardMask,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count payment methods: %w", err)
	}
	return n, nil
}

// ListPaymentMethods returns finalized cards, newest first.
func (q *queries) ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	query := "SELECT " + paymentMethodColumns + ` FROM payment_methods
		WHERE user_id = $1 AND mask <> $2 ORDER BY created_at DESC, id DESC`
	rows, err := q.db.Query(ctx, query, userID, domain.PendingCardMask)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	defer rows.Close()

	var methods []domain.PaymentMethod
	for rows.Next() {
		pm, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, *pm)
	}
	return methods, rows.Err()
}

// SetDefaultPaymentMethod makes id the user's only default card.
func (q *queries) SetDefaultPaymentMethod(ctx context.Context, userID, id string) error {
	if _, err := q.db.Exec(ctx,
		`UPDATE payment_methods SET is_default = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_default AND id <> $2`,
		userID, id,
	); err != nil {
		return fmt.Errorf("failed to clear default payment method: %w", err)
	}
	if _, err := q.db.Exec(ctx,
		`UPDATE payment_methods SET is_default = TRUE, updated_at = NOW() WHERE user_id = $1 AND id = $2`,
		userID, id,
	); err != nil {
		return fmt.Errorf("failed to set default payment method: %w", err)
	}
	return nil
}
