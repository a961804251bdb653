package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reviewdesk/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSub(id, userID, orderID string, status domain.SubscriptionStatus) *domain.Subscription {
	now := time.Now()
	return &domain.Subscription{
		ID: id, UserID: userID, PlanType: "professional", Status: status,
		Provider: "envelope", ProviderOrderID: orderID, BillingInterval: domain.IntervalMonth,
		PriceCents: 7900, Currency: "USD", CreatedAt: now, UpdatedAt: now,
	}
}

func TestMemoryStoreSeedsBillingPlans(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p, err := s.FindBillingPlan(ctx, "professional", domain.GenericProvider)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(7900), p.PriceCents)

	p, err = s.FindBillingPlan(ctx, "professional", "envelope")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, 0, s.Writes())
}

func TestMemoryStoreRollsBackFailedTx(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q Querier) error {
		require.NoError(t, q.CreateSubscription(ctx, newSub("s1", "u1", "o1", domain.StatusPending)))
		return boom
	})
	assert.Equal(t, boom, err)

	sub, err := s.GetSubscriptionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.Equal(t, 0, s.Writes())
}

func TestMemoryStoreCommitsTx(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.InTx(ctx, func(q Querier) error {
		return q.CreateSubscription(ctx, newSub("s1", "u1", "o1", domain.StatusPending))
	})
	require.NoError(t, err)

	sub, err := s.GetSubscriptionByOrderID(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "s1", sub.ID)
	assert.Equal(t, 1, s.Writes())
}

func TestMemoryStoreEnforcesOneActivePerUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateSubscription(ctx, newSub("a", "u1", "o1", domain.StatusActive)))
	b := newSub("b", "u1", "o2", domain.StatusPending)
	require.NoError(t, s.CreateSubscription(ctx, b))

	b.Status = domain.StatusActive
	assert.Error(t, s.UpdateSubscription(ctx, b))

	ids, err := s.CancelOtherActiveSubscriptions(ctx, "u1", "b", time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
	require.NoError(t, s.UpdateSubscription(ctx, b))

	active, err := s.GetActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "b", active.ID)
}

func TestMemoryStoreRejectsDuplicateOrderID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateSubscription(ctx, newSub("a", "u1", "o1", domain.StatusPending)))
	assert.Error(t, s.CreateSubscription(ctx, newSub("b", "u2", "o1", domain.StatusPending)))
}

func TestMemoryStoreCurrentPlanDeleteOnlyWhenMatching(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertCurrentPlan(ctx, &domain.CurrentPlan{UserID: "u1", PlanType: "starter", SubscriptionID: "a"}))
	require.NoError(t, s.DeleteCurrentPlan(ctx, "u1", "b"))

	cp, err := s.GetCurrentPlan(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, cp)

	require.NoError(t, s.DeleteCurrentPlan(ctx, "u1", "a"))
	cp, err = s.GetCurrentPlan(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestMemoryStorePaymentMethods(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreatePaymentMethod(ctx, &domain.PaymentMethod{
		ID: "c1", UserID: "u1", Token: "ord-1", Mask: domain.PendingCardMask, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.CreatePaymentMethod(ctx, &domain.PaymentMethod{
		ID: "c2", UserID: "u1", Token: "tok", Mask: "****4242", IsDefault: true,
		CreatedAt: now.Add(time.Second), UpdatedAt: now,
	}))

	pending, err := s.GetPendingPaymentMethod(ctx, "ord-1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "c1", pending.ID)

	n, err := s.CountFinalizedPaymentMethods(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending.Token, pending.Mask, pending.IsDefault = "tok2", "****1111", true
	assert.Error(t, s.FinalizePaymentMethod(ctx, pending), "second default must be rejected")
	pending.IsDefault = false
	require.NoError(t, s.FinalizePaymentMethod(ctx, pending))

	require.NoError(t, s.SetDefaultPaymentMethod(ctx, "u1", "c1"))
	list, err := s.ListPaymentMethods(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)
	assert.False(t, list[0].IsDefault)
	assert.True(t, list[1].IsDefault)
}
