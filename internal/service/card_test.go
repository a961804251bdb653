package service

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/pkg/crypto"
	"github.com/reviewdesk/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSave(t *testing.T, env *testEnv) *domain.SaveCardResponse {
	t.Helper()
	resp, err := env.cards.StartSave(context.Background(), testUserID, &domain.SaveCardRequest{})
	require.NoError(t, err)
	return resp
}

func cardSuccess(orderID, token, last4 string) []byte {
	return []byte(fmt.Sprintf(
		`{"orderId":%q,"status":"SUCCESS","card":{"cardToken":%q,"maskedPan":"411111******%s","brand":"VISA","expiry":"12/30"}}`,
		orderID, token, last4,
	))
}

func pendingCard(t *testing.T, env *testEnv, orderID string) *domain.PaymentMethod {
	t.Helper()
	pm, err := env.store.GetPendingPaymentMethod(context.Background(), orderID)
	require.NoError(t, err)
	return pm
}

func TestSaveCardCreatesPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	resp := startSave(t, env)

	assert.NotEmpty(t, resp.CheckoutURL)
	pm := pendingCard(t, env, resp.OrderID)
	require.NotNil(t, pm)
	assert.Equal(t, resp.PaymentMethodID, pm.ID)

	order := env.gateway.lastOrder(t)
	assert.True(t, order.SaveCard)
	assert.Equal(t, "0.00", order.Amount)
	assert.Nil(t, order.Recurring)

	cards, err := env.cards.List(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Empty(t, cards, "pending cards are not listed")
}

func TestSaveCardFinalizes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := startSave(t, env)
	assert.Equal(t, OutcomeCard, deliver(t, env, cardSuccess(first.OrderID, "tok_first", "4242")))

	env.clock.Advance(time.Minute)
	second := startSave(t, env)
	assert.Equal(t, OutcomeCard, deliver(t, env, cardSuccess(second.OrderID, "tok_second", "1111")))

	cards, err := env.cards.List(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, cards, 2)

	newest, oldest := cards[0], cards[1]
	assert.Equal(t, second.PaymentMethodID, newest.ID)
	assert.False(t, newest.IsDefault)
	assert.True(t, oldest.IsDefault, "first finalized card becomes default")
	assert.Equal(t, "4242", oldest.Last4)
	assert.Equal(t, "VISA", oldest.Brand)
	assert.Equal(t, 12, oldest.ExpiryMonth)
	assert.Equal(t, 2030, oldest.ExpiryYear)

	assert.True(t, crypto.IsSealed(oldest.Token))
	plain, err := env.sealer.Unseal(oldest.Token)
	require.NoError(t, err)
	assert.Equal(t, "tok_first", plain)

	assert.Nil(t, pendingCard(t, env, first.OrderID))
}

func TestSaveCardFailureDeletesPlaceholderOnce(t *testing.T) {
	env := newTestEnv(t)
	resp := startSave(t, env)

	assert.Equal(t, OutcomeCard, deliver(t, env, callback(resp.OrderID, "DECLINED")))
	assert.Nil(t, pendingCard(t, env, resp.OrderID))

	before := env.store.Writes()
	assert.Equal(t, OutcomeOrphan, deliver(t, env, callback(resp.OrderID, "DECLINED")))
	assert.Equal(t, before, env.store.Writes())

	cards, err := env.cards.List(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestSaveCardSuccessWithoutTokenIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	resp := startSave(t, env)

	assert.Equal(t, OutcomeCard, deliver(t, env, callback(resp.OrderID, "SUCCESS")))
	pm := pendingCard(t, env, resp.OrderID)
	require.NotNil(t, pm)
	assert.True(t, pm.IsPending())

	assert.Equal(t, OutcomeCard, deliver(t, env, cardSuccess(resp.OrderID, "tok_late", "9999")))
	assert.Nil(t, pendingCard(t, env, resp.OrderID))
}

func TestSaveCardGatewayFailureRemovesPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.err = &payment.GatewayError{StatusCode: 503, Message: "maintenance"}

	_, err := env.cards.StartSave(context.Background(), testUserID, &domain.SaveCardRequest{})
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindGateway, appErr.Kind)

	assert.Nil(t, pendingCard(t, env, env.gateway.lastOrder(t).ExternalOrderID))
}

func TestSaveCardWithoutGateway(t *testing.T) {
	env := newTestEnvWithGateway(t, nil)

	_, err := env.cards.StartSave(context.Background(), testUserID, &domain.SaveCardRequest{})
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
	assert.Equal(t, 0, env.store.Writes())
}

func TestCardDefaultSwitchAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var ids []string
	for i, token := range []string{"tok_a", "tok_b", "tok_c"} {
		resp := startSave(t, env)
		deliver(t, env, cardSuccess(resp.OrderID, token, fmt.Sprintf("000%d", i)))
		ids = append(ids, resp.PaymentMethodID)
		env.clock.Advance(time.Minute)
	}

	require.NoError(t, env.cards.SetDefault(ctx, testUserID, ids[1]))
	assertDefault(t, env, ids[1])

	err := env.cards.SetDefault(ctx, "someone-else", ids[0])
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, appErr.Code)

	// Deleting the default promotes the newest remaining card.
	require.NoError(t, env.cards.Delete(ctx, testUserID, ids[1]))
	assertDefault(t, env, ids[2])

	require.NoError(t, env.cards.Delete(ctx, testUserID, ids[0]))
	assertDefault(t, env, ids[2])

	err = env.cards.Delete(ctx, testUserID, ids[0])
	appErr, ok = domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, appErr.Code)
}

func assertDefault(t *testing.T, env *testEnv, id string) {
	t.Helper()
	cards, err := env.cards.List(context.Background(), testUserID)
	require.NoError(t, err)
	defaults := 0
	for _, c := range cards {
		if c.IsDefault {
			defaults++
			assert.Equal(t, id, c.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestSaveSameCardTwiceRefreshesIt(t *testing.T) {
	env := newTestEnv(t)

	first := startSave(t, env)
	deliver(t, env, cardSuccess(first.OrderID, "tok_same", "4242"))

	env.clock.Advance(time.Minute)
	second := startSave(t, env)
	body := fmt.Sprintf(`{"orderId":%q,"status":"SUCCESS","card":{"cardToken":"tok_same","maskedPan":"411111******4242","expiry":"01/31"}}`, second.OrderID)
	assert.Equal(t, OutcomeCard, deliver(t, env, []byte(body)))

	cards, err := env.cards.List(context.Background(), testUserID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, first.PaymentMethodID, cards[0].ID)
	assert.True(t, cards[0].IsDefault)
	assert.Equal(t, 1, cards[0].ExpiryMonth)
	assert.Equal(t, 2031, cards[0].ExpiryYear)
	assert.Equal(t, "VISA", cards[0].Brand, "details missing from the callback are kept")
	assert.Nil(t, pendingCard(t, env, second.OrderID))
}

func TestCardFinalizeStoreFailureKeepsPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	resp := startSave(t, env)

	env.wire(&failingStore{MemoryStore: env.store, failOn: "FinalizePaymentMethod"})
	_, err := env.webhook.Handle(context.Background(), cardSuccess(resp.OrderID, "tok_retry", "4242"))
	assert.True(t, domain.IsKind(err, domain.KindPersistence))

	pm := pendingCard(t, env, resp.OrderID)
	require.NotNil(t, pm)
	assert.True(t, pm.IsPending())
}
