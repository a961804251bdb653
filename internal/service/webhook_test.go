package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/pkg/crypto"
	"github.com/reviewdesk/backend/pkg/payment"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealedCallback(t *testing.T, env *testEnv, payload any, padding crypto.Padding) []byte {
	t.Helper()
	sealed, err := crypto.Seal(payload, &env.gateway.key.PublicKey, padding)
	require.NoError(t, err)
	body, err := json.Marshal(payment.Envelope{EncryptedData: sealed.Data, EncryptedKeys: sealed.Key, AES: true})
	require.NoError(t, err)
	return body
}

func TestWebhookEmptyBodyTouchesNothing(t *testing.T) {
	// No store, gateway or services: any access would panic.
	svc := NewWebhookService(nil, nil, nil, nil, nil, nil)

	for _, body := range [][]byte{nil, []byte(""), []byte("  \n\t ")} {
		outcome, err := svc.Handle(context.Background(), body)
		require.NoError(t, err)
		assert.Equal(t, OutcomeEmpty, outcome)
	}
}

func TestWebhookOrphanWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	checkout(t, env, testUserID, "professional")
	before := env.store.Writes()

	assert.Equal(t, OutcomeOrphan, deliver(t, env, callback("no-such-order", "COMPLETED")))
	assert.Equal(t, before, env.store.Writes())

	var orphanLogged bool
	for _, e := range env.logs.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["order_id"] == "no-such-order" && e.Data["kind"] == domain.KindOrphan {
			orphanLogged = true
		}
	}
	assert.True(t, orphanLogged, "orphan callback should be logged with its order id")
}

func TestWebhookMalformedBodies(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`not json`, `["a"]`, `{"status":"COMPLETED"}`} {
		outcome, err := env.webhook.Handle(context.Background(), []byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, OutcomeMalformed, outcome, body)
	}
	assert.Equal(t, 0, env.store.Writes())
}

func TestWebhookSealedCallback(t *testing.T) {
	env := newTestEnv(t)
	resp := checkout(t, env, testUserID, "professional")

	for _, padding := range crypto.DefaultPaddings {
		body := sealedCallback(t, env, map[string]any{
			"data": map[string]string{"externalOrderId": resp.OrderID, "orderStatus": "COMPLETED"},
		}, padding)
		assert.Equal(t, OutcomeSubscription, deliver(t, env, body))
	}

	assert.Equal(t, domain.StatusActive, subscription(t, env, resp.OrderID).Status)
	assert.Equal(t, []string{domain.EventCreated, "status_active", domain.EventCallbackReplayed}, eventTypes(t, env, resp.SubscriptionID))
}

func TestWebhookUndecodableEnvelope(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"encryptedData":"AAAA","encryptedKeys":"QUJDRA==","aes":true}`)
	outcome, err := env.webhook.Handle(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUndecodable, outcome)
	assert.Equal(t, 0, env.store.Writes())
}

func TestWebhookSealedWithoutGatewayIsRetryable(t *testing.T) {
	env := newTestEnvWithGateway(t, nil)

	body := []byte(`{"encryptedData":"AAAA","encryptedKeys":"QUJDRA==","aes":true}`)
	_, err := env.webhook.Handle(context.Background(), body)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestWebhookPlainCallbackWithoutGateway(t *testing.T) {
	env := newTestEnvWithGateway(t, nil)
	assert.Equal(t, OutcomeOrphan, deliver(t, env, callback("ord-1", "COMPLETED")))
}

func TestWebhookStoreFailureRollsBackActivation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := checkout(t, env, testUserID, "starter")
	deliver(t, env, callback(first.OrderID, "COMPLETED"))
	second := checkout(t, env, testUserID, "professional")
	before := env.store.Writes()

	env.wire(&failingStore{MemoryStore: env.store, failOn: "UpsertCurrentPlan"})
	_, err := env.webhook.Handle(ctx, callback(second.OrderID, "COMPLETED"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindPersistence))

	assert.Equal(t, before, env.store.Writes())
	assert.Equal(t, domain.StatusActive, subscription(t, env, first.OrderID).Status)
	assert.Equal(t, domain.StatusPending, subscription(t, env, second.OrderID).Status)
	assert.Equal(t, []string{domain.EventCreated, "status_active"}, eventTypes(t, env, first.SubscriptionID))
	assert.Equal(t, []string{domain.EventCreated}, eventTypes(t, env, second.SubscriptionID))

	current, err := env.store.GetCurrentPlan(ctx, testUserID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, first.SubscriptionID, current.SubscriptionID)

	// The redelivery succeeds once the store recovers.
	env.wire(env.store)
	assert.Equal(t, OutcomeSubscription, deliver(t, env, callback(second.OrderID, "COMPLETED")))
	assert.Equal(t, domain.StatusCancelled, subscription(t, env, first.OrderID).Status)
	assert.Equal(t, domain.StatusActive, subscription(t, env, second.OrderID).Status)
}
