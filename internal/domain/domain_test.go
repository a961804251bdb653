package domain

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]SubscriptionStatus{
		"COMPLETED": StatusActive,
		" success ": StatusActive,
		"Active":    StatusActive,
		"FAILED":    StatusFailed,
		"declined":  StatusFailed,
		"CANCELLED": StatusCancelled,
		"canceled":  StatusCancelled,
		"REVOKED":   StatusCancelled,
	}
	for raw, want := range cases {
		got, ok := MapProviderStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := MapProviderStatus("PROCESSING")
	assert.False(t, ok)
	_, ok = MapProviderStatus("")
	assert.False(t, ok)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusActive))
	assert.True(t, StatusPending.CanTransition(StatusFailed))
	assert.True(t, StatusPending.CanTransition(StatusCancelled))
	assert.True(t, StatusActive.CanTransition(StatusCancelled))

	assert.False(t, StatusActive.CanTransition(StatusPending))
	assert.False(t, StatusActive.CanTransition(StatusFailed))
	assert.False(t, StatusFailed.CanTransition(StatusActive))
	assert.False(t, StatusCancelled.CanTransition(StatusActive))
	assert.False(t, StatusCancelled.CanTransition(StatusPending))
}

func TestPeriodLength(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, PeriodLength("week"))
	assert.Equal(t, 7*24*time.Hour, PeriodLength("WEEK"))
	assert.Equal(t, 30*24*time.Hour, PeriodLength("month"))
	assert.Equal(t, 30*24*time.Hour, PeriodLength(""))
}

func TestParseCallbackFlat(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"externalOrderId":"ord-1","status":"COMPLETED","subscriptionId":"sub-9"}`))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", cb.OrderID)
	assert.Equal(t, "COMPLETED", cb.Status)
	assert.Equal(t, "sub-9", cb.ProviderSubscriptionID)
	assert.True(t, cb.Success())
	assert.False(t, cb.Failure())
}

func TestParseCallbackNested(t *testing.T) {
	raw := `{
		"orderStatus": "SUCCESS",
		"data": {
			"orderId": "ord-2",
			"card": {"token": "tok_abc", "maskedPan": "411111******1234", "brand": "VISA", "expiry": "09/29"}
		}
	}`
	cb, err := ParseCallback([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "ord-2", cb.OrderID)
	assert.Equal(t, "SUCCESS", cb.Status)
	assert.Equal(t, "tok_abc", cb.Card.Token)
	assert.Equal(t, "411111******1234", cb.Card.Mask)
	assert.Equal(t, "VISA", cb.Card.Brand)
	assert.Equal(t, "1234", cb.Card.Last4)
	assert.Equal(t, 9, cb.Card.ExpiryMonth)
	assert.Equal(t, 2029, cb.Card.ExpiryYear)
	assert.JSONEq(t, raw, string(cb.Raw))
}

func TestParseCallbackBareTokenOnlyInsideCard(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"orderId":"ord-3","status":"COMPLETED","token":"session-xyz","data":{"token":"other"}}`))
	require.NoError(t, err)
	assert.Empty(t, cb.Card.Token)
	assert.NotContains(t, string(cb.AuditPayload()), "session-xyz")

	cb, err = ParseCallback([]byte(`{"orderId":"ord-3","status":"COMPLETED","token":"session-xyz","card":{"token":"tok_card"}}`))
	require.NoError(t, err)
	assert.Equal(t, "tok_card", cb.Card.Token)

	cb, err = ParseCallback([]byte(`{"orderId":"ord-3","status":"COMPLETED","token":"session-xyz","cardToken":"tok_explicit"}`))
	require.NoError(t, err)
	assert.Equal(t, "tok_explicit", cb.Card.Token)
}

func TestParseCallbackNumericFields(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"order_id":12345,"state":"declined","expMonth":3,"expYear":2031}`))
	require.NoError(t, err)
	assert.Equal(t, "12345", cb.OrderID)
	assert.True(t, cb.Failure())
	assert.Equal(t, 3, cb.Card.ExpiryMonth)
	assert.Equal(t, 2031, cb.Card.ExpiryYear)
}

func TestParseCallbackRejectsNonObject(t *testing.T) {
	_, err := ParseCallback([]byte(`["not","an","object"]`))
	assert.Error(t, err)
	_, err = ParseCallback([]byte(`null`))
	assert.Error(t, err)
}

func TestMergePlansPrefersProvider(t *testing.T) {
	rows := []BillingPlan{
		{PlanType: "starter", Provider: GenericProvider, PriceCents: 2900},
		{PlanType: "professional", Provider: GenericProvider, PriceCents: 7900},
		{PlanType: "professional", Provider: "envelope", PriceCents: 6900},
		{PlanType: "agency", Provider: "other", PriceCents: 1},
	}
	got := MergePlans(rows, "envelope")
	require.Len(t, got, 2)
	assert.Equal(t, int64(2900), got[0].PriceCents)
	assert.Equal(t, int64(6900), got[1].PriceCents)
}

func TestAppErrorKinds(t *testing.T) {
	cause := errors.New("boom")
	err := ErrGateway("payment could not be started", cause)
	assert.Equal(t, http.StatusBadGateway, err.Code)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsKind(err, KindGateway))
	assert.False(t, IsKind(err, KindCrypto))
	assert.False(t, IsKind(cause, KindGateway))

	assert.Equal(t, http.StatusServiceUnavailable, ErrConfiguration("x", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ErrCrypto("x", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, ErrPersistence("x", nil).Code)
}

func TestCallbackAuditPayloadRedactsTokens(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"orderId":"ord-3","status":"SUCCESS","data":{"card":{"cardToken":"tok_secret","last4":"4242"}}}`))
	require.NoError(t, err)
	require.Equal(t, "tok_secret", cb.Card.Token)

	audit := string(cb.AuditPayload())
	assert.NotContains(t, audit, "tok_secret")
	assert.Contains(t, audit, `"cardToken":"[redacted]"`)
	assert.Contains(t, audit, `"last4":"4242"`)
}
