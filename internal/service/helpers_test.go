package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/internal/metrics"
	"github.com/reviewdesk/backend/internal/repository"
	"github.com/reviewdesk/backend/pkg/crypto"
	"github.com/reviewdesk/backend/pkg/payment"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu     sync.Mutex
	orders []*payment.OrderRequest
	err    error
	key    *rsa.PrivateKey
}

func (g *fakeGateway) Provider() string { return "envelope" }

func (g *fakeGateway) CreateOrder(ctx context.Context, req *payment.OrderRequest) (*payment.OrderResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.OrderResponse{
		CheckoutURL: "https://pay.example.test/checkout/" + req.ExternalOrderID,
		Padding:     crypto.PaddingPKCS1,
		Raw:         map[string]any{"orderStatus": "CREATED"},
	}, nil
}

func (g *fakeGateway) Open(env payment.Envelope, out any) (crypto.Padding, error) {
	if g.key == nil {
		return 0, fmt.Errorf("no key")
	}
	return crypto.OpenNegotiated(crypto.Sealed{Data: env.EncryptedData, Key: env.EncryptedKeys}, g.key, crypto.DefaultPaddings, out)
}

func (g *fakeGateway) lastOrder(t *testing.T) *payment.OrderRequest {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.orders)
	return g.orders[len(g.orders)-1]
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	store   *repository.MemoryStore
	gateway *fakeGateway
	sealer  *crypto.Encryptor
	clock   *clock
	subs    *SubscriptionService
	cards   *CardService
	webhook *WebhookService
	logs    *test.Hook

	cfg     BillingConfig
	metrics *metrics.Collector
	log     *logrus.Entry
}

const testUserID = "user-1"

var merchantKey = sync.OnceValues(func() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
})

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key, err := merchantKey()
	require.NoError(t, err)
	return newTestEnvWithGateway(t, &fakeGateway{key: key})
}

func newTestEnvWithGateway(t *testing.T, gw *fakeGateway) *testEnv {
	t.Helper()
	sealer, err := crypto.NewEncryptor("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	log := logrus.NewEntry(logger)

	cfg := BillingConfig{
		Provider:     "envelope",
		CallbackURL:  "https://api.example.test/api/payment/webhook",
		SuccessURL:   "https://app.example.test/billing/success",
		FailURL:      "https://app.example.test/billing/fail",
		RefundWindow: 14 * 24 * time.Hour,
	}
	env := &testEnv{
		store:   repository.NewMemoryStore(),
		sealer:  sealer,
		clock:   &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		logs:    hook,
		gateway: gw,
		cfg:     cfg,
		metrics: metrics.New(),
		log:     log,
	}
	env.wire(env.store)
	return env
}

// wire builds the services on top of store, which may wrap env.store.
func (env *testEnv) wire(store repository.Store) {
	var gateway Gateway
	if env.gateway != nil {
		gateway = env.gateway
	}
	env.subs = NewSubscriptionService(store, gateway, env.sealer, env.cfg, env.metrics, env.log)
	env.subs.now = env.clock.Now
	env.cards = NewCardService(store, gateway, env.sealer, env.cfg, env.metrics, env.log)
	env.cards.now = env.clock.Now
	env.webhook = NewWebhookService(store, gateway, env.subs, env.cards, env.metrics, env.log)
}

// failingStore makes one Querier method fail inside transactions.
type failingStore struct {
	*repository.MemoryStore
	failOn string
}

var errInjected = errors.New("injected store failure")

func (s *failingStore) InTx(ctx context.Context, fn func(q repository.Querier) error) error {
	return s.MemoryStore.InTx(ctx, func(q repository.Querier) error {
		return fn(&failingQuerier{Querier: q, failOn: s.failOn})
	})
}

type failingQuerier struct {
	repository.Querier
	failOn string
}

func (q *failingQuerier) UpsertCurrentPlan(ctx context.Context, plan *domain.CurrentPlan) error {
	if q.failOn == "UpsertCurrentPlan" {
		return errInjected
	}
	return q.Querier.UpsertCurrentPlan(ctx, plan)
}

func (q *failingQuerier) FinalizePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error {
	if q.failOn == "FinalizePaymentMethod" {
		return errInjected
	}
	return q.Querier.FinalizePaymentMethod(ctx, pm)
}

func callback(orderID, status string) []byte {
	return []byte(fmt.Sprintf(`{"externalOrderId":%q,"status":%q}`, orderID, status))
}
