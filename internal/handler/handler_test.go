package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/reviewdesk/backend/internal/contextkeys"
	"github.com/reviewdesk/backend/internal/repository"
	"github.com/reviewdesk/backend/internal/service"
	"github.com/reviewdesk/backend/pkg/crypto"
	"github.com/reviewdesk/backend/pkg/payment"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	orders []*payment.OrderRequest
}

func (g *stubGateway) Provider() string { return "envelope" }

func (g *stubGateway) CreateOrder(ctx context.Context, req *payment.OrderRequest) (*payment.OrderResponse, error) {
	g.orders = append(g.orders, req)
	return &payment.OrderResponse{CheckoutURL: "https://pay.example.test/" + req.ExternalOrderID}, nil
}

func (g *stubGateway) Open(env payment.Envelope, out any) (crypto.Padding, error) {
	return 0, crypto.ErrPaddingExhausted
}

type server struct {
	store  *repository.MemoryStore
	router chi.Router
}

// newServer wires handlers the way cmd/server does, with the auth
// middleware replaced by a header that carries the user id.
func newServer(t *testing.T, gw service.Gateway) *server {
	t.Helper()
	return newServerWithStore(t, gw, repository.NewMemoryStore(), nil)
}

// newServerWithStore lets wrap put a decorator in front of the memory store.
func newServerWithStore(t *testing.T, gw service.Gateway, mem *repository.MemoryStore, wrap func(*repository.MemoryStore) repository.Store) *server {
	t.Helper()
	var store repository.Store = mem
	if wrap != nil {
		store = wrap(mem)
	}
	sealer, err := crypto.NewEncryptor(strings.Repeat("k", 32))
	require.NoError(t, err)

	cfg := service.BillingConfig{CallbackURL: "https://api.example.test/api/payment/webhook"}
	subs := service.NewSubscriptionService(store, gw, sealer, cfg, nil, nil)
	cards := service.NewCardService(store, gw, sealer, cfg, nil, nil)
	webhook := service.NewWebhookService(store, gw, subs, cards, nil, nil)

	payments := NewPaymentHandler(subs, cards)
	admin := NewAdminHandler(subs)

	r := chi.NewRouter()
	r.Get("/health", NewHealthHandler(store, gw != nil).Check)
	r.Get("/api/plans", NewPlansHandler(subs).List)
	r.Post("/api/payment/webhook", NewWebhookHandler(webhook, nil).HandlePayment)
	r.Group(func(r chi.Router) {
		r.Use(fakeAuth)
		r.Post("/api/payment/checkout", payments.CreateCheckout)
		r.Get("/api/payment/subscription", payments.GetSubscription)
		r.Post("/api/payment/cards", payments.SaveCard)
		r.Get("/api/payment/cards", payments.ListCards)
		r.Put("/api/payment/cards/{id}/default", payments.SetDefaultCard)
		r.Delete("/api/payment/cards/{id}", payments.DeleteCard)
		r.Get("/api/admin/stats", admin.GetStats)
		r.Get("/api/admin/subscriptions/{id}/events", admin.ListEvents)
		r.Get("/api/admin/orders/{orderId}", admin.GetByOrder)
	})
	return &server{store: mem, router: r}
}

// brokenStore fails every transaction, like a database that went away
// between the pending-card lookup and the state machine.
type brokenStore struct {
	*repository.MemoryStore
}

func (s brokenStore) InTx(ctx context.Context, fn func(q repository.Querier) error) error {
	return errors.New("connection reset")
}

func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Test-User"); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), contextkeys.UserID, id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
