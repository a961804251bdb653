package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reviewdesk/backend/internal/domain"
)

// memData is one snapshot of the in-memory tables.
type memData struct {
	subs    map[string]domain.Subscription
	events  []domain.SubscriptionEvent
	plans   []domain.BillingPlan
	current map[string]domain.CurrentPlan
	cards   map[string]domain.PaymentMethod
	writes  int
}

func (d *memData) clone() *memData {
	c := &memData{
		subs:    make(map[string]domain.Subscription, len(d.subs)),
		events:  append([]domain.SubscriptionEvent(nil), d.events...),
		plans:   append([]domain.BillingPlan(nil), d.plans...),
		current: make(map[string]domain.CurrentPlan, len(d.current)),
		cards:   make(map[string]domain.PaymentMethod, len(d.cards)),
		writes:  d.writes,
	}
	for k, v := range d.subs {
		c.subs[k] = v
	}
	for k, v := range d.current {
		c.current[k] = v
	}
	for k, v := range d.cards {
		c.cards[k] = v
	}
	return c
}

// MemoryStore is a Store kept in process memory. It backs development runs
// without DATABASE_URL and the service tests. Transactions hold the store
// lock and commit a copy of the tables when fn succeeds.
type MemoryStore struct {
	*memQueries
	mu sync.Mutex
}

// NewMemoryStore returns a MemoryStore seeded with the default billing plans.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.memQueries = &memQueries{
		d: &memData{
			subs:    make(map[string]domain.Subscription),
			plans:   domain.DefaultBillingPlans(),
			current: make(map[string]domain.CurrentPlan),
			cards:   make(map[string]domain.PaymentMethod),
		},
		mu: &s.mu,
	}
	return s
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memQueries{d: s.d.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.d = tx.d
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Writes counts committed mutations.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.writes
}

// AddBillingPlan inserts or replaces a plan row.
func (s *MemoryStore) AddBillingPlan(p domain.BillingPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.d.plans {
		if existing.PlanType == p.PlanType && existing.Provider == p.Provider {
			s.d.plans[i] = p
			return
		}
	}
	s.d.plans = append(s.d.plans, p)
}

// memQueries implements Querier on a memData. mu is nil inside a
// transaction, where the store lock is already held.
type memQueries struct {
	d  *memData
	mu *sync.Mutex
}

func (q *memQueries) lock() func() {
	if q.mu == nil {
		return func() {}
	}
	q.mu.Lock()
	return q.mu.Unlock
}

func (q *memQueries) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	defer q.lock()()
	for _, s := range q.d.subs {
		if s.ProviderOrderID == sub.ProviderOrderID {
			return fmt.Errorf("failed to create subscription: duplicate provider order id %s", sub.ProviderOrderID)
		}
	}
	if sub.Status == domain.StatusActive && q.hasOtherActive(sub.UserID, sub.ID) {
		return fmt.Errorf("failed to create subscription: user %s already has an active subscription", sub.UserID)
	}
	q.d.subs[sub.ID] = *sub
	q.d.writes++
	return nil
}

func (q *memQueries) hasOtherActive(userID, id string) bool {
	for _, s := range q.d.subs {
		if s.UserID == userID && s.ID != id && s.Status == domain.StatusActive {
			return true
		}
	}
	return false
}

func (q *memQueries) GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error) {
	defer q.lock()()
	if s, ok := q.d.subs[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (q *memQueries) GetSubscriptionByOrderID(ctx context.Context, orderID string) (*domain.Subscription, error) {
	defer q.lock()()
	for _, s := range q.d.subs {
		if s.ProviderOrderID == orderID {
			return &s, nil
		}
	}
	return nil, nil
}

func (q *memQueries) LockSubscriptionByOrderID(ctx context.Context, orderID string) (*domain.Subscription, error) {
	return q.GetSubscriptionByOrderID(ctx, orderID)
}

func (q *memQueries) GetActiveSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	defer q.lock()()
	var found *domain.Subscription
	for _, s := range q.d.subs {
		if s.UserID != userID || s.Status != domain.StatusActive {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) {
			found = &s
		}
	}
	return found, nil
}

func (q *memQueries) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	defer q.lock()()
	existing, ok := q.d.subs[sub.ID]
	if !ok {
		return nil
	}
	if sub.Status == domain.StatusActive && q.hasOtherActive(existing.UserID, sub.ID) {
		return fmt.Errorf("failed to update subscription: user %s already has an active subscription", existing.UserID)
	}
	existing.Status = sub.Status
	existing.ProviderSubscriptionID = sub.ProviderSubscriptionID
	existing.CardToken = sub.CardToken
	existing.CurrentPeriodStart = sub.CurrentPeriodStart
	existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
	existing.RefundEligibleUntil = sub.RefundEligibleUntil
	existing.CancelledAt = sub.CancelledAt
	existing.UpdatedAt = sub.UpdatedAt
	q.d.subs[sub.ID] = existing
	q.d.writes++
	return nil
}

func (q *memQueries) CancelOtherActiveSubscriptions(ctx context.Context, userID, keepID string, at time.Time) ([]string, error) {
	defer q.lock()()
	var ids []string
	for id, s := range q.d.subs {
		if s.UserID != userID || id == keepID || s.Status != domain.StatusActive {
			continue
		}
		cancelledAt := at
		s.Status = domain.StatusCancelled
		s.CancelledAt = &cancelledAt
		s.UpdatedAt = at
		q.d.subs[id] = s
		q.d.writes++
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (q *memQueries) CountSubscriptionsByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error) {
	defer q.lock()()
	counts := make(map[domain.SubscriptionStatus]int)
	for _, s := range q.d.subs {
		counts[s.Status]++
	}
	return counts, nil
}

func (q *memQueries) AppendEvent(ctx context.Context, ev *domain.SubscriptionEvent) error {
	defer q.lock()()
	e := *ev
	e.Payload = append([]byte(nil), ev.Payload...)
	q.d.events = append(q.d.events, e)
	q.d.writes++
	return nil
}

func (q *memQueries) ListEvents(ctx context.Context, subscriptionID string) ([]domain.SubscriptionEvent, error) {
	defer q.lock()()
	var out []domain.SubscriptionEvent
	for _, e := range q.d.events {
		if e.SubscriptionID == subscriptionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *memQueries) UpsertCurrentPlan(ctx context.Context, cp *domain.CurrentPlan) error {
	defer q.lock()()
	q.d.current[cp.UserID] = *cp
	q.d.writes++
	return nil
}

func (q *memQueries) GetCurrentPlan(ctx context.Context, userID string) (*domain.CurrentPlan, error) {
	defer q.lock()()
	if cp, ok := q.d.current[userID]; ok {
		return &cp, nil
	}
	return nil, nil
}

func (q *memQueries) DeleteCurrentPlan(ctx context.Context, userID, subscriptionID string) error {
	defer q.lock()()
	if cp, ok := q.d.current[userID]; ok && cp.SubscriptionID == subscriptionID {
		delete(q.d.current, userID)
		q.d.writes++
	}
	return nil
}

func (q *memQueries) CreatePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error {
	defer q.lock()()
	for _, c := range q.d.cards {
		if c.Token == pm.Token {
			return fmt.Errorf("failed to create payment method: duplicate token")
		}
	}
	q.d.cards[pm.ID] = *pm
	q.d.writes++
	return nil
}

func (q *memQueries) GetPendingPaymentMethod(ctx context.Context, token string) (*domain.PaymentMethod, error) {
	defer q.lock()()
	for _, c := range q.d.cards {
		if c.Token == token && c.IsPending() {
			return &c, nil
		}
	}
	return nil, nil
}

func (q *memQueries) LockPendingPaymentMethod(ctx context.Context, token string) (*domain.PaymentMethod, error) {
	return q.GetPendingPaymentMethod(ctx, token)
}

func (q *memQueries) GetPaymentMethod(ctx context.Context, userID, id string) (*domain.PaymentMethod, error) {
	defer q.lock()()
	if c, ok := q.d.cards[id]; ok && c.UserID == userID {
		return &c, nil
	}
	return nil, nil
}

func (q *memQueries) FinalizePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error {
	defer q.lock()()
	existing, ok := q.d.cards[pm.ID]
	if !ok {
		return nil
	}
	if pm.IsDefault {
		for _, c := range q.d.cards {
			if c.UserID == existing.UserID && c.ID != pm.ID && c.IsDefault {
				return fmt.Errorf("failed to finalize payment method: user %s already has a default card", existing.UserID)
			}
		}
	}
	existing.Token = pm.Token
	existing.Mask = pm.Mask
	existing.Brand = pm.Brand
	existing.Last4 = pm.Last4
	existing.ExpiryMonth = pm.ExpiryMonth
	existing.ExpiryYear = pm.ExpiryYear
	existing.IsDefault = pm.IsDefault
	existing.UpdatedAt = pm.UpdatedAt
	q.d.cards[pm.ID] = existing
	q.d.writes++
	return nil
}

func (q *memQueries) DeletePaymentMethod(ctx context.Context, id string) error {
	defer q.lock()()
	if _, ok := q.d.cards[id]; ok {
		delete(q.d.cards, id)
		q.d.writes++
	}
	return nil
}

func (q *memQueries) CountFinalizedPaymentMethods(ctx context.Context, userID string) (int, error) {
	defer q.lock()()
	n := 0
	for _, c := range q.d.cards {
		if c.UserID == userID && !c.IsPending() {
			n++
		}
	}
	return n, nil
}

func (q *memQueries) ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	defer q.lock()()
	var out []domain.PaymentMethod
	for _, c := range q.d.cards {
		if c.UserID == userID && !c.IsPending() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (q *memQueries) SetDefaultPaymentMethod(ctx context.Context, userID, id string) error {
	defer q.lock()()
	now := time.Now()
	for cid, c := range q.d.cards {
		if c.UserID != userID {
			continue
		}
		isDefault := cid == id
		if c.IsDefault != isDefault {
			c.IsDefault = isDefault
			c.UpdatedAt = now
			q.d.cards[cid] = c
			q.d.writes++
		}
	}
	return nil
}

func (q *memQueries) FindBillingPlan(ctx context.Context, planType, provider string) (*domain.BillingPlan, error) {
	defer q.lock()()
	for _, p := range q.d.plans {
		if p.PlanType == planType && p.Provider == provider {
			return &p, nil
		}
	}
	return nil, nil
}

func (q *memQueries) ListBillingPlans(ctx context.Context) ([]domain.BillingPlan, error) {
	defer q.lock()()
	out := append([]domain.BillingPlan(nil), q.d.plans...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out, nil
}
