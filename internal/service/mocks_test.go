package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/subledger/internal/config"
	"github.com/jmylchreest/subledger/internal/gateway"
	"github.com/jmylchreest/subledger/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

// ========================================
// Mock Subscription Repository
// ========================================

type mockSubscriptionRepository struct {
	mu        sync.Mutex
	subs      map[string]*models.Subscription
	history   map[string][]*models.SubscriptionHistoryEntry
	getErr    error
	getDelay  time.Duration
	updateErr error
	updates   int
}

func newMockSubscriptionRepository() *mockSubscriptionRepository {
	return &mockSubscriptionRepository{
		subs:    make(map[string]*models.Subscription),
		history: make(map[string][]*models.SubscriptionHistoryEntry),
	}
}

func (m *mockSubscriptionRepository) put(sub models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.AccountID] = &sub
}

func (m *mockSubscriptionRepository) current(accountID string) models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.subs[accountID]
}

func (m *mockSubscriptionRepository) Get(_ context.Context, accountID string) (*models.Subscription, error) {
	if m.getDelay > 0 {
		time.Sleep(m.getDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	sub, ok := m.subs[accountID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (m *mockSubscriptionRepository) EnsureAccount(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[accountID]; !ok {
		m.subs[accountID] = models.EmptySubscription(accountID)
	}
	return nil
}

func (m *mockSubscriptionRepository) Update(_ context.Context, accountID string, u models.SubscriptionUpdate) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	sub, ok := m.subs[accountID]
	if !ok {
		sub = models.EmptySubscription(accountID)
	}
	next := u.ApplyTo(*sub)
	next.LastUpdateTimestamp = time.Now()
	m.subs[accountID] = &next
	m.updates++
	m.history[accountID] = append(m.history[accountID], &models.SubscriptionHistoryEntry{
		AccountID:     accountID,
		Tier:          next.Tier,
		Status:        next.Status,
		StartDate:     next.StartDate,
		EndDate:       next.EndDate,
		PaymentMethod: u.PaymentMethod,
		AmountPaid:    u.AmountPaid,
		Currency:      u.Currency,
		ChangeReason:  u.ChangeReason,
		Notes:         u.Notes,
		CreatedAt:     next.LastUpdateTimestamp,
	})
	cp := next
	return &cp, nil
}

func (m *mockSubscriptionRepository) ListHistory(_ context.Context, accountID string, limit int) ([]*models.SubscriptionHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[accountID]
	out := make([]*models.SubscriptionHistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (m *mockSubscriptionRepository) CountHistory(_ context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history[accountID]), nil
}

func (m *mockSubscriptionRepository) ListCancelledEndedBefore(_ context.Context, before time.Time, limit int) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Subscription
	for _, sub := range m.subs {
		if sub.Status == models.StatusCancelled && sub.EndDate != nil && sub.EndDate.Before(before) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ========================================
// Fake Gateway
// ========================================

type fakeGateway struct {
	mu sync.Mutex

	subscription *gateway.Subscription
	subErr       error
	method       *gateway.PaymentMethod
	methodErr    error
	chargeErr    error
	cancelErr    error
	chargeDelay  time.Duration

	charges   []gateway.ChargeRequest
	cancelled []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{method: &gateway.PaymentMethod{ID: "pm_1", Type: "card"}}
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*gateway.Subscription, error) {
	if g.subErr != nil {
		return nil, g.subErr
	}
	if g.subscription == nil {
		return nil, errors.New("no such subscription: " + id)
	}
	return g.subscription, nil
}

func (g *fakeGateway) DefaultPaymentMethod(_ context.Context, _ string) (*gateway.PaymentMethod, error) {
	if g.methodErr != nil {
		return nil, g.methodErr
	}
	return g.method, nil
}

func (g *fakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	if g.chargeDelay > 0 {
		time.Sleep(g.chargeDelay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return &gateway.Charge{ID: "pi_renewal", Status: "succeeded"}, nil
}

func (g *fakeGateway) CancelAtPeriodEnd(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled = append(g.cancelled, id)
	return nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

// staticPlans serves fixed plan prices.
type staticPlans config.PlanConfig

func (p staticPlans) Plans(context.Context) config.PlanConfig {
	return config.PlanConfig(p)
}

func defaultPlans() staticPlans {
	return staticPlans(config.DefaultPlanConfig())
}
