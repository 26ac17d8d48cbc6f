package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmylchreest/subledger/internal/billing"
	"github.com/jmylchreest/subledger/internal/gateway"
	"github.com/jmylchreest/subledger/internal/models"
)

func newTestSubscriptionService(repo *mockSubscriptionRepository, gw gateway.Gateway) *SubscriptionService {
	svc := NewSubscriptionService(repo, gw, 0, testLogger())
	svc.now = func() time.Time { return testNow }
	return svc
}

// ========================================
// Status Tests
// ========================================

func TestSubscriptionService_StatusUnknownAccount(t *testing.T) {
	svc := newTestSubscriptionService(newMockSubscriptionRepository(), nil)

	st, err := svc.Status(context.Background(), "acct_new")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Subscription.Status != models.StatusNone || st.Subscription.Tier != "none" {
		t.Errorf("subscription = %+v, want empty record", st.Subscription)
	}
	if st.Derived.IsExpired || st.Derived.IsInGracePeriod {
		t.Errorf("derived = %+v", st.Derived)
	}
}

func TestSubscriptionService_StatusDerived(t *testing.T) {
	repo := newMockSubscriptionRepository()
	repo.put(subscriptionEnding(models.StatusExpired, testNow.AddDate(0, 0, -3)))
	svc := newTestSubscriptionService(repo, nil)

	st, err := svc.Status(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Derived.IsInGracePeriod {
		t.Error("expected grace period")
	}
	if st.Derived.DaysSinceExpiry == nil || *st.Derived.DaysSinceExpiry != 3 {
		t.Errorf("DaysSinceExpiry = %v, want 3", st.Derived.DaysSinceExpiry)
	}
}

func TestSubscriptionService_StatusMissingAccount(t *testing.T) {
	svc := newTestSubscriptionService(newMockSubscriptionRepository(), nil)
	if _, err := svc.Status(context.Background(), ""); err == nil {
		t.Error("expected error for empty account id")
	}
}

// ========================================
// Cancel Tests
// ========================================

func TestSubscriptionService_Cancel(t *testing.T) {
	repo := newMockSubscriptionRepository()
	current := subscriptionEnding(models.StatusActive, testNow.AddDate(0, 0, 10))
	repo.put(current)
	gw := newFakeGateway()
	svc := newTestSubscriptionService(repo, gw)

	result, err := svc.Cancel(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if result.AlreadyCancelled {
		t.Error("AlreadyCancelled should be false")
	}
	if len(gw.cancelled) != 1 || gw.cancelled[0] != "sub_1" {
		t.Errorf("gateway cancellations = %v", gw.cancelled)
	}

	sub := repo.current("acct_1")
	if sub.Status != models.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", sub.Status)
	}
	if !sub.EndDate.Equal(*current.EndDate) {
		t.Errorf("EndDate = %v, want unchanged %v", sub.EndDate, current.EndDate)
	}

	history, _ := repo.ListHistory(context.Background(), "acct_1", 10)
	if len(history) != 1 || history[0].ChangeReason != billing.ReasonCancelRequested {
		t.Errorf("history = %+v", history)
	}
}

func TestSubscriptionService_CancelIdempotent(t *testing.T) {
	repo := newMockSubscriptionRepository()
	repo.put(subscriptionEnding(models.StatusCancelled, testNow.AddDate(0, 0, 10)))
	gw := newFakeGateway()
	svc := newTestSubscriptionService(repo, gw)

	result, err := svc.Cancel(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !result.AlreadyCancelled {
		t.Error("expected AlreadyCancelled")
	}
	if repo.updates != 0 || len(gw.cancelled) != 0 {
		t.Errorf("updates = %d, gateway calls = %d, want none", repo.updates, len(gw.cancelled))
	}
}

func TestSubscriptionService_CancelErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*mockSubscriptionRepository, *fakeGateway)
		wantErr error
	}{
		{"no record", func(*mockSubscriptionRepository, *fakeGateway) {}, ErrSubscriptionNotFound},
		{"never subscribed", func(r *mockSubscriptionRepository, _ *fakeGateway) {
			r.put(*models.EmptySubscription("acct_1"))
		}, ErrSubscriptionNotFound},
		{"expired", func(r *mockSubscriptionRepository, _ *fakeGateway) {
			r.put(subscriptionEnding(models.StatusExpired, testNow.AddDate(0, 0, -1)))
		}, ErrNotCancellable},
		{"gateway failure", func(r *mockSubscriptionRepository, g *fakeGateway) {
			r.put(subscriptionEnding(models.StatusActive, testNow.AddDate(0, 0, 5)))
			g.cancelErr = errors.New("api unavailable")
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockSubscriptionRepository()
			gw := newFakeGateway()
			tt.setup(repo, gw)
			svc := newTestSubscriptionService(repo, gw)

			_, err := svc.Cancel(context.Background(), "acct_1")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if repo.updates != 0 {
				t.Errorf("updates = %d, want 0", repo.updates)
			}
		})
	}
}

func TestSubscriptionService_CancelWithoutGatewaySubscription(t *testing.T) {
	repo := newMockSubscriptionRepository()
	sub := subscriptionEnding(models.StatusActive, testNow.AddDate(0, 0, 5))
	sub.ExternalSubscriptionID = ""
	repo.put(sub)
	svc := newTestSubscriptionService(repo, nil)

	if _, err := svc.Cancel(context.Background(), "acct_1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if repo.current("acct_1").Status != models.StatusCancelled {
		t.Error("expected local cancellation")
	}
}

// ========================================
// History Tests
// ========================================

func TestSubscriptionService_History(t *testing.T) {
	repo := newMockSubscriptionRepository()
	svc := newTestSubscriptionService(repo, nil)
	ctx := context.Background()

	for _, reason := range []string{"first", "second", "third"} {
		if _, err := repo.Update(ctx, "acct_1", models.SubscriptionUpdate{ChangeReason: reason}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	entries, total, err := svc.History(ctx, "acct_1", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(entries) != 2 || entries[0].ChangeReason != "third" {
		t.Errorf("entries = %+v, want newest first", entries)
	}
}

// ========================================
// Expiry Sweep Tests
// ========================================

func TestSubscriptionService_ExpireEndedCancellations(t *testing.T) {
	repo := newMockSubscriptionRepository()
	ended := subscriptionEnding(models.StatusCancelled, testNow.AddDate(0, 0, -1))
	ended.AccountID = "acct_ended"
	running := subscriptionEnding(models.StatusCancelled, testNow.AddDate(0, 0, 3))
	running.AccountID = "acct_running"
	active := subscriptionEnding(models.StatusActive, testNow.AddDate(0, 0, -1))
	active.AccountID = "acct_active"
	repo.put(ended)
	repo.put(running)
	repo.put(active)
	svc := newTestSubscriptionService(repo, nil)

	n, err := svc.ExpireEndedCancellations(context.Background(), 100)
	if err != nil {
		t.Fatalf("ExpireEndedCancellations: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d, want 1", n)
	}
	if repo.current("acct_ended").Status != models.StatusExpired {
		t.Error("ended cancellation should be expired")
	}
	if repo.current("acct_running").Status != models.StatusCancelled {
		t.Error("running cancellation should be untouched")
	}
	if repo.current("acct_active").Status != models.StatusActive {
		t.Error("active subscription should be untouched")
	}
}
