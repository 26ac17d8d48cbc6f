package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmylchreest/subledger/internal/models"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sub(status models.SubscriptionStatus, end time.Time) models.Subscription {
	start := end.AddDate(0, 0, -30)
	return models.Subscription{
		AccountID:           "acct_1",
		Tier:                "tier1",
		Status:              status,
		StartDate:           &start,
		EndDate:             &end,
		LastUpdateTimestamp: end,
	}
}

// ========================================
// Derive Tests
// ========================================

func TestDerive_GraceBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		status    models.SubscriptionStatus
		end       time.Time
		wantGrace bool
		wantSince int
	}{
		{"expired 3 days ago", models.StatusExpired, now.AddDate(0, 0, -3), true, 3},
		{"expired exactly 7 days ago", models.StatusExpired, now.AddDate(0, 0, -7), true, 7},
		{"expired 7 days and an hour ago", models.StatusExpired, now.AddDate(0, 0, -7).Add(-time.Hour), false, 8},
		{"expired 10 days ago", models.StatusExpired, now.AddDate(0, 0, -10), false, 10},
		{"payment failed before end date", models.StatusExpired, now.AddDate(0, 0, 12), true, 0},
		{"active", models.StatusActive, now.AddDate(0, 0, -2), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Derive(sub(tt.status, tt.end), now)
			if d.IsInGracePeriod != tt.wantGrace {
				t.Errorf("IsInGracePeriod = %v, want %v", d.IsInGracePeriod, tt.wantGrace)
			}
			if tt.status != models.StatusExpired {
				if d.DaysSinceExpiry != nil {
					t.Errorf("DaysSinceExpiry = %d, want nil", *d.DaysSinceExpiry)
				}
				return
			}
			if d.DaysSinceExpiry == nil || *d.DaysSinceExpiry != tt.wantSince {
				t.Errorf("DaysSinceExpiry = %v, want %d", d.DaysSinceExpiry, tt.wantSince)
			}
			if d.IsInGracePeriod && (*d.DaysSinceExpiry < 0 || *d.DaysSinceExpiry > 7) {
				t.Errorf("in grace with DaysSinceExpiry = %d", *d.DaysSinceExpiry)
			}
		})
	}
}

func TestDerive_GraceDaysRemaining(t *testing.T) {
	d := Derive(sub(models.StatusExpired, now.AddDate(0, 0, -3)), now)
	if d.GraceDaysRemaining == nil || *d.GraceDaysRemaining != 4 {
		t.Errorf("GraceDaysRemaining = %v, want 4", d.GraceDaysRemaining)
	}
}

func TestDerive_DaysUntilExpiry(t *testing.T) {
	d := Derive(sub(models.StatusActive, now.Add(50*time.Hour)), now)
	if d.DaysUntilExpiry == nil || *d.DaysUntilExpiry != 3 {
		t.Fatalf("DaysUntilExpiry = %v, want 3", d.DaysUntilExpiry)
	}
	if !d.NearExpiry() {
		t.Error("expected NearExpiry")
	}

	d = Derive(sub(models.StatusActive, now.AddDate(0, 0, 20)), now)
	if d.NearExpiry() {
		t.Error("20 days out should not be near expiry")
	}
}

func TestDerive_NoEndDate(t *testing.T) {
	d := Derive(*models.EmptySubscription("acct_1"), now)
	if d.IsExpired || d.IsInGracePeriod || d.DaysUntilExpiry != nil {
		t.Errorf("unexpected derived fields for empty subscription: %+v", d)
	}
}

// ========================================
// Monitor Tests
// ========================================

type fakeSource struct {
	resp *StatusResponse
	err  error
}

func (f *fakeSource) Status(context.Context) (*StatusResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.resp
	return &r, nil
}

type fakeRenewer struct {
	resp  *RenewalResponse
	err   error
	calls int
}

func (f *fakeRenewer) Renew(_ context.Context, automatic bool) (*RenewalResponse, error) {
	f.calls++
	if !automatic {
		panic("monitor must only issue automatic renewals")
	}
	return f.resp, f.err
}

func newTestMonitor(s models.Subscription, r *fakeRenewer) (*Monitor, *fakeSource) {
	src := &fakeSource{resp: &StatusResponse{Subscription: s}}
	m := New(src, r, DefaultConfig(), testLogger())
	m.now = func() time.Time { return now }
	return m, src
}

func TestMonitor_ExpiredOutsideGraceDoesNotRenew(t *testing.T) {
	renewer := &fakeRenewer{resp: &RenewalResponse{Success: true}}
	m, _ := newTestMonitor(sub(models.StatusExpired, now.AddDate(0, 0, -10)), renewer)

	st, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if st.Derived.IsInGracePeriod {
		t.Error("10 days past expiry should not be in grace")
	}
	if renewer.calls != 0 {
		t.Errorf("renewer called %d times, want 0", renewer.calls)
	}
}

func TestMonitor_InGraceRenewsOncePerExpiry(t *testing.T) {
	renewer := &fakeRenewer{resp: &RenewalResponse{Success: true, PaymentFailed: true, Expired: true}}
	m, src := newTestMonitor(sub(models.StatusExpired, now.AddDate(0, 0, -3)), renewer)

	var failures int
	m.OnPaymentFailed = func(Status, *RenewalResponse) { failures++ }

	for range 3 {
		if _, err := m.Check(context.Background()); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}
	if renewer.calls != 1 {
		t.Errorf("renewer called %d times, want 1", renewer.calls)
	}
	if failures != 1 {
		t.Errorf("OnPaymentFailed called %d times, want 1", failures)
	}

	// A new store write starts a new episode.
	src.resp.LastUpdateTimestamp = now.Add(time.Minute)
	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if renewer.calls != 2 {
		t.Errorf("renewer called %d times, want 2", renewer.calls)
	}
}

func TestMonitor_PreemptiveRenewalThrottled(t *testing.T) {
	renewer := &fakeRenewer{resp: &RenewalResponse{Success: true, Message: "Subscription is active"}}
	m, _ := newTestMonitor(sub(models.StatusActive, now.AddDate(0, 0, 2)), renewer)

	clock := now
	m.now = func() time.Time { return clock }

	_, _ = m.Check(context.Background())
	clock = clock.Add(5 * time.Minute)
	_, _ = m.Check(context.Background())
	if renewer.calls != 1 {
		t.Fatalf("renewer called %d times within interval, want 1", renewer.calls)
	}

	clock = clock.Add(30 * time.Minute)
	_, _ = m.Check(context.Background())
	if renewer.calls != 2 {
		t.Errorf("renewer called %d times after interval, want 2", renewer.calls)
	}
}

func TestMonitor_ActiveFarFromExpiryDoesNothing(t *testing.T) {
	renewer := &fakeRenewer{}
	m, _ := newTestMonitor(sub(models.StatusActive, now.AddDate(0, 0, 20)), renewer)

	var seen int
	m.OnStatus = func(Status) { seen++ }

	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if renewer.calls != 0 {
		t.Errorf("renewer called %d times", renewer.calls)
	}
	if seen != 1 {
		t.Errorf("OnStatus called %d times, want 1", seen)
	}
}

func TestMonitor_RenewalErrorIsNotFatal(t *testing.T) {
	renewer := &fakeRenewer{err: errors.New("timeout")}
	m, _ := newTestMonitor(sub(models.StatusExpired, now.AddDate(0, 0, -1)), renewer)

	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check should not surface renewal errors: %v", err)
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	m, _ := newTestMonitor(sub(models.StatusActive, now.AddDate(0, 0, 20)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestMonitor_NilRenewer(t *testing.T) {
	src := &fakeSource{resp: &StatusResponse{Subscription: sub(models.StatusExpired, now.AddDate(0, 0, -1))}}
	m := New(src, nil, DefaultConfig(), testLogger())

	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

// ========================================
// HTTPClient Tests
// ========================================

func TestHTTPClient_StatusAndRenew(t *testing.T) {
	var gotTrigger, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/subscription/status":
			_, _ = w.Write([]byte(`{"account_id": "acct_1", "tier": "tier1", "status": "expired",
				"end_date": "2024-06-12T12:00:00Z", "last_update_timestamp": "2024-06-12T12:00:00Z",
				"derived": {"is_expired": true, "is_in_grace_period": true, "days_since_expiry": 3}}`))
		case "/api/v1/subscription/renew":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotTrigger = body["trigger"]
			_, _ = w.Write([]byte(`{"success": true, "payment_failed": true, "message": "Payment failed"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "tok", time.Second)

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.AccountID != "acct_1" || st.Status != models.StatusExpired {
		t.Errorf("unexpected status: %+v", st.Subscription)
	}
	if !st.Derived.IsInGracePeriod {
		t.Error("derived fields not decoded")
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	res, err := c.Renew(context.Background(), true)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if !res.PaymentFailed {
		t.Error("expected PaymentFailed")
	}
	if gotTrigger != "monitor" {
		t.Errorf("trigger = %q, want monitor", gotTrigger)
	}
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "renewal already in progress", http.StatusConflict)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", time.Second).Renew(context.Background(), false)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusConflict {
		t.Fatalf("expected 409 StatusError, got %v", err)
	}
}
