package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/subledger/internal/constants"
	"github.com/jmylchreest/subledger/internal/models"
)

// StatusResponse is the body of GET /subscription/status.
type StatusResponse struct {
	models.Subscription
	Derived Derived `json:"derived"`
}

// RenewalResponse is the body of POST /subscription/renew.
type RenewalResponse struct {
	Success       bool   `json:"success"`
	Renewed       bool   `json:"renewed,omitempty"`
	Expired       bool   `json:"expired,omitempty"`
	PaymentFailed bool   `json:"payment_failed,omitempty"`
	Message       string `json:"message"`
}

// Source reads the current subscription snapshot.
type Source interface {
	Status(ctx context.Context) (*StatusResponse, error)
}

// Renewer asks the server to attempt a renewal.
type Renewer interface {
	Renew(ctx context.Context, automatic bool) (*RenewalResponse, error)
}

// Config controls polling and renewal behaviour.
type Config struct {
	PollInterval         time.Duration // While active
	RenewalCheckInterval time.Duration // While active and near expiry
	// AutoRenew retries the stored payment method once per expiry while in grace.
	AutoRenew bool
	// Preemptive re-checks renewal while still active and near expiry.
	Preemptive bool
}

// DefaultConfig returns the standard client intervals.
func DefaultConfig() Config {
	return Config{
		PollInterval:         constants.StatusPollInterval,
		RenewalCheckInterval: constants.RenewalCheckInterval,
		AutoRenew:            true,
		Preemptive:           true,
	}
}

// Status is one observation made by the monitor.
type Status struct {
	Subscription models.Subscription
	Derived      Derived
	CheckedAt    time.Time
}

// Monitor polls subscription status for one account.
type Monitor struct {
	src     Source
	renewer Renewer
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	// OnStatus is called after every successful poll.
	OnStatus func(Status)
	// OnPaymentFailed is called when a renewal attempt reports a payment failure,
	// so the UI can prompt for a new payment method.
	OnPaymentFailed func(Status, *RenewalResponse)

	refresh chan struct{}

	mu             sync.Mutex
	autoRenewedFor time.Time // LastUpdateTimestamp of the expiry we already retried
	lastPreemptive time.Time
}

// New creates a monitor. renewer may be nil to disable renewal triggers.
func New(src Source, renewer Renewer, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.StatusPollInterval
	}
	if cfg.RenewalCheckInterval <= 0 {
		cfg.RenewalCheckInterval = constants.RenewalCheckInterval
	}
	return &Monitor{
		src:     src,
		renewer: renewer,
		cfg:     cfg,
		logger:  logger.With("component", "status-monitor"),
		now:     time.Now,
		refresh: make(chan struct{}, 1),
	}
}

// Refresh requests an immediate poll, e.g. after the user updates their payment method.
func (m *Monitor) Refresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// Run polls on start, then every PollInterval while the subscription is
// active. When it is not active it waits for Refresh or cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		st, err := m.Check(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			m.logger.Warn("status poll failed", "error", err)
		}

		var (
			timer *time.Timer
			wait  <-chan time.Time
		)
		if err != nil || st.Subscription.Status == models.StatusActive {
			timer = time.NewTimer(m.cfg.PollInterval)
			wait = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-wait:
		case <-m.refresh:
			if timer != nil {
				timer.Stop()
			}
		}
	}
}

// Check polls once and triggers a renewal if the status calls for one.
func (m *Monitor) Check(ctx context.Context) (*Status, error) {
	resp, err := m.src.Status(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	st := Status{
		Subscription: resp.Subscription,
		Derived:      Derive(resp.Subscription, now),
		CheckedAt:    now,
	}

	if m.OnStatus != nil {
		m.OnStatus(st)
	}

	if m.renewer == nil {
		return &st, nil
	}

	switch {
	case st.Derived.IsInGracePeriod && m.cfg.AutoRenew:
		if m.claimAutoRenew(st.Subscription.LastUpdateTimestamp) {
			m.logger.Info("subscription expired within grace period, retrying renewal",
				"account_id", st.Subscription.AccountID,
				"days_since_expiry", deref(st.Derived.DaysSinceExpiry),
			)
			m.renew(ctx, st)
		}

	case st.Subscription.Status == models.StatusActive && st.Derived.NearExpiry() && m.cfg.Preemptive:
		if m.claimPreemptive(now) {
			m.logger.Debug("subscription near expiry, checking renewal",
				"account_id", st.Subscription.AccountID,
				"days_until_expiry", deref(st.Derived.DaysUntilExpiry),
			)
			m.renew(ctx, st)
		}
	}

	return &st, nil
}

func (m *Monitor) renew(ctx context.Context, st Status) {
	result, err := m.renewer.Renew(ctx, true)
	if err != nil {
		m.logger.Warn("renewal request failed", "account_id", st.Subscription.AccountID, "error", err)
		return
	}
	if result.PaymentFailed && m.OnPaymentFailed != nil {
		m.OnPaymentFailed(st, result)
	}
	if result.Renewed {
		m.logger.Info("subscription renewed", "account_id", st.Subscription.AccountID)
		m.Refresh()
	}
}

// claimAutoRenew allows one automatic retry per expiry event. A new store
// write (new LastUpdateTimestamp) starts a new episode.
func (m *Monitor) claimAutoRenew(episode time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.autoRenewedFor.IsZero() && m.autoRenewedFor.Equal(episode) {
		return false
	}
	m.autoRenewedFor = episode
	return true
}

func (m *Monitor) claimPreemptive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastPreemptive.IsZero() && now.Sub(m.lastPreemptive) < m.cfg.RenewalCheckInterval {
		return false
	}
	m.lastPreemptive = now
	return true
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
