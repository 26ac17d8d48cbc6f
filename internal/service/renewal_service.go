package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/subledger/internal/billing"
	"github.com/jmylchreest/subledger/internal/config"
	"github.com/jmylchreest/subledger/internal/gateway"
	"github.com/jmylchreest/subledger/internal/lock"
	"github.com/jmylchreest/subledger/internal/metrics"
	"github.com/jmylchreest/subledger/internal/models"
	"github.com/jmylchreest/subledger/internal/monitor"
	"github.com/jmylchreest/subledger/internal/period"
	"github.com/jmylchreest/subledger/internal/repository"
)

// Renewal errors.
var (
	// ErrRenewalInProgress is returned when another instance holds the account's renewal lock.
	ErrRenewalInProgress = errors.New("renewal already in progress")
	// ErrSubscriptionNotFound is returned when the account has never subscribed.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrGatewayUnavailable is returned when the payment gateway is not configured.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Trigger identifies who requested a renewal.
type Trigger string

const (
	TriggerUser    Trigger = "user"    // Explicit user action, always attempts a charge
	TriggerMonitor Trigger = "monitor" // Status monitor, only charges inside the grace period
)

// ParseTrigger maps a request value to a Trigger, defaulting to user.
func ParseTrigger(s string) Trigger {
	if Trigger(s) == TriggerMonitor {
		return TriggerMonitor
	}
	return TriggerUser
}

// RenewalResult is returned to the caller of a renewal.
type RenewalResult struct {
	Success       bool
	Renewed       bool
	Expired       bool
	PaymentFailed bool
	Message       string
}

// PlanSource returns the current plan prices.
type PlanSource interface {
	Plans(ctx context.Context) config.PlanConfig
}

// RenewalServiceConfig holds renewal dependencies that are not services.
type RenewalServiceConfig struct {
	LockTTL        time.Duration
	GatewayTimeout time.Duration
	StoreTimeout   time.Duration
}

// RenewalService charges the stored payment method for one more period.
// At most one renewal per account runs at a time: concurrent calls in this
// process share one attempt, and a lock covers other instances.
type RenewalService struct {
	repo    repository.SubscriptionRepository
	gateway gateway.Gateway
	plans   PlanSource
	locker  lock.Locker
	group   singleflight.Group
	running atomic.Int64
	cfg     RenewalServiceConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewRenewalService creates a renewal service. gw may be nil, in which case
// renewals that need a charge fail with ErrGatewayUnavailable.
func NewRenewalService(repo repository.SubscriptionRepository, gw gateway.Gateway, plans PlanSource, locker lock.Locker, cfg RenewalServiceConfig, logger *slog.Logger) *RenewalService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if locker == nil {
		locker = lock.NewInMemory()
	}
	return &RenewalService{
		repo:    repo,
		gateway: gw,
		plans:   plans,
		locker:  locker,
		cfg:     cfg,
		logger:  logger.With("component", "renewal"),
		now:     time.Now,
	}
}

// renewalFlight is the shared outcome of one renewal attempt.
type renewalFlight struct {
	trigger Trigger
	result  *RenewalResult
}

// charged reports whether the attempt reached the gateway charge.
func (f *renewalFlight) charged() bool {
	return f.result != nil && (f.result.Renewed || f.result.PaymentFailed)
}

// Renew attempts to renew an account's subscription. Concurrent callers for
// one account share a single attempt, except that a user call joining a
// monitor attempt that never charged runs again with its own trigger.
func (s *RenewalService) Renew(ctx context.Context, accountID string, trigger Trigger) (*RenewalResult, error) {
	if accountID == "" {
		return nil, repository.ErrMissingAccountID
	}

	f, err := s.share(ctx, accountID, trigger)
	if trigger == TriggerUser && f != nil && f.trigger == TriggerMonitor && !f.charged() {
		f, err = s.share(ctx, accountID, trigger)
	}
	if err != nil {
		return nil, err
	}
	return f.result, nil
}

// share joins or starts the account's renewal. The attempt outlives the
// caller that started it; a cancelled caller stops waiting but the others
// still get the result.
func (s *RenewalService) share(ctx context.Context, accountID string, trigger Trigger) (*renewalFlight, error) {
	ch := s.group.DoChan(accountID, func() (any, error) {
		s.running.Add(1)
		defer s.running.Add(-1)

		result, err := s.renew(context.WithoutCancel(ctx), accountID, trigger)
		metrics.RenewalsTotal.WithLabelValues(string(trigger), resultLabel(result, err)).Inc()
		return &renewalFlight{trigger: trigger, result: result}, err
	})

	select {
	case r := <-ch:
		f, _ := r.Val.(*renewalFlight)
		return f, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight returns the number of renewals currently running in this process.
func (s *RenewalService) InFlight() int {
	return int(s.running.Load())
}

func (s *RenewalService) renew(ctx context.Context, accountID string, trigger Trigger) (*RenewalResult, error) {
	release, acquired, err := s.locker.TryAcquire(ctx, "renewal:"+accountID, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire renewal lock: %w", err)
	}
	if !acquired {
		return nil, ErrRenewalInProgress
	}
	defer release()

	logger := s.logger.With("account_id", accountID, "trigger", string(trigger))

	sub, err := s.load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	derived := monitor.Derive(*sub, now)

	switch sub.Status {
	case models.StatusActive:
		if sub.EndDate != nil && sub.EndDate.After(now) {
			return &RenewalResult{Success: true, Message: "Subscription is active"}, nil
		}
	case models.StatusExpired:
		if trigger != TriggerMonitor {
			break
		}
		if !derived.IsInGracePeriod {
			return &RenewalResult{
				Success: true,
				Expired: true,
				Message: "Grace period has ended; renew manually to restore access",
			}, nil
		}
		cancelled, err := s.endedByCancellation(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			return &RenewalResult{
				Success: true,
				Expired: true,
				Message: "Subscription was cancelled; renew manually to restore access",
			}, nil
		}
	case models.StatusCancelled:
		if trigger == TriggerMonitor {
			return &RenewalResult{Success: true, Message: "Subscription is cancelled"}, nil
		}
	}

	plans := s.plans.Plans(ctx)
	amount, ok := plans.Amount(sub.Tier)
	if !ok {
		return &RenewalResult{Message: fmt.Sprintf("Tier %q has no renewable plan", sub.Tier)}, nil
	}
	if s.gateway == nil {
		return nil, ErrGatewayUnavailable
	}
	if sub.ExternalCustomerID == "" {
		return s.paymentFailed(sub, "No payment method on file"), nil
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	pm, err := s.gateway.DefaultPaymentMethod(gwCtx, sub.ExternalCustomerID)
	if err != nil {
		if errors.Is(err, gateway.ErrNoPaymentMethod) {
			return s.paymentFailed(sub, "No payment method on file"), nil
		}
		logger.Warn("payment method lookup failed", "error", err)
		return s.paymentFailed(sub, "Payment could not be processed"), nil
	}

	charge, err := s.gateway.Charge(gwCtx, gateway.ChargeRequest{
		AccountID:       accountID,
		CustomerID:      sub.ExternalCustomerID,
		SubscriptionID:  sub.ExternalSubscriptionID,
		PaymentMethodID: pm.ID,
		AmountMinor:     amount,
		Currency:        plans.Currency,
		IdempotencyKey:  "renewal_" + accountID + "_" + ulid.Make().String(),
	})
	if err != nil {
		logger.Warn("renewal charge failed", "error", err)
		return s.paymentFailed(sub, "Payment failed; update your payment method"), nil
	}

	p := period.FromNow(s.now())
	update := billing.Renewal(p.Start, p.End, amount, plans.Currency, pm.Type, charge.ID)

	storeCtx, storeCancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer storeCancel()

	if _, err := s.repo.Update(storeCtx, accountID, update); err != nil {
		// The charge went through; the gateway's success event re-applies the state.
		logger.Error("failed to record renewal after successful charge",
			"charge_id", charge.ID,
			"error", err,
		)
		return &RenewalResult{
			Success: true,
			Renewed: true,
			Message: "Payment succeeded; subscription status will update shortly",
		}, nil
	}

	logger.Info("subscription renewed",
		"charge_id", charge.ID,
		"amount_minor", amount,
		"currency", plans.Currency,
		"end_date", p.EndISO(),
	)

	return &RenewalResult{Success: true, Renewed: true, Message: "Subscription renewed"}, nil
}

func (s *RenewalService) load(ctx context.Context, accountID string) (*models.Subscription, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	sub, err := s.repo.Get(storeCtx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil || sub.Status == models.StatusNone {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// endedByCancellation reports whether the record expired because a
// cancellation ran out or the gateway deleted the subscription, rather than
// because a payment failed. Only the latter is retried automatically.
func (s *RenewalService) endedByCancellation(ctx context.Context, accountID string) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	entries, err := s.repo.ListHistory(storeCtx, accountID, 1)
	if err != nil {
		return false, fmt.Errorf("failed to load subscription history: %w", err)
	}
	if len(entries) == 0 {
		return false, nil
	}
	switch entries[0].ChangeReason {
	case billing.ReasonCancellationEnded, billing.ReasonSubscriptionDeleted, billing.ReasonCancelRequested:
		return true, nil
	}
	return false, nil
}

// paymentFailed leaves the stored state untouched.
func (s *RenewalService) paymentFailed(sub *models.Subscription, msg string) *RenewalResult {
	return &RenewalResult{
		Success:       true,
		PaymentFailed: true,
		Expired:       sub.Status == models.StatusExpired,
		Message:       msg,
	}
}

func resultLabel(r *RenewalResult, err error) string {
	switch {
	case errors.Is(err, ErrRenewalInProgress):
		return "in_progress"
	case err != nil:
		return "error"
	case r.Renewed:
		return "renewed"
	case r.PaymentFailed:
		return "payment_failed"
	case r.Expired:
		return "expired"
	case r.Success:
		return "noop"
	default:
		return "rejected"
	}
}
