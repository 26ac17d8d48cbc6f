package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/subledger/internal/billing"
	"github.com/jmylchreest/subledger/internal/gateway"
	"github.com/jmylchreest/subledger/internal/models"
	"github.com/jmylchreest/subledger/internal/monitor"
	"github.com/jmylchreest/subledger/internal/repository"
)

// ErrNotCancellable is returned when cancelling a subscription that has already expired.
var ErrNotCancellable = errors.New("subscription is not active")

// SubscriptionStatus is a subscription snapshot with its derived fields.
type SubscriptionStatus struct {
	Subscription models.Subscription
	Derived      monitor.Derived
}

// CancelResult describes the outcome of a cancel request.
type CancelResult struct {
	Subscription     *models.Subscription
	AlreadyCancelled bool
}

// SubscriptionService serves account-facing subscription reads and cancellation.
type SubscriptionService struct {
	repo           repository.SubscriptionRepository
	gateway        gateway.Gateway // nil when not configured
	gatewayTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewSubscriptionService creates a new subscription service.
func NewSubscriptionService(repo repository.SubscriptionRepository, gw gateway.Gateway, gatewayTimeout time.Duration, logger *slog.Logger) *SubscriptionService {
	if gatewayTimeout <= 0 {
		gatewayTimeout = 10 * time.Second
	}
	return &SubscriptionService{
		repo:           repo,
		gateway:        gw,
		gatewayTimeout: gatewayTimeout,
		logger:         logger.With("component", "subscription"),
		now:            time.Now,
	}
}

// Status returns the current snapshot. Accounts with no record get the empty one.
func (s *SubscriptionService) Status(ctx context.Context, accountID string) (*SubscriptionStatus, error) {
	if accountID == "" {
		return nil, repository.ErrMissingAccountID
	}

	sub, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		sub = models.EmptySubscription(accountID)
	}

	return &SubscriptionStatus{
		Subscription: *sub,
		Derived:      monitor.Derive(*sub, s.now()),
	}, nil
}

// Cancel stops renewal at the end of the paid period. Access continues until
// end_date; the expiry sweeper moves the record to expired afterwards.
func (s *SubscriptionService) Cancel(ctx context.Context, accountID string) (*CancelResult, error) {
	if accountID == "" {
		return nil, repository.ErrMissingAccountID
	}

	sub, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	switch {
	case sub == nil || sub.Status == models.StatusNone:
		return nil, ErrSubscriptionNotFound
	case sub.Status == models.StatusCancelled:
		return &CancelResult{Subscription: sub, AlreadyCancelled: true}, nil
	case sub.Status == models.StatusExpired:
		return nil, ErrNotCancellable
	}

	if sub.ExternalSubscriptionID != "" {
		if s.gateway == nil {
			return nil, ErrGatewayUnavailable
		}
		gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
		if err := s.gateway.CancelAtPeriodEnd(gwCtx, sub.ExternalSubscriptionID); err != nil {
			return nil, fmt.Errorf("failed to cancel at gateway: %w", err)
		}
	}

	updated, err := s.repo.Update(ctx, accountID, billing.Cancellation())
	if err != nil {
		return nil, fmt.Errorf("failed to record cancellation: %w", err)
	}

	s.logger.Info("subscription cancelled",
		"account_id", accountID,
		"subscription_id", sub.ExternalSubscriptionID,
	)

	return &CancelResult{Subscription: updated}, nil
}

// History returns the account's history entries, newest first.
func (s *SubscriptionService) History(ctx context.Context, accountID string, limit int) ([]*models.SubscriptionHistoryEntry, int, error) {
	if accountID == "" {
		return nil, 0, repository.ErrMissingAccountID
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	entries, err := s.repo.ListHistory(ctx, accountID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history: %w", err)
	}
	total, err := s.repo.CountHistory(ctx, accountID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}
	return entries, total, nil
}

// ExpireEndedCancellations moves cancelled subscriptions whose end_date has
// passed to expired. Returns the number of records transitioned.
func (s *SubscriptionService) ExpireEndedCancellations(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListCancelledEndedBefore(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list ended cancellations: %w", err)
	}

	expired := 0
	var errs []error
	for _, sub := range due {
		if _, err := s.repo.Update(ctx, sub.AccountID, billing.CancellationEnded()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.AccountID, err))
			continue
		}
		expired++
	}
	return expired, errors.Join(errs...)
}
