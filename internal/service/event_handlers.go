package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/subledger/internal/billing"
	"github.com/jmylchreest/subledger/internal/gateway"
	"github.com/jmylchreest/subledger/internal/models"
	"github.com/jmylchreest/subledger/internal/period"
	"github.com/jmylchreest/subledger/internal/repository"
)

// EventHandlers applies verified gateway events to the subscription store.
type EventHandlers struct {
	repo           repository.SubscriptionRepository
	gateway        gateway.Gateway // nil when no API key is configured
	gatewayTimeout time.Duration
	storeTimeout   time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// EventHandlersConfig holds the timeouts for calls made while handling an event.
type EventHandlersConfig struct {
	GatewayTimeout time.Duration
	StoreTimeout   time.Duration
}

// NewEventHandlers creates the handler set. gw may be nil.
func NewEventHandlers(repo repository.SubscriptionRepository, gw gateway.Gateway, cfg EventHandlersConfig, logger *slog.Logger) *EventHandlers {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &EventHandlers{
		repo:           repo,
		gateway:        gw,
		gatewayTimeout: cfg.GatewayTimeout,
		storeTimeout:   cfg.StoreTimeout,
		logger:         logger.With("component", "billing-events"),
		now:            time.Now,
	}
}

// Handle dispatches one event. It never returns an error: failures are
// reported in the Result so ingress can acknowledge the delivery regardless.
func (h *EventHandlers) Handle(ctx context.Context, ev *billing.Event) billing.Result {
	if ev.Kind == billing.KindUnknown {
		return billing.Ignored(ev.Type)
	}
	if ev.AccountID == "" {
		h.logger.Warn("billing event has no account correlation id",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"object_id", ev.ObjectID,
		)
		return billing.Skipped("", "missing correlation id")
	}

	now := h.now()

	if ev.Kind == billing.KindChargeSucceeded && ev.SubscriptionID != "" {
		h.resolveChargePeriod(ctx, ev, now)
	}

	storeCtx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()

	current, err := h.repo.Get(storeCtx, ev.AccountID)
	if err != nil {
		return billing.Failed(ev.AccountID, fmt.Errorf("load subscription: %w", err))
	}
	if current == nil {
		current = models.EmptySubscription(ev.AccountID)
	}

	decision := billing.Transition(*current, ev, now)
	if !decision.Apply {
		return billing.Skipped(ev.AccountID, decision.Skip)
	}

	if _, err := h.repo.Update(storeCtx, ev.AccountID, decision.Update); err != nil {
		return billing.Failed(ev.AccountID, fmt.Errorf("update subscription: %w", err))
	}

	return billing.Applied(ev.AccountID, decision.Update.ChangeReason)
}

// resolveChargePeriod replaces a charge's period with its subscription's
// current period. Charges carry no period of their own, so on lookup failure,
// or when the gateway period has already ended, the default from now is used.
func (h *EventHandlers) resolveChargePeriod(ctx context.Context, ev *billing.Event, now time.Time) {
	ev.Period = period.FromNow(now)
	if h.gateway == nil {
		return
	}

	gwCtx, cancel := context.WithTimeout(ctx, h.gatewayTimeout)
	defer cancel()

	sub, err := h.gateway.GetSubscription(gwCtx, ev.SubscriptionID)
	if err != nil {
		h.logger.Warn("subscription lookup failed, using default period",
			"event_id", ev.ID,
			"subscription_id", ev.SubscriptionID,
			"error", err,
		)
		return
	}

	if p := period.Resolve(sub.Period, now); p.End.After(now) {
		ev.Period = p
	}
	if ev.CustomerID == "" {
		ev.CustomerID = sub.CustomerID
	}
}
