package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/subledger/internal/models"
	"github.com/jmylchreest/subledger/internal/monitor"
	"github.com/jmylchreest/subledger/internal/repository"
	"github.com/jmylchreest/subledger/internal/service"
)

// SubscriptionReader serves reads and cancellation for one account.
type SubscriptionReader interface {
	Status(ctx context.Context, accountID string) (*service.SubscriptionStatus, error)
	Cancel(ctx context.Context, accountID string) (*service.CancelResult, error)
	History(ctx context.Context, accountID string, limit int) ([]*models.SubscriptionHistoryEntry, int, error)
}

// Renewer attempts a renewal charge.
type Renewer interface {
	Renew(ctx context.Context, accountID string, trigger service.Trigger) (*service.RenewalResult, error)
}

// EventLister lists recorded webhook deliveries for an account.
type EventLister interface {
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.BillingEvent, error)
}

// SubscriptionHandler serves the account-facing subscription endpoints.
type SubscriptionHandler struct {
	subs    SubscriptionReader
	renewer Renewer
	events  EventLister // Optional
	logger  *slog.Logger
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(subs SubscriptionReader, renewer Renewer, events EventLister, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{
		subs:    subs,
		renewer: renewer,
		events:  events,
		logger:  logger.With("component", "subscription-handler"),
	}
}

// ========================================
// Status
// ========================================

// GetStatusOutput is the current subscription snapshot.
type GetStatusOutput struct {
	Body monitor.StatusResponse
}

// GetStatus returns the caller's subscription with derived grace fields.
func (h *SubscriptionHandler) GetStatus(ctx context.Context, input *struct{}) (*GetStatusOutput, error) {
	accountID, err := getAccountID(ctx)
	if err != nil {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	st, err := h.subs.Status(ctx, accountID)
	if err != nil {
		h.logger.Error("failed to load subscription", "account_id", accountID, "error", err)
		return nil, huma.Error500InternalServerError("failed to load subscription")
	}

	return &GetStatusOutput{Body: monitor.StatusResponse{
		Subscription: st.Subscription,
		Derived:      st.Derived,
	}}, nil
}

// ========================================
// Renew
// ========================================

// RenewInput selects who triggered the renewal.
type RenewInput struct {
	Body struct {
		Trigger string `json:"trigger,omitempty" enum:"user,monitor" doc:"Who requested the renewal; monitor-triggered renewals only charge within the grace period"`
	} `required:"false"`
}

// RenewOutput is the renewal result.
type RenewOutput struct {
	Body monitor.RenewalResponse
}

// Renew attempts to charge the saved payment method and reactivate the subscription.
func (h *SubscriptionHandler) Renew(ctx context.Context, input *RenewInput) (*RenewOutput, error) {
	accountID, err := getAccountID(ctx)
	if err != nil {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	result, err := h.renewer.Renew(ctx, accountID, service.ParseTrigger(input.Body.Trigger))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRenewalInProgress):
			return nil, huma.Error409Conflict("a renewal is already in progress")
		case errors.Is(err, service.ErrSubscriptionNotFound):
			return nil, huma.Error404NotFound("no subscription to renew")
		case errors.Is(err, service.ErrGatewayUnavailable):
			return nil, huma.Error503ServiceUnavailable("payment gateway unavailable")
		}
		h.logger.Error("renewal failed", "account_id", accountID, "error", err)
		return nil, huma.Error500InternalServerError("renewal failed")
	}

	return &RenewOutput{Body: monitor.RenewalResponse{
		Success:       result.Success,
		Renewed:       result.Renewed,
		Expired:       result.Expired,
		PaymentFailed: result.PaymentFailed,
		Message:       result.Message,
	}}, nil
}

// ========================================
// Cancel
// ========================================

// CancelOutput is the cancellation result.
type CancelOutput struct {
	Body struct {
		Success          bool                 `json:"success"`
		Message          string               `json:"message"`
		AlreadyCancelled bool                 `json:"already_cancelled,omitempty"`
		Subscription     *models.Subscription `json:"subscription,omitempty"`
	}
}

// Cancel schedules the subscription to end at the close of the current period.
func (h *SubscriptionHandler) Cancel(ctx context.Context, input *struct{}) (*CancelOutput, error) {
	accountID, err := getAccountID(ctx)
	if err != nil {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	result, err := h.subs.Cancel(ctx, accountID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubscriptionNotFound):
			return nil, huma.Error404NotFound("no subscription to cancel")
		case errors.Is(err, service.ErrNotCancellable):
			return nil, huma.Error409Conflict("subscription has already expired")
		case errors.Is(err, service.ErrGatewayUnavailable):
			return nil, huma.Error503ServiceUnavailable("payment gateway unavailable")
		}
		h.logger.Error("cancellation failed", "account_id", accountID, "error", err)
		return nil, huma.Error502BadGateway("failed to cancel subscription")
	}

	out := &CancelOutput{}
	out.Body.Success = true
	out.Body.AlreadyCancelled = result.AlreadyCancelled
	out.Body.Subscription = result.Subscription
	if result.AlreadyCancelled {
		out.Body.Message = "Subscription is already cancelled"
	} else {
		out.Body.Message = "Subscription cancelled; access continues until the end of the current period"
	}
	return out, nil
}

// ========================================
// History
// ========================================

// HistoryInput pages the history log.
type HistoryInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Maximum entries to return"`
}

// HistoryOutput lists history entries newest first.
type HistoryOutput struct {
	Body struct {
		Entries []*models.SubscriptionHistoryEntry `json:"entries"`
		Total   int                                `json:"total"`
	}
}

// History returns the caller's subscription history.
func (h *SubscriptionHandler) History(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
	accountID, err := getAccountID(ctx)
	if err != nil {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	entries, total, err := h.subs.History(ctx, accountID, input.Limit)
	if err != nil {
		h.logger.Error("failed to list history", "account_id", accountID, "error", err)
		return nil, huma.Error500InternalServerError("failed to list history")
	}
	if entries == nil {
		entries = []*models.SubscriptionHistoryEntry{}
	}

	out := &HistoryOutput{}
	out.Body.Entries = entries
	out.Body.Total = total
	return out, nil
}

// ========================================
// Billing events
// ========================================

// ListEventsInput pages the delivery log.
type ListEventsInput struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Maximum events to return"`
}

// ListEventsOutput lists recorded webhook deliveries newest first.
type ListEventsOutput struct {
	Body struct {
		Events []*models.BillingEvent `json:"events"`
	}
}

// ListEvents returns the gateway events recorded for the caller.
func (h *SubscriptionHandler) ListEvents(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error) {
	accountID, err := getAccountID(ctx)
	if err != nil {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	out := &ListEventsOutput{}
	out.Body.Events = []*models.BillingEvent{}
	if h.events == nil {
		return out, nil
	}

	events, err := h.events.ListByAccount(ctx, accountID, input.Limit)
	if err != nil {
		h.logger.Error("failed to list billing events", "account_id", accountID, "error", err)
		return nil, huma.Error500InternalServerError("failed to list billing events")
	}
	if events != nil {
		out.Body.Events = events
	}
	return out, nil
}

var _ EventLister = (repository.BillingEventRepository)(nil)
