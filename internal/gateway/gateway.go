// Package gateway wraps the external payment processor behind an interface so
// handlers and the renewal service receive it as an injected dependency.
package gateway

import (
	"context"
	"errors"

	"github.com/jmylchreest/subledger/internal/period"
)

var (
	// ErrNotConfigured is returned when no gateway credentials are set.
	ErrNotConfigured = errors.New("payment gateway not configured")
	// ErrNoPaymentMethod is returned when the customer has no stored default payment method.
	ErrNoPaymentMethod = errors.New("no default payment method on file")
	// ErrChargeFailed is returned when the gateway declines or does not complete a charge.
	ErrChargeFailed = errors.New("charge failed")
)

// Subscription is the gateway's view of a subscription.
type Subscription struct {
	ID                   string
	CustomerID           string
	Status               string
	Period               period.Fields
	Metadata             map[string]string
	DefaultPaymentMethod string
}

// PaymentMethod is a stored payment method.
type PaymentMethod struct {
	ID   string
	Type string // card, sepa_debit, ...
}

// ChargeRequest describes an off-session charge against a stored payment method.
type ChargeRequest struct {
	AccountID       string
	CustomerID      string
	SubscriptionID  string
	PaymentMethodID string
	AmountMinor     int64
	Currency        string
	// IdempotencyKey must be unique per charge attempt.
	IdempotencyKey string
}

// Charge is a completed charge.
type Charge struct {
	ID     string
	Status string
}

// Gateway is the subset of the payment processor the service depends on.
type Gateway interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	DefaultPaymentMethod(ctx context.Context, customerID string) (*PaymentMethod, error)
	Charge(ctx context.Context, req ChargeRequest) (*Charge, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
}
