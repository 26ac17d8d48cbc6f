package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/jmylchreest/subledger/internal/period"
)

// StripeGateway implements Gateway with a per-instance Stripe client rather
// than the package-level stripe.Key.
type StripeGateway struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripeGateway creates a gateway using the given secret key.
func NewStripeGateway(secretKey string, logger *slog.Logger) (*StripeGateway, error) {
	return NewStripeGatewayWithBackends(secretKey, nil, logger)
}

// NewStripeGatewayWithBackends creates a gateway with custom backends (tests, proxies).
func NewStripeGatewayWithBackends(secretKey string, backends *stripe.Backends, logger *slog.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, ErrNotConfigured
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{
		api:    api,
		logger: logger.With("component", "stripe-gateway"),
	}, nil
}

// GetSubscription fetches a subscription.
func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription %s: %w", subscriptionID, err)
	}

	out := &Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
		Period: period.Fields{
			PeriodStart: sub.CurrentPeriodStart,
			PeriodEnd:   sub.CurrentPeriodEnd,
			StartDate:   sub.StartDate,
		},
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.DefaultPaymentMethod != nil {
		out.DefaultPaymentMethod = sub.DefaultPaymentMethod.ID
	}
	return out, nil
}

// DefaultPaymentMethod returns the customer's invoice default payment method.
func (g *StripeGateway) DefaultPaymentMethod(ctx context.Context, customerID string) (*PaymentMethod, error) {
	if customerID == "" {
		return nil, ErrNoPaymentMethod
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddExpand("invoice_settings.default_payment_method")

	cus, err := g.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer %s: %w", customerID, err)
	}
	if cus.InvoiceSettings == nil || cus.InvoiceSettings.DefaultPaymentMethod == nil || cus.InvoiceSettings.DefaultPaymentMethod.ID == "" {
		return nil, ErrNoPaymentMethod
	}

	pm := cus.InvoiceSettings.DefaultPaymentMethod
	return &PaymentMethod{ID: pm.ID, Type: string(pm.Type)}, nil
}

// Charge creates and confirms an off-session PaymentIntent.
func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountMinor),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	// The resulting payment_intent.succeeded webhook correlates through these.
	params.AddMetadata("account_id", req.AccountID)
	if req.SubscriptionID != "" {
		params.AddMetadata("subscription_id", req.SubscriptionID)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			g.logger.Warn("charge declined",
				"account_id", req.AccountID,
				"code", stripeErr.Code,
				"decline_code", stripeErr.DeclineCode,
			)
			return nil, fmt.Errorf("%w: %s", ErrChargeFailed, stripeErr.Msg)
		}
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("%w: payment intent %s is %s", ErrChargeFailed, pi.ID, pi.Status)
	}

	return &Charge{ID: pi.ID, Status: string(pi.Status)}, nil
}

// CancelAtPeriodEnd schedules the subscription to end when its current period does.
func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx

	if _, err := g.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("failed to cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}
