// Package webhook verifies signatures on inbound billing webhooks.
package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	svix "github.com/svix/svix-webhooks/go"
	stripewebhook "github.com/stripe/stripe-go/v78/webhook"
)

// ErrSignatureInvalid is returned for a missing, malformed, stale or wrong signature.
var ErrSignatureInvalid = errors.New("invalid webhook signature")

// Verifier checks a raw request body against its signature headers.
type Verifier interface {
	Verify(payload []byte, header http.Header) error
}

// Scheme names accepted by New.
const (
	SchemeStripe = "stripe"
	SchemeSvix   = "svix"
)

// New returns the verifier for a scheme.
func New(scheme, secret string) (Verifier, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	switch scheme {
	case "", SchemeStripe:
		return NewStripeVerifier(secret), nil
	case SchemeSvix:
		return NewSvixVerifier(secret)
	default:
		return nil, fmt.Errorf("unknown webhook signature scheme %q", scheme)
	}
}

// ========================================
// Stripe
// ========================================

// StripeVerifier validates the Stripe-Signature header (HMAC-SHA256 over "t.payload").
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier creates a verifier with the default five minute tolerance.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret, tolerance: stripewebhook.DefaultTolerance}
}

// Verify implements Verifier.
func (v *StripeVerifier) Verify(payload []byte, header http.Header) error {
	sig := header.Get("Stripe-Signature")
	if sig == "" {
		return fmt.Errorf("%w: missing Stripe-Signature header", ErrSignatureInvalid)
	}
	if err := stripewebhook.ValidatePayloadWithTolerance(payload, sig, v.secret, v.tolerance); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// ========================================
// Svix
// ========================================

// SvixVerifier validates svix-id/svix-timestamp/svix-signature headers.
type SvixVerifier struct {
	wh *svix.Webhook
}

// NewSvixVerifier creates a verifier from a whsec_ secret.
func NewSvixVerifier(secret string) (*SvixVerifier, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create svix verifier: %w", err)
	}
	return &SvixVerifier{wh: wh}, nil
}

// Verify implements Verifier.
func (v *SvixVerifier) Verify(payload []byte, header http.Header) error {
	headers := http.Header{}
	headers.Set("svix-id", header.Get("svix-id"))
	headers.Set("svix-timestamp", header.Get("svix-timestamp"))
	headers.Set("svix-signature", header.Get("svix-signature"))

	if err := v.wh.Verify(payload, headers); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}
