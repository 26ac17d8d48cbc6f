// Package constants defines centralized configuration for subscription tiers,
// billing periods, and request limits. Change values here to update behavior
// across the entire application.
package constants

import (
	"strings"
	"time"
)

// Tier names
const (
	TierNone  = "none"
	TierTrial = "trial"
	Tier1     = "tier1"
	Tier2     = "tier2"
)

// Billing period defaults
const (
	// DefaultPeriodLength is used whenever the gateway gives us no usable period end.
	DefaultPeriodLength = 30 * 24 * time.Hour
	// GracePeriodDays is how long after end_date an expired subscription still grants access.
	GracePeriodDays = 7
	// PreemptiveRenewalDays is the days-until-expiry threshold for renewal checks on active subscriptions.
	PreemptiveRenewalDays = 3
)

// Monitor defaults
const (
	// StatusPollInterval is how often the status monitor re-reads an active subscription.
	StatusPollInterval = 5 * time.Minute
	// RenewalCheckInterval is how often the monitor re-checks a subscription close to expiry.
	RenewalCheckInterval = 30 * time.Minute
)

// tierAliases maps gateway-side plan names to internal tier names.
var tierAliases = map[string]string{
	"":          TierNone,
	"none":      TierNone,
	"free":      TierNone,
	"trial":     TierTrial,
	"trialing":  TierTrial,
	"tier1":     Tier1,
	"tier_1":    Tier1,
	"basic":     Tier1,
	"starter":   Tier1,
	"standard":  Tier1,
	"tier2":     Tier2,
	"tier_2":    Tier2,
	"pro":       Tier2,
	"premium":   Tier2,
	"unlimited": Tier2,
}

// NormalizeTierName converts a plan name from gateway metadata to an internal tier.
// The second return value is false when the name is not recognized.
func NormalizeTierName(tier string) (string, bool) {
	mapped, ok := tierAliases[strings.ToLower(strings.TrimSpace(tier))]
	return mapped, ok
}

// IsValidTier reports whether tier is one of the internal tier names.
func IsValidTier(tier string) bool {
	switch tier {
	case TierNone, TierTrial, Tier1, Tier2:
		return true
	}
	return false
}

// Global rate limiting defaults
const (
	// GlobalIPRateLimitPerMinute applies to every request by client IP
	GlobalIPRateLimitPerMinute = 300
	// GlobalConcurrencyLimit is the max concurrent requests the server will handle
	GlobalConcurrencyLimit = 100
	// MaxRequestBodySize is the max request body size in bytes (1MB)
	MaxRequestBodySize = 1 * 1024 * 1024
	// AccountMutationsPerMinute limits renew/cancel calls per account.
	AccountMutationsPerMinute = 10
)

// Request timeouts
const (
	// DefaultRequestTimeout bounds ordinary API requests.
	DefaultRequestTimeout = 30 * time.Second
	// RenewalRequestTimeout bounds renewal requests, which wait on the gateway.
	RenewalRequestTimeout = 60 * time.Second
)
