// Package monitor derives client-facing subscription status (grace period,
// days to expiry) and polls it, triggering renewals when appropriate.
package monitor

import (
	"math"
	"time"

	"github.com/jmylchreest/subledger/internal/constants"
	"github.com/jmylchreest/subledger/internal/models"
)

const day = 24 * time.Hour

// Derived is computed from a snapshot on every read and never persisted.
type Derived struct {
	IsExpired       bool `json:"is_expired"`
	IsInGracePeriod bool `json:"is_in_grace_period"`
	// DaysSinceExpiry is never negative while expired: a failed payment inside
	// the paid period counts as day zero of grace.
	DaysSinceExpiry    *int `json:"days_since_expiry,omitempty"`
	DaysUntilExpiry    *int `json:"days_until_expiry,omitempty"` // Negative once past end_date
	GraceDaysRemaining *int `json:"grace_days_remaining,omitempty"`
}

// Derive computes grace and expiry fields for a subscription at now.
func Derive(sub models.Subscription, now time.Time) Derived {
	d := Derived{IsExpired: sub.Status == models.StatusExpired}

	if sub.EndDate != nil {
		until := ceilDays(sub.EndDate.Sub(now))
		d.DaysUntilExpiry = &until
	}

	if !d.IsExpired {
		return d
	}

	since := 0
	if sub.EndDate != nil {
		since = max(ceilDays(now.Sub(*sub.EndDate)), 0)
	}
	d.DaysSinceExpiry = &since

	if since <= constants.GracePeriodDays {
		d.IsInGracePeriod = true
		remaining := constants.GracePeriodDays - since
		d.GraceDaysRemaining = &remaining
	}
	return d
}

// NearExpiry reports whether an active subscription is within the pre-emptive
// renewal window.
func (d Derived) NearExpiry() bool {
	return !d.IsExpired && d.DaysUntilExpiry != nil && *d.DaysUntilExpiry <= constants.PreemptiveRenewalDays
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(float64(d) / float64(day)))
}
