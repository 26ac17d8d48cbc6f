// Package models defines the domain models for the application.
package models

import "time"

// ========================================
// Subscription State
// ========================================

// SubscriptionStatus is the persisted lifecycle status of an account subscription.
type SubscriptionStatus string

const (
	StatusNone      SubscriptionStatus = "none"      // Never subscribed
	StatusActive    SubscriptionStatus = "active"    // Paid and within period
	StatusCancelled SubscriptionStatus = "cancelled" // Cancelled, access retained until end_date
	StatusExpired   SubscriptionStatus = "expired"   // Payment failed or cancellation elapsed
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Subscription is the single mutable current-state record for an account.
type Subscription struct {
	AccountID              string             `json:"account_id"`
	Tier                   string             `json:"tier"`
	Status                 SubscriptionStatus `json:"status"`
	StartDate              *time.Time         `json:"start_date,omitempty"`
	EndDate                *time.Time         `json:"end_date,omitempty"`
	ExternalCustomerID     string             `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string             `json:"external_subscription_id,omitempty"`
	LastUpdateTimestamp    time.Time          `json:"last_update_timestamp"` // Clients re-fetch when this moves
	CreatedAt              time.Time          `json:"created_at"`
}

// EmptySubscription returns the record every account starts with.
func EmptySubscription(accountID string) *Subscription {
	return &Subscription{
		AccountID: accountID,
		Tier:      "none",
		Status:    StatusNone,
	}
}

// SubscriptionUpdate is a partial update: nil fields leave the stored value unchanged.
// The history fields describe the change and are only written to the history log.
type SubscriptionUpdate struct {
	Tier                   *string
	Status                 *SubscriptionStatus
	ExternalCustomerID     *string
	ExternalSubscriptionID *string
	StartDate              *time.Time
	EndDate                *time.Time

	ChangeReason  string
	Notes         string
	PaymentMethod string
	AmountPaid    *float64 // Major currency units
	Currency      string
}

// IsEmpty reports whether the update would not change any current-state field.
func (u SubscriptionUpdate) IsEmpty() bool {
	return u.Tier == nil && u.Status == nil && u.ExternalCustomerID == nil &&
		u.ExternalSubscriptionID == nil && u.StartDate == nil && u.EndDate == nil
}

// ApplyTo returns a copy of sub with the update's non-nil fields applied.
func (u SubscriptionUpdate) ApplyTo(sub Subscription) Subscription {
	if u.Tier != nil {
		sub.Tier = *u.Tier
	}
	if u.Status != nil {
		sub.Status = *u.Status
	}
	if u.ExternalCustomerID != nil {
		sub.ExternalCustomerID = *u.ExternalCustomerID
	}
	if u.ExternalSubscriptionID != nil {
		sub.ExternalSubscriptionID = *u.ExternalSubscriptionID
	}
	if u.StartDate != nil {
		t := *u.StartDate
		sub.StartDate = &t
	}
	if u.EndDate != nil {
		t := *u.EndDate
		sub.EndDate = &t
	}
	return sub
}

// ========================================
// Subscription History
// ========================================

// SubscriptionHistoryEntry is an immutable audit record of one state change.
type SubscriptionHistoryEntry struct {
	ID            string             `json:"id"`
	AccountID     string             `json:"account_id"`
	Tier          string             `json:"tier"`
	Status        SubscriptionStatus `json:"status"`
	StartDate     *time.Time         `json:"start_date,omitempty"`
	EndDate       *time.Time         `json:"end_date,omitempty"`
	PaymentMethod string             `json:"payment_method,omitempty"`
	AmountPaid    *float64           `json:"amount_paid,omitempty"`
	Currency      string             `json:"currency,omitempty"`
	ChangeReason  string             `json:"change_reason"`
	Notes         string             `json:"notes,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// ========================================
// Billing Event Log
// ========================================

// BillingEvent records one verified gateway webhook and what we did with it.
type BillingEvent struct {
	ID         string    `json:"id"`
	GatewayID  string    `json:"gateway_id"` // Gateway event ID (evt_...), may repeat on redelivery
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
