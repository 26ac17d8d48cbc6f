// Package repository defines repository interfaces for data access.
// account_id values are the subject of the caller's auth token; the accounts
// themselves live with the auth provider.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmylchreest/subledger/internal/models"
)

var (
	// ErrMissingAccountID is returned when a write has no account to target.
	ErrMissingAccountID = errors.New("account id is required")
	// ErrInvalidPeriod is returned when an update would leave end_date before start_date.
	ErrInvalidPeriod = errors.New("end date is before start date")
)

// SubscriptionRepository persists the current subscription state per account
// together with its append-only history.
type SubscriptionRepository interface {
	// Get returns the current record, or nil if the account has none yet.
	Get(ctx context.Context, accountID string) (*models.Subscription, error)
	// EnsureAccount creates the empty record for an account if it does not exist.
	EnsureAccount(ctx context.Context, accountID string) error
	// Update applies a partial update, stamps last_update_timestamp, then appends
	// one history entry. The two writes are not transactional.
	Update(ctx context.Context, accountID string, update models.SubscriptionUpdate) (*models.Subscription, error)
	// ListHistory returns history entries newest first.
	ListHistory(ctx context.Context, accountID string, limit int) ([]*models.SubscriptionHistoryEntry, error)
	// CountHistory returns the number of history entries for an account.
	CountHistory(ctx context.Context, accountID string) (int, error)
	// ListCancelledEndedBefore returns cancelled records whose end_date is before the given time.
	ListCancelledEndedBefore(ctx context.Context, before time.Time, limit int) ([]*models.Subscription, error)
}

// BillingEventRepository records verified webhook deliveries and their outcome.
type BillingEventRepository interface {
	Create(ctx context.Context, event *models.BillingEvent) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.BillingEvent, error)
	CountByGatewayID(ctx context.Context, gatewayID string) (int, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Subscription SubscriptionRepository
	BillingEvent BillingEventRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Subscription: NewSQLiteSubscriptionRepository(db),
		BillingEvent: NewSQLiteBillingEventRepository(db),
	}
}
