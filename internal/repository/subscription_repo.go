package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/subledger/internal/models"
)

// stampLayout is fixed-width so TEXT ordering matches time ordering.
const stampLayout = "2006-01-02T15:04:05.000000Z"

// ========================================
// Subscription Repository
// ========================================

// SQLiteSubscriptionRepository implements SubscriptionRepository for SQLite.
type SQLiteSubscriptionRepository struct {
	db  *sql.DB
	now func() time.Time

	stampMu   sync.Mutex
	lastStamp time.Time
}

// NewSQLiteSubscriptionRepository creates a new SQLite subscription repository.
func NewSQLiteSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db, now: time.Now}
}

// WithClock replaces the repository clock. Used by tests.
func (r *SQLiteSubscriptionRepository) WithClock(now func() time.Time) *SQLiteSubscriptionRepository {
	r.now = now
	return r
}

const subscriptionColumns = `account_id, tier, status, start_date, end_date, external_customer_id, external_subscription_id, last_update_timestamp, created_at`

func (r *SQLiteSubscriptionRepository) Get(ctx context.Context, accountID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE account_id = ?`
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func (r *SQLiteSubscriptionRepository) EnsureAccount(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrMissingAccountID
	}
	stamp := r.stamp()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (account_id, tier, status, last_update_timestamp, created_at)
		VALUES (?, 'none', 'none', ?, ?)
		ON CONFLICT(account_id) DO NOTHING`,
		accountID, stamp, stamp)
	return err
}

func (r *SQLiteSubscriptionRepository) Update(ctx context.Context, accountID string, update models.SubscriptionUpdate) (*models.Subscription, error) {
	if accountID == "" {
		return nil, ErrMissingAccountID
	}

	if update.StartDate != nil || update.EndDate != nil {
		current, err := r.Get(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to load current state: %w", err)
		}
		if current == nil {
			current = models.EmptySubscription(accountID)
		}
		next := update.ApplyTo(*current)
		if next.StartDate != nil && next.EndDate != nil && next.EndDate.Before(*next.StartDate) {
			return nil, ErrInvalidPeriod
		}
	}

	// Last write wins: no version check, so concurrent events for one account race.
	sub, err := r.applyUpdate(ctx, accountID, update)
	if errors.Is(err, sql.ErrNoRows) {
		if err := r.EnsureAccount(ctx, accountID); err != nil {
			return nil, fmt.Errorf("failed to create subscription record: %w", err)
		}
		sub, err = r.applyUpdate(ctx, accountID, update)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	// Second, independent write. A failure here leaves state updated without
	// a matching history row.
	entry := &models.SubscriptionHistoryEntry{
		ID:            ulid.Make().String(),
		AccountID:     accountID,
		Tier:          sub.Tier,
		Status:        sub.Status,
		StartDate:     sub.StartDate,
		EndDate:       sub.EndDate,
		PaymentMethod: update.PaymentMethod,
		AmountPaid:    update.AmountPaid,
		Currency:      update.Currency,
		ChangeReason:  update.ChangeReason,
		Notes:         update.Notes,
	}
	if err := r.appendHistory(ctx, entry); err != nil {
		return sub, fmt.Errorf("failed to append subscription history: %w", err)
	}

	return sub, nil
}

func (r *SQLiteSubscriptionRepository) applyUpdate(ctx context.Context, accountID string, u models.SubscriptionUpdate) (*models.Subscription, error) {
	var status *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}

	query := `UPDATE subscriptions SET
			tier = COALESCE(?, tier),
			status = COALESCE(?, status),
			start_date = COALESCE(?, start_date),
			end_date = COALESCE(?, end_date),
			external_customer_id = COALESCE(?, external_customer_id),
			external_subscription_id = COALESCE(?, external_subscription_id),
			last_update_timestamp = ?
		WHERE account_id = ?
		RETURNING ` + subscriptionColumns

	return scanSubscription(r.db.QueryRowContext(ctx, query,
		u.Tier, status, formatDate(u.StartDate), formatDate(u.EndDate),
		u.ExternalCustomerID, u.ExternalSubscriptionID,
		r.stamp(), accountID,
	))
}

func (r *SQLiteSubscriptionRepository) appendHistory(ctx context.Context, e *models.SubscriptionHistoryEntry) error {
	stamp := r.stamp()
	e.CreatedAt, _ = time.Parse(stampLayout, stamp)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscription_history (id, account_id, tier, status, start_date, end_date, payment_method, amount_paid, currency, change_reason, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.Tier, string(e.Status), formatDate(e.StartDate), formatDate(e.EndDate),
		nullString(e.PaymentMethod), e.AmountPaid, nullString(e.Currency), e.ChangeReason, nullString(e.Notes), stamp,
	)
	return err
}

func (r *SQLiteSubscriptionRepository) ListHistory(ctx context.Context, accountID string, limit int) ([]*models.SubscriptionHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, account_id, tier, status, start_date, end_date, payment_method, amount_paid, currency, change_reason, notes, created_at
		FROM subscription_history WHERE account_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.SubscriptionHistoryEntry
	for rows.Next() {
		var e models.SubscriptionHistoryEntry
		var status, createdAt string
		var startDate, endDate, paymentMethod, currency, notes sql.NullString
		var amountPaid sql.NullFloat64

		if err := rows.Scan(&e.ID, &e.AccountID, &e.Tier, &status, &startDate, &endDate, &paymentMethod, &amountPaid, &currency, &e.ChangeReason, &notes, &createdAt); err != nil {
			return nil, err
		}

		e.Status = models.SubscriptionStatus(status)
		e.StartDate = parseDate(startDate)
		e.EndDate = parseDate(endDate)
		e.PaymentMethod = paymentMethod.String
		e.Currency = currency.String
		e.Notes = notes.String
		if amountPaid.Valid {
			v := amountPaid.Float64
			e.AmountPaid = &v
		}
		e.CreatedAt, _ = time.Parse(stampLayout, createdAt)

		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

func (r *SQLiteSubscriptionRepository) CountHistory(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscription_history WHERE account_id = ?`, accountID).Scan(&count)
	return count, err
}

func (r *SQLiteSubscriptionRepository) ListCancelledEndedBefore(ctx context.Context, before time.Time, limit int) ([]*models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE status = 'cancelled' AND end_date IS NOT NULL AND end_date < ?
		ORDER BY end_date ASC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, before.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// stamp returns a strictly increasing timestamp string so history created_at
// never goes backwards within this process, even if the wall clock does.
func (r *SQLiteSubscriptionRepository) stamp() string {
	r.stampMu.Lock()
	defer r.stampMu.Unlock()

	now := r.now().UTC().Truncate(time.Microsecond)
	if !now.After(r.lastStamp) {
		now = r.lastStamp.Add(time.Microsecond)
	}
	r.lastStamp = now
	return now.Format(stampLayout)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var status, lastUpdate, createdAt string
	var startDate, endDate, customerID, subscriptionID sql.NullString

	if err := row.Scan(&sub.AccountID, &sub.Tier, &status, &startDate, &endDate, &customerID, &subscriptionID, &lastUpdate, &createdAt); err != nil {
		return nil, err
	}

	sub.Status = models.SubscriptionStatus(status)
	sub.StartDate = parseDate(startDate)
	sub.EndDate = parseDate(endDate)
	sub.ExternalCustomerID = customerID.String
	sub.ExternalSubscriptionID = subscriptionID.String
	sub.LastUpdateTimestamp, _ = time.Parse(stampLayout, lastUpdate)
	sub.CreatedAt, _ = time.Parse(stampLayout, createdAt)
	return &sub, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func parseDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
