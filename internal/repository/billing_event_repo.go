package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/subledger/internal/models"
)

// SQLiteBillingEventRepository implements BillingEventRepository for SQLite/libsql.
type SQLiteBillingEventRepository struct {
	db *sql.DB
}

// NewSQLiteBillingEventRepository creates a new SQLite billing event repository.
func NewSQLiteBillingEventRepository(db *sql.DB) *SQLiteBillingEventRepository {
	return &SQLiteBillingEventRepository{db: db}
}

// Create records a billing event.
func (r *SQLiteBillingEventRepository) Create(ctx context.Context, event *models.BillingEvent) error {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO billing_events (id, gateway_id, type, account_id, outcome, error, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.GatewayID, event.Type, nullString(event.AccountID), event.Outcome,
		nullString(event.Error), event.ReceivedAt.UTC().Format(stampLayout))

	return err
}

// ListByAccount returns the most recent events for an account, newest first.
func (r *SQLiteBillingEventRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.BillingEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, gateway_id, type, account_id, outcome, error, received_at
		FROM billing_events WHERE account_id = ?
		ORDER BY received_at DESC, id DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*models.BillingEvent
	for rows.Next() {
		var e models.BillingEvent
		var acct, errMsg sql.NullString
		var receivedAt string

		if err := rows.Scan(&e.ID, &e.GatewayID, &e.Type, &acct, &e.Outcome, &errMsg, &receivedAt); err != nil {
			return nil, err
		}
		e.AccountID = acct.String
		e.Error = errMsg.String
		e.ReceivedAt, _ = time.Parse(stampLayout, receivedAt)
		events = append(events, &e)
	}

	return events, rows.Err()
}

// CountByGatewayID returns how many times a gateway event has been delivered.
func (r *SQLiteBillingEventRepository) CountByGatewayID(ctx context.Context, gatewayID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM billing_events WHERE gateway_id = ?`, gatewayID).Scan(&count)
	return count, err
}
