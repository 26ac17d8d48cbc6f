package migrations

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/tursodatabase/go-libsql"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// A second pooled connection would see a different in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRegistered_SortedByTimestamp(t *testing.T) {
	ms := Registered()
	if len(ms) == 0 {
		t.Fatal("expected registered migrations")
	}
	for i := 1; i < len(ms); i++ {
		if ms[i-1].Timestamp >= ms[i].Timestamp {
			t.Errorf("migrations out of order: %s before %s", ms[i-1].Timestamp, ms[i].Timestamp)
		}
	}
}

func TestRun_CreatesTablesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := Run(ctx, db, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Run(ctx, db, nil); err != nil {
		t.Fatalf("second run: %v", err)
	}

	for _, table := range []string{"subscriptions", "subscription_history", "billing_events"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	applied, err := Applied(ctx, db)
	if err != nil {
		t.Fatalf("Applied: %v", err)
	}
	if len(applied) != len(Registered()) {
		t.Errorf("applied = %d, want %d", len(applied), len(Registered()))
	}

	latest, err := LatestVersion(ctx, db)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	ms := Registered()
	if latest != ms[len(ms)-1].Timestamp {
		t.Errorf("LatestVersion = %q, want %q", latest, ms[len(ms)-1].Timestamp)
	}
}

func TestLatestVersion_Empty(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if _, err := db.ExecContext(ctx, `CREATE TABLE schema_migrations (version TEXT PRIMARY KEY, description TEXT NOT NULL, applied_at TEXT NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	latest, err := LatestVersion(ctx, db)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if latest != "" {
		t.Errorf("LatestVersion = %q, want empty", latest)
	}
}
