package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261003-141500",
		Description: "Billing webhook event log",
		Up: []string{
			// gateway_id is not unique: deliveries are at-least-once and every
			// delivery is logged with its own outcome.
			`CREATE TABLE IF NOT EXISTS billing_events (
				id TEXT PRIMARY KEY,
				gateway_id TEXT NOT NULL,
				type TEXT NOT NULL,
				account_id TEXT,
				outcome TEXT NOT NULL,
				error TEXT,
				received_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_billing_events_gateway_id ON billing_events(gateway_id)`,
			`CREATE INDEX IF NOT EXISTS idx_billing_events_account ON billing_events(account_id, received_at)`,
		},
	})
}
