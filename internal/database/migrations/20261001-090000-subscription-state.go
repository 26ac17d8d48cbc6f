package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261001-090000",
		Description: "Subscription state and history",
		Up: []string{
			// One mutable row per account. account_id is the auth provider's subject.
			`CREATE TABLE IF NOT EXISTS subscriptions (
				account_id TEXT PRIMARY KEY,
				tier TEXT NOT NULL DEFAULT 'none',
				status TEXT NOT NULL DEFAULT 'none',
				start_date TEXT,
				end_date TEXT,
				external_customer_id TEXT,
				external_subscription_id TEXT,
				last_update_timestamp TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_status_end ON subscriptions(status, end_date)`,
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_customer ON subscriptions(external_customer_id)`,

			// Append-only audit log. Rows are never updated or deleted.
			`CREATE TABLE IF NOT EXISTS subscription_history (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				tier TEXT NOT NULL,
				status TEXT NOT NULL,
				start_date TEXT,
				end_date TEXT,
				payment_method TEXT,
				amount_paid REAL,
				currency TEXT,
				change_reason TEXT NOT NULL,
				notes TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_subscription_history_account ON subscription_history(account_id, created_at)`,
		},
	})
}
