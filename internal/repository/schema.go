package repository

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		id BIGSERIAL PRIMARY KEY,
		public_id TEXT NOT NULL,
		user_id BIGINT NOT NULL,
		source_account_id BIGINT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'single',
		status TEXT NOT NULL DEFAULT 'draft',
		body TEXT NOT NULL DEFAULT '',
		segments JSONB NOT NULL DEFAULT '[]',
		media_refs TEXT[] NOT NULL DEFAULT '{}',
		scheduled_at TIMESTAMPTZ,
		published_at TIMESTAMPTZ,
		external_post_id TEXT NOT NULL DEFAULT '',
		scheduler_job_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, public_id)
	)`,
	`CREATE INDEX IF NOT EXISTS posts_scheduled_idx ON posts (scheduled_at) WHERE status = 'scheduled'`,
	`CREATE TABLE IF NOT EXISTS posting_history (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		post_id BIGINT NOT NULL,
		account_id BIGINT NOT NULL,
		attempt INT NOT NULL DEFAULT 1,
		external_id TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS media_assets (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		file_name TEXT NOT NULL UNIQUE,
		file_type TEXT NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		file_url TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the tables this service owns. Social accounts are owned by
// the account-linking service and are only read here.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, q := range schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}
