// Package migrations applies the SQL schema for the postgres store. The
// statements are idempotent and run in order on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS asset_collections (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		max_supply BIGINT NOT NULL DEFAULT 0,
		minted BIGINT NOT NULL DEFAULT 0,
		royalty_recipient TEXT NOT NULL DEFAULT '',
		royalty_bps BIGINT NOT NULL DEFAULT 0,
		marketplaces JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS asset_roles (
		collection_id TEXT NOT NULL,
		role TEXT NOT NULL,
		principal TEXT NOT NULL,
		PRIMARY KEY (collection_id, role, principal)
	)`,
	`CREATE TABLE IF NOT EXISTS asset_items (
		collection_id TEXT NOT NULL,
		id BIGINT NOT NULL,
		holder TEXT NOT NULL DEFAULT '',
		burned BOOLEAN NOT NULL DEFAULT FALSE,
		minted_at TIMESTAMPTZ NOT NULL,
		burned_at TIMESTAMPTZ,
		PRIMARY KEY (collection_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS asset_items_holder_idx ON asset_items (collection_id, holder)`,
	`CREATE TABLE IF NOT EXISTS asset_operators (
		collection_id TEXT NOT NULL,
		holder TEXT NOT NULL,
		operator TEXT NOT NULL,
		PRIMARY KEY (collection_id, holder, operator)
	)`,
	`CREATE TABLE IF NOT EXISTS asset_sales (
		collection_id TEXT NOT NULL,
		item_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		price BIGINT NOT NULL DEFAULT 0,
		buyer TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (collection_id, item_id)
	)`,
}

// Apply runs every migration statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
