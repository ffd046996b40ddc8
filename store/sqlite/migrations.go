package sqlite

import (
	"context"
	"fmt"
)

type migration struct {
	name    string
	version string
	up      string
}

// migrations run in order; each runs once and is recorded in bridge_migrations.
var migrations = []migration{
	{
		name:    "create_bridge_pairs",
		version: "20260101000001",
		up: `
CREATE TABLE IF NOT EXISTS bridge_pairs (
    id                   TEXT PRIMARY KEY,
    source_platform      TEXT NOT NULL,
    source_channel       TEXT NOT NULL,
    destination_platform TEXT NOT NULL,
    destination_channel  TEXT NOT NULL,
    thread_id            TEXT NOT NULL DEFAULT '',
    mode                 TEXT NOT NULL DEFAULT 'bidirectional',
    position             INTEGER NOT NULL DEFAULT 0,
    created_at           TEXT NOT NULL,
    updated_at           TEXT NOT NULL
);
`,
	},
	{
		name:    "create_bridge_links",
		version: "20260101000002",
		up: `
CREATE TABLE IF NOT EXISTS bridge_links (
    from_platform TEXT NOT NULL,
    from_channel  TEXT NOT NULL,
    from_message  TEXT NOT NULL,
    to_platform   TEXT NOT NULL,
    to_channel    TEXT NOT NULL,
    to_message    TEXT NOT NULL,
    created_at    TEXT NOT NULL,
    PRIMARY KEY (from_platform, from_channel, from_message, to_platform, to_channel)
);

CREATE INDEX IF NOT EXISTS idx_bridge_links_created ON bridge_links (created_at);
`,
	},
}

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS bridge_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
)`); err != nil {
		return fmt.Errorf("bridge/sqlite: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM bridge_migrations WHERE version = ?`, m.version).Scan(&n); err != nil {
			return fmt.Errorf("bridge/sqlite: check migration %s: %w", m.name, err)
		}
		if n > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("bridge/sqlite: migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bridge/sqlite: migration %s failed: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bridge_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bridge/sqlite: record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("bridge/sqlite: migration %s: %w", m.name, err)
		}
	}
	return nil
}
