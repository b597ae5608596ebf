package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id            TEXT PRIMARY KEY,
		owner         TEXT    NOT NULL,
		content       TEXT    NOT NULL,
		type          TEXT    NOT NULL,
		importance    REAL    NOT NULL,
		tags          TEXT    NOT NULL DEFAULT '[]',
		embedding     BLOB,
		source_chat   TEXT    NOT NULL DEFAULT '',
		source_msg    TEXT    NOT NULL DEFAULT '',
		source_kind   TEXT    NOT NULL DEFAULT '',
		access_count  INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT,
		created_at    TEXT    NOT NULL,
		updated_at    TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_owner_type ON memories(owner, type)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_owner_importance ON memories(owner, importance)`,

	`CREATE TABLE IF NOT EXISTS chat_messages (
		id         TEXT PRIMARY KEY,
		chat_id    TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS user_prefs (
		user_id       TEXT PRIMARY KEY,
		enable_memory INTEGER NOT NULL DEFAULT 1,
		updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
