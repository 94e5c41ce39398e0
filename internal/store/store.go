// Package store persists conversations and messages to SQLite so the
// ledger's recency and unread indexes survive restarts. The engine writes
// through on ingestion and hydrates from here before the first archive
// round trip.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations run in order; each entry is applied once and recorded in
// schema_migrations.
var migrations = []struct {
	version string
	sql     string
}{
	{"001_conversations", `
		CREATE TABLE conversations (
			id            TEXT PRIMARY KEY,
			dispatcher_id TEXT NOT NULL DEFAULT '',
			display_name  TEXT NOT NULL DEFAULT '',
			closed        INTEGER NOT NULL DEFAULT 0,
			last_activity INTEGER NOT NULL DEFAULT 0,
			unread        INTEGER NOT NULL DEFAULT 0
		);
	`},
	{"002_messages", `
		CREATE TABLE messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender          TEXT NOT NULL DEFAULT '',
			body            TEXT NOT NULL DEFAULT '',
			at              INTEGER NOT NULL,
			inbound         INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX idx_messages_conversation_at ON messages(conversation_id, at);
		CREATE UNIQUE INDEX idx_messages_id ON messages(conversation_id, id) WHERE id != '';
	`},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", m.version, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.version, err)
		}
	}
	return nil
}
