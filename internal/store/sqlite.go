package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLite persists all bot state in a single database file. The admin
// panel opens the same file from its own process; WAL plus busy_timeout
// keeps the two writers out of each other's way.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db path: %w", err)
	}

	// DSN notes:
	// - _pragma=busy_timeout sets a lock wait, needed because the admin
	//   panel writes this file from a second process
	// - _pragma=journal_mode(WAL) enables the write-ahead log
	// - _pragma=synchronous(NORMAL) is the recommended mode with WAL
	// - _txlock=immediate takes the write lock at BEGIN so our
	//   transactions never upgrade mid-flight
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate",
		filepath.Clean(dbPath),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS species (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			key         TEXT    NOT NULL UNIQUE,
			name        TEXT    NOT NULL,
			weight      REAL    NOT NULL CHECK (weight > 0),
			min_attack  INTEGER NOT NULL DEFAULT 0,
			max_attack  INTEGER NOT NULL DEFAULT 0,
			min_health  INTEGER NOT NULL DEFAULT 0,
			max_health  INTEGER NOT NULL DEFAULT 0,
			enabled     INTEGER NOT NULL DEFAULT 1
		);
		CREATE TABLE IF NOT EXISTS species_aliases (
			species_id  INTEGER NOT NULL REFERENCES species(id) ON DELETE CASCADE,
			alias       TEXT    NOT NULL,
			UNIQUE (species_id, alias)
		);
		CREATE TABLE IF NOT EXISTS accounts (
			user_id       TEXT    PRIMARY KEY,
			balance       INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			last_catch_at INTEGER NOT NULL DEFAULT 0,
			last_trade_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS instances (
			id          TEXT    PRIMARY KEY,
			species_id  INTEGER NOT NULL REFERENCES species(id),
			owner_id    TEXT    NOT NULL,
			attack      INTEGER NOT NULL DEFAULT 0,
			health      INTEGER NOT NULL DEFAULT 0,
			caught_at   INTEGER NOT NULL,
			locked_by   TEXT    NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_instances_owner
			ON instances (owner_id);
		CREATE TABLE IF NOT EXISTS spawns (
			id          TEXT    PRIMARY KEY,
			species_id  INTEGER NOT NULL,
			guild_id    TEXT    NOT NULL,
			channel_id  TEXT    NOT NULL,
			message_id  TEXT    NOT NULL DEFAULT '',
			spawned_at  INTEGER NOT NULL,
			expires_at  INTEGER NOT NULL,
			state       INTEGER NOT NULL DEFAULT 0,
			caught_by   TEXT    NOT NULL DEFAULT '',
			instance_id TEXT    NOT NULL DEFAULT '',
			resolved_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_spawns_channel_state
			ON spawns (channel_id, state);
		CREATE INDEX IF NOT EXISTS idx_spawns_caught_by
			ON spawns (caught_by, channel_id, state);
		CREATE TABLE IF NOT EXISTS spawn_misses (
			spawn_id TEXT NOT NULL REFERENCES spawns(id) ON DELETE CASCADE,
			user_id  TEXT NOT NULL,
			PRIMARY KEY (spawn_id, user_id)
		);
		CREATE TABLE IF NOT EXISTS trades (
			id         TEXT    PRIMARY KEY,
			state      INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_state_updated
			ON trades (state, updated_at);
		CREATE TABLE IF NOT EXISTS trade_participants (
			trade_id  TEXT    NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
			user_id   TEXT    NOT NULL,
			position  INTEGER NOT NULL,
			confirmed INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (trade_id, user_id)
		);
		CREATE TABLE IF NOT EXISTS trade_offers (
			trade_id    TEXT NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
			user_id     TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			PRIMARY KEY (trade_id, instance_id)
		);
		CREATE TABLE IF NOT EXISTS promocodes (
			code              TEXT    PRIMARY KEY,
			expires_at        INTEGER NOT NULL,
			uses_left         INTEGER NOT NULL,
			max_uses_per_user INTEGER NOT NULL DEFAULT 1,
			reward_species_id INTEGER NOT NULL DEFAULT 0,
			reward_credits    INTEGER NOT NULL DEFAULT 0,
			archived          INTEGER NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS promocode_uses (
			code    TEXT    NOT NULL REFERENCES promocodes(code) ON DELETE CASCADE,
			user_id TEXT    NOT NULL,
			used_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_promocode_uses_user
			ON promocode_uses (code, user_id);
	`)
	return err
}

// withTx runs fn inside one transaction, rolling back on any error.
func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
