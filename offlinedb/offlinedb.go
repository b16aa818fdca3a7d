// Package offlinedb provides the durable local database for the
// RunHealthCentre client: per-entity record stores plus the pending
// mutation queue that the sync engine drains against the server.
//
// Records are opaque JSON payloads keyed by a caller-assigned id. The
// database is available before any network activity; every write returns
// only after it is durable in SQLite.
//
// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package offlinedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Typed errors surfaced by store operations.
var (
	// ErrStorageUnavailable indicates local persistence cannot be opened at
	// all. Fatal to the offline capability, not to the rest of the app.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrNotFound indicates the requested record does not exist in the store.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownStore indicates a store name outside the declared store set.
	ErrUnknownStore = errors.New("unknown store")
)

// schemaVersion is the current store-set version. The store set and its
// indexes are declared once here and only change by advancing this version.
const schemaVersion = 2

// migrations[i] brings the database from user_version i to i+1.
var migrations = []string{
	// v1: record stores, mutation queue, sync metadata
	`CREATE TABLE IF NOT EXISTS records (
		store_name  TEXT NOT NULL,
		record_id   TEXT NOT NULL,
		payload     TEXT NOT NULL,
		saved_at    TEXT NOT NULL,
		PRIMARY KEY (store_name, record_id)
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		op_id       TEXT PRIMARY KEY,
		op          TEXT NOT NULL CHECK (op IN ('CREATE','UPDATE','DELETE')),
		store_name  TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		payload     TEXT,
		queued_at   TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_order ON sync_queue(queued_at);

	CREATE TABLE IF NOT EXISTS sync_meta (
		id            INTEGER PRIMARY KEY CHECK (id = 1),
		last_outcome  TEXT NOT NULL,
		failed_count  INTEGER NOT NULL DEFAULT 0,
		last_sync_at  TEXT NOT NULL
	);`,

	// v2: drug names must be unique within the drugs store
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_drugs_name
		ON records(json_extract(payload, '$.name'))
		WHERE store_name = 'drugs';`,
}

// Database is the handle to the local offline database. Open it once per
// process and share the handle; all methods are safe for concurrent use.
type Database struct {
	db     *sql.DB
	logger *slog.Logger

	// Serialize write transactions to avoid SQLite busy errors under
	// concurrent binding-layer calls.
	writeMu sync.Mutex
}

// Open opens (creating if needed) the local database at path and applies any
// pending schema migrations. It is safe to call with an existing database
// file; migration is idempotent. Failures are wrapped in
// ErrStorageUnavailable since nothing can be queued without local storage.
func Open(path string, logger *slog.Logger) (*Database, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrStorageUnavailable)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	// A single connection keeps transactions strictly serialized, which is
	// all the client workload needs.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %v", ErrStorageUnavailable, err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to enable foreign keys: %v", ErrStorageUnavailable, err)
	}

	d := &Database{db: db, logger: logger}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return d, nil
}

// Close closes the underlying database.
func (d *Database) Close() error {
	return d.db.Close()
}

// SchemaVersion reports the store-set version the database is at.
func (d *Database) SchemaVersion() (int, error) {
	var v int
	if err := d.db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func (d *Database) migrate() error {
	var current int
	if err := d.db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read user_version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for v := current; v < schemaVersion; v++ {
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration tx: %w", err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration to v%d failed: %w", v+1, err)
		}
		// PRAGMA does not support placeholders.
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to set user_version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration to v%d: %w", v+1, err)
		}
		d.logger.Debug("Applied local schema migration", "version", v+1)
	}
	return nil
}

// WithTx runs fn inside a single SQLite transaction, committing on nil and
// rolling back on error. It is the scoped multi-store transaction primitive:
// the binding layer uses it to write a domain record and its queue entry
// all-or-nothing.
func (d *Database) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
