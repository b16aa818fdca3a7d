// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package offlinedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Record is a domain entity held by a store. The payload is opaque to the
// database; only the id (assigned by the caller before persistence) and the
// local save timestamp are interpreted.
type Record struct {
	ID      string
	Payload json.RawMessage
	SavedAt time.Time
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Put upserts a record by its id. It succeeds regardless of network state
// and returns once the write is durable. Concurrent puts to the same id are
// last-write-wins.
func (d *Database) Put(ctx context.Context, store string, rec Record) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return putRecord(ctx, d.db, store, rec)
}

// PutTx is Put within an existing transaction (see WithTx).
func (d *Database) PutTx(ctx context.Context, tx *sql.Tx, store string, rec Record) error {
	return putRecord(ctx, tx, store, rec)
}

func putRecord(ctx context.Context, q dbtx, store string, rec Record) error {
	if !KnownStore(store) {
		return fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	savedAt := rec.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO records (store_name, record_id, payload, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (store_name, record_id)
		DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at
	`, store, rec.ID, string(rec.Payload), savedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to put record %s.%s: %w", store, rec.ID, err)
	}
	return nil
}

// Get returns the record with the given id, or ErrNotFound.
func (d *Database) Get(ctx context.Context, store, id string) (Record, error) {
	return getRecord(ctx, d.db, store, id)
}

// GetTx is Get within an existing transaction.
func (d *Database) GetTx(ctx context.Context, tx *sql.Tx, store, id string) (Record, error) {
	return getRecord(ctx, tx, store, id)
}

func getRecord(ctx context.Context, q dbtx, store, id string) (Record, error) {
	if !KnownStore(store) {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
	var payload, savedAt string
	err := q.QueryRowContext(ctx, `
		SELECT payload, saved_at FROM records
		WHERE store_name = ? AND record_id = ?
	`, store, id).Scan(&payload, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s.%s", ErrNotFound, store, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get record %s.%s: %w", store, id, err)
	}
	return Record{ID: id, Payload: json.RawMessage(payload), SavedAt: parseTime(savedAt)}, nil
}

// GetAll returns every record in a store. Order is unspecified; callers sort
// as needed.
func (d *Database) GetAll(ctx context.Context, store string) ([]Record, error) {
	if !KnownStore(store) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT record_id, payload, saved_at FROM records WHERE store_name = ?
	`, store)
	if err != nil {
		return nil, fmt.Errorf("failed to query store %s: %w", store, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var id, payload, savedAt string
		if err := rows.Scan(&id, &payload, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, Record{
			ID:      id,
			Payload: json.RawMessage(payload),
			SavedAt: parseTime(savedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating store %s: %w", store, err)
	}
	return records, nil
}

// Delete removes a record by id. Deleting an absent record is a no-op, not
// an error.
func (d *Database) Delete(ctx context.Context, store, id string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return deleteRecord(ctx, d.db, store, id)
}

// DeleteTx is Delete within an existing transaction.
func (d *Database) DeleteTx(ctx context.Context, tx *sql.Tx, store, id string) error {
	return deleteRecord(ctx, tx, store, id)
}

func deleteRecord(ctx context.Context, q dbtx, store, id string) error {
	if !KnownStore(store) {
		return fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
	_, err := q.ExecContext(ctx, `
		DELETE FROM records WHERE store_name = ? AND record_id = ?
	`, store, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s.%s: %w", store, id, err)
	}
	return nil
}

// Clear removes all records in a store. Used for resets and tests.
func (d *Database) Clear(ctx context.Context, store string) error {
	if !KnownStore(store) {
		return fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if _, err := d.db.ExecContext(ctx, `DELETE FROM records WHERE store_name = ?`, store); err != nil {
		return fmt.Errorf("failed to clear store %s: %w", store, err)
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
