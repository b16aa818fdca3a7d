// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package offlinedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation types for queued mutations.
const (
	OpCreate = "CREATE"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// SyncOperation is one pending remote mutation. Operations are removed from
// the queue only when their remote replay succeeds; the queue, not any
// in-memory projection, is the source of truth for pending work.
type SyncOperation struct {
	ID         string
	Type       string // OpCreate, OpUpdate or OpDelete
	Store      string
	EntityID   string
	Payload    []byte // JSON; nil for DELETE
	QueuedAt   time.Time
	RetryCount int
	LastError  string
}

// Enqueue appends op to the mutation queue with a fresh retry count. An
// operation id is assigned if the caller left it empty. This only touches
// local storage and never fails due to network state.
func (d *Database) Enqueue(ctx context.Context, op SyncOperation) (SyncOperation, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return enqueueOp(ctx, d.db, op)
}

// EnqueueTx is Enqueue within an existing transaction (see WithTx).
func (d *Database) EnqueueTx(ctx context.Context, tx *sql.Tx, op SyncOperation) (SyncOperation, error) {
	return enqueueOp(ctx, tx, op)
}

func enqueueOp(ctx context.Context, q dbtx, op SyncOperation) (SyncOperation, error) {
	if !KnownStore(op.Store) {
		return SyncOperation{}, fmt.Errorf("%w: %s", ErrUnknownStore, op.Store)
	}
	switch op.Type {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return SyncOperation{}, fmt.Errorf("invalid operation type %q", op.Type)
	}
	if op.EntityID == "" {
		return SyncOperation{}, errors.New("entity id is required")
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	op.QueuedAt = time.Now().UTC()
	op.RetryCount = 0
	op.LastError = ""

	var payload any
	if op.Payload != nil {
		payload = string(op.Payload)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_queue (op_id, op, store_name, entity_id, payload, queued_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, op.ID, op.Type, op.Store, op.EntityID, payload, op.QueuedAt.Format(time.RFC3339Nano))
	if err != nil {
		return SyncOperation{}, fmt.Errorf("failed to enqueue %s %s.%s: %w", op.Type, op.Store, op.EntityID, err)
	}
	return op, nil
}

// ListPending returns all queued operations oldest-first. Rowid order is
// enqueue order since all writes go through one serialized connection.
// Nothing is filtered here; callers apply the retry ceiling when deciding
// what to attempt.
func (d *Database) ListPending(ctx context.Context) ([]SyncOperation, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT op_id, op, store_name, entity_id, payload, queued_at, retry_count, last_error
		FROM sync_queue
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var ops []SyncOperation
	for rows.Next() {
		var op SyncOperation
		var payload, lastError sql.NullString
		var queuedAt string
		if err := rows.Scan(&op.ID, &op.Type, &op.Store, &op.EntityID, &payload, &queuedAt, &op.RetryCount, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan sync operation: %w", err)
		}
		if payload.Valid {
			op.Payload = []byte(payload.String)
		}
		op.LastError = lastError.String
		op.QueuedAt = parseTime(queuedAt)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync queue: %w", err)
	}
	return ops, nil
}

// PendingCount returns the number of operations in the queue.
func (d *Database) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return n, nil
}

// RemoveOperation deletes an operation after its replay succeeded. Removing
// an operation that is already gone is a no-op.
func (d *Database) RemoveOperation(ctx context.Context, opID string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if _, err := d.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE op_id = ?`, opID); err != nil {
		return fmt.Errorf("failed to remove operation %s: %w", opID, err)
	}
	return nil
}

// UpdateOperationRetry records a failed replay attempt: the new retry count
// and the most recent failure reason.
func (d *Database) UpdateOperationRetry(ctx context.Context, opID string, retryCount int, lastError string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	res, err := d.db.ExecContext(ctx, `
		UPDATE sync_queue SET retry_count = ?, last_error = ? WHERE op_id = ?
	`, retryCount, lastError, opID)
	if err != nil {
		return fmt.Errorf("failed to update operation %s: %w", opID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: operation %s", ErrNotFound, opID)
	}
	return nil
}
