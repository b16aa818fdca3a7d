// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package offlinedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Outcomes of a reconciliation pass, recorded for observability only; the
// queue itself remains authoritative for pending work.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// SyncMetadata describes the last reconciliation pass.
type SyncMetadata struct {
	LastOutcome string
	FailedCount int
	LastSyncAt  time.Time
}

// SaveSyncMetadata records the outcome of a pass, replacing any previous one.
func (d *Database) SaveSyncMetadata(ctx context.Context, meta SyncMetadata) error {
	switch meta.LastOutcome {
	case OutcomeSuccess, OutcomePartial, OutcomeFailed:
	default:
		return fmt.Errorf("invalid sync outcome %q", meta.LastOutcome)
	}
	if meta.LastSyncAt.IsZero() {
		meta.LastSyncAt = time.Now().UTC()
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sync_meta (id, last_outcome, failed_count, last_sync_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET last_outcome = excluded.last_outcome,
		              failed_count = excluded.failed_count,
		              last_sync_at = excluded.last_sync_at
	`, meta.LastOutcome, meta.FailedCount, meta.LastSyncAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save sync metadata: %w", err)
	}
	return nil
}

// LoadSyncMetadata returns the last recorded pass outcome, or ErrNotFound if
// no pass has completed yet.
func (d *Database) LoadSyncMetadata(ctx context.Context) (SyncMetadata, error) {
	var meta SyncMetadata
	var lastSyncAt string
	err := d.db.QueryRowContext(ctx, `
		SELECT last_outcome, failed_count, last_sync_at FROM sync_meta WHERE id = 1
	`).Scan(&meta.LastOutcome, &meta.FailedCount, &lastSyncAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncMetadata{}, fmt.Errorf("%w: sync metadata", ErrNotFound)
	}
	if err != nil {
		return SyncMetadata{}, fmt.Errorf("failed to load sync metadata: %w", err)
	}
	meta.LastSyncAt = parseTime(lastSyncAt)
	return meta, nil
}
