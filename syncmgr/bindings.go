// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package syncmgr

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wabiifour-tech/runhealthcentre-sub000/offlinedb"
)

// Bindings is the "save now, sync later" API: every call writes to the
// local database and queues the matching remote mutation in one transaction,
// then returns. Callers get synchronous local success regardless of remote
// availability.
type Bindings struct {
	db     *offlinedb.Database
	coord  *Coordinator
	sched  *Scheduler // optional; nudged after each enqueue
	logger *slog.Logger
}

// NewBindings creates the binding layer. sched may be nil when no background
// scheduler is running (e.g. in tests that drive the engine directly).
func NewBindings(db *offlinedb.Database, coord *Coordinator, sched *Scheduler, logger *slog.Logger) *Bindings {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bindings{db: db, coord: coord, sched: sched, logger: logger}
}

// SaveRecord persists a new record locally and queues a CREATE for the
// remote. Returns once the local write is durable.
func (b *Bindings) SaveRecord(ctx context.Context, store string, rec offlinedb.Record) error {
	err := b.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := b.db.PutTx(ctx, tx, store, rec); err != nil {
			return err
		}
		_, err := b.db.EnqueueTx(ctx, tx, offlinedb.SyncOperation{
			Type:     offlinedb.OpCreate,
			Store:    store,
			EntityID: rec.ID,
			Payload:  rec.Payload,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("offline save failed for %s.%s: %w", store, rec.ID, err)
	}
	b.afterEnqueue(ctx)
	return nil
}

// UpdateRecord merges partial JSON into the locally stored record and queues
// an UPDATE carrying the full merged record. The record must already exist
// locally.
func (b *Bindings) UpdateRecord(ctx context.Context, store, id string, partial json.RawMessage) error {
	err := b.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := b.db.GetTx(ctx, tx, store, id)
		if err != nil {
			return err
		}
		merged, err := mergeJSON(current.Payload, partial)
		if err != nil {
			return fmt.Errorf("failed to merge update for %s.%s: %w", store, id, err)
		}
		if err := b.db.PutTx(ctx, tx, store, offlinedb.Record{ID: id, Payload: merged}); err != nil {
			return err
		}
		_, err = b.db.EnqueueTx(ctx, tx, offlinedb.SyncOperation{
			Type:     offlinedb.OpUpdate,
			Store:    store,
			EntityID: id,
			Payload:  merged,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("offline update failed for %s.%s: %w", store, id, err)
	}
	b.afterEnqueue(ctx)
	return nil
}

// DeleteRecord removes the record locally and queues a DELETE for the
// remote.
func (b *Bindings) DeleteRecord(ctx context.Context, store, id string) error {
	err := b.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := b.db.DeleteTx(ctx, tx, store, id); err != nil {
			return err
		}
		_, err := b.db.EnqueueTx(ctx, tx, offlinedb.SyncOperation{
			Type:     offlinedb.OpDelete,
			Store:    store,
			EntityID: id,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("offline delete failed for %s.%s: %w", store, id, err)
	}
	b.afterEnqueue(ctx)
	return nil
}

// ListRecords returns all local records in a store.
func (b *Bindings) ListRecords(ctx context.Context, store string) ([]offlinedb.Record, error) {
	return b.db.GetAll(ctx, store)
}

// SubscribeStatus registers a status callback, invokes it immediately with
// the current state, and returns an unsubscribe function.
func (b *Bindings) SubscribeStatus(cb func(State)) func() {
	return b.coord.Subscribe(cb)
}

func (b *Bindings) afterEnqueue(ctx context.Context) {
	pending, err := b.db.PendingCount(ctx)
	if err != nil {
		b.logger.Error("Failed to count pending operations", "error", err)
		return
	}
	b.coord.noteEnqueued(pending)
	if b.sched != nil {
		b.sched.TriggerSync()
	}
}

// mergeJSON overlays partial's top-level fields onto base.
func mergeJSON(base, partial json.RawMessage) (json.RawMessage, error) {
	merged := make(map[string]any)
	if len(base) > 0 {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, fmt.Errorf("invalid stored payload: %w", err)
		}
	}
	overlay := make(map[string]any)
	if len(partial) > 0 {
		if err := json.Unmarshal(partial, &overlay); err != nil {
			return nil, fmt.Errorf("invalid partial payload: %w", err)
		}
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return json.Marshal(merged)
}
