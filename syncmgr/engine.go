// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package syncmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wabiifour-tech/runhealthcentre-sub000/offlinedb"
)

// DefaultMaxRetries is the retry ceiling. An operation that fails this many
// times is parked: retained in the queue but skipped by automatic passes, so
// unsynced data is never silently dropped.
const DefaultMaxRetries = 5

// Result reports what a reconciliation pass did.
type Result struct {
	Processed int
	Failed    int
}

// Engine drains the mutation queue against the remote store, updating
// per-operation retry state and the coordinator's aggregate status.
type Engine struct {
	db         *offlinedb.Database
	remote     RemoteStore
	coord      *Coordinator
	logger     *slog.Logger
	maxRetries int
}

// NewEngine creates a sync engine with the default retry ceiling.
func NewEngine(db *offlinedb.Database, remote RemoteStore, coord *Coordinator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:         db,
		remote:     remote,
		coord:      coord,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
	}
}

// ProcessSyncQueue performs one reconciliation pass. If a pass is already in
// flight the call coalesces into a no-op and returns a zero Result; the next
// scheduled pass picks up anything enqueued meanwhile.
//
// Replay is strictly sequential and oldest-first, so for the same entity an
// UPDATE enqueued after a CREATE is never replayed before it. One failing
// operation records its error and retry count but never aborts the rest of
// the pass.
func (e *Engine) ProcessSyncQueue(ctx context.Context) (Result, error) {
	if !e.coord.beginPass() {
		return Result{}, nil
	}
	defer e.coord.endPass()

	e.coord.set(StatusSyncing, e.coord.State().PendingCount)

	ops, err := e.db.ListPending(ctx)
	if err != nil {
		e.coord.set(StatusError, 0)
		return Result{}, fmt.Errorf("failed to load sync queue: %w", err)
	}

	now := time.Now().UTC()
	if len(ops) == 0 {
		e.coord.finishPass(StatusSynced, 0, now)
		e.saveMetadata(ctx, offlinedb.OutcomeSuccess, 0, now)
		return Result{}, nil
	}

	var res Result
	for i := range ops {
		op := &ops[i]
		if op.RetryCount >= e.maxRetries {
			// Parked: no network attempt, but still reported as failed so
			// the pass outcome reflects it.
			res.Failed++
			continue
		}

		if err := e.replay(ctx, op); err != nil {
			res.Failed++
			if uerr := e.db.UpdateOperationRetry(ctx, op.ID, op.RetryCount+1, err.Error()); uerr != nil {
				e.logger.Error("Failed to record replay failure",
					"op_id", op.ID, "store", op.Store, "entity_id", op.EntityID, "error", uerr)
			}
			e.logger.Warn("Replay failed",
				"op", op.Type, "store", op.Store, "entity_id", op.EntityID,
				"retry_count", op.RetryCount+1, "error", err)
			continue
		}

		res.Processed++
		if rerr := e.db.RemoveOperation(ctx, op.ID); rerr != nil {
			e.logger.Error("Failed to remove applied operation",
				"op_id", op.ID, "store", op.Store, "entity_id", op.EntityID, "error", rerr)
		}
	}

	// Re-query for the true remaining count; the queue is authoritative.
	remaining, err := e.db.ListPending(ctx)
	if err != nil {
		e.coord.set(StatusError, 0)
		return res, fmt.Errorf("failed to re-query sync queue: %w", err)
	}

	now = time.Now().UTC()
	status := deriveStatus(len(remaining), res)
	e.coord.finishPass(status, len(remaining), now)
	e.saveMetadata(ctx, deriveOutcome(res), res.Failed, now)

	e.logger.Info("Sync pass complete",
		"processed", res.Processed, "failed", res.Failed,
		"remaining", len(remaining), "status", status)

	return res, nil
}

// ParkedOperations lists operations that reached the retry ceiling and now
// require external intervention.
func (e *Engine) ParkedOperations(ctx context.Context) ([]offlinedb.SyncOperation, error) {
	ops, err := e.db.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	var parked []offlinedb.SyncOperation
	for _, op := range ops {
		if op.RetryCount >= e.maxRetries {
			parked = append(parked, op)
		}
	}
	return parked, nil
}

func (e *Engine) replay(ctx context.Context, op *offlinedb.SyncOperation) error {
	switch op.Type {
	case offlinedb.OpCreate:
		return e.remote.CreateRecord(ctx, op.Store, json.RawMessage(op.Payload))
	case offlinedb.OpUpdate:
		return e.remote.UpdateRecord(ctx, op.Store, op.EntityID, json.RawMessage(op.Payload))
	case offlinedb.OpDelete:
		return e.remote.DeleteRecord(ctx, op.Store, op.EntityID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, op.Type)
	}
}

func (e *Engine) saveMetadata(ctx context.Context, outcome string, failed int, at time.Time) {
	err := e.db.SaveSyncMetadata(ctx, offlinedb.SyncMetadata{
		LastOutcome: outcome,
		FailedCount: failed,
		LastSyncAt:  at,
	})
	if err != nil {
		e.logger.Error("Failed to save sync metadata", "error", err)
	}
}

// deriveStatus maps the end-of-pass queue state onto the aggregate status:
// empty queue means synced; progress with leftovers means pending; no
// progress at all means the remote is effectively unreachable this pass.
func deriveStatus(remaining int, res Result) SyncStatus {
	switch {
	case remaining == 0:
		return StatusSynced
	case res.Processed > 0:
		return StatusPending
	default:
		return StatusOffline
	}
}

func deriveOutcome(res Result) string {
	switch {
	case res.Failed == 0:
		return offlinedb.OutcomeSuccess
	case res.Processed > 0:
		return offlinedb.OutcomePartial
	default:
		return offlinedb.OutcomeFailed
	}
}
