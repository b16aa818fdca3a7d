// Package remotestore is the reference server side of the RunHealthCentre
// sync protocol: a Postgres-backed record store exposing the generic
// record-mutation contract the offline client replays against, plus JWT
// authentication and an audit-log retention janitor.
//
// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package remotestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Typed rejection errors; handlers map these onto failure envelopes.
var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrMissingRecordID   = errors.New("record id is required")
	ErrBadPayload        = errors.New("bad payload")
)

// Service applies record mutations to the Postgres store. Replays are
// last-writer-wins: creates and updates both upsert, deletes are idempotent,
// so a client retrying an already-applied operation converges instead of
// erroring.
type Service struct {
	pool        *pgxpool.Pool
	logger      *slog.Logger
	knownStores map[string]bool
}

// ServiceConfig holds configuration for the record store service.
type ServiceConfig struct {
	// EntityTypes lists the store names accepted by the mutation API.
	EntityTypes []string
}

// NewService creates the service and initializes its schema idempotently.
func NewService(ctx context.Context, pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil || len(config.EntityTypes) == 0 {
		return nil, errors.New("config.EntityTypes must list the accepted entity types")
	}

	s := &Service{
		pool:        pool,
		logger:      logger,
		knownStores: make(map[string]bool, len(config.EntityTypes)),
	}
	for _, name := range config.EntityTypes {
		s.knownStores[strings.ToLower(name)] = true
	}

	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize record store schema: %w", err)
	}
	logger.Debug("Record store schema initialized")

	return s, nil
}

func (s *Service) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS health_records (
			store_name TEXT        NOT NULL,
			record_id  TEXT        NOT NULL,
			payload    JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_by TEXT        NOT NULL,
			PRIMARY KEY (store_name, record_id)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS record_audit_log (
			audit_id   BIGSERIAL PRIMARY KEY,
			store_name TEXT        NOT NULL,
			record_id  TEXT        NOT NULL,
			op         TEXT        NOT NULL CHECK (op IN ('CREATE','UPDATE','DELETE')),
			actor      TEXT        NOT NULL,
			source_id  TEXT        NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS idx_record_audit_applied_at
			ON record_audit_log (applied_at)`,
	}
	for _, m := range migrations {
		if _, err := tx.Exec(ctx, m); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}

// KnownEntityType reports whether the service accepts mutations for the
// given entity type.
func (s *Service) KnownEntityType(entityType string) bool {
	return s.knownStores[strings.ToLower(entityType)]
}

// ApplyCreate upserts a new record. The record id is read from the payload's
// "id" field, matching what the offline client stored locally.
func (s *Service) ApplyCreate(ctx context.Context, actor, sourceID, entityType string, data json.RawMessage) (string, error) {
	if !s.KnownEntityType(entityType) {
		return "", fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	id, err := recordIDFromPayload(data)
	if err != nil {
		return "", err
	}
	if err := s.upsert(ctx, actor, sourceID, entityType, id, data, "CREATE"); err != nil {
		return "", err
	}
	return id, nil
}

// ApplyUpdate upserts the record with the given id. Updating a record the
// server has never seen still succeeds (the client's CREATE may have been
// applied on an earlier retry whose response was lost).
func (s *Service) ApplyUpdate(ctx context.Context, actor, sourceID, entityType, id string, data json.RawMessage) error {
	if !s.KnownEntityType(entityType) {
		return fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	if id == "" {
		return ErrMissingRecordID
	}
	if len(data) == 0 || !json.Valid(data) {
		return fmt.Errorf("%w: update payload must be valid JSON", ErrBadPayload)
	}
	return s.upsert(ctx, actor, sourceID, entityType, id, data, "UPDATE")
}

// ApplyDelete removes the record. Deleting an absent record succeeds so
// replayed deletes stay idempotent.
func (s *Service) ApplyDelete(ctx context.Context, actor, sourceID, entityType, id string) error {
	if !s.KnownEntityType(entityType) {
		return fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	if id == "" {
		return ErrMissingRecordID
	}
	store := strings.ToLower(entityType)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, /*language=postgresql*/ `
			DELETE FROM health_records WHERE store_name = $1 AND record_id = $2
		`, store, id); err != nil {
			return fmt.Errorf("failed to delete %s.%s: %w", store, id, err)
		}
		return s.audit(ctx, tx, store, id, "DELETE", actor, sourceID)
	})
}

func (s *Service) upsert(ctx context.Context, actor, sourceID, entityType, id string, data json.RawMessage, op string) error {
	store := strings.ToLower(entityType)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, /*language=postgresql*/ `
			INSERT INTO health_records (store_name, record_id, payload, updated_at, updated_by)
			VALUES ($1, $2, $3, now(), $4)
			ON CONFLICT (store_name, record_id)
			DO UPDATE SET payload = EXCLUDED.payload,
			              updated_at = now(),
			              updated_by = EXCLUDED.updated_by
		`, store, id, data, actor); err != nil {
			return fmt.Errorf("failed to upsert %s.%s: %w", store, id, err)
		}
		return s.audit(ctx, tx, store, id, op, actor, sourceID)
	})
}

func (s *Service) audit(ctx context.Context, tx pgx.Tx, store, id, op, actor, sourceID string) error {
	if _, err := tx.Exec(ctx, /*language=postgresql*/ `
		INSERT INTO record_audit_log (store_name, record_id, op, actor, source_id)
		VALUES ($1, $2, $3, $4, $5)
	`, store, id, op, actor, sourceID); err != nil {
		return fmt.Errorf("failed to write audit row: %w", err)
	}
	return nil
}

// PurgeAuditBefore deletes audit rows older than cutoff and returns how many
// were removed. Used by the retention janitor.
func (s *Service) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, /*language=postgresql*/ `
		DELETE FROM record_audit_log WHERE applied_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit log: %w", err)
	}
	return tag.RowsAffected(), nil
}

func recordIDFromPayload(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: create payload is required", ErrBadPayload)
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if probe.ID == "" {
		return "", fmt.Errorf("%w: create payload has no id field", ErrBadPayload)
	}
	return probe.ID, nil
}
