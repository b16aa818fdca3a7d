// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package syncmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wabiifour-tech/runhealthcentre-sub000/offlinedb"
)

// stubRemote is a RemoteStore driven by per-call function fields. Calls are
// recorded so tests can assert replay order.
type stubRemote struct {
	mu    sync.Mutex
	calls []string

	createFn func(entityType string, data json.RawMessage) error
	updateFn func(entityType, id string, data json.RawMessage) error
	deleteFn func(entityType, id string) error
	healthFn func() error
}

func (s *stubRemote) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *stubRemote) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubRemote) CreateRecord(_ context.Context, entityType string, data json.RawMessage) error {
	s.record(fmt.Sprintf("CREATE %s", entityType))
	if s.createFn != nil {
		return s.createFn(entityType, data)
	}
	return nil
}

func (s *stubRemote) UpdateRecord(_ context.Context, entityType, id string, data json.RawMessage) error {
	s.record(fmt.Sprintf("UPDATE %s/%s", entityType, id))
	if s.updateFn != nil {
		return s.updateFn(entityType, id, data)
	}
	return nil
}

func (s *stubRemote) DeleteRecord(_ context.Context, entityType, id string) error {
	s.record(fmt.Sprintf("DELETE %s/%s", entityType, id))
	if s.deleteFn != nil {
		return s.deleteFn(entityType, id)
	}
	return nil
}

func (s *stubRemote) CheckHealth(context.Context) error {
	if s.healthFn != nil {
		return s.healthFn()
	}
	return nil
}

func openTestDB(t *testing.T) *offlinedb.Database {
	t.Helper()
	db, err := offlinedb.Open(filepath.Join(t.TempDir(), "local.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProcessSyncQueueDrainsInOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	remote := &stubRemote{}
	coord := NewCoordinator(nil)
	engine := NewEngine(db, remote, coord, nil)

	// CREATE, UPDATE then DELETE of the same entity must replay as three
	// remote calls in enqueue order.
	_, err := db.Enqueue(ctx, offlinedb.SyncOperation{Type: offlinedb.OpCreate, Store: offlinedb.StorePatients, EntityID: "5", Payload: []byte(`{"id":"5"}`)})
	require.NoError(t, err)
	_, err = db.Enqueue(ctx, offlinedb.SyncOperation{Type: offlinedb.OpUpdate, Store: offlinedb.StorePatients, EntityID: "5", Payload: []byte(`{"id":"5","name":"Amina"}`)})
	require.NoError(t, err)
	_, err = db.Enqueue(ctx, offlinedb.SyncOperation{Type: offlinedb.OpDelete, Store: offlinedb.StorePatients, EntityID: "5"})
	require.NoError(t, err)

	res, err := engine.ProcessSyncQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Processed)
	require.Zero(t, res.Failed)

	require.Equal(t, []string{
		"CREATE patients",
		"UPDATE patients/5",
		"DELETE patients/5",
	}, remote.Calls())

	n, err := db.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	state := coord.State()
	require.Equal(t, StatusSynced, state.Status)
	require.Zero(t, state.PendingCount)
	require.False(t, state.LastSyncTime.IsZero())
}

func TestProcessSyncQueueEmptyQueue(t *testing.T) {
	db := openTestDB(t)
	coord := NewCoordinator(nil)
	engine := NewEngine(db, &stubRemote{}, coord, nil)

	res, err := engine.ProcessSyncQueue(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Processed)
	require.Equal(t, StatusSynced, coord.State().Status)

	meta, err := db.LoadSyncMetadata(context.Background())
	require.NoError(t, err)
	require.Equal(t, offlinedb.OutcomeSuccess, meta.LastOutcome)
}

func TestFailedReplayIncrementsRetryAndKeepsOperation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	remote := &stubRemote{
		createFn: func(string, json.RawMessage) error {
			return &NetworkError{Err: errors.New("connection refused")}
		},
	}
	coord := NewCoordinator(nil)
	engine := NewEngine(db, remote, coord, nil)

	op, err := db.Enqueue(ctx, offlinedb.SyncOperation{Type: offlinedb.OpCreate, Store: offlinedb.StoreVitals, EntityID: "v1", Payload: []byte(`{}`)})
	require.NoError(t, err)

	res, err := engine.ProcessSyncQueue(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Processed)
	require.Equal(t, 1, res.Failed)

	ops, err := db.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, op.ID, ops[0].ID)
	require.Equal(t, 1, ops[0].RetryCount)
	require.Contains(t, ops[0].LastError, "connection refused")

	// No progress at all: effectively unreachable.
	require.Equal(t, StatusOffline, coord.State().Status)

	meta, err := db.LoadSyncMetadata(ctx)
	require.NoError(t, err)
	require.Equal(t, offlinedb.OutcomeFailed, meta.LastOutcome)
	require.Equal(t, 1, meta.FailedCount)
}

func TestOneFailureDoesNotAbortThePass(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	remote := &stubRemote{
		updateFn: func(string, string, json.RawMessage) error {
			return &RemoteRejectedError{StatusCode: 422, Reason: "validation failed"}
		},
	}
	coord := NewCoordinator(nil)
	engine := NewEngine(db, remote, coord, nil)

	_, err := db.Enqueue(ctx, offlinedb.SyncOperation{Type: offlinedb.OpCreate, Store: offlinedb.StorePatients, EntityID: "a", Payload: []byte(`{}`)})
	require.NoError(t, err)
	_, err = db.Enqueue(ctx, offlinedb.SyncOperation{Type: offlinedb.OpUpdate, Store: offlinedb.StorePatients, EntityID: "b", Payload: []byte(`{}`)})
	require.NoError(t, err)
	_, err = db.Enqueue(ctx, offlinedb.SyncOperation{Type: offlinedb.OpDelete, Store: offlinedb.StorePatients, EntityID: "c"})
	require.NoError(t, err)

	res, err := engine.ProcessSyncQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 1, res.Failed)

	// Partial progress with leftovers: pending, not offline.
	state := coord.State()
	require.Equal(t, StatusPending, state.Status)
	require.Equal(t, 1, state.PendingCount)

	meta, err := db.LoadSyncMetadata(ctx)
	require.NoError(t, err)
	require.Equal(t, offlinedb.OutcomePartial, meta.LastOutcome)
}

func TestParkedOperationSkippedWithoutNetworkCall(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	remote := &stubRemote{}
	coord := NewCoordinator(nil)
	engine := NewEngine(db, remote, coord, nil)

	op, err := db.Enqueue(ctx, offlinedb.SyncOperation{Type: offlinedb.OpCreate, Store: offlinedb.StorePatients, EntityID: "p1", Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.NoError(t, db.UpdateOperationRetry(ctx, op.ID, DefaultMaxRetries, "gave up"))

	res, err := engine.ProcessSyncQueue(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Processed)
	require.Equal(t, 1, res.Failed)
	require.Empty(t, remote.Calls())

	// Parked means retained, not dropped.
	parked, err := engine.ParkedOperations(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	require.Equal(t, op.ID, parked[0].ID)
	require.Equal(t, "gave up", parked[0].LastError)
}

func TestRetryCeilingReachedAfterFiveFailures(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	remote := &stubRemote{
		createFn: func(string, json.RawMessage) error { return errors.New("still down") },
	}
	engine := NewEngine(db, remote, NewCoordinator(nil), nil)

	_, err := db.Enqueue(ctx, offlinedb.SyncOperation{Type: offlinedb.OpCreate, Store: offlinedb.StorePatients, EntityID: "p1", Payload: []byte(`{}`)})
	require.NoError(t, err)

	for i := 0; i < DefaultMaxRetries; i++ {
		_, err := engine.ProcessSyncQueue(ctx)
		require.NoError(t, err)
	}
	require.Len(t, remote.Calls(), DefaultMaxRetries)

	// The sixth pass must not attempt it again.
	_, err = engine.ProcessSyncQueue(ctx)
	require.NoError(t, err)
	require.Len(t, remote.Calls(), DefaultMaxRetries)

	parked, err := engine.ParkedOperations(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	require.Equal(t, DefaultMaxRetries, parked[0].RetryCount)
}

func TestConcurrentPassCoalescesToNoOp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	remote := &stubRemote{
		createFn: func(string, json.RawMessage) error {
			close(started)
			<-release
			return nil
		},
	}
	coord := NewCoordinator(nil)
	engine := NewEngine(db, remote, coord, nil)

	_, err := db.Enqueue(ctx, offlinedb.SyncOperation{Type: offlinedb.OpCreate, Store: offlinedb.StorePatients, EntityID: "p1", Payload: []byte(`{}`)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = engine.ProcessSyncQueue(ctx)
	}()

	<-started
	// Second pass while the first is blocked inside the remote call.
	res, err := engine.ProcessSyncQueue(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Processed)
	require.Zero(t, res.Failed)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)

	require.Len(t, remote.Calls(), 1)
}
