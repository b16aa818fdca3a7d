// Package syncmgr reconciles the local offline database with the remote
// record store. It replays the pending mutation queue over HTTP, tracks
// per-operation retry state, and publishes a consolidated sync status for
// the rest of the application.
//
// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package syncmgr

import (
	"log/slog"
	"sync"
	"time"
)

// SyncStatus is the aggregate state shown to status consumers.
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusSyncing SyncStatus = "syncing"
	StatusPending SyncStatus = "pending"
	StatusOffline SyncStatus = "offline"
	StatusError   SyncStatus = "error"
)

// State is a snapshot of the coordinator, delivered to subscribers. It is a
// projection rebuilt from the queue's actual contents on every pass, never a
// source of truth.
type State struct {
	Status       SyncStatus
	PendingCount int
	LastSyncTime time.Time
}

// Coordinator owns the process-wide sync state: current status, pending
// count, the single-pass guard, and the subscriber list. It is an explicit
// injectable object so independent instances (e.g. in tests) cannot
// cross-contaminate.
type Coordinator struct {
	mu         sync.Mutex
	state      State
	inProgress bool
	nextSubID  int
	subs       map[int]func(State)
	logger     *slog.Logger
}

// NewCoordinator creates a coordinator in the initial synced state.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		state:  State{Status: StatusSynced},
		subs:   make(map[int]func(State)),
		logger: logger,
	}
}

// State returns the current snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers cb, invokes it immediately with the current state, and
// returns an unsubscribe function. Every status transition notifies all
// subscribers.
func (c *Coordinator) Subscribe(cb func(State)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = cb
	state := c.state
	c.mu.Unlock()

	cb(state)

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// beginPass claims the single-pass guard. It returns false when a pass is
// already in flight so the caller coalesces into a no-op.
func (c *Coordinator) beginPass() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inProgress {
		return false
	}
	c.inProgress = true
	return true
}

func (c *Coordinator) endPass() {
	c.mu.Lock()
	c.inProgress = false
	c.mu.Unlock()
}

// set updates status and pending count and notifies subscribers. Callbacks
// run outside the lock so a subscriber may call back into the coordinator.
func (c *Coordinator) set(status SyncStatus, pendingCount int) {
	c.mu.Lock()
	c.state.Status = status
	c.state.PendingCount = pendingCount
	state := c.state
	cbs := c.snapshotSubs()
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(state)
	}
}

// finishPass records the end of a reconciliation pass.
func (c *Coordinator) finishPass(status SyncStatus, pendingCount int, syncedAt time.Time) {
	c.mu.Lock()
	c.state.Status = status
	c.state.PendingCount = pendingCount
	c.state.LastSyncTime = syncedAt
	state := c.state
	cbs := c.snapshotSubs()
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(state)
	}
}

// noteEnqueued is called by the binding layer after a mutation is queued.
// The status leaves synced as soon as there is pending work.
func (c *Coordinator) noteEnqueued(pendingCount int) {
	c.mu.Lock()
	c.state.PendingCount = pendingCount
	if c.state.Status == StatusSynced {
		c.state.Status = StatusPending
	}
	state := c.state
	cbs := c.snapshotSubs()
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(state)
	}
}

func (c *Coordinator) snapshotSubs() []func(State) {
	cbs := make([]func(State), 0, len(c.subs))
	for _, cb := range c.subs {
		cbs = append(cbs, cb)
	}
	return cbs
}
