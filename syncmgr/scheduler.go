// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package syncmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler drives the engine without user action: a periodic timer with a
// reachability pre-check, plus an immediate trigger for network-recovery
// events. While the remote is unreachable the probe interval backs off
// exponentially and resets to the base interval after a successful pass, so
// a long outage does not burn retries or battery.
type Scheduler struct {
	engine *Engine
	coord  *Coordinator
	logger *slog.Logger

	// BackoffMax caps the offline probe interval. Zero means 16x the base
	// interval.
	BackoffMax time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}
}

// NewScheduler creates a scheduler for the given engine.
func NewScheduler(engine *Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine: engine,
		coord:  engine.coord,
		logger: logger,
	}
}

// Start begins background scheduling with the given base interval. Calling
// Start while running restarts the loop (the previous timer is cancelled
// first). One pass is triggered immediately.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.kick = make(chan struct{}, 1)
	kick := s.kick
	done := s.done
	s.mu.Unlock()

	go s.run(runCtx, interval, kick, done)
}

// Stop cancels the timer and the reconnect trigger. It does not abort a pass
// already running; it only prevents future ones. Safe to call when not
// started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.kick = nil
}

// NotifyOnline signals that network connectivity was regained. The next pass
// runs immediately, independent of the timer. Signals arriving during an
// active pass coalesce.
func (s *Scheduler) NotifyOnline() {
	s.trigger()
}

// TriggerSync requests a manual "sync now" pass.
func (s *Scheduler) TriggerSync() {
	s.trigger()
}

func (s *Scheduler) trigger() {
	s.mu.Lock()
	kick := s.kick
	s.mu.Unlock()
	if kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration, kick chan struct{}, done chan struct{}) {
	defer close(done)

	backoffMax := s.BackoffMax
	if backoffMax <= 0 {
		backoffMax = 16 * interval
	}

	// Immediate first pass, no health pre-check.
	if _, err := s.engine.ProcessSyncQueue(ctx); err != nil {
		s.logger.Warn("Initial sync pass failed", "error", err)
	}

	wait := interval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		if err := s.engine.remote.CheckHealth(ctx); err != nil {
			// Known outage: report offline without spending retry counts on
			// queued operations.
			s.setOffline(ctx)
			wait = wait * 2
			if wait > backoffMax {
				wait = backoffMax
			}
			s.logger.Debug("Remote unreachable, backing off", "next_probe", wait, "error", err)
			timer.Reset(wait)
			continue
		}

		if _, err := s.engine.ProcessSyncQueue(ctx); err != nil {
			s.logger.Warn("Scheduled sync pass failed", "error", err)
		} else if parked, perr := s.engine.ParkedOperations(ctx); perr == nil && len(parked) > 0 {
			s.logger.Warn("Operations parked at retry ceiling", "count", len(parked))
		}

		wait = interval
		timer.Reset(wait)
	}
}

func (s *Scheduler) setOffline(ctx context.Context) {
	pending, err := s.engine.db.PendingCount(ctx)
	if err != nil {
		s.logger.Error("Failed to count pending operations", "error", err)
		pending = s.coord.State().PendingCount
	}
	s.coord.set(StatusOffline, pending)
}
