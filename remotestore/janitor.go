// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package remotestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically purges audit-log rows older than the retention
// window.
type Janitor struct {
	service   *Service
	retention time.Duration
	schedule  string
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewJanitor creates a janitor running on the given cron schedule
// (e.g. "0 3 * * *" for daily at 03:00).
func NewJanitor(service *Service, schedule string, retention time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		service:   service,
		retention: retention,
		schedule:  schedule,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules the purge job and starts the cron runner.
func (jn *Janitor) Start() error {
	if jn.retention <= 0 {
		jn.logger.Info("Audit retention disabled, janitor not started")
		return nil
	}
	if _, err := jn.cron.AddFunc(jn.schedule, jn.purge); err != nil {
		return fmt.Errorf("failed to schedule audit purge: %w", err)
	}
	jn.cron.Start()
	jn.logger.Info("Audit janitor started", "schedule", jn.schedule, "retention", jn.retention)
	return nil
}

// Stop stops the cron runner. A purge already running finishes.
func (jn *Janitor) Stop() {
	jn.cron.Stop()
	jn.logger.Info("Audit janitor stopped")
}

func (jn *Janitor) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-jn.retention)
	removed, err := jn.service.PurgeAuditBefore(ctx, cutoff)
	if err != nil {
		jn.logger.Error("Audit purge failed", "error", err)
		return
	}
	jn.logger.Info("Audit purge complete", "removed", removed, "cutoff", cutoff)
}
