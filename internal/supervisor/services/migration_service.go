// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package services

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/migration"
)

// JobRunner is satisfied by *migration.Runner.
type JobRunner interface {
	Run(ctx context.Context, job migration.Job) (migration.JobResult, error)
}

// Connectivity reports whether the remote store is reachable.
type Connectivity interface {
	HasConnectivity() bool
}

// MigrationService runs maintenance jobs whenever the device is online,
// retrying jobs that were deferred or failed, and stops for good once all
// of them have completed.
type MigrationService struct {
	runner   JobRunner
	conn     Connectivity
	jobs     []migration.Job
	interval time.Duration
	name     string
}

// NewMigrationService creates the service. interval is the retry period
// for deferred or failed jobs (default 1m).
func NewMigrationService(runner JobRunner, conn Connectivity, interval time.Duration, jobs ...migration.Job) *MigrationService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MigrationService{
		runner:   runner,
		conn:     conn,
		jobs:     jobs,
		interval: interval,
		name:     "migration-runner",
	}
}

// Serve implements suture.Service.
func (m *MigrationService) Serve(ctx context.Context) error {
	pending := append([]migration.Job(nil), m.jobs...)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if m.conn == nil || m.conn.HasConnectivity() {
			pending = m.runPending(ctx, pending)
		}
		if len(pending) == 0 {
			logging.Info().Msg("All migrations complete")
			return suture.ErrDoNotRestart
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runPending runs each job once and returns the ones still outstanding.
func (m *MigrationService) runPending(ctx context.Context, jobs []migration.Job) []migration.Job {
	var remaining []migration.Job
	for _, job := range jobs {
		if ctx.Err() != nil {
			return append(remaining, job)
		}
		res, err := m.runner.Run(ctx, job)
		if err != nil {
			logging.Warn().Err(err).Str("job", job.Name()).Msg("Migration failed, will retry")
			remaining = append(remaining, job)
			continue
		}
		if res.Deferred {
			remaining = append(remaining, job)
		}
	}
	return remaining
}

// String implements fmt.Stringer.
func (m *MigrationService) String() string {
	return m.name
}
