// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package migration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_migration_lock_operations_total",
			Help: "Migration lock operations by operation and result",
		},
		[]string{"op", "result"},
	)

	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_migration_runs_total",
			Help: "Migration job runs by job and outcome (completed, already_done, deferred, error)",
		},
		[]string{"job", "result"},
	)

	stepsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_migration_steps_completed_total",
			Help: "Migration steps completed and logged",
		},
		[]string{"job"},
	)
)
