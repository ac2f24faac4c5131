// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	drainCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_drain_cycles_total",
			Help: "Drain cycles by result (success, partial, busy, offline, error)",
		},
		[]string{"result"},
	)

	drainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfsync_drain_duration_seconds",
			Help:    "Duration of completed drain cycles",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)

	syncingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfsync_drain_in_progress",
			Help: "Whether a drain cycle is running (1) or not (0)",
		},
	)

	opsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_sync_operations_applied_total",
			Help: "Outbox operations accepted by the remote store, by type",
		},
		[]string{"type"},
	)

	opsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_sync_operations_failed_total",
			Help: "Outbox operations that failed to sync, by type and error class",
		},
		[]string{"type", "class"},
	)

	opsDeferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfsync_sync_operations_deferred_total",
			Help: "Operations deferred to a later pass because they reference unsynced temp ids",
		},
	)

	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfsync_sync_batch_size",
			Help:    "Operations coalesced into one multi-path remote write",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	reconciledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfsync_tempid_reconciled_total",
			Help: "Temp ids replaced by server ids",
		},
	)

	directWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_direct_writes_total",
			Help: "Mutations written straight to the remote store, by type and result",
		},
		[]string{"type", "result"},
	)

	fullUploadEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfsync_full_upload_operations_total",
			Help: "Operations enqueued by forced full uploads",
		},
	)

	pullsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_bulk_pulls_total",
			Help: "Bulk subtree pulls by subtree and result",
		},
		[]string{"subtree", "result"},
	)

	liveDiffActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfsync_livediff_active",
			Help: "Whether live-diff subscriptions are running (1) or not (0)",
		},
	)

	liveDiffChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_livediff_changes_total",
			Help: "Remote changes observed by live-diff, by subtree and change kind",
		},
		[]string{"subtree", "change"},
	)

	runnerBackoffSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfsync_sync_runner_next_delay_seconds",
			Help: "Delay before the sync runner's next scheduled cycle",
		},
	)
)
