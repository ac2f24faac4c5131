// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outboxEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfsync_outbox_enqueued_total",
		Help: "Operations appended to the outbox, by operation type",
	}, []string{"type"})

	outboxRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shelfsync_outbox_removed_total",
		Help: "Operations removed from the outbox after remote acceptance",
	})

	outboxTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfsync_outbox_transitions_total",
		Help: "Outbox status transitions",
	}, []string{"from", "to"})

	outboxRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shelfsync_outbox_retries_total",
		Help: "Transitions into failed (each one is a retry to come)",
	})

	outboxOutstanding = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shelfsync_outbox_outstanding",
		Help: "Outstanding outbox operations by status",
	}, []string{"status"})
)

// RecordEnqueue records a new outbox operation.
func RecordEnqueue(opType string) {
	outboxEnqueuedTotal.WithLabelValues(opType).Inc()
}

// RecordRemove records an operation leaving the outbox.
func RecordRemove() {
	outboxRemovedTotal.Inc()
}

// RecordTransition records a status transition.
func RecordTransition(from, to Status) {
	outboxTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	if to == StatusFailed {
		outboxRetriesTotal.Inc()
	}
}

// UpdateOutstanding publishes per-status gauges.
func UpdateOutstanding(c Counts) {
	outboxOutstanding.WithLabelValues(string(StatusPending)).Set(float64(c.Pending))
	outboxOutstanding.WithLabelValues(string(StatusSyncing)).Set(float64(c.Syncing))
	outboxOutstanding.WithLabelValues(string(StatusFailed)).Set(float64(c.Failed))
}
