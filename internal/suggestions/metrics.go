// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package suggestions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_suggestions_submitted_total",
			Help: "Suggestions accepted, by suggestion type",
		},
		[]string{"type"},
	)

	duplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfsync_suggestions_duplicates_total",
			Help: "Suggestions rejected as duplicates of a pending one",
		},
	)
)
