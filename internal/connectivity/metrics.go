// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package connectivity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfsync_connectivity_online",
			Help: "Whether the remote store is reachable (1) or not (0)",
		},
	)

	connectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_connectivity_transitions_total",
			Help: "Connectivity transitions by new state",
		},
		[]string{"state"},
	)
)
