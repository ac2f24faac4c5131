// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clientsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfsync_websocket_clients",
			Help: "Connected websocket clients",
		},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_websocket_broadcasts_total",
			Help: "Messages broadcast to websocket clients, by message type",
		},
		[]string{"type"},
	)

	droppedClientsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfsync_websocket_dropped_clients_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)
)
