// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	adjustmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_stock_adjustments_total",
			Help: "Stock changes by action and result (applied, queued, error)",
		},
		[]string{"action", "result"},
	)

	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsync_stock_alerts_total",
			Help: "Stock threshold alerts raised, by band",
		},
		[]string{"band"},
	)

	alertPublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfsync_stock_alert_publish_failures_total",
			Help: "Stock alerts that could not be published",
		},
	)

	saleLineFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfsync_sale_stock_deduction_failures_total",
			Help: "Sale line items whose stock deduction failed",
		},
	)
)
