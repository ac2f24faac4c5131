// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package remote

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remoteCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfsync_remote_calls_total",
		Help: "Remote store calls by backend, operation and result",
	}, []string{"backend", "op", "result"})

	remoteCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shelfsync_remote_call_duration_seconds",
		Help:    "Remote store call latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"backend", "op"})

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shelfsync_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	CircuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfsync_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"name", "from", "to"})

	CircuitBreakerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfsync_circuit_breaker_requests_total",
		Help: "Requests through the circuit breaker by result",
	}, []string{"name", "result"})

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shelfsync_circuit_breaker_consecutive_failures",
		Help: "Consecutive failures seen by the circuit breaker",
	}, []string{"name"})
)

func recordCall(backend, op string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrConflict):
		result = "conflict"
	case errors.Is(err, ErrRejected):
		result = "rejected"
	default:
		result = "error"
	}
	remoteCallsTotal.WithLabelValues(backend, op, result).Inc()
	remoteCallDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
