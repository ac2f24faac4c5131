// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/outbox"
)

// HealthStatus is the body of GET /api/v1/health.
type HealthStatus struct {
	Status       string     `json:"status"`
	Online       bool       `json:"online"`
	PendingCount int        `json:"pendingCount"`
	FailedCount  int        `json:"failedCount"`
	LastSync     *time.Time `json:"lastSync,omitempty"`
	Uptime       float64    `json:"uptime"`
}

// Health reports process health. The daemon is healthy while its local
// store answers; being offline is normal operation, not degradation.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status: "healthy",
		Uptime: time.Since(h.startTime).Seconds(),
	}
	st, err := h.engine.Status(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Health check could not read sync status")
		health.Status = "degraded"
	} else {
		health.Online = st.Online
		health.PendingCount = st.PendingCount
		health.FailedCount = st.FailedCount
		health.LastSync = st.LastSync
	}
	NewResponseWriter(w, r).Success(health)
}

// SyncStatus returns the current sync status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(st)
}

// SyncDrain pushes the outbox now and returns the drain report.
func (h *Handler) SyncDrain(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.Drain(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(rep)
}

// SyncFullUpload re-queues every cached document for upload.
func (h *Handler) SyncFullUpload(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.ForceFullUpload(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(map[string]int{"queued": n})
}

// OutboxList returns every queued operation in queue order. ?status=
// restricts the list to one status.
func (h *Handler) OutboxList(w http.ResponseWriter, r *http.Request) {
	ops, err := h.outbox.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if want := outbox.Status(r.URL.Query().Get("status")); want != "" {
		filtered := ops[:0]
		for _, op := range ops {
			if op.Status == want {
				filtered = append(filtered, op)
			}
		}
		ops = filtered
	}
	if ops == nil {
		ops = []*outbox.Operation{}
	}
	NewResponseWriter(w, r).SuccessList(ops, len(ops))
}
