// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

/*
Package api is the HTTP boundary of the sync daemon.

Routes are served by a chi router with go-chi/cors and go-chi/httprate:

	GET  /api/v1/health             liveness plus connectivity and outbox counts
	GET  /api/v1/sync/status        current sync status
	POST /api/v1/sync/drain         push the outbox now (409 busy, 503 offline)
	POST /api/v1/sync/full-upload   re-queue every cached document
	GET  /api/v1/outbox             queued operations in order
	POST /api/v1/mutations          {type, data}: any registered mutation
	POST /api/v1/inventory/{id}/stock
	POST /api/v1/suggestions        409 on a pending duplicate
	GET  /api/v1/sync/ws            websocket: status updates and stock alerts
	GET  /metrics                   Prometheus

Every JSON response uses the APIResponse envelope. Errors from the sync
layers are mapped to status codes in one place (writeServiceError).
*/
package api
