// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/shelfsync/internal/inventory"
	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/outbox"
	"github.com/tomtom215/shelfsync/internal/syncengine"
	ws "github.com/tomtom215/shelfsync/internal/websocket"
)

// SyncEngine is the part of *syncengine.Engine the handlers call.
type SyncEngine interface {
	Status(ctx context.Context) (syncengine.Status, error)
	Drain(ctx context.Context) (syncengine.DrainReport, error)
	ForceFullUpload(ctx context.Context) (int, error)
	EnqueueOrApply(ctx context.Context, m mutation.Mutation) (syncengine.Result, error)
}

// OutboxReader lists queued operations.
type OutboxReader interface {
	List(ctx context.Context) ([]*outbox.Operation, error)
}

// StockService is satisfied by *inventory.Reconciler.
type StockService interface {
	Apply(ctx context.Context, action mutation.StockAction, req inventory.Request) (inventory.Change, error)
}

// SuggestionService is satisfied by *suggestions.Service.
type SuggestionService interface {
	Submit(ctx context.Context, sg mutation.Suggestion) (syncengine.Result, error)
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	engine      SyncEngine
	outbox      OutboxReader
	stock       StockService
	suggestions SuggestionService
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	origins     []string
	startTime   time.Time
}

// Deps groups the handler dependencies. Hub may be nil, in which case the
// websocket route answers 503.
type Deps struct {
	Engine      SyncEngine
	Outbox      OutboxReader
	Stock       StockService
	Suggestions SuggestionService
	Hub         *ws.Hub

	// AllowedOrigins are accepted for websocket upgrades; "*" allows all.
	AllowedOrigins []string
}

// NewHandler creates the handler set.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		engine:      d.Engine,
		outbox:      d.Outbox,
		stock:       d.Stock,
		suggestions: d.Suggestions,
		hub:         d.Hub,
		origins:     d.AllowedOrigins,
		startTime:   time.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkWebSocketOrigin accepts clients without an Origin header (devices
// and tools on the local network) and browsers from an allowed origin.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected: origin not allowed")
	return false
}

// SyncWebSocket upgrades the connection and registers it with the hub.
func (h *Handler) SyncWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		NewResponseWriter(w, r).ServiceUnavailable("websocket hub not running")
		return
	}
	// Upgrade writes its own error response on failure.
	if err := ws.Serve(h.hub, &h.upgrader, w, r); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("WebSocket connection not established")
	}
}
