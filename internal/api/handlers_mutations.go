// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/inventory"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/syncengine"
	"github.com/tomtom215/shelfsync/internal/validation"
)

// MutationRequest is the body of POST /api/v1/mutations. Type is an
// operation type such as "inventory.update"; Data is its payload.
type MutationRequest struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data" validate:"required"`
}

// StockRequest is the body of POST /api/v1/inventory/{id}/stock.
type StockRequest struct {
	Action   string `json:"action" validate:"required,oneof=add remove set"`
	Quantity int    `json:"quantity" validate:"gte=0"`
	Reason   string `json:"reason,omitempty" validate:"max=500"`
	Actor    string `json:"actor,omitempty" validate:"max=200"`
}

// Mutate decodes and performs any registered mutation. The response is 202
// when the mutation was queued for sync and 200 when it reached the remote
// store directly.
func (h *Handler) Mutate(w http.ResponseWriter, r *http.Request) {
	var req MutationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		NewResponseWriter(w, r).BadRequest("invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	m, err := mutation.Decode(req.Type, req.Data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := h.engine.EnqueueOrApply(r.Context(), m)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeResult(w, r, res, res)
}

// AdjustStock adds, removes or sets an item's quantity.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	if !validation.IsEntityID(itemID) {
		NewResponseWriter(w, r).BadRequest("invalid item id")
		return
	}
	var req StockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		NewResponseWriter(w, r).BadRequest("invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	change, err := h.stock.Apply(r.Context(), mutation.StockAction(req.Action), inventory.Request{
		ItemID:   itemID,
		Quantity: req.Quantity,
		Reason:   req.Reason,
		Actor:    req.Actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeResult(w, r, change.Result, change)
}

// SubmitSuggestion creates a pending suggestion.
func (h *Handler) SubmitSuggestion(w http.ResponseWriter, r *http.Request) {
	var sg mutation.Suggestion
	if err := decodeJSON(w, r, &sg); err != nil {
		NewResponseWriter(w, r).BadRequest("invalid request body")
		return
	}
	res, err := h.suggestions.Submit(r.Context(), sg)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeResult(w, r, res, res)
}

func writeResult(w http.ResponseWriter, r *http.Request, res syncengine.Result, body interface{}) {
	if res.Queued {
		NewResponseWriter(w, r).Accepted(body)
		return
	}
	NewResponseWriter(w, r).Success(body)
}
