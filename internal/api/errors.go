// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/shelfsync/internal/inventory"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
	"github.com/tomtom215/shelfsync/internal/suggestions"
	"github.com/tomtom215/shelfsync/internal/syncengine"
	"github.com/tomtom215/shelfsync/internal/validation"
)

// writeServiceError maps errors from the sync layers to responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rw := NewResponseWriter(w, r)

	var verr *validation.Error
	var rejected *remote.RejectedError
	switch {
	case errors.As(err, &verr):
		rw.ValidationError("validation failed", verr.Fields)
	case errors.Is(err, mutation.ErrUnknownType),
		errors.Is(err, mutation.ErrFieldNotWritable),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, remote.ErrInvalidPath),
		errors.Is(err, store.ErrInvalidName):
		rw.BadRequest(err.Error())
	case errors.Is(err, inventory.ErrItemNotFound),
		errors.Is(err, mutation.ErrTargetMissing),
		errors.Is(err, store.ErrNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, suggestions.ErrDuplicateSuggestion):
		rw.Conflict(ErrCodeDuplicate, err.Error())
	case errors.Is(err, syncengine.ErrAlreadySyncing):
		rw.Conflict(ErrCodeConflict, err.Error())
	case errors.Is(err, syncengine.ErrOffline),
		errors.Is(err, remote.ErrUnavailable):
		rw.ServiceUnavailable(err.Error())
	case errors.As(err, &rejected):
		rw.Error(http.StatusUnprocessableEntity, ErrCodeRemoteRejected, rejected.Reason)
	default:
		rw.InternalError(err)
	}
}
