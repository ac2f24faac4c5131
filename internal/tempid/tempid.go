// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package tempid generates local identifiers for entities created offline
// and swaps them for server ids once their create is accepted remotely.
package tempid

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/outbox"
	"github.com/tomtom215/shelfsync/internal/store"
)

// Prefix marks temp ids. Server push ids never contain it: they are 20
// characters of a time-ordered alphabet starting with a timestamp.
const Prefix = "temp_"

// Generate returns temp_<unix millis>_<16 hex chars of a random UUID>.
func Generate() string {
	return generateAt(time.Now())
}

func generateAt(now time.Time) string {
	u := uuid.New()
	return Prefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + hex.EncodeToString(u[8:])
}

// IsTemp reports whether id is a locally generated temp id.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, Prefix)
}

// AnyTemp reports whether any of ids is a temp id.
func AnyTemp(ids []string) bool {
	for _, id := range ids {
		if IsTemp(id) {
			return true
		}
	}
	return false
}

// Reconciler rewrites temp ids to server ids across the local store and
// the outbox.
type Reconciler struct {
	store  *store.Store
	outbox *outbox.Outbox
}

// NewReconciler creates a reconciler.
func NewReconciler(s *store.Store, o *outbox.Outbox) *Reconciler {
	return &Reconciler{store: s, outbox: o}
}

// Result summarizes one reconciliation.
type Result struct {
	TempID     string `json:"tempId"`
	RealID     string `json:"realId"`
	Renamed    bool   `json:"renamed"`
	Operations int    `json:"operations"`
	References int    `json:"references"`
}

// Reconcile moves the entity from tempID to realID in collection, points
// every outstanding outbox operation at realID and rewrites reference
// fields in dependent collections. The rename is a single store
// transaction, so readers always resolve exactly one of the ids. patch is
// merged into the renamed document; the local sync attributes are always
// cleared.
//
// Reconcile is idempotent: running it again after a crash finishes the
// remaining steps.
func (r *Reconciler) Reconcile(ctx context.Context, collection, tempID, realID string, patch store.Document) (Result, error) {
	res := Result{TempID: tempID, RealID: realID}
	if !IsTemp(tempID) {
		return res, fmt.Errorf("reconcile %s: not a temp id", tempID)
	}

	full := store.Document{
		store.FieldNeedsSync:        nil,
		store.FieldCreatedOfflineAt: nil,
	}
	for k, v := range patch {
		full[k] = v
	}

	err := r.store.Rename(ctx, collection, tempID, realID, full)
	switch {
	case err == nil:
		res.Renamed = true
	case errors.Is(err, store.ErrNotFound):
		// The local copy is gone (cleared or never written); the next pull
		// brings the server copy.
		logging.Warn().
			Str("collection", collection).
			Str("temp_id", tempID).
			Str("real_id", realID).
			Msg("Temp entity missing locally during reconcile")
	default:
		return res, fmt.Errorf("reconcile %s -> %s: %w", tempID, realID, err)
	}

	n, err := r.outbox.RewriteEntity(ctx, tempID, realID)
	if err != nil {
		return res, fmt.Errorf("reconcile %s -> %s: rewrite outbox: %w", tempID, realID, err)
	}
	res.Operations = n

	for _, ref := range mutation.ReferenceFields[mutation.KindOf(collection)] {
		n, err := r.store.RewriteField(ctx, ref.Collection, ref.Field, tempID, realID)
		if err != nil {
			return res, fmt.Errorf("reconcile %s -> %s: rewrite %s.%s: %w", tempID, realID, ref.Collection, ref.Field, err)
		}
		res.References += n
	}

	logging.Debug().
		Str("collection", collection).
		Str("temp_id", tempID).
		Str("real_id", realID).
		Int("operations", res.Operations).
		Int("references", res.References).
		Msg("Temp id reconciled")
	return res, nil
}
