// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package mutation

import (
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
)

// ActionUpsert merges a whole locally-held document into the remote store.
const ActionUpsert Action = "upsert"

// TypeUpsert is the operation type of UpsertDocument.
const TypeUpsert = "document.upsert"

// UpsertDocument pushes a local document as-is. A forced full upload
// enqueues one per cached entity. When ID is still a temp id the engine
// treats it like a create and assigns a server id.
type UpsertDocument struct {
	base
	ID       string          `json:"id" validate:"required,entityid"`
	Into     string          `json:"collection" validate:"required"`
	Document remote.Document `json:"document" validate:"required"`
}

func (m *UpsertDocument) Type() string       { return TypeUpsert }
func (m *UpsertDocument) Kind() Kind         { return KindOf(m.Into) }
func (m *UpsertDocument) Action() Action     { return ActionUpsert }
func (m *UpsertDocument) Target() string     { return m.ID }
func (m *UpsertDocument) Collection() string { return m.Into }
func (m *UpsertDocument) Commutative() bool  { return true }
func (m *UpsertDocument) AssignID(id string) { m.ID = id }

// Plan merges the document, minus local sync attributes, at the target.
func (m *UpsertDocument) Plan(id string, _ remote.Document) (Writes, error) {
	doc := make(remote.Document, len(m.Document))
	for k, v := range m.Document {
		switch k {
		case store.FieldNeedsSync, store.FieldCreatedOfflineAt, FieldSyncStatus, FieldSyncError:
			continue
		}
		doc[k] = v
	}
	return Writes{path(m.Into, id): doc}, nil
}
