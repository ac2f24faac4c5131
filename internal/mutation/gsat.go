// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package mutation

import (
	"time"

	"github.com/tomtom215/shelfsync/internal/remote"
)

// GSATActivation records a service activation sold to a customer.
type GSATActivation struct {
	CustomerID  string  `json:"customerId,omitempty" validate:"omitempty,entityid"`
	Reference   string  `json:"reference" validate:"required,max=64"`
	Plan        string  `json:"plan,omitempty"`
	Amount      float64 `json:"amount" validate:"gte=0"`
	Status      string  `json:"status" validate:"required,oneof=pending active cancelled"`
	ActivatedBy string  `json:"activatedBy,omitempty"`
	CreatedAt   int64   `json:"createdAt,omitempty"`
}

// CreateGSATActivation records an activation.
type CreateGSATActivation struct {
	createBase
	Activation GSATActivation `json:"activation"`
}

func (m *CreateGSATActivation) Type() string       { return typeOf(KindGSAT, ActionCreate) }
func (m *CreateGSATActivation) Kind() Kind         { return KindGSAT }
func (m *CreateGSATActivation) Collection() string { return CollectionGSAT }

func (m *CreateGSATActivation) References() []string {
	if m.Activation.CustomerID != "" {
		return []string{m.Activation.CustomerID}
	}
	return nil
}

func (m *CreateGSATActivation) prepare(now time.Time) {
	if m.Activation.CreatedAt == 0 {
		m.Activation.CreatedAt = unixMillis(now)
	}
}

func (m *CreateGSATActivation) Plan(id string, _ remote.Document) (Writes, error) {
	return Writes{path(CollectionGSAT, id): stamped(toDocument(m.Activation))}, nil
}

// UpdateGSATActivation patches an activation.
type UpdateGSATActivation struct {
	updateBase
}

func (m *UpdateGSATActivation) Type() string       { return typeOf(KindGSAT, ActionUpdate) }
func (m *UpdateGSATActivation) Kind() Kind         { return KindGSAT }
func (m *UpdateGSATActivation) Collection() string { return CollectionGSAT }

func (m *UpdateGSATActivation) writable() map[string]bool {
	return fieldSet("status", "reference", "plan", "amount", "notes")
}

func (m *UpdateGSATActivation) Plan(id string, _ remote.Document) (Writes, error) {
	return m.plan(CollectionGSAT, id)
}
