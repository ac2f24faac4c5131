// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package mutation

import (
	"time"

	"github.com/tomtom215/shelfsync/internal/remote"
)

// LineItem is one product line of a basket or sale.
type LineItem struct {
	ItemID    string  `json:"itemId" validate:"required,entityid"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
}

func lineItemRefs(lines []LineItem) []string {
	refs := make([]string, 0, len(lines))
	for _, l := range lines {
		refs = append(refs, l.ItemID)
	}
	return refs
}

// Basket is an open (not yet paid) set of line items.
type Basket struct {
	CustomerID string     `json:"customerId,omitempty" validate:"omitempty,entityid"`
	Items      []LineItem `json:"items" validate:"dive"`
	Status     string     `json:"status" validate:"required,oneof=open held closed"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  int64      `json:"createdAt,omitempty"`
}

// CreateBasket opens a basket.
type CreateBasket struct {
	createBase
	Basket Basket `json:"basket"`
}

func (m *CreateBasket) Type() string       { return typeOf(KindBasket, ActionCreate) }
func (m *CreateBasket) Kind() Kind         { return KindBasket }
func (m *CreateBasket) Collection() string { return CollectionBaskets }

func (m *CreateBasket) References() []string {
	refs := lineItemRefs(m.Basket.Items)
	if m.Basket.CustomerID != "" {
		refs = append(refs, m.Basket.CustomerID)
	}
	return refs
}

func (m *CreateBasket) prepare(now time.Time) {
	if m.Basket.CreatedAt == 0 {
		m.Basket.CreatedAt = unixMillis(now)
	}
}

func (m *CreateBasket) Plan(id string, _ remote.Document) (Writes, error) {
	return Writes{path(CollectionBaskets, id): stamped(toDocument(m.Basket))}, nil
}

// UpdateBasket patches a basket.
type UpdateBasket struct {
	updateBase
}

func (m *UpdateBasket) Type() string       { return typeOf(KindBasket, ActionUpdate) }
func (m *UpdateBasket) Kind() Kind         { return KindBasket }
func (m *UpdateBasket) Collection() string { return CollectionBaskets }

// References reports a customer id set by the patch.
func (m *UpdateBasket) References() []string {
	if id, ok := m.Patch["customerId"].(string); ok && id != "" {
		return []string{id}
	}
	return nil
}

func (m *UpdateBasket) writable() map[string]bool {
	return fieldSet("customerId", "items", "status", "notes")
}

func (m *UpdateBasket) Plan(id string, _ remote.Document) (Writes, error) {
	return m.plan(CollectionBaskets, id)
}

// DeleteBasket removes a basket.
type DeleteBasket struct {
	deleteBase
}

func (m *DeleteBasket) Type() string       { return typeOf(KindBasket, ActionDelete) }
func (m *DeleteBasket) Kind() Kind         { return KindBasket }
func (m *DeleteBasket) Collection() string { return CollectionBaskets }

func (m *DeleteBasket) Plan(id string, _ remote.Document) (Writes, error) {
	return m.plan(CollectionBaskets, id)
}
