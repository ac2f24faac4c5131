// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package mutation

import (
	"time"

	"github.com/tomtom215/shelfsync/internal/remote"
)

// Local sync fields carried by pending transactions.
const (
	FieldSyncStatus = "syncStatus"
	FieldSyncError  = "syncError"
)

// Payment describes how a sale was paid.
type Payment struct {
	Method string  `json:"method" validate:"required,oneof=cash card mobile credit"`
	Amount float64 `json:"amount" validate:"gte=0"`
	Change float64 `json:"change,omitempty" validate:"gte=0"`
}

// Transaction is a completed point-of-sale sale.
type Transaction struct {
	Items      []LineItem `json:"items" validate:"required,min=1,dive"`
	Payment    Payment    `json:"payment"`
	Subtotal   float64    `json:"subtotal" validate:"gte=0"`
	Discount   float64    `json:"discount,omitempty" validate:"gte=0"`
	Total      float64    `json:"total" validate:"gte=0"`
	CustomerID string     `json:"customerId,omitempty" validate:"omitempty,entityid"`
	CashierID  string     `json:"cashierId,omitempty"`
	CreatedAt  int64      `json:"createdAt,omitempty"`
}

// CreateTransaction records a sale. Once synced, each line item triggers a
// stock removal (best effort, see package inventory).
type CreateTransaction struct {
	createBase
	Transaction Transaction `json:"transaction"`
}

func (m *CreateTransaction) Type() string       { return typeOf(KindTransaction, ActionCreate) }
func (m *CreateTransaction) Kind() Kind         { return KindTransaction }
func (m *CreateTransaction) Collection() string { return CollectionTransactions }

func (m *CreateTransaction) References() []string {
	refs := lineItemRefs(m.Transaction.Items)
	if m.Transaction.CustomerID != "" {
		refs = append(refs, m.Transaction.CustomerID)
	}
	return refs
}

func (m *CreateTransaction) prepare(now time.Time) {
	if m.Transaction.CreatedAt == 0 {
		m.Transaction.CreatedAt = unixMillis(now)
	}
}

func (m *CreateTransaction) Plan(id string, _ remote.Document) (Writes, error) {
	return Writes{path(CollectionTransactions, id): stamped(toDocument(m.Transaction))}, nil
}
