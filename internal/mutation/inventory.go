// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package mutation

import (
	"fmt"
	"time"

	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
)

// InventoryItem is a stocked product.
type InventoryItem struct {
	Name         string  `json:"name" validate:"required,max=200"`
	SKU          string  `json:"sku,omitempty" validate:"max=64"`
	Barcode      string  `json:"barcode,omitempty" validate:"max=64"`
	Category     string  `json:"category,omitempty"`
	Unit         string  `json:"unit,omitempty"`
	Quantity     int     `json:"quantity" validate:"gte=0"`
	ReorderLevel int     `json:"reorderLevel" validate:"gte=0"`
	Price        float64 `json:"price" validate:"gte=0"`
	CreatedAt    int64   `json:"createdAt,omitempty"`
}

// StockAction is the kind of quantity change.
type StockAction string

// Stock actions. "create" only appears on the history record written with
// a new item.
const (
	StockAdd    StockAction = "add"
	StockRemove StockAction = "remove"
	StockSet    StockAction = "set"
	StockCreate StockAction = "create"
)

// HistoryRecord is an immutable stock history entry.
type HistoryRecord struct {
	ItemID         string      `json:"itemId"`
	ChangeType     StockAction `json:"changeType"`
	QuantityChange int         `json:"quantityChange"`
	PreviousQty    int         `json:"previousQty"`
	NewQty         int         `json:"newQty"`
	Reason         string      `json:"reason,omitempty"`
	Actor          string      `json:"actor,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

// Adjust applies action to previous. Removal clamps at zero; the returned
// change is the requested signed delta (-10 for a removal of 10), or the
// actual difference for set.
func Adjust(action StockAction, previous, quantity int) (newQty, change int) {
	switch action {
	case StockAdd:
		return previous + quantity, quantity
	case StockRemove:
		newQty = previous - quantity
		if newQty < 0 {
			newQty = 0
		}
		return newQty, -quantity
	case StockSet:
		return quantity, quantity - previous
	default:
		return previous, 0
	}
}

// CreateInventory adds an item together with its initial "create" history
// record.
type CreateInventory struct {
	createBase
	Item      InventoryItem `json:"item"`
	HistoryID string        `json:"historyId,omitempty" validate:"omitempty,entityid"`
	Actor     string        `json:"actor,omitempty"`
	CreatedAt int64         `json:"createdAt,omitempty"`
}

func (m *CreateInventory) Type() string       { return typeOf(KindInventory, ActionCreate) }
func (m *CreateInventory) Kind() Kind         { return KindInventory }
func (m *CreateInventory) Collection() string { return CollectionInventory }

func (m *CreateInventory) prepare(now time.Time) {
	if m.HistoryID == "" {
		m.HistoryID = remote.NewPushID()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = unixMillis(now)
	}
}

// Plan writes the item and the create history record in one update.
func (m *CreateInventory) Plan(id string, _ remote.Document) (Writes, error) {
	item := m.Item
	item.CreatedAt = m.CreatedAt
	doc := toDocument(item)
	doc["updatedAt"] = remote.ServerTimestamp()

	w := Writes{path(CollectionInventory, id): doc}
	if m.HistoryID != "" {
		w[path(CollectionStockHistory, m.HistoryID)] = toDocument(HistoryRecord{
			ItemID:         id,
			ChangeType:     StockCreate,
			QuantityChange: m.Item.Quantity,
			PreviousQty:    0,
			NewQty:         m.Item.Quantity,
			Reason:         "item created",
			Actor:          m.Actor,
			Timestamp:      m.CreatedAt,
		})
	}
	return w, nil
}

// UpdateInventory patches item details. Quantity changes go through
// AdjustStock so they are logged.
type UpdateInventory struct {
	updateBase
}

func (m *UpdateInventory) Type() string       { return typeOf(KindInventory, ActionUpdate) }
func (m *UpdateInventory) Kind() Kind         { return KindInventory }
func (m *UpdateInventory) Collection() string { return CollectionInventory }

func (m *UpdateInventory) writable() map[string]bool {
	return fieldSet("name", "sku", "barcode", "category", "unit", "reorderLevel", "price")
}

func (m *UpdateInventory) Plan(id string, _ remote.Document) (Writes, error) {
	return m.plan(CollectionInventory, id)
}

// DeleteInventory removes an item.
type DeleteInventory struct {
	deleteBase
}

func (m *DeleteInventory) Type() string       { return typeOf(KindInventory, ActionDelete) }
func (m *DeleteInventory) Kind() Kind         { return KindInventory }
func (m *DeleteInventory) Collection() string { return CollectionInventory }

func (m *DeleteInventory) Plan(id string, _ remote.Document) (Writes, error) {
	return m.plan(CollectionInventory, id)
}

// AdjustStock changes an item's quantity relative to its current value and
// logs a history record. HistoryID is fixed before the mutation is
// persisted; a replay that finds the record already written is a no-op.
type AdjustStock struct {
	base
	ItemID    string      `json:"itemId" validate:"required,entityid"`
	Change    StockAction `json:"action" validate:"required,oneof=add remove set"`
	Quantity  int         `json:"quantity" validate:"gte=0"`
	Reason    string      `json:"reason,omitempty" validate:"max=500"`
	Actor     string      `json:"actor,omitempty"`
	HistoryID string      `json:"historyId,omitempty" validate:"omitempty,entityid"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

func (m *AdjustStock) Type() string       { return typeOf(KindInventory, ActionAdjust) }
func (m *AdjustStock) Kind() Kind         { return KindInventory }
func (m *AdjustStock) Action() Action     { return ActionAdjust }
func (m *AdjustStock) Target() string     { return m.ItemID }
func (m *AdjustStock) Collection() string { return CollectionInventory }
func (m *AdjustStock) Commutative() bool  { return false }
func (m *AdjustStock) NeedsCurrent() bool { return true }

func (m *AdjustStock) prepare(now time.Time) {
	if m.HistoryID == "" {
		m.HistoryID = remote.NewPushID()
	}
	if m.Timestamp == 0 {
		m.Timestamp = unixMillis(now)
	}
}

// HistoryPath is where the adjustment's history record lives.
func (m *AdjustStock) HistoryPath() string {
	return path(CollectionStockHistory, m.HistoryID)
}

// Record computes the history record for an adjustment of current.
func (m *AdjustStock) Record(id string, current remote.Document) (HistoryRecord, error) {
	if current == nil {
		return HistoryRecord{}, fmt.Errorf("%w: inventory/%s", ErrTargetMissing, id)
	}
	prev, _ := store.IntField(current, "quantity")
	newQty, change := Adjust(m.Change, prev, m.Quantity)
	return HistoryRecord{
		ItemID:         id,
		ChangeType:     m.Change,
		QuantityChange: change,
		PreviousQty:    prev,
		NewQty:         newQty,
		Reason:         m.Reason,
		Actor:          m.Actor,
		Timestamp:      m.Timestamp,
	}, nil
}

// Plan writes the new quantity and the history record together.
func (m *AdjustStock) Plan(id string, current remote.Document) (Writes, error) {
	rec, err := m.Record(id, current)
	if err != nil {
		return nil, err
	}
	return Writes{
		path(CollectionInventory, id): {
			"quantity":  rec.NewQty,
			"updatedAt": remote.ServerTimestamp(),
		},
		m.HistoryPath(): toDocument(rec),
	}, nil
}
