// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package inventory layers stock bookkeeping on the sync engine.
//
// Quantity changes are expressed as deltas against the last known quantity
// and logged as immutable history records (see mutation.AdjustStock). After
// each change the reconciler classifies the new quantity into a stock band
// and raises an alert when the item moves into a worse band. Synced sales
// deduct stock per line item, best effort: a failed line is logged and the
// sale stands.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/store"
	"github.com/tomtom215/shelfsync/internal/syncengine"
)

var (
	// ErrItemNotFound is returned when the item is not in the local store.
	ErrItemNotFound = errors.New("inventory: item not found")

	// ErrInvalidQuantity is returned for negative quantities.
	ErrInvalidQuantity = errors.New("inventory: quantity must not be negative")
)

// Engine is the part of the sync engine the reconciler writes through.
type Engine interface {
	EnqueueOrApply(ctx context.Context, m mutation.Mutation) (syncengine.Result, error)
}

// Documents reads the local copy of an item.
type Documents interface {
	Get(ctx context.Context, collection, id string) (store.Document, error)
}

// Notifier receives stock alerts.
type Notifier interface {
	Publish(ctx context.Context, a Alert) error
}

// Request describes one stock change.
type Request struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
	Actor    string `json:"actor,omitempty"`

	// HistoryID pins the history record id. Callers that may repeat a
	// request (sale side effects) set it so the change applies once.
	HistoryID string `json:"historyId,omitempty"`
}

// Change is the outcome of a stock change.
type Change struct {
	ItemID         string               `json:"itemId"`
	Action         mutation.StockAction `json:"action"`
	PreviousQty    int                  `json:"previousQty"`
	NewQty         int                  `json:"newQty"`
	QuantityChange int                  `json:"quantityChange"`
	ReorderLevel   int                  `json:"reorderLevel"`
	PreviousBand   Band                 `json:"previousBand"`
	Band           Band                 `json:"band"`
	Alerted        bool                 `json:"alerted"`
	Queued         bool                 `json:"queued"`
	Result         syncengine.Result    `json:"result"`
}

// Reconciler applies stock changes through the sync engine.
type Reconciler struct {
	engine Engine
	docs   Documents
	alerts Notifier
	now    func() time.Time
}

// NewReconciler creates a reconciler. alerts may be nil.
func NewReconciler(engine Engine, docs Documents, alerts Notifier) *Reconciler {
	return &Reconciler{engine: engine, docs: docs, alerts: alerts, now: time.Now}
}

// AddStock increases an item's quantity.
func (r *Reconciler) AddStock(ctx context.Context, req Request) (Change, error) {
	return r.adjust(ctx, mutation.StockAdd, req)
}

// RemoveStock decreases an item's quantity, clamping at zero.
func (r *Reconciler) RemoveStock(ctx context.Context, req Request) (Change, error) {
	return r.adjust(ctx, mutation.StockRemove, req)
}

// SetStock sets an item's quantity after a count. It is still logged as a
// delta against the last known quantity.
func (r *Reconciler) SetStock(ctx context.Context, req Request) (Change, error) {
	return r.adjust(ctx, mutation.StockSet, req)
}

// Apply dispatches on action.
func (r *Reconciler) Apply(ctx context.Context, action mutation.StockAction, req Request) (Change, error) {
	switch action {
	case mutation.StockAdd, mutation.StockRemove, mutation.StockSet:
		return r.adjust(ctx, action, req)
	default:
		return Change{}, fmt.Errorf("inventory: unsupported stock action %q", action)
	}
}

func (r *Reconciler) adjust(ctx context.Context, action mutation.StockAction, req Request) (Change, error) {
	if req.Quantity < 0 {
		return Change{}, ErrInvalidQuantity
	}
	before, err := r.docs.Get(ctx, mutation.CollectionInventory, req.ItemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Change{}, fmt.Errorf("%w: %s", ErrItemNotFound, req.ItemID)
		}
		return Change{}, err
	}
	prevQty, _ := store.IntField(before, "quantity")
	reorder, _ := store.IntField(before, "reorderLevel")

	res, err := r.engine.EnqueueOrApply(ctx, &mutation.AdjustStock{
		ItemID:    req.ItemID,
		Change:    action,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Actor:     req.Actor,
		HistoryID: req.HistoryID,
	})
	if err != nil {
		adjustmentsTotal.WithLabelValues(string(action), "error").Inc()
		return Change{}, err
	}

	// The local copy reflects what was applied: the remote quantity when
	// written directly, the optimistic one when queued, or no change when
	// the history record already existed.
	// QuantityChange matches the history record: removals below zero still
	// log the requested amount.
	newQty, delta := mutation.Adjust(action, prevQty, req.Quantity)
	if after, err := r.docs.Get(ctx, mutation.CollectionInventory, req.ItemID); err == nil {
		if q, ok := store.IntField(after, "quantity"); ok {
			newQty = q
		}
	}

	c := Change{
		ItemID:         req.ItemID,
		Action:         action,
		PreviousQty:    prevQty,
		NewQty:         newQty,
		QuantityChange: delta,
		ReorderLevel:   reorder,
		PreviousBand:   BandOf(prevQty, reorder),
		Band:           BandOf(newQty, reorder),
		Queued:         res.Queued,
		Result:         res,
	}
	result := "applied"
	if res.Queued {
		result = "queued"
	}
	adjustmentsTotal.WithLabelValues(string(action), result).Inc()

	if Crossed(c.PreviousBand, c.Band) {
		name := store.StringField(before, "name")
		c.Alerted = r.raise(ctx, Alert{
			ItemID:       c.ItemID,
			Name:         name,
			Band:         c.Band,
			PreviousBand: c.PreviousBand,
			Quantity:     c.NewQty,
			PreviousQty:  c.PreviousQty,
			ReorderLevel: reorder,
			Reason:       req.Reason,
			Actor:        req.Actor,
		})
	}
	return c, nil
}

// CreateItem adds an item with its initial "create" history record.
func (r *Reconciler) CreateItem(ctx context.Context, item mutation.InventoryItem, actor string) (Change, error) {
	res, err := r.engine.EnqueueOrApply(ctx, &mutation.CreateInventory{Item: item, Actor: actor})
	if err != nil {
		adjustmentsTotal.WithLabelValues(string(mutation.StockCreate), "error").Inc()
		return Change{}, err
	}

	c := Change{
		ItemID:         res.ID,
		Action:         mutation.StockCreate,
		NewQty:         item.Quantity,
		QuantityChange: item.Quantity,
		ReorderLevel:   item.ReorderLevel,
		PreviousBand:   BandOK,
		Band:           BandOf(item.Quantity, item.ReorderLevel),
		Queued:         res.Queued,
		Result:         res,
	}
	adjustmentsTotal.WithLabelValues(string(mutation.StockCreate), "applied").Inc()

	if Crossed(c.PreviousBand, c.Band) {
		c.Alerted = r.raise(ctx, Alert{
			ItemID:       res.ID,
			Name:         item.Name,
			Band:         c.Band,
			PreviousBand: c.PreviousBand,
			Quantity:     item.Quantity,
			ReorderLevel: item.ReorderLevel,
			Reason:       "item created",
			Actor:        actor,
		})
	}
	return c, nil
}

// raise publishes an alert. Alerts are best effort: a failed publish is
// logged and counted.
func (r *Reconciler) raise(ctx context.Context, a Alert) bool {
	a.At = r.now()
	alertsTotal.WithLabelValues(string(a.Band)).Inc()
	logging.Ctx(ctx).Info().
		Str("item_id", a.ItemID).
		Str("band", string(a.Band)).
		Int("quantity", a.Quantity).
		Int("reorder_level", a.ReorderLevel).
		Msg("Stock threshold crossed")

	if r.alerts == nil {
		return false
	}
	if err := r.alerts.Publish(ctx, a); err != nil {
		alertPublishFailuresTotal.Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("item_id", a.ItemID).Msg("Failed to publish stock alert")
		return false
	}
	return true
}

// SaleHistoryID is the history record id of line lineIndex of sale txID.
// Fixed ids make the deduction apply once however often the sale's
// completion is observed.
func SaleHistoryID(txID string, lineIndex int) string {
	return txID + "-" + strconv.Itoa(lineIndex)
}

// SaleReport summarizes the stock side effects of one sale.
type SaleReport struct {
	Adjusted int
	Failed   int
}

// HandleTransactionSynced removes stock for every line item of a synced
// sale. A failing line is logged; the other lines are still applied.
func (r *Reconciler) HandleTransactionSynced(ctx context.Context, txID string, tx mutation.Transaction) SaleReport {
	var rep SaleReport
	for i, line := range tx.Items {
		_, err := r.RemoveStock(ctx, Request{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			Reason:    "sale " + txID,
			Actor:     tx.CashierID,
			HistoryID: SaleHistoryID(txID, i),
		})
		if err != nil {
			rep.Failed++
			saleLineFailuresTotal.Inc()
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("transaction_id", txID).
				Str("item_id", line.ItemID).
				Int("line", i).
				Msg("Stock deduction for sale line failed")
			continue
		}
		rep.Adjusted++
	}
	return rep
}

// OnApplied is a syncengine.AppliedHook that deducts stock for sales.
func (r *Reconciler) OnApplied(ctx context.Context, a syncengine.Applied) {
	m, ok := a.Mutation.(*mutation.CreateTransaction)
	if !ok {
		return
	}
	rep := r.HandleTransactionSynced(ctx, a.ID, m.Transaction)
	logging.Ctx(ctx).Debug().
		Str("transaction_id", a.ID).
		Int("adjusted", rep.Adjusted).
		Int("failed", rep.Failed).
		Msg("Sale stock deducted")
}
