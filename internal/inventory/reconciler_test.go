// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/outbox"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
	"github.com/tomtom215/shelfsync/internal/syncengine"
)

type conn struct{ online atomic.Bool }

func (c *conn) HasConnectivity() bool { return c.online.Load() }

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Publish(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type fixture struct {
	rec    *Reconciler
	engine *syncengine.Engine
	store  *store.Store
	remote *remote.MemoryStore
	conn   *conn
	alerts *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(store.Config{InMemory: true, CloseTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	o, err := outbox.New(s.DB())
	if err != nil {
		t.Fatalf("outbox: %v", err)
	}
	t.Cleanup(func() {
		_ = o.Close()
		_ = s.Close()
	})

	r := remote.NewMemoryStore()
	c := &conn{}
	c.online.Store(true)
	e := syncengine.New(syncengine.Config{Subtrees: []string{mutation.CollectionInventory}}, s, o, r, c)
	alerts := &recorder{}
	return &fixture{
		rec:    NewReconciler(e, s, alerts),
		engine: e,
		store:  s,
		remote: r,
		conn:   c,
		alerts: alerts,
	}
}

func (f *fixture) seed(t *testing.T, id string, qty, reorder int) {
	t.Helper()
	ctx := context.Background()
	doc := store.Document{"name": id, "quantity": qty, "reorderLevel": reorder}
	if err := f.remote.Set(ctx, remote.Join(mutation.CollectionInventory, id), doc); err != nil {
		t.Fatalf("seed remote: %v", err)
	}
	if err := f.store.Put(ctx, mutation.CollectionInventory, id, doc); err != nil {
		t.Fatalf("seed local: %v", err)
	}
}

func (f *fixture) remoteQty(t *testing.T, id string) int {
	t.Helper()
	doc, err := f.remote.Get(context.Background(), remote.Join(mutation.CollectionInventory, id))
	if err != nil {
		t.Fatalf("remote Get: %v", err)
	}
	q, _ := store.IntField(doc, "quantity")
	return q
}

func TestBandOf(t *testing.T) {
	tests := []struct {
		qty, reorder int
		want         Band
	}{
		{10, 5, BandOK},
		{6, 5, BandOK},
		{5, 5, BandLow},
		{1, 5, BandLow},
		{0, 5, BandOut},
		{-1, 0, BandOut},
		{1, 0, BandOK},
	}
	for _, tt := range tests {
		if got := BandOf(tt.qty, tt.reorder); got != tt.want {
			t.Errorf("BandOf(%d, %d) = %s, want %s", tt.qty, tt.reorder, got, tt.want)
		}
	}
}

func TestCrossed(t *testing.T) {
	tests := []struct {
		from, to Band
		want     bool
	}{
		{BandOK, BandLow, true},
		{BandOK, BandOut, true},
		{BandLow, BandOut, true},
		{BandLow, BandLow, false},
		{BandOut, BandOut, false},
		{BandOut, BandLow, false},
		{BandLow, BandOK, false},
	}
	for _, tt := range tests {
		if got := Crossed(tt.from, tt.to); got != tt.want {
			t.Errorf("Crossed(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestThresholdAlertsOncePerBand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "widget", 6, 5)

	c, err := f.rec.RemoveStock(ctx, Request{ItemID: "widget", Quantity: 2, Reason: "sale"})
	if err != nil {
		t.Fatalf("RemoveStock: %v", err)
	}
	if c.NewQty != 4 || c.QuantityChange != -2 || c.Band != BandLow || !c.Alerted {
		t.Fatalf("change = %+v", c)
	}
	if f.alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", f.alerts.count())
	}
	if a := f.alerts.alerts[0]; a.ItemID != "widget" || a.Band != BandLow || a.PreviousBand != BandOK || a.Quantity != 4 {
		t.Errorf("alert = %+v", a)
	}

	c, err = f.rec.RemoveStock(ctx, Request{ItemID: "widget", Quantity: 1})
	if err != nil {
		t.Fatalf("RemoveStock: %v", err)
	}
	if c.Alerted || f.alerts.count() != 1 {
		t.Errorf("second low-band removal alerted: %+v", c)
	}

	c, err = f.rec.RemoveStock(ctx, Request{ItemID: "widget", Quantity: 10})
	if err != nil {
		t.Fatalf("RemoveStock: %v", err)
	}
	if c.NewQty != 0 || c.Band != BandOut || !c.Alerted {
		t.Errorf("change = %+v, want clamp to zero with out-of-stock alert", c)
	}
	if f.remoteQty(t, "widget") != 0 {
		t.Errorf("remote quantity = %d, want 0", f.remoteQty(t, "widget"))
	}

	c, err = f.rec.AddStock(ctx, Request{ItemID: "widget", Quantity: 3})
	if err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	if c.Band != BandLow || c.Alerted {
		t.Errorf("restock alerted: %+v", c)
	}
	if f.alerts.count() != 2 {
		t.Errorf("alerts = %d, want 2", f.alerts.count())
	}
}

func TestSetStockIsLoggedAsDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "widget", 7, 2)

	c, err := f.rec.SetStock(ctx, Request{ItemID: "widget", Quantity: 12, Reason: "count"})
	if err != nil {
		t.Fatalf("SetStock: %v", err)
	}
	if c.PreviousQty != 7 || c.NewQty != 12 || c.QuantityChange != 5 {
		t.Errorf("change = %+v", c)
	}

	history, err := f.remote.List(ctx, mutation.CollectionStockHistory, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d records, want 1", len(history))
	}
	for _, rec := range history {
		if q, _ := store.IntField(rec, "quantityChange"); q != 5 {
			t.Errorf("quantityChange = %d, want 5", q)
		}
		if rec["changeType"] != string(mutation.StockSet) {
			t.Errorf("changeType = %v", rec["changeType"])
		}
	}
}

func TestRemoveBelowZeroReportsLoggedChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "widget", 3, 1)

	c, err := f.rec.RemoveStock(ctx, Request{ItemID: "widget", Quantity: 10, Reason: "shrinkage"})
	if err != nil {
		t.Fatalf("RemoveStock: %v", err)
	}
	if c.NewQty != 0 || c.QuantityChange != -10 {
		t.Errorf("change = %+v, want newQty 0 and quantityChange -10", c)
	}

	history, err := f.remote.List(ctx, mutation.CollectionStockHistory, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, rec := range history {
		if q, _ := store.IntField(rec, "quantityChange"); q != c.QuantityChange {
			t.Errorf("history quantityChange = %d, response = %d", q, c.QuantityChange)
		}
	}
}

func TestOfflineChangeIsQueuedAndAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "widget", 3, 1)
	f.conn.online.Store(false)

	c, err := f.rec.RemoveStock(ctx, Request{ItemID: "widget", Quantity: 3})
	if err != nil {
		t.Fatalf("RemoveStock: %v", err)
	}
	if !c.Queued || c.NewQty != 0 || c.Band != BandOut || !c.Alerted {
		t.Errorf("change = %+v", c)
	}
	if f.remoteQty(t, "widget") != 3 {
		t.Error("offline change reached the remote store")
	}
}

func TestAdjustErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.rec.RemoveStock(ctx, Request{ItemID: "ghost", Quantity: 1}); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("missing item err = %v", err)
	}
	f.seed(t, "widget", 3, 1)
	if _, err := f.rec.AddStock(ctx, Request{ItemID: "widget", Quantity: -1}); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("negative quantity err = %v", err)
	}
	if _, err := f.rec.Apply(ctx, mutation.StockCreate, Request{ItemID: "widget", Quantity: 1}); err == nil {
		t.Error("Apply accepted the create action")
	}
}

func TestAlertPublishFailureDoesNotFailChange(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "widget", 2, 1)
	f.alerts.err = errors.New("broker down")
	before := testutil.ToFloat64(alertPublishFailuresTotal)

	c, err := f.rec.RemoveStock(context.Background(), Request{ItemID: "widget", Quantity: 2})
	if err != nil {
		t.Fatalf("RemoveStock: %v", err)
	}
	if c.Alerted || c.NewQty != 0 {
		t.Errorf("change = %+v", c)
	}
	if got := testutil.ToFloat64(alertPublishFailuresTotal) - before; got != 1 {
		t.Errorf("publish failures = %v, want 1", got)
	}
}

func TestCreateItem(t *testing.T) {
	f := newFixture(t)
	c, err := f.rec.CreateItem(context.Background(), mutation.InventoryItem{Name: "Bolt", Quantity: 1, ReorderLevel: 4}, "bob")
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if c.ItemID == "" || c.Band != BandLow || !c.Alerted {
		t.Errorf("change = %+v", c)
	}
	if f.remoteQty(t, c.ItemID) != 1 {
		t.Error("item not created remotely")
	}
}

func TestSaleDeductsStockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "a", 5, 1)
	f.seed(t, "b", 1, 0)
	f.engine.OnApplied(f.rec.OnApplied)

	res, err := f.engine.EnqueueOrApply(ctx, &mutation.CreateTransaction{Transaction: mutation.Transaction{
		Items: []mutation.LineItem{
			{ItemID: "a", Quantity: 2, UnitPrice: 1},
			{ItemID: "b", Quantity: 3, UnitPrice: 1},
			{ItemID: "missing", Quantity: 1, UnitPrice: 1},
		},
		Payment:   mutation.Payment{Method: "card", Amount: 6},
		Total:     6,
		CashierID: "till-1",
	}})
	if err != nil {
		t.Fatalf("EnqueueOrApply: %v", err)
	}
	if res.Queued {
		t.Fatal("sale was queued while online")
	}
	if f.remoteQty(t, "a") != 3 || f.remoteQty(t, "b") != 0 {
		t.Fatalf("quantities = %d, %d; want 3, 0", f.remoteQty(t, "a"), f.remoteQty(t, "b"))
	}
	if _, err := f.remote.Get(ctx, remote.Join(mutation.CollectionStockHistory, SaleHistoryID(res.ID, 0))); err != nil {
		t.Errorf("sale history record missing: %v", err)
	}

	// Observing the same sale again must not deduct twice.
	rep := f.rec.HandleTransactionSynced(ctx, res.ID, mutation.Transaction{
		Items: []mutation.LineItem{{ItemID: "a", Quantity: 2}},
	})
	if rep.Adjusted != 1 || rep.Failed != 0 {
		t.Errorf("replay report = %+v", rep)
	}
	if f.remoteQty(t, "a") != 3 {
		t.Errorf("replayed sale deducted again: a = %d", f.remoteQty(t, "a"))
	}
}

func TestSaleLineFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", 5, 1)

	rep := f.rec.HandleTransactionSynced(context.Background(), "-Nsale", mutation.Transaction{
		Items: []mutation.LineItem{
			{ItemID: "missing", Quantity: 1},
			{ItemID: "a", Quantity: 1},
		},
	})
	if rep.Adjusted != 1 || rep.Failed != 1 {
		t.Errorf("report = %+v", rep)
	}
	if f.remoteQty(t, "a") != 4 {
		t.Errorf("a = %d, want 4", f.remoteQty(t, "a"))
	}
}

func TestSaleHistoryID(t *testing.T) {
	if got := SaleHistoryID("-Nabc", 2); got != "-Nabc-2" {
		t.Errorf("SaleHistoryID = %q", got)
	}
}
