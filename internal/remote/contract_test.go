// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runStoreContract exercises the Store contract against any backend.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(context.Background(), "inventory/none"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("set and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Set(ctx, "inventory/a", Document{"name": "Widget", "quantity": 3}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		doc, err := s.Get(ctx, "inventory/a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if doc["name"] != "Widget" {
			t.Errorf("name = %v, want Widget", doc["name"])
		}
	})

	t.Run("update merges and deletes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Set(ctx, "inventory/a", Document{"name": "Widget", "sku": "W-1"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Set(ctx, "inventory/b", Document{"name": "Gadget"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		err := s.Update(ctx, map[string]Document{
			"inventory/a":       {"name": "Widget Pro", "sku": nil},
			"inventory/b":       nil,
			"stock_history/h-1": {"itemId": "a", "timestamp": ServerTimestamp()},
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}

		a, err := s.Get(ctx, "inventory/a")
		if err != nil {
			t.Fatalf("Get a: %v", err)
		}
		if a["name"] != "Widget Pro" {
			t.Errorf("name = %v, want Widget Pro", a["name"])
		}
		if _, ok := a["sku"]; ok {
			t.Error("sku should have been removed")
		}
		if _, err := s.Get(ctx, "inventory/b"); !errors.Is(err, ErrNotFound) {
			t.Errorf("b should be deleted, got %v", err)
		}
		h, err := s.Get(ctx, "stock_history/h-1")
		if err != nil {
			t.Fatalf("Get history: %v", err)
		}
		if IsServerTimestamp(h["timestamp"]) {
			t.Error("server timestamp placeholder was not resolved")
		}
	})

	t.Run("push ids are chronological", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first, err := s.Push(ctx, "transactions", Document{"total": 1})
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		second, err := s.Push(ctx, "transactions", Document{"total": 2})
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		if second <= first {
			t.Errorf("push ids not ordered: %s <= %s", second, first)
		}
	})

	t.Run("list with limit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var ids []string
		for i := 0; i < 5; i++ {
			id, err := s.Push(ctx, "stock_history", Document{"n": i})
			if err != nil {
				t.Fatalf("Push: %v", err)
			}
			ids = append(ids, id)
		}
		if err := s.Set(ctx, "inventory/x", Document{"name": "other subtree"}); err != nil {
			t.Fatalf("Set: %v", err)
		}

		all, err := s.List(ctx, "stock_history", 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 5 {
			t.Errorf("List returned %d children, want 5", len(all))
		}

		last, err := s.List(ctx, "stock_history", 2)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(last) != 2 {
			t.Fatalf("List limit 2 returned %d children", len(last))
		}
		for _, id := range ids[3:] {
			if _, ok := last[id]; !ok {
				t.Errorf("expected newest id %s in limited list", id)
			}
		}
	})

	t.Run("watch yields snapshots", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := s.Set(ctx, "customers/retail/c1", Document{"name": "Ann"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		sub, err := s.Watch(ctx, "customers/retail")
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
		defer sub.Cancel()

		snap := waitSnapshot(t, sub, func(s Snapshot) bool { return len(s.Children) == 1 })
		if snap.Children["c1"]["name"] != "Ann" {
			t.Errorf("initial snapshot = %v", snap.Children)
		}

		if err := s.Set(ctx, "customers/retail/c2", Document{"name": "Bob"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		waitSnapshot(t, sub, func(s Snapshot) bool { return len(s.Children) == 2 })

		if err := s.Delete(ctx, "customers/retail/c1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		snap = waitSnapshot(t, sub, func(s Snapshot) bool { return len(s.Children) == 1 })
		if _, ok := snap.Children["c2"]; !ok {
			t.Errorf("expected c2 to remain, got %v", snap.Children)
		}

		sub.Cancel()
		sub.Cancel()
	})

	t.Run("invalid path", func(t *testing.T) {
		s := newStore(t)
		if err := s.Set(context.Background(), "inventory/a.b", Document{}); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Set invalid path = %v, want ErrInvalidPath", err)
		}
	})

	t.Run("transactor", func(t *testing.T) {
		s := newStore(t)
		tx, ok := AsTransactor(s)
		if !ok {
			t.Skip("store has no transactor")
		}
		ctx := context.Background()

		rev, err := tx.CreateIfAbsent(ctx, "migration_lock", Document{"ownerId": "a"})
		if err != nil {
			t.Fatalf("CreateIfAbsent: %v", err)
		}
		if _, err := tx.CreateIfAbsent(ctx, "migration_lock", Document{"ownerId": "b"}); !errors.Is(err, ErrConflict) {
			t.Fatalf("second CreateIfAbsent = %v, want ErrConflict", err)
		}

		newRev, err := tx.CompareAndSwap(ctx, "migration_lock", Document{"ownerId": "c"}, rev)
		if err != nil {
			t.Fatalf("CompareAndSwap: %v", err)
		}
		if _, err := tx.CompareAndSwap(ctx, "migration_lock", Document{"ownerId": "d"}, rev); !errors.Is(err, ErrConflict) {
			t.Fatalf("stale CompareAndSwap = %v, want ErrConflict", err)
		}

		doc, got, err := tx.GetVersioned(ctx, "migration_lock")
		if err != nil {
			t.Fatalf("GetVersioned: %v", err)
		}
		if got != newRev || doc["ownerId"] != "c" {
			t.Errorf("GetVersioned = %v@%d, want c@%d", doc, got, newRev)
		}

		if err := tx.DeleteIfRevision(ctx, "migration_lock", rev); !errors.Is(err, ErrConflict) {
			t.Fatalf("stale DeleteIfRevision = %v, want ErrConflict", err)
		}
		if err := tx.DeleteIfRevision(ctx, "migration_lock", newRev); err != nil {
			t.Fatalf("DeleteIfRevision: %v", err)
		}
		if _, err := s.Get(ctx, "migration_lock"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("lock should be gone, got %v", err)
		}

		// A deleted key can be created again.
		if _, err := tx.CreateIfAbsent(ctx, "migration_lock", Document{"ownerId": "e"}); err != nil {
			t.Fatalf("CreateIfAbsent after delete: %v", err)
		}
	})
}

func waitSnapshot(t *testing.T, sub *Subscription, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Events():
			if !ok {
				t.Fatal("subscription closed while waiting")
			}
			if cond(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}
