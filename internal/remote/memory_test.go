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

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStoreOffline(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.SetOffline(true)

	if err := m.Set(ctx, "inventory/a", Document{"x": 1}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Set offline = %v, want ErrUnavailable", err)
	}
	if !IsTransient(m.Set(ctx, "inventory/a", Document{"x": 1})) {
		t.Error("offline errors must be transient")
	}
	if _, err := m.Watch(ctx, "inventory"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Watch offline = %v, want ErrUnavailable", err)
	}
	if m.WriteCount() != 0 {
		t.Errorf("WriteCount = %d, want 0", m.WriteCount())
	}

	m.SetOffline(false)
	if err := m.Set(ctx, "inventory/a", Document{"x": 1}); err != nil {
		t.Fatalf("Set online: %v", err)
	}
}

func TestMemoryStoreReject(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.Reject("customers", &RejectedError{Path: "customers", Reason: "permission denied"})

	err := m.Update(ctx, map[string]Document{
		"inventory/a":         {"name": "ok"},
		"customers/retail/c1": {"name": "nope"},
	})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Update = %v, want ErrRejected", err)
	}
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Reason != "permission denied" {
		t.Fatalf("expected *RejectedError with reason, got %v", err)
	}
	// Multi-path updates are atomic in memory.
	if _, err := m.Get(ctx, "inventory/a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("partial update leaked: %v", err)
	}

	m.Reject("customers", nil)
	if err := m.Set(ctx, "customers/retail/c1", Document{"name": "ok"}); err != nil {
		t.Fatalf("Set after clearing rule: %v", err)
	}
}

func TestMemoryStoreServerTimestamp(t *testing.T) {
	m := NewMemoryStore()
	fixed := time.UnixMilli(1_700_000_000_000)
	m.SetClock(func() time.Time { return fixed })

	if err := m.Set(context.Background(), "migration_lock", Document{"lockedAt": ServerTimestamp()}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	doc, _ := m.Get(context.Background(), "migration_lock")
	if doc["lockedAt"] != fixed.UnixMilli() {
		t.Errorf("lockedAt = %v, want %d", doc["lockedAt"], fixed.UnixMilli())
	}
}

func TestMemoryWatchCancelledByContext(t *testing.T) {
	m := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := m.Watch(ctx, "inventory")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not cancelled with its context")
	}
	// Writes after cancellation must not panic on the closed channel.
	if err := m.Set(context.Background(), "inventory/a", Document{"x": 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func TestSubscriptionKeepsLatest(t *testing.T) {
	sub := newSubscription("inventory", nil)
	for i := 0; i < 3; i++ {
		sub.publish(Snapshot{Path: "inventory", Children: map[string]Document{"n": {"i": i}}})
	}
	snap := <-sub.Events()
	if snap.Children["n"]["i"] != 2 {
		t.Errorf("expected latest snapshot, got %v", snap.Children)
	}
	sub.Cancel()
	if _, ok := <-sub.Events(); ok {
		t.Error("Events should be closed after Cancel")
	}
}

func TestMergeAndResolve(t *testing.T) {
	base := Document{"a": 1, "b": 2}
	out := Merge(base, Document{"b": nil, "c": 3})
	if _, ok := out["b"]; ok || out["c"] != 3 || out["a"] != 1 {
		t.Errorf("Merge = %v", out)
	}
	if _, ok := base["c"]; ok {
		t.Error("Merge modified its base")
	}

	now := time.UnixMilli(42)
	doc := ResolveServerValues(Document{
		"t":      ServerTimestamp(),
		"nested": map[string]any{"t": ServerTimestamp()},
		"list":   []any{ServerTimestamp()},
	}, now)
	if doc["t"] != int64(42) {
		t.Errorf("t = %v", doc["t"])
	}
	if doc["nested"].(map[string]any)["t"] != int64(42) {
		t.Errorf("nested t = %v", doc["nested"])
	}
	if doc["list"].([]any)[0] != int64(42) {
		t.Errorf("list[0] = %v", doc["list"])
	}
}

func TestPaths(t *testing.T) {
	tests := []struct {
		path  string
		valid bool
	}{
		{"inventory", true},
		{"customers/retail/-Nabc_1", true},
		{"", false},
		{"inventory//a", false},
		{"inventory/a.b", false},
		{"inventory/a b", false},
	}
	for _, tt := range tests {
		if err := ValidatePath(tt.path); (err == nil) != tt.valid {
			t.Errorf("ValidatePath(%q) = %v, want valid=%v", tt.path, err, tt.valid)
		}
	}

	parent, id := Split("customers/retail/c1")
	if parent != "customers/retail" || id != "c1" {
		t.Errorf("Split = %q, %q", parent, id)
	}
	if Join("a", "b") != "a/b" {
		t.Error("Join")
	}
}
