// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"
)

func TestBreakerOpensOnUnavailable(t *testing.T) {
	mem := NewMemoryStore()
	b := NewBreakerStore(mem, BreakerSettings{Name: "test-open"})
	ctx := context.Background()

	mem.SetOffline(true)
	for i := 0; i < 10; i++ {
		if err := b.Set(ctx, "inventory/a", Document{"x": i}); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d = %v, want ErrUnavailable", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// The store is back, but the open circuit still fails fast.
	mem.SetOffline(false)
	err := b.Set(ctx, "inventory/a", Document{"x": 1})
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("open circuit = %v, want ErrUnavailable wrapping ErrOpenState", err)
	}
	if mem.WriteCount() != 0 {
		t.Errorf("open circuit reached the store: %d writes", mem.WriteCount())
	}

	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("test-open")); got != 2 {
		t.Errorf("state gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerTransitions.WithLabelValues("test-open", "closed", "open")); got != 1 {
		t.Errorf("transition counter = %v, want 1", got)
	}
}

func TestBreakerIgnoresHealthyAnswers(t *testing.T) {
	mem := NewMemoryStore()
	b := NewBreakerStore(mem, BreakerSettings{Name: "test-healthy"})
	ctx := context.Background()
	mem.Reject("customers", &RejectedError{Path: "customers", Reason: "denied"})

	for i := 0; i < 20; i++ {
		if _, err := b.Get(ctx, "inventory/missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get = %v, want ErrNotFound", err)
		}
		if err := b.Set(ctx, "customers/retail/c", Document{"x": 1}); !errors.Is(err, ErrRejected) {
			t.Fatalf("Set = %v, want ErrRejected", err)
		}
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreakerPassesResultsThrough(t *testing.T) {
	mem := NewMemoryStore()
	b := NewBreakerStore(mem, BreakerSettings{Name: "test-results"})
	ctx := context.Background()

	id, err := b.Push(ctx, "suggestions", Document{"type": "add"})
	if err != nil || len(id) != 20 {
		t.Fatalf("Push = %q, %v", id, err)
	}
	children, err := b.List(ctx, "suggestions", 0)
	if err != nil || len(children) != 1 {
		t.Fatalf("List = %v, %v", children, err)
	}
	doc, err := b.Get(ctx, Join("suggestions", id))
	if err != nil || doc["type"] != "add" {
		t.Fatalf("Get = %v, %v", doc, err)
	}

	tx, ok := AsTransactor(b)
	if !ok {
		t.Fatal("breaker over memory store should expose a transactor")
	}
	rev, err := tx.CreateIfAbsent(ctx, "migration_lock", Document{"ownerId": "a"})
	if err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}
	got, gotRev, err := tx.GetVersioned(ctx, "migration_lock")
	if err != nil || gotRev != rev || got["ownerId"] != "a" {
		t.Fatalf("GetVersioned = %v@%d, %v", got, gotRev, err)
	}

	sub, err := b.Watch(ctx, "suggestions")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Cancel()
	snap := <-sub.Events()
	if len(snap.Children) != 1 {
		t.Errorf("watch snapshot has %d children, want 1", len(snap.Children))
	}
}

func TestStateToString(t *testing.T) {
	tests := []struct {
		state gobreaker.State
		str   string
		val   float64
	}{
		{gobreaker.StateClosed, "closed", 0},
		{gobreaker.StateHalfOpen, "half-open", 1},
		{gobreaker.StateOpen, "open", 2},
	}
	for _, tt := range tests {
		if got := stateToString(tt.state); got != tt.str {
			t.Errorf("stateToString(%v) = %q, want %q", tt.state, got, tt.str)
		}
		if got := stateToFloat(tt.state); got != tt.val {
			t.Errorf("stateToFloat(%v) = %v, want %v", tt.state, got, tt.val)
		}
	}
}
