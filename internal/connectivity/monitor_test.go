// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package connectivity

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/shelfsync/internal/remote"
)

func TestMonitorStartsOffline(t *testing.T) {
	m := NewMonitor(NewManualProber(true), time.Second)
	if m.HasConnectivity() {
		t.Fatal("monitor should start offline before the first probe")
	}
	if !m.Check(context.Background()) {
		t.Fatal("Check should report online after a successful probe")
	}
	if testutil.ToFloat64(connectivityOnline) != 1 {
		t.Errorf("online gauge = %v, want 1", testutil.ToFloat64(connectivityOnline))
	}
}

func TestMonitorPublishesTransitionsOnly(t *testing.T) {
	p := NewManualProber(false)
	m := NewMonitor(p, time.Second)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	m.Check(ctx)
	select {
	case v := <-ch:
		t.Fatalf("unexpected event %v for unchanged offline state", v)
	default:
	}

	p.Set(true)
	m.Check(ctx)
	m.Check(ctx)
	select {
	case v := <-ch:
		if !v {
			t.Fatal("expected online transition")
		}
	default:
		t.Fatal("expected an online transition event")
	}
	select {
	case v := <-ch:
		t.Fatalf("repeated online probe produced event %v", v)
	default:
	}

	p.Set(false)
	m.Check(ctx)
	if v := <-ch; v {
		t.Fatal("expected offline transition")
	}
}

func TestMonitorSlowSubscriberSeesLatest(t *testing.T) {
	p := NewManualProber(false)
	m := NewMonitor(p, time.Second)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p.Set(true)
		m.Check(ctx)
		p.Set(false)
		m.Check(ctx)
	}
	p.Set(true)
	m.Check(ctx)

	if v := <-ch; !v {
		t.Fatal("slow reader should see the latest (online) state")
	}
	select {
	case v := <-ch:
		t.Fatalf("expected a single buffered value, got extra %v", v)
	default:
	}
}

func TestMonitorUnsubscribeClosesChannel(t *testing.T) {
	m := NewMonitor(NewManualProber(true), time.Second)
	ch, unsubscribe := m.Subscribe()
	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.Check(context.Background())
}

func TestMonitorServe(t *testing.T) {
	p := NewManualProber(true)
	m := NewMonitor(p, 10*time.Millisecond)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Serve(ctx) }()

	select {
	case v := <-ch:
		if !v {
			t.Fatal("expected online from the initial probe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial probe")
	}

	p.Set(false)
	select {
	case v := <-ch:
		if v {
			t.Fatal("expected offline after prober flips")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for periodic probe")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if m.String() != "connectivity-monitor" {
		t.Errorf("String() = %q", m.String())
	}
}

func TestStoreProber(t *testing.T) {
	store := remote.NewMemoryStore()
	p := NewStoreProber(store, "inventory/probe")
	ctx := context.Background()

	if !p.Probe(ctx) {
		t.Error("missing probe document should still count as reachable")
	}
	store.SetOffline(true)
	if p.Probe(ctx) {
		t.Error("offline store should be unreachable")
	}
	if NewMemoryProber(store).Probe(ctx) {
		t.Error("memory prober should mirror the offline switch")
	}
	store.SetOffline(false)
	if !NewMemoryProber(store).Probe(ctx) {
		t.Error("memory prober should report online")
	}
}

func TestNATSProberNilConn(t *testing.T) {
	if NewNATSProber(nil).Probe(context.Background()) {
		t.Error("nil connection must not report connected")
	}
}
