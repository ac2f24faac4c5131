// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package main

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/inventory"
	"github.com/tomtom215/shelfsync/internal/remote"
)

func TestInitRemoteMemory(t *testing.T) {
	cfg := &config.Config{Remote: config.RemoteConfig{Backend: "memory"}}

	rc, err := InitRemote(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitRemote: %v", err)
	}
	defer rc.Shutdown(context.Background())

	if _, ok := rc.Store.(*remote.BreakerStore); !ok {
		t.Errorf("store = %T, want *remote.BreakerStore", rc.Store)
	}
	if !rc.Prober.Probe(context.Background()) {
		t.Error("memory backend should probe online")
	}
	if rc.URL != "" {
		t.Errorf("URL = %q, want empty", rc.URL)
	}
	if _, ok := remote.AsTransactor(rc.Store); !ok {
		t.Error("breaker-wrapped memory store should expose its transactor")
	}
}

func TestInitRemoteUnknownBackend(t *testing.T) {
	cfg := &config.Config{Remote: config.RemoteConfig{Backend: "carrier-pigeon"}}
	if _, err := InitRemote(context.Background(), cfg); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestRemoteComponentsShutdownNil(t *testing.T) {
	var rc *RemoteComponents
	rc.Shutdown(context.Background())
	(&RemoteComponents{}).Shutdown(context.Background())
}

func TestRemoteComponentsShutdownStopsEmbeddedServer(t *testing.T) {
	if testing.Short() {
		t.Skip("embedded NATS server in short mode")
	}
	srv, err := remote.NewEmbeddedServer(remote.EmbeddedConfig{Port: -1, StoreDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	if !srv.IsRunning() {
		t.Fatal("embedded server not running after start")
	}

	rc := &RemoteComponents{server: srv}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rc.Shutdown(ctx)

	if srv.IsRunning() {
		t.Error("embedded server still running after Shutdown")
	}
	// A second shutdown finds nothing left to stop.
	rc.Shutdown(ctx)
}

func TestInitAlerts(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		natsURL string
		wantErr bool
	}{
		{"channel", "channel", "", false},
		{"nats without url", "nats", "", true},
		{"unknown", "pager", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Inventory: config.InventoryConfig{
				AlertTopic:   "inventory.alerts",
				AlertBackend: tt.backend,
			}}
			a, err := InitAlerts(cfg, tt.natsURL)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("InitAlerts: %v", err)
			}
			a.Close()
		})
	}
}

func TestChannelAlertsRoundTrip(t *testing.T) {
	cfg := &config.Config{Inventory: config.InventoryConfig{
		AlertTopic:   "inventory.alerts",
		AlertBackend: "channel",
	}}
	a, err := InitAlerts(cfg, "")
	if err != nil {
		t.Fatalf("InitAlerts: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := a.Subscriber.Subscribe(ctx, a.Topic)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := a.Publisher.Publish(ctx, inventory.Alert{ItemID: "item-1", Band: inventory.BandLow}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-msgs:
		msg.Ack()
		got, err := inventory.DecodeAlert(msg)
		if err != nil {
			t.Fatalf("DecodeAlert: %v", err)
		}
		if got.ItemID != "item-1" || got.Band != inventory.BandLow {
			t.Errorf("alert = %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("alert not delivered")
	}
}
