// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package connectivity

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/tomtom215/shelfsync/internal/remote"
)

// ManualProber reports whatever it was last told. Used in tests and by the
// in-memory remote backend.
type ManualProber struct {
	online atomic.Bool
}

// NewManualProber creates a prober with the given initial state.
func NewManualProber(online bool) *ManualProber {
	p := &ManualProber{}
	p.online.Store(online)
	return p
}

// Set changes the reported state.
func (p *ManualProber) Set(online bool) { p.online.Store(online) }

// Probe implements Prober.
func (p *ManualProber) Probe(context.Context) bool { return p.online.Load() }

// NATSProber reports the client connection status without a round trip.
type NATSProber struct {
	nc *nats.Conn
}

// NewNATSProber wraps a NATS connection.
func NewNATSProber(nc *nats.Conn) *NATSProber {
	return &NATSProber{nc: nc}
}

// Probe implements Prober.
func (p *NATSProber) Probe(context.Context) bool {
	return p.nc != nil && p.nc.Status() == nats.CONNECTED
}

// StoreProber issues a cheap read against the remote store. A NotFound
// answer still proves the store is reachable.
type StoreProber struct {
	store remote.Store
	path  string
}

// NewStoreProber probes store by reading path.
func NewStoreProber(store remote.Store, path string) *StoreProber {
	return &StoreProber{store: store, path: path}
}

// Probe implements Prober.
func (p *StoreProber) Probe(ctx context.Context) bool {
	_, err := p.store.Get(ctx, p.path)
	return err == nil || errors.Is(err, remote.ErrNotFound)
}

// MemoryProber mirrors the offline switch of an in-memory remote store.
type MemoryProber struct {
	store *remote.MemoryStore
}

// NewMemoryProber wraps a MemoryStore.
func NewMemoryProber(store *remote.MemoryStore) *MemoryProber {
	return &MemoryProber{store: store}
}

// Probe implements Prober.
func (p *MemoryProber) Probe(context.Context) bool { return !p.store.Offline() }
