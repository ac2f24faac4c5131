// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package connectivity tracks whether the remote store is reachable.
//
// A Monitor polls a Prober at a fixed interval and publishes transitions to
// subscribers. Subscribers only ever see changes: a steady online state
// produces no events. When the monitor reports offline, the sync engine
// treats every remote call as failing immediately.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/shelfsync/internal/logging"
)

// Prober answers whether the remote is reachable right now.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Monitor tracks connectivity and fans out transitions.
type Monitor struct {
	prober   Prober
	interval time.Duration

	mu     sync.RWMutex
	online bool
	subs   map[int]chan bool
	nextID int
}

// NewMonitor creates a monitor that starts in the offline state. The first
// successful probe produces an online transition.
func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	connectivityOnline.Set(0)
	return &Monitor{
		prober:   prober,
		interval: interval,
		subs:     make(map[int]chan bool),
	}
}

// HasConnectivity reports the last observed state.
func (m *Monitor) HasConnectivity() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe returns a channel of connectivity transitions and a function
// that unsubscribes and closes it. Each channel holds at most one pending
// value; a slow reader sees the latest state rather than every flap.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Check probes once and records the result. It returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	m.set(m.prober.Probe(probeCtx))
	return m.HasConnectivity()
}

// set records state and notifies subscribers when it changed.
func (m *Monitor) set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online

	if online {
		connectivityOnline.Set(1)
		connectivityTransitions.WithLabelValues("online").Inc()
		logging.Info().Msg("Remote store reachable")
	} else {
		connectivityOnline.Set(0)
		connectivityTransitions.WithLabelValues("offline").Inc()
		logging.Warn().Msg("Remote store unreachable")
	}

	for _, ch := range m.subs {
		// Replace any unread value so the reader sees the latest state.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Serve implements suture.Service. It probes immediately, then on every
// interval until ctx is canceled.
func (m *Monitor) Serve(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (m *Monitor) String() string {
	return "connectivity-monitor"
}
