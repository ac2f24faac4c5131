// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/shelfsync/internal/logging"
)

// Status is the sync state shown to users.
type Status struct {
	HasPending   bool       `json:"hasPending"`
	PendingCount int        `json:"pendingCount"`
	FailedCount  int        `json:"failedCount"`
	IsSyncing    bool       `json:"isSyncing"`
	Online       bool       `json:"online"`
	LiveDiff     bool       `json:"liveDiff"`
	Message      string     `json:"message"`
	LastSync     *time.Time `json:"lastSync,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Status computes the current status.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	counts, err := e.outbox.Counts(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count outbox: %w", err)
	}
	s := Status{
		PendingCount: counts.Total(),
		FailedCount:  counts.Failed,
		HasPending:   counts.Total() > 0,
		IsSyncing:    e.syncing.Load(),
		Online:       e.conn.HasConnectivity(),
		LiveDiff:     e.LiveDiffRunning(),
		UpdatedAt:    e.now(),
	}
	if ms := e.lastSync.Load(); ms > 0 {
		t := time.UnixMilli(ms)
		s.LastSync = &t
	}
	s.Message = statusMessage(s)
	return s, nil
}

func statusMessage(s Status) string {
	switch {
	case s.IsSyncing && s.PendingCount > 0:
		return fmt.Sprintf("Syncing %s", plural(s.PendingCount, "change"))
	case s.IsSyncing:
		return "Syncing"
	case !s.Online && s.PendingCount > 0:
		return fmt.Sprintf("Offline: %s saved on this device", plural(s.PendingCount, "change"))
	case !s.Online:
		return "Offline"
	case s.FailedCount > 0:
		return fmt.Sprintf("%s failed to sync, will retry", plural(s.FailedCount, "change"))
	case s.PendingCount > 0:
		return fmt.Sprintf("%s waiting to sync", plural(s.PendingCount, "change"))
	default:
		return "All changes synced"
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// SubscribeStatus returns a stream of status updates and a function that
// ends the subscription. The latest known status is delivered first; a slow
// reader only ever sees the newest value.
func (e *Engine) SubscribeStatus() (<-chan Status, func()) {
	return e.status.subscribe()
}

// PublishStatus recomputes the status and broadcasts it.
func (e *Engine) PublishStatus(ctx context.Context) {
	e.publishStatus(ctx)
}

func (e *Engine) publishStatus(ctx context.Context) {
	s, err := e.Status(context.WithoutCancel(ctx))
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Msg("Status unavailable")
		return
	}
	e.status.publish(s)
}

type statusBroadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Status
	next int
	last *Status
}

func newStatusBroadcaster() *statusBroadcaster {
	return &statusBroadcaster{subs: make(map[int]chan Status)}
}

func (b *statusBroadcaster) subscribe() (<-chan Status, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Status, 1)
	if b.last != nil {
		ch <- *b.last
	}
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *statusBroadcaster) publish(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &s
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
