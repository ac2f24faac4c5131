// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package syncengine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
)

// fieldUpdatedAt is the update timestamp compared by Diff.
const fieldUpdatedAt = "updatedAt"

// Delta is the difference between two snapshots of one subtree.
type Delta struct {
	Added   map[string]remote.Document
	Changed map[string]remote.Document
	Removed []string
}

// Empty reports whether the snapshots were equivalent.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// Diff compares the last known children of a subtree with a new snapshot.
// A child present in both is changed when its updatedAt differs; children
// without updatedAt are compared in full.
func Diff(previous, current map[string]remote.Document) Delta {
	d := Delta{
		Added:   make(map[string]remote.Document),
		Changed: make(map[string]remote.Document),
	}
	for id, doc := range current {
		prev, ok := previous[id]
		if !ok {
			d.Added[id] = doc
			continue
		}
		if changed(prev, doc) {
			d.Changed[id] = doc
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}

func changed(prev, cur remote.Document) bool {
	pv, pok := prev[fieldUpdatedAt]
	cv, cok := cur[fieldUpdatedAt]
	if !pok && !cok {
		return !reflect.DeepEqual(prev, cur)
	}
	if pok != cok {
		return true
	}
	pi, pNum := store.IntField(prev, fieldUpdatedAt)
	ci, cNum := store.IntField(cur, fieldUpdatedAt)
	if pNum && cNum {
		return pi != ci
	}
	return !reflect.DeepEqual(pv, cv)
}

// liveDiff holds the last-known snapshots and the running subscriptions.
// The snapshots outlive pause/resume so a resumed subscription only applies
// what changed while paused.
type liveDiff struct {
	mu      sync.Mutex
	known   map[string]map[string]remote.Document
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newLiveDiff() *liveDiff {
	return &liveDiff{known: make(map[string]map[string]remote.Document)}
}

func (l *liveDiff) hasBaseline(subtree string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.known[subtree]
	return ok
}

func (l *liveDiff) baseline(subtree string) map[string]remote.Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.known[subtree]
}

func (l *liveDiff) setBaseline(subtree string, children map[string]remote.Document) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.known[subtree] = children
}

// stopFromWatcher ends all subscriptions after one of them died. It does
// not wait: the caller is one of the goroutines being waited for.
func (l *liveDiff) stopFromWatcher() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	l.cancel()
	liveDiffActive.Set(0)
}

// LiveDiffRunning reports whether subscriptions are active.
func (e *Engine) LiveDiffRunning() bool {
	e.live.mu.Lock()
	defer e.live.mu.Unlock()
	return e.live.running
}

// StartLiveDiff subscribes to every subtree. Subscriptions run until
// PauseLiveDiff or ctx is canceled. Calling it while running is a no-op.
// Subtrees without a baseline should be pulled first (see Pull); otherwise
// their first snapshot is applied as all-new.
func (e *Engine) StartLiveDiff(ctx context.Context) error {
	ctx = e.logCtx(ctx)
	e.live.mu.Lock()
	defer e.live.mu.Unlock()

	if e.live.running {
		return nil
	}
	if !e.conn.HasConnectivity() {
		return ErrOffline
	}

	runCtx, cancel := context.WithCancel(ctx)
	subs := make([]*remote.Subscription, 0, len(e.cfg.Subtrees))
	for _, subtree := range e.cfg.Subtrees {
		sub, err := e.remote.Watch(runCtx, subtree)
		if err != nil {
			cancel()
			for _, s := range subs {
				s.Cancel()
			}
			return fmt.Errorf("watch %s: %w", subtree, err)
		}
		subs = append(subs, sub)
	}

	e.live.running = true
	e.live.cancel = cancel
	for _, sub := range subs {
		e.live.wg.Add(1)
		go e.watchLoop(runCtx, sub)
	}
	liveDiffActive.Set(1)
	logging.Ctx(ctx).Info().Int("subtrees", len(subs)).Msg("Live-diff started")
	return nil
}

// PauseLiveDiff cancels the subscriptions and waits for them to stop. The
// last-known snapshots are kept.
func (e *Engine) PauseLiveDiff() {
	e.live.mu.Lock()
	if !e.live.running {
		e.live.mu.Unlock()
		return
	}
	e.live.running = false
	cancel := e.live.cancel
	e.live.mu.Unlock()

	cancel()
	e.live.wg.Wait()
	liveDiffActive.Set(0)
	logging.Info().Msg("Live-diff paused")
}

// ResumeLiveDiff restarts paused subscriptions.
func (e *Engine) ResumeLiveDiff(ctx context.Context) error {
	return e.StartLiveDiff(ctx)
}

// watchLoop consumes one subscription. Snapshots that arrive during the
// grace window after subscribing are held; only the latest is applied when
// the window closes.
func (e *Engine) watchLoop(ctx context.Context, sub *remote.Subscription) {
	defer e.live.wg.Done()
	defer sub.Cancel()

	var (
		held   *remote.Snapshot
		graceC <-chan time.Time
	)
	if e.cfg.GraceWindow > 0 {
		timer := time.NewTimer(e.cfg.GraceWindow)
		defer timer.Stop()
		graceC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.Events():
			if !ok {
				if ctx.Err() == nil {
					logging.Ctx(ctx).Warn().Str("subtree", sub.Path()).Msg("Live-diff subscription ended unexpectedly")
					e.live.stopFromWatcher()
				}
				return
			}
			if graceC != nil {
				held = &snap
				continue
			}
			e.applySnapshot(ctx, snap)
		case <-graceC:
			graceC = nil
			if held != nil {
				e.applySnapshot(ctx, *held)
				held = nil
			}
		}
	}
}

// applySnapshot diffs a snapshot against the last-known one and writes the
// delta. Entities with queued operations are skipped so optimistic local
// state survives until it is pushed.
func (e *Engine) applySnapshot(ctx context.Context, snap remote.Snapshot) {
	subtree := snap.Path
	children := snap.Children
	if e.cfg.isAppendOnly(subtree) {
		children = lastChildren(children, e.cfg.AppendOnlyLimit)
	}

	d := Diff(e.live.baseline(subtree), children)
	if d.Empty() {
		e.live.setBaseline(subtree, children)
		return
	}

	queued, err := e.queuedEntities(ctx)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("subtree", subtree).Msg("Live-diff could not read outbox")
		return
	}

	// Skipped entities keep their previous baseline entry, so the remote
	// change still shows up as a delta once the queue no longer holds them.
	prev := e.live.baseline(subtree)
	next := make(map[string]remote.Document, len(children))
	for id, doc := range children {
		next[id] = doc
	}
	skip := func(id string) {
		if doc, ok := prev[id]; ok {
			next[id] = doc
		} else {
			delete(next, id)
		}
	}

	upserts := make(map[string]store.Document, len(d.Added)+len(d.Changed))
	for id, doc := range d.Added {
		if queued[id] {
			skip(id)
			continue
		}
		upserts[id] = doc
	}
	for id, doc := range d.Changed {
		if queued[id] {
			skip(id)
			continue
		}
		upserts[id] = doc
	}
	deletes := make([]string, 0, len(d.Removed))
	for _, id := range d.Removed {
		if queued[id] {
			skip(id)
			continue
		}
		deletes = append(deletes, id)
	}

	if err := e.store.ApplyPulled(ctx, subtree, upserts, deletes); err != nil {
		// Keep the old baseline so the next snapshot retries the delta.
		logging.Ctx(ctx).Error().Err(err).Str("subtree", subtree).Msg("Failed to apply live-diff delta")
		return
	}
	e.live.setBaseline(subtree, next)

	liveDiffChangesTotal.WithLabelValues(subtree, "added").Add(float64(len(d.Added)))
	liveDiffChangesTotal.WithLabelValues(subtree, "changed").Add(float64(len(d.Changed)))
	liveDiffChangesTotal.WithLabelValues(subtree, "removed").Add(float64(len(d.Removed)))
	logging.Ctx(ctx).Debug().
		Str("subtree", subtree).
		Int("added", len(d.Added)).
		Int("changed", len(d.Changed)).
		Int("removed", len(d.Removed)).
		Int("skipped_queued", len(d.Added)+len(d.Changed)+len(d.Removed)-len(upserts)-len(deletes)).
		Msg("Live-diff applied")
}
