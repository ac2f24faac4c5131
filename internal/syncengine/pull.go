// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package syncengine

import (
	"context"
	"fmt"
	"sort"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
)

// PullReport summarizes a bulk pull.
type PullReport struct {
	Pulled  map[string]int    `json:"pulled"`
	Skipped []string          `json:"skipped,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Pull bulk-downloads every subtree that has not completed its initial sync
// or whose live-diff baseline is missing (the process restarted). Each
// subtree replaces its local collection wholesale, except for documents
// still waiting to be pushed. A failing subtree does not stop the others.
func (e *Engine) Pull(ctx context.Context) (PullReport, error) {
	ctx = e.logCtx(ctx)
	rep := PullReport{Pulled: make(map[string]int), Failed: make(map[string]string)}
	if !e.conn.HasConnectivity() {
		return rep, ErrOffline
	}

	for _, subtree := range e.cfg.Subtrees {
		done, err := e.store.InitialSyncDone(ctx, subtree)
		if err != nil {
			return rep, fmt.Errorf("read sync state of %s: %w", subtree, err)
		}
		if done && e.live.hasBaseline(subtree) {
			rep.Skipped = append(rep.Skipped, subtree)
			continue
		}

		n, err := e.pullSubtree(ctx, subtree)
		if err != nil {
			pullsTotal.WithLabelValues(subtree, "error").Inc()
			rep.Failed[subtree] = err.Error()
			logging.Ctx(ctx).Warn().Err(err).Str("subtree", subtree).Msg("Bulk pull failed")
			continue
		}
		pullsTotal.WithLabelValues(subtree, "success").Inc()
		rep.Pulled[subtree] = n
	}

	if len(rep.Failed) > 0 {
		return rep, fmt.Errorf("bulk pull failed for %d of %d subtrees", len(rep.Failed), len(e.cfg.Subtrees))
	}
	return rep, nil
}

func (e *Engine) pullSubtree(ctx context.Context, subtree string) (int, error) {
	limit := 0
	if e.cfg.isAppendOnly(subtree) {
		limit = e.cfg.AppendOnlyLimit
	}
	children, err := e.remoteList(ctx, subtree, limit)
	if err != nil {
		return 0, err
	}

	local, err := e.store.GetAll(ctx, subtree)
	if err != nil {
		return 0, err
	}
	queued, err := e.queuedEntities(ctx)
	if err != nil {
		return 0, err
	}

	// Entities with queued operations keep their local state, including
	// being absent after an offline delete, until the queue is pushed.
	docs := make(map[string]store.Document, len(children))
	baseline := make(map[string]remote.Document, len(children))
	for id, doc := range children {
		if queued[id] {
			continue
		}
		docs[id] = doc
		baseline[id] = doc
	}
	kept := 0
	for id, doc := range local {
		if queued[id] || pendingLocally(doc) {
			docs[id] = doc
			kept++
		}
	}

	if err := e.store.ReplaceCollection(ctx, subtree, docs); err != nil {
		return 0, err
	}
	if err := e.store.SetInitialSync(ctx, subtree, true); err != nil {
		return 0, err
	}
	e.live.setBaseline(subtree, baseline)

	logging.Ctx(ctx).Info().
		Str("subtree", subtree).
		Int("documents", len(children)).
		Int("kept_local", kept).
		Int("limit", limit).
		Msg("Subtree pulled")
	return len(children), nil
}

// queuedEntities returns the ids of entities with operations in the outbox.
func (e *Engine) queuedEntities(ctx context.Context) (map[string]bool, error) {
	ops, err := e.outbox.List(ctx)
	if err != nil {
		return nil, err
	}
	queued := make(map[string]bool, len(ops))
	for _, op := range ops {
		queued[op.EntityID] = true
	}
	return queued, nil
}

// pendingLocally reports whether a local document carries changes not yet
// pushed.
func pendingLocally(doc store.Document) bool {
	v, _ := doc[store.FieldNeedsSync].(bool)
	return v
}

// lastChildren keeps the n children with the greatest keys. Push ids sort
// chronologically, so these are the most recent.
func lastChildren(children map[string]remote.Document, n int) map[string]remote.Document {
	if n <= 0 || len(children) <= n {
		return children
	}
	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]remote.Document, n)
	for _, k := range keys[len(keys)-n:] {
		out[k] = children[k]
	}
	return out
}
