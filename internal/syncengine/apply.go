// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
	"github.com/tomtom215/shelfsync/internal/tempid"
)

// Result is the outcome of EnqueueOrApply.
type Result struct {
	// ID is the target entity id: a server id when applied directly, a temp
	// id for creates queued offline.
	ID          string `json:"id"`
	Temp        bool   `json:"temp"`
	Queued      bool   `json:"queued"`
	OperationID string `json:"operationId,omitempty"`
}

// EnqueueOrApply performs a caller mutation.
//
// Online, with nothing queued for the target or the entities it references,
// the mutation is written to the remote store and mirrored locally. Otherwise
// (offline, queued predecessors, temp ids involved, or a transient remote
// failure) it is applied optimistically to the local store and appended to
// the outbox. Creates without an id get a server id online and a temp id
// offline.
//
// Remote rejections and validation errors are returned; nothing is queued.
func (e *Engine) EnqueueOrApply(ctx context.Context, m mutation.Mutation) (Result, error) {
	ctx = e.logCtx(ctx)

	var reserved string
	if c, ok := m.(mutation.Creator); ok && m.Target() == "" {
		reserved = remote.NewPushID()
		c.AssignID(reserved)
	}
	mutation.Prepare(m, e.now())
	if err := mutation.Validate(m); err != nil {
		return Result{}, err
	}

	if e.conn.HasConnectivity() {
		queue, err := e.mustQueue(ctx, m)
		if err != nil {
			return Result{}, err
		}
		if !queue {
			res, err := e.applyDirect(ctx, m)
			if err == nil {
				return res, nil
			}
			if !remote.IsTransient(err) {
				directWritesTotal.WithLabelValues(m.Type(), "error").Inc()
				return Result{}, err
			}
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("type", m.Type()).
				Str("entity_id", m.Target()).
				Msg("Direct write failed, queueing for sync")
		}
	}

	return e.enqueueLocal(ctx, m, reserved)
}

// mustQueue reports whether m has to wait behind the outbox: its target or
// a referenced entity is still a temp id or has operations queued.
func (e *Engine) mustQueue(ctx context.Context, m mutation.Mutation) (bool, error) {
	ids := append([]string{m.Target()}, m.References()...)
	if tempid.AnyTemp(ids) {
		return true, nil
	}
	for _, id := range ids {
		outstanding, err := e.outbox.HasOutstanding(ctx, id)
		if err != nil {
			return false, fmt.Errorf("check outbox for %s: %w", id, err)
		}
		if outstanding {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) applyDirect(ctx context.Context, m mutation.Mutation) (Result, error) {
	id := m.Target()
	writes, applied, err := e.applyRemote(ctx, m, id)
	if err != nil {
		return Result{}, err
	}
	if applied {
		if err := e.applyLocal(ctx, writes, confirmedExtra(m)); err != nil {
			// The remote store has the data; live-diff or the next pull
			// brings the local copy up to date.
			logging.Ctx(ctx).Warn().Err(err).Str("entity_id", id).Msg("Failed to mirror direct write locally")
		}
	}
	directWritesTotal.WithLabelValues(m.Type(), "applied").Inc()
	e.fireApplied(ctx, Applied{Mutation: m, ID: id})
	return Result{ID: id}, nil
}

// enqueueLocal is the offline path: the operation is appended to the outbox
// first so a local storage failure never loses the intent, then the plan is
// applied to the local store with the sync attributes set.
func (e *Engine) enqueueLocal(ctx context.Context, m mutation.Mutation, reserved string) (Result, error) {
	temp := false
	if c, ok := m.(mutation.Creator); ok && (reserved != "" || tempid.IsTemp(m.Target())) {
		if !tempid.IsTemp(m.Target()) {
			c.AssignID(tempid.Generate())
		}
		temp = true
	}
	id := m.Target()

	var current remote.Document
	if m.NeedsCurrent() {
		doc, err := e.store.Get(ctx, m.Collection(), id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Result{}, err
		}
		current = doc
	}
	writes, err := m.Plan(id, current)
	if err != nil {
		return Result{}, err
	}

	data, err := mutation.Encode(m)
	if err != nil {
		return Result{}, err
	}
	opID, err := e.outbox.Enqueue(ctx, m.Type(), data, id)
	if err != nil {
		return Result{}, err
	}
	if reserved != "" {
		if err := e.outbox.Checkpoint(ctx, opID, reserved); err != nil {
			return Result{}, fmt.Errorf("reserve id for %s: %w", id, err)
		}
	}

	extra := store.Document{store.FieldNeedsSync: true}
	if temp {
		extra[store.FieldCreatedOfflineAt] = e.now().UnixMilli()
	}
	if m.Kind() == mutation.KindTransaction {
		extra[mutation.FieldSyncStatus] = "pending"
	}
	if err := e.applyLocal(ctx, writes, extra); err != nil {
		return Result{}, fmt.Errorf("apply %s locally (operation %s stays queued): %w", m.Type(), opID, err)
	}

	logging.Ctx(ctx).Debug().
		Str("op_id", opID).
		Str("type", m.Type()).
		Str("entity_id", id).
		Bool("temp", temp).
		Msg("Mutation queued for sync")
	e.publishStatus(ctx)
	return Result{ID: id, Temp: temp, Queued: true, OperationID: opID}, nil
}

// confirmedExtra is merged into local documents once m is accepted remotely.
func confirmedExtra(m mutation.Mutation) store.Document {
	extra := confirmedFields()
	if m.Kind() == mutation.KindTransaction {
		extra[mutation.FieldSyncStatus] = "synced"
		extra[mutation.FieldSyncError] = nil
	}
	return extra
}

// ForceFullUpload enqueues an upsert for every locally held entity that has
// nothing queued yet, regardless of its needsSync flag. Used for disaster
// recovery after long offline periods. Returns the number of operations
// enqueued.
func (e *Engine) ForceFullUpload(ctx context.Context) (int, error) {
	ctx = e.logCtx(ctx)

	ops, err := e.outbox.List(ctx)
	if err != nil {
		return 0, err
	}
	queued := make(map[string]bool, len(ops))
	for _, op := range ops {
		queued[op.EntityID] = true
	}

	n := 0
	for _, subtree := range e.cfg.Subtrees {
		docs, err := e.store.GetAll(ctx, subtree)
		if err != nil {
			return n, fmt.Errorf("read %s: %w", subtree, err)
		}
		ids := make([]string, 0, len(docs))
		for id := range docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			if queued[id] {
				continue
			}
			m := &mutation.UpsertDocument{ID: id, Into: subtree, Document: store.StripSyncFields(docs[id])}
			if err := mutation.Validate(m); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("collection", subtree).Str("id", id).Msg("Skipping invalid document in full upload")
				continue
			}
			data, err := mutation.Encode(m)
			if err != nil {
				return n, err
			}
			if _, err := e.outbox.Enqueue(ctx, m.Type(), data, id); err != nil {
				return n, err
			}
			n++
		}
	}

	fullUploadEnqueuedTotal.Add(float64(n))
	logging.Ctx(ctx).Info().Int("operations", n).Msg("Full upload enqueued")
	e.publishStatus(ctx)
	return n, nil
}
