// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

/*
drain.go - Outbox Push Protocol

A drain cycle resets failed operations to pending and then makes up to
MaxPasses passes over the pending queue. Within a pass:

  - Operations of one entity are replayed strictly in creation order. Once an
    entity is blocked (deferral, or an operation waiting in the batch) its
    later operations wait for the next pass. A failed operation holds its
    entity for the rest of the cycle, so nothing newer overtakes it.
  - Operations whose target or references are still temp ids are deferred:
    the create they depend on has not been reconciled yet.
  - Commutative operations (pure updates and deletes of server-known ids)
    of different entities are coalesced into one multi-path write, sent at
    the end of the pass. If that write fails, each is retried on its own so
    one rejection does not fail its neighbours.
  - Everything else is replayed immediately.

A failure marks the operation failed and moves on. The cycle ends when the
queue is empty, a pass makes no progress, or MaxPasses is reached.
*/

//nolint:staticcheck // File documentation, not package doc
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/outbox"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
	"github.com/tomtom215/shelfsync/internal/tempid"
)

// DrainReport summarizes one drain cycle.
type DrainReport struct {
	CorrelationID string          `json:"correlationId"`
	Passes        int             `json:"passes"`
	Applied       int             `json:"applied"`
	AlreadyDone   int             `json:"alreadyDone"`
	Failed        int             `json:"failed"`
	Deferred      int             `json:"deferred"`
	Batches       int             `json:"batches"`
	Reset         int             `json:"reset"`
	Reconciled    []tempid.Result `json:"reconciled,omitempty"`
	Duration      time.Duration   `json:"duration"`
}

type queuedOp struct {
	op     *outbox.Operation
	m      mutation.Mutation
	writes mutation.Writes
}

// Drain pushes the outbox to the remote store. Overlapping calls return
// ErrAlreadySyncing; calls without connectivity return ErrOffline. A drain
// with nothing pending is a successful no-op.
func (e *Engine) Drain(ctx context.Context) (DrainReport, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		drainCyclesTotal.WithLabelValues("busy").Inc()
		return DrainReport{}, ErrAlreadySyncing
	}
	syncingGauge.Set(1)

	ctx = logging.ContextWithNewCorrelationID(e.logCtx(ctx))
	defer func() {
		e.syncing.Store(false)
		syncingGauge.Set(0)
		e.publishStatus(ctx)
	}()

	if !e.conn.HasConnectivity() {
		drainCyclesTotal.WithLabelValues("offline").Inc()
		return DrainReport{}, ErrOffline
	}

	start := time.Now()
	rep := DrainReport{CorrelationID: logging.CorrelationIDFromContext(ctx)}
	log := logging.Ctx(ctx)
	e.publishStatus(ctx)

	reset, err := e.outbox.ResetFailedToPending(ctx)
	if err != nil {
		drainCyclesTotal.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("reset failed operations: %w", err)
	}
	rep.Reset = reset

	for rep.Passes < e.cfg.MaxPasses {
		ops, err := e.outbox.List(ctx)
		if err != nil {
			drainCyclesTotal.WithLabelValues("error").Inc()
			return rep, fmt.Errorf("list operations: %w", err)
		}
		if !anyPending(ops) {
			break
		}
		rep.Passes++
		if e.drainPass(ctx, ops, &rep) == 0 {
			break
		}
	}

	remaining, err := e.outbox.ListPending(ctx, "")
	if err == nil {
		rep.Deferred = len(remaining)
	}
	rep.Duration = time.Since(start)
	e.lastSync.Store(time.Now().UnixMilli())

	result := "success"
	if rep.Failed > 0 {
		result = "partial"
	}
	drainCyclesTotal.WithLabelValues(result).Inc()
	drainDuration.Observe(rep.Duration.Seconds())

	if rep.Passes > 0 {
		log.Info().
			Int("passes", rep.Passes).
			Int("applied", rep.Applied).
			Int("already_done", rep.AlreadyDone).
			Int("failed", rep.Failed).
			Int("deferred", rep.Deferred).
			Int("batches", rep.Batches).
			Int("reconciled", len(rep.Reconciled)).
			Dur("duration", rep.Duration).
			Msg("Drain cycle completed")
	}
	return rep, nil
}

func anyPending(ops []*outbox.Operation) bool {
	for _, op := range ops {
		if op.Status == outbox.StatusPending {
			return true
		}
	}
	return false
}

// drainPass processes one snapshot of the outbox and returns the number of
// operations completed. ops is the whole log in creation order: failed and
// in-flight entries are not replayed but block later operations on their
// entity.
func (e *Engine) drainPass(ctx context.Context, ops []*outbox.Operation, rep *DrainReport) int {
	blocked := make(map[string]bool)
	inBatch := make(map[string]bool)
	var batch []queuedOp
	progress := 0

	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		entity := op.EntityID
		switch op.Status {
		case outbox.StatusFailed, outbox.StatusSyncing:
			blocked[entity] = true
			continue
		case outbox.StatusPending:
		default:
			continue
		}
		if blocked[entity] {
			continue
		}

		m, err := mutation.Decode(op.Type, op.Data)
		if err != nil {
			// Undecodable payloads can never succeed; they stay failed for
			// operator attention.
			if markErr := e.outbox.MarkStatus(ctx, op.ID, outbox.StatusSyncing, ""); markErr == nil {
				e.failOp(ctx, op, nil, err)
			}
			rep.Failed++
			blocked[entity] = true
			continue
		}

		_, isCreate := m.(mutation.Creator)
		targetTemp := tempid.IsTemp(m.Target())
		if (targetTemp && !isCreate) || tempid.AnyTemp(m.References()) {
			opsDeferredTotal.Inc()
			blocked[entity] = true
			continue
		}

		if inBatch[entity] {
			blocked[entity] = true
			continue
		}

		if m.Commutative() && !targetTemp {
			writes, err := m.Plan(m.Target(), nil)
			if err != nil {
				if markErr := e.outbox.MarkStatus(ctx, op.ID, outbox.StatusSyncing, ""); markErr == nil {
					e.failOp(ctx, op, m, err)
				}
				rep.Failed++
				blocked[entity] = true
				continue
			}
			batch = append(batch, queuedOp{op: op, m: m, writes: writes})
			inBatch[entity] = true
			continue
		}

		if err := e.replayOne(ctx, op, m, rep); err != nil {
			blocked[entity] = true
			continue
		}
		progress++
	}

	return progress + e.flushBatch(ctx, batch, rep)
}

// replayOne applies a single operation. Creates of temp-id entities write
// under the id reserved in the outbox (reserving one first if needed), so a
// replay after a crash targets the same remote path.
func (e *Engine) replayOne(ctx context.Context, op *outbox.Operation, m mutation.Mutation, rep *DrainReport) error {
	if err := e.outbox.MarkStatus(ctx, op.ID, outbox.StatusSyncing, ""); err != nil {
		return err
	}

	id := m.Target()
	var tempID string
	if _, ok := m.(mutation.Creator); ok && tempid.IsTemp(id) {
		tempID = id
		id = op.RemoteID
		if id == "" {
			id = remote.NewPushID()
			if err := e.outbox.Checkpoint(ctx, op.ID, id); err != nil {
				e.failOp(ctx, op, m, err)
				rep.Failed++
				return err
			}
		}
	}

	writes, applied, err := e.applyRemote(ctx, m, id)
	if err != nil {
		e.failOp(ctx, op, m, err)
		rep.Failed++
		return err
	}
	if !applied {
		rep.AlreadyDone++
		logging.Ctx(ctx).Debug().Str("op_id", op.ID).Str("type", op.Type).Msg("Operation already applied remotely")
	}
	return e.completeOp(ctx, op, m, id, tempID, writes, rep)
}

// flushBatch sends the coalesced writes of a pass and returns the number of
// operations completed.
func (e *Engine) flushBatch(ctx context.Context, batch []queuedOp, rep *DrainReport) int {
	if len(batch) == 0 {
		return 0
	}

	started := make([]queuedOp, 0, len(batch))
	merged := make(mutation.Writes)
	for _, q := range batch {
		if err := e.outbox.MarkStatus(ctx, q.op.ID, outbox.StatusSyncing, ""); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("op_id", q.op.ID).Msg("Failed to start batched operation")
			continue
		}
		started = append(started, q)
		for p, doc := range q.writes {
			merged[p] = doc
		}
	}
	if len(started) == 0 {
		return 0
	}

	progress := 0
	err := e.remoteUpdate(ctx, merged)
	if err == nil {
		rep.Batches++
		batchSize.Observe(float64(len(started)))
		for _, q := range started {
			if e.completeOp(ctx, q.op, q.m, q.m.Target(), "", q.writes, rep) == nil {
				progress++
			}
		}
		return progress
	}

	if len(started) == 1 {
		e.failOp(ctx, started[0].op, started[0].m, err)
		rep.Failed++
		return 0
	}

	logging.Ctx(ctx).Debug().Err(err).Int("operations", len(started)).Msg("Batched write failed, retrying operations individually")
	for _, q := range started {
		if err := e.remoteUpdate(ctx, q.writes); err != nil {
			e.failOp(ctx, q.op, q.m, err)
			rep.Failed++
			continue
		}
		if e.completeOp(ctx, q.op, q.m, q.m.Target(), "", q.writes, rep) == nil {
			progress++
		}
	}
	return progress
}

// completeOp finishes an operation the remote store accepted: reconcile a
// temp id, mirror the writes locally, run hooks, then remove the entry.
func (e *Engine) completeOp(ctx context.Context, op *outbox.Operation, m mutation.Mutation, id, tempID string, writes mutation.Writes, rep *DrainReport) error {
	extra := confirmedExtra(m)

	if tempID != "" {
		res, err := e.reconciler.Reconcile(ctx, m.Collection(), tempID, id, extra)
		if err != nil {
			// The remote write stays valid; the reserved id makes the retry
			// land on the same path.
			e.failOp(ctx, op, m, err)
			rep.Failed++
			return err
		}
		rep.Reconciled = append(rep.Reconciled, res)
		reconciledTotal.Inc()
	}

	if writes != nil {
		if err := e.applyLocal(ctx, writes, extra); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("op_id", op.ID).Msg("Failed to mirror synced operation locally")
		}
	} else {
		e.markLocal(ctx, m.Collection(), id, extra)
	}

	e.fireApplied(ctx, Applied{OperationID: op.ID, Mutation: m, ID: id, TempID: tempID})

	if err := e.outbox.MarkStatus(ctx, op.ID, outbox.StatusSynced, ""); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("op_id", op.ID).Msg("Failed to mark operation synced")
		return err
	}
	if err := e.outbox.Remove(ctx, op.ID); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("op_id", op.ID).Msg("Failed to remove synced operation")
		return err
	}

	rep.Applied++
	opsAppliedTotal.WithLabelValues(op.Type).Inc()
	return nil
}

// failOp moves a syncing operation to failed and records why.
func (e *Engine) failOp(ctx context.Context, op *outbox.Operation, m mutation.Mutation, cause error) {
	msg := cause.Error()
	if err := e.outbox.MarkStatus(ctx, op.ID, outbox.StatusFailed, msg); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("op_id", op.ID).Msg("Failed to mark operation failed")
	}

	class := classify(cause)
	opsFailedTotal.WithLabelValues(op.Type, class).Inc()

	event := logging.Ctx(ctx).Warn()
	if class == "rejected" {
		event = logging.Ctx(ctx).Error()
	}
	event.Err(cause).
		Str("op_id", op.ID).
		Str("type", op.Type).
		Str("entity_id", op.EntityID).
		Str("class", class).
		Msg("Operation failed to sync")

	if m != nil && m.Kind() == mutation.KindTransaction {
		e.markLocal(ctx, m.Collection(), m.Target(), store.Document{
			mutation.FieldSyncStatus: "failed",
			mutation.FieldSyncError:  msg,
		})
	}
}

// markLocal patches an existing local document; missing documents are left
// alone.
func (e *Engine) markLocal(ctx context.Context, collection, id string, patch store.Document) {
	doc, err := e.store.Get(ctx, collection, id)
	if err != nil {
		return
	}
	if err := e.store.Put(ctx, collection, id, remote.Merge(doc, patch)); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("collection", collection).Str("id", id).Msg("Failed to update local sync status")
	}
}

// classify maps an error onto the failure taxonomy used in metrics and logs.
func classify(err error) string {
	switch {
	case remote.IsTransient(err):
		return "transient"
	case errors.Is(err, remote.ErrRejected):
		return "rejected"
	case errors.Is(err, mutation.ErrTargetMissing),
		errors.Is(err, mutation.ErrUnknownType),
		errors.Is(err, remote.ErrInvalidPath):
		return "invalid"
	default:
		return "storage"
	}
}
