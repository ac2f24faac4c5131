// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package outbox is the durable pending-operation queue. Operations live in
// their own partition of the local BadgerDB database:
//
//	obx|op|<seq:020d>   operation JSON, iterated in creation order
//	obx|id|<opID>       seq index
//
// State machine:
//
//	pending -> syncing -> synced (then removed)
//	                   -> failed  -> pending (ResetFailedToPending only)
//	                   -> pending (deferred, claim released)
//
// RetryCount increments only on a transition into failed.
package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/shelfsync/internal/logging"
)

const (
	prefixOp  = "obx|op|"
	prefixIdx = "obx|id|"
	seqKey    = "obx|seq"

	// seqBandwidth is how many sequence numbers Badger leases at once.
	seqBandwidth = 100
)

var (
	// ErrOperationNotFound is returned for unknown operation ids.
	ErrOperationNotFound = errors.New("outbox: operation not found")

	// ErrInvalidTransition is returned when MarkStatus is asked for a move
	// the state machine does not allow.
	ErrInvalidTransition = errors.New("outbox: invalid status transition")
)

// Outbox is the BadgerDB-backed pending-operation queue. It is safe for
// concurrent use; writers are serialized internally.
type Outbox struct {
	db  *badger.DB
	seq *badger.Sequence

	// mu serializes read-modify-write cycles.
	mu sync.Mutex

	now func() time.Time
}

// New opens the outbox partition of db.
func New(db *badger.DB) (*Outbox, error) {
	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("outbox sequence: %w", err)
	}
	return &Outbox{db: db, seq: seq, now: time.Now}, nil
}

// Close releases the leased sequence range. It must run before the
// database is closed.
func (o *Outbox) Close() error {
	return o.seq.Release()
}

func opKey(seq uint64) []byte {
	return []byte(prefixOp + fmt.Sprintf("%020d", seq))
}

func idxKey(id string) []byte {
	return []byte(prefixIdx + id)
}

// Enqueue appends an operation and returns its id. data is stored as JSON.
func (o *Outbox) Enqueue(ctx context.Context, opType string, data any, entityID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if opType == "" {
		return "", fmt.Errorf("outbox: operation type is required")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal operation data: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	seq, err := o.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next outbox sequence: %w", err)
	}

	now := o.now()
	op := &Operation{
		ID:        uuid.New().String(),
		Seq:       seq,
		Type:      opType,
		Data:      raw,
		EntityID:  entityID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.db.Update(func(txn *badger.Txn) error {
		if err := writeOp(txn, op); err != nil {
			return err
		}
		return txn.Set(idxKey(op.ID), []byte(strconv.FormatUint(seq, 10)))
	}); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", opType, err)
	}

	RecordEnqueue(opType)
	logging.Debug().
		Str("op_id", op.ID).
		Str("type", opType).
		Str("entity_id", entityID).
		Uint64("seq", seq).
		Msg("Outbox operation enqueued")
	return op.ID, nil
}

// Get returns a single operation.
func (o *Outbox) Get(ctx context.Context, id string) (*Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var op *Operation
	err := o.db.View(func(txn *badger.Txn) error {
		var err error
		op, err = readByID(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// List returns every operation still in the log, in creation order.
func (o *Outbox) List(ctx context.Context) ([]*Operation, error) {
	return o.scan(ctx, func(*Operation) bool { return true })
}

// ListPending returns pending operations whose type starts with prefix
// ("" for all), in creation order.
func (o *Outbox) ListPending(ctx context.Context, prefix string) ([]*Operation, error) {
	return o.scan(ctx, func(op *Operation) bool {
		return op.Status == StatusPending && strings.HasPrefix(op.Type, prefix)
	})
}

// HasOutstanding reports whether any operation in the log targets entityID.
func (o *Outbox) HasOutstanding(ctx context.Context, entityID string) (bool, error) {
	ops, err := o.scan(ctx, func(op *Operation) bool { return op.EntityID == entityID })
	if err != nil {
		return false, err
	}
	return len(ops) > 0, nil
}

// Counts returns per-status totals and refreshes the outstanding gauges.
func (o *Outbox) Counts(ctx context.Context) (Counts, error) {
	ops, err := o.List(ctx)
	if err != nil {
		return Counts{}, err
	}
	var c Counts
	for _, op := range ops {
		switch op.Status {
		case StatusPending:
			c.Pending++
		case StatusSyncing:
			c.Syncing++
		case StatusFailed:
			c.Failed++
		}
	}
	UpdateOutstanding(c)
	return c, nil
}

// MarkStatus moves an operation through the state machine. errMsg is kept
// as LastError when moving to failed.
func (o *Outbox) MarkStatus(ctx context.Context, id string, status Status, errMsg string) error {
	var from Status
	err := o.modify(ctx, id, func(op *Operation) error {
		if !validTransition(op.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, op.Status, status)
		}
		from = op.Status
		op.Status = status
		if status == StatusFailed {
			op.RetryCount++
			op.LastError = errMsg
		}
		return nil
	})
	if err != nil {
		return err
	}
	RecordTransition(from, status)
	return nil
}

// Checkpoint records the server id reserved for a create. Replays reuse it,
// so a create is never pushed under two ids.
func (o *Outbox) Checkpoint(ctx context.Context, id, remoteID string) error {
	return o.modify(ctx, id, func(op *Operation) error {
		op.RemoteID = remoteID
		return nil
	})
}

// Remove deletes an operation. Only called once the remote store has
// durably accepted the mutation (or on caller-driven abandonment).
func (o *Outbox) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.db.Update(func(txn *badger.Txn) error {
		op, err := readByID(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(opKey(op.Seq)); err != nil {
			return err
		}
		return txn.Delete(idxKey(id))
	})
	if err != nil {
		return err
	}
	RecordRemove()
	return nil
}

// ResetFailedToPending returns every failed operation to pending. Run at
// the start of each sync cycle so earlier partial failures are retried.
func (o *Outbox) ResetFailedToPending(ctx context.Context) (int, error) {
	return o.modifyAll(ctx, func(op *Operation) bool {
		if op.Status != StatusFailed {
			return false
		}
		op.Status = StatusPending
		RecordTransition(StatusFailed, StatusPending)
		return true
	})
}

// RecoverInterrupted marks operations left in syncing by a crash as failed.
func (o *Outbox) RecoverInterrupted(ctx context.Context) (int, error) {
	return o.modifyAll(ctx, func(op *Operation) bool {
		if op.Status != StatusSyncing {
			return false
		}
		op.Status = StatusFailed
		op.RetryCount++
		op.LastError = "interrupted while syncing"
		RecordTransition(StatusSyncing, StatusFailed)
		return true
	})
}

// RewriteEntity points every outstanding operation that references oldID
// (as its target or inside its payload) at newID instead.
func (o *Outbox) RewriteEntity(ctx context.Context, oldID, newID string) (int, error) {
	quotedOld := []byte(strconv.Quote(oldID))
	quotedNew := []byte(strconv.Quote(newID))
	return o.modifyAll(ctx, func(op *Operation) bool {
		changed := false
		if op.EntityID == oldID {
			op.EntityID = newID
			changed = true
		}
		if bytes.Contains(op.Data, quotedOld) {
			op.Data = bytes.ReplaceAll(op.Data, quotedOld, quotedNew)
			changed = true
		}
		return changed
	})
}

func (o *Outbox) scan(ctx context.Context, keep func(*Operation) bool) ([]*Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Operation
	err := o.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixOp)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var op Operation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Outbox failed to unmarshal operation")
				continue
			}
			if keep(&op) {
				out = append(out, &op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}
	return out, nil
}

func (o *Outbox) modify(ctx context.Context, id string, fn func(op *Operation) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.db.Update(func(txn *badger.Txn) error {
		op, err := readByID(txn, id)
		if err != nil {
			return err
		}
		if err := fn(op); err != nil {
			return err
		}
		op.UpdatedAt = o.now()
		return writeOp(txn, op)
	})
}

func (o *Outbox) modifyAll(ctx context.Context, fn func(op *Operation) bool) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ops, err := o.scan(ctx, func(*Operation) bool { return true })
	if err != nil {
		return 0, err
	}
	changed := 0
	err = o.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			if !fn(op) {
				continue
			}
			op.UpdatedAt = o.now()
			if err := writeOp(txn, op); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("update outbox: %w", err)
	}
	return changed, nil
}

func readByID(txn *badger.Txn, id string) (*Operation, error) {
	item, err := txn.Get(idxKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	seq, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt outbox index for %s: %w", id, err)
	}

	item, err = txn.Get(opKey(seq))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var op Operation
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &op)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal operation %s: %w", id, err)
	}
	return &op, nil
}

func writeOp(txn *badger.Txn, op *Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation %s: %w", op.ID, err)
	}
	return txn.Set(opKey(op.Seq), data)
}
