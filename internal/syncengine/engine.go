// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package syncengine reconciles the local store with the remote store.
//
// The engine runs three protocols:
//
//   - Push (Drain): replays outbox operations against the remote store in
//     creation order per entity, batching commutative updates of different
//     entities into one multi-path write.
//   - Pull: bulk-downloads watched subtrees that have never been synced (or
//     whose live-diff baseline was lost with a restart).
//   - Live-diff: keeps one subscription per subtree and applies the
//     add/update/remove delta between successive snapshots.
//
// Callers mutate data through EnqueueOrApply, which writes straight to the
// remote store when it can and falls back to an optimistic local write plus
// an outbox entry otherwise.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/outbox"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
	"github.com/tomtom215/shelfsync/internal/tempid"
)

var (
	// ErrAlreadySyncing is returned by Drain when another drain is running.
	ErrAlreadySyncing = errors.New("syncengine: drain already in progress")

	// ErrOffline is returned by operations that need the remote store while
	// the connectivity monitor reports no connectivity.
	ErrOffline = errors.New("syncengine: offline")
)

// Connectivity is the engine's view of the connectivity monitor.
type Connectivity interface {
	HasConnectivity() bool
}

// Config configures the engine.
type Config struct {
	// DeviceID is attached to every log line of the engine.
	DeviceID string

	// CallTimeout bounds each remote call.
	CallTimeout time.Duration

	// MaxPasses bounds the queue passes of one drain.
	MaxPasses int

	// GraceWindow holds live-diff snapshots after subscribing.
	GraceWindow time.Duration

	// AppendOnlyLimit caps pulls of append-only subtrees.
	AppendOnlyLimit int

	// Subtrees are mirrored into local collections of the same name.
	Subtrees []string

	// AppendOnly lists the capped subtrees.
	AppendOnly []string
}

func (c *Config) applyDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.MaxPasses <= 0 {
		c.MaxPasses = 8
	}
	if c.AppendOnlyLimit <= 0 {
		c.AppendOnlyLimit = 500
	}
}

func (c *Config) isAppendOnly(subtree string) bool {
	for _, s := range c.AppendOnly {
		if s == subtree {
			return true
		}
	}
	return false
}

// Applied describes a mutation accepted by the remote store.
type Applied struct {
	// OperationID is empty for mutations applied directly (online path).
	OperationID string
	Mutation    mutation.Mutation
	// ID is the server id of the target entity.
	ID string
	// TempID is set when the entity was created offline.
	TempID string
}

// AppliedHook observes accepted mutations. Hooks run synchronously after the
// remote write and before the outbox entry is removed, so a crash between
// the two re-runs them on replay; hooks must be idempotent.
type AppliedHook func(ctx context.Context, a Applied)

// Engine is the sync engine. It is safe for concurrent use.
type Engine struct {
	cfg        Config
	store      *store.Store
	outbox     *outbox.Outbox
	remote     remote.Store
	conn       Connectivity
	reconciler *tempid.Reconciler
	now        func() time.Time

	syncing  atomic.Bool
	lastSync atomic.Int64

	hooksMu sync.RWMutex
	hooks   []AppliedHook

	status *statusBroadcaster
	live   *liveDiff
}

// New creates an engine.
func New(cfg Config, s *store.Store, o *outbox.Outbox, r remote.Store, conn Connectivity) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:        cfg,
		store:      s,
		outbox:     o,
		remote:     r,
		conn:       conn,
		reconciler: tempid.NewReconciler(s, o),
		now:        time.Now,
		status:     newStatusBroadcaster(),
		live:       newLiveDiff(),
	}
}

// OnApplied registers a hook for accepted mutations.
func (e *Engine) OnApplied(hook AppliedHook) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, hook)
}

func (e *Engine) fireApplied(ctx context.Context, a Applied) {
	e.hooksMu.RLock()
	hooks := make([]AppliedHook, len(e.hooks))
	copy(hooks, e.hooks)
	e.hooksMu.RUnlock()

	for _, h := range hooks {
		h(ctx, a)
	}
}

// Recover moves operations a crash left in syncing to failed so the next
// drain retries them. Call once at startup.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	n, err := e.outbox.RecoverInterrupted(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted operations: %w", err)
	}
	if n > 0 {
		logging.Warn().Int("operations", n).Msg("Recovered operations interrupted mid-sync")
	}
	return n, nil
}

// Online reports the connectivity monitor's state.
func (e *Engine) Online() bool {
	return e.conn.HasConnectivity()
}

func (e *Engine) logCtx(ctx context.Context) context.Context {
	if e.cfg.DeviceID != "" && logging.DeviceIDFromContext(ctx) == "" {
		ctx = logging.ContextWithDeviceID(ctx, e.cfg.DeviceID)
	}
	return ctx
}

// Remote calls. Each fails fast with ErrUnavailable when the monitor says
// offline and is bounded by the call timeout.

func (e *Engine) checkReachable() error {
	if !e.conn.HasConnectivity() {
		return fmt.Errorf("%w: no connectivity", remote.ErrUnavailable)
	}
	return nil
}

func (e *Engine) remoteGet(ctx context.Context, path string) (remote.Document, error) {
	if err := e.checkReachable(); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.remote.Get(callCtx, path)
}

func (e *Engine) remoteUpdate(ctx context.Context, writes mutation.Writes) error {
	if err := e.checkReachable(); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.remote.Update(callCtx, writes)
}

func (e *Engine) remoteList(ctx context.Context, path string, limit int) (map[string]remote.Document, error) {
	if err := e.checkReachable(); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.remote.List(callCtx, path, limit)
}

// historyKeyed is implemented by mutations that write an immutable record
// whose presence proves the mutation was already applied.
type historyKeyed interface {
	HistoryPath() string
}

// applyRemote performs m against the remote store for entity id and returns
// the writes that were sent. applied is false when the mutation was found to
// be already applied and nothing was written.
func (e *Engine) applyRemote(ctx context.Context, m mutation.Mutation, id string) (writes mutation.Writes, applied bool, err error) {
	var current remote.Document
	if m.NeedsCurrent() {
		if hk, ok := m.(historyKeyed); ok {
			_, err := e.remoteGet(ctx, hk.HistoryPath())
			if err == nil {
				return nil, false, nil
			}
			if !errors.Is(err, remote.ErrNotFound) {
				return nil, false, err
			}
		}
		current, err = e.remoteGet(ctx, remote.Join(m.Collection(), id))
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			return nil, false, err
		}
	}

	writes, err = m.Plan(id, current)
	if err != nil {
		return nil, false, err
	}
	if err := e.remoteUpdate(ctx, writes); err != nil {
		return nil, false, err
	}
	return writes, true, nil
}

// applyLocal merges writes into the local store. extra is merged into every
// written document (nil values remove fields).
func (e *Engine) applyLocal(ctx context.Context, writes mutation.Writes, extra store.Document) error {
	now := e.now()
	for p, patch := range writes {
		collection, id := remote.Split(p)
		if patch == nil {
			if err := e.store.Delete(ctx, collection, id); err != nil {
				return err
			}
			continue
		}
		current, err := e.store.Get(ctx, collection, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		doc := remote.Merge(remote.Merge(current, remote.ResolveServerValues(patch, now)), extra)
		if err := e.store.Put(ctx, collection, id, doc); err != nil {
			return err
		}
	}
	return nil
}

// confirmedFields clears the local sync attributes once the remote store
// has the data.
func confirmedFields() store.Document {
	return store.Document{
		store.FieldNeedsSync:        nil,
		store.FieldCreatedOfflineAt: nil,
	}
}
