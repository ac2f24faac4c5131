// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
)

// LockPath is the remote path of the singleton lock record.
const LockPath = "migration_lock"

// DefaultLockTimeout is the age after which a lock is considered abandoned.
const DefaultLockTimeout = 5 * time.Minute

// ErrLockLost is returned when a lock this process acquired was taken over
// or removed.
var ErrLockLost = errors.New("migration: lock lost")

// Lock is a remote mutual-exclusion record {ownerId, lockedAt}. A record
// older than the timeout is abandoned and may be taken over.
//
// With a store that implements remote.Transactor, every transition is a
// revision-checked write. Otherwise Acquire writes and then re-reads the
// record to confirm ownership, which leaves a narrow window where two
// owners can both believe they hold the lock.
type Lock struct {
	remote  remote.Store
	tx      remote.Transactor
	owner   string
	timeout time.Duration
	now     func() time.Time

	mu   sync.Mutex
	held bool
	rev  uint64
}

// NewLock creates a lock client with a random owner id.
func NewLock(r remote.Store, timeout time.Duration) *Lock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	tx, _ := remote.AsTransactor(r)
	return &Lock{
		remote:  r,
		tx:      tx,
		owner:   uuid.New().String(),
		timeout: timeout,
		now:     time.Now,
	}
}

// Owner returns this client's owner id.
func (l *Lock) Owner() string {
	return l.owner
}

// Held reports whether this client believes it holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Lock) record() remote.Document {
	return remote.Document{"ownerId": l.owner, "lockedAt": remote.ServerTimestamp()}
}

// stale reports whether doc was written longer ago than the timeout.
func (l *Lock) stale(doc remote.Document) bool {
	lockedAt, ok := store.IntField(doc, "lockedAt")
	if !ok {
		return true
	}
	return l.now().Sub(time.UnixMilli(int64(lockedAt))) > l.timeout
}

// Acquire takes the lock if it is free, abandoned, or already ours. It
// returns false without error when another owner holds a live lock.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ok bool
	var err error
	if l.tx != nil {
		ok, err = l.acquireVersioned(ctx)
	} else {
		ok, err = l.acquireVerified(ctx)
	}
	if err != nil {
		lockOpsTotal.WithLabelValues("acquire", "error").Inc()
		return false, err
	}
	if !ok {
		lockOpsTotal.WithLabelValues("acquire", "held").Inc()
		return false, nil
	}
	l.held = true
	lockOpsTotal.WithLabelValues("acquire", "success").Inc()
	logging.Ctx(ctx).Info().Str("owner", l.owner).Msg("Migration lock acquired")
	return true, nil
}

func (l *Lock) acquireVersioned(ctx context.Context) (bool, error) {
	doc, rev, err := l.tx.GetVersioned(ctx, LockPath)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		newRev, err := l.tx.CreateIfAbsent(ctx, LockPath, l.record())
		if errors.Is(err, remote.ErrConflict) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("create lock: %w", err)
		}
		l.rev = newRev
		return true, nil
	case err != nil:
		return false, fmt.Errorf("read lock: %w", err)
	}

	owner := store.StringField(doc, "ownerId")
	if owner != l.owner && !l.stale(doc) {
		return false, nil
	}
	if owner != l.owner {
		logging.Ctx(ctx).Warn().
			Str("previous_owner", owner).
			Msg("Taking over abandoned migration lock")
	}
	newRev, err := l.tx.CompareAndSwap(ctx, LockPath, l.record(), rev)
	if errors.Is(err, remote.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("take lock: %w", err)
	}
	l.rev = newRev
	return true, nil
}

func (l *Lock) acquireVerified(ctx context.Context) (bool, error) {
	doc, err := l.remote.Get(ctx, LockPath)
	switch {
	case errors.Is(err, remote.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("read lock: %w", err)
	default:
		if store.StringField(doc, "ownerId") != l.owner && !l.stale(doc) {
			return false, nil
		}
	}

	if err := l.remote.Set(ctx, LockPath, l.record()); err != nil {
		return false, fmt.Errorf("write lock: %w", err)
	}

	// Another writer may have landed between our read and write.
	doc, err = l.remote.Get(ctx, LockPath)
	if errors.Is(err, remote.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verify lock: %w", err)
	}
	return store.StringField(doc, "ownerId") == l.owner, nil
}

// Refresh renews lockedAt so a long job is not taken for abandoned. It
// returns ErrLockLost if the record no longer belongs to this owner.
func (l *Lock) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return ErrLockLost
	}

	err := l.refresh(ctx)
	if errors.Is(err, ErrLockLost) {
		l.held = false
		lockOpsTotal.WithLabelValues("refresh", "lost").Inc()
		return err
	}
	if err != nil {
		lockOpsTotal.WithLabelValues("refresh", "error").Inc()
		return err
	}
	lockOpsTotal.WithLabelValues("refresh", "success").Inc()
	return nil
}

func (l *Lock) refresh(ctx context.Context) error {
	if l.tx != nil {
		newRev, err := l.tx.CompareAndSwap(ctx, LockPath, l.record(), l.rev)
		if errors.Is(err, remote.ErrConflict) {
			return ErrLockLost
		}
		if err != nil {
			return fmt.Errorf("refresh lock: %w", err)
		}
		l.rev = newRev
		return nil
	}

	doc, err := l.remote.Get(ctx, LockPath)
	if errors.Is(err, remote.ErrNotFound) {
		return ErrLockLost
	}
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if store.StringField(doc, "ownerId") != l.owner {
		return ErrLockLost
	}
	if err := l.remote.Update(ctx, map[string]remote.Document{
		LockPath: {"lockedAt": remote.ServerTimestamp()},
	}); err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}
	return nil
}

// Release deletes the lock record if this owner still holds it.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false

	if l.tx != nil {
		err := l.tx.DeleteIfRevision(ctx, LockPath, l.rev)
		if errors.Is(err, remote.ErrConflict) {
			logging.Ctx(ctx).Warn().Msg("Migration lock changed hands before release")
			return nil
		}
		if err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		lockOpsTotal.WithLabelValues("release", "success").Inc()
		return nil
	}

	doc, err := l.remote.Get(ctx, LockPath)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if store.StringField(doc, "ownerId") != l.owner {
		return nil
	}
	if err := l.remote.Delete(ctx, LockPath); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	lockOpsTotal.WithLabelValues("release", "success").Inc()
	return nil
}
