// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package remote is the boundary to the authoritative tree-structured store.
//
// Paths are slash separated ("inventory/-Nabc", "customers/retail/-Nxyz").
// A document lives at a leaf path; the children of a subtree path are the
// documents one level below it. The engine relies on four primitives:
// point reads and writes, multi-path updates, subtree watches and push ids.
//
// Implementations:
//
//   - MemoryStore: in-process tree used by tests and single-device setups
//   - NATSStore: JetStream Key-Value bucket (paths map to keys with / -> .)
//   - BreakerStore: gobreaker wrapper around any Store
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/shelfsync/internal/validation"
)

// Document is a schema-flexible remote document.
type Document = map[string]any

var (
	// ErrNotFound is returned when no document exists at a path.
	ErrNotFound = errors.New("remote: not found")

	// ErrUnavailable marks transient failures: offline, timeouts, an open
	// circuit. Always retryable.
	ErrUnavailable = errors.New("remote: unavailable")

	// ErrRejected marks permission or validation rejections by the remote
	// store. Retryable, but surfaced to operators.
	ErrRejected = errors.New("remote: rejected")

	// ErrConflict is returned by Transactor operations whose precondition
	// (absence or revision) no longer holds.
	ErrConflict = errors.New("remote: conflict")

	// ErrInvalidPath is returned for malformed paths.
	ErrInvalidPath = errors.New("remote: invalid path")
)

// RejectedError carries the remote store's rejection message.
type RejectedError struct {
	Path   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote rejected write to %s: %s", e.Path, e.Reason)
}

// Unwrap lets errors.Is(err, ErrRejected) match.
func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// IsTransient reports whether err should be treated as a transient network
// failure (retry on the next cycle, or fall back to the offline path).
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Store is the remote store contract.
type Store interface {
	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (Document, error)

	// Set replaces the document at path.
	Set(ctx context.Context, path string, doc Document) error

	// Update applies a multi-path write. Each document is merged into the
	// existing one (a nil field value removes the field); a nil document
	// deletes the path.
	Update(ctx context.Context, writes map[string]Document) error

	// Delete removes the document at path. Deleting a missing path is not
	// an error.
	Delete(ctx context.Context, path string) error

	// Push writes doc under a new chronological push id below path and
	// returns the id.
	Push(ctx context.Context, path string, doc Document) (string, error)

	// List returns the children of path. A positive limitToLast keeps only
	// the last N children in key (chronological) order.
	List(ctx context.Context, path string, limitToLast int) (map[string]Document, error)

	// Watch subscribes to the children of path. The subscription yields a
	// full snapshot immediately and again after every change.
	Watch(ctx context.Context, path string) (*Subscription, error)
}

// Transactor is implemented by stores with optimistic concurrency control.
// Revisions are opaque and only meaningful to the store that issued them.
type Transactor interface {
	GetVersioned(ctx context.Context, path string) (Document, uint64, error)

	// CreateIfAbsent writes doc only when path is empty, else ErrConflict.
	CreateIfAbsent(ctx context.Context, path string, doc Document) (uint64, error)

	// CompareAndSwap replaces doc only when the stored revision is rev,
	// else ErrConflict.
	CompareAndSwap(ctx context.Context, path string, doc Document, rev uint64) (uint64, error)

	// DeleteIfRevision deletes path only when the stored revision is rev.
	DeleteIfRevision(ctx context.Context, path string, rev uint64) error
}

type transactorProvider interface {
	Transactor() (Transactor, bool)
}

// AsTransactor returns the OCC interface of s, looking through wrappers.
func AsTransactor(s Store) (Transactor, bool) {
	if p, ok := s.(transactorProvider); ok {
		return p.Transactor()
	}
	t, ok := s.(Transactor)
	return t, ok
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the parent path and the last segment of path.
func Split(path string) (parent, id string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// ValidatePath checks that every segment of path is a valid entity id.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(path, "/") {
		if !validation.IsEntityID(seg) {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

const serverValueKey = ".sv"

// ServerTimestamp returns the placeholder that the store replaces with its
// own clock (Unix milliseconds) at write time.
func ServerTimestamp() any {
	return map[string]any{serverValueKey: "timestamp"}
}

// IsServerTimestamp reports whether v is the server timestamp placeholder.
func IsServerTimestamp(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	s, _ := m[serverValueKey].(string)
	return s == "timestamp"
}

// ResolveServerValues returns a copy of doc with every placeholder replaced
// by now in Unix milliseconds. Nested documents are resolved recursively.
func ResolveServerValues(doc Document, now time.Time) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = resolveValue(v, now)
	}
	return out
}

func resolveValue(v any, now time.Time) any {
	if IsServerTimestamp(v) {
		return now.UnixMilli()
	}
	switch t := v.(type) {
	case map[string]any:
		return ResolveServerValues(t, now)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = resolveValue(e, now)
		}
		return out
	default:
		return v
	}
}

// Merge applies patch to base (shallow). Nil patch values remove fields.
// base is not modified.
func Merge(base, patch Document) Document {
	out := make(Document, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Snapshot is the full set of children of a watched path.
type Snapshot struct {
	Path     string
	Children map[string]Document
	At       time.Time
}

// Subscription is a cancellable stream of snapshots. Only the latest
// undelivered snapshot is kept: a slow reader skips intermediate states,
// which is safe because every snapshot is complete.
type Subscription struct {
	path   string
	events chan Snapshot
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	stop   func()
}

func newSubscription(path string, stop func()) *Subscription {
	return &Subscription{
		path:   path,
		events: make(chan Snapshot, 1),
		done:   make(chan struct{}),
		stop:   stop,
	}
}

// Path returns the watched path.
func (s *Subscription) Path() string {
	return s.path
}

// Events yields snapshots until the subscription is cancelled.
func (s *Subscription) Events() <-chan Snapshot {
	return s.events
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the subscription and closes Events. Safe to call repeatedly.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	close(s.events)
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (s *Subscription) publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- snap:
		return
	default:
	}
	// Replace the stale snapshot.
	select {
	case <-s.events:
	default:
	}
	s.events <- snap
}

// cancelOnDone ends sub when ctx is done.
func cancelOnDone(ctx context.Context, sub *Subscription) {
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.Done():
		}
	}()
}
