// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const backendMemory = "memory"

type memoryEntry struct {
	doc Document
	rev uint64
}

// MemoryStore is an in-process remote store. Multi-path updates are atomic.
// Tests use SetOffline and Reject to simulate network loss and server-side
// rejections.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]memoryEntry
	rev      uint64
	watchers map[string]map[*Subscription]struct{}
	offline  bool
	rejects  map[string]error
	writes   int
	now      func() time.Time
}

// NewMemoryStore returns an empty, online store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]memoryEntry),
		watchers: make(map[string]map[*Subscription]struct{}),
		rejects:  make(map[string]error),
		now:      time.Now,
	}
}

// SetOffline makes every call fail with ErrUnavailable while true.
func (m *MemoryStore) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// Offline reports the simulated network state.
func (m *MemoryStore) Offline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offline
}

// Reject makes writes to paths under prefix fail with err. A nil err clears
// the rule. Use a *RejectedError for permission failures or ErrUnavailable
// for transient ones.
func (m *MemoryStore) Reject(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.rejects, prefix)
		return
	}
	m.rejects[prefix] = err
}

// WriteCount returns the number of accepted write calls (Set, Update,
// Delete, Push and the Transactor writes).
func (m *MemoryStore) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// SetClock overrides the server clock used for timestamp placeholders.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) checkOnline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.offline {
		return fmt.Errorf("%w: network unreachable", ErrUnavailable)
	}
	return nil
}

func (m *MemoryStore) checkWrite(path string) error {
	for prefix, err := range m.rejects {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return err
		}
	}
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, path string) (doc Document, err error) {
	defer recordCall(backendMemory, "get", time.Now(), &err)
	doc, _, err = m.GetVersioned(ctx, path)
	return doc, err
}

// GetVersioned implements Transactor.
func (m *MemoryStore) GetVersioned(ctx context.Context, path string) (Document, uint64, error) {
	if err := ValidatePath(path); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOnline(ctx); err != nil {
		return nil, 0, err
	}
	e, ok := m.docs[path]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return copyDoc(e.doc), e.rev, nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, path string, doc Document) (err error) {
	defer recordCall(backendMemory, "set", time.Now(), &err)
	if doc == nil {
		return m.Delete(ctx, path)
	}
	return m.write(ctx, []string{path}, func() {
		m.put(path, ResolveServerValues(doc, m.now()))
	})
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, writes map[string]Document) (err error) {
	defer recordCall(backendMemory, "update", time.Now(), &err)
	if len(writes) == 0 {
		return nil
	}
	paths := make([]string, 0, len(writes))
	for p := range writes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return m.write(ctx, paths, func() {
		now := m.now()
		for _, p := range paths {
			patch := writes[p]
			if patch == nil {
				m.remove(p)
				continue
			}
			m.put(p, Merge(m.docs[p].doc, ResolveServerValues(patch, now)))
		}
	})
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, path string) (err error) {
	defer recordCall(backendMemory, "delete", time.Now(), &err)
	return m.write(ctx, []string{path}, func() {
		m.remove(path)
	})
}

// Push implements Store.
func (m *MemoryStore) Push(ctx context.Context, path string, doc Document) (id string, err error) {
	defer recordCall(backendMemory, "push", time.Now(), &err)
	id = NewPushID()
	child := Join(path, id)
	err = m.write(ctx, []string{child}, func() {
		m.put(child, ResolveServerValues(doc, m.now()))
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, path string, limitToLast int) (children map[string]Document, err error) {
	defer recordCall(backendMemory, "list", time.Now(), &err)
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOnline(ctx); err != nil {
		return nil, err
	}
	return limitChildren(m.children(path), limitToLast), nil
}

// Watch implements Store.
func (m *MemoryStore) Watch(ctx context.Context, path string) (*Subscription, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOnline(ctx); err != nil {
		return nil, err
	}

	var sub *Subscription
	sub = newSubscription(path, func() {
		m.mu.Lock()
		delete(m.watchers[path], sub)
		m.mu.Unlock()
	})
	if m.watchers[path] == nil {
		m.watchers[path] = make(map[*Subscription]struct{})
	}
	m.watchers[path][sub] = struct{}{}
	sub.publish(Snapshot{Path: path, Children: m.children(path), At: m.now()})
	cancelOnDone(ctx, sub)
	return sub, nil
}

// CreateIfAbsent implements Transactor.
func (m *MemoryStore) CreateIfAbsent(ctx context.Context, path string, doc Document) (uint64, error) {
	var rev uint64
	err := m.write(ctx, []string{path}, func() {
		if _, ok := m.docs[path]; ok {
			return
		}
		rev = m.put(path, ResolveServerValues(doc, m.now()))
	})
	if err != nil {
		return 0, err
	}
	if rev == 0 {
		return 0, fmt.Errorf("%w: %s exists", ErrConflict, path)
	}
	return rev, nil
}

// CompareAndSwap implements Transactor.
func (m *MemoryStore) CompareAndSwap(ctx context.Context, path string, doc Document, rev uint64) (uint64, error) {
	var newRev uint64
	err := m.write(ctx, []string{path}, func() {
		if m.docs[path].rev != rev {
			return
		}
		newRev = m.put(path, ResolveServerValues(doc, m.now()))
	})
	if err != nil {
		return 0, err
	}
	if newRev == 0 {
		return 0, fmt.Errorf("%w: %s changed since revision %d", ErrConflict, path, rev)
	}
	return newRev, nil
}

// DeleteIfRevision implements Transactor.
func (m *MemoryStore) DeleteIfRevision(ctx context.Context, path string, rev uint64) error {
	conflict := false
	err := m.write(ctx, []string{path}, func() {
		if m.docs[path].rev != rev {
			conflict = true
			return
		}
		m.remove(path)
	})
	if err != nil {
		return err
	}
	if conflict {
		return fmt.Errorf("%w: %s changed since revision %d", ErrConflict, path, rev)
	}
	return nil
}

// write validates, checks network and rejection rules, runs apply under the
// write lock and notifies watchers of every touched parent.
func (m *MemoryStore) write(ctx context.Context, paths []string, apply func()) error {
	for _, p := range paths {
		if err := ValidatePath(p); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if err := m.checkOnline(ctx); err != nil {
		m.mu.Unlock()
		return err
	}
	for _, p := range paths {
		if err := m.checkWrite(p); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	apply()
	m.writes++

	parents := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		parent, _ := Split(p)
		parents[parent] = struct{}{}
	}
	for parent := range parents {
		if len(m.watchers[parent]) == 0 {
			continue
		}
		snap := Snapshot{Path: parent, Children: m.children(parent), At: m.now()}
		for sub := range m.watchers[parent] {
			sub.publish(snap)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) put(path string, doc Document) uint64 {
	m.rev++
	m.docs[path] = memoryEntry{doc: copyDoc(doc), rev: m.rev}
	return m.rev
}

func (m *MemoryStore) remove(path string) {
	delete(m.docs, path)
}

// children must be called with mu held.
func (m *MemoryStore) children(path string) map[string]Document {
	prefix := path + "/"
	out := make(map[string]Document)
	for p, e := range m.docs {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		id := p[len(prefix):]
		if strings.Contains(id, "/") {
			continue
		}
		out[id] = copyDoc(e.doc)
	}
	return out
}

func copyDoc(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
