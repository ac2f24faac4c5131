// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package migration

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/shelfsync/internal/mutation"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
)

type fakeJob struct {
	name    string
	version int
	ids     []string

	mu     sync.Mutex
	runs   map[string]int
	failAt string
	during func(ctx context.Context, id string) error
}

func newFakeJob(ids ...string) *fakeJob {
	return &fakeJob{name: "fake_job", version: 1, ids: ids, runs: make(map[string]int)}
}

func (j *fakeJob) Name() string { return j.name }
func (j *fakeJob) Version() int { return j.version }

func (j *fakeJob) Plan(context.Context) ([]Step, error) {
	steps := make([]Step, 0, len(j.ids))
	for _, id := range j.ids {
		steps = append(steps, Step{ID: id, Run: func(ctx context.Context) error {
			j.mu.Lock()
			fail := j.failAt == id
			during := j.during
			j.mu.Unlock()
			if fail {
				return errors.New("boom")
			}
			if during != nil {
				if err := during(ctx, id); err != nil {
					return err
				}
			}
			j.mu.Lock()
			j.runs[id]++
			j.mu.Unlock()
			return nil
		}})
	}
	return steps, nil
}

func (j *fakeJob) runCount(id string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs[id]
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{InMemory: true, CloseTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRunner(t *testing.T, mem *remote.MemoryStore) (*Runner, *store.Store) {
	t.Helper()
	s := newTestStore(t)
	return NewRunner(mem, s, NewLock(mem, time.Minute), RunnerConfig{RefreshInterval: 10 * time.Millisecond}), s
}

func TestRunCompletesAndMirrors(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryStore()
	runner, s := newTestRunner(t, mem)
	job := newFakeJob("a", "b", "c")

	res, err := runner.Run(ctx, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps != 3 || res.Completed != 3 || res.Skipped != 0 || res.AlreadyDone || res.Deferred {
		t.Fatalf("result = %+v", res)
	}

	state, err := mem.Get(ctx, statePath(job.Name()))
	if err != nil {
		t.Fatalf("remote state missing: %v", err)
	}
	if v, _ := store.IntField(state, "version"); v != 1 {
		t.Errorf("remote version = %d, want 1", v)
	}
	if _, err := s.GetMeta(ctx, metaKey(job.Name())); err != nil {
		t.Errorf("local mirror missing: %v", err)
	}
	if _, err := mem.Get(ctx, LockPath); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("lock not released: %v", err)
	}

	// The local mirror answers without the network.
	mem.SetOffline(true)
	res, err = runner.Run(ctx, job)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !res.AlreadyDone {
		t.Errorf("second run result = %+v, want AlreadyDone", res)
	}
	for _, id := range job.ids {
		if n := job.runCount(id); n != 1 {
			t.Errorf("step %s ran %d times", id, n)
		}
	}
}

func TestRunResumesAfterFailure(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryStore()
	runner, _ := newTestRunner(t, mem)
	job := newFakeJob("a", "b", "c")
	job.failAt = "b"

	res, err := runner.Run(ctx, job)
	if err == nil {
		t.Fatal("Run succeeded despite failing step")
	}
	if res.Completed != 1 {
		t.Errorf("completed = %d, want 1", res.Completed)
	}
	if _, err := mem.Get(ctx, statePath(job.Name())); !errors.Is(err, remote.ErrNotFound) {
		t.Error("failed job recorded as complete")
	}

	job.mu.Lock()
	job.failAt = ""
	job.mu.Unlock()

	// A fresh runner, as after a restart on another device.
	other, _ := newTestRunner(t, mem)
	res, err = other.Run(ctx, job)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if res.Skipped != 1 || res.Completed != 2 {
		t.Errorf("resumed result = %+v, want 1 skipped and 2 completed", res)
	}
	for _, id := range job.ids {
		if n := job.runCount(id); n != 1 {
			t.Errorf("step %s ran %d times", id, n)
		}
	}
}

func TestRunDeferredWhileLocked(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryStore()
	holder := NewLock(mem, time.Minute)
	if ok, err := holder.Acquire(ctx); err != nil || !ok {
		t.Fatalf("holder.Acquire = %v, %v", ok, err)
	}

	runner, _ := newTestRunner(t, mem)
	job := newFakeJob("a")
	res, err := runner.Run(ctx, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Deferred {
		t.Errorf("result = %+v, want Deferred", res)
	}
	if job.runCount("a") != 0 {
		t.Error("step ran without the lock")
	}
}

func TestRunAdoptsRemoteCompletion(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryStore()
	if err := mem.Set(ctx, statePath("fake_job"), remote.Document{
		"version": 1, "completedAt": 1700000000000, "completedBy": "till-2",
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	runner, s := newTestRunner(t, mem)
	job := newFakeJob("a")

	res, err := runner.Run(ctx, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.AlreadyDone || job.runCount("a") != 0 {
		t.Errorf("result = %+v, runs = %d", res, job.runCount("a"))
	}
	if _, err := s.GetMeta(ctx, metaKey("fake_job")); err != nil {
		t.Errorf("remote completion not mirrored: %v", err)
	}

	job.version = 2
	res, err = runner.Run(ctx, job)
	if err != nil {
		t.Fatalf("Run v2: %v", err)
	}
	if res.AlreadyDone || res.Completed != 1 {
		t.Errorf("v2 result = %+v, want a fresh run", res)
	}
}

func TestRunAbortsWhenLockLost(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryStore()
	runner, _ := newTestRunner(t, mem)
	job := newFakeJob("a")
	job.during = func(ctx context.Context, _ string) error {
		// Another device takes the lock over mid-step.
		if err := mem.Set(context.Background(), LockPath, remote.Document{
			"ownerId": "intruder", "lockedAt": remote.ServerTimestamp(),
		}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("lock loss not detected")
		}
	}

	_, err := runner.Run(ctx, job)
	if !errors.Is(err, ErrLockLost) {
		t.Fatalf("Run err = %v, want ErrLockLost", err)
	}
	doc, err := mem.Get(ctx, LockPath)
	if err != nil {
		t.Fatalf("intruder lock removed: %v", err)
	}
	if got := store.StringField(doc, "ownerId"); got != "intruder" {
		t.Errorf("ownerId = %q, want intruder", got)
	}
	if _, err := mem.Get(ctx, statePath(job.Name())); !errors.Is(err, remote.ErrNotFound) {
		t.Error("aborted job recorded as complete")
	}
}

func TestDedupeInventoryJob(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryStore()
	runner, s := newTestRunner(t, mem)

	seed := map[string]remote.Document{
		"a": {"name": "Widget", "sku": "ABC", "quantity": 3, "createdAt": 100},
		"b": {"name": "Widget", "sku": "abc ", "quantity": 4, "createdAt": 200},
		"c": {"name": "Nut", "barcode": "123", "quantity": 1, "createdAt": 50},
		"d": {"name": "Nut", "barcode": "123", "quantity": 2, "createdAt": 60},
		"e": {"name": "Bolt", "sku": "XYZ", "quantity": 5, "createdAt": 10},
	}
	for id, doc := range seed {
		if err := mem.Set(ctx, remote.Join(mutation.CollectionInventory, id), doc); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
		if err := s.Put(ctx, mutation.CollectionInventory, id, doc); err != nil {
			t.Fatalf("cache %s: %v", id, err)
		}
	}

	res, err := runner.Run(ctx, NewDedupeInventoryJob(mem, s, "ops"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Steps != 2 || res.Completed != 2 {
		t.Fatalf("result = %+v, want 2 merged groups", res)
	}

	items, err := mem.List(ctx, mutation.CollectionInventory, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := map[string]int{"a": 7, "c": 3, "e": 5}
	if len(items) != len(want) {
		t.Fatalf("remaining items = %v", sortedIDs(items))
	}
	for id, qty := range want {
		if got, _ := store.IntField(items[id], "quantity"); got != qty {
			t.Errorf("%s quantity = %d, want %d", id, got, qty)
		}
	}

	hist, err := mem.Get(ctx, remote.Join(mutation.CollectionStockHistory, "dedupe-a"))
	if err != nil {
		t.Fatalf("history record missing: %v", err)
	}
	if change, _ := store.IntField(hist, "quantityChange"); change != 4 {
		t.Errorf("quantityChange = %d, want 4", change)
	}

	if _, err := s.Get(ctx, mutation.CollectionInventory, "b"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cached duplicate b not removed: %v", err)
	}
	cached, err := s.Get(ctx, mutation.CollectionInventory, "c")
	if err != nil {
		t.Fatalf("cached keeper: %v", err)
	}
	if got, _ := store.IntField(cached, "quantity"); got != 3 {
		t.Errorf("cached c quantity = %d, want 3", got)
	}
}

func sortedIDs(m map[string]remote.Document) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
