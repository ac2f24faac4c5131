// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package migration runs one-off maintenance jobs over the shared dataset
// so that at most one device executes a job at a time and an interrupted
// job resumes where it stopped.
//
// A job is guarded by the remote Lock and keeps a durable completion log at
// migrations/<job>/completed. Finished jobs are recorded at
// migrations/<job>/state and mirrored locally under the store metadata key
// migration_<job>, so later runs return without touching the network.
package migration

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/remote"
	"github.com/tomtom215/shelfsync/internal/store"
	"github.com/tomtom215/shelfsync/internal/validation"
)

// Step is one unit of work. ID must be stable across runs; Run must be
// safe to repeat if the process dies between running and logging it.
type Step struct {
	ID  string
	Run func(ctx context.Context) error
}

// Job is a resumable maintenance job.
type Job interface {
	// Name identifies the job in remote paths and metadata keys.
	Name() string
	// Version is bumped when a job must run again on a dataset that
	// already completed an earlier version.
	Version() int
	// Plan lists the work to do against the current dataset.
	Plan(ctx context.Context) ([]Step, error)
}

// JobResult summarizes a Run.
type JobResult struct {
	Job     string `json:"job"`
	Version int    `json:"version"`
	// AlreadyDone is set when the job had completed before this run.
	AlreadyDone bool `json:"alreadyDone"`
	// Deferred is set when another device holds the lock.
	Deferred  bool `json:"deferred"`
	Steps     int  `json:"steps"`
	Completed int  `json:"completed"`
	Skipped   int  `json:"skipped"`
}

// Meta is the local metadata store holding the completion mirror.
type Meta interface {
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	RefreshInterval time.Duration
	// Device is written into the completion record.
	Device string
}

// Runner executes jobs under the migration lock.
type Runner struct {
	remote remote.Store
	meta   Meta
	lock   *Lock
	cfg    RunnerConfig

	// one job per process
	mu sync.Mutex
}

// completion is the record stored remotely and mirrored locally.
type completion struct {
	Version     int    `json:"version"`
	CompletedAt any    `json:"completedAt"`
	CompletedBy string `json:"completedBy,omitempty"`
	Steps       int    `json:"steps"`
}

// NewRunner creates a runner.
func NewRunner(r remote.Store, meta Meta, lock *Lock, cfg RunnerConfig) *Runner {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = lock.timeout / 3
	}
	if cfg.Device == "" {
		cfg.Device = lock.Owner()
	}
	return &Runner{remote: r, meta: meta, lock: lock, cfg: cfg}
}

func metaKey(job string) string {
	return "migration_" + job
}

func statePath(job string) string {
	return remote.Join("migrations", job, "state")
}

func completedPath(job string) string {
	return remote.Join("migrations", job, "completed")
}

// stepKey maps a step id onto a valid path segment.
func stepKey(id string) string {
	key := base64.RawURLEncoding.EncodeToString([]byte(id))
	if validation.IsEntityID(key) {
		return key
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

// Run executes job unless it has already completed. Lock contention is
// reported through JobResult.Deferred, not as an error.
func (r *Runner) Run(ctx context.Context, job Job) (JobResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := job.Name()
	res := JobResult{Job: name, Version: job.Version()}
	logger := logging.Ctx(ctx).With().Str("job", name).Int("version", res.Version).Logger()

	done, err := r.doneLocally(ctx, job)
	if err != nil {
		return res, err
	}
	if done {
		res.AlreadyDone = true
		jobRunsTotal.WithLabelValues(name, "already_done").Inc()
		return res, nil
	}
	if done, err = r.doneRemotely(ctx, job); err != nil {
		return res, err
	} else if done {
		res.AlreadyDone = true
		jobRunsTotal.WithLabelValues(name, "already_done").Inc()
		return res, nil
	}

	acquired, err := r.lock.Acquire(ctx)
	if err != nil {
		jobRunsTotal.WithLabelValues(name, "error").Inc()
		return res, err
	}
	if !acquired {
		res.Deferred = true
		jobRunsTotal.WithLabelValues(name, "deferred").Inc()
		logger.Info().Msg("Migration deferred, lock held by another device")
		return res, nil
	}
	defer func() {
		if err := r.lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("Failed to release migration lock")
		}
	}()

	// Another device may have finished while we waited for the lock.
	if done, err = r.doneRemotely(ctx, job); err != nil {
		return res, err
	} else if done {
		res.AlreadyDone = true
		jobRunsTotal.WithLabelValues(name, "already_done").Inc()
		return res, nil
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopRefresh := r.keepAlive(jobCtx, cancel)
	err = r.runSteps(jobCtx, job, &res)
	stopRefresh()
	if cause := context.Cause(jobCtx); errors.Is(cause, ErrLockLost) {
		err = cause
	}
	if err != nil {
		jobRunsTotal.WithLabelValues(name, "error").Inc()
		logger.Error().Err(err).
			Int("completed", res.Completed).
			Int("skipped", res.Skipped).
			Msg("Migration interrupted, will resume on next run")
		return res, err
	}

	if err := r.markDone(ctx, job, res.Steps); err != nil {
		jobRunsTotal.WithLabelValues(name, "error").Inc()
		return res, err
	}
	jobRunsTotal.WithLabelValues(name, "completed").Inc()
	logger.Info().
		Int("steps", res.Steps).
		Int("completed", res.Completed).
		Int("skipped", res.Skipped).
		Msg("Migration completed")
	return res, nil
}

func (r *Runner) runSteps(ctx context.Context, job Job, res *JobResult) error {
	steps, err := job.Plan(ctx)
	if err != nil {
		return fmt.Errorf("plan %s: %w", job.Name(), err)
	}
	res.Steps = len(steps)

	logged, err := r.remote.List(ctx, completedPath(job.Name()), 0)
	if err != nil {
		return fmt.Errorf("read completion log: %w", err)
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := stepKey(step.ID)
		if entry, ok := logged[key]; ok {
			if v, _ := store.IntField(entry, "version"); v >= job.Version() {
				res.Skipped++
				continue
			}
		}
		if err := step.Run(ctx); err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}
		if err := r.remote.Set(ctx, remote.Join(completedPath(job.Name()), key), remote.Document{
			"step":        step.ID,
			"version":     job.Version(),
			"completedAt": remote.ServerTimestamp(),
			"completedBy": r.cfg.Device,
		}); err != nil {
			return fmt.Errorf("log step %s: %w", step.ID, err)
		}
		res.Completed++
		stepsCompletedTotal.WithLabelValues(job.Name()).Inc()
	}
	return nil
}

// keepAlive refreshes the lock until stopped, cancelling ctx with
// ErrLockLost if the lock is taken over.
func (r *Runner) keepAlive(ctx context.Context, cancel context.CancelCauseFunc) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := r.lock.Refresh(ctx)
				if errors.Is(err, ErrLockLost) {
					cancel(ErrLockLost)
					return
				}
				if err != nil {
					logging.Ctx(ctx).Warn().Err(err).Msg("Migration lock refresh failed")
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func (r *Runner) doneLocally(ctx context.Context, job Job) (bool, error) {
	if r.meta == nil {
		return false, nil
	}
	raw, err := r.meta.GetMeta(ctx, metaKey(job.Name()))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read migration mirror: %w", err)
	}
	var c completion
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("job", job.Name()).Msg("Ignoring unreadable migration mirror")
		return false, nil
	}
	return c.Version >= job.Version(), nil
}

func (r *Runner) doneRemotely(ctx context.Context, job Job) (bool, error) {
	doc, err := r.remote.Get(ctx, statePath(job.Name()))
	if errors.Is(err, remote.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read migration state: %w", err)
	}
	version, _ := store.IntField(doc, "version")
	if version < job.Version() {
		return false, nil
	}
	// Bring the local mirror up to date so the next run stays offline.
	if err := r.mirror(ctx, job, completion{
		Version:     version,
		CompletedAt: doc["completedAt"],
		CompletedBy: store.StringField(doc, "completedBy"),
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runner) markDone(ctx context.Context, job Job, steps int) error {
	c := completion{
		Version:     job.Version(),
		CompletedAt: remote.ServerTimestamp(),
		CompletedBy: r.cfg.Device,
		Steps:       steps,
	}
	if err := r.remote.Set(ctx, statePath(job.Name()), remote.Document{
		"version":     c.Version,
		"completedAt": c.CompletedAt,
		"completedBy": c.CompletedBy,
		"steps":       c.Steps,
	}); err != nil {
		return fmt.Errorf("record migration state: %w", err)
	}
	c.CompletedAt = time.Now().UnixMilli()
	return r.mirror(ctx, job, c)
}

func (r *Runner) mirror(ctx context.Context, job Job, c completion) error {
	if r.meta == nil {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal migration mirror: %w", err)
	}
	if err := r.meta.SetMeta(ctx, metaKey(job.Name()), string(data)); err != nil {
		return fmt.Errorf("write migration mirror: %w", err)
	}
	return nil
}
