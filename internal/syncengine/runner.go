// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/shelfsync/internal/logging"
)

// Monitor is the runner's view of the connectivity monitor.
type Monitor interface {
	HasConnectivity() bool
	Subscribe() (<-chan bool, func())
}

// RunnerConfig configures the background sync loop.
type RunnerConfig struct {
	// Interval between scheduled cycles while online.
	Interval time.Duration

	// MinDrainInterval rate-limits cycles, including triggered ones.
	MinDrainInterval time.Duration

	// BackoffBase and BackoffMax bound the delay after failed cycles.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c *RunnerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MinDrainInterval <= 0 {
		c.MinDrainInterval = time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
}

// Runner drives the engine in the background: it drains and pulls on every
// offline-to-online transition, on Trigger, and on a schedule, and pauses
// live-diff while offline. It implements suture.Service.
type Runner struct {
	engine  *Engine
	monitor Monitor
	cfg     RunnerConfig
	limiter *rate.Limiter
	trigger chan struct{}

	recoverOnce sync.Once
	failures    int
}

// NewRunner creates a runner for engine.
func NewRunner(engine *Engine, monitor Monitor, cfg RunnerConfig) *Runner {
	cfg.applyDefaults()
	return &Runner{
		engine:  engine,
		monitor: monitor,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinDrainInterval), 1),
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests a cycle as soon as the rate limit allows. Triggers
// arriving while one is pending are coalesced.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Serve implements suture.Service.
func (r *Runner) Serve(ctx context.Context) error {
	r.recoverOnce.Do(func() {
		if _, err := r.engine.Recover(ctx); err != nil {
			logging.Error().Err(err).Msg("Outbox recovery failed")
		}
	})

	changes, unsubscribe := r.monitor.Subscribe()
	defer unsubscribe()
	defer r.engine.PauseLiveDiff()

	r.engine.PublishStatus(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()
	if !r.monitor.HasConnectivity() {
		stopTimer(timer)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case online, ok := <-changes:
			if !ok {
				// Monitor is gone; fall back to the schedule.
				changes = nil
				continue
			}
			if !online {
				r.engine.PauseLiveDiff()
				r.engine.PublishStatus(ctx)
				stopTimer(timer)
				continue
			}
			logging.Info().Msg("Connectivity restored, starting sync cycle")
			r.failures = 0
			resetTimer(timer, r.runCycle(ctx))

		case <-r.trigger:
			resetTimer(timer, r.runCycle(ctx))

		case <-timer.C:
			if !r.monitor.HasConnectivity() {
				continue
			}
			timer.Reset(r.runCycle(ctx))
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (r *Runner) String() string {
	return "sync-runner"
}

// runCycle drains, pulls and (re)starts live-diff, and returns the delay
// before the next scheduled cycle.
func (r *Runner) runCycle(ctx context.Context) time.Duration {
	if err := r.limiter.Wait(ctx); err != nil {
		return r.cfg.Interval
	}
	ctx = logging.ContextWithNewCorrelationID(ctx)

	failed := false
	rep, err := r.engine.Drain(ctx)
	switch {
	case err == nil:
		if rep.Failed > 0 {
			failed = true
		}
	case errors.Is(err, ErrAlreadySyncing):
		// Another drain (the API) is running; it covers this cycle.
	case errors.Is(err, ErrOffline):
		return r.cfg.Interval
	default:
		failed = true
		logging.Ctx(ctx).Warn().Err(err).Msg("Drain failed")
	}

	if _, err := r.engine.Pull(ctx); err != nil && !errors.Is(err, ErrOffline) {
		failed = true
	}
	if err := r.engine.StartLiveDiff(ctx); err != nil && !errors.Is(err, ErrOffline) {
		failed = true
		logging.Ctx(ctx).Warn().Err(err).Msg("Could not start live-diff")
	}
	r.engine.PublishStatus(ctx)

	if !failed {
		r.failures = 0
		runnerBackoffSeconds.Set(r.cfg.Interval.Seconds())
		return r.cfg.Interval
	}
	r.failures++
	delay := r.backoff()
	runnerBackoffSeconds.Set(delay.Seconds())
	logging.Ctx(ctx).Debug().Int("failures", r.failures).Dur("retry_in", delay).Msg("Sync cycle incomplete, backing off")
	return delay
}

// backoff doubles the base delay per consecutive failure up to the cap.
func (r *Runner) backoff() time.Duration {
	delay := r.cfg.BackoffBase
	for i := 1; i < r.failures; i++ {
		delay *= 2
		if delay >= r.cfg.BackoffMax {
			return r.cfg.BackoffMax
		}
	}
	return delay
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
