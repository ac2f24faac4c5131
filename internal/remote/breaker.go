// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/shelfsync/internal/logging"
)

// BreakerStore wraps a Store with a circuit breaker. While the circuit is
// open every call fails fast with ErrUnavailable, so a dead remote does not
// hold the drain for a full call timeout per operation.
//
// Not-found, conflict and rejection results are answers from a healthy
// store and do not count as failures.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[any]
	name  string
}

// BreakerSettings tunes the breaker. Zero values take the defaults:
// 3 half-open probes, 1 minute window, 2 minute open timeout, tripping at
// 60% failures over at least 10 requests.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MinRequests uint32
	FailureRate float64
}

// NewBreakerStore wraps inner.
func NewBreakerStore(inner Store, s BreakerSettings) *BreakerStore {
	if s.Name == "" {
		s.Name = "remote-store"
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = time.Minute
	}
	if s.Timeout == 0 {
		s.Timeout = 2 * time.Minute
	}
	if s.MinRequests == 0 {
		s.MinRequests = 10
	}
	if s.FailureRate == 0 {
		s.FailureRate = 0.6
	}

	CircuitBreakerState.WithLabelValues(s.Name).Set(0)
	CircuitBreakerConsecutiveFailures.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= s.FailureRate
			if shouldTrip {
				logging.Warn().
					Str("breaker", s.Name).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrConflict) ||
				errors.Is(err, ErrRejected) ||
				errors.Is(err, ErrInvalidPath) ||
				errors.Is(err, context.Canceled)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &BreakerStore{inner: inner, cb: cb, name: s.Name}
}

// State returns the breaker state.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

// Unwrap returns the wrapped store.
func (b *BreakerStore) Unwrap() Store {
	return b.inner
}

func (b *BreakerStore) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			logging.Debug().Err(err).Str("breaker", b.name).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(float64(b.cb.Counts().ConsecutiveFailures))
		return nil, err
	}
	CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(0)
	return result, nil
}

// castResult type-checks a breaker result.
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Get implements Store.
func (b *BreakerStore) Get(ctx context.Context, path string) (Document, error) {
	return castResult[Document](b.execute(func() (any, error) {
		return b.inner.Get(ctx, path)
	}))
}

// Set implements Store.
func (b *BreakerStore) Set(ctx context.Context, path string, doc Document) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Set(ctx, path, doc)
	})
	return err
}

// Update implements Store.
func (b *BreakerStore) Update(ctx context.Context, writes map[string]Document) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Update(ctx, writes)
	})
	return err
}

// Delete implements Store.
func (b *BreakerStore) Delete(ctx context.Context, path string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Delete(ctx, path)
	})
	return err
}

// Push implements Store.
func (b *BreakerStore) Push(ctx context.Context, path string, doc Document) (string, error) {
	return castResult[string](b.execute(func() (any, error) {
		return b.inner.Push(ctx, path, doc)
	}))
}

// List implements Store.
func (b *BreakerStore) List(ctx context.Context, path string, limitToLast int) (map[string]Document, error) {
	return castResult[map[string]Document](b.execute(func() (any, error) {
		return b.inner.List(ctx, path, limitToLast)
	}))
}

// Watch implements Store. Only establishing the subscription goes through
// the breaker.
func (b *BreakerStore) Watch(ctx context.Context, path string) (*Subscription, error) {
	return castResult[*Subscription](b.execute(func() (any, error) {
		return b.inner.Watch(ctx, path)
	}))
}

// Transactor exposes the wrapped store's OCC operations behind the same
// breaker.
func (b *BreakerStore) Transactor() (Transactor, bool) {
	t, ok := AsTransactor(b.inner)
	if !ok {
		return nil, false
	}
	return &breakerTransactor{b: b, inner: t}, true
}

type breakerTransactor struct {
	b     *BreakerStore
	inner Transactor
}

type versioned struct {
	doc Document
	rev uint64
}

func (t *breakerTransactor) GetVersioned(ctx context.Context, path string) (Document, uint64, error) {
	v, err := castResult[versioned](t.b.execute(func() (any, error) {
		doc, rev, err := t.inner.GetVersioned(ctx, path)
		if err != nil {
			return nil, err
		}
		return versioned{doc: doc, rev: rev}, nil
	}))
	return v.doc, v.rev, err
}

func (t *breakerTransactor) CreateIfAbsent(ctx context.Context, path string, doc Document) (uint64, error) {
	return castResult[uint64](t.b.execute(func() (any, error) {
		return t.inner.CreateIfAbsent(ctx, path, doc)
	}))
}

func (t *breakerTransactor) CompareAndSwap(ctx context.Context, path string, doc Document, rev uint64) (uint64, error) {
	return castResult[uint64](t.b.execute(func() (any, error) {
		return t.inner.CompareAndSwap(ctx, path, doc, rev)
	}))
}

func (t *breakerTransactor) DeleteIfRevision(ctx context.Context, path string, rev uint64) error {
	_, err := t.b.execute(func() (any, error) {
		return nil, t.inner.DeleteIfRevision(ctx, path, rev)
	})
	return err
}
