// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/shelfsync/internal/migration"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*WebSocketHubService)(nil)
	_ suture.Service = (*MigrationService)(nil)
)

type fakeHTTPServer struct {
	listenErr   error
	shutdownErr error
	started     chan struct{}
	stop        chan struct{}
	shutdowns   atomic.Int32
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	f.started <- struct{}{}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	close(f.stop)
	return f.shutdownErr
}

func TestHTTPServerServiceShutdown(t *testing.T) {
	server := newFakeHTTPServer()
	svc := NewHTTPServerService(server, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	<-server.started
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if server.shutdowns.Load() != 1 {
		t.Errorf("Shutdown calls = %d, want 1", server.shutdowns.Load())
	}
}

func TestHTTPServerServiceErrors(t *testing.T) {
	t.Run("listen failure", func(t *testing.T) {
		bindErr := errors.New("bind: address already in use")
		server := newFakeHTTPServer()
		server.listenErr = bindErr
		if err := NewHTTPServerService(server, time.Second).Serve(context.Background()); !errors.Is(err, bindErr) {
			t.Errorf("Serve = %v, want %v", err, bindErr)
		}
	})

	t.Run("shutdown failure", func(t *testing.T) {
		shutdownErr := errors.New("connections still open")
		server := newFakeHTTPServer()
		server.shutdownErr = shutdownErr
		svc := NewHTTPServerService(server, time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()
		<-server.started
		cancel()
		if err := <-errCh; !errors.Is(err, shutdownErr) {
			t.Errorf("Serve = %v, want %v", err, shutdownErr)
		}
	})
}

func TestServiceDefaults(t *testing.T) {
	if svc := NewHTTPServerService(newFakeHTTPServer(), -time.Second); svc.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v, want 10s", svc.shutdownTimeout)
	}
	if svc := NewMigrationService(nil, nil, 0); svc.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", svc.interval)
	}

	names := map[string]interface{ String() string }{
		"http-server":      NewHTTPServerService(newFakeHTTPServer(), 0),
		"websocket-hub":    NewWebSocketHubService(nil),
		"migration-runner": NewMigrationService(nil, nil, 0),
	}
	for want, svc := range names {
		if got := svc.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

type blockingHub struct{ runs atomic.Int32 }

func (h *blockingHub) RunWithContext(ctx context.Context) error {
	h.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestWebSocketHubServiceDelegates(t *testing.T) {
	hub := &blockingHub{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := NewWebSocketHubService(hub).Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve = %v, want DeadlineExceeded", err)
	}
	if hub.runs.Load() != 1 {
		t.Errorf("RunWithContext calls = %d, want 1", hub.runs.Load())
	}
}

type namedJob string

func (j namedJob) Name() string                                   { return string(j) }
func (j namedJob) Version() int                                   { return 1 }
func (j namedJob) Plan(context.Context) ([]migration.Step, error) { return nil, nil }

// scriptedRunner returns queued results per job name.
type scriptedRunner struct {
	mu        sync.Mutex
	results   map[string][]error
	deferrals map[string]int
	calls     map[string]int
}

func (r *scriptedRunner) Run(_ context.Context, job migration.Job) (migration.JobResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[job.Name()]++
	if r.deferrals[job.Name()] > 0 {
		r.deferrals[job.Name()]--
		return migration.JobResult{Job: job.Name(), Deferred: true}, nil
	}
	if errs := r.results[job.Name()]; len(errs) > 0 {
		r.results[job.Name()] = errs[1:]
		return migration.JobResult{Job: job.Name()}, errs[0]
	}
	return migration.JobResult{Job: job.Name(), Completed: 1}, nil
}

type onlineFlag struct{ online atomic.Bool }

func (o *onlineFlag) HasConnectivity() bool { return o.online.Load() }

func TestMigrationServiceRetriesUntilDone(t *testing.T) {
	runner := &scriptedRunner{
		results:   map[string][]error{"b": {errors.New("remote unavailable")}},
		deferrals: map[string]int{"a": 1},
		calls:     map[string]int{},
	}
	conn := &onlineFlag{}
	conn.online.Store(true)
	svc := NewMigrationService(runner, conn, 10*time.Millisecond, namedJob("a"), namedJob("b"), namedJob("c"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Serve(ctx); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("Serve = %v, want ErrDoNotRestart", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	want := map[string]int{"a": 2, "b": 2, "c": 1}
	for job, n := range want {
		if runner.calls[job] != n {
			t.Errorf("%s runs = %d, want %d", job, runner.calls[job], n)
		}
	}
}

func TestMigrationServiceWaitsForConnectivity(t *testing.T) {
	runner := &scriptedRunner{results: map[string][]error{}, deferrals: map[string]int{}, calls: map[string]int{}}
	conn := &onlineFlag{}
	svc := NewMigrationService(runner, conn, 10*time.Millisecond, namedJob("a"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Serve = %v, want DeadlineExceeded", err)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls["a"] != 0 {
		t.Errorf("job ran while offline")
	}
}
