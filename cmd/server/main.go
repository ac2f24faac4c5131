// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/shelfsync/internal/api"
	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/connectivity"
	"github.com/tomtom215/shelfsync/internal/inventory"
	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/migration"
	"github.com/tomtom215/shelfsync/internal/outbox"
	"github.com/tomtom215/shelfsync/internal/store"
	"github.com/tomtom215/shelfsync/internal/suggestions"
	"github.com/tomtom215/shelfsync/internal/supervisor"
	"github.com/tomtom215/shelfsync/internal/supervisor/services"
	"github.com/tomtom215/shelfsync/internal/syncengine"
	ws "github.com/tomtom215/shelfsync/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if cfg.Sync.DeviceID == "" {
		cfg.Sync.DeviceID = uuid.New().String()
	}
	logging.Info().
		Str("device_id", cfg.Sync.DeviceID).
		Str("store_path", cfg.Store.Path).
		Str("remote_backend", cfg.Remote.Backend).
		Msg("Starting shelfsync")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Shelfsync stopped with an error")
	}
	logging.Info().Msg("Shelfsync stopped")
}

//nolint:gocyclo // sequential wiring of every component
func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Local store and outbox share one BadgerDB.
	local, err := store.Open(store.Config{
		Path:         cfg.Store.Path,
		InMemory:     cfg.Store.InMemory,
		SyncWrites:   cfg.Store.SyncWrites,
		Compression:  cfg.Store.Compression,
		CloseTimeout: cfg.Store.CloseTimeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := local.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing local store")
		}
	}()

	queue, err := outbox.New(local.DB())
	if err != nil {
		return err
	}

	rc, err := InitRemote(ctx, cfg)
	if err != nil {
		return err
	}
	defer rc.Shutdown(context.Background())

	monitor := connectivity.NewMonitor(rc.Prober, cfg.Connectivity.ProbeInterval)

	engine := syncengine.New(syncengine.Config{
		DeviceID:        cfg.Sync.DeviceID,
		CallTimeout:     cfg.Sync.CallTimeout,
		MaxPasses:       cfg.Sync.MaxPasses,
		GraceWindow:     cfg.Sync.GraceWindow,
		AppendOnlyLimit: cfg.Sync.AppendOnlyLimit,
		Subtrees:        cfg.Sync.Subtrees,
		AppendOnly:      cfg.Sync.AppendOnly,
	}, local, queue, rc.Store, monitor)

	runner := syncengine.NewRunner(engine, monitor, syncengine.RunnerConfig{
		Interval:         cfg.Sync.Interval,
		MinDrainInterval: cfg.Sync.MinDrainInterval,
		BackoffBase:      cfg.Sync.BackoffBase,
		BackoffMax:       cfg.Sync.BackoffMax,
	})

	alerts, err := InitAlerts(cfg, rc.URL)
	if err != nil {
		return err
	}
	defer alerts.Close()

	stock := inventory.NewReconciler(engine, local, alerts.Publisher)
	engine.OnApplied(stock.OnApplied)

	suggestionSvc := suggestions.NewService(engine, local, rc.Store, monitor, cfg.Sync.CallTimeout)

	lock := migration.NewLock(rc.Store, cfg.Lock.Timeout)
	migrations := migration.NewRunner(rc.Store, local, lock, migration.RunnerConfig{
		RefreshInterval: cfg.Lock.RefreshInterval,
		Device:          cfg.Sync.DeviceID,
	})
	dedupe := migration.NewDedupeInventoryJob(rc.Store, local, cfg.Sync.DeviceID)

	hub := ws.NewHub(engine)
	relay := ws.NewAlertRelay(hub, alerts.Subscriber, alerts.Topic)

	mw := api.NewChiMiddleware(&api.ChiMiddlewareConfig{
		CORSAllowedOrigins: cfg.API.CORSOrigins,
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "X-Request-ID", "X-Device-ID"},
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.API.RateLimit,
		RateLimitWindow:    cfg.API.RateWindow,
	})
	handler := api.NewHandler(api.Deps{
		Engine:         engine,
		Outbox:         queue,
		Stock:          stock,
		Suggestions:    suggestionSvc,
		Hub:            hub,
		AllowedOrigins: cfg.API.CORSOrigins,
	})
	server := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           api.NewRouter(handler, mw).SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}
	tree.AddSyncService(monitor)
	tree.AddSyncService(runner)
	tree.AddSyncService(services.NewMigrationService(migrations, monitor, time.Minute, dedupe))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddMessagingService(relay)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.API.ShutdownTimeout))

	logging.Info().Str("addr", cfg.API.ListenAddr).Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("Services did not stop within the shutdown timeout")
	}
	return nil
}
