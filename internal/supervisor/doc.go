// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

/*
Package supervisor runs the long-lived services of shelfsync under a suture v4
supervisor tree.

# Layout

	RootSupervisor ("shelfsync")
	├── SyncSupervisor ("sync-layer")
	│   ├── connectivity.Monitor
	│   ├── syncengine.Runner
	│   └── services.MigrationService
	├── MessagingSupervisor ("messaging-layer")
	│   ├── services.WebSocketHubService
	│   └── websocket.AlertRelay
	└── APISupervisor ("api-layer")
	    └── services.HTTPServerService

Services that already implement Serve(ctx) error and String() are added
directly; the services subpackage adapts everything else.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddSyncService(monitor)
	tree.AddSyncService(runner)
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    return err
	}

# Restart policy

A service that returns an error (or panics) is restarted. After
FailureThreshold failures, decaying at FailureDecay per second, the
supervisor backs off for FailureBackoff before trying again. A service that
returns suture.ErrDoNotRestart is left stopped; the migration service does
this once every job has completed.
*/
package supervisor
