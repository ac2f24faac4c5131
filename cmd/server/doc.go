// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

/*
Package main is the shelfsync daemon: the sync engine of one point-of-sale
device, serving the local HTTP API the till frontend talks to.

# Application Architecture

	RootSupervisor ("shelfsync")
	├── SyncSupervisor ("sync-layer")
	│   ├── connectivity monitor
	│   ├── sync runner (drain, pull, live-diff)
	│   └── migration runner (stops once every job completed)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── websocket hub
	│   └── stock alert relay
	└── APISupervisor ("api-layer")
	    └── HTTP server

Component initialization order:

 1. Configuration: koanf with defaults, optional YAML file, environment
 2. Local store: BadgerDB holding cached collections, outbox and metadata
 3. Remote store: in-memory, or a NATS JetStream Key-Value bucket
    (optionally on an embedded server) behind a circuit breaker
 4. Sync engine, stock reconciler, suggestion service, migration jobs
 5. Websocket hub and alert relay (Watermill GoChannel or NATS)
 6. HTTP API (chi)

# Configuration

See package config. The most used environment variables:

	STORE_PATH=/data/shelfsync
	REMOTE_BACKEND=nats            # or memory
	NATS_URL=nats://hq:4222
	NATS_EMBEDDED=true             # run JetStream in process
	DEVICE_ID=till-4
	HTTP_LISTEN_ADDR=:8787
	STOCK_ALERT_BACKEND=nats       # share stock alerts between devices

# Signal Handling

SIGINT and SIGTERM cancel the supervisor tree. The HTTP server drains
in-flight requests, queued operations stay in the outbox for the next start,
and the local store is closed last.
*/
package main
