// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

/*
Package websocket pushes sync status and inventory alerts to connected
clients.

Key Components:

  - Hub: owns the client set, follows the engine's status stream and fans
    every message out to all clients
  - Client: one connection with a read pump (pings, close detection) and a
    write pump (messages, keepalive pings)
  - AlertRelay: forwards inventory alerts from a Watermill subscriber to the
    hub

Message Types:

	sync_status      syncengine.Status, sent on connect and after every change
	inventory_alert  inventory.Alert
	ping / pong      client keepalive

A client that connects receives the latest status immediately, so a UI never
has to poll /api/v1/sync/status after opening the socket.

Slow clients whose send buffer is full are dropped rather than allowed to
stall the broadcast loop.
*/
package websocket
