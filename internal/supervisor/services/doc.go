// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

/*
Package services adapts shelfsync components to suture.Service.

  - HTTPServerService: ListenAndServe/Shutdown to Serve, with a shutdown
    timeout for draining connections
  - WebSocketHubService: names websocket.Hub.RunWithContext for the tree
  - MigrationService: runs migration jobs while online until all complete,
    then returns suture.ErrDoNotRestart

The connectivity monitor, sync runner and alert relay implement
suture.Service themselves and need no wrapper.
*/
package services
