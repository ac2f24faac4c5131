// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package main

import (
	"context"
	"fmt"

	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/connectivity"
	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/remote"
)

// RemoteComponents holds the authoritative store and what it runs on.
type RemoteComponents struct {
	server *remote.EmbeddedServer
	conn   *natsgo.Conn

	// Store is the breaker-wrapped remote store.
	Store remote.Store

	// Prober backs the connectivity monitor.
	Prober connectivity.Prober

	// URL is the NATS URL alerts are exchanged on; empty for the memory
	// backend.
	URL string
}

// InitRemote opens the remote store selected by cfg.Remote.Backend.
//
//   - memory: an in-process store, for demos and tests; always online
//   - nats: a JetStream Key-Value bucket, optionally on an embedded server
func InitRemote(ctx context.Context, cfg *config.Config) (*RemoteComponents, error) {
	c := &RemoteComponents{}

	switch cfg.Remote.Backend {
	case "memory":
		mem := remote.NewMemoryStore()
		c.Store = mem
		c.Prober = connectivity.NewMemoryProber(mem)
		logging.Warn().Msg("Using in-memory remote store; data is not shared and is lost on exit")

	case "nats":
		url := cfg.Remote.NATSURL
		if cfg.Remote.Embedded {
			srv, err := remote.NewEmbeddedServer(remote.EmbeddedConfig{
				Host:     "127.0.0.1",
				Port:     4222,
				StoreDir: cfg.Remote.StoreDir,
			})
			if err != nil {
				return nil, err
			}
			c.server = srv
			url = srv.ClientURL()
			logging.Info().Str("url", url).Msg("Embedded NATS server started")
		}

		nc, err := remote.Connect(url)
		if err != nil {
			c.Shutdown(ctx)
			return nil, err
		}
		c.conn = nc
		c.URL = url

		kv, err := remote.NewNATSStore(ctx, nc, cfg.Remote.Bucket)
		if err != nil {
			c.Shutdown(ctx)
			return nil, err
		}
		c.Store = kv
		c.Prober = connectivity.NewNATSProber(nc)
		logging.Info().Str("url", url).Str("bucket", cfg.Remote.Bucket).Msg("Connected to remote store")

	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}

	c.Store = remote.NewBreakerStore(c.Store, remote.BreakerSettings{})
	return c, nil
}

// Shutdown closes the connection and stops the embedded server. Safe on a
// partially initialized value.
func (c *RemoteComponents) Shutdown(ctx context.Context) {
	if c == nil {
		return
	}
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			logging.Warn().Err(err).Msg("NATS drain failed")
		}
		c.conn = nil
	}
	if c.server != nil {
		if c.server.IsRunning() {
			if err := c.server.Shutdown(ctx); err != nil {
				logging.Warn().Err(err).Msg("Embedded NATS shutdown failed")
			}
		}
		c.server = nil
	}
}
