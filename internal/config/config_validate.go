// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package config

import (
	"fmt"
	"time"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateLock(); err != nil {
		return err
	}
	if err := c.validateInventory(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required unless STORE_IN_MEMORY=true")
	}
	if c.Store.CloseTimeout <= 0 {
		return fmt.Errorf("STORE_CLOSE_TIMEOUT must be positive, got %v", c.Store.CloseTimeout)
	}
	return nil
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.Interval < time.Second {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1s, got %v", s.Interval)
	}
	if s.CallTimeout <= 0 {
		return fmt.Errorf("SYNC_CALL_TIMEOUT must be positive, got %v", s.CallTimeout)
	}
	if s.MaxPasses < 1 {
		return fmt.Errorf("SYNC_MAX_PASSES must be at least 1, got %d", s.MaxPasses)
	}
	if s.GraceWindow < 0 {
		return fmt.Errorf("SYNC_GRACE_WINDOW must not be negative, got %v", s.GraceWindow)
	}
	if s.AppendOnlyLimit < 1 {
		return fmt.Errorf("SYNC_APPEND_ONLY_LIMIT must be at least 1, got %d", s.AppendOnlyLimit)
	}
	if s.BackoffBase <= 0 || s.BackoffMax < s.BackoffBase {
		return fmt.Errorf("SYNC_BACKOFF_MAX (%v) must be >= SYNC_BACKOFF_BASE (%v) > 0", s.BackoffMax, s.BackoffBase)
	}
	if len(s.Subtrees) == 0 {
		return fmt.Errorf("SYNC_SUBTREES must list at least one subtree")
	}
	for _, ao := range s.AppendOnly {
		found := false
		for _, st := range s.Subtrees {
			if st == ao {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("SYNC_APPEND_ONLY entry %q is not a configured subtree", ao)
		}
	}
	return nil
}

func (c *Config) validateRemote() error {
	switch c.Remote.Backend {
	case "memory":
		return nil
	case "nats":
		if !c.Remote.Embedded && c.Remote.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when NATS_EMBEDDED=false")
		}
		if c.Remote.Embedded && c.Remote.StoreDir == "" {
			return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED=true")
		}
		if c.Remote.Bucket == "" {
			return fmt.Errorf("NATS_KV_BUCKET is required")
		}
		return nil
	default:
		return fmt.Errorf("REMOTE_BACKEND must be 'memory' or 'nats', got %q", c.Remote.Backend)
	}
}

func (c *Config) validateLock() error {
	if c.Lock.Timeout < time.Minute {
		return fmt.Errorf("MIGRATION_LOCK_TIMEOUT must be at least 1m, got %v", c.Lock.Timeout)
	}
	if c.Lock.RefreshInterval <= 0 || c.Lock.RefreshInterval >= c.Lock.Timeout {
		return fmt.Errorf("MIGRATION_LOCK_REFRESH_INTERVAL must be positive and below the lock timeout, got %v", c.Lock.RefreshInterval)
	}
	return nil
}

func (c *Config) validateInventory() error {
	if c.Inventory.AlertTopic == "" {
		return fmt.Errorf("STOCK_ALERT_TOPIC is required")
	}
	switch c.Inventory.AlertBackend {
	case "channel":
	case "nats":
		if c.Remote.Backend != "nats" {
			return fmt.Errorf("STOCK_ALERT_BACKEND=nats requires REMOTE_BACKEND=nats")
		}
	default:
		return fmt.Errorf("STOCK_ALERT_BACKEND must be 'channel' or 'nats', got %q", c.Inventory.AlertBackend)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.ListenAddr == "" {
		return fmt.Errorf("HTTP_LISTEN_ADDR is required")
	}
	if c.API.RateLimit < 1 {
		return fmt.Errorf("API_RATE_LIMIT must be at least 1, got %d", c.API.RateLimit)
	}
	if c.API.RateWindow <= 0 {
		return fmt.Errorf("API_RATE_WINDOW must be positive, got %v", c.API.RateWindow)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console', got %q", c.Logging.Format)
	}
}
