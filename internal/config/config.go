// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package config loads shelfsync configuration from built-in defaults, an
// optional YAML file and environment variables (in increasing priority),
// using koanf.
package config

import "time"

// Config is the root configuration for the sync daemon.
type Config struct {
	Store        StoreConfig        `koanf:"store"`
	Sync         SyncConfig         `koanf:"sync"`
	Remote       RemoteConfig       `koanf:"remote"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Lock         LockConfig         `koanf:"lock"`
	Inventory    InventoryConfig    `koanf:"inventory"`
	API          APIConfig          `koanf:"api"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// StoreConfig configures the local BadgerDB store that holds cached
// collections, the outbox and sync metadata.
type StoreConfig struct {
	Path         string        `koanf:"path"`
	InMemory     bool          `koanf:"in_memory"`
	SyncWrites   bool          `koanf:"sync_writes"`
	Compression  bool          `koanf:"compression"`
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// SyncConfig configures the sync engine and its runner.
type SyncConfig struct {
	// DeviceID identifies this device as migration lock owner and in logs.
	// Generated at startup when empty.
	DeviceID string `koanf:"device_id"`

	// Interval between periodic drains while online.
	Interval time.Duration `koanf:"interval"`

	// CallTimeout bounds every individual remote call.
	CallTimeout time.Duration `koanf:"call_timeout"`

	// MaxPasses bounds the queue passes of one drain cycle.
	MaxPasses int `koanf:"max_passes"`

	// GraceWindow is how long live-diff holds snapshots after the first
	// subscription before applying them.
	GraceWindow time.Duration `koanf:"grace_window"`

	// AppendOnlyLimit caps bulk pulls of append-only subtrees.
	AppendOnlyLimit int `koanf:"append_only_limit"`

	// MinDrainInterval throttles drains triggered by connectivity changes.
	MinDrainInterval time.Duration `koanf:"min_drain_interval"`

	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffMax  time.Duration `koanf:"backoff_max"`

	// Subtrees are the remote paths mirrored into local collections.
	Subtrees []string `koanf:"subtrees"`

	// AppendOnly lists the subtrees whose bulk pull is capped.
	AppendOnly []string `koanf:"append_only"`
}

// RemoteConfig selects and configures the authoritative remote store.
type RemoteConfig struct {
	// Backend is "memory" or "nats".
	Backend  string `koanf:"backend"`
	NATSURL  string `koanf:"nats_url"`
	Embedded bool   `koanf:"embedded"`
	StoreDir string `koanf:"store_dir"`
	Bucket   string `koanf:"bucket"`
}

// ConnectivityConfig configures the connectivity monitor.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `koanf:"probe_interval"`
}

// LockConfig configures the migration lock.
type LockConfig struct {
	Timeout         time.Duration `koanf:"timeout"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// InventoryConfig configures stock alerting.
type InventoryConfig struct {
	AlertTopic string `koanf:"alert_topic"`
	// AlertBackend is "channel" (in-process) or "nats".
	AlertBackend string `koanf:"alert_backend"`
}

// APIConfig configures the HTTP boundary.
type APIConfig struct {
	ListenAddr      string        `koanf:"listen_addr"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"`
	RateWindow      time.Duration `koanf:"rate_window"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsAppendOnly reports whether path is configured as an append-only subtree.
func (s *SyncConfig) IsAppendOnly(path string) bool {
	for _, p := range s.AppendOnly {
		if p == path {
			return true
		}
	}
	return false
}
