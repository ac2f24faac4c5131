// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"shelfsync.yaml",
	"shelfsync.yml",
	"/etc/shelfsync/config.yaml",
	"/etc/shelfsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:         "/data/shelfsync",
			SyncWrites:   true,
			Compression:  true,
			CloseTimeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			Interval:         30 * time.Second,
			CallTimeout:      10 * time.Second,
			MaxPasses:        8,
			GraceWindow:      2 * time.Second,
			AppendOnlyLimit:  500,
			MinDrainInterval: 2 * time.Second,
			BackoffBase:      5 * time.Second,
			BackoffMax:       5 * time.Minute,
			Subtrees: []string{
				"inventory",
				"customers/retail",
				"customers/wholesale",
				"baskets",
				"suggestions",
				"gsat_activations",
				"stock_history",
				"transactions",
			},
			AppendOnly: []string{"stock_history", "transactions"},
		},
		Remote: RemoteConfig{
			Backend:  "nats",
			NATSURL:  "nats://127.0.0.1:4222",
			Embedded: false,
			StoreDir: "/data/shelfsync/nats",
			Bucket:   "shelfsync",
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 5 * time.Second,
		},
		Lock: LockConfig{
			Timeout:         5 * time.Minute,
			RefreshInterval: time.Minute,
		},
		Inventory: InventoryConfig{
			AlertTopic:   "inventory.alerts",
			AlertBackend: "channel",
		},
		API: APIConfig{
			ListenAddr:      ":8787",
			CORSOrigins:     []string{"*"},
			RateLimit:       120,
			RateWindow:      time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from three layers:
//
//  1. Defaults from defaultConfig
//  2. Optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables (see envTransformFunc)
//
// The result is validated before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"sync.subtrees",
	"sync.append_only",
	"api.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"store_path":          "store.path",
	"store_in_memory":     "store.in_memory",
	"store_sync_writes":   "store.sync_writes",
	"store_compression":   "store.compression",
	"store_close_timeout": "store.close_timeout",

	"device_id":               "sync.device_id",
	"sync_interval":           "sync.interval",
	"sync_call_timeout":       "sync.call_timeout",
	"sync_max_passes":         "sync.max_passes",
	"sync_grace_window":       "sync.grace_window",
	"sync_append_only_limit":  "sync.append_only_limit",
	"sync_min_drain_interval": "sync.min_drain_interval",
	"sync_backoff_base":       "sync.backoff_base",
	"sync_backoff_max":        "sync.backoff_max",
	"sync_subtrees":           "sync.subtrees",
	"sync_append_only":        "sync.append_only",

	"remote_backend": "remote.backend",
	"nats_url":       "remote.nats_url",
	"nats_embedded":  "remote.embedded",
	"nats_store_dir": "remote.store_dir",
	"nats_kv_bucket": "remote.bucket",

	"connectivity_probe_interval": "connectivity.probe_interval",

	"migration_lock_timeout":          "lock.timeout",
	"migration_lock_refresh_interval": "lock.refresh_interval",

	"stock_alert_topic":   "inventory.alert_topic",
	"stock_alert_backend": "inventory.alert_backend",

	"http_listen_addr":      "api.listen_addr",
	"cors_origins":          "api.cors_origins",
	"api_rate_limit":        "api.rate_limit",
	"api_rate_window":       "api.rate_window",
	"http_shutdown_timeout": "api.shutdown_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to its koanf path.
//
//   - STORE_PATH -> store.path
//   - NATS_URL -> remote.nats_url
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
