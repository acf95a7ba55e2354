// Package config loads runtime configuration for the device client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file given with --config.
//  3. Command-line flags, bound by cmd/client, which override earlier values.
//
// # JSON schema
//
// Durations may be strings like "30s" or integer nanoseconds:
//
//	{
//	  "server_url": "https://sync.example.org",
//	  "device": "tablet-07",
//	  "database_dsn": "/data/casesync.db",
//	  "page_size": 500,
//	  "universe": "01",
//	  "request_timeout": "30s",
//	  "log_level": "info"
//	}
package config
