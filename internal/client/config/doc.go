// Package config loads runtime configuration for the Lockbox CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the vault server
//	-d string   data directory for the state database and key files
//	-s int      background sync interval (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "5m" or integer nanoseconds:
//
//	{
//	  "server_url": "https://vault.example.com",
//	  "data_dir": "/var/lib/lockbox",
//	  "sync_interval": "5m"
//	}
//
// Primary API
//
//   - type Config                     — holds endpoints, data paths and intervals
//   - func LoadConfig() *Config       — builds Config by applying defaults, JSON, then flags
//   - func (*Config) LoadDefaults()   — sets sensible defaults
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config