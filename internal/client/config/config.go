package config

import (
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/lockbox/internal/client/models"
)

// Config holds runtime settings for the Lockbox CLI.
//
// Fields:
//   - ServerURL: base URL of the vault server; identity and API endpoints
//     derive from it unless overridden.
//   - IdentityURL, APIURL: explicit endpoint overrides for self-hosted
//     setups that split the services.
//   - DataDir: directory holding the state database and secure key files.
//   - SyncInterval: how often the background sync wakes up.
//
// Units: SyncInterval is a time.Duration (e.g., 5*time.Minute).
type Config struct {
	ServerURL    string
	IdentityURL  string
	APIURL       string
	DataDir      string
	SyncInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "https://127.0.0.1:8443"
	c.DataDir = "."
	c.SyncInterval = 5 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// EnvironmentURLs maps the configured endpoints onto the per-account
// environment record stamped at login.
func (c *Config) EnvironmentURLs() models.EnvironmentURLs {
	return models.EnvironmentURLs{
		Base:     c.ServerURL,
		Identity: c.IdentityURL,
		API:      c.APIURL,
	}
}

// DatabasePath is the sqlite DSN under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "lockbox.db")
}

// SecureDir is the directory for the secure key store under DataDir.
func (c *Config) SecureDir() string {
	return filepath.Join(c.DataDir, "keys")
}