// Package config holds the environment-driven configuration for a
// coordinator node and its directory service.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is parsed once at startup. Zero values are filled from the
// defaults below; tests construct it directly.
type Config struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	// Coordinator WebSocket listener.
	ListenAddr string `env:"LISTEN_ADDR,default=:8443"`

	// Directory HTTP listener and persistence.
	DirectoryAddr   string   `env:"DIRECTORY_ADDR,default=:8444"`
	DirectoryDBPath string   `env:"DIRECTORY_DB_PATH,default=directory.db"`
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS"`
	RegistrySecret  string   `env:"SERVER_REGISTRY_SECRET"`
	DevMode         bool     `env:"DEV_MODE,default=false"`

	// ChunksEnabled provisions the chunk index. Deployments that run
	// without chunk support answer chunk frames with an error.
	ChunksEnabled bool `env:"CHUNKS_ENABLED,default=true"`

	// Resource caps.
	ChunkCacheCapacity int     `env:"CHUNK_CACHE_CAPACITY,default=1000"`
	DirectoryCapacity  int     `env:"DIRECTORY_CAPACITY,default=1000"`
	RelayLoadThreshold float64 `env:"RELAY_LOAD_THRESHOLD,default=0.5"`

	// Per-registry expiry.
	RelayTTL            time.Duration `env:"RELAY_TTL,default=1h"`
	DailyTTL            time.Duration `env:"RENDEZVOUS_DAILY_TTL,default=48h"`
	HourlyTTL           time.Duration `env:"RENDEZVOUS_HOURLY_TTL,default=3h"`
	SourceTTL           time.Duration `env:"CHUNK_SOURCE_TTL,default=1h"`
	CacheTTL            time.Duration `env:"CHUNK_CACHE_TTL,default=30m"`
	PendingTTL          time.Duration `env:"CHUNK_PENDING_TTL,default=5m"`
	DirectoryTTL        time.Duration `env:"DIRECTORY_TTL,default=5m"`
	SweepInterval       time.Duration `env:"DIRECTORY_SWEEP_INTERVAL,default=5m"`
	MaintenanceInterval time.Duration `env:"MAINTENANCE_INTERVAL,default=1m"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set in the
// environment. Tests start from this and override fields.
func Default() *Config {
	return &Config{
		Environment:         "development",
		LogLevel:            "info",
		ListenAddr:          ":8443",
		DirectoryAddr:       ":8444",
		DirectoryDBPath:     "directory.db",
		ChunksEnabled:       true,
		ChunkCacheCapacity:  1000,
		DirectoryCapacity:   1000,
		RelayLoadThreshold:  0.5,
		RelayTTL:            time.Hour,
		DailyTTL:            48 * time.Hour,
		HourlyTTL:           3 * time.Hour,
		SourceTTL:           time.Hour,
		CacheTTL:            30 * time.Minute,
		PendingTTL:          5 * time.Minute,
		DirectoryTTL:        5 * time.Minute,
		SweepInterval:       5 * time.Minute,
		MaintenanceInterval: time.Minute,
	}
}

// Production reports whether identifier redaction and debug suppression
// apply.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// Validate rejects configurations that would misbehave at runtime rather
// than failing at first use.
func (c *Config) Validate() error {
	if c.ChunkCacheCapacity <= 0 {
		return fmt.Errorf("chunk cache capacity must be positive, got %d", c.ChunkCacheCapacity)
	}
	if c.DirectoryCapacity <= 0 {
		return fmt.Errorf("directory capacity must be positive, got %d", c.DirectoryCapacity)
	}
	if c.RelayLoadThreshold <= 0 || c.RelayLoadThreshold > 1 {
		return fmt.Errorf("relay load threshold must be in (0, 1], got %v", c.RelayLoadThreshold)
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"RELAY_TTL", c.RelayTTL},
		{"RENDEZVOUS_DAILY_TTL", c.DailyTTL},
		{"RENDEZVOUS_HOURLY_TTL", c.HourlyTTL},
		{"CHUNK_SOURCE_TTL", c.SourceTTL},
		{"CHUNK_CACHE_TTL", c.CacheTTL},
		{"CHUNK_PENDING_TTL", c.PendingTTL},
		{"DIRECTORY_TTL", c.DirectoryTTL},
	} {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	return nil
}
