// Package config loads escrowd configuration from a YAML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full escrowd configuration.
type Config struct {
	ListenAddr string         `yaml:"listen_addr"`
	LogLevel   string         `yaml:"log_level"`
	Database   DatabaseConfig `yaml:"database"`
	Timelock   TimelockConfig `yaml:"timelock"`
	Auth       AuthConfig     `yaml:"auth"`
	RateLimit  RateLimit      `yaml:"rate_limit"`
	Telemetry  Telemetry      `yaml:"telemetry"`
	Audit      AuditConfig    `yaml:"audit"`
	Bootstrap  Bootstrap      `yaml:"bootstrap"`
	// RefundPolicy documents who may trigger refunds. The engine implements
	// "open": anyone may call refund, funds always return to the locker.
	RefundPolicy string `yaml:"refund_policy"`
	// MaxPoolAdjust bounds a single administrative pool adjustment.
	MaxPoolAdjust uint64 `yaml:"max_pool_adjust"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// TimelockConfig bounds lock durations, in seconds.
type TimelockConfig struct {
	MinSeconds     uint64 `yaml:"min_seconds"`
	MaxSeconds     uint64 `yaml:"max_seconds"`
	DefaultSeconds uint64 `yaml:"default_seconds"`
}

// AuthConfig configures bearer-token authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RateLimit configures per-actor request limiting.
type RateLimit struct {
	RPM int `yaml:"rpm"`
}

// Telemetry configures the OpenTelemetry exporters.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// AuditConfig configures the audit event stream.
type AuditConfig struct {
	// Path of the JSONL audit log; empty means stdout.
	Path string `yaml:"path"`
}

// BootstrapGrant is one initial (role, principal, adminRole) triple.
type BootstrapGrant struct {
	Role      string `yaml:"role"`
	Principal string `yaml:"principal"`
	AdminRole string `yaml:"admin_role"`
}

// Bootstrap holds the one-time initialization input.
type Bootstrap struct {
	Grants []BootstrapGrant `yaml:"grants"`
}

// Default returns a development configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "INFO",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:escrowd.db",
		},
		Timelock: TimelockConfig{
			MinSeconds:     60,
			MaxSeconds:     30 * 24 * 3600,
			DefaultSeconds: 3600,
		},
		RateLimit:     RateLimit{RPM: 600},
		RefundPolicy:  "open",
		MaxPoolAdjust: 1_000_000,
	}
}

// Load reads the YAML file at path, falling back to defaults for absent
// fields, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if v := os.Getenv("ESCROWD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ESCROWD_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ESCROWD_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ESCROWD_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Timelock.MinSeconds == 0 {
		return fmt.Errorf("config: timelock.min_seconds must be positive")
	}
	if c.Timelock.MaxSeconds <= c.Timelock.MinSeconds {
		return fmt.Errorf("config: timelock.max_seconds must exceed min_seconds")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// MinTimelock returns the lower timelock bound as a duration.
func (c *Config) MinTimelock() time.Duration {
	return time.Duration(c.Timelock.MinSeconds) * time.Second
}

// MaxTimelock returns the upper timelock bound as a duration.
func (c *Config) MaxTimelock() time.Duration {
	return time.Duration(c.Timelock.MaxSeconds) * time.Second
}
