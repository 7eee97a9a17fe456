// Package config loads engine configuration from an optional YAML file and
// CFGVAULT_-prefixed environment variables. Environment values win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/assetforge/cfgvault/pkg/authz"
	"github.com/assetforge/cfgvault/pkg/cache"
	"github.com/assetforge/cfgvault/pkg/codec"
	"github.com/assetforge/cfgvault/pkg/db"
	"github.com/assetforge/cfgvault/pkg/ha"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CFGVAULT_"

// Config is the complete engine configuration.
type Config struct {
	Database      DatabaseConfig      `yaml:"database" envPrefix:"DB_"`
	Storage       StorageConfig       `yaml:"storage" envPrefix:"STORAGE_"`
	Logging       LoggingConfig       `yaml:"logging" envPrefix:"LOG_"`
	Identity      IdentityConfig      `yaml:"identity" envPrefix:"IDENTITY_"`
	MigrationLock MigrationLockConfig `yaml:"migrationLock" envPrefix:"MIGRATION_LOCK_"`
	Audit         AuditConfig         `yaml:"audit" envPrefix:"AUDIT_"`
}

// DatabaseConfig selects and tunes the relational backend.
type DatabaseConfig struct {
	Type         string `yaml:"type" env:"TYPE"`
	DSN          string `yaml:"dsn" env:"DSN"`
	MaxOpenConns int    `yaml:"maxOpenConns" env:"MAX_OPEN_CONNS"`
	LogSQL       bool   `yaml:"logSQL" env:"LOG_SQL"`
}

// StorageConfig tunes the content pipeline.
type StorageConfig struct {
	Compression     string        `yaml:"compression" env:"COMPRESSION"`
	MaxPayloadBytes int64         `yaml:"maxPayloadBytes" env:"MAX_PAYLOAD_BYTES"`
	KeySalt         string        `yaml:"keySalt" env:"KEY_SALT"`
	KeyCacheSize    int           `yaml:"keyCacheSize" env:"KEY_CACHE_SIZE"`
	KeyCacheTTL     time.Duration `yaml:"keyCacheTTL" env:"KEY_CACHE_TTL"`
}

// LoggingConfig selects the zap logger flavour.
type LoggingConfig struct {
	Mode  string `yaml:"mode" env:"MODE"`
	Level string `yaml:"level" env:"LEVEL"`
}

// IdentityConfig is the default principal for commands that do not get one
// from their caller.
type IdentityConfig struct {
	User string `yaml:"user" env:"USER"`
	Role string `yaml:"role" env:"ROLE"`
}

// MigrationLockConfig is the retry policy for the schema migration lock.
type MigrationLockConfig struct {
	MaxRetries    int           `yaml:"maxRetries" env:"MAX_RETRIES"`
	RetryInterval time.Duration `yaml:"retryInterval" env:"RETRY_INTERVAL"`
	StaleAfter    time.Duration `yaml:"staleAfter" env:"STALE_AFTER"`
}

// AuditConfig controls audit recording.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled" env:"ENABLED"`
	RetentionDays int  `yaml:"retentionDays" env:"RETENTION_DAYS"`
}

// Default returns the built-in configuration: a local SQLite file, zstd
// compression and production logging.
func Default() *Config {
	lock := ha.DefaultLockOptions()
	return &Config{
		Database: DatabaseConfig{
			Type:         db.TypeSQLite,
			DSN:          "cfgvault.db",
			MaxOpenConns: 10,
		},
		Storage: StorageConfig{
			Compression:     string(codec.CompressionZstd),
			MaxPayloadBytes: codec.DefaultMaxPayload,
			KeySalt:         codec.DefaultKeySalt,
			KeyCacheSize:    256,
			KeyCacheTTL:     10 * time.Minute,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Identity: IdentityConfig{
			Role: string(authz.RoleEngineer),
		},
		MigrationLock: MigrationLockConfig{
			MaxRetries:    lock.MaxRetries,
			RetryInterval: lock.RetryInterval,
			StaleAfter:    lock.StaleAfter,
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 365,
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations and ranges. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error

	switch db.NormalizeType(c.Database.Type) {
	case db.TypeSQLite, db.TypePostgres, db.TypeMySQL:
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not one of sqlite, postgres, mysql", c.Database.Type))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, errors.New("database.maxOpenConns must not be negative"))
	}

	if _, err := codec.ParseCompression(c.Storage.Compression); err != nil {
		errs = append(errs, fmt.Errorf("storage.compression: %w", err))
	}
	if c.Storage.MaxPayloadBytes <= 0 {
		errs = append(errs, errors.New("storage.maxPayloadBytes must be positive"))
	}
	if c.Storage.KeySalt == "" {
		errs = append(errs, errors.New("storage.keySalt must not be empty"))
	}

	switch c.Logging.Mode {
	case "production", "development":
	default:
		errs = append(errs, fmt.Errorf("logging.mode %q is not one of production, development", c.Logging.Mode))
	}

	if c.Identity.Role != "" {
		if _, err := authz.ParseRole(c.Identity.Role); err != nil {
			errs = append(errs, fmt.Errorf("identity.role: %w", err))
		}
	}

	if c.MigrationLock.MaxRetries < 1 {
		errs = append(errs, errors.New("migrationLock.maxRetries must be at least 1"))
	}

	return errors.Join(errs...)
}

// Pipeline builds the codec pipeline described by the storage section.
func (c *Config) Pipeline() *codec.Pipeline {
	algo, _ := codec.ParseCompression(c.Storage.Compression)
	p := &codec.Pipeline{
		Salt:        c.Storage.KeySalt,
		Compression: algo,
		MaxPayload:  c.Storage.MaxPayloadBytes,
	}
	if c.Storage.KeyCacheSize > 0 {
		p.Keys = cache.New[string, []byte](c.Storage.KeyCacheSize, c.Storage.KeyCacheTTL)
	}
	return p
}

// DBOptions converts the database section for db.Open.
func (c *Config) DBOptions() db.Options {
	return db.Options{
		Type:         c.Database.Type,
		DSN:          c.Database.DSN,
		MaxOpenConns: c.Database.MaxOpenConns,
		LogSQL:       c.Database.LogSQL,
	}
}

// LockOptions converts the migration lock section.
func (c *Config) LockOptions() ha.LockOptions {
	return ha.LockOptions{
		MaxRetries:    c.MigrationLock.MaxRetries,
		RetryInterval: c.MigrationLock.RetryInterval,
		StaleAfter:    c.MigrationLock.StaleAfter,
	}
}
