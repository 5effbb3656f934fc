// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

// Package config loads connect settings from defaults, a YAML file, the
// environment and command-line flags, in increasing precedence.
package config

import (
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/serpconnect/connect/internal/account"
	"github.com/serpconnect/connect/internal/logging"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the complete connect configuration.
type Config struct {
	Store   StoreConfig   `koanf:"store" yaml:"store" json:"store" envPrefix:"STORE_"`
	Log     LogConfig     `koanf:"log" yaml:"log" json:"log" envPrefix:"LOG_"`
	Hasher  HasherConfig  `koanf:"hasher" yaml:"hasher" json:"hasher" envPrefix:"HASHER_"`
	Tokens  TokenConfig   `koanf:"tokens" yaml:"tokens" json:"tokens" envPrefix:"TOKENS_"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics" json:"metrics" envPrefix:"METRICS_"`
}

// StoreConfig selects and locates the graph store.
type StoreConfig struct {
	Driver         string `koanf:"driver" yaml:"driver" json:"driver" env:"DRIVER" jsonschema:"enum=memory,enum=postgres,enum=sqlite,default=sqlite"`
	DatabaseURL    string `koanf:"database_url" yaml:"database_url" json:"database_url,omitempty" env:"DATABASE_URL" jsonschema:"description=PostgreSQL connection URL"`
	SQLitePath     string `koanf:"sqlite_path" yaml:"sqlite_path" json:"sqlite_path,omitempty" env:"SQLITE_PATH"`
	AutoMigrate    bool   `koanf:"auto_migrate" yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE" jsonschema:"description=Apply pending migrations when opening the store"`
	ConnectRetries uint64 `koanf:"connect_retries" yaml:"connect_retries" json:"connect_retries" env:"CONNECT_RETRIES" jsonschema:"maximum=20"`
}

// LogConfig controls log output.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" json:"format" env:"FORMAT" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" json:"level" env:"LEVEL" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// HasherConfig holds argon2id work factors.
type HasherConfig struct {
	MemoryKiB   uint32 `koanf:"memory_kib" yaml:"memory_kib" json:"memory_kib" env:"MEMORY_KIB"`
	Iterations  uint32 `koanf:"iterations" yaml:"iterations" json:"iterations" env:"ITERATIONS"`
	Parallelism uint8  `koanf:"parallelism" yaml:"parallelism" json:"parallelism" env:"PARALLELISM"`
	SaltLength  uint32 `koanf:"salt_length" yaml:"salt_length" json:"salt_length" env:"SALT_LENGTH"`
	KeyLength   uint32 `koanf:"key_length" yaml:"key_length" json:"key_length" env:"KEY_LENGTH"`
}

// Params converts the config to hasher parameters.
func (h HasherConfig) Params() account.Params {
	return account.Params{
		MemoryKiB:   h.MemoryKiB,
		Iterations:  h.Iterations,
		Parallelism: h.Parallelism,
		SaltLength:  h.SaltLength,
		KeyLength:   h.KeyLength,
	}
}

// TokenConfig sizes tokens and bounds their lifetime. A zero TTL disables
// expiry for that kind.
type TokenConfig struct {
	Bytes            int           `koanf:"bytes" yaml:"bytes" json:"bytes" env:"BYTES" jsonschema:"minimum=32"`
	EmailVerifyTTL   time.Duration `koanf:"email_verify_ttl" yaml:"email_verify_ttl" json:"email_verify_ttl" env:"EMAIL_VERIFY_TTL" jsonschema:"example=24h"`
	PasswordResetTTL time.Duration `koanf:"password_reset_ttl" yaml:"password_reset_ttl" json:"password_reset_ttl" env:"PASSWORD_RESET_TTL" jsonschema:"example=1h"`
}

// MarshalYAML writes durations in Go duration syntax so the output can be
// loaded back.
func (t TokenConfig) MarshalYAML() (any, error) {
	return struct {
		Bytes            int    `yaml:"bytes"`
		EmailVerifyTTL   string `yaml:"email_verify_ttl"`
		PasswordResetTTL string `yaml:"password_reset_ttl"`
	}{t.Bytes, t.EmailVerifyTTL.String(), t.PasswordResetTTL.String()}, nil
}

// MetricsConfig configures Pushgateway delivery. An empty URL disables it.
type MetricsConfig struct {
	PushgatewayURL string `koanf:"pushgateway_url" yaml:"pushgateway_url" json:"pushgateway_url,omitempty" env:"PUSHGATEWAY_URL"`
	Job            string `koanf:"job" yaml:"job" json:"job" env:"JOB"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver:         DriverSQLite,
			SQLitePath:     "connect.db",
			AutoMigrate:    true,
			ConnectRetries: 5,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Hasher: HasherConfig{
			MemoryKiB:   account.DefaultParams.MemoryKiB,
			Iterations:  account.DefaultParams.Iterations,
			Parallelism: account.DefaultParams.Parallelism,
			SaltLength:  account.DefaultParams.SaltLength,
			KeyLength:   account.DefaultParams.KeyLength,
		},
		Tokens: TokenConfig{
			Bytes:            account.MinTokenBytes,
			EmailVerifyTTL:   account.DefaultEmailVerifyTTL,
			PasswordResetTTL: account.DefaultPasswordResetTTL,
		},
		Metrics: MetricsConfig{
			Job: "connect",
		},
	}
}

func invalid(key string, value any, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).With("value", value).Errorf(format, args...)
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return invalid("store.database_url", "", "database_url is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return invalid("store.sqlite_path", "", "sqlite_path is required for the sqlite driver")
		}
	default:
		return invalid("store.driver", c.Store.Driver, "unknown store driver %q", c.Store.Driver)
	}
	if c.Store.ConnectRetries > 20 {
		return invalid("store.connect_retries", c.Store.ConnectRetries, "connect_retries must be at most 20")
	}

	if _, err := logging.Setup(logging.Options{Format: c.Log.Format, Level: c.Log.Level}, nil); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log").Wrap(err)
	}

	if err := c.Hasher.Params().Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "hasher").Wrap(err)
	}

	if c.Tokens.Bytes < account.MinTokenBytes {
		return invalid("tokens.bytes", c.Tokens.Bytes, "tokens.bytes must be at least %d", account.MinTokenBytes)
	}
	if c.Tokens.EmailVerifyTTL < 0 || c.Tokens.PasswordResetTTL < 0 {
		return invalid("tokens", c.Tokens, "token TTLs must not be negative")
	}

	if c.Metrics.PushgatewayURL != "" {
		u, err := url.Parse(c.Metrics.PushgatewayURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("metrics.pushgateway_url", c.Metrics.PushgatewayURL, "pushgateway_url must be an absolute URL")
		}
	}
	return nil
}

// Redacted returns a copy safe to print: the database password is masked.
func (c Config) Redacted() Config {
	if c.Store.DatabaseURL == "" {
		return c
	}
	u, err := url.Parse(c.Store.DatabaseURL)
	if err != nil {
		c.Store.DatabaseURL = "[REDACTED]"
		return c
	}
	c.Store.DatabaseURL = u.Redacted()
	return c
}
