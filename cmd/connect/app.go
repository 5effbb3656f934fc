// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/serpconnect/connect/internal/account"
	"github.com/serpconnect/connect/internal/config"
	"github.com/serpconnect/connect/internal/graph"
	"github.com/serpconnect/connect/internal/graph/migrate"
	"github.com/serpconnect/connect/internal/graph/postgres"
	"github.com/serpconnect/connect/internal/graph/sqlite"
	"github.com/serpconnect/connect/internal/logging"
	"github.com/serpconnect/connect/internal/observability"
	"github.com/serpconnect/connect/internal/xdg"
	"github.com/serpconnect/connect/pkg/errutil"
)

// connectBackoff is the first delay between PostgreSQL connection attempts.
var connectBackoff = 500 * time.Millisecond

// app holds everything one command invocation needs.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   graph.Store
	manager *account.Manager
	metrics *observability.Registry
	pusher  *observability.Pusher
}

// loadApp resolves configuration and logging for cmd without opening the
// store.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath(), cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := logging.Setup(logging.Options{
		Service: "connect",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// configPath returns --config, or the default file under the XDG config
// directory when one exists.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		// No home directory means no default file.
		return ""
	}
	return path
}

// open connects the store and builds the account manager.
func (a *app) open(ctx context.Context) error {
	store, err := openStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return err
	}
	a.store = store

	hasher, err := account.NewArgon2idHasher(a.cfg.Hasher.Params())
	if err != nil {
		return err
	}

	a.metrics = observability.NewRegistry()
	a.pusher = observability.NewPusher(a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, a.logger)

	a.manager, err = account.NewManager(
		account.NewGraphStore(store, a.logger),
		hasher,
		account.NewRandomTokens(a.cfg.Tokens.Bytes),
		account.WithLogger(a.logger),
		account.WithMetrics(a.metrics.Account()),
		account.WithTokenTTL(account.TokenEmailVerify, a.cfg.Tokens.EmailVerifyTTL),
		account.WithTokenTTL(account.TokenPasswordReset, a.cfg.Tokens.PasswordResetTTL),
	)
	return err
}

// close pushes metrics for command and closes the store. Failures are
// logged; the command result stands.
func (a *app) close(ctx context.Context, command string) {
	if a.metrics != nil {
		if err := a.pusher.Push(ctx, a.metrics.Gatherer(), command); err != nil {
			errutil.LogErrorContext(ctx, a.logger, slog.LevelWarn, "metrics push failed", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errutil.LogErrorContext(ctx, a.logger, slog.LevelWarn, "store close failed", err)
		}
	}
}

// withManager runs fn with an open account manager and tears it down
// afterwards.
func withManager(fn func(ctx context.Context, cmd *cobra.Command, args []string, m *account.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.close(ctx, commandName(cmd))

		if err := a.open(ctx); err != nil {
			return err
		}
		return fn(ctx, cmd, args, a.manager)
	}
}

// commandName turns "connect account register" into "account_register".
func commandName(cmd *cobra.Command) string {
	path := strings.Fields(cmd.CommandPath())
	if len(path) > 1 {
		path = path[1:]
	}
	return strings.Join(path, "_")
}

// migrationURL returns the golang-migrate URL for the configured store.
func migrationURL(cfg config.StoreConfig) (string, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return cfg.DatabaseURL, nil
	case config.DriverSQLite:
		return "sqlite://" + cfg.SQLitePath, nil
	default:
		return "", oops.Code("MIGRATION_UNSUPPORTED").
			With("driver", cfg.Driver).
			Errorf("the %s driver has no schema to migrate", cfg.Driver)
	}
}

func autoMigrate(cfg config.StoreConfig, logger *slog.Logger) error {
	target, err := migrationURL(cfg)
	if err != nil {
		return err
	}
	m, err := migrate.NewMigrator(target)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogError(logger, "migrator close failed", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return err
	}
	version, _, err := m.Version()
	if err != nil {
		return err
	}
	logger.Debug("schema up to date", "driver", cfg.Driver, "version", version)
	return nil
}

// openStore opens the configured graph store, applying migrations first
// when auto_migrate is set. PostgreSQL connections are retried with
// exponential backoff.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (graph.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using the in-memory store; data is discarded on exit")
		return graph.NewMemoryStore(), nil

	case config.DriverSQLite:
		if err := xdg.EnsureDir(filepath.Dir(cfg.SQLitePath)); err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := autoMigrate(cfg, logger); err != nil {
				return nil, err
			}
		}
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.DriverPostgres:
		var store *postgres.Store
		attempt := 0
		backoff := retry.WithMaxRetries(cfg.ConnectRetries, retry.NewExponential(connectBackoff))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			attempt++
			s, err := postgres.Open(ctx, cfg.DatabaseURL)
			if errors.Is(err, postgres.ErrInvalidURL) {
				return err
			}
			if err != nil {
				logger.WarnContext(ctx, "database connection failed", "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			store = s
			return nil
		})
		if err != nil {
			return nil, oops.Code("STORE_CONNECT_FAILED").With("attempts", attempt).Wrap(err)
		}
		if cfg.AutoMigrate {
			if err := autoMigrate(cfg, logger); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		return store, nil

	default:
		return nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Driver).Errorf("unknown store driver %q", cfg.Driver)
	}
}
