// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

//go:build integration

// Package pgtest starts a migrated PostgreSQL container for integration tests.
package pgtest

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/serpconnect/connect/internal/graph/migrate"
)

// Start runs postgres:16-alpine, applies the graph schema and returns its
// connection string with a cleanup func.
func Start(ctx context.Context) (string, func(), error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("connect_test"),
		postgres.WithUsername("connect"),
		postgres.WithPassword("connect"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return "", nil, oops.Code("PGTEST_START_FAILED").Wrap(err)
	}
	cleanup := func() { _ = container.Terminate(context.Background()) }

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		cleanup()
		return "", nil, oops.Code("PGTEST_START_FAILED").Wrap(err)
	}

	m, err := migrate.NewMigrator(connStr)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	defer func() { _ = m.Close() }()
	if err := m.Up(); err != nil {
		cleanup()
		return "", nil, err
	}
	return connStr, cleanup, nil
}
