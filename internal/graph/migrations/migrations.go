// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

// Package migrations embeds the SQL schema for each graph backend.
package migrations

import (
	"embed"
	"io/fs"

	"github.com/samber/oops"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Backend names with an embedded schema.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// For returns the migration files for backend, rooted at the directory.
func For(backend string) (fs.FS, error) {
	switch backend {
	case Postgres, SQLite:
	default:
		return nil, oops.Code("MIGRATION_UNKNOWN_BACKEND").With("backend", backend).Errorf("no migrations for backend %q", backend)
	}
	sub, err := fs.Sub(files, backend)
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("backend", backend).Wrap(err)
	}
	return sub, nil
}
