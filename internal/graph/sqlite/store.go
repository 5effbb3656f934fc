// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

// Package sqlite implements graph.Store on an embedded SQLite database.
//
// Properties are stored as JSON text and matched with json_extract. The
// store uses a single connection and IMMEDIATE transactions, so writers are
// serialized within the process and against other processes sharing the
// file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/serpconnect/connect/internal/graph"
)

// Store is a graph.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. The schema must be
// applied separately with internal/graph/migrate.
func Open(ctx context.Context, path string) (*Store, error) {
	cleanPath := filepath.Clean(strings.TrimSpace(path))
	if cleanPath == "" || cleanPath == "." {
		return nil, oops.Code("GRAPH_CONNECT_FAILED").Errorf("sqlite path is required")
	}

	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code("GRAPH_CONNECT_FAILED").With("path", cleanPath).Wrap(err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, oops.Code("GRAPH_CONNECT_FAILED").With("path", cleanPath).Wrap(err)
	}
	return &Store{db: db}, nil
}

// Update implements graph.Store.
func (s *Store) Update(ctx context.Context, fn graph.TxFunc) error {
	return s.run(ctx, true, fn)
}

// View implements graph.Store.
func (s *Store) View(ctx context.Context, fn graph.TxFunc) error {
	return s.run(ctx, false, fn)
}

func (s *Store) run(ctx context.Context, writable bool, fn graph.TxFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	if err := fn(ctx, &sqliteTx{tx: tx, writable: writable}); err != nil {
		_ = tx.Rollback() //nolint:errcheck // fn's error takes precedence
		return err
	}
	if err := tx.Commit(); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// Close implements graph.Store.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code("GRAPH_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

type sqliteTx struct {
	tx       *sql.Tx
	writable bool
}

func (t *sqliteTx) checkWrite() error {
	if !t.writable {
		return oops.Code("GRAPH_READ_ONLY").Errorf("write in read-only transaction")
	}
	return nil
}

func (t *sqliteTx) Match(ctx context.Context, label string, match graph.Props) ([]graph.Node, error) {
	where, args, err := propsFilter(match)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, label, props FROM graph_nodes WHERE label = ?`+where+` ORDER BY id`,
		append([]any{label}, args...)...)
	if err != nil {
		return nil, oops.Code("GRAPH_QUERY_FAILED").With("label", label).Wrap(err)
	}
	return collectNodes(rows)
}

func (t *sqliteTx) Related(ctx context.Context, id ulid.ULID, relType string, dir graph.Direction) ([]graph.Node, error) {
	query := `SELECT n.id, n.label, n.props FROM graph_relationships r
		JOIN graph_nodes n ON n.id = r.to_id
		WHERE r.from_id = ? AND r.type = ? ORDER BY n.id`
	if dir == graph.Incoming {
		query = `SELECT n.id, n.label, n.props FROM graph_relationships r
		JOIN graph_nodes n ON n.id = r.from_id
		WHERE r.to_id = ? AND r.type = ? ORDER BY n.id`
	}
	rows, err := t.tx.QueryContext(ctx, query, id.String(), relType)
	if err != nil {
		return nil, oops.Code("GRAPH_QUERY_FAILED").
			With("id", id.String()).
			With("type", relType).
			With("direction", dir.String()).
			Wrap(err)
	}
	return collectNodes(rows)
}

func (t *sqliteTx) CreateNode(ctx context.Context, label string, props graph.Props) (graph.Node, error) {
	if err := t.checkWrite(); err != nil {
		return graph.Node{}, err
	}
	p, err := graph.Normalize(props)
	if err != nil {
		return graph.Node{}, err
	}
	data, err := graph.EncodeProps(p)
	if err != nil {
		return graph.Node{}, err
	}
	n := graph.Node{ID: graph.NewID(), Label: label, Props: p}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO graph_nodes (id, label, props, created_at) VALUES (?, ?, ?, ?)`,
		n.ID.String(), label, string(data), time.Now().UTC().UnixMilli())
	if err != nil {
		return graph.Node{}, oops.With("operation", "create node").With("label", label).Wrap(mapError(err))
	}
	return n, nil
}

func (t *sqliteTx) Relate(ctx context.Context, from, to ulid.ULID, relType string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	want := 2
	if from == to {
		want = 1
	}
	var found int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_nodes WHERE id IN (?, ?)`,
		from.String(), to.String()).Scan(&found)
	if err != nil {
		return oops.Code("GRAPH_QUERY_FAILED").With("operation", "relate").Wrap(err)
	}
	if found != want {
		return oops.Code("GRAPH_NODE_NOT_FOUND").
			With("from", from.String()).
			With("to", to.String()).
			Wrap(graph.ErrNodeNotFound)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO graph_relationships (type, from_id, to_id) VALUES (?, ?, ?)`,
		relType, from.String(), to.String())
	if err != nil {
		return oops.With("operation", "relate").With("type", relType).Wrap(mapError(err))
	}
	return nil
}

func (t *sqliteTx) Set(ctx context.Context, label string, match, props graph.Props) (int, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	where, args, err := propsFilter(match)
	if err != nil {
		return 0, err
	}
	update, err := graph.Normalize(props)
	if err != nil {
		return 0, err
	}
	patch, err := graph.EncodeProps(update)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE graph_nodes SET props = json_patch(props, ?) WHERE label = ?`+where,
		append([]any{string(patch), label}, args...)...)
	if err != nil {
		return 0, oops.With("operation", "set properties").With("label", label).Wrap(mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("GRAPH_WRITE_FAILED").Wrap(err)
	}
	return int(n), nil
}

func (t *sqliteTx) DetachDelete(ctx context.Context, ids ...ulid.ULID) (int, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}

	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM graph_relationships WHERE from_id IN (`+placeholders+`) OR to_id IN (`+placeholders+`)`,
		append(slices.Clone(args), args...)...)
	if err != nil {
		return 0, oops.Code("GRAPH_DELETE_FAILED").With("operation", "detach").Wrap(err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, oops.Code("GRAPH_DELETE_FAILED").With("count", len(ids)).Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("GRAPH_DELETE_FAILED").Wrap(err)
	}
	return int(n), nil
}

// Lock only checks the transaction is writable: IMMEDIATE transactions on a
// single connection are already exclusive.
func (t *sqliteTx) Lock(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("GRAPH_CANCELED").Wrap(err)
	}
	return t.checkWrite()
}

// propsFilter renders match as json_extract equality clauses. Keys are
// validated identifiers, so inlining them in the JSON path is safe.
func propsFilter(match graph.Props) (string, []any, error) {
	p, err := graph.Normalize(match)
	if err != nil {
		return "", nil, err
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var (
		b    strings.Builder
		args = make([]any, 0, len(keys))
	)
	for _, k := range keys {
		b.WriteString(` AND json_extract(props, '$.` + k + `') = ?`)
		v := p[k]
		if bv, ok := v.(bool); ok {
			// json_extract yields 1 or 0 for JSON booleans.
			if bv {
				v = int64(1)
			} else {
				v = int64(0)
			}
		}
		args = append(args, v)
	}
	return b.String(), args, nil
}

func collectNodes(rows *sql.Rows) ([]graph.Node, error) {
	defer rows.Close()

	var nodes []graph.Node
	for rows.Next() {
		var id, label, raw string
		if err := rows.Scan(&id, &label, &raw); err != nil {
			return nil, oops.Code("GRAPH_SCAN_FAILED").Wrap(err)
		}
		nodeID, err := graph.ParseID(id)
		if err != nil {
			return nil, err
		}
		props, err := graph.DecodeProps([]byte(raw))
		if err != nil {
			return nil, oops.With("id", id).Wrap(err)
		}
		nodes = append(nodes, graph.Node{ID: nodeID, Label: label, Props: props})
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("GRAPH_QUERY_FAILED").Wrap(err)
	}
	return nodes, nil
}

func mapError(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return oops.Code("GRAPH_CONSTRAINT_VIOLATION").Wrapf(graph.ErrConstraintViolation, "%s", sqliteErr.Error())
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return oops.Code("GRAPH_NODE_NOT_FOUND").Wrapf(graph.ErrNodeNotFound, "%s", sqliteErr.Error())
		}
	}
	return oops.Code("GRAPH_WRITE_FAILED").Wrap(err)
}

var _ graph.Store = (*Store)(nil)
