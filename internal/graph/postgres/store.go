// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

// Package postgres implements graph.Store on PostgreSQL.
//
// Nodes live in graph_nodes with their properties in a JSONB column;
// relationships live in graph_relationships with cascading foreign keys, so
// deleting a node detaches it. Schema is managed by internal/graph/migrate.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/serpconnect/connect/internal/graph"
)

// ErrInvalidURL is returned by Open when the database URL cannot be parsed.
// Retrying the same URL cannot succeed.
var ErrInvalidURL = errors.New("invalid database url")

// poolIface is the subset of pgxpool.Pool used by Store; pgxmock satisfies it.
type poolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store is a graph.Store backed by a pgx connection pool.
type Store struct {
	pool poolIface
}

// Open connects to databaseURL and verifies the connection. A URL that
// does not parse fails with ErrInvalidURL.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("GRAPH_CONNECT_FAILED").
			With("operation", "parse url").
			Wrap(fmt.Errorf("%w: %w", ErrInvalidURL, err))
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("GRAPH_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	s := &Store{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The Store takes ownership and closes it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func newWithPool(pool poolIface) *Store {
	return &Store{pool: pool}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("GRAPH_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return nil
}

// Update implements graph.Store.
func (s *Store) Update(ctx context.Context, fn graph.TxFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	return run(ctx, tx, fn)
}

// View implements graph.Store.
func (s *Store) View(ctx context.Context, fn graph.TxFunc) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	return run(ctx, tx, fn)
}

func run(ctx context.Context, tx pgx.Tx, fn graph.TxFunc) error {
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // fn's error takes precedence
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// Close implements graph.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Match(ctx context.Context, label string, match graph.Props) ([]graph.Node, error) {
	filter, err := encode(match)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, label, props FROM graph_nodes
		WHERE label = $1 AND props @> $2::jsonb
		ORDER BY id`, label, filter)
	if err != nil {
		return nil, oops.Code("GRAPH_QUERY_FAILED").With("label", label).Wrap(err)
	}
	return collectNodes(rows)
}

func (t *pgTx) Related(ctx context.Context, id ulid.ULID, relType string, dir graph.Direction) ([]graph.Node, error) {
	query := `
		SELECT n.id, n.label, n.props FROM graph_relationships r
		JOIN graph_nodes n ON n.id = r.to_id
		WHERE r.from_id = $1 AND r.type = $2
		ORDER BY n.id`
	if dir == graph.Incoming {
		query = `
		SELECT n.id, n.label, n.props FROM graph_relationships r
		JOIN graph_nodes n ON n.id = r.from_id
		WHERE r.to_id = $1 AND r.type = $2
		ORDER BY n.id`
	}
	rows, err := t.tx.Query(ctx, query, id.String(), relType)
	if err != nil {
		return nil, oops.Code("GRAPH_QUERY_FAILED").
			With("id", id.String()).
			With("type", relType).
			With("direction", dir.String()).
			Wrap(err)
	}
	return collectNodes(rows)
}

func (t *pgTx) CreateNode(ctx context.Context, label string, props graph.Props) (graph.Node, error) {
	p, err := graph.Normalize(props)
	if err != nil {
		return graph.Node{}, err
	}
	data, err := graph.EncodeProps(p)
	if err != nil {
		return graph.Node{}, err
	}
	n := graph.Node{ID: graph.NewID(), Label: label, Props: p}
	_, err = t.tx.Exec(ctx, `INSERT INTO graph_nodes (id, label, props) VALUES ($1, $2, $3::jsonb)`,
		n.ID.String(), label, string(data))
	if err != nil {
		return graph.Node{}, oops.With("operation", "create node").With("label", label).Wrap(mapError(err))
	}
	return n, nil
}

func (t *pgTx) Relate(ctx context.Context, from, to ulid.ULID, relType string) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO graph_relationships (type, from_id, to_id) VALUES ($1, $2, $3)`,
		relType, from.String(), to.String())
	if err != nil {
		return oops.With("operation", "relate").
			With("from", from.String()).
			With("to", to.String()).
			With("type", relType).
			Wrap(mapError(err))
	}
	return nil
}

func (t *pgTx) Set(ctx context.Context, label string, match, props graph.Props) (int, error) {
	filter, err := encode(match)
	if err != nil {
		return 0, err
	}
	update, err := encode(props)
	if err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE graph_nodes SET props = props || $3::jsonb
		WHERE label = $1 AND props @> $2::jsonb`, label, filter, update)
	if err != nil {
		return 0, oops.With("operation", "set properties").With("label", label).Wrap(mapError(err))
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) DetachDelete(ctx context.Context, ids ...ulid.ULID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM graph_nodes WHERE id = ANY($1)`, keys)
	if err != nil {
		return 0, oops.Code("GRAPH_DELETE_FAILED").With("count", len(ids)).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

// Lock takes a transaction-scoped advisory lock, so it also serializes
// transactions running in other processes.
func (t *pgTx) Lock(ctx context.Context, key string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return oops.Code("GRAPH_LOCK_FAILED").With("key", key).Wrap(err)
	}
	return nil
}

func encode(props graph.Props) (string, error) {
	p, err := graph.Normalize(props)
	if err != nil {
		return "", err
	}
	data, err := graph.EncodeProps(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func collectNodes(rows pgx.Rows) ([]graph.Node, error) {
	defer rows.Close()

	var nodes []graph.Node
	for rows.Next() {
		var (
			id, label string
			raw       []byte
		)
		if err := rows.Scan(&id, &label, &raw); err != nil {
			return nil, oops.Code("GRAPH_SCAN_FAILED").Wrap(err)
		}
		n, err := scanNode(id, label, raw)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("GRAPH_QUERY_FAILED").Wrap(err)
	}
	return nodes, nil
}

func scanNode(id, label string, raw []byte) (graph.Node, error) {
	nodeID, err := graph.ParseID(id)
	if err != nil {
		return graph.Node{}, err
	}
	props, err := graph.DecodeProps(raw)
	if err != nil {
		return graph.Node{}, oops.With("id", id).Wrap(err)
	}
	return graph.Node{ID: nodeID, Label: label, Props: props}, nil
}

// mapError translates constraint failures into graph sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return oops.Code("GRAPH_WRITE_FAILED").Wrap(err)
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return oops.Code("GRAPH_CONSTRAINT_VIOLATION").
			With("constraint", pgErr.ConstraintName).
			Wrapf(graph.ErrConstraintViolation, "%s", pgErr.Message)
	case pgerrcode.ForeignKeyViolation:
		return oops.Code("GRAPH_NODE_NOT_FOUND").
			With("constraint", pgErr.ConstraintName).
			Wrapf(graph.ErrNodeNotFound, "%s", pgErr.Message)
	default:
		return oops.Code("GRAPH_WRITE_FAILED").With("sqlstate", pgErr.Code).Wrap(err)
	}
}

var _ graph.Store = (*Store)(nil)
