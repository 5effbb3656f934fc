// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serpconnect/connect/internal/graph"
	"github.com/serpconnect/connect/pkg/errutil"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock, newWithPool(mock)
}

func TestStore_CreateNode(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		wantCode  string
	}{
		{
			name: "commits on success",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO graph_nodes`).
					WithArgs(pgxmock.AnyArg(), "user", `{"email":"a@example.com","trust":0}`).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "unique violation maps to constraint error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO graph_nodes`).
					WithArgs(pgxmock.AnyArg(), "user", `{"email":"a@example.com","trust":0}`).
					WillReturnError(&pgconn.PgError{
						Code:           pgerrcode.UniqueViolation,
						ConstraintName: "uq_graph_user_email",
						Message:        "duplicate key value violates unique constraint",
					})
				mock.ExpectRollback()
			},
			wantErr:  graph.ErrConstraintViolation,
			wantCode: "GRAPH_CONSTRAINT_VIOLATION",
		},
		{
			name: "other database errors",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO graph_nodes`).
					WithArgs(pgxmock.AnyArg(), "user", `{"email":"a@example.com","trust":0}`).
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantCode: "GRAPH_WRITE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := newMock(t)
			tt.setupMock(mock)

			var created graph.Node
			err := s.Update(context.Background(), func(ctx context.Context, tx graph.Tx) error {
				var err error
				created, err = tx.CreateNode(ctx, "user", graph.Props{"email": "a@example.com", "trust": 0})
				return err
			})

			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
			} else {
				require.NoError(t, err)
				assert.Equal(t, "user", created.Label)
				assert.Equal(t, int64(0), created.Props.Int64("trust"))
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Match(t *testing.T) {
	mock, s := newMock(t)
	id := graph.NewID()

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`SELECT id, label, props FROM graph_nodes`).
		WithArgs("user", `{"email":"a@example.com"}`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "label", "props"}).
			AddRow(id.String(), "user", []byte(`{"email":"a@example.com","trust":1}`)))
	mock.ExpectCommit()

	var got []graph.Node
	err := s.View(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		var err error
		got, err = tx.Match(ctx, "user", graph.Props{"email": "a@example.com"})
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, int64(1), got[0].Props.Int64("trust"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MatchBadRow(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`SELECT id, label, props FROM graph_nodes`).
		WithArgs("user", "{}").
		WillReturnRows(pgxmock.NewRows([]string{"id", "label", "props"}).
			AddRow("not-a-ulid", "user", []byte(`{}`)))
	mock.ExpectRollback()

	err := s.View(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		_, err := tx.Match(ctx, "user", nil)
		return err
	})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "GRAPH_INVALID_ID")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Related(t *testing.T) {
	tests := []struct {
		name  string
		dir   graph.Direction
		query string
	}{
		{"outgoing joins on target", graph.Outgoing, `JOIN graph_nodes n ON n.id = r.to_id`},
		{"incoming joins on source", graph.Incoming, `JOIN graph_nodes n ON n.id = r.from_id`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := newMock(t)
			user := graph.NewID()
			other := graph.NewID()

			mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
			mock.ExpectQuery(tt.query).
				WithArgs(user.String(), "MEMBER_OF").
				WillReturnRows(pgxmock.NewRows([]string{"id", "label", "props"}).
					AddRow(other.String(), "collection", []byte(`{"name":"default"}`)))
			mock.ExpectCommit()

			var got []graph.Node
			err := s.View(context.Background(), func(ctx context.Context, tx graph.Tx) error {
				var err error
				got, err = tx.Related(ctx, user, "MEMBER_OF", tt.dir)
				return err
			})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, other, got[0].ID)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_RelateMissingNode(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO graph_relationships`).
		WithArgs("MEMBER_OF", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "graph_relationships_to_id_fkey"})
	mock.ExpectRollback()

	err := s.Update(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		return tx.Relate(ctx, graph.NewID(), graph.NewID(), "MEMBER_OF")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetAndDelete(t *testing.T) {
	mock, s := newMock(t)
	id := graph.NewID()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("account:a@example.com").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`UPDATE graph_nodes SET props`).
		WithArgs("user", `{"email":"a@example.com"}`, `{"trust":2}`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM graph_nodes`).
		WithArgs([]string{id.String()}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	var updated, deleted, none int
	err := s.Update(context.Background(), func(ctx context.Context, tx graph.Tx) error {
		if err := tx.Lock(ctx, "account:a@example.com"); err != nil {
			return err
		}
		var err error
		if updated, err = tx.Set(ctx, "user", graph.Props{"email": "a@example.com"}, graph.Props{"trust": 2}); err != nil {
			return err
		}
		if deleted, err = tx.DetachDelete(ctx, id); err != nil {
			return err
		}
		none, err = tx.DetachDelete(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 0, none)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TransactionFailures(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := s.Update(context.Background(), func(context.Context, graph.Tx) error { return nil })
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TX_BEGIN_FAILED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := s.Update(context.Background(), func(context.Context, graph.Tx) error { return nil })
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TX_COMMIT_FAILED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fn error rolls back", func(t *testing.T) {
		mock, s := newMock(t)
		sentinel := errors.New("abort")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := s.Update(context.Background(), func(context.Context, graph.Tx) error { return sentinel })
		require.ErrorIs(t, err, sentinel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("k").WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		err := s.Update(context.Background(), func(ctx context.Context, tx graph.Tx) error {
			return tx.Lock(ctx, "k")
		})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "GRAPH_LOCK_FAILED")
		errutil.AssertErrorContext(t, err, "key", "k")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Ping(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectPing().WillReturnError(errors.New("refused"))

	err := s.Ping(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "GRAPH_CONNECT_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_InvalidURL(t *testing.T) {
	s, err := Open(context.Background(), "postgres://%zz")
	assert.Nil(t, s)
	require.ErrorIs(t, err, ErrInvalidURL)
	errutil.AssertErrorCode(t, err, "GRAPH_CONNECT_FAILED")
	errutil.AssertErrorContext(t, err, "operation", "parse url")
}
