// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

// Package graphtest holds a behavioural test suite shared by every
// graph.Store implementation.
package graphtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serpconnect/connect/internal/graph"
)

// Opener returns an empty store. The suite closes it.
type Opener func(t *testing.T) graph.Store

var errAbort = errors.New("abort")

// Run exercises the store returned by open.
func Run(t *testing.T, open Opener) {
	t.Helper()

	t.Run("create and match", func(t *testing.T) {
		s := openStore(t, open)
		ctx := context.Background()

		var alice graph.Node
		require.NoError(t, s.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
			var err error
			alice, err = tx.CreateNode(ctx, "user", graph.Props{"email": "alice@example.com", "trust": 1})
			if err != nil {
				return err
			}
			_, err = tx.CreateNode(ctx, "user", graph.Props{"email": "bob@example.com", "trust": 0})
			if err != nil {
				return err
			}
			_, err = tx.CreateNode(ctx, "collection", graph.Props{"name": "default"})
			return err
		}))

		require.NoError(t, s.View(ctx, func(ctx context.Context, tx graph.Tx) error {
			got, err := tx.Match(ctx, "user", graph.Props{"email": "alice@example.com"})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, alice.ID, got[0].ID)
			assert.Equal(t, "user", got[0].Label)
			assert.Equal(t, int64(1), got[0].Props.Int64("trust"))

			all, err := tx.Match(ctx, "user", nil)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			none, err := tx.Match(ctx, "user", graph.Props{"email": "carol@example.com"})
			require.NoError(t, err)
			assert.Empty(t, none)

			byInt, err := tx.Match(ctx, "user", graph.Props{"trust": 0})
			require.NoError(t, err)
			require.Len(t, byInt, 1)
			assert.Equal(t, "bob@example.com", byInt[0].Props.String("email"))
			return nil
		}))
	})

	t.Run("related follows direction and type", func(t *testing.T) {
		s := openStore(t, open)
		ctx := context.Background()

		var user, coll, token graph.Node
		require.NoError(t, s.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
			var err error
			if user, err = tx.CreateNode(ctx, "user", graph.Props{"email": "a@example.com"}); err != nil {
				return err
			}
			if coll, err = tx.CreateNode(ctx, "collection", graph.Props{"name": "default"}); err != nil {
				return err
			}
			if token, err = tx.CreateNode(ctx, "token", graph.Props{"value": "abc"}); err != nil {
				return err
			}
			if err = tx.Relate(ctx, user.ID, coll.ID, "MEMBER_OF"); err != nil {
				return err
			}
			return tx.Relate(ctx, token.ID, user.ID, "EMAIL_TOKEN")
		}))

		require.NoError(t, s.View(ctx, func(ctx context.Context, tx graph.Tx) error {
			out, err := tx.Related(ctx, user.ID, "MEMBER_OF", graph.Outgoing)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, coll.ID, out[0].ID)

			in, err := tx.Related(ctx, user.ID, "EMAIL_TOKEN", graph.Incoming)
			require.NoError(t, err)
			require.Len(t, in, 1)
			assert.Equal(t, token.ID, in[0].ID)

			wrongType, err := tx.Related(ctx, user.ID, "RESET_TOKEN", graph.Incoming)
			require.NoError(t, err)
			assert.Empty(t, wrongType)

			wrongDir, err := tx.Related(ctx, user.ID, "EMAIL_TOKEN", graph.Outgoing)
			require.NoError(t, err)
			assert.Empty(t, wrongDir)
			return nil
		}))
	})

	t.Run("relate to missing node", func(t *testing.T) {
		s := openStore(t, open)
		ctx := context.Background()

		err := s.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
			n, err := tx.CreateNode(ctx, "user", graph.Props{"email": "a@example.com"})
			if err != nil {
				return err
			}
			return tx.Relate(ctx, n.ID, graph.NewID(), "MEMBER_OF")
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, graph.ErrNodeNotFound)
	})

	t.Run("set merges and counts", func(t *testing.T) {
		s := openStore(t, open)
		ctx := context.Background()

		require.NoError(t, s.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
			_, err := tx.CreateNode(ctx, "user", graph.Props{"email": "a@example.com", "trust": 0})
			return err
		}))

		var updated, missing int
		require.NoError(t, s.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
			var err error
			if updated, err = tx.Set(ctx, "user", graph.Props{"email": "a@example.com"}, graph.Props{"trust": 2}); err != nil {
				return err
			}
			missing, err = tx.Set(ctx, "user", graph.Props{"email": "nobody@example.com"}, graph.Props{"trust": 2})
			return err
		}))
		assert.Equal(t, 1, updated)
		assert.Equal(t, 0, missing)

		require.NoError(t, s.View(ctx, func(ctx context.Context, tx graph.Tx) error {
			got, err := tx.Match(ctx, "user", graph.Props{"email": "a@example.com"})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, int64(2), got[0].Props.Int64("trust"))
			assert.Equal(t, "a@example.com", got[0].Props.String("email"))
			return nil
		}))
	})

	t.Run("detach delete removes relationships", func(t *testing.T) {
		s := openStore(t, open)
		ctx := context.Background()

		var user, token graph.Node
		require.NoError(t, s.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
			var err error
			if user, err = tx.CreateNode(ctx, "user", graph.Props{"email": "a@example.com"}); err != nil {
				return err
			}
			if token, err = tx.CreateNode(ctx, "token", graph.Props{"value": "abc"}); err != nil {
				return err
			}
			return tx.Relate(ctx, token.ID, user.ID, "RESET_TOKEN")
		}))

		var removed, again int
		require.NoError(t, s.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
			var err error
			if removed, err = tx.DetachDelete(ctx, token.ID); err != nil {
				return err
			}
			again, err = tx.DetachDelete(ctx, token.ID, graph.NewID())
			return err
		}))
		assert.Equal(t, 1, removed)
		assert.Equal(t, 0, again)

		require.NoError(t, s.View(ctx, func(ctx context.Context, tx graph.Tx) error {
			in, err := tx.Related(ctx, user.ID, "RESET_TOKEN", graph.Incoming)
			require.NoError(t, err)
			assert.Empty(t, in)
			return nil
		}))
	})

	t.Run("failed update rolls back", func(t *testing.T) {
		s := openStore(t, open)
		ctx := context.Background()

		err := s.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
			if _, err := tx.CreateNode(ctx, "user", graph.Props{"email": "a@example.com"}); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		require.NoError(t, s.View(ctx, func(ctx context.Context, tx graph.Tx) error {
			got, err := tx.Match(ctx, "user", nil)
			require.NoError(t, err)
			assert.Empty(t, got)
			return nil
		}))
	})

	t.Run("concurrent deletes remove a node once", func(t *testing.T) {
		s := openStore(t, open)
		ctx := context.Background()

		require.NoError(t, s.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
			_, err := tx.CreateNode(ctx, "token", graph.Props{"value": "shared"})
			return err
		}))

		const workers = 8
		var (
			wg      sync.WaitGroup
			deleted atomic.Int64
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
					if err := tx.Lock(ctx, "token:shared"); err != nil {
						return err
					}
					nodes, err := tx.Match(ctx, "token", graph.Props{"value": "shared"})
					if err != nil || len(nodes) == 0 {
						return err
					}
					n, err := tx.DetachDelete(ctx, nodes[0].ID)
					deleted.Add(int64(n))
					return err
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(1), deleted.Load())
	})
}

func openStore(t *testing.T, open Opener) graph.Store {
	t.Helper()
	s := open(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
