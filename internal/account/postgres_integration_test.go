// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

//go:build integration

package account_test

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/serpconnect/connect/internal/account"
	"github.com/serpconnect/connect/internal/graph/postgres"
	"github.com/serpconnect/connect/internal/testutil/pgtest"
)

var _ = Describe("Manager on PostgreSQL", Ordered, func() {
	var (
		ctx     context.Context
		connStr string
		cleanup func()
		pool    *pgxpool.Pool
		store   *postgres.Store
		manager *account.Manager
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		connStr, cleanup, err = pgtest.Start(ctx)
		Expect(err).NotTo(HaveOccurred())

		pool, err = pgxpool.New(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		store, err = postgres.Open(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())

		hasher, err := account.NewArgon2idHasher(fastParams)
		Expect(err).NotTo(HaveOccurred())
		manager, err = account.NewManager(
			account.NewGraphStore(store, nil),
			hasher,
			account.NewRandomTokens(account.MinTokenBytes),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if store != nil {
			_ = store.Close()
		}
		if pool != nil {
			pool.Close()
		}
		if cleanup != nil {
			cleanup()
		}
	})

	BeforeEach(func() {
		_, err := pool.Exec(ctx, "TRUNCATE graph_relationships, graph_nodes")
		Expect(err).NotTo(HaveOccurred())
	})

	It("registers and authenticates", func() {
		acct, err := manager.Register(ctx, "ada@example.com", "pw", account.TrustUnverified)
		Expect(err).NotTo(HaveOccurred())
		Expect(acct.DefaultCollection.IsZero()).To(BeFalse())

		ok, err := manager.Authenticate(ctx, "ada@example.com", "pw")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = manager.Authenticate(ctx, "ada@example.com", "nope")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("keeps one account under concurrent registration from separate managers", func() {
		hasher, err := account.NewArgon2idHasher(fastParams)
		Expect(err).NotTo(HaveOccurred())

		// Separate managers share no mutex, so only the store lock and
		// unique index stand between them.
		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for range n {
			m, err := account.NewManager(account.NewGraphStore(store, nil), hasher, account.NewRandomTokens(account.MinTokenBytes))
			Expect(err).NotTo(HaveOccurred())
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := m.Register(ctx, "race@example.com", "pw", account.TrustUnverified)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, account.ErrConflict):
					conflicts++
				default:
					Fail(err.Error())
				}
			}()
		}
		wg.Wait()
		Expect(successes).To(Equal(1))
		Expect(conflicts).To(Equal(n - 1))

		var count int
		Expect(pool.QueryRow(ctx,
			`SELECT count(*) FROM graph_nodes WHERE label = 'user' AND props->>'email' = $1`,
			"race@example.com").Scan(&count)).To(Succeed())
		Expect(count).To(Equal(1))
	})

	It("consumes a verification token exactly once", func() {
		_, err := manager.Register(ctx, "ada@example.com", "pw", account.TrustUnverified)
		Expect(err).NotTo(HaveOccurred())
		token, err := manager.RequestEmailVerification(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())

		results := make(chan error, 8)
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := manager.ConsumeEmailVerification(ctx, token)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var ok, missing int
		for err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, account.ErrNotFound):
				missing++
			}
		}
		Expect(ok).To(Equal(1))
		Expect(missing).To(Equal(7))

		acct, err := manager.FindAccount(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(acct.Trust).To(Equal(account.TrustVerified))
	})

	It("resets a password and deletes the account with its tokens", func() {
		_, err := manager.Register(ctx, "ada@example.com", "old", account.TrustVerified)
		Expect(err).NotTo(HaveOccurred())
		reset, err := manager.RequestPasswordReset(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())

		result, err := manager.ConsumePasswordReset(ctx, reset)
		Expect(err).NotTo(HaveOccurred())
		ok, err := manager.Authenticate(ctx, "ada@example.com", result.NewPassword)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		_, err = manager.RequestEmailVerification(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(manager.DeleteAccount(ctx, "ada@example.com")).To(Succeed())
		Expect(manager.DeleteAccount(ctx, "ada@example.com")).To(Succeed())

		var remaining int
		Expect(pool.QueryRow(ctx, `SELECT count(*) FROM graph_nodes`).Scan(&remaining)).To(Succeed())
		Expect(remaining).To(BeZero())
	})

	It("rejects changing to a registered email", func() {
		_, err := manager.Register(ctx, "ada@example.com", "pw", account.TrustUnverified)
		Expect(err).NotTo(HaveOccurred())
		_, err = manager.Register(ctx, "bob@example.com", "pw", account.TrustUnverified)
		Expect(err).NotTo(HaveOccurred())

		err = manager.ChangeEmail(ctx, "ada@example.com", "bob@example.com")
		Expect(errors.Is(err, account.ErrConflict)).To(BeTrue())
	})
})
