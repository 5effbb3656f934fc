// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/serpconnect/connect/internal/account"
	"github.com/serpconnect/connect/internal/graph"
	"github.com/serpconnect/connect/pkg/errutil"
)

type fixture struct {
	manager *account.Manager
	store   *account.GraphStore
	graph   graph.Store
	clock   *clock
	metrics *account.Metrics
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, opts ...account.ManagerOption) *fixture {
	t.Helper()
	f := &fixture{
		graph:   graph.NewMemoryStore(),
		clock:   newClock(),
		metrics: account.NewMetrics(prometheus.NewRegistry()),
		logs:    &bytes.Buffer{},
	}
	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.store = account.NewGraphStore(f.graph, logger)

	opts = append([]account.ManagerOption{
		account.WithLogger(logger),
		account.WithMetrics(f.metrics),
		account.WithClock(f.clock.Now),
	}, opts...)
	m, err := account.NewManager(f.store, newHasher(t), account.NewRandomTokens(account.MinTokenBytes), opts...)
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *fixture) register(t *testing.T, email, password string, trust account.TrustLevel) *account.Account {
	t.Helper()
	acct, err := f.manager.Register(context.Background(), email, password, trust)
	require.NoError(t, err)
	return acct
}

func TestManager_RegisterThenFind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, trust := range []account.TrustLevel{account.TrustUnverified, account.TrustVerified, account.TrustAdmin} {
		email := trust.String() + "@example.com"
		f.register(t, email, "pw-"+email, trust)

		acct, err := f.manager.FindAccount(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, trust, acct.Trust)
		assert.NotEqual(t, "pw-"+email, acct.CredentialHash)
		assert.True(t, newHasher(t).Verify("pw-"+email, acct.CredentialHash))
		assert.NotZero(t, acct.DefaultCollection)
	}
}

func TestManager_RegisterConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ada@example.com", "pw", account.TrustUnverified)

	_, err := f.manager.Register(ctx, "ada@example.com", "other", account.TrustAdmin)
	errutil.AssertSentinel(t, err, account.ErrConflict, "ACCOUNT_CONFLICT")

	acct, err := f.manager.FindAccount(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.TrustUnverified, acct.Trust)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Registrations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Registrations.WithLabelValues("conflict")))
}

func TestManager_ConcurrentRegister(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	f := newFixture(t)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Register(ctx, "race@example.com", "pw", account.TrustUnverified)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, account.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, countNodes(t, f.graph, "user", graph.Props{"email": "race@example.com"}))
}

func TestManager_ConcurrentRegister_StoreWithoutConstraints(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := &unguardedStore{}
	m, err := account.NewManager(store, newHasher(t), account.NewRandomTokens(account.MinTokenBytes))
	require.NoError(t, err)

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for range n {
		wg.Add(1)
		go func() {
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
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, store.count("race@example.com"))
}

func TestManager_Authenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ada@example.com", "correct", account.TrustUnverified)

	tests := []struct {
		name     string
		email    string
		password string
		want     bool
	}{
		{"right password", "ada@example.com", "correct", true},
		{"wrong password", "ada@example.com", "wrong", false},
		{"empty password", "ada@example.com", "", false},
		{"unknown email", "bob@example.com", "correct", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := f.manager.Authenticate(ctx, tt.email, tt.password)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Authentications.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Authentications.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Authentications.WithLabelValues("not_found")))
}

func TestManager_AuthenticateUpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.CreateAccount(ctx, "old@example.com", legacyHash(t, "old secret"), account.TrustVerified)
	require.NoError(t, err)

	ok, err := f.manager.Authenticate(ctx, "old@example.com", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	acct, err := f.manager.FindAccount(ctx, "old@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(acct.CredentialHash, "$s0$"))

	ok, err = f.manager.Authenticate(ctx, "old@example.com", "old secret")
	require.NoError(t, err)
	assert.True(t, ok)

	acct, err = f.manager.FindAccount(ctx, "old@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(acct.CredentialHash, "$argon2id$"))

	ok, err = f.manager.Authenticate(ctx, "old@example.com", "old secret")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_EmailVerification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ada@example.com", "pw", account.TrustUnverified)

	token, err := f.manager.RequestEmailVerification(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	email, err := f.manager.ConsumeEmailVerification(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)

	acct, err := f.manager.FindAccount(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.TrustVerified, acct.Trust)

	_, err = f.manager.ConsumeEmailVerification(ctx, token)
	require.ErrorIs(t, err, account.ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokensIssued.WithLabelValues("email_verify")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokensConsumed.WithLabelValues("email_verify", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokensConsumed.WithLabelValues("email_verify", "not_found")))
}

func TestManager_EmailVerificationKeepsAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "root@example.com", "pw", account.TrustAdmin)

	token, err := f.manager.RequestEmailVerification(ctx, "root@example.com")
	require.NoError(t, err)
	_, err = f.manager.ConsumeEmailVerification(ctx, token)
	require.NoError(t, err)

	acct, err := f.manager.FindAccount(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.TrustAdmin, acct.Trust)
}

func TestManager_PasswordReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ada@example.com", "old password", account.TrustVerified)

	token, err := f.manager.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)

	result, err := f.manager.ConsumePasswordReset(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", result.Email)
	assert.NotEmpty(t, result.NewPassword)

	ok, err := f.manager.Authenticate(ctx, "ada@example.com", result.NewPassword)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.manager.Authenticate(ctx, "ada@example.com", "old password")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.manager.ConsumePasswordReset(ctx, token)
	require.ErrorIs(t, err, account.ErrNotFound)
}

func TestManager_RequestTokenForUnknownEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.manager.RequestEmailVerification(ctx, "nobody@example.com")
	require.ErrorIs(t, err, account.ErrNotFound)
	_, err = f.manager.RequestPasswordReset(ctx, "nobody@example.com")
	require.ErrorIs(t, err, account.ErrNotFound)
}

func TestManager_ConsumeEmptyToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.ConsumeEmailVerification(context.Background(), "")
	require.ErrorIs(t, err, account.ErrNotFound)
}

func TestManager_TokenExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ada@example.com", "pw", account.TrustUnverified)

	token, err := f.manager.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)
	f.clock.Advance(account.DefaultPasswordResetTTL + time.Minute)

	_, err = f.manager.ConsumePasswordReset(ctx, token)
	errutil.AssertSentinel(t, err, account.ErrNotFound, "TOKEN_EXPIRED")

	_, err = f.manager.ConsumePasswordReset(ctx, token)
	errutil.AssertErrorCode(t, err, "TOKEN_NOT_FOUND")

	ok, err := f.manager.Authenticate(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_TokenTTLDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, account.WithTokenTTL(account.TokenEmailVerify, 0))
	f.register(t, "ada@example.com", "pw", account.TrustUnverified)

	token, err := f.manager.RequestEmailVerification(ctx, "ada@example.com")
	require.NoError(t, err)
	f.clock.Advance(365 * 24 * time.Hour)

	_, err = f.manager.ConsumeEmailVerification(ctx, token)
	require.NoError(t, err)
}

func TestManager_PurgeExpiredTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ada@example.com", "pw", account.TrustUnverified)

	stale, err := f.manager.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)
	_, err = f.manager.RequestEmailVerification(ctx, "ada@example.com")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	fresh, err := f.manager.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)

	n, err := f.manager.PurgeExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, countNodes(t, f.graph, "token", nil))

	_, err = f.manager.ConsumePasswordReset(ctx, stale)
	errutil.AssertErrorCode(t, err, "TOKEN_NOT_FOUND")
	_, err = f.manager.ConsumePasswordReset(ctx, fresh)
	require.NoError(t, err)
}

func TestManager_DeleteAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ada@example.com", "pw", account.TrustUnverified)
	verify, err := f.manager.RequestEmailVerification(ctx, "ada@example.com")
	require.NoError(t, err)
	reset, err := f.manager.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)

	require.NoError(t, f.manager.DeleteAccount(ctx, "ada@example.com"))

	_, err = f.manager.FindAccount(ctx, "ada@example.com")
	require.ErrorIs(t, err, account.ErrNotFound)
	assert.Zero(t, countNodes(t, f.graph, "token", nil))

	_, err = f.manager.ConsumeEmailVerification(ctx, verify)
	require.ErrorIs(t, err, account.ErrNotFound)
	_, err = f.manager.ConsumePasswordReset(ctx, reset)
	require.ErrorIs(t, err, account.ErrNotFound)

	require.NoError(t, f.manager.DeleteAccount(ctx, "ada@example.com"))
	require.NoError(t, f.manager.DeleteAccount(ctx, "never@example.com"))
	require.NoError(t, f.manager.DeleteAccount(ctx, "never@example.com"))

	f.register(t, "ada@example.com", "again", account.TrustUnverified)
}

func TestManager_ChangeOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("change trust accepts any level", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "ada@example.com", "pw", account.TrustAdmin)

		require.NoError(t, f.manager.ChangeTrust(ctx, "ada@example.com", account.TrustUnverified))
		acct, err := f.manager.FindAccount(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, account.TrustUnverified, acct.Trust)
	})

	t.Run("change password", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "ada@example.com", "before", account.TrustUnverified)

		require.NoError(t, f.manager.ChangePassword(ctx, "ada@example.com", "after"))
		ok, err := f.manager.Authenticate(ctx, "ada@example.com", "after")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("change email", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "ada@example.com", "pw", account.TrustUnverified)

		require.NoError(t, f.manager.ChangeEmail(ctx, "ada@example.com", "ada@example.org"))
		_, err := f.manager.FindAccount(ctx, "ada@example.com")
		require.ErrorIs(t, err, account.ErrNotFound)
		ok, err := f.manager.Authenticate(ctx, "ada@example.org", "pw")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, f.manager.ChangeEmail(ctx, "ada@example.org", "ada@example.org"))
	})

	t.Run("change email to a taken address", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "ada@example.com", "pw", account.TrustUnverified)
		f.register(t, "bob@example.com", "pw", account.TrustUnverified)

		err := f.manager.ChangeEmail(ctx, "ada@example.com", "bob@example.com")
		require.ErrorIs(t, err, account.ErrConflict)
	})

	t.Run("unknown email", func(t *testing.T) {
		f := newFixture(t)

		err := f.manager.ChangeTrust(ctx, "nobody@example.com", account.TrustAdmin)
		require.ErrorIs(t, err, account.ErrNotFound)
		err = f.manager.ChangePassword(ctx, "nobody@example.com", "pw")
		require.ErrorIs(t, err, account.ErrNotFound)
		err = f.manager.ChangeEmail(ctx, "nobody@example.com", "new@example.com")
		require.ErrorIs(t, err, account.ErrNotFound)
	})
}

func TestManager_Promote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "root@example.com", "pw", account.TrustAdmin)
	f.register(t, "ada@example.com", "pw", account.TrustVerified)
	f.register(t, "bob@example.com", "pw", account.TrustUnverified)

	t.Run("admin promotes verified account", func(t *testing.T) {
		require.NoError(t, f.manager.Promote(ctx, "root@example.com", "ada@example.com"))
		acct, err := f.manager.FindAccount(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, account.TrustAdmin, acct.Trust)
	})

	t.Run("unverified account cannot be promoted", func(t *testing.T) {
		err := f.manager.Promote(ctx, "root@example.com", "bob@example.com")
		require.ErrorIs(t, err, account.ErrInvalidTransition)
	})

	t.Run("non-admin actor is forbidden", func(t *testing.T) {
		err := f.manager.Promote(ctx, "bob@example.com", "bob@example.com")
		errutil.AssertSentinel(t, err, account.ErrForbidden, "ACCOUNT_FORBIDDEN")
	})

	t.Run("unknown actor is forbidden", func(t *testing.T) {
		err := f.manager.Promote(ctx, "ghost@example.com", "bob@example.com")
		require.ErrorIs(t, err, account.ErrForbidden)
	})

	t.Run("unknown target", func(t *testing.T) {
		err := f.manager.Promote(ctx, "root@example.com", "ghost@example.com")
		require.ErrorIs(t, err, account.ErrNotFound)
	})
}

func TestManager_LogsNoSecrets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "ada@example.com", "hunter2-plaintext", account.TrustUnverified)

	verify, err := f.manager.RequestEmailVerification(ctx, "ada@example.com")
	require.NoError(t, err)
	_, err = f.manager.ConsumeEmailVerification(ctx, verify)
	require.NoError(t, err)

	reset, err := f.manager.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)
	result, err := f.manager.ConsumePasswordReset(ctx, reset)
	require.NoError(t, err)

	acct, err := f.manager.FindAccount(ctx, "ada@example.com")
	require.NoError(t, err)

	logs := f.logs.String()
	assert.Contains(t, logs, "account registered")
	assert.Contains(t, logs, "[REDACTED]")
	for _, secret := range []string{"hunter2-plaintext", acct.CredentialHash, result.NewPassword, verify, reset} {
		assert.NotContains(t, logs, secret)
	}
	assert.NotContains(t, result.String(), result.NewPassword)
}
