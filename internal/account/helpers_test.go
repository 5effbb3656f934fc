// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/scrypt"

	"github.com/serpconnect/connect/internal/account"
)

// fastParams keeps argon2id cheap enough for tests.
var fastParams = account.Params{
	MemoryKiB:   64,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func newHasher(t *testing.T) *account.Argon2idHasher {
	t.Helper()
	h, err := account.NewArgon2idHasher(fastParams)
	require.NoError(t, err)
	return h
}

// legacyHash builds a "$s0$" scrypt hash with N=16, r=8, p=1.
func legacyHash(t *testing.T, password string) string {
	t.Helper()
	salt := []byte("legacy-salt-0001")
	key, err := scrypt.Key([]byte(password), salt, 16, 8, 1, 32)
	require.NoError(t, err)
	return fmt.Sprintf("$s0$%x$%s$%s", 4<<16|8<<8|1,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key))
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// unguardedStore is an IdentityStore with no uniqueness enforcement of its
// own: find and create are separate steps with a gap between them, so only
// the Manager keeps emails unique. Methods other than find and create are
// not implemented.
type unguardedStore struct {
	account.IdentityStore

	mu       sync.Mutex
	accounts []account.Account
}

func (s *unguardedStore) FindAccountByEmail(_ context.Context, email string) (*account.Account, error) {
	s.mu.Lock()
	var found *account.Account
	for i := range s.accounts {
		if s.accounts[i].Email == email {
			acct := s.accounts[i]
			found = &acct
			break
		}
	}
	s.mu.Unlock()

	time.Sleep(time.Millisecond)
	if found == nil {
		return nil, account.ErrNotFound
	}
	return found, nil
}

func (s *unguardedStore) CreateAccount(_ context.Context, email, credentialHash string, trust account.TrustLevel) (*account.Account, error) {
	time.Sleep(time.Millisecond)
	acct := account.Account{Email: email, CredentialHash: credentialHash, Trust: trust}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, acct)
	return &acct, nil
}

func (s *unguardedStore) count(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, acct := range s.accounts {
		if acct.Email == email {
			n++
		}
	}
	return n
}
