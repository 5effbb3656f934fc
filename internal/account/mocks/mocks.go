// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

// Package mocks provides testify mocks for the account package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/serpconnect/connect/internal/account"
)

// MockIdentityStore is a mock account.IdentityStore.
type MockIdentityStore struct {
	mock.Mock
}

// NewMockIdentityStore creates a MockIdentityStore whose expectations are
// asserted when the test ends.
func NewMockIdentityStore(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockIdentityStore {
	m := &MockIdentityStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// FindAccountByEmail implements account.IdentityStore.
func (_m *MockIdentityStore) FindAccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	ret := _m.Called(ctx, email)
	var acct *account.Account
	if v := ret.Get(0); v != nil {
		acct = v.(*account.Account)
	}
	return acct, ret.Error(1)
}

// CreateAccount implements account.IdentityStore.
func (_m *MockIdentityStore) CreateAccount(ctx context.Context, email, credentialHash string, trust account.TrustLevel) (*account.Account, error) {
	ret := _m.Called(ctx, email, credentialHash, trust)
	var acct *account.Account
	if v := ret.Get(0); v != nil {
		acct = v.(*account.Account)
	}
	return acct, ret.Error(1)
}

// DeleteAccount implements account.IdentityStore.
func (_m *MockIdentityStore) DeleteAccount(ctx context.Context, email string) error {
	ret := _m.Called(ctx, email)
	return ret.Error(0)
}

// SetAccountProperty implements account.IdentityStore.
func (_m *MockIdentityStore) SetAccountProperty(ctx context.Context, email string, prop account.Property, value any) (int, error) {
	ret := _m.Called(ctx, email, prop, value)
	return ret.Int(0), ret.Error(1)
}

// AttachToken implements account.IdentityStore.
func (_m *MockIdentityStore) AttachToken(ctx context.Context, kind account.TokenKind, email, token string, issuedAt time.Time) error {
	ret := _m.Called(ctx, kind, email, token, issuedAt)
	return ret.Error(0)
}

// ConsumeToken implements account.IdentityStore.
func (_m *MockIdentityStore) ConsumeToken(ctx context.Context, kind account.TokenKind, token string) (string, time.Time, error) {
	ret := _m.Called(ctx, kind, token)
	var issuedAt time.Time
	if v := ret.Get(1); v != nil {
		issuedAt = v.(time.Time)
	}
	return ret.String(0), issuedAt, ret.Error(2)
}

// PurgeTokens implements account.IdentityStore.
func (_m *MockIdentityStore) PurgeTokens(ctx context.Context, kind account.TokenKind, cutoff time.Time) (int, error) {
	ret := _m.Called(ctx, kind, cutoff)
	return ret.Int(0), ret.Error(1)
}

// MockPasswordHasher is a mock account.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher whose expectations are
// asserted when the test ends.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash implements account.PasswordHasher.
func (_m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := _m.Called(password)
	return ret.String(0), ret.Error(1)
}

// Verify implements account.PasswordHasher.
func (_m *MockPasswordHasher) Verify(password, hash string) bool {
	ret := _m.Called(password, hash)
	return ret.Bool(0)
}

// NeedsUpgrade implements account.PasswordHasher.
func (_m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	ret := _m.Called(hash)
	return ret.Bool(0)
}

// MockTokenGenerator is a mock account.TokenGenerator.
type MockTokenGenerator struct {
	mock.Mock
}

// NewMockTokenGenerator creates a MockTokenGenerator whose expectations
// are asserted when the test ends.
func NewMockTokenGenerator(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockTokenGenerator {
	m := &MockTokenGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Generate implements account.TokenGenerator.
func (_m *MockTokenGenerator) Generate() (string, error) {
	ret := _m.Called()
	return ret.String(0), ret.Error(1)
}

var (
	_ account.IdentityStore  = (*MockIdentityStore)(nil)
	_ account.PasswordHasher = (*MockPasswordHasher)(nil)
	_ account.TokenGenerator = (*MockTokenGenerator)(nil)
)
