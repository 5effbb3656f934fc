// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package errutil

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries code. oops reports the innermost
// code in a wrap chain, so a store failure wrapped by a manager keeps the
// store's code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, oopsErr.Code())
}

// AssertErrorContext asserts that err carries key=value in its context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	ctx := oopsErr.Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

// AssertSentinel asserts that err matches sentinel under errors.Is and
// carries code. Account and token failures are classified both ways:
// callers branch on the sentinel (ErrNotFound, ErrConflict, ErrForbidden)
// and logs report the code (TOKEN_EXPIRED, ACCOUNT_CONFLICT).
func AssertSentinel(t *testing.T, err, sentinel error, code string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, sentinel), "expected %v in chain of %v", sentinel, err)
	AssertErrorCode(t, err, code)
}
