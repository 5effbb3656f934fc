// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account

import "errors"

var (
	// ErrNotFound is returned when an email or token does not resolve to
	// exactly one account.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an email is already registered.
	ErrConflict = errors.New("already exists")

	// ErrInvalidTransition is returned when a trust event does not apply to
	// the account's current level.
	ErrInvalidTransition = errors.New("invalid trust transition")

	// ErrForbidden is returned when the acting account lacks the trust level
	// an operation requires.
	ErrForbidden = errors.New("forbidden")
)
