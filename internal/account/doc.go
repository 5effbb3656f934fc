// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

// Package account manages user identity on top of a graph store.
//
// # Components
//
//   - PasswordHasher (Argon2idHasher) - one-way credential hashing
//   - TokenGenerator (RandomTokens) - opaque single-use tokens
//   - Transition - the trust state machine
//   - IdentityStore (GraphStore) - account and token persistence
//   - Manager - registration, authentication and token workflows
//
// Manager is the entry point for callers. It is created with NewManager,
// which validates its dependencies.
//
// # Results
//
// Lookups that find nothing return ErrNotFound and registrations of a taken
// email return ErrConflict; test for both with errors.Is. Any other error is
// a store or infrastructure failure and is returned to the caller as is.
package account
