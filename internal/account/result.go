// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account

import "log/slog"

// PasswordResetResult carries the credential issued by a password reset.
// NewPassword is the only plaintext credential the package ever returns;
// it is shown to the user once and neither logged nor stored.
type PasswordResetResult struct {
	Email       string
	NewPassword string
}

// String redacts the new password.
func (r *PasswordResetResult) String() string {
	if r == nil {
		return "<nil>"
	}
	return "PasswordResetResult{Email: " + r.Email + ", NewPassword: [REDACTED]}"
}

// GoString redacts the new password.
func (r *PasswordResetResult) GoString() string {
	return r.String()
}

// LogValue redacts the new password.
func (r *PasswordResetResult) LogValue() slog.Value {
	if r == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("email", r.Email),
		slog.String("new_password", "[REDACTED]"),
	)
}
