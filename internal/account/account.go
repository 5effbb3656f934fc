// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account

import (
	"log/slog"

	"github.com/oklog/ulid/v2"
)

// Graph vocabulary for identity data.
const (
	labelUser       = "user"
	labelCollection = "collection"
	labelToken      = "token"

	relMemberOf   = "MEMBER_OF"
	relEmailToken = "EMAIL_TOKEN"
	relResetToken = "RESET_TOKEN"

	propEmail    = "email"
	propPassword = "password"
	propTrust    = "trust"
	propDefault  = "default"
	propName     = "name"
	propValue    = "value"
	propKind     = "kind"
	propIssuedAt = "issued_at"

	defaultCollection = "default"
)

// Account is a registered identity.
type Account struct {
	ID                ulid.ULID
	Email             string
	CredentialHash    string
	Trust             TrustLevel
	DefaultCollection ulid.ULID
}

// LogValue omits the credential hash.
func (a *Account) LogValue() slog.Value {
	if a == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("id", a.ID.String()),
		slog.String("email", a.Email),
		slog.String("trust", a.Trust.String()),
	)
}

// Property is an account attribute that SetAccountProperty may change.
type Property int

// Mutable account properties.
const (
	PropertyTrust Property = iota + 1
	PropertyEmail
	PropertyCredential
)

// String returns the property name.
func (p Property) String() string {
	switch p {
	case PropertyTrust:
		return "trust"
	case PropertyEmail:
		return "email"
	case PropertyCredential:
		return "credential"
	default:
		return "unknown"
	}
}

// key is the graph property storing p.
func (p Property) key() string {
	switch p {
	case PropertyTrust:
		return propTrust
	case PropertyEmail:
		return propEmail
	case PropertyCredential:
		return propPassword
	default:
		return ""
	}
}
