// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/samber/oops"
)

// TokenKind identifies what a single-use token authorizes.
type TokenKind int

// Token kinds.
const (
	TokenEmailVerify TokenKind = iota + 1
	TokenPasswordReset
)

// TokenKinds lists every token kind.
var TokenKinds = []TokenKind{TokenEmailVerify, TokenPasswordReset}

// String returns the kind name used in logs and metrics.
func (k TokenKind) String() string {
	switch k {
	case TokenEmailVerify:
		return "email_verify"
	case TokenPasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// relationship is the label of the token -> account edge.
func (k TokenKind) relationship() string {
	switch k {
	case TokenEmailVerify:
		return relEmailToken
	case TokenPasswordReset:
		return relResetToken
	default:
		return ""
	}
}

func (k TokenKind) valid() bool {
	return k == TokenEmailVerify || k == TokenPasswordReset
}

// MinTokenBytes is the smallest amount of randomness a token may carry.
const MinTokenBytes = 32

// TokenGenerator mints opaque single-use tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokens generates URL-safe tokens from crypto/rand. It is safe for
// concurrent use.
type RandomTokens struct {
	size int
}

// NewRandomTokens returns a generator producing size random bytes per
// token. Sizes below MinTokenBytes are raised to it.
func NewRandomTokens(size int) *RandomTokens {
	if size < MinTokenBytes {
		size = MinTokenBytes
	}
	return &RandomTokens{size: size}
}

// Generate returns base64url (unpadded) encoded random bytes.
func (g *RandomTokens) Generate() (string, error) {
	buf := make([]byte, g.size)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// hashToken is the stored form of a token. Only the digest is persisted,
// so reading the store does not yield usable tokens.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var _ TokenGenerator = (*RandomTokens)(nil)
