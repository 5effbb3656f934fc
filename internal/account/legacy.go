// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account

import (
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Accounts created before the switch to argon2id carry scrypt hashes in
// the "$s0$<params>$<salt>$<key>" layout, where params is hex of
// log2(N)<<16 | r<<8 | p and salt and key use padded standard base64.
const legacyPrefix = "$s0$"

// Work-factor ceilings for legacy hashes. scrypt needs 128*N*r bytes of
// memory and runs that mix p times, so N*r*p bounds the total work.
const (
	maxLegacyParallelism = 16
	maxLegacyWork        = 1 << 21
)

func isLegacyHash(encoded string) bool {
	return strings.HasPrefix(encoded, legacyPrefix)
}

func verifyLegacy(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[1] != "s0" {
		return false
	}

	params, err := strconv.ParseUint(parts[2], 16, 32)
	if err != nil {
		return false
	}
	logN := (params >> 16) & 0xffff
	r := int((params >> 8) & 0xff)
	p := int(params & 0xff)
	if logN == 0 || logN > 21 || r == 0 || p == 0 || p > maxLegacyParallelism {
		return false
	}
	n := 1 << logN
	if n*r*p > maxLegacyWork {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(salt) == 0 {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(expected) < minKeyLen || len(expected) > maxKeyLen {
		return false
	}

	derived, err := scrypt.Key([]byte(password), salt, n, r, p, len(expected))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, expected) == 1
}
