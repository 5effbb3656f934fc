// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// PasswordHasher hashes and verifies credentials.
type PasswordHasher interface {
	// Hash produces a salted one-way hash of password. Empty and long
	// passwords are accepted.
	Hash(password string) (string, error)

	// Verify reports whether password matches hash. A malformed hash never
	// matches.
	Verify(password, hash string) bool

	// NeedsUpgrade reports whether hash should be replaced by a fresh Hash
	// after the next successful Verify.
	NeedsUpgrade(hash string) bool
}

// Params are the argon2id work factors.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams targets roughly 100ms per hash on commodity hardware.
var DefaultParams = Params{
	MemoryKiB:   64 * 1024,
	Iterations:  1,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// Upper bounds accepted when decoding a stored hash, so a hostile hash
// string cannot demand unbounded memory or time. maxWorkKiB caps
// iterations*memory, the total KiB argon2id fills for one hash.
const (
	maxMemoryKiB   = 256 * 1024
	maxIterations  = 16
	maxParallelism = 16
	maxWorkKiB     = 1 << 20
	minSaltLen     = 8
	maxSaltLen    = 64
	minKeyLen     = 16
	maxKeyLen     = 128
)

// Validate checks that p can produce a usable hash.
func (p Params) Validate() error {
	switch {
	case p.Iterations == 0 || p.Iterations > maxIterations:
		return oops.Code("HASHER_INVALID_PARAMS").With("iterations", p.Iterations).Errorf("iterations must be in 1..%d", maxIterations)
	case p.Parallelism == 0 || p.Parallelism > maxParallelism:
		return oops.Code("HASHER_INVALID_PARAMS").With("parallelism", p.Parallelism).Errorf("parallelism must be in 1..%d", maxParallelism)
	case p.MemoryKiB < 8*uint32(p.Parallelism) || p.MemoryKiB > maxMemoryKiB:
		return oops.Code("HASHER_INVALID_PARAMS").With("memory_kib", p.MemoryKiB).Errorf("memory must be in %d..%d KiB", 8*uint32(p.Parallelism), maxMemoryKiB)
	case !withinWork(p.Iterations, p.MemoryKiB):
		return oops.Code("HASHER_INVALID_PARAMS").
			With("iterations", p.Iterations).
			With("memory_kib", p.MemoryKiB).
			Errorf("iterations*memory must not exceed %d KiB", maxWorkKiB)
	case p.SaltLength < minSaltLen || p.SaltLength > maxSaltLen:
		return oops.Code("HASHER_INVALID_PARAMS").With("salt_length", p.SaltLength).Errorf("salt length must be in %d..%d", minSaltLen, maxSaltLen)
	case p.KeyLength < minKeyLen || p.KeyLength > maxKeyLen:
		return oops.Code("HASHER_INVALID_PARAMS").With("key_length", p.KeyLength).Errorf("key length must be in %d..%d", minKeyLen, maxKeyLen)
	}
	return nil
}

func withinWork(iterations, memoryKiB uint32) bool {
	return uint64(iterations)*uint64(memoryKiB) <= maxWorkKiB
}

// Argon2idHasher implements PasswordHasher with argon2id PHC strings. It
// also verifies legacy scrypt hashes and reports them as needing upgrade.
type Argon2idHasher struct {
	params Params
}

// NewArgon2idHasher creates a hasher using params.
func NewArgon2idHasher(params Params) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params}, nil
}

// Hash produces an argon2id hash of the password:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("HASHER_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against an argon2id or legacy scrypt hash.
func (h *Argon2idHasher) Verify(password, encodedHash string) bool {
	if isLegacyHash(encodedHash) {
		return verifyLegacy(password, encodedHash)
	}

	p, salt, expected, ok := decodeArgon2id(encodedHash)
	if !ok {
		return false
	}
	computed := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, uint32(len(expected))) //nolint:gosec // bounded by decodeArgon2id
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// NeedsUpgrade reports legacy hashes and argon2id hashes made with
// different work factors than the hasher's.
func (h *Argon2idHasher) NeedsUpgrade(encodedHash string) bool {
	if isLegacyHash(encodedHash) {
		return true
	}
	p, salt, key, ok := decodeArgon2id(encodedHash)
	if !ok {
		return false
	}
	return p.MemoryKiB != h.params.MemoryKiB ||
		p.Iterations != h.params.Iterations ||
		p.Parallelism != h.params.Parallelism ||
		uint32(len(salt)) != h.params.SaltLength || //nolint:gosec // bounded by decodeArgon2id
		uint32(len(key)) != h.params.KeyLength //nolint:gosec // bounded by decodeArgon2id
}

func decodeArgon2id(encoded string) (Params, []byte, []byte, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, false
	}

	var memory, iterations, parallelism uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return Params{}, nil, nil, false
	}
	if parallelism == 0 || parallelism > maxParallelism || iterations == 0 || iterations > maxIterations ||
		memory < 8*parallelism || memory > maxMemoryKiB || !withinWork(iterations, memory) {
		return Params{}, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil || len(salt) < minSaltLen || len(salt) > maxSaltLen {
		return Params{}, nil, nil, false
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil || len(key) < minKeyLen || len(key) > maxKeyLen {
		return Params{}, nil, nil, false
	}

	return Params{
		MemoryKiB:   memory,
		Iterations:  iterations,
		Parallelism: uint8(parallelism),
		SaltLength:  uint32(len(salt)), //nolint:gosec // bounded above
		KeyLength:   uint32(len(key)),  //nolint:gosec // bounded above
	}, salt, key, true
}

var _ PasswordHasher = (*Argon2idHasher)(nil)
