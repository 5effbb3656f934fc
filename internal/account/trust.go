// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account

import (
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// TrustLevel is an account's authorization tier. Higher levels include
// the privileges of lower ones.
type TrustLevel int

// Trust levels.
const (
	TrustUnverified TrustLevel = 0
	TrustVerified   TrustLevel = 1
	TrustAdmin      TrustLevel = 2
)

// String returns the level name, or the number for levels outside the
// named tiers.
func (t TrustLevel) String() string {
	switch t {
	case TrustUnverified:
		return "unverified"
	case TrustVerified:
		return "verified"
	case TrustAdmin:
		return "admin"
	default:
		return strconv.Itoa(int(t))
	}
}

// ParseTrustLevel accepts a level name or its integer value. Integers
// outside the named tiers are accepted, matching ChangeTrust.
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unverified":
		return TrustUnverified, nil
	case "verified":
		return TrustVerified, nil
	case "admin":
		return TrustAdmin, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("TRUST_INVALID").With("value", s).Errorf("unknown trust level %q", s)
	}
	return TrustLevel(n), nil
}

// Authorize reports whether an account at have may act where need is
// required.
func Authorize(have, need TrustLevel) bool {
	return have >= need
}

// TrustEvent is something that may raise an account's trust.
type TrustEvent int

// Trust events.
const (
	// EventEmailVerified follows consumption of an email verification token.
	EventEmailVerified TrustEvent = iota + 1
	// EventPromoted is an administrator elevating a verified account.
	EventPromoted
)

// String returns the event name.
func (e TrustEvent) String() string {
	switch e {
	case EventEmailVerified:
		return "email_verified"
	case EventPromoted:
		return "promoted"
	default:
		return "unknown"
	}
}

// Transition returns the level an account at current reaches after ev.
// Trust is never lowered: an event that would not raise the level leaves it
// unchanged.
func Transition(current TrustLevel, ev TrustEvent) (TrustLevel, error) {
	switch ev {
	case EventEmailVerified:
		if current < TrustVerified {
			return TrustVerified, nil
		}
		return current, nil
	case EventPromoted:
		if current < TrustVerified {
			return current, oops.Code("TRUST_INVALID_TRANSITION").
				With("from", current.String()).
				With("event", ev.String()).
				Wrap(ErrInvalidTransition)
		}
		if current < TrustAdmin {
			return TrustAdmin, nil
		}
		return current, nil
	default:
		return current, oops.Code("TRUST_INVALID_TRANSITION").
			With("from", current.String()).
			With("event", ev.String()).
			Wrap(ErrInvalidTransition)
	}
}
