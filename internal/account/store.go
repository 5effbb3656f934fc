// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/serpconnect/connect/internal/graph"
)

// IdentityStore persists accounts and their tokens.
type IdentityStore interface {
	// FindAccountByEmail returns the single account registered under email.
	// It returns ErrNotFound when there is none or, as a store anomaly,
	// more than one.
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)

	// CreateAccount stores a new account with its default collection. It
	// returns ErrConflict if the email is already registered.
	CreateAccount(ctx context.Context, email, credentialHash string, trust TrustLevel) (*Account, error)

	// DeleteAccount removes every account registered under email together
	// with its tokens. Deleting an unknown email succeeds.
	DeleteAccount(ctx context.Context, email string) error

	// SetAccountProperty sets prop on accounts matching email and returns
	// how many matched. Zero matches is not an error.
	SetAccountProperty(ctx context.Context, email string, prop Property, value any) (int, error)

	// AttachToken binds token to the account registered under email.
	AttachToken(ctx context.Context, kind TokenKind, email, token string, issuedAt time.Time) error

	// ConsumeToken deletes the token of kind and returns its owner's email
	// and issue time. The lookup and delete are one transaction, so a token
	// is consumed at most once.
	ConsumeToken(ctx context.Context, kind TokenKind, token string) (string, time.Time, error)

	// PurgeTokens deletes tokens of kind issued before cutoff.
	PurgeTokens(ctx context.Context, kind TokenKind, cutoff time.Time) (int, error)
}

// GraphStore implements IdentityStore over a graph.Store.
//
// Layout: (user)-[MEMBER_OF]->(collection) and
// (token)-[EMAIL_TOKEN|RESET_TOKEN]->(user). Token nodes hold the SHA-256
// digest of the token, never the token itself.
type GraphStore struct {
	graph  graph.Store
	logger *slog.Logger
}

// NewGraphStore creates a GraphStore. A nil logger uses slog.Default.
func NewGraphStore(g graph.Store, logger *slog.Logger) *GraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphStore{graph: g, logger: logger}
}

func lockKey(email string) string {
	return "account:" + email
}

// FindAccountByEmail implements IdentityStore.
func (s *GraphStore) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	var acct *Account
	err := s.graph.View(ctx, func(ctx context.Context, tx graph.Tx) error {
		n, err := s.findUser(ctx, tx, email)
		if err != nil {
			return err
		}
		acct = accountFromNode(n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// findUser resolves email to exactly one user node.
func (s *GraphStore) findUser(ctx context.Context, tx graph.Tx, email string) (graph.Node, error) {
	users, err := tx.Match(ctx, labelUser, graph.Props{propEmail: email})
	if err != nil {
		return graph.Node{}, oops.With("operation", "find account").Wrap(err)
	}
	switch len(users) {
	case 0:
		return graph.Node{}, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(ErrNotFound)
	case 1:
		return users[0], nil
	default:
		s.logger.WarnContext(ctx, "multiple accounts share an email",
			"email", email,
			"count", len(users))
		return graph.Node{}, oops.Code("ACCOUNT_AMBIGUOUS").
			With("email", email).
			With("count", len(users)).
			Wrap(ErrNotFound)
	}
}

// CreateAccount implements IdentityStore. Inside its transaction it takes
// a store lock on the email and re-checks for an existing account, so
// registrations racing from other processes cannot both succeed.
func (s *GraphStore) CreateAccount(ctx context.Context, email, credentialHash string, trust TrustLevel) (*Account, error) {
	var acct *Account
	err := s.graph.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
		if err := tx.Lock(ctx, lockKey(email)); err != nil {
			return err
		}
		existing, err := tx.Match(ctx, labelUser, graph.Props{propEmail: email})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return oops.Code("ACCOUNT_CONFLICT").With("email", email).Wrap(ErrConflict)
		}

		coll, err := tx.CreateNode(ctx, labelCollection, graph.Props{propName: defaultCollection})
		if err != nil {
			return err
		}
		user, err := tx.CreateNode(ctx, labelUser, graph.Props{
			propEmail:    email,
			propPassword: credentialHash,
			propTrust:    int64(trust),
			propDefault:  coll.ID.String(),
		})
		if err != nil {
			return err
		}
		if err := tx.Relate(ctx, user.ID, coll.ID, relMemberOf); err != nil {
			return err
		}
		acct = accountFromNode(user)
		return nil
	})
	switch {
	case err == nil:
		return acct, nil
	case errors.Is(err, ErrConflict):
		return nil, err
	case errors.Is(err, graph.ErrConstraintViolation):
		return nil, oops.Code("ACCOUNT_CONFLICT").With("email", email).Wrap(ErrConflict)
	default:
		return nil, oops.With("operation", "create account").With("email", email).Wrap(err)
	}
}

// DeleteAccount implements IdentityStore. The default collection is
// removed with the account once nobody else is a member.
func (s *GraphStore) DeleteAccount(ctx context.Context, email string) error {
	err := s.graph.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
		users, err := tx.Match(ctx, labelUser, graph.Props{propEmail: email})
		if err != nil {
			return err
		}
		for _, user := range users {
			doomed := []ulid.ULID{user.ID}
			for _, kind := range TokenKinds {
				tokens, err := tx.Related(ctx, user.ID, kind.relationship(), graph.Incoming)
				if err != nil {
					return err
				}
				for _, t := range tokens {
					doomed = append(doomed, t.ID)
				}
			}
			if _, err := tx.DetachDelete(ctx, doomed...); err != nil {
				return err
			}

			collID, err := ulid.Parse(user.Props.String(propDefault))
			if err != nil {
				continue
			}
			members, err := tx.Related(ctx, collID, relMemberOf, graph.Incoming)
			if err != nil {
				return err
			}
			if len(members) == 0 {
				if _, err := tx.DetachDelete(ctx, collID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return oops.With("operation", "delete account").With("email", email).Wrap(err)
	}
	return nil
}

// SetAccountProperty implements IdentityStore.
func (s *GraphStore) SetAccountProperty(ctx context.Context, email string, prop Property, value any) (int, error) {
	key := prop.key()
	if key == "" {
		return 0, oops.Code("ACCOUNT_INVALID_PROPERTY").With("property", int(prop)).Errorf("unknown account property")
	}
	if level, ok := value.(TrustLevel); ok {
		value = int64(level)
	}

	var count int
	err := s.graph.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
		var err error
		count, err = tx.Set(ctx, labelUser, graph.Props{propEmail: email}, graph.Props{key: value})
		return err
	})
	if errors.Is(err, graph.ErrConstraintViolation) {
		return 0, oops.Code("ACCOUNT_CONFLICT").With("property", prop.String()).Wrap(ErrConflict)
	}
	if err != nil {
		return 0, oops.With("operation", "set account property").With("property", prop.String()).Wrap(err)
	}
	return count, nil
}

// AttachToken implements IdentityStore.
func (s *GraphStore) AttachToken(ctx context.Context, kind TokenKind, email, token string, issuedAt time.Time) error {
	if !kind.valid() {
		return oops.Code("TOKEN_INVALID_KIND").With("kind", int(kind)).Errorf("unknown token kind")
	}
	err := s.graph.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
		user, err := s.findUser(ctx, tx, email)
		if err != nil {
			return err
		}
		node, err := tx.CreateNode(ctx, labelToken, graph.Props{
			propValue:    hashToken(token),
			propKind:     kind.String(),
			propIssuedAt: issuedAt.UnixMilli(),
		})
		if err != nil {
			return err
		}
		return tx.Relate(ctx, node.ID, user.ID, kind.relationship())
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return oops.With("operation", "attach token").With("kind", kind.String()).Wrap(err)
	}
	return nil
}

// ConsumeToken implements IdentityStore. A token value that resolves to
// more than one (token, owner) pair is deleted and reported as not found.
func (s *GraphStore) ConsumeToken(ctx context.Context, kind TokenKind, token string) (string, time.Time, error) {
	if !kind.valid() {
		return "", time.Time{}, oops.Code("TOKEN_INVALID_KIND").With("kind", int(kind)).Errorf("unknown token kind")
	}

	type binding struct {
		token graph.Node
		owner graph.Node
	}
	var (
		email     string
		issuedAt  time.Time
		ambiguous int
	)
	err := s.graph.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
		nodes, err := tx.Match(ctx, labelToken, graph.Props{propValue: hashToken(token)})
		if err != nil {
			return err
		}
		var found []binding
		for _, n := range nodes {
			owners, err := tx.Related(ctx, n.ID, kind.relationship(), graph.Outgoing)
			if err != nil {
				return err
			}
			for _, o := range owners {
				found = append(found, binding{token: n, owner: o})
			}
		}

		switch len(found) {
		case 0:
			return oops.Code("TOKEN_NOT_FOUND").With("kind", kind.String()).Wrap(ErrNotFound)
		case 1:
		default:
			ids := make([]ulid.ULID, 0, len(found))
			for _, b := range found {
				ids = append(ids, b.token.ID)
			}
			if _, err := tx.DetachDelete(ctx, ids...); err != nil {
				return err
			}
			ambiguous = len(found)
			return nil
		}

		removed, err := tx.DetachDelete(ctx, found[0].token.ID)
		if err != nil {
			return err
		}
		if removed != 1 {
			// Consumed by a concurrent transaction.
			return oops.Code("TOKEN_NOT_FOUND").With("kind", kind.String()).Wrap(ErrNotFound)
		}
		email = found[0].owner.Props.String(propEmail)
		issuedAt = time.UnixMilli(found[0].token.Props.Int64(propIssuedAt))
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return "", time.Time{}, err
	}
	if err != nil {
		return "", time.Time{}, oops.With("operation", "consume token").With("kind", kind.String()).Wrap(err)
	}
	if ambiguous > 0 {
		s.logger.WarnContext(ctx, "token matched more than one binding, discarded",
			"kind", kind.String(),
			"count", ambiguous)
		return "", time.Time{}, oops.Code("TOKEN_AMBIGUOUS").
			With("kind", kind.String()).
			With("count", ambiguous).
			Wrap(ErrNotFound)
	}
	return email, issuedAt, nil
}

// PurgeTokens implements IdentityStore.
func (s *GraphStore) PurgeTokens(ctx context.Context, kind TokenKind, cutoff time.Time) (int, error) {
	if !kind.valid() {
		return 0, oops.Code("TOKEN_INVALID_KIND").With("kind", int(kind)).Errorf("unknown token kind")
	}
	var removed int
	err := s.graph.Update(ctx, func(ctx context.Context, tx graph.Tx) error {
		nodes, err := tx.Match(ctx, labelToken, graph.Props{propKind: kind.String()})
		if err != nil {
			return err
		}
		var expired []ulid.ULID
		for _, n := range nodes {
			if n.Props.Int64(propIssuedAt) < cutoff.UnixMilli() {
				expired = append(expired, n.ID)
			}
		}
		removed, err = tx.DetachDelete(ctx, expired...)
		return err
	})
	if err != nil {
		return 0, oops.With("operation", "purge tokens").With("kind", kind.String()).Wrap(err)
	}
	return removed, nil
}

func accountFromNode(n graph.Node) *Account {
	acct := &Account{
		ID:             n.ID,
		Email:          n.Props.String(propEmail),
		CredentialHash: n.Props.String(propPassword),
		Trust:          TrustLevel(n.Props.Int64(propTrust)),
	}
	if id, err := ulid.Parse(n.Props.String(propDefault)); err == nil {
		acct.DefaultCollection = id
	}
	return acct
}

var _ IdentityStore = (*GraphStore)(nil)
