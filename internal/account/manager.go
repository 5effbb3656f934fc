// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/serpconnect/connect/pkg/errutil"
)

var tracer = otel.Tracer("connect/account")

// Default token lifetimes.
const (
	DefaultEmailVerifyTTL   = 24 * time.Hour
	DefaultPasswordResetTTL = time.Hour
)

// Manager orchestrates registration, authentication, credential changes
// and single-use token workflows.
type Manager struct {
	store   IdentityStore
	hasher  PasswordHasher
	tokens  TokenGenerator
	logger  *slog.Logger
	metrics *Metrics
	ttl     map[TokenKind]time.Duration
	now     func() time.Time

	// registerMu serializes every check-then-create on email, so two
	// registrations of the same email cannot both pass the check.
	registerMu sync.Mutex
}

// ManagerOption configures a Manager during construction.
type ManagerOption func(*Manager)

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics enables metrics recording.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTokenTTL sets how long tokens of kind stay consumable. Zero means
// tokens never expire.
func WithTokenTTL(kind TokenKind, ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.ttl[kind] = ttl
	}
}

// WithClock replaces time.Now for token issue and expiry.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager. All three collaborators are required.
func NewManager(store IdentityStore, hasher PasswordHasher, tokens TokenGenerator, opts ...ManagerOption) (*Manager, error) {
	switch {
	case store == nil:
		return nil, oops.Code("ACCOUNT_MANAGER_INVALID").Errorf("identity store is required")
	case hasher == nil:
		return nil, oops.Code("ACCOUNT_MANAGER_INVALID").Errorf("password hasher is required")
	case tokens == nil:
		return nil, oops.Code("ACCOUNT_MANAGER_INVALID").Errorf("token generator is required")
	}
	m := &Manager{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		logger: slog.Default(),
		ttl: map[TokenKind]time.Duration{
			TokenEmailVerify:   DefaultEmailVerifyTTL,
			TokenPasswordReset: DefaultPasswordResetTTL,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func storeFailed(operation string, err error) error {
	return oops.Code("ACCOUNT_STORE_FAILED").With("operation", operation).Wrap(err)
}

// Register creates an account for email with the given password and trust.
// It returns ErrConflict if email is already registered.
//
// The password is hashed before the registration lock is taken; only the
// existence re-check and the create run under it.
func (m *Manager) Register(ctx context.Context, email, password string, trust TrustLevel) (acct *Account, err error) {
	ctx, span := startSpan(ctx, "account.register", attribute.String("account.trust", trust.String()))
	defer func() { endSpan(span, err) }()

	if err := m.checkAvailable(ctx, email); err != nil {
		m.metrics.registration(registrationResult(err))
		return nil, err
	}

	hash, err := m.hash(password)
	if err != nil {
		m.metrics.registration(resultError)
		return nil, err
	}

	acct, err = m.createLocked(ctx, email, hash, trust)
	if err != nil {
		m.metrics.registration(registrationResult(err))
		return nil, err
	}

	m.metrics.registration(resultOK)
	m.logger.InfoContext(ctx, "account registered", "account", acct)
	return acct, nil
}

func (m *Manager) createLocked(ctx context.Context, email, hash string, trust TrustLevel) (*Account, error) {
	m.registerMu.Lock()
	defer m.registerMu.Unlock()

	if err := m.checkAvailable(ctx, email); err != nil {
		return nil, err
	}
	acct, err := m.store.CreateAccount(ctx, email, hash, trust)
	if errors.Is(err, ErrConflict) {
		return nil, err
	}
	if err != nil {
		return nil, storeFailed("create account", err)
	}
	return acct, nil
}

// checkAvailable returns ErrConflict if email resolves to an account.
func (m *Manager) checkAvailable(ctx context.Context, email string) error {
	_, err := m.store.FindAccountByEmail(ctx, email)
	switch {
	case err == nil:
		return oops.Code("ACCOUNT_CONFLICT").With("email", email).Wrap(ErrConflict)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return storeFailed("find account", err)
	}
}

func registrationResult(err error) string {
	if errors.Is(err, ErrConflict) {
		return resultConflict
	}
	return resultError
}

// Authenticate reports whether password is the credential of the account
// registered under email. Unknown emails and wrong passwords both return
// false without error.
//
// The email lookup runs first and short-circuits, so response time reveals
// whether an email is registered.
func (m *Manager) Authenticate(ctx context.Context, email, password string) (ok bool, err error) {
	ctx, span := startSpan(ctx, "account.authenticate")
	defer func() {
		span.SetAttributes(attribute.Bool("account.authenticated", ok))
		endSpan(span, err)
	}()

	acct, err := m.store.FindAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		m.metrics.authentication(resultNotFound)
		return false, nil
	}
	if err != nil {
		m.metrics.authentication(resultError)
		return false, storeFailed("find account", err)
	}

	if !m.hasher.Verify(password, acct.CredentialHash) {
		m.metrics.authentication(resultDenied)
		return false, nil
	}
	m.metrics.authentication(resultOK)

	if m.hasher.NeedsUpgrade(acct.CredentialHash) {
		m.upgradeCredential(ctx, email, password)
	}
	return true, nil
}

// upgradeCredential rehashes a verified password with the current hasher
// settings. Failure leaves the old hash in place.
func (m *Manager) upgradeCredential(ctx context.Context, email, password string) {
	hash, err := m.hash(password)
	if err == nil {
		_, err = m.store.SetAccountProperty(ctx, email, PropertyCredential, hash)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, m.logger, slog.LevelWarn, "credential upgrade failed", err)
		return
	}
	m.logger.InfoContext(ctx, "credential upgraded", "email", email)
}

// FindAccount returns the account registered under email.
func (m *Manager) FindAccount(ctx context.Context, email string) (*Account, error) {
	acct, err := m.store.FindAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storeFailed("find account", err)
	}
	return acct, nil
}

// DeleteAccount removes the account registered under email with its
// tokens and memberships. Deleting an unknown email succeeds.
func (m *Manager) DeleteAccount(ctx context.Context, email string) (err error) {
	ctx, span := startSpan(ctx, "account.delete")
	defer func() { endSpan(span, err) }()

	if err := m.store.DeleteAccount(ctx, email); err != nil {
		return storeFailed("delete account", err)
	}
	m.logger.InfoContext(ctx, "account deleted", "email", email)
	return nil
}

// RequestEmailVerification issues an email verification token for email.
// It returns ErrNotFound if email is not registered.
func (m *Manager) RequestEmailVerification(ctx context.Context, email string) (string, error) {
	return m.issueToken(ctx, TokenEmailVerify, email)
}

// RequestPasswordReset issues a password reset token for email. It returns
// ErrNotFound if email is not registered.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	return m.issueToken(ctx, TokenPasswordReset, email)
}

func (m *Manager) issueToken(ctx context.Context, kind TokenKind, email string) (token string, err error) {
	ctx, span := startSpan(ctx, "account.issue_token", attribute.String("token.kind", kind.String()))
	defer func() { endSpan(span, err) }()

	token, err = m.tokens.Generate()
	if err != nil {
		return "", err
	}
	err = m.store.AttachToken(ctx, kind, email, token, m.now())
	if errors.Is(err, ErrNotFound) {
		return "", err
	}
	if err != nil {
		return "", storeFailed("attach token", err)
	}
	m.metrics.tokenIssued(kind)
	m.logger.InfoContext(ctx, "token issued", "kind", kind.String(), "email", email)
	return token, nil
}

// consume deletes token and returns its owner. Tokens older than the
// kind's TTL are deleted too but reported as ErrNotFound.
func (m *Manager) consume(ctx context.Context, kind TokenKind, token string) (string, error) {
	if token == "" {
		m.metrics.tokenConsumed(kind, resultNotFound)
		return "", oops.Code("TOKEN_NOT_FOUND").With("kind", kind.String()).Wrap(ErrNotFound)
	}

	email, issuedAt, err := m.store.ConsumeToken(ctx, kind, token)
	if errors.Is(err, ErrNotFound) {
		m.metrics.tokenConsumed(kind, resultNotFound)
		return "", err
	}
	if err != nil {
		m.metrics.tokenConsumed(kind, resultError)
		return "", storeFailed("consume token", err)
	}

	if ttl := m.ttl[kind]; ttl > 0 && m.now().Sub(issuedAt) > ttl {
		m.metrics.tokenConsumed(kind, resultExpired)
		return "", oops.Code("TOKEN_EXPIRED").
			With("kind", kind.String()).
			With("issued_at", issuedAt).
			Wrap(ErrNotFound)
	}

	m.metrics.tokenConsumed(kind, resultOK)
	return email, nil
}

// ConsumeEmailVerification consumes an email verification token and
// raises the owner to TrustVerified. It returns the owner's email.
//
// The token is gone once consumed. If raising trust then fails, the email
// is returned along with an error and the token cannot be retried.
func (m *Manager) ConsumeEmailVerification(ctx context.Context, token string) (email string, err error) {
	ctx, span := startSpan(ctx, "account.consume_email_verification")
	defer func() { endSpan(span, err) }()

	email, err = m.consume(ctx, TokenEmailVerify, token)
	if err != nil {
		return "", err
	}

	if err := m.applyTrustEvent(ctx, email, EventEmailVerified); err != nil {
		return email, oops.Code("ACCOUNT_ESCALATION_FAILED").With("email", email).Wrap(err)
	}
	m.logger.InfoContext(ctx, "email verified", "email", email)
	return email, nil
}

// ConsumePasswordReset consumes a password reset token, replaces the
// owner's credential with a fresh random one and returns it.
func (m *Manager) ConsumePasswordReset(ctx context.Context, token string) (result *PasswordResetResult, err error) {
	ctx, span := startSpan(ctx, "account.consume_password_reset")
	defer func() { endSpan(span, err) }()

	email, err := m.consume(ctx, TokenPasswordReset, token)
	if err != nil {
		return nil, err
	}

	password, err := m.tokens.Generate()
	if err != nil {
		return nil, oops.Code("RESET_PASSWORD_FAILED").With("email", email).Wrap(err)
	}
	if err := m.ChangePassword(ctx, email, password); err != nil {
		return nil, oops.Code("RESET_PASSWORD_FAILED").With("email", email).Wrap(err)
	}

	result = &PasswordResetResult{Email: email, NewPassword: password}
	m.logger.InfoContext(ctx, "password reset", "result", result)
	return result, nil
}

// ChangeTrust sets the trust level of the account under email. Any level
// is accepted; callers decide who may change trust and to what. Promote
// applies the trust rules instead.
func (m *Manager) ChangeTrust(ctx context.Context, email string, level TrustLevel) error {
	return m.setProperty(ctx, email, PropertyTrust, level)
}

// ChangePassword replaces the credential of the account under email. The
// old password is not checked.
func (m *Manager) ChangePassword(ctx context.Context, email, password string) error {
	hash, err := m.hash(password)
	if err != nil {
		return err
	}
	return m.setProperty(ctx, email, PropertyCredential, hash)
}

// ChangeEmail moves the account under email to newEmail. It returns
// ErrConflict if newEmail is registered to another account.
func (m *Manager) ChangeEmail(ctx context.Context, email, newEmail string) (err error) {
	ctx, span := startSpan(ctx, "account.change_email")
	defer func() { endSpan(span, err) }()

	m.registerMu.Lock()
	defer m.registerMu.Unlock()

	if email != newEmail {
		if err := m.checkAvailable(ctx, newEmail); err != nil {
			return err
		}
	}
	return m.setProperty(ctx, email, PropertyEmail, newEmail)
}

func (m *Manager) setProperty(ctx context.Context, email string, prop Property, value any) error {
	n, err := m.store.SetAccountProperty(ctx, email, prop, value)
	if errors.Is(err, ErrConflict) {
		return err
	}
	if err != nil {
		return storeFailed("set "+prop.String(), err)
	}
	if n == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			With("property", prop.String()).
			Wrap(ErrNotFound)
	}
	return nil
}

// Promote raises target to TrustAdmin on behalf of actor, who must be an
// admin. Unverified targets cannot be promoted.
func (m *Manager) Promote(ctx context.Context, actor, target string) (err error) {
	ctx, span := startSpan(ctx, "account.promote")
	defer func() { endSpan(span, err) }()

	acct, err := m.store.FindAccountByEmail(ctx, actor)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return storeFailed("find account", err)
	}
	if err != nil || !Authorize(acct.Trust, TrustAdmin) {
		return oops.Code("ACCOUNT_FORBIDDEN").
			With("actor", actor).
			With("required", TrustAdmin.String()).
			Wrap(ErrForbidden)
	}

	if err := m.applyTrustEvent(ctx, target, EventPromoted); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "account promoted", "actor", actor, "target", target)
	return nil
}

// applyTrustEvent moves the account under email through the trust state
// machine.
func (m *Manager) applyTrustEvent(ctx context.Context, email string, ev TrustEvent) error {
	acct, err := m.FindAccount(ctx, email)
	if err != nil {
		return err
	}
	next, err := Transition(acct.Trust, ev)
	if err != nil {
		return err
	}
	if next == acct.Trust {
		return nil
	}
	return m.setProperty(ctx, email, PropertyTrust, next)
}

// PurgeExpiredTokens deletes tokens older than their kind's TTL and
// returns how many were removed. Kinds without a TTL are skipped.
func (m *Manager) PurgeExpiredTokens(ctx context.Context) (total int, err error) {
	ctx, span := startSpan(ctx, "account.purge_tokens")
	defer func() {
		span.SetAttributes(attribute.Int("token.purged", total))
		endSpan(span, err)
	}()

	now := m.now()
	for _, kind := range TokenKinds {
		ttl := m.ttl[kind]
		if ttl <= 0 {
			continue
		}
		n, err := m.store.PurgeTokens(ctx, kind, now.Add(-ttl))
		if err != nil {
			return total, storeFailed("purge tokens", err)
		}
		total += n
	}
	if total > 0 {
		m.logger.InfoContext(ctx, "expired tokens purged", "count", total)
	}
	return total, nil
}

func (m *Manager) hash(password string) (string, error) {
	start := time.Now()
	hash, err := m.hasher.Hash(password)
	m.metrics.hashed(time.Since(start))
	if err != nil {
		return "", oops.Code("ACCOUNT_HASH_FAILED").Wrap(err)
	}
	return hash, nil
}
