// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyloom/keyloom/internal/observability"
)

// dummyPasswordHash is used when a user doesn't exist to prevent timing
// attacks. We still run password verification to make response time
// consistent. This is NOT a real credential - it's a fake hash that will
// never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service orchestrates registration, login, token rotation, validation,
// logout and the password-reset flow.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	cache    SessionCache
	attempts AttemptRecorder
	hasher   PasswordHasher
	issuer   *TokenIssuer
	policy   LockoutPolicy
	resetTTL time.Duration
	logger   *slog.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithLockoutPolicy overrides the default lockout policy.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithResetTokenTTL overrides the default reset token lifetime.
func WithResetTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.resetTTL = ttl }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service. All dependencies are required.
func NewService(
	users UserRepository,
	sessions SessionRepository,
	cache SessionCache,
	attempts AttemptRecorder,
	hasher PasswordHasher,
	issuer *TokenIssuer,
	opts ...ServiceOption,
) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("session repository is required")
	}
	if cache == nil {
		return nil, oops.Errorf("session cache is required")
	}
	if attempts == nil {
		return nil, oops.Errorf("attempt recorder is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if issuer == nil {
		return nil, oops.Errorf("token issuer is required")
	}

	s := &Service{
		users:    users,
		sessions: sessions,
		cache:    cache,
		attempts: attempts,
		hasher:   hasher,
		issuer:   issuer,
		policy:   DefaultLockoutPolicy(),
		resetTTL: DefaultResetTokenTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterInput carries registration fields.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	OrgID     ulid.ULID
}

// RegisterResult is the registration outcome. Registration does not imply
// login: no session or tokens are created, and the caller must complete
// email verification with the returned single-use token.
type RegisterResult struct {
	User                 *User
	VerificationToken    string
	VerificationRequired bool
}

// Register creates an unverified, active user.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	if err := ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(input.Email, hash, input.FirstName, input.LastName, input.OrgID)
	if err != nil {
		return nil, err
	}

	verificationToken, verificationHash, err := GenerateOpaqueToken()
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "generate verification token").Wrap(err)
	}
	user.VerificationTokenHash = &verificationHash

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, err
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "create user").Wrap(err)
	}

	return &RegisterResult{
		User:                 user,
		VerificationToken:    verificationToken,
		VerificationRequired: true,
	}, nil
}

// LoginInput carries credentials plus request metadata for the audit trail.
type LoginInput struct {
	Email             string
	Password          string
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
}

// LoginResult is a successful login: the user, a signed token pair and the
// opaque handle of the newly created session.
type LoginResult struct {
	User          *User
	AccessToken   string
	RefreshToken  string
	SessionHandle string
}

// Login authenticates credentials and creates a session.
//
// Check order: lookup, lockout, active flag, password. Unknown email is
// reported identically to a wrong password (ErrInvalidCredentials) and never
// touches any counter; a dummy hash is still verified to keep response time
// independent of account existence. Wrong password on a known user does an
// atomic counter increment at the store so parallel failures cannot bypass
// the lockout threshold.
func (s *Service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = s.hasher.Verify(input.Password, dummyPasswordHash) //nolint:errcheck // timing only
			s.recordAttempt(ctx, nil, email, input, false, AttemptReasonUnknownEmail)
			observability.RecordLogin("failure")
			return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get user by email").Wrap(err)
	}

	if user.IsLocked() {
		s.recordAttempt(ctx, &user.ID, email, input, false, AttemptReasonLocked)
		observability.RecordLogin("locked")
		return nil, oops.Code("AUTH_ACCOUNT_LOCKED").
			With("locked_until", user.LockedUntil).
			Wrap(ErrAccountLocked)
	}

	if !user.Active {
		s.recordAttempt(ctx, &user.ID, email, input, false, AttemptReasonInactive)
		observability.RecordLogin("inactive")
		return nil, oops.Code("AUTH_ACCOUNT_INACTIVE").Wrap(ErrAccountInactive)
	}

	valid, err := s.hasher.Verify(input.Password, user.PasswordHash)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "verify password").Wrap(err)
	}
	if !valid {
		attempts, lockedUntil, incErr := s.users.RecordFailedAttempt(ctx, user.ID, s.policy)
		if incErr != nil {
			return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "record failed attempt").Wrap(incErr)
		}
		if IsLockedOut(lockedUntil) && !IsLockedOut(user.LockedUntil) {
			observability.RecordLockout()
			s.logger.Warn("account locked after repeated failures",
				"user_id", user.ID.String(),
				"attempts", attempts,
				"locked_until", lockedUntil)
		}
		s.recordAttempt(ctx, &user.ID, email, input, false, AttemptReasonWrongPassword)
		observability.RecordLogin("failure")
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	// Rehash on login when the stored credential uses a legacy algorithm.
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(input.Password); hashErr == nil {
			if upErr := s.users.CompletePasswordReset(ctx, user.ID, newHash); upErr == nil {
				user.PasswordHash = newHash
			}
		}
	}

	if err := s.users.RecordSuccessfulLogin(ctx, user.ID); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "record successful login").Wrap(err)
	}

	result, err := s.startSession(ctx, user, input.DeviceFingerprint, input.IPAddress, input.UserAgent)
	if err != nil {
		return nil, err
	}

	s.recordAttempt(ctx, &user.ID, email, input, true, AttemptReasonOK)
	observability.RecordLogin("success")
	return result, nil
}

// recordAttempt appends a login audit entry. Best effort: a history write
// failure never blocks the critical path.
func (s *Service) recordAttempt(ctx context.Context, userID *ulid.ULID, email string, input LoginInput, success bool, reason AttemptReason) {
	attempt := NewLoginAttempt(userID, email, input.IPAddress, input.UserAgent, success, reason)
	if err := s.attempts.RecordLoginAttempt(ctx, attempt); err != nil {
		s.logger.Warn("failed to record login attempt", "reason", string(reason), "error", err)
	}
}

// startSession mints a token pair, persists the session row and mirrors it
// into the cache. The mirror is best effort: login proceeds durable-only if
// the cache is unavailable.
func (s *Service) startSession(ctx context.Context, user *User, fingerprint, ip, userAgent string) (*LoginResult, error) {
	accessToken, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue access token").Wrap(err)
	}
	refreshToken, _, err := s.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue refresh token").Wrap(err)
	}

	expiresAt := time.Now().Add(s.issuer.RefreshTTL())
	session, err := NewSession(user.ID, HashToken(refreshToken), fingerprint, ip, userAgent, expiresAt)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "create session").Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").With("operation", "persist session").Wrap(err)
	}

	s.mirrorSession(ctx, session, user)

	return &LoginResult{
		User:          user,
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		SessionHandle: session.ID.String(),
	}, nil
}

// mirrorSession writes the compact cache entry with TTL equal to the
// session's remaining lifetime. Failures are logged and swallowed.
func (s *Service) mirrorSession(ctx context.Context, session *Session, user *User) {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}
	entry := CacheEntry{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   string(user.Role),
		OrgID:  user.OrgID.String(),
	}
	if err := s.cache.Put(ctx, session.ID.String(), entry, ttl); err != nil {
		s.logger.Warn("session cache mirror failed, continuing durable-only",
			"session_id", session.ID.String(),
			"error", err)
	}
}

// TokenPair is a freshly rotated access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Refresh rotates a refresh token. The old token becomes unusable the
// instant the new one is minted: the registry swap is a compare-and-swap on
// the old token hash, so a second rotation with the same token loses and is
// treated as a reuse signal.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.issuer.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		observability.RecordRotation("invalid")
		return nil, oops.Code("AUTH_REFRESH_FAILED").Wrap(ErrSessionExpired)
	}

	userID, err := claims.Subject()
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").Wrap(ErrSessionExpired)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_REFRESH_FAILED").Wrap(ErrSessionExpired)
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").With("operation", "get user").Wrap(err)
	}
	if !user.Active {
		observability.RecordRotation("inactive")
		return nil, oops.Code("AUTH_ACCOUNT_INACTIVE").Wrap(ErrAccountInactive)
	}

	newRefresh, _, err := s.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").With("operation", "issue refresh token").Wrap(err)
	}

	expiresAt := time.Now().Add(s.issuer.RefreshTTL())
	session, err := s.sessions.Rotate(ctx, HashToken(refreshToken), HashToken(newRefresh), expiresAt)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// A signed, unexpired refresh token that no longer matches a
			// session row means the token was already rotated: possible
			// credential theft, never silently ignored.
			observability.RecordRotation("reuse")
			s.logger.Warn("refresh token reuse detected",
				"user_id", user.ID.String())
			return nil, oops.Code("AUTH_TOKEN_REUSE").Wrap(ErrSessionExpired)
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").With("operation", "rotate session").Wrap(err)
	}

	accessToken, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").With("operation", "issue access token").Wrap(err)
	}

	s.mirrorSession(ctx, session, user)
	observability.RecordRotation("success")

	return &TokenPair{AccessToken: accessToken, RefreshToken: newRefresh}, nil
}

// Validate verifies an access token and, when a session handle is supplied,
// requires the session to still be live. The cache is the fast path; a cache
// miss falls back to the registry, and a cache or registry outage fails open
// to the token's own signature and expiry. That availability tradeoff is
// deliberate: the cache is advisory and must never turn an infrastructure
// fault into an authentication failure.
func (s *Service) Validate(ctx context.Context, accessToken, sessionHandle string) (*Claims, error) {
	claims, err := s.issuer.Verify(accessToken, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	if sessionHandle == "" {
		return claims, nil
	}

	entry, err := s.cache.Get(ctx, sessionHandle)
	switch {
	case err == nil:
		observability.RecordCacheLookup("hit")
		if entry.UserID != claims.UserID {
			return nil, oops.Code("AUTH_SESSION_MISMATCH").Wrap(ErrSessionMismatch)
		}
		return claims, nil
	case errors.Is(err, ErrNotFound):
		observability.RecordCacheLookup("miss")
	default:
		observability.RecordCacheLookup("error")
		s.logger.Warn("session cache unavailable, falling back to registry",
			"session_handle", sessionHandle,
			"error", err)
	}

	return s.validateDurable(ctx, claims, sessionHandle)
}

// validateDurable consults the session registry after a cache miss. A live
// row re-mirrors the cache; a missing or expired row means the session was
// revoked. If the registry itself is unreachable the token's signature and
// expiry are trusted (fail-open).
func (s *Service) validateDurable(ctx context.Context, claims *Claims, sessionHandle string) (*Claims, error) {
	handle, err := ulid.Parse(sessionHandle)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_EXPIRED").Wrap(ErrSessionExpired)
	}

	session, err := s.sessions.GetByID(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_SESSION_EXPIRED").Wrap(ErrSessionExpired)
		}
		s.logger.Warn("session registry unavailable during validation, trusting token",
			"session_handle", sessionHandle,
			"error", err)
		return claims, nil
	}
	if session.IsExpired() {
		return nil, oops.Code("AUTH_SESSION_EXPIRED").Wrap(ErrSessionExpired)
	}
	if session.UserID.String() != claims.UserID {
		return nil, oops.Code("AUTH_SESSION_MISMATCH").Wrap(ErrSessionMismatch)
	}

	if user, uerr := s.users.GetByID(ctx, session.UserID); uerr == nil {
		s.mirrorSession(ctx, session, user)
	}
	return claims, nil
}

// Logout destroys the session identified by either a handle or a refresh
// token; callers may have only one. Idempotent: logging out a session that
// is already gone succeeds.
func (s *Service) Logout(ctx context.Context, sessionHandle, refreshToken string) error {
	if sessionHandle != "" {
		return s.destroyByHandle(ctx, sessionHandle)
	}
	if refreshToken == "" {
		return nil
	}

	session, err := s.sessions.GetByRefreshTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_LOGOUT_FAILED").With("operation", "get session by refresh token").Wrap(err)
	}
	return s.destroyByHandle(ctx, session.ID.String())
}

// destroyByHandle removes the cache entry then the registry row.
func (s *Service) destroyByHandle(ctx context.Context, sessionHandle string) error {
	if err := s.cache.Delete(ctx, sessionHandle); err != nil {
		s.logger.Warn("session cache delete failed",
			"session_handle", sessionHandle,
			"error", err)
	}

	handle, err := ulid.Parse(sessionHandle)
	if err != nil {
		return nil // unknown handle, nothing to destroy
	}
	if err := s.sessions.Delete(ctx, handle); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			With("session_handle", sessionHandle).
			Wrap(err)
	}
	return nil
}

// LogoutAll destroys every session for a user: each cache entry first, then
// a bulk delete of the registry rows.
func (s *Service) LogoutAll(ctx context.Context, userID ulid.ULID) error {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return oops.Code("AUTH_LOGOUT_ALL_FAILED").With("operation", "list sessions").Wrap(err)
	}
	for _, session := range sessions {
		if err := s.cache.Delete(ctx, session.ID.String()); err != nil {
			s.logger.Warn("session cache delete failed",
				"session_handle", session.ID.String(),
				"error", err)
		}
	}
	if err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("AUTH_LOGOUT_ALL_FAILED").With("operation", "delete sessions").Wrap(err)
	}
	return nil
}

// ListSessions enumerates a user's sessions from the registry. The cache is
// never authoritative for enumeration.
func (s *Service) ListSessions(ctx context.Context, userID ulid.ULID) ([]*Session, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("AUTH_LIST_SESSIONS_FAILED").Wrap(err)
	}
	return sessions, nil
}

// RequestPasswordReset issues a single-use reset token when the email maps
// to a user, overwriting any prior unredeemed token. An unknown email
// returns success with an empty token so callers cannot enumerate accounts;
// the transport layer always reports a generic message either way.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return "", nil // treat garbage the same as an unknown address
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", oops.Code("RESET_REQUEST_FAILED").With("operation", "get user by email").Wrap(err)
	}

	token, hash, err := GenerateOpaqueToken()
	if err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").With("operation", "generate reset token").Wrap(err)
	}

	if err := s.users.SetResetToken(ctx, user.ID, hash, time.Now().Add(s.resetTTL)); err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").With("operation", "store reset token").Wrap(err)
	}

	return token, nil
}

// ResetPassword redeems a reset token: validates it, rehashes the password,
// clears the token and lockout state, then destroys every session the user
// holds so pre-reset refresh tokens stop working.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrResetToken)
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByResetTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrResetToken)
		}
		return oops.Code("RESET_PASSWORD_FAILED").With("operation", "get user by reset token").Wrap(err)
	}
	if ResetTokenExpired(user.ResetTokenExpiresAt) {
		return oops.Code("RESET_TOKEN_EXPIRED").Wrap(ErrResetToken)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	if err := s.users.CompletePasswordReset(ctx, user.ID, hash); err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").With("operation", "update password").Wrap(err)
	}

	if err := s.LogoutAll(ctx, user.ID); err != nil {
		// The password was already changed; session teardown failing is
		// logged but not surfaced, the sweep will reap the rows.
		s.logger.Warn("failed to destroy sessions after password reset",
			"user_id", user.ID.String(),
			"error", err)
	}

	return nil
}

// VerifyEmail consumes a verification token and marks the user verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, oops.Code("VERIFY_TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}
	user, err := s.users.MarkVerified(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("VERIFY_TOKEN_INVALID").Wrap(ErrTokenInvalid)
		}
		return nil, oops.Code("VERIFY_FAILED").Wrap(err)
	}
	return user, nil
}

// SweepExpired deletes expired session rows. Pure housekeeping: validation
// re-checks expiry, so the sweep is not correctness-critical.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	if n > 0 {
		s.logger.Info("swept expired sessions", "deleted", n)
	}
	return n, nil
}
