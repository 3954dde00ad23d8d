// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// OpaqueTokenBytes is the entropy of verification and reset tokens.
const OpaqueTokenBytes = 32 // 32 bytes = 64 hex chars

// Session is one authenticated login instance. Its ID doubles as the opaque
// session handle handed to clients and used as the fast cache key.
//
// The durable row is the source of truth. The refresh token is stored only
// as a SHA-256 hash; rotation overwrites the hash in place through a
// compare-and-swap on the old value, so a stale token can never win a race.
type Session struct {
	ID                ulid.ULID
	UserID            ulid.ULID
	RefreshTokenHash  string
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	ExpiresAt         time.Time
	CreatedAt         time.Time
	LastSeenAt        time.Time
}

// NewSession creates a validated Session. Device metadata is optional.
func NewSession(userID ulid.ULID, refreshTokenHash, fingerprint, ip, userAgent string, expiresAt time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if refreshTokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("refresh token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	now := time.Now()
	return &Session{
		ID:                ulid.Make(),
		UserID:            userID,
		RefreshTokenHash:  refreshTokenHash,
		DeviceFingerprint: fingerprint,
		IPAddress:         ip,
		UserAgent:         userAgent,
		ExpiresAt:         expiresAt,
		CreatedAt:         now,
		LastSeenAt:        now,
	}, nil
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsExpiredAt returns true if the session would be expired at the given time.
// Useful for testing with deterministic time values.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// HashToken computes the hex-encoded SHA-256 hash of a token. Refresh,
// verification and reset tokens are stored only in this form.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// GenerateOpaqueToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error). The plaintext is handed out
// once; only the hash is persisted.
func GenerateOpaqueToken() (token, hash string, err error) {
	buf := make([]byte, OpaqueTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", OpaqueTokenBytes).
			Wrap(err)
	}
	token = hex.EncodeToString(buf)
	return token, HashToken(token), nil
}

// VerifyOpaqueToken checks a plaintext token against a stored hash using a
// constant-time comparison.
func VerifyOpaqueToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// CacheEntry is the compact session record mirrored into the fast cache
// under the session handle. It is denormalized and disposable: losing it
// never invalidates a still-valid registry row.
type CacheEntry struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	OrgID  string `json:"org_id"`
}

// SessionRepository manages durable session persistence. No other component
// touches the session table.
type SessionRepository interface {
	// Create stores a new session row.
	Create(ctx context.Context, session *Session) error

	// GetByID retrieves a session by its handle.
	GetByID(ctx context.Context, id ulid.ULID) (*Session, error)

	// GetByRefreshTokenHash retrieves a session by its current refresh
	// token hash.
	GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Rotate atomically swaps oldHash for newHash on the owning row,
	// provided the row is unexpired and still carries oldHash. Returns
	// ErrNotFound when the old hash is stale; exactly one of two
	// concurrent rotations presenting the same hash can succeed.
	Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (*Session, error)

	// ListByUser retrieves all sessions for a user, newest first.
	ListByUser(ctx context.Context, userID ulid.ULID) ([]*Session, error)

	// Delete removes a session by handle.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByUser removes all sessions for a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes all expired sessions and returns the count of
	// deleted rows.
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionCache is the fast, advisory mirror of the session registry, keyed
// by session handle. Implementations bound every call with their own
// timeout; any error other than ErrNotFound means "cache unavailable" and
// callers fail open to the durable path.
type SessionCache interface {
	// Put mirrors an entry under the handle with the given TTL.
	Put(ctx context.Context, handle string, entry CacheEntry, ttl time.Duration) error

	// Get retrieves the entry for a handle. A missing key yields
	// ErrNotFound.
	Get(ctx context.Context, handle string) (*CacheEntry, error)

	// Delete removes the entry for a handle. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, handle string) error
}
