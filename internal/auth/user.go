// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinPasswordLength is the minimum accepted plaintext password length.
const MinPasswordLength = 8

// Role is the coarse role carried in tokens. Authorization policy beyond
// carrying the role is out of scope for this subsystem.
type Role string

// Known roles, ordered by increasing privilege.
const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// User is the durable identity record. The credential store owns ground
// truth; all mutation goes through narrow repository operations.
type User struct {
	ID                    ulid.ULID
	Email                 string // stored lowercase, unique
	PasswordHash          string
	FirstName             string
	LastName              string
	Role                  Role
	PermissionLevel       int
	OrgID                 ulid.ULID
	Active                bool
	Verified              bool
	VerificationTokenHash *string
	ResetTokenHash        *string
	ResetTokenExpiresAt   *time.Time
	FailedAttempts        int
	LockedUntil           *time.Time
	LastLoginAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewUser creates a validated, unverified, active User. The email is
// normalized (trimmed, lowercased) and must parse as an address; the
// password hash must already be computed by a PasswordHasher.
func NewUser(email, passwordHash, firstName, lastName string, orgID ulid.ULID) (*User, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if orgID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("USER_INVALID_ORG").Errorf("organization ID cannot be zero")
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Role:         RoleMember,
		OrgID:        orgID,
		Active:       true,
		Verified:     false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLocked returns true if the user is currently locked out.
func (u *User) IsLocked() bool {
	return IsLockedOut(u.LockedUntil)
}

// NormalizeEmail lowercases and validates an email address. Comparison is
// always case-insensitive; storing lowercase keeps the unique index honest.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", oops.Code("AUTH_INVALID_EMAIL").Wrap(ErrInvalidEmail)
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", oops.Code("AUTH_INVALID_EMAIL").With("email", trimmed).Wrap(ErrInvalidEmail)
	}
	return strings.ToLower(trimmed), nil
}

// ValidatePassword checks the plaintext password against the minimum policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min", MinPasswordLength).
			Wrap(ErrWeakPassword)
	}
	return nil
}

// UserRepository manages user persistence. Mutation happens through narrow
// operations; there is no generic update.
type UserRepository interface {
	// Create stores a new user. A colliding email yields ErrDuplicateEmail.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// RecordFailedAttempt atomically increments the failure counter and,
	// when the new count crosses the policy threshold and no future lock
	// exists, sets locked_until. Returns the new count and lock time.
	RecordFailedAttempt(ctx context.Context, id ulid.ULID, policy LockoutPolicy) (int, *time.Time, error)

	// RecordSuccessfulLogin resets the failure counter, clears any lock
	// and stamps last_login_at.
	RecordSuccessfulLogin(ctx context.Context, id ulid.ULID) error

	// SetResetToken stores a reset token hash and expiry, overwriting any
	// prior unredeemed token for the user.
	SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error

	// GetByResetTokenHash retrieves the user holding the given live reset
	// token hash.
	GetByResetTokenHash(ctx context.Context, tokenHash string) (*User, error)

	// CompletePasswordReset replaces the password hash, clears the reset
	// token columns and resets lockout state in one statement.
	CompletePasswordReset(ctx context.Context, id ulid.ULID, passwordHash string) error

	// MarkVerified consumes a verification token hash and flips the
	// verified flag. Returns ErrNotFound for an unknown token.
	MarkVerified(ctx context.Context, verificationTokenHash string) (*User, error)
}
