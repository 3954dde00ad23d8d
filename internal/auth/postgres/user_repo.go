// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

// Package postgres implements the auth repositories using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyloom/keyloom/internal/auth"
)

// poolIface is the subset of pgxpool.Pool the repositories use. It lets
// tests substitute a pgxmock pool.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, email, password_hash, first_name, last_name, role,
	       permission_level, org_id, active, verified,
	       verification_token_hash, reset_token_hash, reset_token_expires_at,
	       failed_attempts, locked_until, last_login_at, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user. A unique violation on the email index maps to
// auth.ErrDuplicateEmail.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, password_hash, first_name, last_name, role,
			permission_level, org_id, active, verified,
			verification_token_hash, failed_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		string(user.Role),
		user.PermissionLevel,
		user.OrgID.String(),
		user.Active,
		user.Verified,
		user.VerificationTokenHash,
		user.FailedAttempts,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("USER_DUPLICATE_EMAIL").
				With("email", user.Email).
				Wrap(auth.ErrDuplicateEmail)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by normalized email. Emails are stored
// lowercase, so lookup folds the argument the same way.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = LOWER($1)
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// RecordFailedAttempt increments the failure counter and evaluates the
// lockout transition inside a single UPDATE, so concurrent failures cannot
// lose increments or shorten an existing lock.
func (r *UserRepository) RecordFailedAttempt(ctx context.Context, id ulid.ULID, policy auth.LockoutPolicy) (int, *time.Time, error) {
	var (
		attempts    int
		lockedUntil *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE
				WHEN failed_attempts + 1 >= $2
				     AND (locked_until IS NULL OR locked_until <= now())
				THEN now() + make_interval(secs => $3)
				ELSE locked_until
			END,
			updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`, id.String(), policy.Threshold, policy.Duration.Seconds()).Scan(&attempts, &lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, nil, oops.Code("USER_RECORD_FAILURE_FAILED").
			With("operation", "increment failed attempts").
			With("id", id.String()).
			Wrap(err)
	}
	return attempts, lockedUntil, nil
}

// RecordSuccessfulLogin resets the failure counter, clears any lock and
// stamps last_login_at.
func (r *UserRepository) RecordSuccessfulLogin(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			failed_attempts = 0,
			locked_until = NULL,
			last_login_at = now(),
			updated_at = now()
		WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("USER_RECORD_SUCCESS_FAILED").
			With("operation", "record successful login").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetResetToken stores a reset token hash and expiry, overwriting any prior
// unredeemed token so at most one lives per user.
func (r *UserRepository) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			reset_token_hash = $2,
			reset_token_expires_at = $3,
			updated_at = now()
		WHERE id = $1
	`, id.String(), tokenHash, expiresAt)
	if err != nil {
		return oops.Code("USER_SET_RESET_TOKEN_FAILED").
			With("operation", "set reset token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// GetByResetTokenHash retrieves the user holding a live reset token hash.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE reset_token_hash = $1
	`, tokenHash)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_RESET_TOKEN_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	}
	return user, nil
}

// CompletePasswordReset replaces the password hash and clears the reset
// token and lockout columns in one statement.
func (r *UserRepository) CompletePasswordReset(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			password_hash = $2,
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			failed_attempts = 0,
			locked_until = NULL,
			updated_at = now()
		WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("USER_RESET_PASSWORD_FAILED").
			With("operation", "complete password reset").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// MarkVerified consumes a verification token and flips the verified flag.
func (r *UserRepository) MarkVerified(ctx context.Context, verificationTokenHash string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users SET
			verified = TRUE,
			verification_token_hash = NULL,
			updated_at = now()
		WHERE verification_token_hash = $1
		RETURNING `+userColumns+`
	`, verificationTokenHash)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_MARK_VERIFIED_FAILED").
			With("operation", "mark user verified").
			Wrap(err)
	}
	return user, nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr                 string
		email                 string
		passwordHash          string
		firstName             string
		lastName              string
		role                  string
		permissionLevel       int
		orgIDStr              string
		active                bool
		verified              bool
		verificationTokenHash *string
		resetTokenHash        *string
		resetTokenExpiresAt   *time.Time
		failedAttempts        int
		lockedUntil           *time.Time
		lastLoginAt           *time.Time
		createdAt             time.Time
		updatedAt             time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&passwordHash,
		&firstName,
		&lastName,
		&role,
		&permissionLevel,
		&orgIDStr,
		&active,
		&verified,
		&verificationTokenHash,
		&resetTokenHash,
		&resetTokenExpiresAt,
		&failedAttempts,
		&lockedUntil,
		&lastLoginAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	orgID, err := ulid.Parse(orgIDStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ORG_ID").
			With("org_id", orgIDStr).
			Wrap(err)
	}

	return &auth.User{
		ID:                    id,
		Email:                 email,
		PasswordHash:          passwordHash,
		FirstName:             firstName,
		LastName:              lastName,
		Role:                  auth.Role(role),
		PermissionLevel:       permissionLevel,
		OrgID:                 orgID,
		Active:                active,
		Verified:              verified,
		VerificationTokenHash: verificationTokenHash,
		ResetTokenHash:        resetTokenHash,
		ResetTokenExpiresAt:   resetTokenExpiresAt,
		FailedAttempts:        failedAttempts,
		LockedUntil:           lockedUntil,
		LastLoginAt:           lastLoginAt,
		CreatedAt:             createdAt,
		UpdatedAt:             updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
