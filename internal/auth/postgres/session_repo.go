// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyloom/keyloom/internal/auth"
)

const sessionColumns = `id, user_id, refresh_token_hash, device_fingerprint,
	       ip_address, user_agent, expires_at, created_at, last_seen_at`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool poolIface
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool poolIface) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, user_id, refresh_token_hash, device_fingerprint,
			ip_address, user_agent, expires_at, created_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		session.ID.String(),
		session.UserID.String(),
		session.RefreshTokenHash,
		session.DeviceFingerprint,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
		session.CreatedAt,
		session.LastSeenAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a session by its handle.
func (r *SessionRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
	`, id.String())

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_ID_FAILED").
			With("operation", "get session by id").
			With("id", id.String()).
			Wrap(err)
	}
	return session, nil
}

// GetByRefreshTokenHash retrieves a session by its current refresh token hash.
func (r *SessionRepository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE refresh_token_hash = $1
	`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by refresh token hash").
			Wrap(err)
	}
	return session, nil
}

// Rotate swaps the refresh token hash on the row still carrying oldHash,
// provided the session is unexpired. The WHERE clause is the linearization
// point: of two concurrent rotations presenting the same stale hash, exactly
// one matches a row, the other gets ErrNotFound.
func (r *SessionRepository) Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions SET
			refresh_token_hash = $2,
			expires_at = $3,
			last_seen_at = now()
		WHERE refresh_token_hash = $1 AND expires_at > now()
		RETURNING `+sessionColumns+`
	`, oldHash, newHash, expiresAt)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_ROTATE_STALE").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "rotate refresh token").
			Wrap(err)
	}
	return session, nil
}

// ListByUser retrieves all sessions for a user, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID.String())
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list sessions by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").
				With("operation", "scan session row").
				Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").
			With("operation", "iterate session rows").
			Wrap(err)
	}
	return sessions, nil
}

// Delete removes a session by handle.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM sessions WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes all sessions for a user.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM sessions WHERE user_id = $1
	`, userID.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete sessions by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	// No ErrNotFound when nothing was deleted - that's a valid state.
	return nil
}

// DeleteExpired removes all expired sessions and returns the count.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM sessions WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a single row into a Session.
// Callers are responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr       string
		userIDStr   string
		tokenHash   string
		fingerprint string
		ipAddress   string
		userAgent   string
		expiresAt   time.Time
		createdAt   time.Time
		lastSeenAt  time.Time
	)

	err := row.Scan(&idStr, &userIDStr, &tokenHash, &fingerprint, &ipAddress, &userAgent, &expiresAt, &createdAt, &lastSeenAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").
			With("operation", "scan session").
			Wrap(err)
	}

	return buildSession(idStr, userIDStr, tokenHash, fingerprint, ipAddress, userAgent, expiresAt, createdAt, lastSeenAt)
}

// scanSessionRow scans a row from a rows iterator into a Session.
func scanSessionRow(rows pgx.Rows) (*auth.Session, error) {
	var (
		idStr       string
		userIDStr   string
		tokenHash   string
		fingerprint string
		ipAddress   string
		userAgent   string
		expiresAt   time.Time
		createdAt   time.Time
		lastSeenAt  time.Time
	)

	err := rows.Scan(&idStr, &userIDStr, &tokenHash, &fingerprint, &ipAddress, &userAgent, &expiresAt, &createdAt, &lastSeenAt)
	if err != nil {
		return nil, oops.Code("SESSION_SCAN_FAILED").
			With("operation", "scan session row").
			Wrap(err)
	}

	return buildSession(idStr, userIDStr, tokenHash, fingerprint, ipAddress, userAgent, expiresAt, createdAt, lastSeenAt)
}

// buildSession constructs a Session from scanned values.
func buildSession(
	idStr, userIDStr, tokenHash, fingerprint, ipAddress, userAgent string,
	expiresAt, createdAt, lastSeenAt time.Time,
) (*auth.Session, error) {
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").
			With("user_id", userIDStr).
			Wrap(err)
	}

	return &auth.Session{
		ID:                id,
		UserID:            userID,
		RefreshTokenHash:  tokenHash,
		DeviceFingerprint: fingerprint,
		IPAddress:         ipAddress,
		UserAgent:         userAgent,
		ExpiresAt:         expiresAt,
		CreatedAt:         createdAt,
		LastSeenAt:        lastSeenAt,
	}, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
