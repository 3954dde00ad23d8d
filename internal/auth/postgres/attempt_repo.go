// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/keyloom/keyloom/internal/auth"
)

// AttemptRepository implements auth.AttemptRecorder using PostgreSQL.
// The login_attempts table is append-only; nothing in this subsystem ever
// updates or deletes a row.
type AttemptRepository struct {
	pool poolIface
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool poolIface) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// RecordLoginAttempt appends an audit entry.
func (r *AttemptRepository) RecordLoginAttempt(ctx context.Context, attempt *auth.LoginAttempt) error {
	var userID *string
	if attempt.UserID != nil {
		s := attempt.UserID.String()
		userID = &s
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO login_attempts (
			id, user_id, email, ip_address, user_agent, success, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		attempt.ID.String(),
		userID,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Success,
		string(attempt.Reason),
		attempt.CreatedAt,
	)
	if err != nil {
		return oops.Code("ATTEMPT_RECORD_FAILED").
			With("operation", "insert login attempt").
			Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ auth.AttemptRecorder = (*AttemptRepository)(nil)
