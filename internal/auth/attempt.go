// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// AttemptReason is the enumerated internal failure reason recorded in the
// login audit trail. The caller-visible error deliberately carries less
// detail than this.
type AttemptReason string

// Attempt reasons.
const (
	AttemptReasonOK            AttemptReason = "ok"
	AttemptReasonUnknownEmail  AttemptReason = "unknown_email"
	AttemptReasonWrongPassword AttemptReason = "wrong_password"
	AttemptReasonLocked        AttemptReason = "locked"
	AttemptReasonInactive      AttemptReason = "inactive"
)

// LoginAttempt is an append-only audit entry. Write-once; never mutated or
// deleted by this subsystem.
type LoginAttempt struct {
	ID        ulid.ULID
	UserID    *ulid.ULID // nil when the email matched no user
	Email     string
	IPAddress string
	UserAgent string
	Success   bool
	Reason    AttemptReason
	CreatedAt time.Time
}

// NewLoginAttempt creates an audit entry. userID may be nil.
func NewLoginAttempt(userID *ulid.ULID, email, ip, userAgent string, success bool, reason AttemptReason) *LoginAttempt {
	return &LoginAttempt{
		ID:        ulid.Make(),
		UserID:    userID,
		Email:     email,
		IPAddress: ip,
		UserAgent: userAgent,
		Success:   success,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}

// AttemptRecorder persists login audit entries. Writes are best effort: a
// failure to record history must never fail the login or registration call,
// so the service logs and discards recorder errors.
type AttemptRecorder interface {
	RecordLoginAttempt(ctx context.Context, attempt *LoginAttempt) error
}
