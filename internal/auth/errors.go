// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Caller-safe authentication failures. These are the only errors the
// transport layer exposes verbatim; everything else collapses into a
// generic service failure so internal detail never leaks.
var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	// The two cases are deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountLocked is returned while the lockout window is active.
	// Intentionally distinguishable so a legitimate user knows to wait.
	ErrAccountLocked = errors.New("account is temporarily locked")

	// ErrAccountInactive is returned for deactivated accounts.
	ErrAccountInactive = errors.New("account is deactivated")
)

// Input validation failures. Reported immediately, no side effects.
var (
	ErrDuplicateEmail = errors.New("email already registered")
	ErrInvalidEmail   = errors.New("invalid email address")
	ErrWeakPassword   = errors.New("password does not meet minimum length")
)

// Token and session failures. The transport reports all of these as a
// uniform "invalid session" class; the subtype stays in internal logs.
var (
	ErrTokenExpired    = errors.New("token has expired")
	ErrTokenInvalid    = errors.New("token is invalid")
	ErrWrongTokenType  = errors.New("token type mismatch")
	ErrSessionExpired  = errors.New("session has expired or been revoked")
	ErrSessionMismatch = errors.New("session does not belong to token subject")
	ErrResetToken      = errors.New("invalid or expired reset token")
)
