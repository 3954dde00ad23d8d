// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth

import "time"

// DefaultResetTokenTTL is the lifetime of a password reset token.
const DefaultResetTokenTTL = time.Hour

// ResetTokenExpired reports whether a reset token expiry has passed.
// A nil expiry means no live token exists.
func ResetTokenExpired(expiresAt *time.Time) bool {
	return expiresAt == nil || time.Now().After(*expiresAt)
}
