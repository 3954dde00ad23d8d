// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth

import "time"

// Lockout defaults. Both are tunable through configuration; the values here
// match the reference deployment.
const (
	// DefaultLockoutThreshold is the failure count that triggers a lockout.
	DefaultLockoutThreshold = 5

	// DefaultLockoutDuration is how long an account stays locked.
	DefaultLockoutDuration = 30 * time.Minute
)

// LockoutPolicy captures the fixed-threshold lockout tunables. The policy is
// loaded once at startup and treated as immutable for the process lifetime.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the reference policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: DefaultLockoutThreshold,
		Duration:  DefaultLockoutDuration,
	}
}

// IsLockedOut returns true if the lockout time is in the future.
//
// The lockout is a ratchet: it is set when the counter crosses the threshold
// and is never shortened by further failed attempts. Only a successful login
// or a completed password reset clears it.
func IsLockedOut(lockedUntil *time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(time.Now())
}

// ComputeLockoutTime returns the lockout timestamp for the given failure
// count under the policy, or nil when the threshold has not been reached.
// Used by in-memory implementations; the Postgres store evaluates the same
// transition inside a single UPDATE so concurrent failures cannot race.
func ComputeLockoutTime(failures int, policy LockoutPolicy) *time.Time {
	if failures < policy.Threshold {
		return nil
	}
	t := time.Now().Add(policy.Duration)
	return &t
}
