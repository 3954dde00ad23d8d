// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyloom/keyloom/internal/auth"
)

func TestIsLockedOut(t *testing.T) {
	assert.False(t, auth.IsLockedOut(nil))

	past := time.Now().Add(-time.Second)
	assert.False(t, auth.IsLockedOut(&past))

	future := time.Now().Add(time.Minute)
	assert.True(t, auth.IsLockedOut(&future))
}

func TestComputeLockoutTime(t *testing.T) {
	policy := auth.LockoutPolicy{Threshold: 5, Duration: 30 * time.Minute}

	assert.Nil(t, auth.ComputeLockoutTime(0, policy))
	assert.Nil(t, auth.ComputeLockoutTime(4, policy))

	at5 := auth.ComputeLockoutTime(5, policy)
	require.NotNil(t, at5)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *at5, 5*time.Second)

	// Past the threshold the lock keeps being computed; the ratchet that
	// prevents shortening lives in the store layer.
	at9 := auth.ComputeLockoutTime(9, policy)
	require.NotNil(t, at9)
}

func TestDefaultLockoutPolicy(t *testing.T) {
	policy := auth.DefaultLockoutPolicy()
	assert.Equal(t, auth.DefaultLockoutThreshold, policy.Threshold)
	assert.Equal(t, auth.DefaultLockoutDuration, policy.Duration)
}
