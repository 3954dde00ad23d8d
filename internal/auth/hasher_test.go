// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyloom/keyloom/internal/auth"
)

func TestArgon2idHasher_HashAndVerify(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	ok, err := hasher.Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2idHasher_EmptyPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	_, err := hasher.Hash("")
	require.ErrorIs(t, err, auth.ErrEmptyPassword)
}

func TestArgon2idHasher_UniqueSalts(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	h1, err := hasher.Hash("samepassword")
	require.NoError(t, err)
	h2, err := hasher.Hash("samepassword")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "two hashes of the same password must use different salts")
}

func TestArgon2idHasher_InvalidHashFormat(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"garbage", "not-a-hash"},
		{"wrong algorithm", "$scrypt$v=19$m=65536,t=1,p=4$c2FsdA$a2V5"},
		{"truncated", "$argon2id$v=19$m=65536"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=1,p=4$!!!$a2V5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hasher.Verify("password", tt.hash)
			require.Error(t, err)
		})
	}
}

func TestArgon2idHasher_BcryptFallback(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := hasher.Verify("legacy-password", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("wrong", string(legacy))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2idHasher_NeedsUpgrade(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	legacy, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, hasher.NeedsUpgrade(string(legacy)))

	modern, err := hasher.Hash("pw123456")
	require.NoError(t, err)
	assert.False(t, hasher.NeedsUpgrade(modern))
}
