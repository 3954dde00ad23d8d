// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyloom/keyloom/internal/auth"
)

func testUser(t *testing.T) *auth.User {
	t.Helper()
	return &auth.User{
		ID:     ulid.Make(),
		Email:  "alice@example.com",
		Role:   auth.RoleMember,
		OrgID:  ulid.Make(),
		Active: true,
	}
}

func TestNewTokenIssuer_Validation(t *testing.T) {
	_, err := auth.NewTokenIssuer(nil, 0, 0)
	require.Error(t, err)

	_, err = auth.NewTokenIssuer([]string{""}, 0, 0)
	require.Error(t, err)

	issuer, err := auth.NewTokenIssuer([]string{"secret"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultAccessTokenTTL, issuer.AccessTTL())
	assert.Equal(t, auth.DefaultRefreshTokenTTL, issuer.RefreshTTL())
}

func TestTokenIssuer_AccessTokenRoundTrip(t *testing.T) {
	issuer, err := auth.NewTokenIssuer([]string{"test-secret"}, time.Minute, time.Hour)
	require.NoError(t, err)
	user := testUser(t)

	token, err := issuer.IssueAccessToken(user)
	require.NoError(t, err)

	claims, err := issuer.Verify(token, auth.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, string(user.Role), claims.Role)
	assert.Equal(t, user.OrgID.String(), claims.OrgID)
	assert.Equal(t, auth.TokenTypeAccess, claims.TokenType)

	subject, err := claims.Subject()
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)
}

func TestTokenIssuer_RefreshTokensAreDistinct(t *testing.T) {
	issuer, err := auth.NewTokenIssuer([]string{"test-secret"}, time.Minute, time.Hour)
	require.NoError(t, err)
	userID := ulid.Make()

	t1, jti1, err := issuer.IssueRefreshToken(userID)
	require.NoError(t, err)
	t2, jti2, err := issuer.IssueRefreshToken(userID)
	require.NoError(t, err)

	assert.NotEqual(t, t1, t2, "every rotation must produce a distinct token value")
	assert.NotEqual(t, jti1, jti2)
}

func TestTokenIssuer_WrongType(t *testing.T) {
	issuer, err := auth.NewTokenIssuer([]string{"test-secret"}, time.Minute, time.Hour)
	require.NoError(t, err)

	refresh, _, err := issuer.IssueRefreshToken(ulid.Make())
	require.NoError(t, err)

	_, err = issuer.Verify(refresh, auth.TokenTypeAccess)
	require.ErrorIs(t, err, auth.ErrWrongTokenType)

	access, err := issuer.IssueAccessToken(testUser(t))
	require.NoError(t, err)

	_, err = issuer.Verify(access, auth.TokenTypeRefresh)
	require.ErrorIs(t, err, auth.ErrWrongTokenType)
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer, err := auth.NewTokenIssuer([]string{"test-secret"}, -time.Minute, -time.Minute)
	require.NoError(t, err)

	token, err := issuer.IssueAccessToken(testUser(t))
	require.NoError(t, err)

	_, err = issuer.Verify(token, auth.TokenTypeAccess)
	require.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenIssuer_BadSignature(t *testing.T) {
	signer, err := auth.NewTokenIssuer([]string{"secret-a"}, time.Minute, time.Hour)
	require.NoError(t, err)
	verifier, err := auth.NewTokenIssuer([]string{"secret-b"}, time.Minute, time.Hour)
	require.NoError(t, err)

	token, err := signer.IssueAccessToken(testUser(t))
	require.NoError(t, err)

	_, err = verifier.Verify(token, auth.TokenTypeAccess)
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenIssuer_Garbage(t *testing.T) {
	issuer, err := auth.NewTokenIssuer([]string{"test-secret"}, time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = issuer.Verify("not.a.token", auth.TokenTypeAccess)
	require.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = issuer.Verify("", auth.TokenTypeAccess)
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestTokenIssuer_KeyRotation(t *testing.T) {
	oldIssuer, err := auth.NewTokenIssuer([]string{"old-secret"}, time.Minute, time.Hour)
	require.NoError(t, err)

	// Tokens signed by the retired key verify as long as the key stays in
	// the list; removing it invalidates them.
	rotated, err := auth.NewTokenIssuer([]string{"new-secret", "old-secret"}, time.Minute, time.Hour)
	require.NoError(t, err)

	oldToken, err := oldIssuer.IssueAccessToken(testUser(t))
	require.NoError(t, err)

	_, err = rotated.Verify(oldToken, auth.TokenTypeAccess)
	require.NoError(t, err)

	retired, err := auth.NewTokenIssuer([]string{"new-secret"}, time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = retired.Verify(oldToken, auth.TokenTypeAccess)
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
}
