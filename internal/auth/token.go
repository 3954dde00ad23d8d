// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token lifetime defaults. Both are tunable through configuration.
const (
	DefaultAccessTokenTTL  = 24 * time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenType is the type discriminant carried in every token payload. A token
// presented where the other type is required fails with ErrWrongTokenType.
type TokenType string

// Token types.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the signed token payload. Refresh tokens additionally carry a
// per-issuance identifier in the registered ID claim, used to make every
// rotation produce a distinct token value.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	OrgID     string    `json:"org_id,omitempty"`
	TokenType TokenType `json:"token_type"`
}

// TokenIssuer mints and verifies access/refresh tokens. It is stateless with
// respect to persistence: it signs and validates, it does not store.
//
// Signing always uses the first key; verification tries every configured key
// in order. This is the explicit multi-key rotation policy: a retired secret
// is accepted only while it remains in the list.
type TokenIssuer struct {
	keys       [][]byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates a TokenIssuer from an ordered list of signing
// secrets. At least one non-empty secret is required.
func NewTokenIssuer(secrets []string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if len(secrets) == 0 {
		return nil, oops.Code("TOKEN_NO_SECRET").Errorf("at least one signing secret is required")
	}
	keys := make([][]byte, 0, len(secrets))
	for _, s := range secrets {
		if s == "" {
			return nil, oops.Code("TOKEN_NO_SECRET").Errorf("signing secret cannot be empty")
		}
		keys = append(keys, []byte(s))
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	return &TokenIssuer{keys: keys, accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccessToken mints a signed access token bound to the user identity.
func (i *TokenIssuer) IssueAccessToken(user *User) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:    user.ID.String(),
		Email:     user.Email,
		Role:      string(user.Role),
		OrgID:     user.OrgID.String(),
		TokenType: TokenTypeAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.keys[0])
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("token_type", TokenTypeAccess).Wrap(err)
	}
	return signed, nil
}

// IssueRefreshToken mints a signed refresh token carrying a fresh
// per-issuance identifier. Returns the token and its identifier.
func (i *TokenIssuer) IssueRefreshToken(userID ulid.ULID) (string, string, error) {
	now := time.Now()
	jti := uuid.NewString()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:    userID.String(),
		TokenType: TokenTypeRefresh,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.keys[0])
	if err != nil {
		return "", "", oops.Code("TOKEN_SIGN_FAILED").With("token_type", TokenTypeRefresh).Wrap(err)
	}
	return signed, jti, nil
}

// Verify parses and validates a token, requiring the given type. Failures
// map to ErrTokenExpired, ErrTokenInvalid or ErrWrongTokenType.
func (i *TokenIssuer) Verify(tokenString string, want TokenType) (*Claims, error) {
	var lastErr error
	for _, key := range i.keys {
		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, oops.Code("TOKEN_BAD_ALG").Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil {
			// Expiry means the signature checked out under this key; no
			// point trying the remaining keys.
			if errors.Is(err, jwt.ErrTokenExpired) {
				return nil, oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
			}
			lastErr = err
			continue
		}
		if !token.Valid {
			lastErr = oops.Errorf("token not valid")
			continue
		}
		if claims.TokenType != want {
			return nil, oops.Code("TOKEN_WRONG_TYPE").
				With("want", want).
				With("got", claims.TokenType).
				Wrap(ErrWrongTokenType)
		}
		return claims, nil
	}
	return nil, oops.Code("TOKEN_INVALID").With("cause", lastErr).Wrap(ErrTokenInvalid)
}

// Subject parses the UserID claim into a ULID.
func (c *Claims) Subject() (ulid.ULID, error) {
	id, err := ulid.Parse(c.UserID)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_BAD_SUBJECT").With("user_id", c.UserID).Wrap(ErrTokenInvalid)
	}
	return id, nil
}
