// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keyloom/keyloom/internal/auth"
)

// mockService is a testify mock for the Service interface.
type mockService struct {
	mock.Mock
}

func newMockService(t *testing.T) *mockService {
	t.Helper()
	m := &mockService{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockService) Register(ctx context.Context, input auth.RegisterInput) (*auth.RegisterResult, error) {
	args := m.Called(ctx, input)
	result, _ := args.Get(0).(*auth.RegisterResult)
	return result, args.Error(1)
}

func (m *mockService) Login(ctx context.Context, input auth.LoginInput) (*auth.LoginResult, error) {
	args := m.Called(ctx, input)
	result, _ := args.Get(0).(*auth.LoginResult)
	return result, args.Error(1)
}

func (m *mockService) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	args := m.Called(ctx, refreshToken)
	pair, _ := args.Get(0).(*auth.TokenPair)
	return pair, args.Error(1)
}

func (m *mockService) Validate(ctx context.Context, accessToken, sessionHandle string) (*auth.Claims, error) {
	args := m.Called(ctx, accessToken, sessionHandle)
	claims, _ := args.Get(0).(*auth.Claims)
	return claims, args.Error(1)
}

func (m *mockService) Logout(ctx context.Context, sessionHandle, refreshToken string) error {
	args := m.Called(ctx, sessionHandle, refreshToken)
	return args.Error(0)
}

func (m *mockService) LogoutAll(ctx context.Context, userID ulid.ULID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockService) ListSessions(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	args := m.Called(ctx, userID)
	sessions, _ := args.Get(0).([]*auth.Session)
	return sessions, args.Error(1)
}

func (m *mockService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *mockService) ResetPassword(ctx context.Context, token, newPassword string) error {
	args := m.Called(ctx, token, newPassword)
	return args.Error(0)
}

func (m *mockService) VerifyEmail(ctx context.Context, token string) (*auth.User, error) {
	args := m.Called(ctx, token)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

var _ Service = (*mockService)(nil)

func newTestApp(t *testing.T) (*fiber.App, *mockService) {
	t.Helper()
	svc := newMockService(t)
	app := NewApp(NewHandler(svc, nil))
	return app, svc
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, into))
}

func TestHandler_Register(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		app, svc := newTestApp(t)
		orgID := ulid.Make()
		user := &auth.User{ID: ulid.Make(), Email: "new@example.com", OrgID: orgID}

		svc.On("Register", mock.Anything, mock.MatchedBy(func(in auth.RegisterInput) bool {
			return in.Email == "new@example.com" && in.OrgID == orgID
		})).Return(&auth.RegisterResult{
			User:                 user,
			VerificationToken:    "verify-token",
			VerificationRequired: true,
		}, nil)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/register", fiber.Map{
			"email":    "new@example.com",
			"password": "password123",
			"org_id":   orgID.String(),
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var body registerResponse
		decodeBody(t, resp, &body)
		assert.Equal(t, user.ID.String(), body.ID)
		assert.True(t, body.VerificationRequired)
		assert.Equal(t, "verify-token", body.VerificationToken)
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		app, svc := newTestApp(t)
		orgID := ulid.Make()

		svc.On("Register", mock.Anything, mock.AnythingOfType("auth.RegisterInput")).
			Return(nil, auth.ErrDuplicateEmail)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/register", fiber.Map{
			"email":    "taken@example.com",
			"password": "password123",
			"org_id":   orgID.String(),
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("bad org id", func(t *testing.T) {
		app, _ := newTestApp(t)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/register", fiber.Map{
			"email":    "x@example.com",
			"password": "password123",
			"org_id":   "not-a-ulid",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandler_Login(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		app, svc := newTestApp(t)
		user := &auth.User{ID: ulid.Make(), Email: "a@example.com", Role: auth.RoleMember}

		svc.On("Login", mock.Anything, mock.MatchedBy(func(in auth.LoginInput) bool {
			return in.Email == "a@example.com" && in.Password == "password123"
		})).Return(&auth.LoginResult{
			User:          user,
			AccessToken:   "access",
			RefreshToken:  "refresh",
			SessionHandle: "handle",
		}, nil)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/login", fiber.Map{
			"email":    "a@example.com",
			"password": "password123",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body loginResponse
		decodeBody(t, resp, &body)
		assert.Equal(t, "access", body.AccessToken)
		assert.Equal(t, "refresh", body.RefreshToken)
		assert.Equal(t, "handle", body.SessionHandle)
	})

	t.Run("bad credentials", func(t *testing.T) {
		app, svc := newTestApp(t)

		svc.On("Login", mock.Anything, mock.AnythingOfType("auth.LoginInput")).
			Return(nil, auth.ErrInvalidCredentials)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/login", fiber.Map{
			"email":    "a@example.com",
			"password": "wrong",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("locked account", func(t *testing.T) {
		app, svc := newTestApp(t)

		svc.On("Login", mock.Anything, mock.AnythingOfType("auth.LoginInput")).
			Return(nil, auth.ErrAccountLocked)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/login", fiber.Map{
			"email":    "a@example.com",
			"password": "password123",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusLocked, resp.StatusCode)
	})

	t.Run("infrastructure failure is not unauthorized", func(t *testing.T) {
		app, svc := newTestApp(t)

		svc.On("Login", mock.Anything, mock.AnythingOfType("auth.LoginInput")).
			Return(nil, errors.New("database down"))

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/login", fiber.Map{
			"email":    "a@example.com",
			"password": "password123",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestHandler_Refresh(t *testing.T) {
	t.Run("rotated", func(t *testing.T) {
		app, svc := newTestApp(t)

		svc.On("Refresh", mock.Anything, "old-refresh").
			Return(&auth.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/refresh", fiber.Map{
			"refresh_token": "old-refresh",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body refreshResponse
		decodeBody(t, resp, &body)
		assert.Equal(t, "new-refresh", body.RefreshToken)
	})

	t.Run("reused token is unauthorized", func(t *testing.T) {
		app, svc := newTestApp(t)

		svc.On("Refresh", mock.Anything, "stolen").Return(nil, auth.ErrSessionExpired)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/refresh", fiber.Map{
			"refresh_token": "stolen",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing token", func(t *testing.T) {
		app, _ := newTestApp(t)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/refresh", fiber.Map{}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandler_Validate(t *testing.T) {
	app, svc := newTestApp(t)
	userID := ulid.Make()

	svc.On("Validate", mock.Anything, "token", "handle").
		Return(&auth.Claims{UserID: userID.String(), Email: "a@example.com", Role: "member"}, nil)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/validate", fiber.Map{
		"access_token":   "token",
		"session_handle": "handle",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body validateResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, userID.String(), body.UserID)
}

func TestHandler_Logout(t *testing.T) {
	t.Run("no content even when already gone", func(t *testing.T) {
		app, svc := newTestApp(t)

		svc.On("Logout", mock.Anything, "handle", "").Return(nil)

		resp, err := app.Test(jsonRequest(t, http.MethodDelete, "/api/v1/session", fiber.Map{
			"session_handle": "handle",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("requires an identifier", func(t *testing.T) {
		app, _ := newTestApp(t)

		resp, err := app.Test(jsonRequest(t, http.MethodDelete, "/api/v1/session", fiber.Map{}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandler_LogoutAll(t *testing.T) {
	t.Run("destroys all sessions of the bearer", func(t *testing.T) {
		app, svc := newTestApp(t)
		userID := ulid.Make()

		svc.On("Validate", mock.Anything, "bearer-token", "").
			Return(&auth.Claims{UserID: userID.String()}, nil)
		svc.On("LogoutAll", mock.Anything, userID).Return(nil)

		req := jsonRequest(t, http.MethodDelete, "/api/v1/sessions", nil)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer bearer-token")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("missing bearer token", func(t *testing.T) {
		app, _ := newTestApp(t)

		resp, err := app.Test(jsonRequest(t, http.MethodDelete, "/api/v1/sessions", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestHandler_ListSessions(t *testing.T) {
	app, svc := newTestApp(t)
	userID := ulid.Make()
	now := time.Now()

	svc.On("Validate", mock.Anything, "bearer-token", "").
		Return(&auth.Claims{UserID: userID.String()}, nil)
	svc.On("ListSessions", mock.Anything, userID).Return([]*auth.Session{
		{ID: ulid.Make(), UserID: userID, CreatedAt: now, LastSeenAt: now, ExpiresAt: now.Add(time.Hour)},
	}, nil)

	req := jsonRequest(t, http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer bearer-token")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Sessions, 1)
}

func TestHandler_PasswordReset(t *testing.T) {
	t.Run("request is generic for unknown email", func(t *testing.T) {
		app, svc := newTestApp(t)

		svc.On("RequestPasswordReset", mock.Anything, "ghost@example.com").Return("", nil)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/password/reset-request", fiber.Map{
			"email": "ghost@example.com",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("reset succeeds", func(t *testing.T) {
		app, svc := newTestApp(t)

		svc.On("ResetPassword", mock.Anything, "reset-token", "newpassword1").Return(nil)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/password/reset", fiber.Map{
			"token":        "reset-token",
			"new_password": "newpassword1",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("bad token", func(t *testing.T) {
		app, svc := newTestApp(t)

		svc.On("ResetPassword", mock.Anything, "bogus", "newpassword1").Return(auth.ErrResetToken)

		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/password/reset", fiber.Map{
			"token":        "bogus",
			"new_password": "newpassword1",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandler_VerifyEmail(t *testing.T) {
	app, svc := newTestApp(t)
	user := &auth.User{ID: ulid.Make(), Email: "a@example.com", Verified: true}

	svc.On("VerifyEmail", mock.Anything, "verify-token").Return(user, nil)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/verify-email", fiber.Map{
		"token": "verify-token",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
