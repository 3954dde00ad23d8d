// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

// Package httpapi exposes the authentication service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"

	"github.com/keyloom/keyloom/internal/auth"
)

// Service is the subset of the auth service the handlers use. Narrowed to
// an interface so handler tests can substitute a mock.
type Service interface {
	Register(ctx context.Context, input auth.RegisterInput) (*auth.RegisterResult, error)
	Login(ctx context.Context, input auth.LoginInput) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Validate(ctx context.Context, accessToken, sessionHandle string) (*auth.Claims, error)
	Logout(ctx context.Context, sessionHandle, refreshToken string) error
	LogoutAll(ctx context.Context, userID ulid.ULID) error
	ListSessions(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyEmail(ctx context.Context, token string) (*auth.User, error)
}

// Handler holds the HTTP handlers for the auth endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register handles POST /api/v1/register. Registration never creates a
// session; the client must log in after verifying.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	orgID, err := ulid.Parse(req.OrgID)
	if err != nil {
		return badRequest(c, "invalid org_id")
	}

	result, err := h.service.Register(c.UserContext(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		OrgID:     orgID,
	})
	if err != nil {
		return h.writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(registerResponse{
		ID:                   result.User.ID.String(),
		Email:                result.User.Email,
		VerificationRequired: result.VerificationRequired,
		VerificationToken:    result.VerificationToken,
	})
}

// Login handles POST /api/v1/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	result, err := h.service.Login(c.UserContext(), auth.LoginInput{
		Email:             req.Email,
		Password:          req.Password,
		DeviceFingerprint: c.Get("X-Device-Fingerprint"),
		IPAddress:         c.IP(),
		UserAgent:         string(c.Request().Header.UserAgent()),
	})
	if err != nil {
		return h.writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(loginResponse{
		AccessToken:   result.AccessToken,
		RefreshToken:  result.RefreshToken,
		SessionHandle: result.SessionHandle,
		UserID:        result.User.ID.String(),
		Email:         result.User.Email,
		Role:          string(result.User.Role),
	})
}

// Refresh handles POST /api/v1/refresh.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.RefreshToken == "" {
		return badRequest(c, "refresh_token is required")
	}

	pair, err := h.service.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(refreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// Validate handles POST /api/v1/validate.
func (h *Handler) Validate(c *fiber.Ctx) error {
	var req validateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.AccessToken == "" {
		return badRequest(c, "access_token is required")
	}

	claims, err := h.service.Validate(c.UserContext(), req.AccessToken, req.SessionHandle)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(validateResponse{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
		OrgID:  claims.OrgID,
	})
}

// Logout handles DELETE /api/v1/session. Idempotent.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var req logoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.SessionHandle == "" && req.RefreshToken == "" {
		return badRequest(c, "session_handle or refresh_token is required")
	}

	if err := h.service.Logout(c.UserContext(), req.SessionHandle, req.RefreshToken); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LogoutAll handles DELETE /api/v1/sessions. The caller is identified by
// the bearer access token.
func (h *Handler) LogoutAll(c *fiber.Ctx) error {
	userID, err := h.callerID(c)
	if err != nil {
		return h.writeError(c, err)
	}
	if err := h.service.LogoutAll(c.UserContext(), userID); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListSessions handles GET /api/v1/sessions.
func (h *Handler) ListSessions(c *fiber.Ctx) error {
	userID, err := h.callerID(c)
	if err != nil {
		return h.writeError(c, err)
	}

	sessions, err := h.service.ListSessions(c.UserContext(), userID)
	if err != nil {
		return h.writeError(c, err)
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"sessions": out})
}

// RequestPasswordReset handles POST /api/v1/password/reset-request.
// The response is identical whether or not the email maps to an account.
func (h *Handler) RequestPasswordReset(c *fiber.Ctx) error {
	var req resetRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	token, err := h.service.RequestPasswordReset(c.UserContext(), req.Email)
	if err != nil {
		return h.writeError(c, err)
	}
	if token != "" {
		// TODO: hand the token to a mailer once one exists instead of
		// logging that it was issued.
		h.logger.Info("password reset token issued", "email", req.Email)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "if the address is registered, a reset link has been sent",
	})
}

// ResetPassword handles POST /api/v1/password/reset.
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if err := h.service.ResetPassword(c.UserContext(), req.Token, req.NewPassword); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// VerifyEmail handles POST /api/v1/verify-email.
func (h *Handler) VerifyEmail(c *fiber.Ctx) error {
	var req verifyEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	user, err := h.service.VerifyEmail(c.UserContext(), req.Token)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":       user.ID.String(),
		"email":    user.Email,
		"verified": user.Verified,
	})
}

// callerID extracts and validates the bearer access token, returning the
// authenticated user's ID.
func (h *Handler) callerID(c *fiber.Ctx) (ulid.ULID, error) {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return ulid.ULID{}, auth.ErrTokenInvalid
	}

	claims, err := h.service.Validate(c.UserContext(), token, "")
	if err != nil {
		return ulid.ULID{}, err
	}
	userID, err := claims.Subject()
	if err != nil {
		return ulid.ULID{}, auth.ErrTokenInvalid
	}
	return userID, nil
}

// writeError maps domain errors to HTTP statuses. Infrastructure failures
// map to 503, never to 401: a database outage must not read as "bad
// credentials" to clients.
func (h *Handler) writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, auth.ErrDuplicateEmail):
		return writeStatus(c, fiber.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrInvalidEmail):
		return writeStatus(c, fiber.StatusBadRequest, "invalid email address")
	case errors.Is(err, auth.ErrWeakPassword):
		return writeStatus(c, fiber.StatusBadRequest, "password does not meet requirements")
	case errors.Is(err, auth.ErrResetToken):
		return writeStatus(c, fiber.StatusBadRequest, "invalid or expired reset token")
	case errors.Is(err, auth.ErrAccountLocked):
		return writeStatus(c, fiber.StatusLocked, "account temporarily locked")
	case errors.Is(err, auth.ErrAccountInactive):
		return writeStatus(c, fiber.StatusForbidden, "account is deactivated")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return writeStatus(c, fiber.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrSessionExpired),
		errors.Is(err, auth.ErrSessionMismatch),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrWrongTokenType):
		return writeStatus(c, fiber.StatusUnauthorized, "invalid or expired token")
	default:
		h.logger.Error("internal error serving auth request",
			"path", c.Path(),
			"error", err)
		return writeStatus(c, fiber.StatusServiceUnavailable, "service temporarily unavailable")
	}
}

func writeStatus(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return writeStatus(c, fiber.StatusBadRequest, msg)
}
