// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package httpapi

import (
	"time"

	"github.com/keyloom/keyloom/internal/auth"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	OrgID     string `json:"org_id"`
}

type registerResponse struct {
	ID                   string `json:"id"`
	Email                string `json:"email"`
	VerificationRequired bool   `json:"verification_required"`
	// VerificationToken is returned directly until a mailer is wired in.
	VerificationToken string `json:"verification_token,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	SessionHandle string `json:"session_handle"`
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type validateRequest struct {
	AccessToken   string `json:"access_token"`
	SessionHandle string `json:"session_handle,omitempty"`
}

type validateResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	OrgID  string `json:"org_id"`
}

type logoutRequest struct {
	SessionHandle string `json:"session_handle,omitempty"`
	RefreshToken  string `json:"refresh_token,omitempty"`
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Handle            string    `json:"handle"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	IPAddress         string    `json:"ip_address,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

func toSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		Handle:            s.ID.String(),
		DeviceFingerprint: s.DeviceFingerprint,
		IPAddress:         s.IPAddress,
		UserAgent:         s.UserAgent,
		CreatedAt:         s.CreatedAt,
		LastSeenAt:        s.LastSeenAt,
		ExpiresAt:         s.ExpiresAt,
	}
}
