// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

package httpapi

import (
	"github.com/gofiber/fiber/v2"
)

// NewApp builds the fiber application with all auth routes registered.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	RegisterRoutes(app, h)
	return app
}

// RegisterRoutes mounts the auth endpoints on the app.
func RegisterRoutes(app *fiber.App, h *Handler) {
	v1 := app.Group("/api/v1")

	v1.Post("/register", h.Register)
	v1.Post("/login", h.Login)
	v1.Post("/refresh", h.Refresh)
	v1.Post("/validate", h.Validate)
	v1.Post("/verify-email", h.VerifyEmail)

	v1.Delete("/session", h.Logout)
	v1.Delete("/sessions", h.LogoutAll)
	v1.Get("/sessions", h.ListSessions)

	v1.Post("/password/reset-request", h.RequestPasswordReset)
	v1.Post("/password/reset", h.ResetPassword)
}
