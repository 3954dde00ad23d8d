// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

// Package auth provides credential authentication and session lifecycle
// primitives for Keyloom.
//
// # Domain Types
//
// Domain types (User, Session, LoginAttempt) should be created using their
// respective constructors:
//   - NewUser - creates a User with a normalized email and validated fields
//   - NewSession - creates a Session with a validated owner and expiry
//   - NewLoginAttempt - creates an append-only login audit record
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Services
//
// Service is the orchestrator: it exposes Register, Login, Refresh,
// Validate, Logout, LogoutAll and the password-reset flow, coordinating the
// credential store, the token issuer, the durable session registry and the
// fast session cache. The durable registry is the source of truth; the cache
// is a disposable, write-through mirror keyed by session handle.
package auth
