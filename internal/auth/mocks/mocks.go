// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

// Package mocks provides testify mocks for the auth interfaces.
package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/keyloom/keyloom/internal/auth"
)

// MockUserRepository is a mock auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a MockUserRepository that asserts its
// expectations on test cleanup.
func NewMockUserRepository(t *testing.T) *MockUserRepository {
	t.Helper()
	m := &MockUserRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserRepository) RecordFailedAttempt(ctx context.Context, id ulid.ULID, policy auth.LockoutPolicy) (int, *time.Time, error) {
	args := m.Called(ctx, id, policy)
	lockedUntil, _ := args.Get(1).(*time.Time)
	return args.Int(0), lockedUntil, args.Error(2)
}

func (m *MockUserRepository) RecordSuccessfulLogin(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUserRepository) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, id, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *MockUserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*auth.User, error) {
	args := m.Called(ctx, tokenHash)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserRepository) CompletePasswordReset(ctx context.Context, id ulid.ULID, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

func (m *MockUserRepository) MarkVerified(ctx context.Context, verificationTokenHash string) (*auth.User, error) {
	args := m.Called(ctx, verificationTokenHash)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

// MockSessionRepository is a mock auth.SessionRepository.
type MockSessionRepository struct {
	mock.Mock
}

// NewMockSessionRepository creates a MockSessionRepository that asserts its
// expectations on test cleanup.
func NewMockSessionRepository(t *testing.T) *MockSessionRepository {
	t.Helper()
	m := &MockSessionRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSessionRepository) Create(ctx context.Context, session *auth.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	args := m.Called(ctx, id)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

func (m *MockSessionRepository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	args := m.Called(ctx, tokenHash)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

func (m *MockSessionRepository) Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (*auth.Session, error) {
	args := m.Called(ctx, oldHash, newHash, expiresAt)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

func (m *MockSessionRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	args := m.Called(ctx, userID)
	sessions, _ := args.Get(0).([]*auth.Session)
	return sessions, args.Error(1)
}

func (m *MockSessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockSessionCache is a mock auth.SessionCache.
type MockSessionCache struct {
	mock.Mock
}

// NewMockSessionCache creates a MockSessionCache that asserts its
// expectations on test cleanup.
func NewMockSessionCache(t *testing.T) *MockSessionCache {
	t.Helper()
	m := &MockSessionCache{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSessionCache) Put(ctx context.Context, handle string, entry auth.CacheEntry, ttl time.Duration) error {
	args := m.Called(ctx, handle, entry, ttl)
	return args.Error(0)
}

func (m *MockSessionCache) Get(ctx context.Context, handle string) (*auth.CacheEntry, error) {
	args := m.Called(ctx, handle)
	entry, _ := args.Get(0).(*auth.CacheEntry)
	return entry, args.Error(1)
}

func (m *MockSessionCache) Delete(ctx context.Context, handle string) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

// MockAttemptRecorder is a mock auth.AttemptRecorder.
type MockAttemptRecorder struct {
	mock.Mock
}

// NewMockAttemptRecorder creates a MockAttemptRecorder that asserts its
// expectations on test cleanup.
func NewMockAttemptRecorder(t *testing.T) *MockAttemptRecorder {
	t.Helper()
	m := &MockAttemptRecorder{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAttemptRecorder) RecordLoginAttempt(ctx context.Context, attempt *auth.LoginAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher that asserts its
// expectations on test cleanup.
func NewMockPasswordHasher(t *testing.T) *MockPasswordHasher {
	t.Helper()
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	args := m.Called(hash)
	return args.Bool(0)
}

// Compile-time interface checks.
var (
	_ auth.UserRepository    = (*MockUserRepository)(nil)
	_ auth.SessionRepository = (*MockSessionRepository)(nil)
	_ auth.SessionCache      = (*MockSessionCache)(nil)
	_ auth.AttemptRecorder   = (*MockAttemptRecorder)(nil)
	_ auth.PasswordHasher    = (*MockPasswordHasher)(nil)
)
