// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Service provides authentication operations.
type Service struct {
	users      UserRepository
	sessions   SessionRepository
	hasher     PasswordHasher
	logger     *slog.Logger
	sessionTTL time.Duration
}

// NewService creates a new Service with a no-op logger.
// Returns an error if any required dependency is nil.
func NewService(users UserRepository, sessions SessionRepository, hasher PasswordHasher) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	return &Service{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		logger:     slog.New(slog.DiscardHandler),
		sessionTTL: SessionTokenExpiry,
	}, nil
}

// SetSessionTTL overrides the default session lifetime. Non-positive values
// are ignored.
func (s *Service) SetSessionTTL(ttl time.Duration) {
	if ttl > 0 {
		s.sessionTTL = ttl
	}
}

// NewServiceWithLogger creates a new Service with the provided logger.
// Returns an error if any required dependency is nil.
func NewServiceWithLogger(users UserRepository, sessions SessionRepository, hasher PasswordHasher, logger *slog.Logger) (*Service, error) {
	svc, err := NewService(users, sessions, hasher)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	svc.logger = logger
	return svc, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Login authenticates a user and creates a fresh session.
// Returns the session, the plaintext token, and the authenticated user.
// Uses constant-time operations to prevent timing-based username enumeration:
// the same error is returned whether the username is unknown or the password
// is wrong.
func (s *Service) Login(ctx context.Context, username, password, userAgent, ipAddress string) (*Session, string, *User, error) {
	user, lookupErr := s.users.GetByUsername(ctx, username)

	// Determine which hash to verify against (real or dummy for timing attack prevention)
	var targetHash string
	var userExists bool

	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			// Use dummy hash - still perform verification to maintain constant time
			targetHash = dummyPasswordHash
			userExists = false
		} else {
			return nil, "", nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by username").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify password (constant-time operation for timing attack prevention)
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		// For dummy hash verification errors, just treat as invalid
		if !userExists {
			return nil, "", nil, oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username or password")
		}
		return nil, "", nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	// If user doesn't exist OR password invalid, return same error
	if !userExists || !valid {
		if userExists {
			// Record failure only for existing users
			user.RecordFailure()
			if updateErr := s.users.Update(ctx, user); updateErr != nil {
				s.logger.Warn("best-effort user update failed",
					"operation", "record_failure",
					"user_id", user.ID.String(),
					"error", updateErr.Error())
			}
		}
		return nil, "", nil, oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username or password")
	}

	// Check lockout AFTER password verification to maintain constant time
	if user.IsLocked() {
		return nil, "", nil, oops.Code("AUTH_ACCOUNT_LOCKED").
			With("locked_until", user.LockedUntil).
			Errorf("account is temporarily locked")
	}

	// Deactivated accounts hold valid credentials but may not authenticate.
	if !user.IsActive {
		return nil, "", nil, oops.Code("AUTH_ACCOUNT_INACTIVE").Errorf("account is inactive")
	}

	// Success - reset failure counter and advance last_login
	user.RecordSuccess()
	user.RecordLogin(time.Now())

	// Check if password needs upgrade (e.g., from bcrypt to argon2id)
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		newHash, hashErr := s.hasher.Hash(password)
		if hashErr == nil {
			user.PasswordHash = newHash
		}
	}

	// Persist last_login, failure reset, and possibly the upgraded hash.
	// Login succeeds even if this update fails.
	if updateErr := s.users.Update(ctx, user); updateErr != nil {
		s.logger.Warn("best-effort user update failed",
			"operation", "record_success",
			"user_id", user.ID.String(),
			"error", updateErr.Error())
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	expiresAt := time.Now().Add(s.sessionTTL)
	session, err := NewSession(user.ID, tokenHash, userAgent, ipAddress, expiresAt)
	if err != nil {
		return nil, "", nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	s.logger.Info("user logged in", "user_id", user.ID.String(), "session_id", session.ID.String())

	return session, token, user, nil
}

// Logout invalidates a session.
func (s *Service) Logout(ctx context.Context, sessionID ulid.ULID) error {
	err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").
				With("session_id", sessionID.String()).
				Wrap(err)
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	s.logger.Info("user logged out", "session_id", sessionID.String())
	return nil
}

// ValidateSession validates a session token and returns the session if valid.
// Also updates the LastSeenAt timestamp.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}

	// Hash the token to look it up
	tokenHash := HashSessionToken(token)

	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpired() {
		return nil, oops.Code("SESSION_EXPIRED").Errorf("session has expired")
	}

	// Update last seen timestamp; validation succeeds regardless.
	now := time.Now()
	if updateErr := s.sessions.UpdateLastSeen(ctx, session.ID, now); updateErr != nil {
		s.logger.Warn("best-effort session update failed",
			"operation", "update_last_seen",
			"session_id", session.ID.String(),
			"error", updateErr.Error())
	}

	return session, nil
}

// CurrentUser returns the user bound to a session.
func (s *Service) CurrentUser(ctx context.Context, session *Session) (*User, error) {
	if session == nil {
		return nil, oops.Code("SESSION_INVALID").Errorf("session is required")
	}
	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Session outlived its user; treat as unauthenticated.
			return nil, oops.Code("SESSION_INVALID").
				With("user_id", session.UserID.String()).
				Wrap(err)
		}
		return nil, oops.Code("AUTH_CURRENT_USER_FAILED").
			With("operation", "get user by id").
			Wrap(err)
	}
	return user, nil
}

// ChangePassword changes a user's password after re-proving the old one.
// The checks run in order: old-password verification first (wrong value is an
// authorization failure, AUTH_WRONG_PASSWORD), then new-password validation.
// On success all other sessions for the user are revoked; the current session
// stays valid.
func (s *Service) ChangePassword(ctx context.Context, session *Session, oldPassword, newPassword1, newPassword2 string) (*User, error) {
	user, err := s.CurrentUser(ctx, session)
	if err != nil {
		return nil, err
	}

	valid, err := s.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !valid {
		return nil, oops.Code("AUTH_WRONG_PASSWORD").Errorf("old password does not match")
	}

	if newPassword1 != newPassword2 {
		return nil, &ValidationError{Fields: FieldErrors{
			"new_password2": {"The two password fields didn't match."},
		}}
	}
	if msgs := ValidatePassword(newPassword1, user.Username); len(msgs) > 0 {
		return nil, &ValidationError{Fields: FieldErrors{"new_password2": msgs}}
	}

	newHash, err := s.hasher.Hash(newPassword1)
	if err != nil {
		return nil, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		return nil, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "update password").
			Wrap(err)
	}
	user.PasswordHash = newHash

	// Revoke every other session holding the old credential.
	// Cleanup failure does not undo the password change.
	if revokeErr := s.sessions.DeleteByUserExcept(ctx, user.ID, session.ID); revokeErr != nil {
		s.logger.Warn("best-effort session revocation failed",
			"operation", "revoke_sessions",
			"user_id", user.ID.String(),
			"error", revokeErr.Error())
	}

	s.logger.Info("password changed", "user_id", user.ID.String())

	return user, nil
}
