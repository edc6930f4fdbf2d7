// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
)

// PasswordResetService handles the password reset flow.
type PasswordResetService struct {
	users    UserRepository
	resets   PasswordResetRepository
	hasher   PasswordHasher
	logger   *slog.Logger
	resetTTL time.Duration
}

// NewPasswordResetService creates a new PasswordResetService with a no-op
// logger. Returns an error if any required dependency is nil.
func NewPasswordResetService(users UserRepository, resets PasswordResetRepository, hasher PasswordHasher) (*PasswordResetService, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if resets == nil {
		return nil, oops.Errorf("resets repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	return &PasswordResetService{
		users:    users,
		resets:   resets,
		hasher:   hasher,
		logger:   slog.New(slog.DiscardHandler),
		resetTTL: ResetTokenExpiry,
	}, nil
}

// SetResetTTL overrides the default reset token lifetime. Non-positive
// values are ignored.
func (s *PasswordResetService) SetResetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.resetTTL = ttl
	}
}

// NewPasswordResetServiceWithLogger creates a new PasswordResetService with
// the provided logger. Returns an error if any required dependency is nil.
func NewPasswordResetServiceWithLogger(users UserRepository, resets PasswordResetRepository, hasher PasswordHasher, logger *slog.Logger) (*PasswordResetService, error) {
	svc, err := NewPasswordResetService(users, resets, hasher)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	svc.logger = logger
	return svc, nil
}

// RequestReset requests a password reset for a user by email.
// If the user exists, generates a reset token, stores its hash, and returns
// the plaintext token together with the user (email delivery is NOT this
// service's job). If the email matches no user, returns ("", nil, nil) so
// callers can respond identically either way and prevent email enumeration.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (string, *User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Uniform success with empty token to prevent email enumeration
			return "", nil, nil
		}
		return "", nil, oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return "", nil, oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	reset, err := NewPasswordReset(user.ID, hash, time.Now().Add(s.resetTTL))
	if err != nil {
		return "", nil, oops.Code("RESET_REQUEST_FAILED").
			With("operation", "create password reset").
			Wrap(err)
	}

	if err := s.resets.Create(ctx, reset); err != nil {
		return "", nil, oops.Code("RESET_REQUEST_FAILED").
			With("operation", "persist password reset").
			Wrap(err)
	}

	s.logger.Info("password reset requested", "user_id", user.ID.String())

	return token, user, nil
}

// invalidTokenError is the uniform field error for any token problem: absent,
// expired, or bound to a different user. One message for all cases so the
// response does not reveal which check failed.
func invalidTokenError() *ValidationError {
	return &ValidationError{Fields: FieldErrors{
		"token": {"Invalid or expired reset token."},
	}}
}

// ConfirmReset completes a password reset. The token must exist, be
// unexpired, and belong to the user matching the supplied username. On
// success the password hash is updated, every reset token for the user is
// invalidated (single use), and the updated user is returned. All input
// failures surface as *ValidationError with per-field messages.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, username, token, newPassword1, newPassword2 string) (*User, error) {
	if newPassword1 != newPassword2 {
		return nil, &ValidationError{Fields: FieldErrors{
			"new_password2": {"The two password fields didn't match."},
		}}
	}
	if token == "" {
		return nil, invalidTokenError()
	}

	reset, err := s.resets.GetByTokenHash(ctx, hashResetToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidTokenError()
		}
		return nil, oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "get reset by token hash").
			Wrap(err)
	}
	if reset.IsExpired() {
		return nil, invalidTokenError()
	}

	user, err := s.users.GetByID(ctx, reset.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidTokenError()
		}
		return nil, oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "get user by id").
			Wrap(err)
	}
	if !strings.EqualFold(user.Username, username) {
		return nil, invalidTokenError()
	}

	if msgs := ValidatePassword(newPassword1, user.Username); len(msgs) > 0 {
		return nil, &ValidationError{Fields: FieldErrors{"new_password2": msgs}}
	}

	newHash, err := s.hasher.Hash(newPassword1)
	if err != nil {
		return nil, oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
		return nil, oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "update password").
			Wrap(err)
	}
	user.PasswordHash = newHash

	// Single-use invariant: burn every outstanding token for the user.
	// Cleanup failure does not undo the password change.
	if deleteErr := s.resets.DeleteByUser(ctx, user.ID); deleteErr != nil {
		s.logger.Warn("best-effort token cleanup failed",
			"operation", "delete_tokens",
			"user_id", user.ID.String(),
			"error", deleteErr.Error())
	}

	s.logger.Info("password reset completed", "user_id", user.ID.String())

	return user, nil
}
