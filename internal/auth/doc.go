// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

// Package auth provides the authentication domain for Gatekey.
//
// # Domain Types
//
// Domain types (User, Session, PasswordReset) should be created using their
// respective constructors:
//   - NewUser - creates a User with validated username and password hash
//   - NewSession - creates a Session with validated user and expiry
//   - NewPasswordReset - creates a PasswordReset with validated user and expiry
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - login, logout, session validation, password change
//   - PasswordResetService - password reset request and confirmation
//
// Services are created with New*Service constructors that validate
// dependencies.
package auth
