// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekey/gatekey/internal/auth"
)

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, username, email, password_hash, first_name, last_name,
	       is_active, is_staff, is_superuser, groups, permissions,
	       failed_attempts, locked_until, date_joined, last_login, updated_at`

// Create stores a new user. A unique violation on username or email is
// reported as USER_ALREADY_EXISTS.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	groupsJSON, permsJSON, err := marshalRoleSets(user)
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "marshal role sets").
			Wrap(err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO users (
			id, username, email, password_hash, first_name, last_name,
			is_active, is_staff, is_superuser, groups, permissions,
			failed_attempts, locked_until, date_joined, last_login, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		user.ID.String(),
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.IsActive,
		user.IsStaff,
		user.IsSuperuser,
		groupsJSON,
		permsJSON,
		user.FailedAttempts,
		user.LockedUntil,
		user.DateJoined,
		user.LastLogin,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("USER_ALREADY_EXISTS").
				With("username", user.Username).
				Wrap(err)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := r.scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(username) = LOWER($1)
	`, username)

	user, err := r.scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_USERNAME_FAILED").
			With("operation", "get user by username").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email)

	user, err := r.scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// Update updates an existing user. last_login only moves forward: the
// GREATEST guard keeps the column monotonic when two logins race.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	groupsJSON, permsJSON, err := marshalRoleSets(user)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "marshal role sets").
			Wrap(err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			username = $2,
			email = $3,
			password_hash = $4,
			first_name = $5,
			last_name = $6,
			is_active = $7,
			is_staff = $8,
			is_superuser = $9,
			groups = $10,
			permissions = $11,
			failed_attempts = $12,
			locked_until = $13,
			last_login = GREATEST(last_login, $14),
			updated_at = $15
		WHERE id = $1
	`,
		user.ID.String(),
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.IsActive,
		user.IsStaff,
		user.IsSuperuser,
		groupsJSON,
		permsJSON,
		user.FailedAttempts,
		user.LockedUntil,
		user.LastLogin,
		user.UpdatedAt,
	)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword updates only the password hash for a user.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), passwordHash, time.Now())
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM users WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// marshalRoleSets serializes the groups and permissions sets as JSON.
func marshalRoleSets(user *auth.User) (groups, perms []byte, err error) {
	groups, err = json.Marshal(user.Groups)
	if err != nil {
		return nil, nil, err
	}
	perms, err = json.Marshal(user.Permissions)
	if err != nil {
		return nil, nil, err
	}
	return groups, perms, nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *UserRepository) scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr          string
		username       string
		email          string
		passwordHash   string
		firstName      string
		lastName       string
		isActive       bool
		isStaff        bool
		isSuperuser    bool
		groupsJSON     []byte
		permsJSON      []byte
		failedAttempts int
		lockedUntil    *time.Time
		dateJoined     time.Time
		lastLogin      *time.Time
		updatedAt      time.Time
	)

	err := row.Scan(
		&idStr,
		&username,
		&email,
		&passwordHash,
		&firstName,
		&lastName,
		&isActive,
		&isStaff,
		&isSuperuser,
		&groupsJSON,
		&permsJSON,
		&failedAttempts,
		&lockedUntil,
		&dateJoined,
		&lastLogin,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	var groups, perms []string
	if len(groupsJSON) > 0 {
		if err := json.Unmarshal(groupsJSON, &groups); err != nil {
			return nil, oops.Code("USER_INVALID_GROUPS").
				With("operation", "unmarshal groups").
				Wrap(err)
		}
	}
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &perms); err != nil {
			return nil, oops.Code("USER_INVALID_PERMISSIONS").
				With("operation", "unmarshal permissions").
				Wrap(err)
		}
	}

	return &auth.User{
		ID:             id,
		Username:       username,
		Email:          email,
		PasswordHash:   passwordHash,
		FirstName:      firstName,
		LastName:       lastName,
		IsActive:       isActive,
		IsStaff:        isStaff,
		IsSuperuser:    isSuperuser,
		Groups:         groups,
		Permissions:    perms,
		FailedAttempts: failedAttempts,
		LockedUntil:    lockedUntil,
		DateJoined:     dateJoined,
		LastLogin:      lastLogin,
		UpdatedAt:      updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
