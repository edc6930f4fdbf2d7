// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// poolIface is the subset of pgxpool.Pool used by the settings
// repository. pgxmock satisfies it for unit tests.
type poolIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ErrSettingNotFound is returned when a runtime setting has never been set.
var ErrSettingNotFound = errors.New("setting not found")

// SettingsRepository provides CRUD for runtime settings. Settings are
// operator-tunable values (maintenance messages, feature toggles,
// janitor bookkeeping) that change without a redeploy.
type SettingsRepository interface {
	All(ctx context.Context) (map[string]string, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value, updatedBy string) error
	Delete(ctx context.Context, key string) error
}

// PostgresSettingsRepository implements SettingsRepository using PostgreSQL.
type PostgresSettingsRepository struct {
	pool poolIface
}

// NewPostgresSettingsRepository creates a new PostgreSQL settings repository.
func NewPostgresSettingsRepository(pool poolIface) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{pool: pool}
}

var _ SettingsRepository = (*PostgresSettingsRepository)(nil)

// All retrieves every runtime setting.
func (r *PostgresSettingsRepository) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, oops.With("operation", "get settings").Wrap(err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, oops.With("operation", "scan setting row").Wrap(err)
		}
		settings[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate settings").Wrap(err)
	}

	return settings, nil
}

// Get retrieves a single setting. Returns ErrSettingNotFound if the key
// has never been set.
func (r *PostgresSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.
			Code("SETTING_NOT_FOUND").
			With("key", key).
			Wrap(ErrSettingNotFound)
	}
	if err != nil {
		return "", oops.With("operation", "get setting").With("key", key).Wrap(err)
	}
	return value, nil
}

// Set creates or updates a setting. An empty updatedBy is stored as NULL.
func (r *PostgresSettingsRepository) Set(ctx context.Context, key, value, updatedBy string) error {
	var updatedByArg any = updatedBy
	if updatedBy == "" {
		updatedByArg = nil
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO settings (key, value, updated_by)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_by = $3, updated_at = now()`,
		key, value, updatedByArg)
	if err != nil {
		return oops.With("operation", "set setting").With("key", key).Wrap(err)
	}
	return nil
}

// Delete removes a setting. Deleting an absent key is not an error.
func (r *PostgresSettingsRepository) Delete(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key)
	if err != nil {
		return oops.With("operation", "delete setting").With("key", key).Wrap(err)
	}
	return nil
}
