// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

// Package store provides PostgreSQL connection management and schema
// migrations for gatekey.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const (
	// connectRetries is the number of ping attempts after the initial one.
	connectRetries = 5
	// connectBackoff is the base for exponential backoff between pings.
	connectBackoff = 500 * time.Millisecond
)

// Store wraps a pgx connection pool and owns instance-level metadata.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for connection progress messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to PostgreSQL and verifies the connection with a ping.
// The ping is retried with exponential backoff so a freshly started
// database container has time to come up.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.
			Code("STORE_CONNECT_FAILED").
			With("operation", "open pool").
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(connectRetries, retry.NewExponential(connectBackoff))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			s.logger.Warn("database ping failed, retrying",
				"attempt", attempt,
				"error", pingErr.Error())
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.
			Code("STORE_PING_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}

	s.pool = pool
	return s, nil
}

// Pool exposes the underlying connection pool for repositories.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("STORE_PING_FAILED").Wrap(err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const instanceIDKey = "instance_id"

// InitInstanceID returns the persistent instance identifier, generating
// and storing one on first call. Concurrent first calls race safely:
// ON CONFLICT DO NOTHING keeps the first writer's value and every
// caller reads the winner back.
func (s *Store) InitInstanceID(ctx context.Context) (string, error) {
	candidate := ulid.Make().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_info (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO NOTHING`,
		instanceIDKey, candidate)
	if err != nil {
		return "", oops.
			Code("STORE_INSTANCE_ID_FAILED").
			With("operation", "insert instance id").
			Wrap(err)
	}

	var id string
	err = s.pool.QueryRow(ctx,
		`SELECT value FROM system_info WHERE key = $1`, instanceIDKey).Scan(&id)
	if err != nil {
		return "", oops.
			Code("STORE_INSTANCE_ID_FAILED").
			With("operation", "read instance id").
			Wrap(err)
	}
	return id, nil
}

// GetSystemInfo returns the value stored under key, or ErrNoSystemInfo
// if the key has never been set.
func (s *Store) GetSystemInfo(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM system_info WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.
			Code("SYSTEM_INFO_NOT_FOUND").
			With("key", key).
			Wrap(ErrNoSystemInfo)
	}
	if err != nil {
		return "", oops.
			Code("SYSTEM_INFO_READ_FAILED").
			With("key", key).
			Wrap(err)
	}
	return value, nil
}

// SetSystemInfo stores value under key, replacing any previous value.
func (s *Store) SetSystemInfo(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_info (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()`,
		key, value)
	if err != nil {
		return oops.
			Code("SYSTEM_INFO_WRITE_FAILED").
			With("key", key).
			Wrap(err)
	}
	return nil
}

// ErrNoSystemInfo is returned when a system_info key has never been set.
var ErrNoSystemInfo = errors.New("system info key not found")
