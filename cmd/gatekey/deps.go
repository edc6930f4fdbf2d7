package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatekey/gatekey/internal/config"
	"github.com/gatekey/gatekey/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreFactory opens the database store.
	// Default: store.Open
	StoreFactory func(ctx context.Context, url string, logger *slog.Logger) (Store, error)

	// MigratorFactory creates a schema migrator for --auto-migrate.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// APIServerFactory wires repositories, services, and the HTTP server.
	// Default: newAPIServer
	APIServerFactory func(cfg *config.Config, st Store, metrics *observability.Metrics, logger *slog.Logger) (APIServer, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// JanitorFactory builds the background sweep that purges expired
	// sessions and reset tokens.
	// Default: newJanitor
	JanitorFactory func(st Store, logger *slog.Logger) func(ctx context.Context)
}

// Store interface wraps the methods used from store.Store.
type Store interface {
	Pool() *pgxpool.Pool
	Ping(ctx context.Context) error
	Close()
	InitInstanceID(ctx context.Context) (string, error)
}

// Migrator interface wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Close() error
}

// APIServer interface wraps the methods used from httpapi.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}
