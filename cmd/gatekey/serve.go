// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekey/gatekey/internal/auth"
	authpg "github.com/gatekey/gatekey/internal/auth/postgres"
	"github.com/gatekey/gatekey/internal/config"
	"github.com/gatekey/gatekey/internal/httpapi"
	"github.com/gatekey/gatekey/internal/logging"
	"github.com/gatekey/gatekey/internal/mail"
	"github.com/gatekey/gatekey/internal/observability"
	"github.com/gatekey/gatekey/internal/store"
)

// janitorInterval is how often expired sessions and reset tokens are purged.
const janitorInterval = 10 * time.Minute

// janitorLastRunKey is the settings key recording the last completed sweep.
const janitorLastRunKey = "janitor_last_run"

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication API server",
		Long: `Run the HTTP API server, the observability server, and the
background janitor that purges expired sessions and reset tokens.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, autoMigrate, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "run pending migrations before serving")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, autoMigrate bool, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}

	// Set up default factories
	if deps.StoreFactory == nil {
		deps.StoreFactory = func(ctx context.Context, url string, logger *slog.Logger) (Store, error) {
			return store.Open(ctx, url, store.WithLogger(logger))
		}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.APIServerFactory == nil {
		deps.APIServerFactory = newAPIServer
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.JanitorFactory == nil {
		deps.JanitorFactory = newJanitor
	}

	logger := logging.Setup("gatekey", version, cfg.LogFormat, os.Stderr)

	logger.Info("starting gatekey",
		"listen_addr", cfg.ListenAddr,
		"log_format", cfg.LogFormat,
	)

	st, err := deps.StoreFactory(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer st.Close()

	logger.Info("connected to database")

	if autoMigrate {
		migrator, err := deps.MigratorFactory(cfg.DatabaseURL)
		if err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
		}
		migrateErr := migrator.Up()
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
		if migrateErr != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(migrateErr)
		}
		logger.Info("migrations applied")
	}

	instanceID, err := st.InitInstanceID(ctx)
	if err != nil {
		return oops.Code("INSTANCE_ID_FAILED").Wrap(err)
	}
	logger.Info("instance ID initialized", "instance_id", instanceID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start observability server if configured
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, func() bool {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return st.Ping(pingCtx) == nil
		})
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	apiServer, err := deps.APIServerFactory(cfg, st, metrics, logger)
	if err != nil {
		return oops.Code("API_SERVER_FAILED").With("operation", "create api server").Wrap(err)
	}
	apiErrChan, err := apiServer.Start()
	if err != nil {
		return oops.Code("API_SERVER_FAILED").With("operation", "start api server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api", logger)

	go deps.JanitorFactory(st, logger)(ctx)

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Gatekey started")
	logger.Info("gatekey ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// newAPIServer wires repositories, services, and the HTTP server from the
// live database pool.
func newAPIServer(cfg *config.Config, st Store, metrics *observability.Metrics, logger *slog.Logger) (APIServer, error) {
	pool := st.Pool()
	users := authpg.NewUserRepository(pool)
	sessions := authpg.NewSessionRepository(pool)
	resets := authpg.NewPasswordResetRepository(pool)
	hasher := auth.NewArgon2idHasher()

	authSvc, err := auth.NewServiceWithLogger(users, sessions, hasher, logger)
	if err != nil {
		return nil, err
	}
	authSvc.SetSessionTTL(cfg.SessionTTL)

	resetSvc, err := auth.NewPasswordResetServiceWithLogger(users, resets, hasher, logger)
	if err != nil {
		return nil, err
	}
	resetSvc.SetResetTTL(cfg.ResetTTL)

	notifier, err := mail.NewSMTPNotifier(mail.SMTPConfig{
		Addr:     cfg.SMTP.Addr,
		From:     cfg.SMTP.From,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	})
	if err != nil {
		return nil, err
	}

	return httpapi.NewServer(httpapi.Config{
		Addr:            cfg.ListenAddr,
		FrontendBaseURL: cfg.FrontendBaseURL,
		CookieSecure:    cfg.CookieSecure,
	}, authSvc, resetSvc, notifier, metrics, logger)
}

// expiredPurger deletes expired rows and reports how many went away.
type expiredPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// newJanitor builds the periodic sweep over expired sessions and reset
// tokens. Each completed sweep is recorded in the settings table.
func newJanitor(st Store, logger *slog.Logger) func(ctx context.Context) {
	pool := st.Pool()
	sessions := authpg.NewSessionRepository(pool)
	resets := authpg.NewPasswordResetRepository(pool)
	settings := store.NewPostgresSettingsRepository(pool)

	return func(ctx context.Context) {
		runJanitor(ctx, janitorInterval, sessions, resets, settings, logger)
	}
}

func runJanitor(ctx context.Context, interval time.Duration, sessions, resets expiredPurger, settings store.SettingsRepository, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgedSessions, err := sessions.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("janitor: purging expired sessions failed", "error", err)
			}
			purgedResets, err := resets.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("janitor: purging expired reset tokens failed", "error", err)
			}
			if err := settings.Set(ctx, janitorLastRunKey, time.Now().UTC().Format(time.RFC3339), "janitor"); err != nil {
				logger.Warn("janitor: recording last run failed", "error", err)
			}
			logger.Info("janitor sweep complete",
				"sessions_purged", purgedSessions,
				"resets_purged", purgedResets,
			)
		}
	}
}

// monitorServerErrors watches a server's error channel and cancels the
// context on error, triggering graceful shutdown of the whole process.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
