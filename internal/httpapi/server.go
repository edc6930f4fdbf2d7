// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

// Package httpapi exposes the authentication service over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekey/gatekey/internal/auth"
	"github.com/gatekey/gatekey/internal/mail"
	"github.com/gatekey/gatekey/internal/observability"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "gatekey_session"

// AuthService is the slice of the authentication service the API consumes.
type AuthService interface {
	Login(ctx context.Context, username, password, userAgent, ipAddress string) (*auth.Session, string, *auth.User, error)
	Logout(ctx context.Context, sessionID ulid.ULID) error
	ValidateSession(ctx context.Context, token string) (*auth.Session, error)
	CurrentUser(ctx context.Context, session *auth.Session) (*auth.User, error)
	ChangePassword(ctx context.Context, session *auth.Session, oldPassword, newPassword1, newPassword2 string) (*auth.User, error)
}

// ResetService is the slice of the password reset service the API consumes.
type ResetService interface {
	RequestReset(ctx context.Context, email string) (string, *auth.User, error)
	ConfirmReset(ctx context.Context, username, token, newPassword1, newPassword2 string) (*auth.User, error)
}

// Config holds API server settings.
type Config struct {
	// Addr is the listen address in "host:port" form.
	Addr string
	// FrontendBaseURL is the browser origin allowed by CORS and the base for
	// password reset links. Empty disables CORS.
	FrontendBaseURL string
	// CookieSecure marks the session cookie Secure.
	CookieSecure bool
}

// Server serves the authentication HTTP API.
type Server struct {
	cfg        Config
	auth       AuthService
	resets     ResetService
	notifier   mail.Notifier
	metrics    *observability.Metrics
	logger     *slog.Logger
	engine     *gin.Engine
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates the API server. metrics may be nil to disable counters;
// logger may be nil to discard logs.
func NewServer(cfg Config, authSvc AuthService, resets ResetService, notifier mail.Notifier, metrics *observability.Metrics, logger *slog.Logger) (*Server, error) {
	if authSvc == nil {
		return nil, oops.Errorf("auth service is required")
	}
	if resets == nil {
		return nil, oops.Errorf("reset service is required")
	}
	if notifier == nil {
		return nil, oops.Errorf("mail notifier is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:      cfg,
		auth:     authSvc,
		resets:   resets,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
	s.engine = s.buildRouter()
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error("panic recovered", "panic", recovered, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, detailResponse{Detail: "internal server error"})
	}))
	engine.Use(s.requestLogger())
	engine.Use(s.recordRequests())
	if s.cfg.FrontendBaseURL != "" {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     []string{s.cfg.FrontendBaseURL},
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	engine.Use(s.resolveSession())

	api := engine.Group("/api/auth")
	api.POST("/", s.handleLogin)
	api.DELETE("/", requireAuth(), s.handleLogout)
	api.GET("/me", requireAuth(), s.handleMe)
	api.POST("/request_password_reset", s.handleRequestPasswordReset)
	api.POST("/reset_password", s.handleResetPassword)
	api.POST("/change_password", requireAuth(), s.handleChangePassword)

	return engine
}

// Handler returns the HTTP handler for the API. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving the API.
// It returns an error channel that will receive any errors from the HTTP
// server after it starts. The channel is closed when the server stops
// gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}

	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
