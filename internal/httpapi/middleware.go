// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package httpapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatekey/gatekey/internal/auth"
	"github.com/gatekey/gatekey/pkg/errutil"
)

// sessionContextKey is the gin context key holding the resolved *auth.Session.
const sessionContextKey = "gatekey.session"

// requestLogger logs one line per request after the handler chain completes.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP())
	}
}

// recordRequests counts requests by method, route pattern, and status.
func (s *Server) recordRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			// No route matched; fall back to the raw path.
			path = c.Request.URL.Path
		}
		s.metrics.RecordRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
	}
}

// resolveSession validates the session token, if any, and attaches the
// session to the request context. Missing, invalid, and expired tokens all
// leave the request anonymous; only a store failure aborts.
func (s *Server) resolveSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			c.Next()
			return
		}

		session, err := s.auth.ValidateSession(c.Request.Context(), token)
		if err != nil {
			if errutil.HasCode(err, "SESSION_VALIDATE_FAILED") {
				s.internalError(c, "session validation failed", err)
				return
			}
			c.Next()
			return
		}

		c.Set(sessionContextKey, session)
		c.Next()
	}
}

// sessionToken extracts the opaque token from the session cookie, or from an
// Authorization: Bearer header for non-browser clients.
func sessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie != "" {
		return cookie
	}
	const prefix = "Bearer "
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// requireAuth aborts with a uniform 401 unless resolveSession attached a
// session.
func requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := currentSession(c); !ok {
			writeUnauthorized(c)
			return
		}
		c.Next()
	}
}

// currentSession returns the session attached by resolveSession.
func currentSession(c *gin.Context) (*auth.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*auth.Session)
	return session, ok
}
