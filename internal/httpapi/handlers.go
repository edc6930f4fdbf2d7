// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatekey/gatekey/internal/auth"
	"github.com/gatekey/gatekey/internal/mail"
	"github.com/gatekey/gatekey/pkg/errutil"
)

const requiredFieldMessage = "This field is required."

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin authenticates the user and sets the session cookie.
// Unknown-user and wrong-password responses are byte-identical.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeFieldErrors(c, http.StatusUnprocessableEntity, auth.FieldErrors{
			"non_field_errors": {"Invalid request body."},
		})
		return
	}

	fields := auth.FieldErrors{}
	if req.Username == "" {
		fields["username"] = []string{requiredFieldMessage}
	}
	if req.Password == "" {
		fields["password"] = []string{requiredFieldMessage}
	}
	if len(fields) > 0 {
		writeFieldErrors(c, http.StatusUnprocessableEntity, fields)
		return
	}

	session, token, user, err := s.auth.Login(c.Request.Context(), req.Username, req.Password, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		switch {
		case errutil.HasCode(err, "AUTH_INVALID_CREDENTIALS"):
			s.metrics.RecordLogin("invalid_credentials")
			writeDetail(c, http.StatusUnauthorized, "invalid username or password")
		case errutil.HasCode(err, "AUTH_ACCOUNT_LOCKED"):
			s.metrics.RecordLogin("locked")
			writeDetail(c, http.StatusForbidden, "account is temporarily locked")
		case errutil.HasCode(err, "AUTH_ACCOUNT_INACTIVE"):
			s.metrics.RecordLogin("inactive")
			writeDetail(c, http.StatusForbidden, "account is inactive")
		default:
			s.metrics.RecordLogin("error")
			s.internalError(c, "login failed", err)
		}
		return
	}

	s.metrics.RecordLogin("success")
	s.setSessionCookie(c, token, session.ExpiresAt)
	c.JSON(http.StatusOK, user.Profile())
}

// handleLogout deletes the current session and clears the cookie.
// Deleting an already-gone session still succeeds.
func (s *Server) handleLogout(c *gin.Context) {
	session, _ := currentSession(c)

	if err := s.auth.Logout(c.Request.Context(), session.ID); err != nil && !errutil.HasCode(err, "SESSION_NOT_FOUND") {
		s.internalError(c, "logout failed", err)
		return
	}

	s.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

// handleMe returns the authenticated user's profile.
func (s *Server) handleMe(c *gin.Context) {
	session, _ := currentSession(c)

	user, err := s.auth.CurrentUser(c.Request.Context(), session)
	if err != nil {
		if errutil.HasCode(err, "SESSION_INVALID") {
			writeUnauthorized(c)
			return
		}
		s.internalError(c, "current user lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, user.Profile())
}

type resetRequestBody struct {
	Email string `json:"email"`
}

// handleRequestPasswordReset starts the reset flow. The response is 204
// whether or not the email matches an account, and regardless of delivery
// outcome, so the endpoint cannot be used for email enumeration.
func (s *Server) handleRequestPasswordReset(c *gin.Context) {
	var req resetRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeFieldErrors(c, http.StatusUnprocessableEntity, auth.FieldErrors{
			"non_field_errors": {"Invalid request body."},
		})
		return
	}
	if req.Email == "" {
		writeFieldErrors(c, http.StatusUnprocessableEntity, auth.FieldErrors{
			"email": {requiredFieldMessage},
		})
		return
	}

	token, user, err := s.resets.RequestReset(c.Request.Context(), req.Email)
	if err != nil {
		errutil.LogError(s.logger, "password reset request failed", err)
		c.Status(http.StatusNoContent)
		return
	}

	if token != "" {
		s.metrics.RecordPasswordReset("requested")
		link := mail.PasswordResetLink(s.cfg.FrontendBaseURL, token)
		if sendErr := s.notifier.SendPasswordReset(c.Request.Context(), user.Email, link); sendErr != nil {
			errutil.LogError(s.logger, "password reset email delivery failed", sendErr)
		}
	}

	c.Status(http.StatusNoContent)
}

type resetConfirmBody struct {
	Username     string `json:"username"`
	Token        string `json:"token"`
	NewPassword1 string `json:"new_password1"`
	NewPassword2 string `json:"new_password2"`
}

// handleResetPassword completes the reset flow with a token from email.
func (s *Server) handleResetPassword(c *gin.Context) {
	var req resetConfirmBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeFieldErrors(c, http.StatusUnprocessableEntity, auth.FieldErrors{
			"non_field_errors": {"Invalid request body."},
		})
		return
	}

	user, err := s.resets.ConfirmReset(c.Request.Context(), req.Username, req.Token, req.NewPassword1, req.NewPassword2)
	if err != nil {
		var vErr *auth.ValidationError
		if errors.As(err, &vErr) {
			s.metrics.RecordPasswordReset("rejected")
			writeFieldErrors(c, http.StatusUnprocessableEntity, vErr.Fields)
			return
		}
		s.internalError(c, "password reset confirm failed", err)
		return
	}

	s.metrics.RecordPasswordReset("confirmed")
	c.JSON(http.StatusOK, user.Profile())
}

type changePasswordBody struct {
	OldPassword  string `json:"old_password"`
	NewPassword1 string `json:"new_password1"`
	NewPassword2 string `json:"new_password2"`
}

// handleChangePassword changes the authenticated user's password. A wrong
// old password is an authorization failure, not a validation one.
func (s *Server) handleChangePassword(c *gin.Context) {
	session, _ := currentSession(c)

	var req changePasswordBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeFieldErrors(c, http.StatusUnprocessableEntity, auth.FieldErrors{
			"non_field_errors": {"Invalid request body."},
		})
		return
	}

	user, err := s.auth.ChangePassword(c.Request.Context(), session, req.OldPassword, req.NewPassword1, req.NewPassword2)
	if err != nil {
		var vErr *auth.ValidationError
		switch {
		case errutil.HasCode(err, "AUTH_WRONG_PASSWORD"):
			writeFieldErrors(c, http.StatusForbidden, auth.FieldErrors{
				"old_password": []string{},
			})
		case errors.As(err, &vErr):
			writeFieldErrors(c, http.StatusUnprocessableEntity, vErr.Fields)
		case errutil.HasCode(err, "SESSION_INVALID"):
			writeUnauthorized(c)
		default:
			s.internalError(c, "password change failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, user.Profile())
}

func (s *Server) setSessionCookie(c *gin.Context, token string, expiresAt time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
