// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekey/gatekey/internal/auth"
	"github.com/gatekey/gatekey/internal/httpapi"
)

type fakeAuthService struct {
	loginFn          func(ctx context.Context, username, password, userAgent, ipAddress string) (*auth.Session, string, *auth.User, error)
	logoutFn         func(ctx context.Context, sessionID ulid.ULID) error
	validateFn       func(ctx context.Context, token string) (*auth.Session, error)
	currentUserFn    func(ctx context.Context, session *auth.Session) (*auth.User, error)
	changePasswordFn func(ctx context.Context, session *auth.Session, oldPassword, newPassword1, newPassword2 string) (*auth.User, error)
}

func (f *fakeAuthService) Login(ctx context.Context, username, password, userAgent, ipAddress string) (*auth.Session, string, *auth.User, error) {
	if f.loginFn == nil {
		return nil, "", nil, oops.Errorf("unexpected Login call")
	}
	return f.loginFn(ctx, username, password, userAgent, ipAddress)
}

func (f *fakeAuthService) Logout(ctx context.Context, sessionID ulid.ULID) error {
	if f.logoutFn == nil {
		return oops.Errorf("unexpected Logout call")
	}
	return f.logoutFn(ctx, sessionID)
}

func (f *fakeAuthService) ValidateSession(ctx context.Context, token string) (*auth.Session, error) {
	if f.validateFn == nil {
		return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
	}
	return f.validateFn(ctx, token)
}

func (f *fakeAuthService) CurrentUser(ctx context.Context, session *auth.Session) (*auth.User, error) {
	if f.currentUserFn == nil {
		return nil, oops.Errorf("unexpected CurrentUser call")
	}
	return f.currentUserFn(ctx, session)
}

func (f *fakeAuthService) ChangePassword(ctx context.Context, session *auth.Session, oldPassword, newPassword1, newPassword2 string) (*auth.User, error) {
	if f.changePasswordFn == nil {
		return nil, oops.Errorf("unexpected ChangePassword call")
	}
	return f.changePasswordFn(ctx, session, oldPassword, newPassword1, newPassword2)
}

type fakeResetService struct {
	requestFn func(ctx context.Context, email string) (string, *auth.User, error)
	confirmFn func(ctx context.Context, username, token, newPassword1, newPassword2 string) (*auth.User, error)
}

func (f *fakeResetService) RequestReset(ctx context.Context, email string) (string, *auth.User, error) {
	if f.requestFn == nil {
		return "", nil, oops.Errorf("unexpected RequestReset call")
	}
	return f.requestFn(ctx, email)
}

func (f *fakeResetService) ConfirmReset(ctx context.Context, username, token, newPassword1, newPassword2 string) (*auth.User, error) {
	if f.confirmFn == nil {
		return nil, oops.Errorf("unexpected ConfirmReset call")
	}
	return f.confirmFn(ctx, username, token, newPassword1, newPassword2)
}

type sentMail struct {
	to   string
	link string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, to, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{to: to, link: link})
	return n.err
}

func (n *recordingNotifier) sentMail() []sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMail(nil), n.sent...)
}

func newTestServer(t *testing.T, authSvc *fakeAuthService, resets *fakeResetService, notifier *recordingNotifier) *httpapi.Server {
	t.Helper()
	if authSvc == nil {
		authSvc = &fakeAuthService{}
	}
	if resets == nil {
		resets = &fakeResetService{}
	}
	if notifier == nil {
		notifier = &recordingNotifier{}
	}
	srv, err := httpapi.NewServer(httpapi.Config{
		Addr:            "127.0.0.1:0",
		FrontendBaseURL: "https://app.example.com",
	}, authSvc, resets, notifier, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return srv
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if setup != nil {
		setup(req)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func withSessionCookie(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: httpapi.SessionCookieName, Value: token})
	}
}

func newTestUser() *auth.User {
	return &auth.User{
		ID:          ulid.MustParse("01JFGH0000000000000000TEST"),
		Username:    "alice",
		Email:       "alice@example.com",
		FirstName:   "Alice",
		LastName:    "Liddell",
		IsActive:    true,
		Groups:      []string{"members"},
		Permissions: []string{"accounts.view_profile"},
		DateJoined:  time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func newTestSession(userID ulid.ULID) *auth.Session {
	now := time.Now()
	return &auth.Session{
		ID:         ulid.Make(),
		UserID:     userID,
		TokenHash:  auth.HashSessionToken("sessiontoken"),
		ExpiresAt:  now.Add(24 * time.Hour),
		CreatedAt:  now,
		LastSeenAt: now,
	}
}

const testUserJSON = `{
	"id": "01JFGH0000000000000000TEST",
	"username": "alice",
	"email": "alice@example.com",
	"first_name": "Alice",
	"last_name": "Liddell",
	"is_active": true,
	"is_staff": false,
	"is_superuser": false,
	"date_joined": "2026-01-15T10:30:00Z",
	"last_login": null,
	"groups": ["members"],
	"user_permissions": ["accounts.view_profile"]
}`

func TestLogin(t *testing.T) {
	t.Run("success sets cookie and returns user", func(t *testing.T) {
		user := newTestUser()
		session := newTestSession(user.ID)
		authSvc := &fakeAuthService{
			loginFn: func(_ context.Context, username, password, _, _ string) (*auth.Session, string, *auth.User, error) {
				assert.Equal(t, "alice", username)
				assert.Equal(t, "correct horse", password)
				return session, "sessiontoken", user, nil
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/", map[string]string{
			"username": "alice",
			"password": "correct horse",
		}, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, testUserJSON, w.Body.String())

		var cookie *http.Cookie
		for _, ck := range w.Result().Cookies() {
			if ck.Name == httpapi.SessionCookieName {
				cookie = ck
			}
		}
		require.NotNil(t, cookie, "session cookie not set")
		assert.Equal(t, "sessiontoken", cookie.Value)
		assert.True(t, cookie.HttpOnly)
		assert.Equal(t, "/", cookie.Path)
		assert.Positive(t, cookie.MaxAge)
	})

	t.Run("identical body for unknown user and wrong password", func(t *testing.T) {
		invalid := func(_ context.Context, _, _, _, _ string) (*auth.Session, string, *auth.User, error) {
			return nil, "", nil, oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username or password")
		}

		unknownBody := doRequest(t, newTestServer(t, &fakeAuthService{loginFn: invalid}, nil, nil).Handler(),
			http.MethodPost, "/api/auth/", map[string]string{"username": "ghost", "password": "whatever"}, nil)
		wrongBody := doRequest(t, newTestServer(t, &fakeAuthService{loginFn: invalid}, nil, nil).Handler(),
			http.MethodPost, "/api/auth/", map[string]string{"username": "alice", "password": "wrong"}, nil)

		require.Equal(t, http.StatusUnauthorized, unknownBody.Code)
		require.Equal(t, http.StatusUnauthorized, wrongBody.Code)
		assert.Equal(t, unknownBody.Body.String(), wrongBody.Body.String())
		assert.JSONEq(t, `{"detail":"invalid username or password"}`, unknownBody.Body.String())
	})

	t.Run("locked account", func(t *testing.T) {
		authSvc := &fakeAuthService{
			loginFn: func(_ context.Context, _, _, _, _ string) (*auth.Session, string, *auth.User, error) {
				return nil, "", nil, oops.Code("AUTH_ACCOUNT_LOCKED").Errorf("account is temporarily locked")
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/", map[string]string{
			"username": "alice", "password": "correct horse",
		}, nil)

		require.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t, `{"detail":"account is temporarily locked"}`, w.Body.String())
	})

	t.Run("inactive account", func(t *testing.T) {
		authSvc := &fakeAuthService{
			loginFn: func(_ context.Context, _, _, _, _ string) (*auth.Session, string, *auth.User, error) {
				return nil, "", nil, oops.Code("AUTH_ACCOUNT_INACTIVE").Errorf("account is inactive")
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/", map[string]string{
			"username": "alice", "password": "correct horse",
		}, nil)

		require.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t, `{"detail":"account is inactive"}`, w.Body.String())
	})

	t.Run("missing fields", func(t *testing.T) {
		srv := newTestServer(t, nil, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/", map[string]string{}, nil)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"errors":{"username":["This field is required."],"password":["This field is required."]}}`, w.Body.String())
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := newTestServer(t, nil, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/", bytes.NewReader([]byte("{not json")))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("infrastructure failure", func(t *testing.T) {
		authSvc := &fakeAuthService{
			loginFn: func(_ context.Context, _, _, _, _ string) (*auth.Session, string, *auth.User, error) {
				return nil, "", nil, oops.Code("AUTH_LOGIN_FAILED").Errorf("store down")
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/", map[string]string{
			"username": "alice", "password": "correct horse",
		}, nil)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"detail":"internal server error"}`, w.Body.String())
	})
}

func TestLogout(t *testing.T) {
	t.Run("success clears cookie", func(t *testing.T) {
		user := newTestUser()
		session := newTestSession(user.ID)
		var deleted ulid.ULID
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, token string) (*auth.Session, error) {
				require.Equal(t, "sessiontoken", token)
				return session, nil
			},
			logoutFn: func(_ context.Context, sessionID ulid.ULID) error {
				deleted = sessionID
				return nil
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodDelete, "/api/auth/", nil, withSessionCookie("sessiontoken"))

		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, session.ID, deleted)

		var cookie *http.Cookie
		for _, ck := range w.Result().Cookies() {
			if ck.Name == httpapi.SessionCookieName {
				cookie = ck
			}
		}
		require.NotNil(t, cookie, "session cookie not cleared")
		assert.Empty(t, cookie.Value)
		assert.Negative(t, cookie.MaxAge)
	})

	t.Run("already deleted session still succeeds", func(t *testing.T) {
		session := newTestSession(ulid.Make())
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, _ string) (*auth.Session, error) { return session, nil },
			logoutFn: func(_ context.Context, _ ulid.ULID) error {
				return oops.Code("SESSION_NOT_FOUND").Errorf("session not found")
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodDelete, "/api/auth/", nil, withSessionCookie("sessiontoken"))

		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		srv := newTestServer(t, nil, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodDelete, "/api/auth/", nil, nil)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"detail":"authentication required"}`, w.Body.String())
	})
}

func TestMe(t *testing.T) {
	t.Run("returns profile", func(t *testing.T) {
		user := newTestUser()
		session := newTestSession(user.ID)
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, _ string) (*auth.Session, error) { return session, nil },
			currentUserFn: func(_ context.Context, got *auth.Session) (*auth.User, error) {
				assert.Equal(t, session, got)
				return user, nil
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodGet, "/api/auth/me", nil, withSessionCookie("sessiontoken"))

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, testUserJSON, w.Body.String())
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		user := newTestUser()
		session := newTestSession(user.ID)
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, token string) (*auth.Session, error) {
				require.Equal(t, "sessiontoken", token)
				return session, nil
			},
			currentUserFn: func(_ context.Context, _ *auth.Session) (*auth.User, error) { return user, nil },
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodGet, "/api/auth/me", nil, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer sessiontoken")
		})

		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		srv := newTestServer(t, nil, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodGet, "/api/auth/me", nil, nil)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"detail":"authentication required"}`, w.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, _ string) (*auth.Session, error) {
				return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodGet, "/api/auth/me", nil, withSessionCookie("bogus"))

		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"detail":"authentication required"}`, w.Body.String())
	})

	t.Run("expired token", func(t *testing.T) {
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, _ string) (*auth.Session, error) {
				return nil, oops.Code("SESSION_EXPIRED").Errorf("session has expired")
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodGet, "/api/auth/me", nil, withSessionCookie("stale"))

		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"detail":"authentication required"}`, w.Body.String())
	})

	t.Run("session store failure", func(t *testing.T) {
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, _ string) (*auth.Session, error) {
				return nil, oops.Code("SESSION_VALIDATE_FAILED").Errorf("store down")
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodGet, "/api/auth/me", nil, withSessionCookie("sessiontoken"))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"detail":"internal server error"}`, w.Body.String())
	})

	t.Run("session outlived user", func(t *testing.T) {
		session := newTestSession(ulid.Make())
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, _ string) (*auth.Session, error) { return session, nil },
			currentUserFn: func(_ context.Context, _ *auth.Session) (*auth.User, error) {
				return nil, oops.Code("SESSION_INVALID").Errorf("user is gone")
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodGet, "/api/auth/me", nil, withSessionCookie("sessiontoken"))

		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequestPasswordReset(t *testing.T) {
	t.Run("known email sends link", func(t *testing.T) {
		user := newTestUser()
		resets := &fakeResetService{
			requestFn: func(_ context.Context, email string) (string, *auth.User, error) {
				assert.Equal(t, "alice@example.com", email)
				return "resettoken", user, nil
			},
		}
		notifier := &recordingNotifier{}
		srv := newTestServer(t, nil, resets, notifier)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/request_password_reset", map[string]string{
			"email": "alice@example.com",
		}, nil)

		require.Equal(t, http.StatusNoContent, w.Code)
		sent := notifier.sentMail()
		require.Len(t, sent, 1)
		assert.Equal(t, "alice@example.com", sent[0].to)
		assert.Equal(t, "https://app.example.com/reset-password?token=resettoken", sent[0].link)
	})

	t.Run("unknown email responds identically without mail", func(t *testing.T) {
		resets := &fakeResetService{
			requestFn: func(_ context.Context, _ string) (string, *auth.User, error) {
				return "", nil, nil
			},
		}
		notifier := &recordingNotifier{}
		srv := newTestServer(t, nil, resets, notifier)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/request_password_reset", map[string]string{
			"email": "nobody@example.com",
		}, nil)

		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, notifier.sentMail())
	})

	t.Run("store failure still responds 204", func(t *testing.T) {
		resets := &fakeResetService{
			requestFn: func(_ context.Context, _ string) (string, *auth.User, error) {
				return "", nil, oops.Code("RESET_REQUEST_FAILED").Errorf("store down")
			},
		}
		srv := newTestServer(t, nil, resets, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/request_password_reset", map[string]string{
			"email": "alice@example.com",
		}, nil)

		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("delivery failure still responds 204", func(t *testing.T) {
		user := newTestUser()
		resets := &fakeResetService{
			requestFn: func(_ context.Context, _ string) (string, *auth.User, error) {
				return "resettoken", user, nil
			},
		}
		notifier := &recordingNotifier{err: oops.Code("MAIL_SEND_FAILED").Errorf("smtp down")}
		srv := newTestServer(t, nil, resets, notifier)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/request_password_reset", map[string]string{
			"email": "alice@example.com",
		}, nil)

		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("missing email", func(t *testing.T) {
		srv := newTestServer(t, nil, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/request_password_reset", map[string]string{}, nil)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"errors":{"email":["This field is required."]}}`, w.Body.String())
	})
}

func TestResetPassword(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		user := newTestUser()
		resets := &fakeResetService{
			confirmFn: func(_ context.Context, username, token, new1, new2 string) (*auth.User, error) {
				assert.Equal(t, "alice", username)
				assert.Equal(t, "resettoken", token)
				assert.Equal(t, "newSecurePass1", new1)
				assert.Equal(t, "newSecurePass1", new2)
				return user, nil
			},
		}
		srv := newTestServer(t, nil, resets, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/reset_password", map[string]string{
			"username":      "alice",
			"token":         "resettoken",
			"new_password1": "newSecurePass1",
			"new_password2": "newSecurePass1",
		}, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, testUserJSON, w.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		resets := &fakeResetService{
			confirmFn: func(_ context.Context, _, _, _, _ string) (*auth.User, error) {
				return nil, &auth.ValidationError{Fields: auth.FieldErrors{
					"token": {"Invalid or expired reset token."},
				}}
			},
		}
		srv := newTestServer(t, nil, resets, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/reset_password", map[string]string{
			"username":      "alice",
			"token":         "bogus",
			"new_password1": "newSecurePass1",
			"new_password2": "newSecurePass1",
		}, nil)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"errors":{"token":["Invalid or expired reset token."]}}`, w.Body.String())
	})

	t.Run("mismatched passwords", func(t *testing.T) {
		resets := &fakeResetService{
			confirmFn: func(_ context.Context, _, _, _, _ string) (*auth.User, error) {
				return nil, &auth.ValidationError{Fields: auth.FieldErrors{
					"new_password2": {"The two password fields didn't match."},
				}}
			},
		}
		srv := newTestServer(t, nil, resets, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/reset_password", map[string]string{
			"username":      "alice",
			"token":         "resettoken",
			"new_password1": "one",
			"new_password2": "two",
		}, nil)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"errors":{"new_password2":["The two password fields didn't match."]}}`, w.Body.String())
	})

	t.Run("infrastructure failure", func(t *testing.T) {
		resets := &fakeResetService{
			confirmFn: func(_ context.Context, _, _, _, _ string) (*auth.User, error) {
				return nil, oops.Code("RESET_CONFIRM_FAILED").Errorf("store down")
			},
		}
		srv := newTestServer(t, nil, resets, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/reset_password", map[string]string{
			"username":      "alice",
			"token":         "resettoken",
			"new_password1": "newSecurePass1",
			"new_password2": "newSecurePass1",
		}, nil)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"detail":"internal server error"}`, w.Body.String())
	})
}

func TestChangePassword(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		user := newTestUser()
		session := newTestSession(user.ID)
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, _ string) (*auth.Session, error) { return session, nil },
			changePasswordFn: func(_ context.Context, got *auth.Session, old, new1, new2 string) (*auth.User, error) {
				assert.Equal(t, session, got)
				assert.Equal(t, "correct horse", old)
				assert.Equal(t, "newSecurePass1", new1)
				assert.Equal(t, "newSecurePass1", new2)
				return user, nil
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/change_password", map[string]string{
			"old_password":  "correct horse",
			"new_password1": "newSecurePass1",
			"new_password2": "newSecurePass1",
		}, withSessionCookie("sessiontoken"))

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, testUserJSON, w.Body.String())
	})

	t.Run("wrong old password", func(t *testing.T) {
		session := newTestSession(ulid.Make())
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, _ string) (*auth.Session, error) { return session, nil },
			changePasswordFn: func(_ context.Context, _ *auth.Session, _, _, _ string) (*auth.User, error) {
				return nil, oops.Code("AUTH_WRONG_PASSWORD").Errorf("old password does not match")
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/change_password", map[string]string{
			"old_password":  "wrong",
			"new_password1": "newSecurePass1",
			"new_password2": "newSecurePass1",
		}, withSessionCookie("sessiontoken"))

		require.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t, `{"errors":{"old_password":[]}}`, w.Body.String())
	})

	t.Run("policy violation", func(t *testing.T) {
		session := newTestSession(ulid.Make())
		authSvc := &fakeAuthService{
			validateFn: func(_ context.Context, _ string) (*auth.Session, error) { return session, nil },
			changePasswordFn: func(_ context.Context, _ *auth.Session, _, _, _ string) (*auth.User, error) {
				return nil, &auth.ValidationError{Fields: auth.FieldErrors{
					"new_password2": {"Password must be at least 8 characters."},
				}}
			},
		}
		srv := newTestServer(t, authSvc, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/change_password", map[string]string{
			"old_password":  "correct horse",
			"new_password1": "short",
			"new_password2": "short",
		}, withSessionCookie("sessiontoken"))

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.JSONEq(t, `{"errors":{"new_password2":["Password must be at least 8 characters."]}}`, w.Body.String())
	})

	t.Run("unauthenticated", func(t *testing.T) {
		srv := newTestServer(t, nil, nil, nil)

		w := doRequest(t, srv.Handler(), http.MethodPost, "/api/auth/change_password", map[string]string{
			"old_password":  "correct horse",
			"new_password1": "newSecurePass1",
			"new_password2": "newSecurePass1",
		}, nil)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"detail":"authentication required"}`, w.Body.String())
	})
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	cfg := httpapi.Config{Addr: "127.0.0.1:0"}
	logger := slog.New(slog.DiscardHandler)

	_, err := httpapi.NewServer(cfg, nil, &fakeResetService{}, &recordingNotifier{}, nil, logger)
	require.Error(t, err)

	_, err = httpapi.NewServer(cfg, &fakeAuthService{}, nil, &recordingNotifier{}, nil, logger)
	require.Error(t, err)

	_, err = httpapi.NewServer(cfg, &fakeAuthService{}, &fakeResetService{}, nil, nil, logger)
	require.Error(t, err)
}
