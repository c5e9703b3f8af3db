package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/23026475/trackit/internal/models"
	"github.com/23026475/trackit/internal/store"
)

// signupRequest is the JSON body for POST /v1/auth/signup.
type signupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// loginRequest is the JSON body for POST /v1/auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is returned by signup and login. The token is also set as
// the session cookie.
type sessionResponse struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// handleSignup handles POST /v1/auth/signup.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.config.AllowSignup {
		writeError(w, http.StatusForbidden, ErrCodeSignupDisabled, "signups are disabled")
		return
	}

	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeAPIError(w, http.StatusBadRequest, APIError{Code: ErrCodeValidation, Message: "valid email is required", Field: "email"})
		return
	}
	if req.Password == "" {
		writeAPIError(w, http.StatusBadRequest, APIError{Code: ErrCodeValidation, Message: "password is required", Field: "password"})
		return
	}

	user, err := s.store.CreateUser(req.Email, req.Name, req.Password)
	if err != nil {
		writeStoreError(w, r, "create user", err)
		return
	}
	s.logAuthEvent(r, user.ID, user.Email, store.AuthEventSignup)

	s.startSession(w, r, user, http.StatusCreated)
}

// handleLogin handles POST /v1/auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "email and password are required")
		return
	}

	user, err := s.store.AuthenticateUser(req.Email, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		s.metrics.RecordLogin(false)
		s.logAuthEvent(r, "", req.Email, store.AuthEventLoginFailed)
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		writeStoreError(w, r, "authenticate", err)
		return
	}
	s.metrics.RecordLogin(true)
	s.logAuthEvent(r, user.ID, user.Email, store.AuthEventLogin)

	s.startSession(w, r, user, http.StatusOK)
}

// startSession records a server-side session, signs its token, sets the
// session cookie and writes the session response.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user *models.User, status int) {
	sess, err := s.store.CreateSession(user.ID, r.UserAgent(), s.proxies.clientIP(r), s.config.SessionTTL)
	if err != nil {
		writeStoreError(w, r, "create session", err)
		return
	}
	token, err := s.sessions.Issue(user.ID, sess.ID, s.config.SessionTTL)
	if err != nil {
		writeStoreError(w, r, "issue session token", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, sessionResponse{User: user, Token: token, ExpiresAt: sess.ExpiresAt})
}

// handleLogout handles POST /v1/auth/logout. It revokes the current session
// (if the caller used one) and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	if user.SessionID != "" {
		if err := s.store.RevokeSession(user.SessionID); err != nil {
			writeStoreError(w, r, "revoke session", err)
			return
		}
	}
	s.logAuthEvent(r, user.UserID, user.Email, store.AuthEventLogout)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleMe handles GET /v1/auth/me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUserByID(getUserFromContext(r.Context()).UserID)
	if err != nil {
		writeStoreError(w, r, "get user", err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleUpdateMe handles PATCH /v1/auth/me (display name).
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := models.ValidateName("name", req.Name); err != nil {
		writeStoreError(w, r, "update user", err)
		return
	}
	u, err := s.store.UpdateUserName(getUserFromContext(r.Context()).UserID, req.Name)
	if err != nil {
		writeStoreError(w, r, "update user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleChangePassword handles POST /v1/auth/password. Every session of the
// user is revoked, so the caller must log in again.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	user := getUserFromContext(r.Context())

	if _, err := s.store.AuthenticateUser(user.Email, req.CurrentPassword); err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			writeError(w, http.StatusForbidden, ErrCodeForbidden, "current password is incorrect")
			return
		}
		writeStoreError(w, r, "authenticate", err)
		return
	}
	if err := s.store.SetPassword(user.UserID, req.NewPassword); err != nil {
		writeStoreError(w, r, "set password", err)
		return
	}
	n, err := s.store.RevokeUserSessions(user.UserID)
	if err != nil {
		writeStoreError(w, r, "revoke sessions", err)
		return
	}
	logFor(r.Context()).Info("password changed", "revoked_sessions", n)
	w.WriteHeader(http.StatusNoContent)
}

// createKeyRequest is the JSON body for POST /v1/auth/keys.
type createKeyRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// createKeyResponse carries the plaintext key, shown only once.
type createKeyResponse struct {
	Key    string        `json:"key"`
	APIKey *store.APIKey `json:"api_key"`
}

// handleCreateKey handles POST /v1/auth/keys.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := models.ValidateName("name", req.Name); err != nil {
		writeStoreError(w, r, "create api key", err)
		return
	}
	if req.ExpiresInDays < 0 {
		writeAPIError(w, http.StatusBadRequest, APIError{Code: ErrCodeValidation, Message: "must not be negative", Field: "expires_in_days"})
		return
	}
	var expiresAt *time.Time
	if req.ExpiresInDays > 0 {
		t := time.Now().UTC().Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	user := getUserFromContext(r.Context())
	plaintext, ak, err := s.store.GenerateAPIKey(user.UserID, strings.TrimSpace(req.Name), "api", expiresAt)
	if err != nil {
		writeStoreError(w, r, "create api key", err)
		return
	}
	s.logAuthEvent(r, user.UserID, user.Email, store.AuthEventKeyIssued)
	writeJSON(w, http.StatusCreated, createKeyResponse{Key: plaintext, APIKey: ak})
}

// handleListKeys handles GET /v1/auth/keys.
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListAPIKeys(getUserFromContext(r.Context()).UserID)
	if err != nil {
		writeStoreError(w, r, "list api keys", err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// handleRevokeKey handles DELETE /v1/auth/keys/{keyID}.
func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	if err := s.store.RevokeAPIKey(r.PathValue("keyID"), user.UserID); err != nil {
		writeStoreError(w, r, "revoke api key", err)
		return
	}
	s.logAuthEvent(r, user.UserID, user.Email, store.AuthEventKeyRevoked)
	w.WriteHeader(http.StatusNoContent)
}

// logAuthEvent records an auth event. Errors are logged, not returned.
func (s *Server) logAuthEvent(r *http.Request, userID, email, eventType string) {
	meta, _ := json.Marshal(map[string]string{
		"ip":         s.proxies.clientIP(r),
		"user_agent": r.UserAgent(),
	})
	if err := s.store.InsertAuthEvent(userID, email, eventType, string(meta)); err != nil {
		logFor(r.Context()).Error("log auth event", "type", eventType, "err", err)
	}
}
