package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/23026475/trackit/internal/models"
	"github.com/23026475/trackit/internal/session"
	"github.com/23026475/trackit/internal/store"
)

type contextKey int

const (
	ctxKeyAuthUser contextKey = iota
	ctxKeyRequestID
	ctxKeyProject
	ctxKeyLogger
)

// sessionCookie carries the session token for browser clients.
const sessionCookie = "trackit_session"

// AuthUser holds the authenticated caller. Exactly one of KeyID and
// SessionID is set, depending on how the request authenticated.
type AuthUser struct {
	UserID    string
	Email     string
	IsAdmin   bool
	KeyID     string
	SessionID string
}

// projectAccess is the project and role resolved by requireProjectAuth.
type projectAccess struct {
	Project *models.Project
	Role    models.Role
}

// getUserFromContext returns the authenticated user from the request context, or nil.
func getUserFromContext(ctx context.Context) *AuthUser {
	u, _ := ctx.Value(ctxKeyAuthUser).(*AuthUser)
	return u
}

func getProjectAccess(ctx context.Context) *projectAccess {
	pa, _ := ctx.Value(ctxKeyProject).(*projectAccess)
	return pa
}

// getRequestID returns the request ID from the context.
func getRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// logFor returns the context-scoped logger, falling back to the default logger.
func logFor(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// loggerMiddleware creates a per-request logger with the request ID and stores it in the context.
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := slog.Default().With("rid", getRequestID(r.Context()))
		ctx := context.WithValue(r.Context(), ctxKeyLogger, l)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// metricsMiddleware records request counts and categorizes response status codes.
func metricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.RecordRequest()
			sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sc, r)
			switch {
			case sc.code >= 500:
				m.RecordError()
			case sc.code >= 400:
				m.RecordClientError()
			}
		})
	}
}

// recoveryMiddleware catches panics and returns a 500 response.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logFor(r.Context()).Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// generateRequestID creates a random hex string for request tracing.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// requestIDMiddleware generates a unique request ID and adds it to the context and response headers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := generateRequestID()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusCapture wraps ResponseWriter to capture the status code.
type statusCapture struct {
	http.ResponseWriter
	code int
}

func (sc *statusCapture) WriteHeader(code int) {
	sc.code = code
	sc.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request with method, path, status, and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sc, r)
		logFor(r.Context()).Info("req",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sc.code,
			"dur", time.Since(start).String(),
		)
	})
}

// bearerOrCookie returns the credential of the request: the Authorization
// bearer token if present, otherwise the session cookie.
func bearerOrCookie(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return "", false
		}
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), true
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// authenticate resolves a credential to an AuthUser. It returns nil for
// unknown, expired or revoked credentials.
func (s *Server) authenticate(token string) (*AuthUser, error) {
	if store.IsAPIKey(token) {
		ak, user, err := s.store.VerifyAPIKey(token)
		if err != nil || ak == nil || user == nil {
			return nil, err
		}
		return &AuthUser{UserID: user.ID, Email: user.Email, IsAdmin: user.IsAdmin, KeyID: ak.ID}, nil
	}

	if !session.LooksLikeJWT(token) {
		return nil, nil
	}
	claims, err := s.sessions.Parse(token)
	if err != nil {
		return nil, nil
	}
	sess, err := s.store.GetActiveSession(claims.SessionID)
	if err != nil || sess == nil || sess.UserID != claims.UserID {
		return nil, err
	}
	user, err := s.store.GetUserByID(claims.UserID)
	if err != nil || user == nil {
		return nil, err
	}
	return &AuthUser{UserID: user.ID, Email: user.Email, IsAdmin: user.IsAdmin, SessionID: sess.ID}, nil
}

// requireAuth returns an http.HandlerFunc that verifies the caller's API key
// or session token and injects AuthUser into the context before calling the
// inner handler.
func (s *Server) requireAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerOrCookie(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or malformed credentials")
			return
		}

		authUser, err := s.authenticate(token)
		if err != nil {
			logFor(r.Context()).Error("authenticate", "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to verify credentials")
			return
		}
		if authUser == nil {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired credentials")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAuthUser, authUser)
		// Enrich logger with user ID
		ctx = context.WithValue(ctx, ctxKeyLogger, logFor(ctx).With("uid", authUser.UserID))
		handler(w, r.WithContext(ctx))
	}
}

// requireProjectAuth validates auth and checks the user has the required
// role for the project identified by the "id" path value. Non-members see
// 404 so that project ids do not leak.
func (s *Server) requireProjectAuth(requiredRole models.Role, handler http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		projectID := r.PathValue("id")
		if projectID == "" {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "missing project id")
			return
		}

		user := getUserFromContext(r.Context())
		p, role, err := s.store.Authorize(projectID, user.UserID, requiredRole)
		if err != nil {
			writeStoreError(w, r, "authorize project", err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyProject, &projectAccess{Project: p, Role: role})
		// Enrich logger with project ID
		ctx = context.WithValue(ctx, ctxKeyLogger, logFor(ctx).With("pid", projectID))
		handler(w, r.WithContext(ctx))
	})
}

// requireLiveProject is requireProjectAuth for changes to a project's
// content, which archived projects reject.
func (s *Server) requireLiveProject(requiredRole models.Role, handler http.HandlerFunc) http.HandlerFunc {
	return s.requireProjectAuth(requiredRole, func(w http.ResponseWriter, r *http.Request) {
		if getProjectAccess(r.Context()).Project.Archived() {
			writeStoreError(w, r, "check project", store.ErrArchived)
			return
		}
		handler(w, r)
	})
}

// requireAdmin checks the caller is an authenticated admin.
func (s *Server) requireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !getUserFromContext(r.Context()).IsAdmin {
			writeError(w, http.StatusForbidden, ErrCodeForbidden, "admin access required")
			return
		}
		handler(w, r)
	})
}

// maxBytesMiddleware limits request body size to prevent abuse. Multipart
// uploads get their own, larger limit in the upload handler.
func maxBytesMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middleware in order (first applied is outermost).
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
