package api

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/23026475/trackit/internal/blob"
	"github.com/23026475/trackit/internal/githubinfo"
	"github.com/23026475/trackit/internal/models"
	"github.com/23026475/trackit/internal/render"
	"github.com/23026475/trackit/internal/session"
	"github.com/23026475/trackit/internal/store"
)

// housekeepingInterval is how often expired sessions and old auth events are purged.
const housekeepingInterval = 10 * time.Minute

// Server is the TrackIt HTTP API server.
type Server struct {
	config      Config
	http        *http.Server
	store       *store.Store
	blobs       *blob.Store
	sessions    *session.Signer
	renderer    *render.Renderer
	github      *githubinfo.Client
	metrics     *Metrics
	rateLimiter *RateLimiter
	proxies     proxyList
}

// Version is reported by /healthz. The trackit binary sets it at startup.
var Version = "dev"

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, st *store.Store) (*Server, error) {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		slog.Warn("no session secret configured; sessions will not survive a restart")
	}
	signer, err := session.NewSigner(secret)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.Open(cfg.UploadDir)
	if err != nil {
		return nil, err
	}

	gh, err := githubinfo.New(githubinfo.Options{
		Token:    cfg.GitHubToken,
		BaseURL:  cfg.GitHubAPIURL,
		CacheTTL: cfg.GitHubCacheTTL,
	})
	if err != nil {
		return nil, err
	}

	proxies, err := parseProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}

	s := &Server{
		config:      cfg,
		store:       st,
		blobs:       blobs,
		sessions:    signer,
		renderer:    render.New(),
		github:      gh,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
		proxies:     proxies,
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln and runs periodic housekeeping. When ctx is
// cancelled the server shuts down gracefully, and Serve returns once every
// background goroutine has stopped.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	slog.Info("listening", "addr", ln.Addr().String())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.housekeeping(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		slog.Info("shutting down")
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases background resources. Serve calls it on return.
func (s *Server) Close() {
	s.rateLimiter.Close()
}

func (s *Server) housekeeping(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("housekeeping panic", "panic", r)
		}
	}()
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup purges expired sessions and auth events past retention.
func (s *Server) cleanup() {
	if n, err := s.store.CleanupExpiredSessions(); err != nil {
		slog.Error("cleanup expired sessions", "err", err)
	} else if n > 0 {
		slog.Info("cleaned up expired sessions", "count", n)
	}
	if s.config.AuthEventRetention > 0 {
		if n, err := s.store.CleanupAuthEvents(s.config.AuthEventRetention); err != nil {
			slog.Error("cleanup auth events", "err", err)
		} else if n > 0 {
			slog.Info("cleaned up auth events", "count", n)
		}
	}
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Auth
	mux.HandleFunc("POST /v1/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /v1/auth/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("GET /v1/auth/me", s.requireAuth(s.withRateLimit(s.handleMe)))
	mux.HandleFunc("PATCH /v1/auth/me", s.requireAuth(s.withRateLimit(s.handleUpdateMe)))
	mux.HandleFunc("POST /v1/auth/password", s.requireAuth(s.withRateLimit(s.handleChangePassword)))
	mux.HandleFunc("POST /v1/auth/keys", s.requireAuth(s.withRateLimit(s.handleCreateKey)))
	mux.HandleFunc("GET /v1/auth/keys", s.requireAuth(s.withRateLimit(s.handleListKeys)))
	mux.HandleFunc("DELETE /v1/auth/keys/{keyID}", s.requireAuth(s.withRateLimit(s.handleRevokeKey)))

	// Projects
	mux.HandleFunc("POST /v1/projects", s.requireAuth(s.withRateLimit(s.handleCreateProject)))
	mux.HandleFunc("GET /v1/projects", s.requireAuth(s.withRateLimit(s.handleListProjects)))
	mux.HandleFunc("GET /v1/projects/{id}", s.requireProjectAuth(models.RoleReader, s.withRateLimit(s.handleGetProject)))
	mux.HandleFunc("PATCH /v1/projects/{id}", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleUpdateProject)))
	mux.HandleFunc("DELETE /v1/projects/{id}", s.requireProjectAuth(models.RoleOwner, s.withRateLimit(s.handleDeleteProject)))
	mux.HandleFunc("POST /v1/projects/{id}/archive", s.requireProjectAuth(models.RoleOwner, s.withRateLimit(s.handleArchiveProject)))
	mux.HandleFunc("POST /v1/projects/{id}/restore", s.requireProjectAuth(models.RoleOwner, s.withRateLimit(s.handleRestoreProject)))
	mux.HandleFunc("GET /v1/projects/{id}/github", s.requireProjectAuth(models.RoleReader, s.withRateLimit(s.handleProjectGitHub)))

	// Members
	mux.HandleFunc("POST /v1/projects/{id}/members", s.requireProjectAuth(models.RoleOwner, s.withRateLimit(s.handleAddMember)))
	mux.HandleFunc("GET /v1/projects/{id}/members", s.requireProjectAuth(models.RoleReader, s.withRateLimit(s.handleListMembers)))
	mux.HandleFunc("PATCH /v1/projects/{id}/members/{userID}", s.requireProjectAuth(models.RoleOwner, s.withRateLimit(s.handleUpdateMember)))
	mux.HandleFunc("DELETE /v1/projects/{id}/members/{userID}", s.requireProjectAuth(models.RoleOwner, s.withRateLimit(s.handleRemoveMember)))

	// Tasks & board
	mux.HandleFunc("POST /v1/projects/{id}/tasks", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleCreateTask)))
	mux.HandleFunc("GET /v1/projects/{id}/tasks", s.requireProjectAuth(models.RoleReader, s.withRateLimit(s.handleListTasks)))
	mux.HandleFunc("GET /v1/projects/{id}/tasks/{taskID}", s.requireProjectAuth(models.RoleReader, s.withRateLimit(s.handleGetTask)))
	mux.HandleFunc("PATCH /v1/projects/{id}/tasks/{taskID}", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleUpdateTask)))
	mux.HandleFunc("DELETE /v1/projects/{id}/tasks/{taskID}", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleDeleteTask)))
	mux.HandleFunc("POST /v1/projects/{id}/tasks/{taskID}/move", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleMoveTask)))
	mux.HandleFunc("GET /v1/projects/{id}/board", s.requireProjectAuth(models.RoleReader, s.withRateLimit(s.handleBoard)))

	// Comments
	mux.HandleFunc("POST /v1/projects/{id}/tasks/{taskID}/comments", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleAddComment)))
	mux.HandleFunc("GET /v1/projects/{id}/tasks/{taskID}/comments", s.requireProjectAuth(models.RoleReader, s.withRateLimit(s.handleListComments)))
	mux.HandleFunc("PATCH /v1/projects/{id}/tasks/{taskID}/comments/{commentID}", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleUpdateComment)))
	mux.HandleFunc("DELETE /v1/projects/{id}/tasks/{taskID}/comments/{commentID}", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleDeleteComment)))

	// Sprints
	mux.HandleFunc("POST /v1/projects/{id}/sprints", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleCreateSprint)))
	mux.HandleFunc("GET /v1/projects/{id}/sprints", s.requireProjectAuth(models.RoleReader, s.withRateLimit(s.handleListSprints)))
	mux.HandleFunc("GET /v1/projects/{id}/sprints/{sprintID}", s.requireProjectAuth(models.RoleReader, s.withRateLimit(s.handleGetSprint)))
	mux.HandleFunc("PATCH /v1/projects/{id}/sprints/{sprintID}", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleUpdateSprint)))
	mux.HandleFunc("DELETE /v1/projects/{id}/sprints/{sprintID}", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleDeleteSprint)))
	mux.HandleFunc("POST /v1/projects/{id}/sprints/{sprintID}/start", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleStartSprint)))
	mux.HandleFunc("POST /v1/projects/{id}/sprints/{sprintID}/complete", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleCompleteSprint)))
	mux.HandleFunc("POST /v1/projects/{id}/sprints/{sprintID}/tasks", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleAssignSprintTasks)))
	mux.HandleFunc("POST /v1/projects/{id}/backlog", s.requireLiveProject(models.RoleWriter, s.withRateLimit(s.handleMoveToBacklog)))

	// Research notes
	mux.HandleFunc("POST /v1/notes", s.requireAuth(s.withRateLimit(s.handleCreateNote)))
	mux.HandleFunc("GET /v1/notes", s.requireAuth(s.withRateLimit(s.handleListNotes)))
	mux.HandleFunc("GET /v1/notes/{noteID}", s.requireAuth(s.withRateLimit(s.handleGetNote)))
	mux.HandleFunc("PATCH /v1/notes/{noteID}", s.requireAuth(s.withRateLimit(s.handleUpdateNote)))
	mux.HandleFunc("DELETE /v1/notes/{noteID}", s.requireAuth(s.withRateLimit(s.handleDeleteNote)))
	mux.HandleFunc("POST /v1/notes/{noteID}/tasks", s.requireAuth(s.withRateLimit(s.handleAddNoteTask)))
	mux.HandleFunc("PUT /v1/notes/{noteID}/tasks/order", s.requireAuth(s.withRateLimit(s.handleReorderNoteTasks)))
	mux.HandleFunc("PATCH /v1/notes/{noteID}/tasks/{itemID}", s.requireAuth(s.withRateLimit(s.handleUpdateNoteTask)))
	mux.HandleFunc("POST /v1/notes/{noteID}/tasks/{itemID}/toggle", s.requireAuth(s.withRateLimit(s.handleToggleNoteTask)))
	mux.HandleFunc("DELETE /v1/notes/{noteID}/tasks/{itemID}", s.requireAuth(s.withRateLimit(s.handleDeleteNoteTask)))
	mux.HandleFunc("POST /v1/notes/{noteID}/attachments", s.requireAuth(s.withRateLimit(s.handleUploadAttachment)))
	mux.HandleFunc("GET /v1/notes/{noteID}/attachments", s.requireAuth(s.withRateLimit(s.handleListAttachments)))
	mux.HandleFunc("GET /v1/notes/{noteID}/attachments/{attID}", s.requireAuth(s.withRateLimit(s.handleDownloadAttachment)))
	mux.HandleFunc("DELETE /v1/notes/{noteID}/attachments/{attID}", s.requireAuth(s.withRateLimit(s.handleDeleteAttachment)))

	// Dashboard
	mux.HandleFunc("GET /v1/dashboard", s.requireAuth(s.withRateLimit(s.handleDashboard)))

	// Admin
	mux.HandleFunc("GET /v1/admin/overview", s.requireAdmin(s.handleAdminOverview))
	mux.HandleFunc("GET /v1/admin/auth-events", s.requireAdmin(s.handleAdminAuthEvents))

	return chain(mux,
		recoveryMiddleware,
		requestIDMiddleware,
		loggerMiddleware,
		metricsMiddleware(s.metrics),
		loggingMiddleware,
		s.CORSMiddleware,
		maxBytesMiddleware(1<<20),
		authRateLimitMiddleware(s.rateLimiter, s.config.RateLimitAuth, s.proxies, s.metrics),
	)
}

// handleHealth returns a health check response, pinging the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
