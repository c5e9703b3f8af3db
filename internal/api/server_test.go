package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/23026475/trackit/internal/models"
	"github.com/23026475/trackit/internal/store"
)

const testPassword = "correct-horse"

// newTestServer creates a Server backed by temp directories for testing.
func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	return newTestServerWithConfig(t, nil)
}

// newTestServerWithConfig creates a test server with a custom config modifier.
func newTestServerWithConfig(t *testing.T, modCfg func(*Config)) (*Server, *store.Store) {
	t.Helper()
	tmpDir := t.TempDir()

	st, err := store.Open(filepath.Join(tmpDir, "trackit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := Config{
		ListenAddr:     ":0",
		UploadDir:      filepath.Join(tmpDir, "uploads"),
		AllowSignup:    true,
		SessionSecret:  "test-secret-test-secret-test-secret!",
		SessionTTL:     time.Hour,
		RateLimitAuth:  100000,
		RateLimitWrite: 100000,
		RateLimitOther: 100000,
		MaxUploadBytes: 1024,
	}
	if modCfg != nil {
		modCfg(&cfg)
	}

	srv, err := NewServer(cfg, st)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	t.Cleanup(srv.Close)

	return srv, st
}

// createTestUser creates a user and API key, returning the user ID and bearer token.
func createTestUser(t *testing.T, st *store.Store, email string) (string, string) {
	t.Helper()
	user, err := st.CreateUser(email, "Test User", testPassword)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, _, err := st.GenerateAPIKey(user.ID, "test", "api", nil)
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}
	return user.ID, token
}

func newRequest(method, path, token string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func doRequest(srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	return serve(srv, newRequest(method, path, token, body))
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	return w
}

// decode unmarshals a response body, failing the test on error.
func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

// expectStatus fails the test unless the response has the given status.
func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

// expectError checks status and error code of an error response.
func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) APIError {
	t.Helper()
	expectStatus(t, w, status)
	var resp ErrorResponse
	decode(t, w, &resp)
	if resp.Error.Code != code {
		t.Fatalf("expected error code %q, got %q (%s)", code, resp.Error.Code, resp.Error.Message)
	}
	return resp.Error
}

// createTestProject creates a project through the API and returns its ID.
func createTestProject(t *testing.T, srv *Server, token, name string) string {
	t.Helper()
	w := doRequest(srv, "POST", "/v1/projects", token, map[string]any{"name": name})
	expectStatus(t, w, http.StatusCreated)
	var p projectResponse
	decode(t, w, &p)
	return p.ID
}

// createTestTask creates a task through the API.
func createTestTask(t *testing.T, srv *Server, token, projectID string, body map[string]any) *models.Task {
	t.Helper()
	w := doRequest(srv, "POST", "/v1/projects/"+projectID+"/tasks", token, body)
	expectStatus(t, w, http.StatusCreated)
	var task models.Task
	decode(t, w, &task)
	return &task
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "GET", "/healthz", "", nil)
	expectStatus(t, w, http.StatusOK)

	var resp map[string]string
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestMetricsCountRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	doRequest(srv, "GET", "/healthz", "", nil)
	doRequest(srv, "GET", "/v1/projects", "", nil)

	w := doRequest(srv, "GET", "/metricz", "", nil)
	expectStatus(t, w, http.StatusOK)
	var snap MetricsSnapshot
	decode(t, w, &snap)
	if snap.Requests < 2 {
		t.Fatalf("expected at least 2 requests, got %d", snap.Requests)
	}
	if snap.ClientErrors != 1 {
		t.Fatalf("expected 1 client error, got %d", snap.ClientErrors)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/v1/projects", "/v1/notes", "/v1/dashboard", "/v1/auth/me"} {
		w := doRequest(srv, "GET", path, "", nil)
		expectError(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)
	}

	w := doRequest(srv, "GET", "/v1/projects", "trk_live_notarealkey", nil)
	expectError(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)

	req := newRequest("GET", "/v1/projects", "", nil)
	req.Header.Set("Authorization", "Basic abc")
	expectError(t, serve(srv, req), http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestServeShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st, err := store.Open(filepath.Join(t.TempDir(), "trackit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	srv, err := NewServer(Config{
		UploadDir:       filepath.Join(t.TempDir(), "uploads"),
		SessionSecret:   "test-secret-test-secret-test-secret!",
		ShutdownTimeout: 5 * time.Second,
		RateLimitAuth:   10,
	}, st)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	tr := &http.Transport{DisableKeepAlives: true}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	tr.CloseIdleConnections()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
