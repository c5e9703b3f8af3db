package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// newTestLimiter returns a RateLimiter without the cleanup goroutine, driven
// by the returned clock.
func newTestLimiter() (*RateLimiter, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := &RateLimiter{buckets: make(map[string]*bucket)}
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterAllowDeny(t *testing.T) {
	rl, _ := newTestLimiter()

	// Should allow up to the limit
	for i := 0; i < 5; i++ {
		if !rl.Allow("k1", 5) {
			t.Fatalf("expected allow on request %d", i+1)
		}
	}

	// Should deny at the limit
	if rl.Allow("k1", 5) {
		t.Fatal("expected deny after limit reached")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl, now := newTestLimiter()

	for i := 0; i < 3; i++ {
		rl.Allow("k1", 3)
	}
	if rl.Allow("k1", 3) {
		t.Fatal("expected deny after limit")
	}

	*now = now.Add(59 * time.Second)
	if rl.Allow("k1", 3) {
		t.Fatal("expected deny inside the window")
	}

	*now = now.Add(time.Second)
	if !rl.Allow("k1", 3) {
		t.Fatal("expected allow after window reset")
	}
}

func TestRateLimiterKeyIsolation(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < 2; i++ {
		rl.Allow("key1", 2)
	}
	if rl.Allow("key1", 2) {
		t.Fatal("expected key1 denied")
	}

	// key2 should still be allowed
	if !rl.Allow("key2", 2) {
		t.Fatal("expected key2 allowed")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, now := newTestLimiter()

	rl.Allow("stale", 10)
	*now = now.Add(5 * time.Minute)
	rl.Allow("fresh", 10)

	rl.cleanup()

	rl.mu.Lock()
	_, hasStale := rl.buckets["stale"]
	_, hasFresh := rl.buckets["fresh"]
	rl.mu.Unlock()

	if hasStale {
		t.Fatal("expected stale entry to be cleaned up")
	}
	if !hasFresh {
		t.Fatal("expected fresh entry to remain")
	}
}

func TestRateLimiterCloseStopsCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rl := NewRateLimiter()
	rl.Allow("k", 1)
	rl.Close()
	// Close is idempotent.
	rl.Close()
}

func TestAuthRateLimitMiddleware(t *testing.T) {
	rl, _ := newTestLimiter()
	m := NewMetrics()
	const limit = 3

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := authRateLimitMiddleware(rl, limit, nil, m)(inner)

	for i := 0; i < limit; i++ {
		req := httptest.NewRequest("POST", "/v1/auth/login", nil)
		req.RemoteAddr = "1.2.3.4:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest("POST", "/v1/auth/login", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if got := m.Snapshot().RateLimited; got != 1 {
		t.Fatalf("expected 1 rate-limited request recorded, got %d", got)
	}

	// Non-auth endpoint should pass through without rate limiting
	req = httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}

	// Another client is unaffected.
	req = httptest.NewRequest("POST", "/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("different IP: expected 200, got %d", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	proxies, err := parseProxies([]string{"10.0.0.0/8", "192.0.2.7", " "})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}

	tests := []struct {
		name    string
		proxies proxyList
		remote  string
		xff     []string
		want    string
	}{
		{name: "no proxies", remote: "192.0.2.1:4000", want: "192.0.2.1"},
		{name: "forwarded header ignored without trusted proxies", remote: "192.0.2.1:4000", xff: []string{"203.0.113.9"}, want: "192.0.2.1"},
		{name: "untrusted peer", proxies: proxies, remote: "198.51.100.4:4000", xff: []string{"203.0.113.9"}, want: "198.51.100.4"},
		{name: "trusted peer", proxies: proxies, remote: "10.1.2.3:4000", xff: []string{"203.0.113.9"}, want: "203.0.113.9"},
		{name: "trusted single address", proxies: proxies, remote: "192.0.2.7:4000", xff: []string{"203.0.113.9"}, want: "203.0.113.9"},
		{name: "spoofed left entry skipped", proxies: proxies, remote: "10.1.2.3:4000", xff: []string{"1.1.1.1, 203.0.113.9, 10.0.0.5"}, want: "203.0.113.9"},
		{name: "repeated headers", proxies: proxies, remote: "10.1.2.3:4000", xff: []string{"1.1.1.1", "203.0.113.9"}, want: "203.0.113.9"},
		{name: "garbage hop", proxies: proxies, remote: "10.1.2.3:4000", xff: []string{"203.0.113.9, not-an-ip"}, want: "10.1.2.3"},
		{name: "trusted peer without header", proxies: proxies, remote: "10.1.2.3:4000", want: "10.1.2.3"},
		{name: "all hops trusted", proxies: proxies, remote: "10.1.2.3:4000", xff: []string{"10.9.9.9"}, want: "10.9.9.9"},
		{name: "ipv4 mapped peer", proxies: proxies, remote: "[::ffff:10.1.2.3]:4000", xff: []string{"203.0.113.9"}, want: "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if got := tt.proxies.clientIP(req); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}

	if _, err := parseProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for invalid prefix")
	}
}

func TestWithRateLimitIntegration(t *testing.T) {
	const writeLimit = 3
	srv, st := newTestServerWithConfig(t, func(cfg *Config) {
		cfg.RateLimitWrite = writeLimit
		cfg.RateLimitOther = 100000
	})
	_, token := createTestUser(t, st, "ratelimit@example.com")

	for i := 0; i < writeLimit; i++ {
		createTestProject(t, srv, token, "rl-test")
	}

	w := doRequest(srv, "POST", "/v1/projects", token, map[string]any{"name": "one too many"})
	expectError(t, w, http.StatusTooManyRequests, ErrCodeRateLimited)

	// Reads are counted separately.
	expectStatus(t, doRequest(srv, "GET", "/v1/projects", token, nil), http.StatusOK)

	// Limits are per user.
	_, other := createTestUser(t, st, "other@example.com")
	createTestProject(t, srv, other, "mine")
}

func TestAuthEndpointsRateLimitedThroughRouter(t *testing.T) {
	srv, st := newTestServerWithConfig(t, func(cfg *Config) { cfg.RateLimitAuth = 2 })
	createTestUser(t, st, "bob@example.com")

	for i := 0; i < 2; i++ {
		w := doRequest(srv, "POST", "/v1/auth/login", "", loginRequest{Email: "bob@example.com", Password: "wrong"})
		expectStatus(t, w, http.StatusUnauthorized)
	}
	w := doRequest(srv, "POST", "/v1/auth/login", "", loginRequest{Email: "bob@example.com", Password: testPassword})
	expectError(t, w, http.StatusTooManyRequests, ErrCodeRateLimited)
}

func TestAuthRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	srv, st := newTestServerWithConfig(t, func(cfg *Config) { cfg.RateLimitAuth = 3 })
	createTestUser(t, st, "bob@example.com")

	limited := 0
	for i := 0; i < 20; i++ {
		req := newRequest("POST", "/v1/auth/login", "", loginRequest{Email: "bob@example.com", Password: "wrong"})
		req.RemoteAddr = "198.51.100.20:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		if w := serve(srv, req); w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 17 {
		t.Fatalf("expected 17 rate-limited attempts, got %d", limited)
	}
}

func TestAuthRateLimitHonorsTrustedProxy(t *testing.T) {
	srv, st := newTestServerWithConfig(t, func(cfg *Config) {
		cfg.RateLimitAuth = 1
		cfg.TrustedProxies = []string{"10.0.0.1"}
	})
	createTestUser(t, st, "bob@example.com")

	login := func(xff string) int {
		req := newRequest("POST", "/v1/auth/login", "", loginRequest{Email: "bob@example.com", Password: "wrong"})
		req.RemoteAddr = "10.0.0.1:443"
		req.Header.Set("X-Forwarded-For", xff)
		return serve(srv, req).Code
	}

	if code := login("203.0.113.1"); code != http.StatusUnauthorized {
		t.Fatalf("first client: expected 401, got %d", code)
	}
	if code := login("203.0.113.1"); code != http.StatusTooManyRequests {
		t.Fatalf("first client again: expected 429, got %d", code)
	}
	// Distinct clients behind the same proxy keep separate buckets.
	if code := login("203.0.113.2"); code != http.StatusUnauthorized {
		t.Fatalf("second client: expected 401, got %d", code)
	}
}
