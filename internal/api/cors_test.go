package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		preflight   bool
		wantCode    int
		wantAllowed string
	}{
		{name: "disabled", origins: nil, method: "GET", origin: "https://app.example.com", wantCode: 200},
		{name: "no origin header", origins: []string{"https://app.example.com"}, method: "GET", wantCode: 200},
		{name: "allowed", origins: []string{"https://app.example.com"}, method: "GET", origin: "https://app.example.com", wantCode: 200, wantAllowed: "https://app.example.com"},
		{name: "second of several", origins: []string{"https://a.example.com", "https://b.example.com"}, method: "PATCH", origin: "https://b.example.com", wantCode: 200, wantAllowed: "https://b.example.com"},
		{name: "not listed", origins: []string{"https://a.example.com", "https://b.example.com"}, method: "GET", origin: "https://evil.example.net", wantCode: 200},
		{name: "wildcard echoes origin", origins: []string{"*"}, method: "GET", origin: "https://anything.example.org", wantCode: 200, wantAllowed: "https://anything.example.org"},
		{name: "preflight", origins: []string{"https://app.example.com"}, method: "OPTIONS", origin: "https://app.example.com", preflight: true, wantCode: 204, wantAllowed: "https://app.example.com"},
		{name: "preflight from stranger falls through", origins: []string{"https://app.example.com"}, method: "OPTIONS", origin: "https://evil.example.net", preflight: true, wantCode: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{config: Config{CORSAllowedOrigins: tt.origins}}
			req := httptest.NewRequest(tt.method, "/v1/projects", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "DELETE")
			}
			w := httptest.NewRecorder()
			s.CORSMiddleware(ok).ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantAllowed, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantAllowed == "" {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
				return
			}
			assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			assert.Equal(t, corsAllowHeaders, w.Header().Get("Access-Control-Allow-Headers"))
			assert.Equal(t, corsAllowMethods, w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Origin", w.Header().Get("Vary"))
		})
	}
}

func TestCORSPreflightThroughRouter(t *testing.T) {
	srv, _ := newTestServerWithConfig(t, func(cfg *Config) {
		cfg.CORSAllowedOrigins = []string{"https://app.example.com"}
	})
	req := httptest.NewRequest("OPTIONS", "/v1/projects", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := serve(srv, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
