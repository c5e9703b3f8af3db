package api

import (
	"net/http"
	"slices"
)

const (
	corsAllowHeaders = "Authorization, Content-Type"
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
)

// originAllowed reports whether origin may make credentialed requests.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	return slices.Contains(s.config.CORSAllowedOrigins, "*") ||
		slices.Contains(s.config.CORSAllowedOrigins, origin)
}

// CORSMiddleware lets configured browser origins call the API with
// credentials (the session cookie). Requests from other origins get no CORS
// headers; with no origins configured it is a pass-through.
func (s *Server) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !s.originAllowed(origin) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Add("Vary", "Origin")

		// Preflight ends here.
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
