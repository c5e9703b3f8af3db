package api

import (
	"net/http"
)

// handleDashboard handles GET /v1/dashboard.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.Dashboard(getUserFromContext(r.Context()).UserID)
	if err != nil {
		writeStoreError(w, r, "load dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
