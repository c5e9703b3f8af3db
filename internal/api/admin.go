package api

import (
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/23026475/trackit/internal/models"
	"github.com/23026475/trackit/internal/store"
)

// adminOverview is the response for GET /v1/admin/overview.
type adminOverview struct {
	Users           int             `json:"users"`
	Admins          int             `json:"admins"`
	Projects        int             `json:"projects"`
	AttachmentBytes int64           `json:"attachment_bytes"`
	AttachmentSize  string          `json:"attachment_size"`
	Metrics         MetricsSnapshot `json:"metrics"`
}

// handleAdminOverview handles GET /v1/admin/overview.
func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	var out adminOverview
	var err error
	if out.Users, err = s.store.CountUsers(); err != nil {
		writeStoreError(w, r, "count users", err)
		return
	}
	if out.Admins, err = s.store.CountAdmins(); err != nil {
		writeStoreError(w, r, "count admins", err)
		return
	}
	if out.Projects, err = s.store.CountProjects(); err != nil {
		writeStoreError(w, r, "count projects", err)
		return
	}
	if out.AttachmentBytes, err = s.store.AttachmentBytes(); err != nil {
		writeStoreError(w, r, "sum attachments", err)
		return
	}
	out.AttachmentSize = humanize.Bytes(uint64(out.AttachmentBytes))
	out.Metrics = s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, out)
}

// handleAdminAuthEvents handles GET /v1/admin/auth-events with optional
// ?event_type=&email=&from=&to=&limit=&cursor=.
func (s *Server) handleAdminAuthEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AuthEventFilter{
		EventType: q.Get("event_type"),
		Email:     q.Get("email"),
	}
	var err error
	if f.From, err = models.ParseDate("from", q.Get("from")); err != nil {
		writeStoreError(w, r, "query auth events", err)
		return
	}
	if f.To, err = models.ParseDate("to", q.Get("to")); err != nil {
		writeStoreError(w, r, "query auth events", err)
		return
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
	}

	cursor := q.Get("cursor")
	if cursor != "" {
		if _, err := strconv.ParseInt(cursor, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid cursor")
			return
		}
	}

	page, err := s.store.QueryAuthEvents(f, limit, cursor)
	if err != nil {
		writeStoreError(w, r, "query auth events", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
