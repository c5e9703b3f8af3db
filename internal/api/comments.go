package api

import (
	"net/http"
	"strings"

	"github.com/23026475/trackit/internal/models"
)

type commentRequest struct {
	Body string `json:"body"`
}

func (req *commentRequest) validate() error {
	if strings.TrimSpace(req.Body) == "" {
		return &models.ValidationError{Field: "body", Message: "is required"}
	}
	return models.ValidateText("body", req.Body)
}

// handleAddComment handles POST /v1/projects/{id}/tasks/{taskID}/comments.
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeStoreError(w, r, "add comment", err)
		return
	}
	c, err := s.store.AddComment(r.PathValue("id"), r.PathValue("taskID"), getUserFromContext(r.Context()).UserID, req.Body)
	if err != nil {
		writeStoreError(w, r, "add comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleListComments handles GET /v1/projects/{id}/tasks/{taskID}/comments.
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.store.ListComments(r.PathValue("id"), r.PathValue("taskID"))
	if err != nil {
		writeStoreError(w, r, "list comments", err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// handleUpdateComment handles PATCH .../comments/{commentID}. Only the
// author may edit.
func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeStoreError(w, r, "update comment", err)
		return
	}
	c, err := s.store.UpdateComment(r.PathValue("id"), r.PathValue("taskID"), r.PathValue("commentID"),
		getUserFromContext(r.Context()).UserID, req.Body)
	if err != nil {
		writeStoreError(w, r, "update comment", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteComment handles DELETE .../comments/{commentID}. The author or
// a project owner may delete.
func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteComment(r.PathValue("id"), r.PathValue("taskID"), r.PathValue("commentID"),
		getUserFromContext(r.Context()).UserID, getProjectAccess(r.Context()).Role)
	if err != nil {
		writeStoreError(w, r, "delete comment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
