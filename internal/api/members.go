package api

import (
	"net/http"

	"github.com/23026475/trackit/internal/models"
)

// addMemberRequest is the JSON body for POST /v1/projects/{id}/members.
// The user is identified by id or by the email of a registered account.
type addMemberRequest struct {
	UserID string      `json:"user_id"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
}

// updateMemberRequest is the JSON body for PATCH /v1/projects/{id}/members/{userID}.
type updateMemberRequest struct {
	Role models.Role `json:"role"`
}

// handleAddMember handles POST /v1/projects/{id}/members.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	user := getUserFromContext(r.Context())

	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Resolve email to user ID if email provided without user_id
	if req.Email != "" && req.UserID == "" {
		target, err := s.store.GetUserByEmail(req.Email)
		if err != nil {
			writeStoreError(w, r, "look up user", err)
			return
		}
		if target == nil {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "no user with that email")
			return
		}
		req.UserID = target.ID
	}

	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "user_id or email is required")
		return
	}
	if req.Role == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "role is required")
		return
	}

	m, err := s.store.AddMember(projectID, req.UserID, req.Role, user.UserID)
	if err != nil {
		writeStoreError(w, r, "add member", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// handleListMembers handles GET /v1/projects/{id}/members.
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.store.ListMembers(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "list members", err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// handleUpdateMember handles PATCH /v1/projects/{id}/members/{userID}.
func (s *Server) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	targetUserID := r.PathValue("userID")

	var req updateMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "role is required")
		return
	}

	if err := s.store.UpdateMemberRole(projectID, targetUserID, req.Role); err != nil {
		writeStoreError(w, r, "update member", err)
		return
	}
	m, err := s.store.GetMembership(projectID, targetUserID)
	if err != nil {
		writeStoreError(w, r, "get member", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleRemoveMember handles DELETE /v1/projects/{id}/members/{userID}.
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveMember(r.PathValue("id"), r.PathValue("userID")); err != nil {
		writeStoreError(w, r, "remove member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
