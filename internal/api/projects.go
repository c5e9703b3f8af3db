package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/23026475/trackit/internal/githubinfo"
	"github.com/23026475/trackit/internal/models"
)

// projectRequest is the JSON body for creating and patching projects.
// Omitted fields are left unchanged on PATCH; an empty date string clears
// the date.
type projectRequest struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	Status      *models.ProjectStatus `json:"status"`
	Priority    *models.Priority      `json:"priority"`
	TechStack   []string              `json:"tech_stack"`
	GitHubURL   *string               `json:"github_url"`
	LiveURL     *string               `json:"live_url"`
	StartDate   *string               `json:"start_date"`
	TargetDate  *string               `json:"target_date"`
}

// projectResponse is a project with the caller's role in it.
type projectResponse struct {
	*models.Project
	Role models.Role `json:"role"`
}

// apply copies the set fields of req onto p and validates the result.
func (req *projectRequest) apply(p *models.Project) error {
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	if req.Priority != nil {
		p.Priority = *req.Priority
	}
	if req.TechStack != nil {
		stack, err := models.NormalizeTechStack(req.TechStack)
		if err != nil {
			return err
		}
		p.TechStack = stack
	}
	if req.GitHubURL != nil {
		p.GitHubURL = strings.TrimSpace(*req.GitHubURL)
	}
	if req.LiveURL != nil {
		p.LiveURL = strings.TrimSpace(*req.LiveURL)
	}
	if req.StartDate != nil {
		d, err := models.ParseDate("start_date", *req.StartDate)
		if err != nil {
			return err
		}
		p.StartDate = d
	}
	if req.TargetDate != nil {
		d, err := models.ParseDate("target_date", *req.TargetDate)
		if err != nil {
			return err
		}
		p.TargetDate = d
	}

	if err := models.ValidateName("name", p.Name); err != nil {
		return err
	}
	if err := models.ValidateText("description", p.Description); err != nil {
		return err
	}
	if !p.Status.Valid() {
		return &models.ValidationError{Field: "status", Message: "must be one of planning, active, on_hold, completed"}
	}
	if !p.Priority.Valid() {
		return &models.ValidationError{Field: "priority", Message: "must be one of low, medium, high, urgent"}
	}
	if err := models.ValidateURL("github_url", p.GitHubURL); err != nil {
		return err
	}
	if err := models.ValidateURL("live_url", p.LiveURL); err != nil {
		return err
	}
	return models.ValidateDateRange("start_date", "target_date", p.StartDate, p.TargetDate)
}

// handleCreateProject handles POST /v1/projects.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	var req projectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := &models.Project{
		OwnerID:   user.UserID,
		Status:    models.ProjectPlanning,
		Priority:  models.PriorityMedium,
		TechStack: []string{},
	}
	if err := req.apply(p); err != nil {
		writeStoreError(w, r, "create project", err)
		return
	}
	if err := s.store.CreateProject(p); err != nil {
		writeStoreError(w, r, "create project", err)
		return
	}
	logFor(r.Context()).Info("project created", "pid", p.ID)
	writeJSON(w, http.StatusCreated, projectResponse{Project: p, Role: models.RoleOwner})
}

// handleListProjects handles GET /v1/projects. With ?archived=true it lists
// the History view instead of live projects.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	archived := r.URL.Query().Get("archived") == "true"

	projects, err := s.store.ListProjectsForUser(user.UserID, archived)
	if err != nil {
		writeStoreError(w, r, "list projects", err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// handleGetProject handles GET /v1/projects/{id}.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	pa := getProjectAccess(r.Context())
	writeJSON(w, http.StatusOK, projectResponse{Project: pa.Project, Role: pa.Role})
}

// handleUpdateProject handles PATCH /v1/projects/{id}.
func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	pa := getProjectAccess(r.Context())

	var req projectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := *pa.Project
	if err := req.apply(&p); err != nil {
		writeStoreError(w, r, "update project", err)
		return
	}
	if err := s.store.UpdateProject(&p); err != nil {
		writeStoreError(w, r, "update project", err)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse{Project: &p, Role: pa.Role})
}

// handleDeleteProject handles DELETE /v1/projects/{id}. The delete is
// permanent; archive is the reversible alternative.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	res, err := s.store.DeleteProject(projectID)
	if err != nil {
		writeStoreError(w, r, "delete project", err)
		return
	}
	logFor(r.Context()).Info("project deleted", "tasks", res.Tasks, "sprints", res.Sprints, "comments", res.Comments)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": projectID, "removed": res})
}

// handleArchiveProject handles POST /v1/projects/{id}/archive.
func (s *Server) handleArchiveProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.ArchiveProject(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "archive project", err)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse{Project: p, Role: getProjectAccess(r.Context()).Role})
}

// handleRestoreProject handles POST /v1/projects/{id}/restore.
func (s *Server) handleRestoreProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.RestoreProject(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "restore project", err)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse{Project: p, Role: getProjectAccess(r.Context()).Role})
}

// handleProjectGitHub handles GET /v1/projects/{id}/github.
func (s *Server) handleProjectGitHub(w http.ResponseWriter, r *http.Request) {
	p := getProjectAccess(r.Context()).Project
	if p.GitHubURL == "" {
		writeStoreError(w, r, "fetch github repo", githubinfo.ErrNotGitHub)
		return
	}

	info, err := s.github.RepoForURL(r.Context(), p.GitHubURL)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, info)
	case errors.Is(err, githubinfo.ErrNotGitHub), errors.Is(err, githubinfo.ErrRepoNotFound):
		writeStoreError(w, r, "fetch github repo", err)
	default:
		logFor(r.Context()).Warn("fetch github repo", "url", p.GitHubURL, "err", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "could not reach GitHub")
	}
}
