package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/23026475/trackit/internal/models"
)

// sprintRequest is the JSON body for creating and patching sprints. Status
// is not writable here; use the start and complete actions.
type sprintRequest struct {
	Name      *string `json:"name"`
	Goal      *string `json:"goal"`
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
}

func (req *sprintRequest) apply(sp *models.Sprint) error {
	if req.Name != nil {
		sp.Name = strings.TrimSpace(*req.Name)
	}
	if req.Goal != nil {
		sp.Goal = *req.Goal
	}
	if req.StartDate != nil {
		d, err := models.ParseDate("start_date", *req.StartDate)
		if err != nil {
			return err
		}
		sp.StartDate = d
	}
	if req.EndDate != nil {
		d, err := models.ParseDate("end_date", *req.EndDate)
		if err != nil {
			return err
		}
		sp.EndDate = d
	}

	if err := models.ValidateName("name", sp.Name); err != nil {
		return err
	}
	if err := models.ValidateText("goal", sp.Goal); err != nil {
		return err
	}
	return models.ValidateDateRange("start_date", "end_date", sp.StartDate, sp.EndDate)
}

// handleCreateSprint handles POST /v1/projects/{id}/sprints.
func (s *Server) handleCreateSprint(w http.ResponseWriter, r *http.Request) {
	var req sprintRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sp := &models.Sprint{ProjectID: r.PathValue("id")}
	if err := req.apply(sp); err != nil {
		writeStoreError(w, r, "create sprint", err)
		return
	}
	if err := s.store.CreateSprint(sp); err != nil {
		writeStoreError(w, r, "create sprint", err)
		return
	}
	writeJSON(w, http.StatusCreated, sp)
}

// handleListSprints handles GET /v1/projects/{id}/sprints.
func (s *Server) handleListSprints(w http.ResponseWriter, r *http.Request) {
	sprints, err := s.store.ListSprints(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "list sprints", err)
		return
	}
	writeJSON(w, http.StatusOK, sprints)
}

// handleGetSprint handles GET /v1/projects/{id}/sprints/{sprintID}.
func (s *Server) handleGetSprint(w http.ResponseWriter, r *http.Request) {
	sp, err := s.store.GetSprint(r.PathValue("id"), r.PathValue("sprintID"))
	if err != nil {
		writeStoreError(w, r, "get sprint", err)
		return
	}
	if sp == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "sprint not found")
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

// handleUpdateSprint handles PATCH /v1/projects/{id}/sprints/{sprintID}.
func (s *Server) handleUpdateSprint(w http.ResponseWriter, r *http.Request) {
	var req sprintRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	current, err := s.store.GetSprint(r.PathValue("id"), r.PathValue("sprintID"))
	if err != nil {
		writeStoreError(w, r, "get sprint", err)
		return
	}
	if current == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "sprint not found")
		return
	}
	sp := current.Sprint
	if err := req.apply(sp); err != nil {
		writeStoreError(w, r, "update sprint", err)
		return
	}
	if err := s.store.UpdateSprint(sp); err != nil {
		writeStoreError(w, r, "update sprint", err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// handleDeleteSprint handles DELETE /v1/projects/{id}/sprints/{sprintID}.
// Tasks of the sprint go back to the backlog.
func (s *Server) handleDeleteSprint(w http.ResponseWriter, r *http.Request) {
	detached, err := s.store.DeleteSprint(r.PathValue("id"), r.PathValue("sprintID"))
	if err != nil {
		writeStoreError(w, r, "delete sprint", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": r.PathValue("sprintID"), "detached_tasks": detached})
}

// handleStartSprint handles POST .../sprints/{sprintID}/start.
func (s *Server) handleStartSprint(w http.ResponseWriter, r *http.Request) {
	sp, err := s.store.StartSprint(r.PathValue("id"), r.PathValue("sprintID"))
	if err != nil {
		writeStoreError(w, r, "start sprint", err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

// completeSprintRequest is the optional JSON body for .../complete. Without
// carry_over_to, unfinished tasks return to the backlog.
type completeSprintRequest struct {
	CarryOverTo string `json:"carry_over_to"`
}

// handleCompleteSprint handles POST .../sprints/{sprintID}/complete.
func (s *Server) handleCompleteSprint(w http.ResponseWriter, r *http.Request) {
	var req completeSprintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	res, err := s.store.CompleteSprint(r.PathValue("id"), r.PathValue("sprintID"), strings.TrimSpace(req.CarryOverTo))
	if err != nil {
		writeStoreError(w, r, "complete sprint", err)
		return
	}
	logFor(r.Context()).Info("sprint completed", "sprint", res.Sprint.ID, "done", res.Done, "carried_over", res.CarriedOver)
	writeJSON(w, http.StatusOK, res)
}

// assignTasksRequest lists the tasks to move into a sprint or the backlog.
type assignTasksRequest struct {
	TaskIDs []string `json:"task_ids"`
}

// handleAssignSprintTasks handles POST .../sprints/{sprintID}/tasks.
func (s *Server) handleAssignSprintTasks(w http.ResponseWriter, r *http.Request) {
	s.assignTasks(w, r, r.PathValue("sprintID"))
}

// handleMoveToBacklog handles POST /v1/projects/{id}/backlog.
func (s *Server) handleMoveToBacklog(w http.ResponseWriter, r *http.Request) {
	s.assignTasks(w, r, "")
}

func (s *Server) assignTasks(w http.ResponseWriter, r *http.Request, sprintID string) {
	var req assignTasksRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := s.store.AssignTasksToSprint(r.PathValue("id"), sprintID, req.TaskIDs)
	if err != nil {
		writeStoreError(w, r, "assign tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sprint_id": sprintID, "assigned": n})
}
