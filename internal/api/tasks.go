package api

import (
	"net/http"
	"strings"

	"github.com/23026475/trackit/internal/models"
	"github.com/23026475/trackit/internal/store"
)

// taskRequest is the JSON body for creating and patching tasks. On PATCH,
// omitted fields are unchanged; sprint_id "" moves the task to the backlog
// and due_date "" clears the due date.
type taskRequest struct {
	Title       *string            `json:"title"`
	Description *string            `json:"description"`
	Status      *models.TaskStatus `json:"status"`
	Priority    *models.Priority   `json:"priority"`
	Labels      []string           `json:"labels"`
	DueDate     *string            `json:"due_date"`
	SprintID    *string            `json:"sprint_id"`
}

func (req *taskRequest) apply(t *models.Task) error {
	if req.Title != nil {
		t.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.Labels != nil {
		labels, err := models.NormalizeLabels(req.Labels)
		if err != nil {
			return err
		}
		t.Labels = labels
	}
	if req.DueDate != nil {
		d, err := models.ParseDate("due_date", *req.DueDate)
		if err != nil {
			return err
		}
		t.DueDate = d
	}
	if req.SprintID != nil {
		t.SprintID = strings.TrimSpace(*req.SprintID)
	}

	if err := models.ValidateName("title", t.Title); err != nil {
		return err
	}
	if err := models.ValidateText("description", t.Description); err != nil {
		return err
	}
	if !t.Status.Valid() {
		return &models.ValidationError{Field: "status", Message: "must be one of todo, in_progress, review, done"}
	}
	if !t.Priority.Valid() {
		return &models.ValidationError{Field: "priority", Message: "must be one of low, medium, high, urgent"}
	}
	return nil
}

// handleCreateTask handles POST /v1/projects/{id}/tasks.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t := &models.Task{
		ProjectID: r.PathValue("id"),
		Status:    models.TaskTodo,
		Priority:  models.PriorityMedium,
		Labels:    []string{},
		CreatedBy: getUserFromContext(r.Context()).UserID,
	}
	if err := req.apply(t); err != nil {
		writeStoreError(w, r, "create task", err)
		return
	}
	if err := s.store.CreateTask(t); err != nil {
		writeStoreError(w, r, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// taskFilterFromQuery builds a TaskFilter from ?status=todo,review&sprint_id=..
// &backlog=true&label=..&priority=..&q=..&overdue=true.
func taskFilterFromQuery(r *http.Request) (store.TaskFilter, error) {
	q := r.URL.Query()
	f := store.TaskFilter{
		SprintID: strings.TrimSpace(q.Get("sprint_id")),
		Backlog:  q.Get("backlog") == "true",
		Label:    strings.ToLower(strings.TrimSpace(q.Get("label"))),
		Priority: models.Priority(q.Get("priority")),
		Search:   strings.TrimSpace(q.Get("q")),
		Overdue:  q.Get("overdue") == "true",
	}
	for _, v := range q["status"] {
		for _, st := range strings.Split(v, ",") {
			st = strings.TrimSpace(st)
			if st == "" {
				continue
			}
			status := models.TaskStatus(st)
			if !status.Valid() {
				return f, &models.ValidationError{Field: "status", Message: "unknown status " + st}
			}
			f.Status = append(f.Status, status)
		}
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return f, &models.ValidationError{Field: "priority", Message: "unknown priority " + string(f.Priority)}
	}
	if f.Backlog && f.SprintID != "" {
		return f, &models.ValidationError{Field: "backlog", Message: "cannot combine backlog with sprint"}
	}
	return f, nil
}

// handleListTasks handles GET /v1/projects/{id}/tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f, err := taskFilterFromQuery(r)
	if err != nil {
		writeStoreError(w, r, "list tasks", err)
		return
	}
	tasks, err := s.store.ListTasks(r.PathValue("id"), f)
	if err != nil {
		writeStoreError(w, r, "list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// loadTask fetches the {taskID} task of the {id} project, writing a 404 if
// it does not exist.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*models.Task, bool) {
	t, err := s.store.GetTask(r.PathValue("id"), r.PathValue("taskID"))
	if err != nil {
		writeStoreError(w, r, "get task", err)
		return nil, false
	}
	if t == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "task not found")
		return nil, false
	}
	return t, true
}

// handleGetTask handles GET /v1/projects/{id}/tasks/{taskID}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleUpdateTask handles PATCH /v1/projects/{id}/tasks/{taskID}.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	if err := req.apply(t); err != nil {
		writeStoreError(w, r, "update task", err)
		return
	}
	if err := s.store.UpdateTask(t); err != nil {
		writeStoreError(w, r, "update task", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTask handles DELETE /v1/projects/{id}/tasks/{taskID}.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.PathValue("id"), r.PathValue("taskID")); err != nil {
		writeStoreError(w, r, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// moveRequest is the JSON body for POST .../tasks/{taskID}/move: either a
// column and index, or an anchor task to land before or after.
type moveRequest struct {
	Status   models.TaskStatus `json:"status"`
	Index    *int              `json:"index"`
	BeforeID string            `json:"before_id"`
	AfterID  string            `json:"after_id"`
}

// moveResponse reports the moved task and how many rows were renumbered.
type moveResponse struct {
	Task    *models.Task `json:"task"`
	Changed int          `json:"changed"`
}

// handleMoveTask handles POST /v1/projects/{id}/tasks/{taskID}/move.
func (s *Server) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	target := store.MoveTarget{BeforeID: req.BeforeID, AfterID: req.AfterID}
	if req.BeforeID == "" && req.AfterID == "" {
		if !req.Status.Valid() {
			writeAPIError(w, http.StatusBadRequest, APIError{Code: ErrCodeValidation, Message: "status or an anchor task is required", Field: "status"})
			return
		}
		if req.Index == nil {
			writeAPIError(w, http.StatusBadRequest, APIError{Code: ErrCodeValidation, Message: "index is required", Field: "index"})
			return
		}
		target.Status = req.Status
		target.Index = *req.Index
	} else if req.BeforeID != "" && req.AfterID != "" {
		writeAPIError(w, http.StatusBadRequest, APIError{Code: ErrCodeValidation, Message: "give before_id or after_id, not both", Field: "before_id"})
		return
	}

	t, changed, err := s.store.MoveTask(r.PathValue("id"), r.PathValue("taskID"), target)
	if err != nil {
		writeStoreError(w, r, "move task", err)
		return
	}
	s.metrics.RecordTaskMove()
	logFor(r.Context()).Debug("task moved", "task", t.ID, "status", t.Status, "position", t.Position, "changed", changed)
	writeJSON(w, http.StatusOK, moveResponse{Task: t, Changed: changed})
}

// handleBoard handles GET /v1/projects/{id}/board, optionally ?sprint_id=ID.
// An unknown sprint_id is a validation error rather than an empty board.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	sprintID := strings.TrimSpace(r.URL.Query().Get("sprint_id"))
	columns, err := s.store.Board(r.PathValue("id"), sprintID)
	if err != nil {
		writeStoreError(w, r, "load board", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": columns})
}
