package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/23026475/trackit/internal/models"
	"github.com/23026475/trackit/internal/store"
)

// noteRequest is the JSON body for creating and patching research notes.
type noteRequest struct {
	Title   *string  `json:"title"`
	Content *string  `json:"content"`
	Tags    []string `json:"tags"`
}

func (req *noteRequest) apply(n *models.Note) error {
	if req.Title != nil {
		n.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		n.Content = *req.Content
	}
	if req.Tags != nil {
		tags, err := models.NormalizeLabels(req.Tags)
		if err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				verr.Field = "tags"
			}
			return err
		}
		n.Tags = tags
	}
	if err := models.ValidateName("title", n.Title); err != nil {
		return err
	}
	return models.ValidateText("content", n.Content)
}

// noteResponse is a note with its checklist and attachments. HTML is set
// only when the caller asked for ?render=html.
type noteResponse struct {
	*models.Note
	Tasks       []*models.NoteTask   `json:"tasks"`
	Attachments []attachmentResponse `json:"attachments"`
	HTML        string               `json:"html,omitempty"`
}

// handleCreateNote handles POST /v1/notes.
func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n := &models.Note{OwnerID: getUserFromContext(r.Context()).UserID, Tags: []string{}}
	if err := req.apply(n); err != nil {
		writeStoreError(w, r, "create note", err)
		return
	}
	if err := s.store.CreateNote(n); err != nil {
		writeStoreError(w, r, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// handleListNotes handles GET /v1/notes?q=..&tag=..
func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	notes, err := s.store.ListNotes(getUserFromContext(r.Context()).UserID, store.NoteFilter{
		Search: strings.TrimSpace(q.Get("q")),
		Tag:    strings.ToLower(strings.TrimSpace(q.Get("tag"))),
	})
	if err != nil {
		writeStoreError(w, r, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

// loadNote fetches the caller's {noteID} note, writing a 404 if it does not
// exist or belongs to someone else.
func (s *Server) loadNote(w http.ResponseWriter, r *http.Request) (*models.Note, bool) {
	n, err := s.store.GetNote(getUserFromContext(r.Context()).UserID, r.PathValue("noteID"))
	if err != nil {
		writeStoreError(w, r, "get note", err)
		return nil, false
	}
	if n == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "note not found")
		return nil, false
	}
	return n, true
}

// handleGetNote handles GET /v1/notes/{noteID}[?render=html].
func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	n, ok := s.loadNote(w, r)
	if !ok {
		return
	}
	tasks, err := s.store.ListNoteTasks(n.OwnerID, n.ID)
	if err != nil {
		writeStoreError(w, r, "list note tasks", err)
		return
	}
	atts, err := s.store.ListAttachments(n.OwnerID, n.ID)
	if err != nil {
		writeStoreError(w, r, "list attachments", err)
		return
	}

	resp := noteResponse{Note: n, Tasks: tasks, Attachments: attachmentResponses(atts)}
	if r.URL.Query().Get("render") == "html" {
		html, err := s.renderer.HTML(n.Content)
		if err != nil {
			writeStoreError(w, r, "render note", err)
			return
		}
		resp.HTML = html
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateNote handles PATCH /v1/notes/{noteID}.
func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, ok := s.loadNote(w, r)
	if !ok {
		return
	}
	if err := req.apply(n); err != nil {
		writeStoreError(w, r, "update note", err)
		return
	}
	if err := s.store.UpdateNote(n); err != nil {
		writeStoreError(w, r, "update note", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleDeleteNote handles DELETE /v1/notes/{noteID}, removing attachment
// blobs after the rows are gone.
func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.DeleteNote(getUserFromContext(r.Context()).UserID, r.PathValue("noteID"))
	if err != nil {
		writeStoreError(w, r, "delete note", err)
		return
	}
	for _, key := range keys {
		if err := s.blobs.Delete(key); err != nil {
			logFor(r.Context()).Warn("delete attachment blob", "key", key, "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// noteTaskRequest is the JSON body for adding and patching checklist items.
type noteTaskRequest struct {
	Title *string `json:"title"`
	Done  *bool   `json:"done"`
}

// handleAddNoteTask handles POST /v1/notes/{noteID}/tasks.
func (s *Server) handleAddNoteTask(w http.ResponseWriter, r *http.Request) {
	var req noteTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	title := ""
	if req.Title != nil {
		title = strings.TrimSpace(*req.Title)
	}
	if err := models.ValidateName("title", title); err != nil {
		writeStoreError(w, r, "add note task", err)
		return
	}
	item, err := s.store.AddNoteTask(getUserFromContext(r.Context()).UserID, r.PathValue("noteID"), title)
	if err != nil {
		writeStoreError(w, r, "add note task", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleUpdateNoteTask handles PATCH /v1/notes/{noteID}/tasks/{itemID}.
func (s *Server) handleUpdateNoteTask(w http.ResponseWriter, r *http.Request) {
	var req noteTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if err := models.ValidateName("title", t); err != nil {
			writeStoreError(w, r, "update note task", err)
			return
		}
		req.Title = &t
	}
	item, err := s.store.UpdateNoteTask(getUserFromContext(r.Context()).UserID, r.PathValue("noteID"), r.PathValue("itemID"),
		store.NoteTaskUpdate{Title: req.Title, Done: req.Done})
	if err != nil {
		writeStoreError(w, r, "update note task", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleToggleNoteTask handles POST /v1/notes/{noteID}/tasks/{itemID}/toggle.
func (s *Server) handleToggleNoteTask(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.ToggleNoteTask(getUserFromContext(r.Context()).UserID, r.PathValue("noteID"), r.PathValue("itemID"))
	if err != nil {
		writeStoreError(w, r, "toggle note task", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleDeleteNoteTask handles DELETE /v1/notes/{noteID}/tasks/{itemID}.
func (s *Server) handleDeleteNoteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteNoteTask(getUserFromContext(r.Context()).UserID, r.PathValue("noteID"), r.PathValue("itemID")); err != nil {
		writeStoreError(w, r, "delete note task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReorderNoteTasks handles PUT /v1/notes/{noteID}/tasks/order with
// {"order": [itemID, ...]} naming every item of the note.
func (s *Server) handleReorderNoteTasks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order []string `json:"order"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ownerID := getUserFromContext(r.Context()).UserID
	noteID := r.PathValue("noteID")
	if err := s.store.ReorderNoteTasks(ownerID, noteID, req.Order); err != nil {
		writeStoreError(w, r, "reorder note tasks", err)
		return
	}
	items, err := s.store.ListNoteTasks(ownerID, noteID)
	if err != nil {
		writeStoreError(w, r, "list note tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
