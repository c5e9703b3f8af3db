package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/23026475/trackit/internal/models"
)

// multipartOverhead is allowed on top of MaxUploadBytes for part headers
// and boundaries.
const multipartOverhead = 64 << 10

// attachmentResponse adds a human-readable size to an attachment.
type attachmentResponse struct {
	*models.Attachment
	SizeHuman string `json:"size_human"`
}

func attachmentResponses(atts []*models.Attachment) []attachmentResponse {
	out := make([]attachmentResponse, 0, len(atts))
	for _, a := range atts {
		out = append(out, attachmentResponse{Attachment: a, SizeHuman: humanize.Bytes(uint64(a.Size))})
	}
	return out
}

// handleUploadAttachment handles POST /v1/notes/{noteID}/attachments. The
// body is multipart/form-data with the file in the "file" field; it is
// streamed to the blob store without buffering in memory.
func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	n, ok := s.loadNote(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "expected multipart/form-data body")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeAPIError(w, http.StatusBadRequest, APIError{Code: ErrCodeValidation, Message: "is required", Field: "file"})
			return
		}
		if err != nil {
			writeStoreError(w, r, "read upload", err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		filename := cleanFilename(part.FileName())
		if filename == "" {
			writeAPIError(w, http.StatusBadRequest, APIError{Code: ErrCodeValidation, Message: "must have a filename", Field: "file"})
			return
		}

		key, size, err := s.blobs.Put(part, s.config.MaxUploadBytes)
		part.Close()
		if err != nil {
			writeStoreError(w, r, "store upload", err)
			return
		}

		a := &models.Attachment{
			NoteID:      n.ID,
			Filename:    filename,
			ContentType: uploadContentType(part.Header.Get("Content-Type"), filename),
			Size:        size,
			StorageKey:  key,
			UploadedBy:  n.OwnerID,
		}
		if err := s.store.AddAttachment(n.OwnerID, a); err != nil {
			if derr := s.blobs.Delete(key); derr != nil {
				logFor(r.Context()).Warn("delete orphaned blob", "key", key, "err", derr)
			}
			writeStoreError(w, r, "add attachment", err)
			return
		}
		s.metrics.RecordUpload(size)
		logFor(r.Context()).Info("attachment uploaded", "note", n.ID, "size", humanize.Bytes(uint64(size)))
		writeJSON(w, http.StatusCreated, attachmentResponse{Attachment: a, SizeHuman: humanize.Bytes(uint64(size))})
		return
	}
}

// handleListAttachments handles GET /v1/notes/{noteID}/attachments.
func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	n, ok := s.loadNote(w, r)
	if !ok {
		return
	}
	atts, err := s.store.ListAttachments(n.OwnerID, n.ID)
	if err != nil {
		writeStoreError(w, r, "list attachments", err)
		return
	}
	writeJSON(w, http.StatusOK, attachmentResponses(atts))
}

// handleDownloadAttachment handles GET /v1/notes/{noteID}/attachments/{attID}.
func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAttachment(getUserFromContext(r.Context()).UserID, r.PathValue("noteID"), r.PathValue("attID"))
	if err != nil {
		writeStoreError(w, r, "get attachment", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "attachment not found")
		return
	}

	f, err := s.blobs.Open(a.StorageKey)
	if err != nil {
		writeStoreError(w, r, "open attachment", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, a.Filename, a.CreatedAt, f)
}

// handleDeleteAttachment handles DELETE /v1/notes/{noteID}/attachments/{attID}.
func (s *Server) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.DeleteAttachment(getUserFromContext(r.Context()).UserID, r.PathValue("noteID"), r.PathValue("attID"))
	if err != nil {
		writeStoreError(w, r, "delete attachment", err)
		return
	}
	if err := s.blobs.Delete(a.StorageKey); err != nil {
		logFor(r.Context()).Warn("delete attachment blob", "key", a.StorageKey, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// cleanFilename strips any directory part a client sent with the name.
func cleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSpace(name)
}

// uploadContentType prefers the part's declared type, then the extension.
func uploadContentType(declared, filename string) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
