package api

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/23026475/trackit/internal/models"
)

func createTestNote(t *testing.T, srv *Server, token string, body map[string]any) *models.Note {
	t.Helper()
	w := doRequest(srv, "POST", "/v1/notes", token, body)
	expectStatus(t, w, http.StatusCreated)
	var n models.Note
	decode(t, w, &n)
	return &n
}

// uploadRequest builds a multipart upload of content under the "file" field.
func uploadRequest(t *testing.T, noteID, token, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("comment", "ignored"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(content)
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest("POST", "/v1/notes/"+noteID+"/attachments", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestNoteCRUD(t *testing.T) {
	srv, st := newTestServer(t)
	_, token := createTestUser(t, st, "ada@example.com")
	_, otherToken := createTestUser(t, st, "bob@example.com")

	n := createTestNote(t, srv, token, map[string]any{
		"title":   "Raft notes",
		"content": "# Hello\n\nLeader election <script>alert(1)</script>",
		"tags":    []string{"Research", "research", "consensus"},
	})
	if diff := cmp.Diff([]string{"research", "consensus"}, n.Tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}

	w := doRequest(srv, "GET", "/v1/notes/"+n.ID+"?render=html", token, nil)
	expectStatus(t, w, http.StatusOK)
	var got noteResponse
	decode(t, w, &got)
	if !strings.Contains(got.HTML, "<h1>Hello</h1>") {
		t.Fatalf("expected rendered heading, got %q", got.HTML)
	}
	if strings.Contains(got.HTML, "<script") {
		t.Fatalf("expected script to be stripped, got %q", got.HTML)
	}

	w = doRequest(srv, "GET", "/v1/notes/"+n.ID, token, nil)
	got = noteResponse{}
	decode(t, w, &got)
	if got.HTML != "" {
		t.Fatal("expected no html without render=html")
	}

	// Notes are private to their owner.
	expectError(t, doRequest(srv, "GET", "/v1/notes/"+n.ID, otherToken, nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, doRequest(srv, "PATCH", "/v1/notes/"+n.ID, otherToken, map[string]any{"title": "mine"}), http.StatusNotFound, ErrCodeNotFound)

	w = doRequest(srv, "PATCH", "/v1/notes/"+n.ID, token, map[string]any{"title": "Raft, revisited"})
	expectStatus(t, w, http.StatusOK)
	var updated models.Note
	decode(t, w, &updated)
	if updated.Title != "Raft, revisited" || !strings.HasPrefix(updated.Content, "# Hello") {
		t.Fatalf("unexpected note after patch: %+v", updated)
	}

	createTestNote(t, srv, token, map[string]any{"title": "Paxos", "tags": []string{"consensus"}})
	createTestNote(t, srv, token, map[string]any{"title": "Groceries"})

	list := func(query string) int {
		t.Helper()
		w := doRequest(srv, "GET", "/v1/notes"+query, token, nil)
		expectStatus(t, w, http.StatusOK)
		var notes []*models.Note
		decode(t, w, &notes)
		return len(notes)
	}
	if got := list(""); got != 3 {
		t.Fatalf("expected 3 notes, got %d", got)
	}
	if got := list("?tag=Consensus"); got != 2 {
		t.Fatalf("expected 2 consensus notes, got %d", got)
	}
	if got := list("?q=paxos"); got != 1 {
		t.Fatalf("expected 1 search hit, got %d", got)
	}

	expectStatus(t, doRequest(srv, "DELETE", "/v1/notes/"+n.ID, token, nil), http.StatusNoContent)
	expectError(t, doRequest(srv, "GET", "/v1/notes/"+n.ID, token, nil), http.StatusNotFound, ErrCodeNotFound)

	w = doRequest(srv, "POST", "/v1/notes", token, map[string]any{"content": "untitled"})
	apiErr := expectError(t, w, http.StatusBadRequest, ErrCodeValidation)
	if apiErr.Field != "title" {
		t.Fatalf("expected field title, got %q", apiErr.Field)
	}
}

func TestNoteChecklist(t *testing.T) {
	srv, st := newTestServer(t)
	_, token := createTestUser(t, st, "ada@example.com")
	n := createTestNote(t, srv, token, map[string]any{"title": "Reading list"})
	base := "/v1/notes/" + n.ID + "/tasks"

	var items []*models.NoteTask
	for _, title := range []string{"Raft paper", "Paxos made simple", "Viewstamped replication"} {
		w := doRequest(srv, "POST", base, token, map[string]any{"title": title})
		expectStatus(t, w, http.StatusCreated)
		var it models.NoteTask
		decode(t, w, &it)
		items = append(items, &it)
	}
	if items[2].Position != 2 {
		t.Fatalf("expected position 2, got %d", items[2].Position)
	}

	w := doRequest(srv, "POST", base+"/"+items[0].ID+"/toggle", token, nil)
	expectStatus(t, w, http.StatusOK)
	var toggled models.NoteTask
	decode(t, w, &toggled)
	if !toggled.Done {
		t.Fatal("expected item to be done after toggle")
	}

	w = doRequest(srv, "PATCH", base+"/"+items[1].ID, token, map[string]any{"title": "Paxos Made Simple"})
	expectStatus(t, w, http.StatusOK)

	expectError(t, doRequest(srv, "PUT", base+"/order", token, map[string]any{"order": []string{items[0].ID}}),
		http.StatusBadRequest, ErrCodeValidation)

	w = doRequest(srv, "PUT", base+"/order", token, map[string]any{"order": []string{items[2].ID, items[0].ID, items[1].ID}})
	expectStatus(t, w, http.StatusOK)
	var ordered []*models.NoteTask
	decode(t, w, &ordered)
	var ids []string
	for _, it := range ordered {
		ids = append(ids, it.ID)
	}
	if diff := cmp.Diff([]string{items[2].ID, items[0].ID, items[1].ID}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	expectStatus(t, doRequest(srv, "DELETE", base+"/"+items[2].ID, token, nil), http.StatusNoContent)

	w = doRequest(srv, "GET", "/v1/notes/"+n.ID, token, nil)
	var got noteResponse
	decode(t, w, &got)
	if len(got.Tasks) != 2 || got.Tasks[0].ID != items[0].ID || got.Tasks[0].Position != 0 {
		t.Fatalf("expected 2 renumbered items starting with the first, got %+v", got.Tasks)
	}
	if got.Tasks[1].Title != "Paxos Made Simple" {
		t.Fatalf("expected updated title, got %q", got.Tasks[1].Title)
	}
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	srv, st := newTestServer(t)
	userID, token := createTestUser(t, st, "ada@example.com")
	_, otherToken := createTestUser(t, st, "bob@example.com")
	n := createTestNote(t, srv, token, map[string]any{"title": "With files"})

	w := serve(srv, uploadRequest(t, n.ID, token, "../../etc/paper.txt", []byte("hello")))
	expectStatus(t, w, http.StatusCreated)
	var att attachmentResponse
	decode(t, w, &att)
	if att.Filename != "paper.txt" {
		t.Fatalf("expected directory stripped from filename, got %q", att.Filename)
	}
	if att.Size != 5 || att.SizeHuman != "5 B" {
		t.Fatalf("unexpected size %d (%s)", att.Size, att.SizeHuman)
	}
	if att.UploadedBy != userID {
		t.Fatalf("expected uploaded_by %s, got %s", userID, att.UploadedBy)
	}

	path := "/v1/notes/" + n.ID + "/attachments/" + att.ID
	w = doRequest(srv, "GET", path, token, nil)
	expectStatus(t, w, http.StatusOK)
	body, _ := io.ReadAll(w.Body)
	if string(body) != "hello" {
		t.Fatalf("expected file content, got %q", body)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "paper.txt") {
		t.Fatalf("expected filename in Content-Disposition, got %q", cd)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}

	expectError(t, doRequest(srv, "GET", path, otherToken, nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, serve(srv, uploadRequest(t, n.ID, otherToken, "x.txt", []byte("x"))), http.StatusNotFound, ErrCodeNotFound)

	w = doRequest(srv, "GET", "/v1/notes/"+n.ID+"/attachments", token, nil)
	expectStatus(t, w, http.StatusOK)
	var list []attachmentResponse
	decode(t, w, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(list))
	}

	if got := srv.metrics.Snapshot().UploadBytes; got != 5 {
		t.Fatalf("expected 5 upload bytes recorded, got %d", got)
	}

	stored, err := st.GetAttachment(userID, n.ID, att.ID)
	if err != nil || stored == nil {
		t.Fatalf("get attachment: %v", err)
	}
	expectStatus(t, doRequest(srv, "DELETE", "/v1/notes/"+n.ID, token, nil), http.StatusNoContent)
	if _, err := srv.blobs.Open(stored.StorageKey); err == nil {
		t.Fatal("expected blob to be removed with its note")
	}
}

func TestAttachmentLimits(t *testing.T) {
	srv, st := newTestServer(t)
	_, token := createTestUser(t, st, "ada@example.com")
	n := createTestNote(t, srv, token, map[string]any{"title": "Big files"})

	w := serve(srv, uploadRequest(t, n.ID, token, "big.bin", bytes.Repeat([]byte("x"), 2048)))
	expectError(t, w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge)

	req := newRequest("POST", "/v1/notes/"+n.ID+"/attachments", token, map[string]string{"file": "nope"})
	expectError(t, serve(srv, req), http.StatusBadRequest, ErrCodeBadRequest)

	w = doRequest(srv, "GET", "/v1/notes/"+n.ID+"/attachments", token, nil)
	var list []attachmentResponse
	decode(t, w, &list)
	if len(list) != 0 {
		t.Fatalf("expected rejected uploads to leave no attachments, got %d", len(list))
	}
}

func TestDeleteAttachment(t *testing.T) {
	srv, st := newTestServer(t)
	_, token := createTestUser(t, st, "ada@example.com")
	n := createTestNote(t, srv, token, map[string]any{"title": "Files"})

	w := serve(srv, uploadRequest(t, n.ID, token, "a.md", []byte("# a")))
	expectStatus(t, w, http.StatusCreated)
	var att attachmentResponse
	decode(t, w, &att)

	path := "/v1/notes/" + n.ID + "/attachments/" + att.ID
	expectStatus(t, doRequest(srv, "DELETE", path, token, nil), http.StatusNoContent)
	expectError(t, doRequest(srv, "GET", path, token, nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, doRequest(srv, "DELETE", path, token, nil), http.StatusNotFound, ErrCodeNotFound)
}
