package app

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"testing"

	"github.com/pablo12222/notes-manager/internal/auth"
	"github.com/pablo12222/notes-manager/internal/store"
)

// noteStore is a map-backed fakeStore for the note routes.
func noteStore() (*fakeStore, map[string]store.Note) {
	notes := map[string]store.Note{}
	fs := &fakeStore{}
	fs.insertNoteFn = func(_ context.Context, note store.Note) error {
		notes[note.ID] = note
		return nil
	}
	fs.getNoteFn = func(_ context.Context, id string) (store.Note, error) {
		note, ok := notes[id]
		if !ok {
			return store.Note{}, sql.ErrNoRows
		}
		return note, nil
	}
	fs.listNotesFn = func(_ context.Context, userSub string) ([]store.Note, error) {
		var owned []store.Note
		for _, note := range notes {
			if note.UserSub == userSub {
				owned = append(owned, note)
			}
		}
		return owned, nil
	}
	fs.replaceNoteFn = func(_ context.Context, note store.Note) (bool, error) {
		existing, ok := notes[note.ID]
		if !ok || existing.UserSub != note.UserSub {
			return false, nil
		}
		notes[note.ID] = note
		return true, nil
	}
	fs.deleteNoteFn = func(_ context.Context, id, userSub string) (bool, error) {
		note, ok := notes[id]
		if !ok || note.UserSub != userSub {
			return false, nil
		}
		delete(notes, id)
		return true, nil
	}
	return fs, notes
}

func TestNoteLifecycleOverHTTP(t *testing.T) {
	fs, notes := noteStore()
	server := NewHTTPServer(newTestService(fs, nil), "*")
	token := testToken(t, "auth0|alice", []string{"create:notes", "read:notes"}, nil)

	rr := doRequest(server, http.MethodPost, "/api/notes", token, map[string]any{"title": "shopping", "content": "milk"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d (%s)", rr.Code, rr.Body.String())
	}
	var created store.Note
	decodeResponse(t, rr, &created)
	if !strings.HasPrefix(created.ID, "note_") {
		t.Fatalf("unexpected note id %q", created.ID)
	}
	if created.Status != "todo" {
		t.Fatalf("new note status %q", created.Status)
	}

	rr = doRequest(server, http.MethodGet, "/api/notes/"+created.ID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: got %d (%s)", rr.Code, rr.Body.String())
	}

	rr = doRequest(server, http.MethodPut, "/api/notes/"+created.ID, token, map[string]any{
		"title": "shopping", "content": "milk, eggs", "status": "doing",
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("update: got %d (%s)", rr.Code, rr.Body.String())
	}
	if notes[created.ID].Status != "doing" {
		t.Fatalf("status not updated: %+v", notes[created.ID])
	}

	rr = doRequest(server, http.MethodDelete, "/api/notes/"+created.ID, token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d (%s)", rr.Code, rr.Body.String())
	}

	rr = doRequest(server, http.MethodDelete, "/api/notes/"+created.ID, token, nil)
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestForeignNoteAnswersNotFound(t *testing.T) {
	fs, _ := noteStore()
	server := NewHTTPServer(newTestService(fs, nil), "*")

	ownerToken := testToken(t, "auth0|bob", []string{"create:notes"}, nil)
	rr := doRequest(server, http.MethodPost, "/api/notes", ownerToken, map[string]any{"title": "theirs", "content": "x"})
	var created store.Note
	decodeResponse(t, rr, &created)

	intruderToken := testToken(t, "auth0|alice", []string{"read:notes", "create:notes"}, nil)

	rr = doRequest(server, http.MethodGet, "/api/notes/"+created.ID, intruderToken, nil)
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")

	rr = doRequest(server, http.MethodPut, "/api/notes/"+created.ID, intruderToken, map[string]any{"title": "mine", "content": "y"})
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")

	rr = doRequest(server, http.MethodDelete, "/api/notes/"+created.ID, intruderToken, nil)
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestUpdateMissingNoteAnswersNotFound(t *testing.T) {
	fs, _ := noteStore()
	server := NewHTTPServer(newTestService(fs, nil), "*")
	token := testToken(t, "auth0|alice", []string{"create:notes"}, nil)

	rr := doRequest(server, http.MethodPut, "/api/notes/note_missing", token, map[string]any{"title": "t", "content": "c"})
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestNotesScopeGate(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, nil), "*")
	token := testToken(t, "auth0|alice", []string{"read:cards"}, nil)
	rr := doRequest(server, http.MethodGet, "/api/notes", token, nil)
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")
}

func TestNotesAllowMachineTokens(t *testing.T) {
	fs, _ := noteStore()
	server := NewHTTPServer(newTestService(fs, nil), "*")
	token := testToken(t, "backend@clients", []string{"read:notes"}, func(c *auth.Claims) {
		c.GrantType = "client-credentials"
	})
	rr := doRequest(server, http.MethodGet, "/api/notes", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("machine tokens may read notes, got %d (%s)", rr.Code, rr.Body.String())
	}
}

func TestSearchWithoutBackendReturnsEmpty(t *testing.T) {
	fs, _ := noteStore()
	server := NewHTTPServer(newTestService(fs, nil), "*")
	token := testToken(t, "auth0|alice", []string{"read:notes"}, nil)

	rr := doRequest(server, http.MethodGet, "/api/notes/search?q=milk", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("search: got %d (%s)", rr.Code, rr.Body.String())
	}
	var body struct {
		Results []any  `json:"results"`
		Query   string `json:"query"`
	}
	decodeResponse(t, rr, &body)
	if body.Results == nil || len(body.Results) != 0 {
		t.Fatalf("expected an empty result array, got %v", body.Results)
	}
	if body.Query != "milk" {
		t.Fatalf("expected the query echoed back, got %q", body.Query)
	}
}

func TestProfileEndpointTouchesUser(t *testing.T) {
	touched := false
	fs := &fakeStore{
		upsertUserFn: func(_ context.Context, user store.User) error {
			touched = user.ID == "auth0|alice"
			return nil
		},
	}
	server := NewHTTPServer(newTestService(fs, nil), "*")
	token := testToken(t, "auth0|alice", nil, func(c *auth.Claims) {
		c.Name = "Alice"
		c.Email = "alice@example.com"
	})

	rr := doRequest(server, http.MethodGet, "/api/profile", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("profile: got %d (%s)", rr.Code, rr.Body.String())
	}
	if !touched {
		t.Fatal("profile must upsert the user row")
	}
	var view ProfileView
	decodeResponse(t, rr, &view)
	if view.ID != "auth0|alice" || view.Email != "alice@example.com" {
		t.Fatalf("unexpected profile %+v", view)
	}
}
