package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pablo12222/notes-manager/internal/tokencache"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	var calls atomic.Int32
	tokens := tokenEndpoint(t, 86400, &calls)
	t.Cleanup(tokens.Close)

	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)

	provider := NewTokenProvider(tokens.URL, "client", "secret", "https://mgmt.test", tokencache.NewMemoryCache(), 0)
	return NewClient(api.URL, provider, 0)
}

func TestListUsersSendsQueryAndToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "alice" {
			t.Errorf("unexpected q %q", got)
		}
		if got := r.URL.Query().Get("search_engine"); got != "v3" {
			t.Errorf("unexpected search_engine %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"user_id": "auth0|u1", "email": "alice@example.com", "blocked": false},
		})
	})

	users, err := client.ListUsers(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].ID != "auth0|u1" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestUpdateBlockedPatchesUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if r.URL.Path != "/users/auth0%7Cu1" && r.URL.Path != "/users/auth0|u1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]bool
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body["blocked"] {
			t.Error("expected blocked=true")
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.UpdateBlocked(context.Background(), "auth0|u1", true); err != nil {
		t.Fatalf("update blocked: %v", err)
	}
}

func TestCreatePasswordChangeTicket(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tickets/password-change" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["user_id"] != "auth0|u1" || body["result_url"] != "https://app.example.com" {
			t.Errorf("unexpected body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"ticket": "https://idp.example.com/t/abc"})
	})

	ticket, err := client.CreatePasswordChangeTicket(context.Background(), "auth0|u1", "https://app.example.com")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if ticket != "https://idp.example.com/t/abc" {
		t.Fatalf("unexpected ticket %q", ticket)
	}
}

func TestListRolePermissionsFlattensNames(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"permission_name": "read:cards"},
			{"permission_name": "update:cards"},
		})
	})

	permissions, err := client.ListRolePermissions(context.Background(), "rol_1")
	if err != nil {
		t.Fatalf("list permissions: %v", err)
	}
	if len(permissions) != 2 || permissions[0] != "read:cards" {
		t.Fatalf("unexpected permissions %+v", permissions)
	}
}

func TestRemoveRolesSendsDeleteWithBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		var body map[string][]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body["roles"]) != 1 || body["roles"][0] != "rol_1" {
			t.Errorf("unexpected body %+v", body)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.RemoveRoles(context.Background(), "auth0|u1", []string{"rol_1"}); err != nil {
		t.Fatalf("remove roles: %v", err)
	}
}

func TestErrorStatusBecomesUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusTooManyRequests)
	})

	_, err := client.ListRoles(context.Background())
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected an upstream error, got %v", err)
	}
	if upstreamErr.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", upstreamErr.Status)
	}
}
