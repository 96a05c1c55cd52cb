// Package mgmt talks to the identity provider's management API. All calls go
// out with a machine-to-machine token obtained via the client-credentials
// grant and cached between calls.
package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// User is the provider's account record, trimmed to the fields the admin
// screens show.
type User struct {
	ID      string `json:"user_id"`
	Email   string `json:"email"`
	Blocked bool   `json:"blocked"`
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UpstreamError marks a failed management-API call so the HTTP layer can
// answer 502 instead of a generic server error.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mgmt %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mgmt %s: unexpected status %d", e.Op, e.Status)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

type Client struct {
	baseURL string
	tokens  *TokenProvider
	http    *http.Client
}

func NewClient(baseURL string, tokens *TokenProvider, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: timeout},
	}
}

// ListUsers fetches every account matching the query in one call. Paging is
// the caller's problem.
func (c *Client) ListUsers(ctx context.Context, query string) ([]User, error) {
	path := "/users?search_engine=v3"
	if query != "" {
		path += "&q=" + url.QueryEscape(query)
	}
	var users []User
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) GetUserRoles(ctx context.Context, userID string) ([]Role, error) {
	var roles []Role
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/roles", nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (c *Client) UpdateBlocked(ctx context.Context, userID string, blocked bool) error {
	body := map[string]bool{"blocked": blocked}
	return c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(userID), body, nil)
}

// CreatePasswordChangeTicket returns a single-use URL the user can follow to
// set a new password.
func (c *Client) CreatePasswordChangeTicket(ctx context.Context, userID, resultURL string) (string, error) {
	body := map[string]string{"user_id": userID}
	if resultURL != "" {
		body["result_url"] = resultURL
	}
	var response struct {
		Ticket string `json:"ticket"`
	}
	if err := c.do(ctx, http.MethodPost, "/tickets/password-change", body, &response); err != nil {
		return "", err
	}
	return response.Ticket, nil
}

func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	if err := c.do(ctx, http.MethodGet, "/roles", nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (c *Client) ListRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	var permissions []struct {
		PermissionName string `json:"permission_name"`
	}
	if err := c.do(ctx, http.MethodGet, "/roles/"+url.PathEscape(roleID)+"/permissions", nil, &permissions); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(permissions))
	for _, permission := range permissions {
		names = append(names, permission.PermissionName)
	}
	return names, nil
}

func (c *Client) AssignRoles(ctx context.Context, userID string, roleIDs []string) error {
	body := map[string][]string{"roles": roleIDs}
	return c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/roles", body, nil)
}

func (c *Client) RemoveRoles(ctx context.Context, userID string, roleIDs []string) error {
	body := map[string][]string{"roles": roleIDs}
	return c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(userID)+"/roles", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &UpstreamError{Op: op, Err: err}
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := c.http.Do(request)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &UpstreamError{Op: op, Status: response.StatusCode}
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	return nil
}
