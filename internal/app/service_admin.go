package app

import (
	"context"
	"log"
	"net/http"

	"github.com/pablo12222/notes-manager/internal/mgmt"
)

// mgmtService is the slice of the management-API client the admin bridge
// needs.
type mgmtService interface {
	ListUsers(context.Context, string) ([]mgmt.User, error)
	GetUserRoles(context.Context, string) ([]mgmt.Role, error)
	UpdateBlocked(context.Context, string, bool) error
	CreatePasswordChangeTicket(context.Context, string, string) (string, error)
	ListRoles(context.Context) ([]mgmt.Role, error)
	ListRolePermissions(context.Context, string) ([]string, error)
	AssignRoles(context.Context, string, []string) error
	RemoveRoles(context.Context, string, []string) error
}

// UserSummary is the admin listing row: provider account plus role names.
type UserSummary struct {
	ID      string   `json:"id"`
	Email   string   `json:"email"`
	Blocked bool     `json:"blocked"`
	Roles   []string `json:"roles"`
}

type AdminUsersPage struct {
	Total int           `json:"total"`
	Items []UserSummary `json:"items"`
}

type RoleView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type SimpleRoleView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AdminUsers fetches the full matching user set from the provider and
// paginates client-side. Role lookups are per-user and degrade to an empty
// list on failure so one bad sub-call never aborts the whole page.
// mgmtEnabled gates every admin operation; the bridge is optional and the
// rest of the API works without it.
func (s *Service) mgmtEnabled() error {
	if s.mgmt == nil {
		return domainError(http.StatusServiceUnavailable, "MGMT_DISABLED", "Management API is not configured", nil)
	}
	return nil
}

func (s *Service) AdminUsers(ctx context.Context, query string, page, pageSize int) (AdminUsersPage, error) {
	if err := s.mgmtEnabled(); err != nil {
		return AdminUsersPage{}, err
	}
	users, err := s.mgmt.ListUsers(ctx, query)
	if err != nil {
		return AdminUsersPage{}, err
	}

	total := len(users)
	start := page * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	items := make([]UserSummary, 0, end-start)
	for _, user := range users[start:end] {
		roleNames := []string{}
		roles, err := s.mgmt.GetUserRoles(ctx, user.ID)
		if err != nil {
			log.Printf("admin: role lookup for %s failed, listing without roles: %v", user.ID, err)
		} else {
			for _, role := range roles {
				roleNames = append(roleNames, role.Name)
			}
		}
		items = append(items, UserSummary{
			ID:      user.ID,
			Email:   user.Email,
			Blocked: user.Blocked,
			Roles:   roleNames,
		})
	}

	return AdminUsersPage{Total: total, Items: items}, nil
}

func (s *Service) AdminBlockUser(ctx context.Context, userID string, block bool) error {
	if err := s.mgmtEnabled(); err != nil {
		return err
	}
	return s.mgmt.UpdateBlocked(ctx, userID, block)
}

func (s *Service) AdminResetPasswordTicket(ctx context.Context, userID, resultURL string) (string, error) {
	if err := s.mgmtEnabled(); err != nil {
		return "", err
	}
	return s.mgmt.CreatePasswordChangeTicket(ctx, userID, resultURL)
}

func (s *Service) AdminRoles(ctx context.Context) ([]RoleView, error) {
	if err := s.mgmtEnabled(); err != nil {
		return nil, err
	}
	roles, err := s.mgmt.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]RoleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, RoleView{ID: role.ID, Name: role.Name, Description: role.Description})
	}
	return views, nil
}

func (s *Service) AdminRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	if err := s.mgmtEnabled(); err != nil {
		return nil, err
	}
	return s.mgmt.ListRolePermissions(ctx, roleID)
}

func (s *Service) AdminUserRoles(ctx context.Context, userID string) ([]SimpleRoleView, error) {
	if err := s.mgmtEnabled(); err != nil {
		return nil, err
	}
	roles, err := s.mgmt.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]SimpleRoleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, SimpleRoleView{ID: role.ID, Name: role.Name})
	}
	return views, nil
}

func (s *Service) AdminAssignRoles(ctx context.Context, userID string, roleIDs []string) error {
	if err := s.mgmtEnabled(); err != nil {
		return err
	}
	return s.mgmt.AssignRoles(ctx, userID, roleIDs)
}

func (s *Service) AdminRemoveRole(ctx context.Context, userID, roleID string) error {
	if err := s.mgmtEnabled(); err != nil {
		return err
	}
	return s.mgmt.RemoveRoles(ctx, userID, []string{roleID})
}
