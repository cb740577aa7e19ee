package rbac

import (
	"context"
	"sort"

	"github.com/platinummonkey/consolesso/pkg/console"
)

// RolePermissions looks up permissions by role slug
type RolePermissions interface {
	Permissions(ctx context.Context, roleSlug string) ([]string, error)
}

// TeamPermissions looks up permissions by organization and team set
type TeamPermissions interface {
	Permissions(ctx context.Context, orgID int64, teamIDs []int64) ([]string, error)
}

// PermissionResolver computes a user's effective permissions in an
// organization from the service role on their grant and their teams
type PermissionResolver struct {
	roles RolePermissions
	teams TeamPermissions
}

// NewPermissionResolver creates a PermissionResolver
func NewPermissionResolver(roles RolePermissions, teams TeamPermissions) *PermissionResolver {
	return &PermissionResolver{roles: roles, teams: teams}
}

// AllPermissions returns the sorted union of role and team permissions.
// A nil grant has no permissions.
func (pr *PermissionResolver) AllPermissions(ctx context.Context, grant *console.AccessGrant, teams []console.Team) ([]string, error) {
	if grant == nil {
		return []string{}, nil
	}

	set := make(map[string]struct{})

	if role := grant.Role(); role != "" {
		slugs, err := pr.roles.Permissions(ctx, role)
		if err != nil {
			return nil, err
		}
		for _, s := range slugs {
			set[s] = struct{}{}
		}
	}

	if len(teams) > 0 {
		ids := make([]int64, len(teams))
		for i, t := range teams {
			ids[i] = t.ID
		}
		slugs, err := pr.teams.Permissions(ctx, grant.OrganizationID, ids)
		if err != nil {
			return nil, err
		}
		for _, s := range slugs {
			set[s] = struct{}{}
		}
	}

	all := make([]string, 0, len(set))
	for s := range set {
		all = append(all, s)
	}
	sort.Strings(all)
	return all, nil
}

// HasPermission reports whether the user holds permission
func (pr *PermissionResolver) HasPermission(ctx context.Context, grant *console.AccessGrant, teams []console.Team, permission string) (bool, error) {
	return pr.HasAllPermissions(ctx, grant, teams, permission)
}

// HasAnyPermission reports whether the user holds at least one of permissions
func (pr *PermissionResolver) HasAnyPermission(ctx context.Context, grant *console.AccessGrant, teams []console.Team, permissions ...string) (bool, error) {
	held, err := pr.held(ctx, grant, teams)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if _, ok := held[p]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether the user holds every one of permissions.
// An empty list is satisfied.
func (pr *PermissionResolver) HasAllPermissions(ctx context.Context, grant *console.AccessGrant, teams []console.Team, permissions ...string) (bool, error) {
	held, err := pr.held(ctx, grant, teams)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if _, ok := held[p]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (pr *PermissionResolver) held(ctx context.Context, grant *console.AccessGrant, teams []console.Team) (map[string]struct{}, error) {
	all, err := pr.AllPermissions(ctx, grant, teams)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(all))
	for _, p := range all {
		set[p] = struct{}{}
	}
	return set, nil
}
