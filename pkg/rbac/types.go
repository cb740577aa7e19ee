package rbac

import (
	"errors"
	"time"
)

// System role slugs. These are seeded by migration and cannot be deleted.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleMember  = "member"
)

var (
	ErrRoleNotFound           = errors.New("role not found")
	ErrSystemRole             = errors.New("system roles cannot be deleted")
	ErrRoleExists             = errors.New("role slug already exists")
	ErrPermissionNotFound     = errors.New("permission not found")
	ErrTeamPermissionNotFound = errors.New("team permission not found")
)

// Role is a service role. The identity provider assigns a role slug to a
// user per organization; the role's permissions are stored locally.
type Role struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Level       int       `json:"level"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a named capability, e.g. "reports.export"
type Permission struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Group       string `json:"group"`
	Description string `json:"description"`
}

// TeamPermission grants a permission to every member of a provider team
// within one organization. Revoked rows keep DeletedAt until purged.
type TeamPermission struct {
	ID             int64      `json:"id"`
	TeamID         int64      `json:"team_id"`
	OrganizationID int64      `json:"organization_id"`
	PermissionID   int64      `json:"permission_id"`
	PermissionSlug string     `json:"permission_slug"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the grant has been revoked
func (tp TeamPermission) Deleted() bool {
	return tp.DeletedAt != nil
}

// PermissionViewTeamPermissions lets non-admin members read their
// organization's team grants
const PermissionViewTeamPermissions = "team_permissions.view"

// SystemRoleSlugs lists the built-in roles that can never be deleted
var SystemRoleSlugs = []string{RoleAdmin, RoleManager, RoleMember}

// IsSystemRole reports whether slug names a built-in role
func IsSystemRole(slug string) bool {
	switch slug {
	case RoleAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}
