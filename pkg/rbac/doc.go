// Package rbac provides service-level permissions on top of the identity
// provider's organization access.
//
// # Overview
//
// The identity provider decides whether a user belongs to an organization
// and which service role (admin, manager, member or a custom slug) they
// hold there. This package maps those role slugs, and the provider teams a
// user belongs to, onto locally stored permission slugs.
//
// # Components
//
//	Store               PostgreSQL persistence for roles, permissions,
//	                    role_permissions and team_permissions
//	RoleCache           role slug -> permission slugs, warmed in one query
//	TeamCache           (organization, sorted team ids) -> permission slugs,
//	                    tagged per organization and per team
//	PermissionResolver  union of role and team permissions
//	PermissionMiddleware  RequirePermission / RequireAnyPermission /
//	                    RequireAllPermissions for organization-scoped routes
//	Handlers            admin API for roles and team permissions
//	Maintenance         cron jobs: nightly tombstone purge, hourly warm-up
//
// # Effective Permissions
//
//	grant := middleware.GetGrant(r)                   // from X-Org-Id
//	teams, _ := access.UserTeams(ctx, p, grant.OrganizationSlug)
//	perms, _ := resolver.AllPermissions(ctx, grant, teams)
//
// A user whose grant has no service role still receives the permissions
// of their teams. A nil grant has no permissions.
//
// # Team Permissions
//
// Revoking a team permission sets deleted_at; the row is kept so it can be
// restored. Purging hard-deletes rows revoked before a cutoff. Every
// grant, revoke and restore invalidates cached team sets containing the
// team through the team:<id> tag.
//
// # Admin API
//
// Mounted under /admin behind authentication, RequireOrganization and
// RequireRole("admin"):
//
//	GET    /admin/roles
//	POST   /admin/roles
//	GET    /admin/roles/{id}
//	PUT    /admin/roles/{id}
//	DELETE /admin/roles/{id}                     422 CANNOT_DELETE_SYSTEM_ROLE
//	PUT    /admin/roles/{id}/permissions
//	GET    /admin/permissions
//	GET    /admin/team-permissions?include_deleted=true
//	POST   /admin/team-permissions
//	GET    /admin/team-permissions/orphans?team_ids=1,2
//	POST   /admin/team-permissions/purge?older_than_days=30
//	DELETE /admin/team-permissions/{id}
//	POST   /admin/team-permissions/{id}/restore
//
// # Member Routes
//
// Mounted under /org behind authentication and RequireOrganization, and
// gated by permission rather than role level:
//
//	GET    /org/team-permissions                 team_permissions.view
//
// The permission is seeded for the admin and manager roles. Roles whose
// slug is admin, manager or member can never be deleted, whatever their
// is_system flag says.
package rbac
