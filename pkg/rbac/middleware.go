package rbac

import (
	"context"
	"net/http"

	"github.com/platinummonkey/consolesso/pkg/console"
	"github.com/platinummonkey/consolesso/pkg/httputil"
	"github.com/platinummonkey/consolesso/pkg/middleware"
	"github.com/platinummonkey/consolesso/pkg/observability"
	"github.com/platinummonkey/consolesso/pkg/users"
)

// CodeInsufficientPermission is returned when a permission check fails
const CodeInsufficientPermission = "INSUFFICIENT_PERMISSION"

// TeamSource lists a user's teams in an organization
type TeamSource interface {
	UserTeams(ctx context.Context, p users.Principal, orgSlug string) ([]console.Team, error)
}

// PermissionMiddleware provides middleware for permission checking. It
// must run after middleware.RequireOrganization.
type PermissionMiddleware struct {
	resolver *PermissionResolver
	teams    TeamSource
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(resolver *PermissionResolver, teams TeamSource) *PermissionMiddleware {
	return &PermissionMiddleware{resolver: resolver, teams: teams}
}

type permissionCheck func(ctx context.Context, grant *console.AccessGrant, teams []console.Team) (bool, error)

// RequirePermission requires the caller to hold permission
func (pm *PermissionMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return pm.require([]string{permission}, func(ctx context.Context, grant *console.AccessGrant, teams []console.Team) (bool, error) {
		return pm.resolver.HasPermission(ctx, grant, teams, permission)
	})
}

// RequireAnyPermission requires the caller to hold at least one of permissions
func (pm *PermissionMiddleware) RequireAnyPermission(permissions ...string) func(http.Handler) http.Handler {
	return pm.require(permissions, func(ctx context.Context, grant *console.AccessGrant, teams []console.Team) (bool, error) {
		return pm.resolver.HasAnyPermission(ctx, grant, teams, permissions...)
	})
}

// RequireAllPermissions requires the caller to hold every one of permissions
func (pm *PermissionMiddleware) RequireAllPermissions(permissions ...string) func(http.Handler) http.Handler {
	return pm.require(permissions, func(ctx context.Context, grant *console.AccessGrant, teams []console.Team) (bool, error) {
		return pm.resolver.HasAllPermissions(ctx, grant, teams, permissions...)
	})
}

func (pm *PermissionMiddleware) require(required []string, check permissionCheck) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authCtx := middleware.GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthenticated(w)
				return
			}
			grant := middleware.GetGrant(r)
			if grant == nil {
				httputil.WriteErrorCode(w, http.StatusForbidden, middleware.CodeAccessDenied,
					"You do not have access to this organization.")
				return
			}

			teams, err := pm.teams.UserTeams(ctx, authCtx.Principal(), grant.OrganizationSlug)
			if err != nil {
				// Role permissions still apply when the team list is unavailable
				observability.FromContext(ctx).WithError(err).Warn("Failed to load user teams for permission check")
				teams = nil
			}

			allowed, err := check(ctx, grant, teams)
			if err != nil {
				observability.FromContext(ctx).WithError(err).Error("Permission check failed")
				httputil.WriteInternalError(w)
				return
			}
			if !allowed {
				httputil.WriteErrorDetails(w, http.StatusForbidden, CodeInsufficientPermission,
					"You do not have permission to perform this action.",
					map[string]interface{}{"required_permissions": required})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
