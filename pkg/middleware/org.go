package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/consolesso/pkg/console"
	"github.com/platinummonkey/consolesso/pkg/contextkeys"
	"github.com/platinummonkey/consolesso/pkg/httputil"
	"github.com/platinummonkey/consolesso/pkg/observability"
	"github.com/platinummonkey/consolesso/pkg/users"
)

// OrgHeader carries the organization slug of an organization-scoped request
const OrgHeader = "X-Org-Id"

// Error codes
const (
	CodeMissingOrganization = "MISSING_ORGANIZATION"
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeInsufficientRole    = "INSUFFICIENT_ROLE"
)

// AccessChecker resolves a user's grant in an organization
type AccessChecker interface {
	CheckAccess(ctx context.Context, p users.Principal, orgSlug string) (*console.AccessGrant, error)
}

// RequireOrganization requires an authenticated caller with access to the
// organization named by the X-Org-Id header
func RequireOrganization(checker AccessChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthenticated(w)
				return
			}

			orgSlug := strings.TrimSpace(r.Header.Get(OrgHeader))
			if orgSlug == "" {
				httputil.WriteErrorCode(w, http.StatusBadRequest, CodeMissingOrganization,
					"The "+OrgHeader+" header is required.")
				return
			}

			grant, err := checker.CheckAccess(r.Context(), authCtx.Principal(), orgSlug)
			if err != nil && !errors.Is(err, console.ErrNotFound) && !errors.Is(err, console.ErrAccessDenied) {
				observability.FromContext(r.Context()).WithError(err).
					WithField("organization", orgSlug).Error("Organization access check failed")
				httputil.WriteError(w, err)
				return
			}
			if grant == nil {
				httputil.WriteErrorCode(w, http.StatusForbidden, CodeAccessDenied,
					"You do not have access to this organization.")
				return
			}

			ctx := contextkeys.WithGrant(r.Context(), grant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetGrant returns the organization grant stored by RequireOrganization
func GetGrant(r *http.Request) *console.AccessGrant {
	grant, _ := r.Context().Value(contextkeys.GrantKey).(*console.AccessGrant)
	return grant
}

// RoleLevels maps a service role slug to its level
type RoleLevels map[string]int

// DefaultRoleLevels returns the built-in role hierarchy
func DefaultRoleLevels() RoleLevels {
	return RoleLevels{
		"admin":   100,
		"manager": 50,
		"member":  10,
	}
}

// Level returns the level of role, zero for unknown or empty roles
func (l RoleLevels) Level(role string) int {
	return l[role]
}

// Satisfies reports whether current meets the level of required
func (l RoleLevels) Satisfies(current, required string) bool {
	need, ok := l[required]
	if !ok {
		return false
	}
	have, ok := l[current]
	return ok && have >= need
}

// RequireRole requires the organization grant's service role to reach the
// level of required. Must run after RequireOrganization.
func RequireRole(levels RoleLevels, required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			grant := GetGrant(r)
			if grant == nil {
				httputil.WriteErrorCode(w, http.StatusForbidden, CodeAccessDenied,
					"You do not have access to this organization.")
				return
			}

			current := grant.Role()
			if !levels.Satisfies(current, required) {
				var currentRole interface{}
				if current != "" {
					currentRole = current
				}
				httputil.WriteErrorDetails(w, http.StatusForbidden, CodeInsufficientRole,
					"Your role does not allow this action.",
					map[string]interface{}{
						"required_role": required,
						"current_role":  currentRole,
					})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
