package rbac

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/consolesso/pkg/auth"
	"github.com/platinummonkey/consolesso/pkg/httputil"
	"github.com/platinummonkey/consolesso/pkg/middleware"
	"github.com/platinummonkey/consolesso/pkg/observability"
)

// Error codes
const (
	CodeRoleNotFound           = "ROLE_NOT_FOUND"
	CodeRoleExists             = "ROLE_EXISTS"
	CodeCannotDeleteSystemRole = "CANNOT_DELETE_SYSTEM_ROLE"
	CodePermissionNotFound     = "PERMISSION_NOT_FOUND"
	CodeTeamPermissionNotFound = "TEAM_PERMISSION_NOT_FOUND"
	CodeTeamPermissionActive   = "TEAM_PERMISSION_ACTIVE"
)

// DefaultPurgeAfter is how long revoked team permissions are kept
const DefaultPurgeAfter = 30 * 24 * time.Hour

// Handlers provides HTTP handlers for role and permission administration
type Handlers struct {
	store      *Store
	roles      *RoleCache
	teams      *TeamCache
	audit      *auth.AuditLogger
	purgeAfter time.Duration
	now        func() time.Time
}

// NewHandlers creates new RBAC handlers
func NewHandlers(store *Store, roles *RoleCache, teams *TeamCache, audit *auth.AuditLogger, purgeAfter time.Duration) *Handlers {
	if purgeAfter <= 0 {
		purgeAfter = DefaultPurgeAfter
	}
	return &Handlers{
		store:      store,
		roles:      roles,
		teams:      teams,
		audit:      audit,
		purgeAfter: purgeAfter,
		now:        time.Now,
	}
}

// RegisterRoutes registers all RBAC routes. The router is expected to
// carry authentication, organization and role middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Role management
	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/roles/{id:[0-9]+}", h.GetRole).Methods("GET")
	router.HandleFunc("/roles/{id:[0-9]+}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/roles/{id:[0-9]+}", h.DeleteRole).Methods("DELETE")
	router.HandleFunc("/roles/{id:[0-9]+}/permissions", h.SyncRolePermissions).Methods("PUT")

	router.HandleFunc("/permissions", h.ListPermissions).Methods("GET")

	// Team permissions
	router.HandleFunc("/team-permissions", h.ListTeamPermissions).Methods("GET")
	router.HandleFunc("/team-permissions", h.GrantTeamPermission).Methods("POST")
	router.HandleFunc("/team-permissions/orphans", h.ListOrphans).Methods("GET")
	router.HandleFunc("/team-permissions/purge", h.PurgeTeamPermissions).Methods("POST")
	router.HandleFunc("/team-permissions/{id:[0-9]+}", h.RevokeTeamPermission).Methods("DELETE")
	router.HandleFunc("/team-permissions/{id:[0-9]+}/restore", h.RestoreTeamPermission).Methods("POST")
}

// RegisterMemberRoutes registers read-only organization routes that are
// gated by permission instead of role level. The router is expected to
// carry authentication and organization middleware.
func (h *Handlers) RegisterMemberRoutes(router *mux.Router, pm *PermissionMiddleware) {
	router.Handle("/team-permissions",
		pm.RequirePermission(PermissionViewTeamPermissions)(http.HandlerFunc(h.ListTeamPermissions))).
		Methods("GET")
}

type createRoleRequest struct {
	Slug        string `json:"slug" validate:"required,max=100,lowercase"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1000"`
	Level       int    `json:"level" validate:"gte=0,lte=1000"`
}

type updateRoleRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1000"`
	Level       int    `json:"level" validate:"gte=0,lte=1000"`
}

type syncPermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required,dive,gt=0"`
}

type grantRequest struct {
	TeamID       int64 `json:"team_id" validate:"required,gt=0"`
	PermissionID int64 `json:"permission_id" validate:"required,gt=0"`
}

// ListRoles lists every role
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

// GetRole returns a role with its permissions
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	permissions, err := h.store.RolePermissions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"role":        role,
		"permissions": permissions,
	})
}

// CreateRole creates a custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	role := &Role{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Level:       req.Level,
	}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		h.logAudit(r, auth.ActionRoleCreate, auth.StatusFailure, req.Slug, err)
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, auth.ActionRoleCreate, auth.StatusSuccess, strconv.FormatInt(role.ID, 10), nil)
	_ = httputil.WriteCreated(w, map[string]interface{}{"role": role})
}

// UpdateRole updates a role's name, description and level
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	role := &Role{ID: id, Name: req.Name, Description: req.Description, Level: req.Level}
	if err := h.store.UpdateRole(r.Context(), role); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.forgetRole(r, role.Slug)

	h.logAudit(r, auth.ActionRoleUpdate, auth.StatusSuccess, strconv.FormatInt(id, 10), nil)
	_ = httputil.WriteSuccess(w, map[string]interface{}{"role": role})
}

// DeleteRole deletes a custom role. System roles are refused with 422.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.DeleteRole(r.Context(), id)
	if err != nil {
		h.logAudit(r, auth.ActionRoleDelete, auth.StatusFailure, strconv.FormatInt(id, 10), err)
		h.writeError(w, r, err)
		return
	}
	h.forgetRole(r, role.Slug)

	h.logAudit(r, auth.ActionRoleDelete, auth.StatusSuccess, strconv.FormatInt(id, 10), nil)
	_ = httputil.WriteMessage(w, "Role deleted.")
}

// SyncRolePermissions replaces a role's permissions
func (h *Handlers) SyncRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req syncPermissionsRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	role, err := h.store.GetRole(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.SyncRolePermissions(ctx, id, req.PermissionIDs); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.forgetRole(r, role.Slug)

	permissions, err := h.store.RolePermissions(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, auth.ActionRoleUpdate, auth.StatusSuccess, strconv.FormatInt(id, 10), nil)
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"role":        role,
		"permissions": permissions,
	})
}

// ListPermissions lists every permission
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.store.ListPermissions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"permissions": permissions})
}

// ListTeamPermissions lists the organization's team grants.
// ?include_deleted=true includes revoked grants.
func (h *Handlers) ListTeamPermissions(w http.ResponseWriter, r *http.Request) {
	grant := middleware.GetGrant(r)
	includeDeleted, _ := strconv.ParseBool(r.URL.Query().Get("include_deleted"))

	grants, err := h.store.ListTeamPermissions(r.Context(), grant.OrganizationID, includeDeleted)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"team_permissions": grants})
}

// GrantTeamPermission grants a permission to a team of the organization
func (h *Handlers) GrantTeamPermission(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	grant := middleware.GetGrant(r)

	tp, err := h.store.GrantTeamPermission(r.Context(), grant.OrganizationID, req.TeamID, req.PermissionID)
	if err != nil {
		h.logAudit(r, auth.ActionPermissionGrant, auth.StatusFailure, strconv.FormatInt(req.TeamID, 10), err)
		h.writeError(w, r, err)
		return
	}
	h.forgetTeam(r, tp.TeamID)

	h.logAudit(r, auth.ActionPermissionGrant, auth.StatusSuccess, strconv.FormatInt(tp.ID, 10), nil)
	_ = httputil.WriteCreated(w, map[string]interface{}{"team_permission": tp})
}

// RevokeTeamPermission soft-deletes a team grant
func (h *Handlers) RevokeTeamPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	grant := middleware.GetGrant(r)

	tp, err := h.store.RevokeTeamPermission(r.Context(), grant.OrganizationID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.forgetTeam(r, tp.TeamID)

	h.logAudit(r, auth.ActionPermissionRevoke, auth.StatusSuccess, strconv.FormatInt(id, 10), nil)
	_ = httputil.WriteSuccess(w, map[string]interface{}{"team_permission": tp})
}

// RestoreTeamPermission reactivates a revoked team grant
func (h *Handlers) RestoreTeamPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	grant := middleware.GetGrant(r)

	tp, err := h.store.RestoreTeamPermission(r.Context(), grant.OrganizationID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.forgetTeam(r, tp.TeamID)

	h.logAudit(r, auth.ActionPermissionGrant, auth.StatusSuccess, strconv.FormatInt(id, 10), nil)
	_ = httputil.WriteSuccess(w, map[string]interface{}{"team_permission": tp})
}

// ListOrphans lists revoked grants and, when ?team_ids= carries the
// organization's current teams, active grants for teams no longer present
func (h *Handlers) ListOrphans(w http.ResponseWriter, r *http.Request) {
	grant := middleware.GetGrant(r)

	current, known, err := parseTeamIDs(r.URL.Query().Get("team_ids"))
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	grants, err := h.store.ListTeamPermissions(r.Context(), grant.OrganizationID, true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"orphans": FindOrphans(grants, current, known),
	})
}

// PurgeTeamPermissions hard-deletes the organization's grants revoked more
// than ?older_than_days= days ago
func (h *Handlers) PurgeTeamPermissions(w http.ResponseWriter, r *http.Request) {
	grant := middleware.GetGrant(r)

	days, err := httputil.ParseQueryInt(r, "older_than_days", int(h.purgeAfter/(24*time.Hour)))
	if err != nil || days < 0 {
		httputil.WriteValidationError(w, "older_than_days must be a non-negative integer")
		return
	}

	cutoff := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	purged, err := h.store.PurgeTeamPermissions(r.Context(), grant.OrganizationID, cutoff)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, auth.ActionPermissionPurge, auth.StatusSuccess, strconv.FormatInt(grant.OrganizationID, 10), nil)
	_ = httputil.WriteSuccess(w, map[string]interface{}{"purged": purged})
}

// Orphan reasons
const (
	OrphanRevoked     = "revoked"
	OrphanTeamMissing = "team_missing"
)

// Orphan is a team grant that no longer applies
type Orphan struct {
	TeamPermission
	Reason string `json:"reason"`
}

// FindOrphans returns revoked grants and, when known is set, active grants
// whose team is not in currentTeams
func FindOrphans(grants []TeamPermission, currentTeams []int64, known bool) []Orphan {
	current := make(map[int64]struct{}, len(currentTeams))
	for _, id := range currentTeams {
		current[id] = struct{}{}
	}

	orphans := []Orphan{}
	for _, tp := range grants {
		switch {
		case tp.Deleted():
			orphans = append(orphans, Orphan{TeamPermission: tp, Reason: OrphanRevoked})
		case known:
			if _, ok := current[tp.TeamID]; !ok {
				orphans = append(orphans, Orphan{TeamPermission: tp, Reason: OrphanTeamMissing})
			}
		}
	}
	return orphans
}

func parseTeamIDs(raw string) ([]int64, bool, error) {
	if raw == "" {
		return nil, false, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, false, errors.New("team_ids must be a comma separated list of team ids")
		}
		ids = append(ids, id)
	}
	return ids, true, nil
}

func (h *Handlers) forgetRole(r *http.Request, slug string) {
	if err := h.roles.Forget(r.Context(), slug); err != nil {
		observability.FromContext(r.Context()).WithError(err).
			WithField("role", slug).Error("Failed to invalidate role permissions")
	}
}

func (h *Handlers) forgetTeam(r *http.Request, teamID int64) {
	if err := h.teams.ForgetTeam(r.Context(), teamID); err != nil {
		observability.FromContext(r.Context()).WithError(err).
			WithField("team_id", teamID).Error("Failed to invalidate team permissions")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound):
		httputil.WriteErrorCode(w, http.StatusNotFound, CodeRoleNotFound, "Role not found.")
	case errors.Is(err, ErrSystemRole):
		httputil.WriteErrorCode(w, http.StatusUnprocessableEntity, CodeCannotDeleteSystemRole,
			"System roles cannot be deleted.")
	case errors.Is(err, ErrRoleExists):
		httputil.WriteErrorCode(w, http.StatusConflict, CodeRoleExists, "A role with this slug already exists.")
	case errors.Is(err, ErrPermissionNotFound):
		httputil.WriteErrorCode(w, http.StatusUnprocessableEntity, CodePermissionNotFound, "Unknown permission.")
	case errors.Is(err, ErrTeamPermissionNotFound):
		httputil.WriteErrorCode(w, http.StatusNotFound, CodeTeamPermissionNotFound, "Team permission not found.")
	case errors.Is(err, ErrTeamPermissionActive):
		httputil.WriteErrorCode(w, http.StatusConflict, CodeTeamPermissionActive,
			"The team already holds this permission.")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("RBAC request failed")
		httputil.WriteInternalError(w)
	}
}

func (h *Handlers) logAudit(r *http.Request, action, status, resourceID string, err error) {
	event := auth.AuditEvent{
		Action:       action,
		Status:       status,
		ResourceType: "rbac",
		ResourceID:   resourceID,
	}
	if authCtx := middleware.GetAuthContext(r); authCtx != nil && authCtx.User != nil {
		event.UserID = authCtx.User.ID
	}
	if grant := middleware.GetGrant(r); grant != nil {
		event.Organization = grant.OrganizationSlug
	}
	if err != nil {
		event.Reason = err.Error()
	}
	h.audit.Log(r, event)
}
