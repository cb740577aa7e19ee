package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/consolesso/pkg/auth"
	"github.com/platinummonkey/consolesso/pkg/cache"
	"github.com/platinummonkey/consolesso/pkg/console"
	"github.com/platinummonkey/consolesso/pkg/contextkeys"
	"github.com/platinummonkey/consolesso/pkg/users"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type handlerFixture struct {
	router *mux.Router
	mock   sqlmock.Sqlmock
	cache  *cache.Memory
	roles  *RoleCache
	teams  *TeamCache
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store, mock, _ := newMockStore(t)
	mem := cache.NewMemory(100)
	roles := NewRoleCache(store, mem, 0, nil)
	teams := NewTeamCache(store, mem, 0)

	h := NewHandlers(store, roles, teams, auth.NewAuditLogger(nil), 0)
	h.now = func() time.Time { return fixedNow }

	consoleID := int64(42)
	authCtx := &auth.AuthContext{User: &users.User{ID: 1, ConsoleUserID: &consoleID}, Method: auth.MethodSession}
	grant := &console.AccessGrant{OrganizationID: 7, OrganizationSlug: "acme", ServiceRole: strPtr("admin")}

	router := mux.NewRouter()
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := contextkeys.WithAuth(r.Context(), authCtx)
			ctx = contextkeys.WithGrant(ctx, grant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	h.RegisterRoutes(admin)

	return &handlerFixture{router: router, mock: mock, cache: mem, roles: roles, teams: teams}
}

func (f *handlerFixture) do(t *testing.T, method, target string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHandlers_DeleteSystemRole(t *testing.T) {
	f := newHandlerFixture(t)

	f.mock.ExpectQuery(regexp.QuoteMeta(`FROM roles WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(roleRowColumns).
			AddRow(1, "admin", "Administrator", "", 100, true, fixedNow, fixedNow))

	rec, body := f.do(t, http.MethodDelete, "/admin/roles/1", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeCannotDeleteSystemRole, body["error"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandlers_DeleteCustomRole(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Set(ctx, roleKey("auditor"), []string{"reports.view"}, time.Hour))

	f.mock.ExpectQuery(regexp.QuoteMeta(`FROM roles WHERE id = $1`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(roleRowColumns).
			AddRow(4, "auditor", "Auditor", "", 20, false, fixedNow, fixedNow))
	f.mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM roles`)).
		WithArgs(int64(4), pq.Array(SystemRoleSlugs)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, _ := f.do(t, http.MethodDelete, "/admin/roles/4", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.cache.Len())
}

func TestHandlers_GetRoleNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	f.mock.ExpectQuery(regexp.QuoteMeta(`FROM roles WHERE id = $1`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(roleRowColumns))

	rec, body := f.do(t, http.MethodGet, "/admin/roles/9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeRoleNotFound, body["error"])
}

func TestHandlers_CreateRole(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		f := newHandlerFixture(t)

		rec, body := f.do(t, http.MethodPost, "/admin/roles", map[string]interface{}{"name": "Auditor"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", body["error"])
		assert.Contains(t, body["message"], "slug is required")
	})

	t.Run("created", func(t *testing.T) {
		f := newHandlerFixture(t)

		f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO roles`)).
			WithArgs("auditor", "Auditor", "", 20).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(4, fixedNow, fixedNow))

		rec, body := f.do(t, http.MethodPost, "/admin/roles", map[string]interface{}{
			"slug": "auditor", "name": "Auditor", "level": 20,
		})
		assert.Equal(t, http.StatusCreated, rec.Code)
		role := body["role"].(map[string]interface{})
		assert.Equal(t, float64(4), role["id"])
		assert.Equal(t, false, role["is_system"])
	})
}

func TestHandlers_SyncRolePermissionsClearsCache(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Set(ctx, roleKey("auditor"), []string{"old"}, time.Hour))

	f.mock.ExpectQuery(regexp.QuoteMeta(`FROM roles WHERE id = $1`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(roleRowColumns).
			AddRow(4, "auditor", "Auditor", "", 20, false, fixedNow, fixedNow))
	f.mock.ExpectBegin()
	f.mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM role_permissions`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO role_permissions`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	f.mock.ExpectQuery(regexp.QuoteMeta(`WHERE rp.role_id = $1`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "group_name", "description"}).
			AddRow(2, "reports.export", "Export reports", "reports", ""))

	rec, body := f.do(t, http.MethodPut, "/admin/roles/4/permissions", map[string]interface{}{
		"permission_ids": []int64{2},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["permissions"], 1)

	var cached []string
	hit, err := f.cache.Get(ctx, roleKey("auditor"), &cached)
	require.NoError(t, err)
	assert.False(t, hit, "role cache entry is cleared before the response")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandlers_GrantTeamPermission(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Set(ctx, cache.Key{Namespace: cache.NamespaceTeamPermissions, OrgID: "7", Extra: "h"},
		[]string{}, time.Hour, orgTag(7), teamTag(3)))

	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO team_permissions`)).
		WithArgs(int64(3), int64(7), int64(11)).
		WillReturnRows(sqlmock.NewRows(tpRowColumns).AddRow(20, 3, 7, 11, "reports.export", fixedNow, nil))

	rec, body := f.do(t, http.MethodPost, "/admin/team-permissions", map[string]interface{}{
		"team_id": 3, "permission_id": 11,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	tp := body["team_permission"].(map[string]interface{})
	assert.Equal(t, "reports.export", tp["permission_slug"])
	assert.Equal(t, 0, f.cache.Len(), "cached team sets containing the team are invalidated")
}

func TestHandlers_RevokeUnknownTeamPermission(t *testing.T) {
	f := newHandlerFixture(t)

	f.mock.ExpectQuery(regexp.QuoteMeta(`UPDATE team_permissions SET deleted_at = NOW()`)).
		WithArgs(int64(20), int64(7)).
		WillReturnRows(sqlmock.NewRows(tpRowColumns))

	rec, body := f.do(t, http.MethodDelete, "/admin/team-permissions/20", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeTeamPermissionNotFound, body["error"])
}

func TestHandlers_ListOrphans(t *testing.T) {
	f := newHandlerFixture(t)

	f.mock.ExpectQuery(regexp.QuoteMeta(`FROM team_permissions tp`)).
		WithArgs(int64(7), true).
		WillReturnRows(sqlmock.NewRows(tpRowColumns).
			AddRow(20, 3, 7, 11, "reports.export", fixedNow, fixedNow).
			AddRow(21, 3, 7, 12, "reports.view", fixedNow, nil).
			AddRow(22, 4, 7, 11, "reports.export", fixedNow, nil))

	rec, body := f.do(t, http.MethodGet, "/admin/team-permissions/orphans?team_ids=3", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	orphans := body["orphans"].([]interface{})
	require.Len(t, orphans, 2)
	assert.Equal(t, OrphanRevoked, orphans[0].(map[string]interface{})["reason"])
	assert.Equal(t, float64(20), orphans[0].(map[string]interface{})["id"])
	assert.Equal(t, OrphanTeamMissing, orphans[1].(map[string]interface{})["reason"])
	assert.Equal(t, float64(22), orphans[1].(map[string]interface{})["id"])
}

func TestHandlers_ListOrphansInvalidTeams(t *testing.T) {
	f := newHandlerFixture(t)

	rec, body := f.do(t, http.MethodGet, "/admin/team-permissions/orphans?team_ids=3,abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
}

func TestHandlers_Purge(t *testing.T) {
	f := newHandlerFixture(t)

	f.mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM team_permissions`)).
		WithArgs(fixedNow.Add(-7*24*time.Hour), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	rec, body := f.do(t, http.MethodPost, "/admin/team-permissions/purge?older_than_days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["purged"])

	rec, _ = f.do(t, http.MethodPost, "/admin/team-permissions/purge?older_than_days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFindOrphans(t *testing.T) {
	deleted := fixedNow
	grants := []TeamPermission{
		{ID: 1, TeamID: 3},
		{ID: 2, TeamID: 4},
		{ID: 3, TeamID: 3, DeletedAt: &deleted},
	}

	unknown := FindOrphans(grants, nil, false)
	require.Len(t, unknown, 1)
	assert.Equal(t, int64(3), unknown[0].ID)

	known := FindOrphans(grants, []int64{3}, true)
	require.Len(t, known, 2)
	assert.Equal(t, int64(2), known[0].ID)
	assert.Equal(t, OrphanTeamMissing, known[0].Reason)
	assert.Equal(t, OrphanRevoked, known[1].Reason)
}

func TestHandlers_MemberTeamPermissions(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		wantStatus int
	}{
		{"role holds the view permission", "manager", http.StatusOK},
		{"role without the permission", "member", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock, _ := newMockStore(t)
			mem := cache.NewMemory(100)
			roles := NewRoleCache(store, mem, 0, nil)
			teams := NewTeamCache(store, mem, 0)
			ctx := context.Background()
			require.NoError(t, mem.Set(ctx, roleKey("manager"), []string{PermissionViewTeamPermissions}, time.Hour))
			require.NoError(t, mem.Set(ctx, roleKey("member"), []string{}, time.Hour))

			h := NewHandlers(store, roles, teams, auth.NewAuditLogger(nil), 0)
			pm := NewPermissionMiddleware(NewPermissionResolver(roles, teams), fakeTeams{})

			consoleID := int64(42)
			authCtx := &auth.AuthContext{User: &users.User{ID: 1, ConsoleUserID: &consoleID}, Method: auth.MethodSession}
			grant := &console.AccessGrant{OrganizationID: 7, OrganizationSlug: "acme", ServiceRole: strPtr(tt.role)}

			router := mux.NewRouter()
			org := router.PathPrefix("/org").Subrouter()
			org.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					ctx := contextkeys.WithAuth(r.Context(), authCtx)
					next.ServeHTTP(w, r.WithContext(contextkeys.WithGrant(ctx, grant)))
				})
			})
			h.RegisterMemberRoutes(org, pm)

			if tt.wantStatus == http.StatusOK {
				mock.ExpectQuery(regexp.QuoteMeta(`FROM team_permissions tp`)).
					WithArgs(int64(7), false).
					WillReturnRows(sqlmock.NewRows(tpRowColumns).AddRow(20, 3, 7, 11, "reports.export", fixedNow, nil))
			}

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/org/team-permissions", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
