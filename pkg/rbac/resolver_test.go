package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/consolesso/pkg/cache"
	"github.com/platinummonkey/consolesso/pkg/console"
)

func strPtr(s string) *string { return &s }

func newTestResolver(src *fakeSource) *PermissionResolver {
	store := cache.NewMemory(100)
	return NewPermissionResolver(
		NewRoleCache(src, store, 0, nil),
		NewTeamCache(src, store, 0),
	)
}

func TestPermissionResolver_AllPermissions(t *testing.T) {
	src := &fakeSource{
		roles: map[string][]string{"manager": {"A", "B"}},
		teams: map[int64][]string{3: {"B", "C"}},
	}
	pr := newTestResolver(src)
	ctx := context.Background()
	grant := &console.AccessGrant{OrganizationID: 7, OrganizationSlug: "acme", ServiceRole: strPtr("manager")}

	t.Run("union of role and team permissions", func(t *testing.T) {
		perms, err := pr.AllPermissions(ctx, grant, []console.Team{{ID: 3, Name: "ops"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C"}, perms)
	})

	t.Run("role only", func(t *testing.T) {
		perms, err := pr.AllPermissions(ctx, grant, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, perms)
	})

	t.Run("teams without service role", func(t *testing.T) {
		noRole := &console.AccessGrant{OrganizationID: 7, OrganizationSlug: "acme"}
		perms, err := pr.AllPermissions(ctx, noRole, []console.Team{{ID: 3}})
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "C"}, perms)
	})

	t.Run("nil grant", func(t *testing.T) {
		perms, err := pr.AllPermissions(ctx, nil, []console.Team{{ID: 3}})
		require.NoError(t, err)
		assert.Empty(t, perms)
	})
}

func TestPermissionResolver_Checks(t *testing.T) {
	src := &fakeSource{
		roles: map[string][]string{"member": {"reports.view"}},
		teams: map[int64][]string{3: {"reports.export"}},
	}
	pr := newTestResolver(src)
	ctx := context.Background()
	grant := &console.AccessGrant{OrganizationID: 7, ServiceRole: strPtr("member")}
	teams := []console.Team{{ID: 3}}

	ok, err := pr.HasPermission(ctx, grant, teams, "reports.export")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pr.HasPermission(ctx, grant, teams, "users.manage")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = pr.HasAnyPermission(ctx, grant, teams, "users.manage", "reports.view")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pr.HasAnyPermission(ctx, grant, teams)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = pr.HasAllPermissions(ctx, grant, teams, "reports.view", "reports.export")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pr.HasAllPermissions(ctx, grant, teams, "reports.view", "users.manage")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = pr.HasAllPermissions(ctx, grant, teams)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPermissionResolver_SourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	pr := newTestResolver(src)

	_, err := pr.HasPermission(context.Background(),
		&console.AccessGrant{OrganizationID: 7, ServiceRole: strPtr("admin")}, nil, "x")
	assert.Error(t, err)
}
