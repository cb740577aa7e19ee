package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/consolesso/pkg/cache"
	"github.com/platinummonkey/consolesso/pkg/console"
	"github.com/platinummonkey/consolesso/pkg/users"
)

type fakeClient struct {
	grants      map[string]*console.AccessGrant
	teams       map[string][]console.Team
	orgs        []console.AccessGrant
	err         error
	accessCalls int
	teamsCalls  int
	orgsCalls   int
}

func (f *fakeClient) Access(_ context.Context, token, orgSlug string) (*console.AccessGrant, error) {
	f.accessCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.grants[orgSlug], nil
}

func (f *fakeClient) Organizations(_ context.Context, token string) ([]console.AccessGrant, error) {
	f.orgsCalls++
	return f.orgs, f.err
}

func (f *fakeClient) UserTeams(_ context.Context, token, orgSlug string) ([]console.Team, error) {
	f.teamsCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.teams[orgSlug], nil
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(context.Context, users.Principal) (string, error) {
	return s.token, s.err
}

var alice = users.Principal{UserID: 1, ConsoleUserID: 42}

func role(s string) *string { return &s }

func newResolver(client *fakeClient, tokens TokenSource) (*Resolver, *cache.Memory) {
	store := cache.NewMemory(100)
	return NewResolver(client, tokens, store), store
}

func TestCheckAccess_CachesGrant(t *testing.T) {
	client := &fakeClient{grants: map[string]*console.AccessGrant{
		"acme": {OrganizationID: 10, OrganizationSlug: "acme", OrgRole: "member", ServiceRole: role("manager"), ServiceRoleLevel: 50},
	}}
	r, _ := newResolver(client, staticTokens{token: "at"})

	for i := 0; i < 3; i++ {
		grant, err := r.CheckAccess(context.Background(), alice, "acme")
		require.NoError(t, err)
		require.NotNil(t, grant)
		assert.Equal(t, "manager", grant.Role())
	}
	assert.Equal(t, 1, client.accessCalls)
}

func TestCheckAccess_CachesDenial(t *testing.T) {
	client := &fakeClient{grants: map[string]*console.AccessGrant{}}
	r, _ := newResolver(client, staticTokens{token: "at"})

	for i := 0; i < 3; i++ {
		grant, err := r.CheckAccess(context.Background(), alice, "other")
		require.NoError(t, err)
		assert.Nil(t, grant)
	}
	assert.Equal(t, 1, client.accessCalls)
}

func TestCheckAccess_NoTokenCachesNil(t *testing.T) {
	client := &fakeClient{}
	r, store := newResolver(client, staticTokens{})

	grant, err := r.CheckAccess(context.Background(), alice, "acme")
	require.NoError(t, err)
	assert.Nil(t, grant)
	assert.Zero(t, client.accessCalls)
	assert.Equal(t, 1, store.Len())
}

func TestCheckAccess_ProviderErrorNotCached(t *testing.T) {
	client := &fakeClient{err: &console.Error{Kind: console.ErrServer, Status: 502}}
	r, store := newResolver(client, staticTokens{token: "at"})

	_, err := r.CheckAccess(context.Background(), alice, "acme")
	assert.ErrorIs(t, err, console.ErrServer)
	assert.Zero(t, store.Len())
}

func TestCheckAccess_UnlinkedUser(t *testing.T) {
	client := &fakeClient{}
	r, _ := newResolver(client, staticTokens{token: "at"})

	grant, err := r.CheckAccess(context.Background(), users.Principal{UserID: 9}, "acme")
	require.NoError(t, err)
	assert.Nil(t, grant)
	assert.Zero(t, client.accessCalls)
}

func TestForget(t *testing.T) {
	client := &fakeClient{
		grants: map[string]*console.AccessGrant{"acme": {OrganizationSlug: "acme"}},
		teams:  map[string][]console.Team{"acme": {{ID: 1, Name: "core"}}},
	}
	r, _ := newResolver(client, staticTokens{token: "at"})
	ctx := context.Background()

	_, err := r.CheckAccess(ctx, alice, "acme")
	require.NoError(t, err)
	require.NoError(t, r.ForgetAccess(ctx, alice, "acme"))
	_, err = r.CheckAccess(ctx, alice, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, client.accessCalls)

	_, err = r.UserTeams(ctx, alice, "acme")
	require.NoError(t, err)
	require.NoError(t, r.ForgetUser(ctx, alice))
	_, err = r.CheckAccess(ctx, alice, "acme")
	require.NoError(t, err)
	_, err = r.UserTeams(ctx, alice, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, client.accessCalls)
	assert.Equal(t, 2, client.teamsCalls)

	require.NoError(t, r.ForgetOrganization(ctx, "acme"))
	_, err = r.UserTeams(ctx, alice, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, client.teamsCalls)
}

func TestUserTeams(t *testing.T) {
	client := &fakeClient{teams: map[string][]console.Team{"acme": {{ID: 1, Name: "core", IsLeader: true}}}}
	r, _ := newResolver(client, staticTokens{token: "at"})

	teams, err := r.UserTeams(context.Background(), alice, "acme")
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.True(t, teams[0].IsLeader)

	_, err = r.UserTeams(context.Background(), alice, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, client.teamsCalls)

	empty, err := r.UserTeams(context.Background(), alice, "nowhere")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestOrganizations_Uncached(t *testing.T) {
	client := &fakeClient{orgs: []console.AccessGrant{{OrganizationSlug: "acme"}}}
	r, _ := newResolver(client, staticTokens{token: "at"})

	for i := 0; i < 2; i++ {
		orgs, err := r.Organizations(context.Background(), alice)
		require.NoError(t, err)
		assert.Len(t, orgs, 1)
	}
	assert.Equal(t, 2, client.orgsCalls)

	r2, _ := newResolver(client, staticTokens{})
	orgs, err := r2.Organizations(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, orgs)
}

type downStore struct{}

func (downStore) Get(context.Context, cache.Key, interface{}) (bool, error) {
	return false, errors.New("connection refused")
}
func (downStore) Set(context.Context, cache.Key, interface{}, time.Duration, ...string) error {
	return errors.New("connection refused")
}
func (downStore) Forget(context.Context, cache.Key) error { return errors.New("connection refused") }
func (downStore) InvalidateTags(context.Context, ...string) error {
	return errors.New("connection refused")
}

func TestCheckAccess_CacheOutageFallsBack(t *testing.T) {
	client := &fakeClient{grants: map[string]*console.AccessGrant{"acme": {OrganizationSlug: "acme"}}}
	r := NewResolver(client, staticTokens{token: "at"}, downStore{})

	grant, err := r.CheckAccess(context.Background(), alice, "acme")
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, "acme", grant.OrganizationSlug)
}
