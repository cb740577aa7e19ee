package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, RedisConfig{}), mr
}

func TestRedis_SetGet(t *testing.T) {
	ctx := context.Background()
	r, mr := setupTestRedis(t)
	key := Key{Namespace: NamespaceOrgAccess, UserID: "1", OrgID: "acme"}

	require.NoError(t, r.Set(ctx, key, grant{Slug: "acme", Role: "member"}, 5*time.Minute))
	assert.True(t, mr.Exists("consolesso:org_access|u=1|o=acme|x="))

	var got grant
	ok, err := r.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "member", got.Role)

	mr.FastForward(5 * time.Minute)
	ok, err = r.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_CachesNil(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t)
	key := Key{Namespace: NamespaceOrgAccess, UserID: "1", OrgID: "denied"}

	var none *grant
	require.NoError(t, r.Set(ctx, key, none, time.Minute))

	got := &grant{}
	ok, err := r.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, got)
}

func TestRedis_CorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	r, mr := setupTestRedis(t)
	key := Key{Namespace: NamespaceJWKS}

	require.NoError(t, mr.Set("consolesso:"+key.String(), "{not json"))

	var got map[string]interface{}
	ok, err := r.Get(ctx, key, &got)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("consolesso:"+key.String()))
}

func TestRedis_InvalidateTags(t *testing.T) {
	ctx := context.Background()
	r, mr := setupTestRedis(t)

	a := Key{Namespace: NamespaceOrgAccess, UserID: "1", OrgID: "acme"}
	b := Key{Namespace: NamespaceUserTeams, UserID: "1", OrgID: "acme"}
	c := Key{Namespace: NamespaceOrgAccess, UserID: "2", OrgID: "acme"}

	require.NoError(t, r.Set(ctx, a, "a", time.Minute, TagUser("1"), TagOrg("acme")))
	require.NoError(t, r.Set(ctx, b, "b", time.Minute, TagUser("1"), TagOrg("acme")))
	require.NoError(t, r.Set(ctx, c, "c", time.Minute, TagUser("2"), TagOrg("acme")))

	require.NoError(t, r.InvalidateTags(ctx, TagUser("1")))

	var v string
	ok, _ := r.Get(ctx, a, &v)
	assert.False(t, ok)
	ok, _ = r.Get(ctx, b, &v)
	assert.False(t, ok)
	ok, _ = r.Get(ctx, c, &v)
	assert.True(t, ok)
	assert.False(t, mr.Exists("consolesso:tag:user:1"))

	require.NoError(t, r.InvalidateTags(ctx, TagOrg("acme")))
	ok, _ = r.Get(ctx, c, &v)
	assert.False(t, ok)
}

func TestRedis_Forget(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t)
	key := Key{Namespace: NamespaceRolePermissions, Extra: "admin"}

	require.NoError(t, r.Set(ctx, key, []string{"roles.manage"}, time.Hour))
	require.NoError(t, r.Forget(ctx, key))

	var perms []string
	ok, err := r.Get(ctx, key, &perms)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	r := NewRedis(client, RedisConfig{})
	mr.Close()

	var v string
	_, err := r.Get(context.Background(), Key{Namespace: NamespaceJWKS}, &v)
	assert.Error(t, err)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(RedisConfig{URL: "not-a-url"})
	assert.Error(t, err)
}
