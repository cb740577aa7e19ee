package rbac

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/consolesso/pkg/async"
	"github.com/platinummonkey/consolesso/pkg/cache"
	"github.com/platinummonkey/consolesso/pkg/observability"
)

const (
	warmWorkers = 4
	warmTimeout = 5 * time.Second
)

const (
	DefaultRolePermissionsTTL = 3600 * time.Second
	DefaultTeamPermissionsTTL = 3600 * time.Second
)

// RolePermissionSource loads role permissions from storage
type RolePermissionSource interface {
	RolePermissionSlugs(ctx context.Context, roleSlug string) ([]string, error)
	AllRolePermissionSlugs(ctx context.Context) (map[string][]string, error)
}

// TeamPermissionSource loads team permissions from storage
type TeamPermissionSource interface {
	TeamPermissionSlugs(ctx context.Context, orgID int64, teamIDs []int64) ([]string, error)
}

// RoleCache caches role slug -> permission slugs
type RoleCache struct {
	source RolePermissionSource
	store  cache.Store
	ttl    time.Duration
	logger *observability.Logger
}

// NewRoleCache creates a RoleCache. A non-positive ttl uses the default.
func NewRoleCache(source RolePermissionSource, store cache.Store, ttl time.Duration, logger *observability.Logger) *RoleCache {
	if ttl <= 0 {
		ttl = DefaultRolePermissionsTTL
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RoleCache{source: source, store: store, ttl: ttl, logger: logger}
}

func roleKey(roleSlug string) cache.Key {
	return cache.Key{Namespace: cache.NamespaceRolePermissions, Extra: roleSlug}
}

var roleTags = []string{cache.TagNamespace(cache.NamespaceRolePermissions)}

// Permissions returns the permission slugs of a role
func (c *RoleCache) Permissions(ctx context.Context, roleSlug string) ([]string, error) {
	if roleSlug == "" {
		return []string{}, nil
	}
	return cache.Remember(ctx, c.store, roleKey(roleSlug), c.ttl, roleTags,
		func(ctx context.Context) ([]string, error) {
			return c.source.RolePermissionSlugs(ctx, roleSlug)
		})
}

// Warm loads every role's permissions in one query and caches them
func (c *RoleCache) Warm(ctx context.Context) (int, error) {
	all, err := c.source.AllRolePermissionSlugs(ctx)
	if err != nil {
		return 0, err
	}
	roles := make([]string, 0, len(all))
	for role := range all {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	errs := async.Batch(ctx, roles, warmWorkers, warmTimeout, func(ctx context.Context, role string) error {
		return c.store.Set(ctx, roleKey(role), all[role], c.ttl, roleTags...)
	})
	for _, err := range errs {
		var itemErr *async.ItemError
		if errors.As(err, &itemErr) {
			c.logger.WithError(itemErr.Err).WithField("role", roles[itemErr.Index]).Warn("Failed to warm role permissions")
		}
	}
	return len(all), nil
}

// Forget drops the cached permissions of a role
func (c *RoleCache) Forget(ctx context.Context, roleSlug string) error {
	return c.store.Forget(ctx, roleKey(roleSlug))
}

// TeamCache caches the permission slugs of a set of teams in an organization
type TeamCache struct {
	source TeamPermissionSource
	store  cache.Store
	ttl    time.Duration
}

// NewTeamCache creates a TeamCache. A non-positive ttl uses the default.
func NewTeamCache(source TeamPermissionSource, store cache.Store, ttl time.Duration) *TeamCache {
	if ttl <= 0 {
		ttl = DefaultTeamPermissionsTTL
	}
	return &TeamCache{source: source, store: store, ttl: ttl}
}

// normalizeTeams returns the sorted distinct team ids
func normalizeTeams(teamIDs []int64) []int64 {
	seen := make(map[int64]struct{}, len(teamIDs))
	ids := make([]int64, 0, len(teamIDs))
	for _, id := range teamIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// teamSetHash identifies a team set independent of order and duplicates
func teamSetHash(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

func orgTag(orgID int64) string {
	return cache.TagOrg(strconv.FormatInt(orgID, 10))
}

func teamTag(teamID int64) string {
	return cache.TagTeam(strconv.FormatInt(teamID, 10))
}

// Permissions returns the active permission slugs granted to any of teamIDs
func (c *TeamCache) Permissions(ctx context.Context, orgID int64, teamIDs []int64) ([]string, error) {
	ids := normalizeTeams(teamIDs)
	if len(ids) == 0 {
		return []string{}, nil
	}

	key := cache.Key{
		Namespace: cache.NamespaceTeamPermissions,
		OrgID:     strconv.FormatInt(orgID, 10),
		Extra:     teamSetHash(ids),
	}
	tags := make([]string, 0, len(ids)+1)
	tags = append(tags, orgTag(orgID))
	for _, id := range ids {
		tags = append(tags, teamTag(id))
	}

	return cache.Remember(ctx, c.store, key, c.ttl, tags,
		func(ctx context.Context) ([]string, error) {
			return c.source.TeamPermissionSlugs(ctx, orgID, ids)
		})
}

// ForgetTeam drops every cached team set containing teamID
func (c *TeamCache) ForgetTeam(ctx context.Context, teamID int64) error {
	return c.store.InvalidateTags(ctx, teamTag(teamID))
}

// ForgetOrganization drops every cached team set of the organization
func (c *TeamCache) ForgetOrganization(ctx context.Context, orgID int64) error {
	return c.store.InvalidateTags(ctx, orgTag(orgID))
}
