package cache

import (
	"errors"
	"net/url"
	"strings"
)

// Namespace separates the independent caches
type Namespace string

const (
	NamespaceJWKS            Namespace = "jwks"
	NamespaceOrgAccess       Namespace = "org_access"
	NamespaceUserTeams       Namespace = "user_teams"
	NamespaceRolePermissions Namespace = "role_permissions"
	NamespaceTeamPermissions Namespace = "team_permissions"
)

// ErrInvalidKey is returned for a key without a namespace
var ErrInvalidKey = errors.New("cache: key has no namespace")

// Key identifies a cache entry
type Key struct {
	Namespace Namespace
	UserID    string
	OrgID     string
	// Extra disambiguates entries that are not user or org scoped,
	// e.g. a role slug or a hashed team set.
	Extra string
}

// String serializes the key. Each part is escaped so separators inside
// values cannot produce another key's encoding.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(url.QueryEscape(string(k.Namespace)))
	b.WriteString("|u=")
	b.WriteString(url.QueryEscape(k.UserID))
	b.WriteString("|o=")
	b.WriteString(url.QueryEscape(k.OrgID))
	b.WriteString("|x=")
	b.WriteString(url.QueryEscape(k.Extra))
	return b.String()
}

// Validate reports whether the key can be stored
func (k Key) Validate() error {
	if k.Namespace == "" {
		return ErrInvalidKey
	}
	return nil
}

// Tag helpers used for grouped invalidation
func TagUser(userID string) string { return "user:" + userID }

func TagOrg(orgID string) string { return "org:" + orgID }

func TagTeam(teamID string) string { return "team:" + teamID }

func TagNamespace(ns Namespace) string { return "ns:" + string(ns) }
