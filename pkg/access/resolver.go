package access

import (
	"context"
	"strconv"
	"time"

	"github.com/platinummonkey/consolesso/pkg/cache"
	"github.com/platinummonkey/consolesso/pkg/console"
	"github.com/platinummonkey/consolesso/pkg/observability"
	"github.com/platinummonkey/consolesso/pkg/users"
)

const (
	DefaultAccessTTL = 300 * time.Second
	DefaultTeamsTTL  = 300 * time.Second
)

// Client is the subset of the provider client used for access checks
type Client interface {
	Access(ctx context.Context, accessToken, orgSlug string) (*console.AccessGrant, error)
	Organizations(ctx context.Context, accessToken string) ([]console.AccessGrant, error)
	UserTeams(ctx context.Context, accessToken, orgSlug string) ([]console.Team, error)
}

// TokenSource yields a usable access token for a principal, "" when none
type TokenSource interface {
	AccessToken(ctx context.Context, p users.Principal) (string, error)
}

// Resolver answers access, organization and team questions for a user
type Resolver struct {
	client    Client
	tokens    TokenSource
	store     cache.Store
	accessTTL time.Duration
	teamsTTL  time.Duration
	logger    *observability.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithAccessTTL sets how long access grants are cached
func WithAccessTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.accessTTL = ttl }
}

// WithTeamsTTL sets how long team lists are cached
func WithTeamsTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.teamsTTL = ttl }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver
func NewResolver(client Client, tokens TokenSource, store cache.Store, opts ...Option) *Resolver {
	r := &Resolver{
		client:    client,
		tokens:    tokens,
		store:     store,
		accessTTL: DefaultAccessTTL,
		teamsTTL:  DefaultTeamsTTL,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func userTag(p users.Principal) string {
	return cache.TagUser(strconv.FormatInt(p.ConsoleUserID, 10))
}

func orgTag(orgSlug string) string {
	return cache.TagOrg("slug:" + orgSlug)
}

func accessKey(p users.Principal, orgSlug string) cache.Key {
	return cache.Key{
		Namespace: cache.NamespaceOrgAccess,
		UserID:    strconv.FormatInt(p.ConsoleUserID, 10),
		OrgID:     orgSlug,
	}
}

func teamsKey(p users.Principal, orgSlug string) cache.Key {
	return cache.Key{
		Namespace: cache.NamespaceUserTeams,
		UserID:    strconv.FormatInt(p.UserID, 10),
		OrgID:     orgSlug,
	}
}

// CheckAccess returns the user's grant in the organization or nil when the
// user has no access. Provider failures other than a denial are returned.
func (r *Resolver) CheckAccess(ctx context.Context, p users.Principal, orgSlug string) (*console.AccessGrant, error) {
	if p.ConsoleUserID == 0 || orgSlug == "" {
		return nil, nil
	}

	tags := []string{userTag(p), orgTag(orgSlug)}
	return cache.Remember(ctx, r.store, accessKey(p, orgSlug), r.accessTTL, tags,
		func(ctx context.Context) (*console.AccessGrant, error) {
			token, err := r.tokens.AccessToken(ctx, p)
			if err != nil {
				return nil, err
			}
			if token == "" {
				r.logger.WithField("user_id", p.UserID).Debug("No usable access token, denying organization access")
				return nil, nil
			}
			return r.client.Access(ctx, token, orgSlug)
		})
}

// Organizations lists every organization the user belongs to. Not cached.
func (r *Resolver) Organizations(ctx context.Context, p users.Principal) ([]console.AccessGrant, error) {
	token, err := r.tokens.AccessToken(ctx, p)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return []console.AccessGrant{}, nil
	}
	return r.client.Organizations(ctx, token)
}

// UserTeams lists the user's teams in the organization
func (r *Resolver) UserTeams(ctx context.Context, p users.Principal, orgSlug string) ([]console.Team, error) {
	if orgSlug == "" {
		return []console.Team{}, nil
	}

	tags := []string{userTag(p), orgTag(orgSlug)}
	return cache.Remember(ctx, r.store, teamsKey(p, orgSlug), r.teamsTTL, tags,
		func(ctx context.Context) ([]console.Team, error) {
			token, err := r.tokens.AccessToken(ctx, p)
			if err != nil {
				return nil, err
			}
			if token == "" {
				return []console.Team{}, nil
			}
			teams, err := r.client.UserTeams(ctx, token, orgSlug)
			if err != nil {
				return nil, err
			}
			if teams == nil {
				teams = []console.Team{}
			}
			return teams, nil
		})
}

// ForgetAccess drops the cached grant for one user and organization
func (r *Resolver) ForgetAccess(ctx context.Context, p users.Principal, orgSlug string) error {
	return r.store.Forget(ctx, accessKey(p, orgSlug))
}

// ForgetUser drops every cached grant and team list of the user
func (r *Resolver) ForgetUser(ctx context.Context, p users.Principal) error {
	return r.store.InvalidateTags(ctx, userTag(p))
}

// ForgetOrganization drops every cached grant and team list of the organization
func (r *Resolver) ForgetOrganization(ctx context.Context, orgSlug string) error {
	return r.store.InvalidateTags(ctx, orgTag(orgSlug))
}
