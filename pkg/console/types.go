package console

// TokenPair is issued by the provider on code exchange and refresh.
// It is never persisted in plaintext.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
}

// AccessGrant is the result of an access check for a user in an organization
type AccessGrant struct {
	OrganizationID   int64   `json:"organization_id"`
	OrganizationSlug string  `json:"organization_slug"`
	OrganizationName string  `json:"organization_name,omitempty"`
	OrgRole          string  `json:"org_role"`
	ServiceRole      *string `json:"service_role"`
	ServiceRoleLevel int     `json:"service_role_level"`
}

// Role returns the service role or "" when none is assigned
func (g *AccessGrant) Role() string {
	if g == nil || g.ServiceRole == nil {
		return ""
	}
	return *g.ServiceRole
}

// Team is a team membership in one organization
type Team struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Path     *string `json:"path"`
	ParentID *int64  `json:"parent_id"`
	IsLeader bool    `json:"is_leader"`
}

// JWK is one published signing key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the provider's published key set
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// Find returns the key with the given key id
func (s *JWKSet) Find(kid string) (*JWK, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Keys {
		if s.Keys[i].Kid == kid {
			return &s.Keys[i], true
		}
	}
	return nil, false
}

type organizationsResponse struct {
	Organizations []AccessGrant `json:"organizations"`
}

type teamsResponse struct {
	Teams []Team `json:"teams"`
}
