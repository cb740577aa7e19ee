package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/consolesso/pkg/contextkeys"
	"github.com/platinummonkey/consolesso/pkg/observability"
)

// Provider endpoints
const (
	PathToken         = "/api/sso/token"
	PathRefresh       = "/api/sso/refresh"
	PathRevoke        = "/api/sso/revoke"
	PathAccess        = "/api/sso/access"
	PathOrganizations = "/api/sso/organizations"
	PathTeams         = "/api/sso/teams"
	PathJWKS          = "/.well-known/jwks.json"
	PathAuthorize     = "/oauth/authorize"
	PathLogout        = "/logout"
)

const maxResponseBytes = 1 << 20

// Config configures the provider client
type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	ServiceSlug   string
	Timeout       time.Duration
	Retries       int
	RetryBackoff  time.Duration
	ForwardLocale bool
}

// DefaultConfig returns the default timeouts and retry policy
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		Retries:      2,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// Client calls the provider's SSO endpoints
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimiter caps outbound request rate
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records provider call metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a provider client. A zero timeout or backoff falls
// back to DefaultConfig; a zero retry count disables retries.
func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExchangeCode trades an authorization code for a token pair.
// A rejected code yields (nil, nil).
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenPair, error) {
	body := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"redirect_uri":  c.cfg.RedirectURI,
	}
	return c.tokenRequest(ctx, "exchange_code", PathToken, body)
}

// RefreshToken obtains a new pair. A rejected refresh token yields (nil, nil).
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}
	return c.tokenRequest(ctx, "refresh_token", PathRefresh, body)
}

func (c *Client) tokenRequest(ctx context.Context, endpoint, path string, body map[string]string) (*TokenPair, error) {
	var pair TokenPair
	err := c.do(ctx, endpoint, http.MethodPost, path, nil, "", body, &pair)
	if err != nil {
		if e, ok := AsError(err); ok && e.Status >= 400 && e.Status < 500 {
			c.logger.WithField("endpoint", endpoint).WithField("status", e.Status).Debug("token grant rejected")
			return nil, nil
		}
		return nil, err
	}
	if pair.AccessToken == "" {
		return nil, &Error{Kind: ErrServer, Status: http.StatusBadGateway, Code: "INVALID_RESPONSE", Message: "token response without access token"}
	}
	return &pair, nil
}

// RevokeToken revokes a refresh token. Reports whether the provider accepted it.
func (c *Client) RevokeToken(ctx context.Context, refreshToken string) (bool, error) {
	body := map[string]string{
		"refresh_token": refreshToken,
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}
	if err := c.do(ctx, "revoke_token", http.MethodPost, PathRevoke, nil, "", body, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Access checks the user's access to an organization. 403 yields (nil, nil).
func (c *Client) Access(ctx context.Context, accessToken, orgSlug string) (*AccessGrant, error) {
	var grant AccessGrant
	q := url.Values{"organization_slug": {orgSlug}}
	err := c.do(ctx, "access", http.MethodGet, PathAccess, q, accessToken, nil, &grant)
	if errors.Is(err, ErrAccessDenied) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// Organizations lists every organization the user can access in this service
func (c *Client) Organizations(ctx context.Context, accessToken string) ([]AccessGrant, error) {
	var resp organizationsResponse
	if err := c.do(ctx, "organizations", http.MethodGet, PathOrganizations, nil, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Organizations == nil {
		return []AccessGrant{}, nil
	}
	return resp.Organizations, nil
}

// UserTeams lists the user's teams in an organization. 403 and 404 yield an empty list.
func (c *Client) UserTeams(ctx context.Context, accessToken, orgSlug string) ([]Team, error) {
	var resp teamsResponse
	q := url.Values{"organization_slug": {orgSlug}}
	err := c.do(ctx, "teams", http.MethodGet, PathTeams, q, accessToken, nil, &resp)
	if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrNotFound) {
		return []Team{}, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Teams == nil {
		return []Team{}, nil
	}
	return resp.Teams, nil
}

// JWKS fetches the published signing keys
func (c *Client) JWKS(ctx context.Context) (*JWKSet, error) {
	var set JWKSet
	if err := c.do(ctx, "jwks", http.MethodGet, PathJWKS, nil, "", nil, &set); err != nil {
		if e, ok := AsError(err); ok && !errors.Is(e, ErrServer) {
			// a JWKS document that cannot be fetched is a provider fault whatever the status
			return nil, &Error{Kind: ErrServer, Status: e.Status, Code: e.Code, Message: e.Message}
		}
		return nil, err
	}
	return &set, nil
}

// LoginURL builds the provider authorization URL for the browser redirect
func (c *Client) LoginURL(state string) string {
	conf := oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.RedirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: c.cfg.BaseURL + PathAuthorize},
	}
	var opts []oauth2.AuthCodeOption
	if c.cfg.ServiceSlug != "" {
		opts = append(opts, oauth2.SetAuthURLParam("service", c.cfg.ServiceSlug))
	}
	return conf.AuthCodeURL(state, opts...)
}

// LogoutURL builds the provider's global logout URL. The redirect target
// must already have been validated by the caller.
func (c *Client) LogoutURL(redirect string) string {
	u := c.cfg.BaseURL + PathLogout
	if redirect == "" {
		return u
	}
	return u + "?" + url.Values{"redirect_uri": {redirect}}.Encode()
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, bearer string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
		}
	}

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			c.metrics.ObserveRetry(endpoint)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryBackoff):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("provider rate limit: %w", err)
			}
		}

		status, body, err := c.attempt(ctx, endpoint, method, target, bearer, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WithError(err).WithField("endpoint", endpoint).WithField("attempt", attempt+1).Warn("provider request failed")
			lastErr = &Error{Kind: ErrServer, Code: "PROVIDER_UNREACHABLE", Message: "identity provider unreachable"}
			continue
		}

		if status >= 200 && status < 300 {
			if out == nil || len(bytes.TrimSpace(body)) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return &Error{Kind: ErrServer, Status: http.StatusBadGateway, Code: "INVALID_RESPONSE", Message: fmt.Sprintf("malformed %s response", endpoint)}
			}
			return nil
		}

		perr := errorFromResponse(status, body)
		if status < 500 {
			return perr
		}
		c.logger.WithField("endpoint", endpoint).WithField("status", status).WithField("attempt", attempt+1).Warn("provider server error")
		lastErr = perr
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, endpoint, method, target, bearer string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if c.cfg.ServiceSlug != "" {
		req.Header.Set("X-Service-Slug", c.cfg.ServiceSlug)
	}
	if c.cfg.ForwardLocale {
		if locale := contextkeys.GetLocale(ctx); locale != "" {
			req.Header.Set("Accept-Language", locale)
		}
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveProvider(endpoint, 0, started)
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.ObserveProvider(endpoint, resp.StatusCode, started)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}
