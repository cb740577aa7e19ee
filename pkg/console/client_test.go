package console

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/consolesso/pkg/contextkeys"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{
		BaseURL:      server.URL,
		ClientID:     "client-1",
		ClientSecret: "secret",
		RedirectURI:  "https://app.example.com/auth/callback",
		ServiceSlug:  "billing",
		Timeout:      2 * time.Second,
		Retries:      2,
		RetryBackoff: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg, WithHTTPClient(server.Client()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClient_ExchangeCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathToken, r.URL.Path)
		assert.Equal(t, "billing", r.Header.Get("X-Service-Slug"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "authorization_code", body["grant_type"])
		assert.Equal(t, "client-1", body["client_id"])

		if body["code"] == "invalid" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "message": "bad code"})
			return
		}
		writeJSON(w, http.StatusOK, TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600})
	})

	pair, err := client.ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, &TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600}, pair)

	pair, err = client.ExchangeCode(context.Background(), "invalid")
	assert.NoError(t, err)
	assert.Nil(t, pair)
}

func TestClient_RefreshRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathRefresh, r.URL.Path)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
	})

	pair, err := client.RefreshToken(context.Background(), "expired")
	assert.NoError(t, err)
	assert.Nil(t, pair)
}

func TestClient_RevokeToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathRevoke, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	ok, err := client.RevokeToken(context.Background(), "rt")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_Access(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAccess, r.URL.Path)
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("organization_slug") {
		case "acme":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"organization_id":    7,
				"organization_slug":  "acme",
				"org_role":           "owner",
				"service_role":       "manager",
				"service_role_level": 50,
			})
		case "denied":
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "no_access"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "org_not_found", "message": "unknown organization"})
		}
	})

	grant, err := client.Access(context.Background(), "at", "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(7), grant.OrganizationID)
	assert.Equal(t, "manager", grant.Role())
	assert.Equal(t, 50, grant.ServiceRoleLevel)

	grant, err = client.Access(context.Background(), "at", "denied")
	assert.NoError(t, err)
	assert.Nil(t, grant)

	_, err = client.Access(context.Background(), "at", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, perr.Status)
	assert.Equal(t, "org_not_found", perr.Code)
	assert.Equal(t, "unknown organization", perr.Message)
}

func TestClient_OrganizationsAndTeams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathOrganizations:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"organizations": []map[string]interface{}{
					{"organization_id": 1, "organization_slug": "acme", "org_role": "member", "service_role": nil},
				},
			})
		case PathTeams:
			switch r.URL.Query().Get("organization_slug") {
			case "acme":
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"teams": []map[string]interface{}{
						{"id": 3, "name": "Platform", "path": "eng/platform", "parent_id": 1, "is_leader": true},
					},
				})
			case "hidden":
				w.WriteHeader(http.StatusForbidden)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}
	})

	orgs, err := client.Organizations(context.Background(), "at")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "", orgs[0].Role())

	teams, err := client.UserTeams(context.Background(), "at", "acme")
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "eng/platform", *teams[0].Path)
	assert.True(t, teams[0].IsLeader)

	for _, slug := range []string{"hidden", "ghost"} {
		teams, err = client.UserTeams(context.Background(), "at", slug)
		assert.NoError(t, err)
		assert.Empty(t, teams)
		assert.NotNil(t, teams)
	}
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		kind   error
	}{
		{http.StatusBadRequest, ErrAPI},
		{http.StatusUnprocessableEntity, ErrAPI},
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAccessDenied},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusServiceUnavailable, ErrServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"code": "E1", "message": "nope"})
			}, func(c *Config) { c.Retries = 0 })

			_, err := client.Organizations(context.Background(), "at")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			perr, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, "E1", perr.Code)
			assert.Equal(t, "nope", perr.Message)
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"organizations": []interface{}{}})
	})

	orgs, err := client.Organizations(context.Background(), "at")
	require.NoError(t, err)
	assert.Empty(t, orgs)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_RetriesAreBounded(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.JWKS(context.Background())
	assert.ErrorIs(t, err, ErrServer)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Organizations(context.Background(), "at")
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(Config{BaseURL: server.URL, Retries: 1, RetryBackoff: time.Millisecond})

	_, err := client.JWKS(context.Background())
	assert.ErrorIs(t, err, ErrServer)
	perr, _ := AsError(err)
	assert.Equal(t, http.StatusBadGateway, perr.HTTPStatus())
}

func TestClient_JWKSNotFoundIsServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.JWKS(context.Background())
	assert.ErrorIs(t, err, ErrServer)
}

func TestClient_LocaleForwarding(t *testing.T) {
	var got string
	handler := func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Accept-Language")
		writeJSON(w, http.StatusOK, JWKSet{})
	}
	ctx := contextkeys.WithLocale(context.Background(), "fr-CA")

	client := newTestClient(t, handler, func(c *Config) { c.ForwardLocale = true })
	_, err := client.JWKS(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fr-CA", got)

	client = newTestClient(t, handler)
	_, err = client.JWKS(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_RateLimiterHonoursContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, JWKSet{})
	})
	WithRateLimiter(rate.NewLimiter(rate.Every(time.Hour), 1))(client)

	_, err := client.JWKS(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = client.JWKS(ctx)
	assert.ErrorContains(t, err, "provider rate limit")
}

func TestClient_LoginAndLogoutURL(t *testing.T) {
	client := NewClient(Config{
		BaseURL:     "https://console.example.com/",
		ClientID:    "client-1",
		RedirectURI: "https://app.example.com/auth/callback",
		ServiceSlug: "billing",
	})

	login := client.LoginURL("state-1")
	assert.True(t, strings.HasPrefix(login, "https://console.example.com/oauth/authorize?"))
	assert.Contains(t, login, "client_id=client-1")
	assert.Contains(t, login, "state=state-1")
	assert.Contains(t, login, "service=billing")
	assert.Contains(t, login, "response_type=code")

	assert.Equal(t, "https://console.example.com/logout?redirect_uri=https%3A%2F%2Fapp.example.com%2Fbye", client.LogoutURL("https://app.example.com/bye"))
	assert.Equal(t, "https://console.example.com/logout", client.LogoutURL(""))
}
