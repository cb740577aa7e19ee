package config

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/consolesso/pkg/observability"
)

var testKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

// setRequired sets the variables without defaults
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv(EnvConfigPath, "")
	t.Setenv("CONSOLE_SSO_PROVIDER_URL", "https://console.example.com")
	t.Setenv("CONSOLE_SSO_CLIENT_ID", "client-1")
	t.Setenv("CONSOLE_SSO_CLIENT_SECRET", "secret")
	t.Setenv("CONSOLE_SSO_REDIRECT_URI", "https://app.example.com/auth/callback")
	t.Setenv("CONSOLE_SSO_DATABASE_URL", "postgres://localhost/consolesso")
	t.Setenv("CONSOLE_SSO_SESSION_SECRET", strings.Repeat("s", 32))
	t.Setenv("CONSOLE_SSO_TOKEN_KEY", testKey)
}

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true string", "true", false, true},
		{"TRUE string", "TRUE", false, true},
		{"1", "1", false, true},
		{"false string", "false", true, false},
		{"unset uses default", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     int
	}{
		{"valid integer", "42", 42},
		{"invalid integer uses default", "forty-two", 7},
		{"unset uses default", "", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)
			if got := getEnvInt("TEST_INT", 7); got != tt.want {
				t.Errorf("getEnvInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"valid duration", "45s", 45 * time.Second},
		{"invalid duration uses default", "soon", time.Minute},
		{"unset uses default", "", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.envValue)
			if got := getEnvDuration("TEST_DURATION", time.Minute); got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvListAndLevels(t *testing.T) {
	t.Setenv("TEST_LIST", " a.example.com, ,*.b.example.com ")
	assert.Equal(t, []string{"a.example.com", "*.b.example.com"}, getEnvList("TEST_LIST", nil))

	t.Setenv("TEST_LEVELS", "admin=90, auditor=20, broken, bad=x")
	assert.Equal(t, map[string]int{"admin": 90, "auditor": 20}, getEnvLevels("TEST_LEVELS", nil))

	def := map[string]int{"admin": 100}
	t.Setenv("TEST_LEVELS", "broken")
	assert.Equal(t, def, getEnvLevels("TEST_LEVELS", def))
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 300*time.Second, cfg.Cache.OrgAccessTTL)
	assert.Equal(t, 3600*time.Second, cfg.Cache.TeamPermissions)
	assert.Equal(t, map[string]int{"admin": 100, "manager": 50, "member": 10}, cfg.RBAC.RoleLevels)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.Level())
	assert.Equal(t, []string{"en"}, cfg.Locales)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "consolesso.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
provider:
  service_slug: billing
  timeout: 3s
cache:
  driver: redis
  redis_url: redis://localhost:6379/0
  user_teams_ttl: 2m
redirect:
  allowed_hosts: ["app.example.com", "*.example.org"]
`), 0o600))
	t.Setenv(EnvConfigPath, path)
	t.Setenv("CONSOLE_SSO_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "billing", cfg.Provider.ServiceSlug)
	assert.Equal(t, 3*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Cache.UserTeamsTTL)
	assert.Equal(t, []string{"app.example.com", "*.example.org"}, cfg.Redirect.AllowedHosts)
	// Values absent from the file keep their defaults
	assert.Equal(t, 60*time.Minute, cfg.Cache.JWKSTTL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing client id", map[string]string{"CONSOLE_SSO_CLIENT_ID": ""}, "ClientID"},
		{"bad provider url", map[string]string{"CONSOLE_SSO_PROVIDER_URL": "not a url"}, "BaseURL"},
		{"unknown cache driver", map[string]string{"CONSOLE_SSO_CACHE_DRIVER": "memcached"}, "Driver"},
		{"redis without url", map[string]string{"CONSOLE_SSO_CACHE_DRIVER": "redis"}, "RedisURL"},
		{"short session secret", map[string]string{"CONSOLE_SSO_SESSION_SECRET": "short"}, "SessionSecret"},
		{"short token key", map[string]string{"CONSOLE_SSO_TOKEN_KEY": base64.StdEncoding.EncodeToString([]byte("short"))}, "token encryption key"},
		{"unknown log level", map[string]string{"CONSOLE_SSO_LOG_LEVEL": "verbose"}, "LogLevel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_UnreadableFile(t *testing.T) {
	setRequired(t)
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestWatch_ReloadsValidChanges(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "consolesso.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redirect:\n  allowed_hosts: [a.example.com]\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, nil, func(cfg *Config) { changes <- cfg }))

	// invalid edits are skipped
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  driver: memcached\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("redirect:\n  allowed_hosts: [b.example.com]\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if len(cfg.Redirect.AllowedHosts) == 1 && cfg.Redirect.AllowedHosts[0] == "b.example.com" {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

func TestWatch_RequiresPath(t *testing.T) {
	assert.Error(t, Watch(context.Background(), "", nil, func(*Config) {}))
}
