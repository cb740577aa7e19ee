package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/consolesso/pkg/observability"
)

// EnvConfigPath names the variable holding the optional YAML file path
const EnvConfigPath = "CONSOLE_SSO_CONFIG"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Provider      ProviderConfig      `yaml:"provider"`
	Cache         CacheConfig         `yaml:"cache"`
	Database      DatabaseConfig      `yaml:"database"`
	Security      SecurityConfig      `yaml:"security"`
	Redirect      RedirectConfig      `yaml:"redirect"`
	RBAC          RBACConfig          `yaml:"rbac"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Locales are the languages offered to the provider, first is the fallback
	Locales []string `yaml:"locales"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// ProviderConfig configures the identity provider client
type ProviderConfig struct {
	BaseURL       string        `yaml:"base_url" validate:"required,url"`
	ClientID      string        `yaml:"client_id" validate:"required"`
	ClientSecret  string        `yaml:"client_secret" validate:"required"`
	RedirectURI   string        `yaml:"redirect_uri" validate:"required,url"`
	ServiceSlug   string        `yaml:"service_slug"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	Retries       int           `yaml:"retries" validate:"gte=0,lte=10"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	ForwardLocale bool          `yaml:"forward_locale"`
	// Audience, when set, must match the aud claim of identity tokens
	Audience string `yaml:"audience"`
	// RequestsPerSecond bounds outbound calls; zero disables the limiter
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// CacheConfig selects the cache backend and entry lifetimes
type CacheConfig struct {
	Driver          string        `yaml:"driver" validate:"oneof=memory redis"`
	MemoryEntries   int           `yaml:"memory_entries" validate:"gte=0"`
	RedisURL        string        `yaml:"redis_url" validate:"required_if=Driver redis"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db" validate:"gte=0"`
	JWKSTTL         time.Duration `yaml:"jwks_ttl" validate:"gt=0"`
	OrgAccessTTL    time.Duration `yaml:"org_access_ttl" validate:"gt=0"`
	UserTeamsTTL    time.Duration `yaml:"user_teams_ttl" validate:"gt=0"`
	RolePermissions time.Duration `yaml:"role_permissions_ttl" validate:"gt=0"`
	TeamPermissions time.Duration `yaml:"team_permissions_ttl" validate:"gt=0"`
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL      string        `yaml:"url" validate:"required"`
	MaxConns int           `yaml:"max_conns" validate:"gte=0"`
	MinConns int           `yaml:"min_conns" validate:"gte=0"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SecurityConfig holds secrets for sessions and token encryption
type SecurityConfig struct {
	SessionSecret string        `yaml:"session_secret" validate:"required,min=32"`
	SessionMaxAge time.Duration `yaml:"session_max_age"`
	SecureCookies bool          `yaml:"secure_cookies"`
	// TokenEncryptionKey is a base64-encoded 32 byte key
	TokenEncryptionKey string `yaml:"token_encryption_key" validate:"required,base64"`
}

// RedirectConfig configures redirect target validation
type RedirectConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts" validate:"dive,required"`
	AppURL       string   `yaml:"app_url" validate:"omitempty,url"`
	FrontendURL  string   `yaml:"frontend_url" validate:"omitempty,url"`
	RequireHTTPS bool     `yaml:"require_https"`
	MaxLength    int      `yaml:"max_length" validate:"gte=0"`
}

// RBACConfig holds role levels and maintenance schedules
type RBACConfig struct {
	RoleLevels    map[string]int `yaml:"role_levels" validate:"dive,gte=0"`
	PurgeSchedule string         `yaml:"purge_schedule"`
	WarmSchedule  string         `yaml:"warm_schedule"`
	PurgeAfter    time.Duration  `yaml:"purge_after" validate:"gte=0"`
}

// RateLimitConfig throttles login attempts per client address
type RateLimitConfig struct {
	LoginRequests int           `yaml:"login_requests" validate:"gte=0"`
	LoginWindow   time.Duration `yaml:"login_window" validate:"gte=0"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level" validate:"oneof=debug info warn warning error"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint" validate:"required_if=OTelEnabled true"`
	OTelServiceName    string `yaml:"otel_service_name" validate:"required_if=OTelEnabled true"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLevel(o.LogLevel)
}

// Default returns the configuration used before the file and environment
// are applied
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Provider: ProviderConfig{
			Timeout:      10 * time.Second,
			Retries:      2,
			RetryBackoff: 200 * time.Millisecond,
		},
		Cache: CacheConfig{
			Driver:          "memory",
			MemoryEntries:   10000,
			JWKSTTL:         60 * time.Minute,
			OrgAccessTTL:    300 * time.Second,
			UserTeamsTTL:    300 * time.Second,
			RolePermissions: 3600 * time.Second,
			TeamPermissions: 3600 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns: 20,
			MinConns: 2,
			Timeout:  5 * time.Second,
		},
		Security: SecurityConfig{
			SessionMaxAge: 12 * time.Hour,
			SecureCookies: true,
		},
		Redirect: RedirectConfig{
			MaxLength: 2048,
		},
		RBAC: RBACConfig{
			RoleLevels:    map[string]int{"admin": 100, "manager": 50, "member": 10},
			PurgeSchedule: "0 3 * * *",
			WarmSchedule:  "0 * * * *",
			PurgeAfter:    30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			LoginRequests: 20,
			LoginWindow:   time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "consolesso",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
		Locales: []string{"en"},
	}
}

// Load reads the YAML file named by CONSOLE_SSO_CONFIG, when set, then
// applies environment overrides and validates the result
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigPath))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Host = getEnv("CONSOLE_SSO_HOST", s.Host)
	s.Port = getEnv("CONSOLE_SSO_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("CONSOLE_SSO_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("CONSOLE_SSO_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("CONSOLE_SSO_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("CONSOLE_SSO_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	p := &cfg.Provider
	p.BaseURL = getEnv("CONSOLE_SSO_PROVIDER_URL", p.BaseURL)
	p.ClientID = getEnv("CONSOLE_SSO_CLIENT_ID", p.ClientID)
	p.ClientSecret = getEnv("CONSOLE_SSO_CLIENT_SECRET", p.ClientSecret)
	p.RedirectURI = getEnv("CONSOLE_SSO_REDIRECT_URI", p.RedirectURI)
	p.ServiceSlug = getEnv("CONSOLE_SSO_SERVICE_SLUG", p.ServiceSlug)
	p.Audience = getEnv("CONSOLE_SSO_TOKEN_AUDIENCE", p.Audience)
	p.Timeout = getEnvDuration("CONSOLE_SSO_PROVIDER_TIMEOUT", p.Timeout)
	p.Retries = getEnvInt("CONSOLE_SSO_PROVIDER_RETRIES", p.Retries)
	p.RetryBackoff = getEnvDuration("CONSOLE_SSO_PROVIDER_RETRY_BACKOFF", p.RetryBackoff)
	p.ForwardLocale = getEnvBool("CONSOLE_SSO_FORWARD_LOCALE", p.ForwardLocale)
	p.RequestsPerSecond = getEnvFloat("CONSOLE_SSO_PROVIDER_RPS", p.RequestsPerSecond)
	p.Burst = getEnvInt("CONSOLE_SSO_PROVIDER_BURST", p.Burst)

	c := &cfg.Cache
	c.Driver = getEnv("CONSOLE_SSO_CACHE_DRIVER", c.Driver)
	c.MemoryEntries = getEnvInt("CONSOLE_SSO_CACHE_MEMORY_ENTRIES", c.MemoryEntries)
	c.RedisURL = getEnv("CONSOLE_SSO_REDIS_URL", c.RedisURL)
	c.RedisPassword = getEnv("CONSOLE_SSO_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("CONSOLE_SSO_REDIS_DB", c.RedisDB)
	c.JWKSTTL = getEnvDuration("CONSOLE_SSO_JWKS_TTL", c.JWKSTTL)
	c.OrgAccessTTL = getEnvDuration("CONSOLE_SSO_ORG_ACCESS_TTL", c.OrgAccessTTL)
	c.UserTeamsTTL = getEnvDuration("CONSOLE_SSO_USER_TEAMS_TTL", c.UserTeamsTTL)
	c.RolePermissions = getEnvDuration("CONSOLE_SSO_ROLE_PERMISSIONS_TTL", c.RolePermissions)
	c.TeamPermissions = getEnvDuration("CONSOLE_SSO_TEAM_PERMISSIONS_TTL", c.TeamPermissions)

	d := &cfg.Database
	d.URL = getEnv("CONSOLE_SSO_DATABASE_URL", d.URL)
	d.MaxConns = getEnvInt("CONSOLE_SSO_DATABASE_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("CONSOLE_SSO_DATABASE_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("CONSOLE_SSO_DATABASE_TIMEOUT", d.Timeout)

	sec := &cfg.Security
	sec.SessionSecret = getEnv("CONSOLE_SSO_SESSION_SECRET", sec.SessionSecret)
	sec.SessionMaxAge = getEnvDuration("CONSOLE_SSO_SESSION_MAX_AGE", sec.SessionMaxAge)
	sec.SecureCookies = getEnvBool("CONSOLE_SSO_SECURE_COOKIES", sec.SecureCookies)
	sec.TokenEncryptionKey = getEnv("CONSOLE_SSO_TOKEN_KEY", sec.TokenEncryptionKey)

	rd := &cfg.Redirect
	rd.AllowedHosts = getEnvList("CONSOLE_SSO_ALLOWED_REDIRECT_HOSTS", rd.AllowedHosts)
	rd.AppURL = getEnv("CONSOLE_SSO_APP_URL", rd.AppURL)
	rd.FrontendURL = getEnv("CONSOLE_SSO_FRONTEND_URL", rd.FrontendURL)
	rd.RequireHTTPS = getEnvBool("CONSOLE_SSO_REDIRECT_REQUIRE_HTTPS", rd.RequireHTTPS)
	rd.MaxLength = getEnvInt("CONSOLE_SSO_REDIRECT_MAX_LENGTH", rd.MaxLength)

	rb := &cfg.RBAC
	rb.RoleLevels = getEnvLevels("CONSOLE_SSO_ROLE_LEVELS", rb.RoleLevels)
	rb.PurgeSchedule = getEnv("CONSOLE_SSO_PURGE_SCHEDULE", rb.PurgeSchedule)
	rb.WarmSchedule = getEnv("CONSOLE_SSO_WARM_SCHEDULE", rb.WarmSchedule)
	rb.PurgeAfter = getEnvDuration("CONSOLE_SSO_PURGE_AFTER", rb.PurgeAfter)

	rl := &cfg.RateLimit
	rl.LoginRequests = getEnvInt("CONSOLE_SSO_LOGIN_RATE_LIMIT", rl.LoginRequests)
	rl.LoginWindow = getEnvDuration("CONSOLE_SSO_LOGIN_RATE_WINDOW", rl.LoginWindow)

	o := &cfg.Observability
	o.LogLevel = strings.ToLower(getEnv("CONSOLE_SSO_LOG_LEVEL", o.LogLevel))
	o.MetricsEnabled = getEnvBool("CONSOLE_SSO_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("CONSOLE_SSO_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("CONSOLE_SSO_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("CONSOLE_SSO_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("CONSOLE_SSO_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("CONSOLE_SSO_OTEL_INSECURE", o.OTelInsecure)

	cfg.Locales = getEnvList("CONSOLE_SSO_LOCALES", cfg.Locales)
}

var validate = validator.New()

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s failed on %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}

	key, err := base64.StdEncoding.DecodeString(c.Security.TokenEncryptionKey)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("token encryption key must be 32 bytes, base64 encoded")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvLevels parses "role=level" pairs, e.g. "admin=100,manager=50"
func getEnvLevels(key string, defaultValue map[string]int) map[string]int {
	items := getEnvList(key, nil)
	if len(items) == 0 {
		return defaultValue
	}
	levels := make(map[string]int, len(items))
	for _, item := range items {
		role, raw, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		level, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		levels[strings.TrimSpace(role)] = level
	}
	if len(levels) == 0 {
		return defaultValue
	}
	return levels
}
