package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/consolesso/pkg/access"
	"github.com/platinummonkey/consolesso/pkg/auth"
	"github.com/platinummonkey/consolesso/pkg/cache"
	"github.com/platinummonkey/consolesso/pkg/config"
	"github.com/platinummonkey/consolesso/pkg/console"
	"github.com/platinummonkey/consolesso/pkg/httputil"
	"github.com/platinummonkey/consolesso/pkg/jwks"
	"github.com/platinummonkey/consolesso/pkg/middleware"
	"github.com/platinummonkey/consolesso/pkg/observability"
	"github.com/platinummonkey/consolesso/pkg/rbac"
	"github.com/platinummonkey/consolesso/pkg/redirect"
	"github.com/platinummonkey/consolesso/pkg/session"
	"github.com/platinummonkey/consolesso/pkg/sso"
	"github.com/platinummonkey/consolesso/pkg/storage"
	"github.com/platinummonkey/consolesso/pkg/tokens"
	"github.com/platinummonkey/consolesso/pkg/users"
	"github.com/platinummonkey/consolesso/pkg/verifier"
)

// version is set at build time
var version = "dev"

const maxRequestBytes = 1 << 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("service", "consolesso")
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Database
	dbConfig := storage.DefaultConfig(cfg.Database.URL)
	if cfg.Database.MaxConns > 0 {
		dbConfig.MaxConns = cfg.Database.MaxConns
	}
	if cfg.Database.MinConns > 0 {
		dbConfig.MinConns = cfg.Database.MinConns
	}
	if cfg.Database.Timeout > 0 {
		dbConfig.Timeout = cfg.Database.Timeout
	}
	db, err := storage.Open(ctx, dbConfig)
	if err != nil {
		return err
	}
	if err := storage.Migrate(ctx, db, storage.Migrations(), logger); err != nil {
		db.Close()
		return err
	}

	// Cache
	var redisClient *redis.Client
	var store cache.Store
	switch cfg.Cache.Driver {
	case "redis":
		redisCfg := cache.RedisConfig{URL: cfg.Cache.RedisURL, Password: cfg.Cache.RedisPassword, DB: cfg.Cache.RedisDB}
		redisClient, err = cache.NewRedisClient(redisCfg)
		if err != nil {
			db.Close()
			return err
		}
		store = cache.NewRedis(redisClient, redisCfg)
	default:
		store = cache.NewMemory(cfg.Cache.MemoryEntries)
	}
	store = cache.Instrument(store, logger, metrics)
	logger.WithField("driver", cfg.Cache.Driver).Info("Cache initialized")

	// Identity provider
	clientOpts := []console.Option{console.WithLogger(logger), console.WithMetrics(metrics)}
	if cfg.Provider.RequestsPerSecond > 0 {
		burst := cfg.Provider.Burst
		if burst <= 0 {
			burst = 1
		}
		clientOpts = append(clientOpts, console.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.Provider.RequestsPerSecond), burst)))
	}
	client := console.NewClient(console.Config{
		BaseURL:       cfg.Provider.BaseURL,
		ClientID:      cfg.Provider.ClientID,
		ClientSecret:  cfg.Provider.ClientSecret,
		RedirectURI:   cfg.Provider.RedirectURI,
		ServiceSlug:   cfg.Provider.ServiceSlug,
		Timeout:       cfg.Provider.Timeout,
		Retries:       cfg.Provider.Retries,
		RetryBackoff:  cfg.Provider.RetryBackoff,
		ForwardLocale: cfg.Provider.ForwardLocale,
	}, clientOpts...)

	keys := jwks.NewKeyStore(client, store,
		jwks.WithTTL(cfg.Cache.JWKSTTL), jwks.WithLogger(logger), jwks.WithMetrics(metrics))
	var verifierOpts []verifier.Option
	if cfg.Provider.Audience != "" {
		verifierOpts = append(verifierOpts, verifier.WithAudience(cfg.Provider.Audience))
	}
	tokenVerifier := verifier.New(keys, verifierOpts...)

	// Users and tokens
	cipher, err := tokens.NewXChaChaFromBase64(cfg.Security.TokenEncryptionKey)
	if err != nil {
		db.Close()
		return err
	}
	userStore := users.NewPostgresStore(db)
	tokenManager := tokens.NewManager(client, userStore, cipher,
		tokens.WithLogger(logger), tokens.WithMetrics(metrics))
	resolver := access.NewResolver(client, tokenManager, store,
		access.WithAccessTTL(cfg.Cache.OrgAccessTTL),
		access.WithTeamsTTL(cfg.Cache.UserTeamsTTL),
		access.WithLogger(logger))

	sessions, err := session.NewManager(session.Config{
		Secret: cfg.Security.SessionSecret,
		MaxAge: cfg.Security.SessionMaxAge,
		Secure: cfg.Security.SecureCookies,
	})
	if err != nil {
		db.Close()
		return err
	}
	deviceTokens := auth.NewTokenIssuer(auth.NewPostgresTokenStore(db))
	authenticator := middleware.NewAuthenticator(sessions, deviceTokens, userStore, false)
	audit := auth.NewAuditLogger(logger)

	redirects := newLiveRedirects(cfg.Redirect)
	if path := os.Getenv(config.EnvConfigPath); path != "" {
		err := config.Watch(ctx, path, logger, func(next *config.Config) {
			redirects.Store(next.Redirect)
		})
		if err != nil {
			logger.WithError(err).Warn("Config reload disabled")
		}
	}

	// Login throttling
	loginLimits := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.LoginRequests,
		WindowDuration:    cfg.RateLimit.LoginWindow,
	}
	var loginThrottle func(http.Handler) http.Handler
	if loginLimits.RequestsPerWindow > 0 && loginLimits.WindowDuration > 0 {
		var limiter middleware.Limiter = middleware.NewMemoryLimiter(loginLimits)
		if redisClient != nil {
			limiter = middleware.NewRedisLimiter(redisClient, loginLimits, "")
		}
		loginThrottle = middleware.RateLimit(limiter, logger)
	}

	flow := sso.NewFlow(client, tokenVerifier, userStore, tokenManager, resolver, sso.WithLogger(logger))
	ssoHandlers := sso.NewHandlers(sso.HandlersConfig{
		Flow:            flow,
		Sessions:        sessions,
		Devices:         deviceTokens,
		URLs:            client,
		Redirects:       redirects,
		DefaultRedirect: defaultRedirect(cfg.Redirect),
		Audit:           audit,
		Metrics:         metrics,
		LoginThrottle:   loginThrottle,
	})

	rbacConfig := rbac.DefaultConfig()
	rbacConfig.RolePermissionsTTL = cfg.Cache.RolePermissions
	rbacConfig.TeamPermissionsTTL = cfg.Cache.TeamPermissions
	rbacConfig.Maintenance.PurgeSchedule = cfg.RBAC.PurgeSchedule
	rbacConfig.Maintenance.WarmSchedule = cfg.RBAC.WarmSchedule
	rbacConfig.Maintenance.PurgeAfter = cfg.RBAC.PurgeAfter
	rbacManager, err := rbac.NewManager(db, store, resolver, audit, rbacConfig, logger)
	if err != nil {
		db.Close()
		return err
	}
	rbacManager.Initialize(ctx)
	rbacManager.Maintenance().Start()

	// Routes
	router := mux.NewRouter()
	router.Use(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		observability.HTTPMetricsMiddleware(metrics),
		httputil.MaxBytesMiddleware(maxRequestBytes),
		middleware.Locale(cfg.Locales...),
	)
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient).WithVersion(version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, registry)
	}
	ssoHandlers.RegisterRoutes(router, authenticator.Handler)

	levels := middleware.RoleLevels(cfg.RBAC.RoleLevels)
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(
		authenticator.Handler,
		middleware.RequireOrganization(resolver),
		middleware.RequireRole(levels, rbac.RoleAdmin),
	)
	rbacManager.RegisterRoutes(admin)

	org := router.PathPrefix("/org").Subrouter()
	org.Use(authenticator.Handler, middleware.RequireOrganization(resolver))
	rbacManager.RegisterMemberRoutes(org)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(router, "consolesso"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("tracing", shutdownTracing)
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("maintenance", func(ctx context.Context) error {
		select {
		case <-rbacManager.Maintenance().Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).WithField("version", version).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			stop()
			_ = shutdown.Shutdown(ctx)
			return err
		}
	case <-ctx.Done():
	}
	return shutdown.Shutdown(ctx)
}

func defaultRedirect(cfg config.RedirectConfig) string {
	if cfg.FrontendURL != "" {
		return cfg.FrontendURL
	}
	if cfg.AppURL != "" {
		return cfg.AppURL
	}
	return "/"
}

// liveRedirects swaps the redirect allow-list when the config file changes
type liveRedirects struct {
	current atomic.Pointer[redirect.Validator]
}

func newLiveRedirects(cfg config.RedirectConfig) *liveRedirects {
	l := &liveRedirects{}
	l.Store(cfg)
	return l
}

func (l *liveRedirects) Store(cfg config.RedirectConfig) {
	l.current.Store(redirect.New(redirect.Config{
		AllowedHosts:  cfg.AllowedHosts,
		AppURL:        cfg.AppURL,
		FrontendURL:   cfg.FrontendURL,
		AllowRelative: true,
		RequireHTTPS:  cfg.RequireHTTPS,
		MaxLength:     cfg.MaxLength,
	}))
}

func (l *liveRedirects) Validate(raw, def string) string {
	return l.current.Load().Validate(raw, def)
}
