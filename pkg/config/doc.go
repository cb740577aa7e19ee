// Package config loads the service configuration.
//
// # Sources
//
// Defaults are overlaid by an optional YAML file, named by
// CONSOLE_SSO_CONFIG, and then by CONSOLE_SSO_* environment variables.
// The result is validated with struct tags before use.
//
//	provider:
//	  base_url: https://console.example.com
//	  client_id: billing-app
//	  service_slug: billing
//	  timeout: 10s
//	cache:
//	  driver: redis            # memory, redis
//	  redis_url: redis://localhost:6379/0
//	redirect:
//	  allowed_hosts: ["app.example.com", "*.example.com"]
//
// Frequently set variables:
//
//	CONSOLE_SSO_PROVIDER_URL, CONSOLE_SSO_CLIENT_ID, CONSOLE_SSO_CLIENT_SECRET
//	CONSOLE_SSO_DATABASE_URL, CONSOLE_SSO_SESSION_SECRET, CONSOLE_SSO_TOKEN_KEY
//	CONSOLE_SSO_CACHE_DRIVER, CONSOLE_SSO_REDIS_URL
//	CONSOLE_SSO_ALLOWED_REDIRECT_HOSTS="app.example.com,*.example.com"
//	CONSOLE_SSO_ROLE_LEVELS="admin=100,manager=50,member=10"
//	CONSOLE_SSO_LOG_LEVEL="info"  # debug, info, warn, error
//
// # Reloading
//
// Watch re-reads the file on change. Only the redirect allow-list is
// applied live by the server; other settings need a restart.
package config
