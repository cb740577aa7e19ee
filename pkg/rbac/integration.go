package rbac

import (
	"context"
	"database/sql"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/consolesso/pkg/auth"
	"github.com/platinummonkey/consolesso/pkg/cache"
	"github.com/platinummonkey/consolesso/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	RolePermissionsTTL time.Duration
	TeamPermissionsTTL time.Duration
	Maintenance        MaintenanceConfig
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		RolePermissionsTTL: DefaultRolePermissionsTTL,
		TeamPermissionsTTL: DefaultTeamPermissionsTTL,
		Maintenance: MaintenanceConfig{
			PurgeSchedule: DefaultPurgeSchedule,
			WarmSchedule:  DefaultWarmSchedule,
			PurgeAfter:    DefaultPurgeAfter,
		},
	}
}

// Manager wires the RBAC components together
type Manager struct {
	store       *Store
	roles       *RoleCache
	teams       *TeamCache
	resolver    *PermissionResolver
	middleware  *PermissionMiddleware
	handlers    *Handlers
	maintenance *Maintenance
	logger      *observability.Logger
}

// NewManager creates a new RBAC manager
func NewManager(db *sql.DB, store cache.Store, teams TeamSource, audit *auth.AuditLogger, config Config, logger *observability.Logger) (*Manager, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithField("component", "rbac")

	rbacStore := NewStore(db)
	roleCache := NewRoleCache(rbacStore, store, config.RolePermissionsTTL, logger)
	teamCache := NewTeamCache(rbacStore, store, config.TeamPermissionsTTL)
	resolver := NewPermissionResolver(roleCache, teamCache)

	maintenance, err := NewMaintenance(rbacStore, roleCache, config.Maintenance, logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		store:       rbacStore,
		roles:       roleCache,
		teams:       teamCache,
		resolver:    resolver,
		middleware:  NewPermissionMiddleware(resolver, teams),
		handlers:    NewHandlers(rbacStore, roleCache, teamCache, audit, config.Maintenance.PurgeAfter),
		maintenance: maintenance,
		logger:      logger,
	}, nil
}

// Initialize warms the role cache. A failure is logged; the cache fills
// lazily.
func (m *Manager) Initialize(ctx context.Context) {
	n, err := m.roles.Warm(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to warm role permissions")
		return
	}
	m.logger.WithField("roles", n).Info("Role permissions loaded")
}

// RegisterRoutes registers the admin routes on router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// RegisterMemberRoutes registers the permission-gated organization routes
// on router
func (m *Manager) RegisterMemberRoutes(router *mux.Router) {
	m.handlers.RegisterMemberRoutes(router, m.middleware)
}

// Store returns the RBAC store
func (m *Manager) Store() *Store { return m.store }

// RoleCache returns the role permission cache
func (m *Manager) RoleCache() *RoleCache { return m.roles }

// TeamCache returns the team permission cache
func (m *Manager) TeamCache() *TeamCache { return m.teams }

// Resolver returns the permission resolver
func (m *Manager) Resolver() *PermissionResolver { return m.resolver }

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware { return m.middleware }

// Maintenance returns the maintenance scheduler
func (m *Manager) Maintenance() *Maintenance { return m.maintenance }
