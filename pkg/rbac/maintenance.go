package rbac

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/consolesso/pkg/observability"
)

// Default maintenance schedules
const (
	DefaultPurgeSchedule = "0 3 * * *"
	DefaultWarmSchedule  = "0 * * * *"
)

// Purger hard-deletes revoked team permissions
type Purger interface {
	PurgeTeamPermissions(ctx context.Context, orgID int64, cutoff time.Time) (int64, error)
}

// Warmer preloads role permissions
type Warmer interface {
	Warm(ctx context.Context) (int, error)
}

// MaintenanceConfig configures scheduled jobs
type MaintenanceConfig struct {
	PurgeSchedule string
	WarmSchedule  string
	PurgeAfter    time.Duration
	JobTimeout    time.Duration
}

// Maintenance runs the nightly tombstone purge and the hourly role cache
// warm-up
type Maintenance struct {
	purger Purger
	warmer Warmer
	config MaintenanceConfig
	logger *observability.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// NewMaintenance creates the scheduler. Jobs are registered but not started.
func NewMaintenance(purger Purger, warmer Warmer, config MaintenanceConfig, logger *observability.Logger) (*Maintenance, error) {
	if config.PurgeSchedule == "" {
		config.PurgeSchedule = DefaultPurgeSchedule
	}
	if config.WarmSchedule == "" {
		config.WarmSchedule = DefaultWarmSchedule
	}
	if config.PurgeAfter <= 0 {
		config.PurgeAfter = DefaultPurgeAfter
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	m := &Maintenance{
		purger: purger,
		warmer: warmer,
		config: config,
		logger: logger,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		now:    time.Now,
	}

	if _, err := m.cron.AddFunc(config.PurgeSchedule, m.job("purge", m.Purge)); err != nil {
		return nil, err
	}
	if _, err := m.cron.AddFunc(config.WarmSchedule, m.job("warm", m.Warm)); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Maintenance) job(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.JobTimeout)
		defer cancel()
		if err := run(ctx); err != nil {
			m.logger.WithError(err).WithField("job", name).Error("Maintenance job failed")
		}
	}
}

// Purge deletes team permissions revoked longer ago than PurgeAfter
func (m *Maintenance) Purge(ctx context.Context) error {
	cutoff := m.now().Add(-m.config.PurgeAfter)
	n, err := m.purger.PurgeTeamPermissions(ctx, 0, cutoff)
	if err != nil {
		return err
	}
	m.logger.WithFields(map[string]interface{}{
		"purged": n,
		"cutoff": cutoff.Format(time.RFC3339),
	}).Info("Purged revoked team permissions")
	return nil
}

// Warm reloads every role's permissions into the cache
func (m *Maintenance) Warm(ctx context.Context) error {
	n, err := m.warmer.Warm(ctx)
	if err != nil {
		return err
	}
	m.logger.WithField("roles", n).Debug("Warmed role permissions")
	return nil
}

// Start runs the scheduler in the background
func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop stops the scheduler. The returned context is done when running
// jobs have finished.
func (m *Maintenance) Stop() context.Context {
	return m.cron.Stop()
}
