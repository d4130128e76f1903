package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mirrortrader/internal/clientcache"
	"mirrortrader/internal/database"
	"mirrortrader/internal/reliability"
)

// Maintenance bundles the daemon's recurring housekeeping jobs
type Maintenance struct {
	databases   map[string]*database.DB
	quoteCache  *clientcache.Repository
	cloudBackup *reliability.CloudBackupService // nil when no bucket is configured
	retention   int
	log         zerolog.Logger
}

// NewMaintenance creates the maintenance job set
func NewMaintenance(
	databases map[string]*database.DB,
	quoteCache *clientcache.Repository,
	cloudBackup *reliability.CloudBackupService,
	retentionDays int,
	log zerolog.Logger,
) *Maintenance {
	return &Maintenance{
		databases:   databases,
		quoteCache:  quoteCache,
		cloudBackup: cloudBackup,
		retention:   retentionDays,
		log:         log.With().Str("component", "maintenance").Logger(),
	}
}

// Register wires the jobs into the scheduler
func (m *Maintenance) Register(s *Scheduler, backupSpec string) error {
	if err := s.AddJob("@hourly", "cache_cleanup", m.CleanupCache); err != nil {
		return err
	}
	if err := s.AddJob("30 2 * * *", "database_maintenance", m.MaintainDatabases); err != nil {
		return err
	}
	if m.cloudBackup != nil {
		if err := s.AddJob(backupSpec, "cloud_backup", m.RunCloudBackup); err != nil {
			return err
		}
	}
	return nil
}

// CleanupCache drops expired quotes
func (m *Maintenance) CleanupCache() error {
	deleted, err := m.quoteCache.DeleteExpired()
	if err != nil {
		return err
	}
	if deleted > 0 {
		m.log.Info().Int64("deleted", deleted).Msg("Expired quotes removed")
	}
	return nil
}

// MaintainDatabases checkpoints WALs and compacts the cache database.
// The ledger database is never vacuumed: page reuse is disabled there on
// purpose and a rewrite mid-operation risks the executed-command set.
func (m *Maintenance) MaintainDatabases() error {
	for name, db := range m.databases {
		if err := db.CheckpointWAL(); err != nil {
			m.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}
	if cache, ok := m.databases["cache"]; ok {
		if err := cache.Vacuum(); err != nil {
			m.log.Warn().Err(err).Msg("Cache vacuum failed")
		}
	}
	return nil
}

// RunCloudBackup uploads a fresh archive and rotates old ones
func (m *Maintenance) RunCloudBackup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := m.cloudBackup.CreateAndUpload(ctx); err != nil {
		return err
	}
	return m.cloudBackup.RotateOldBackups(ctx, m.retention)
}
