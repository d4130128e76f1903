package reliability

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"mirrortrader/internal/database"
)

// BackupService produces consistent local snapshots of the daemon's
// databases.
type BackupService struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewBackupService creates a backup service over the given databases,
// keyed by logical name ("state", "cache").
func NewBackupService(databases map[string]*database.DB, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases: databases,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// DatabaseNames returns the logical names in stable order
func (s *BackupService) DatabaseNames() []string {
	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BackupDatabase writes a consistent snapshot of one database to destPath.
// The WAL is checkpointed first so VACUUM INTO captures every committed
// write.
func (s *BackupService) BackupDatabase(name, destPath string) error {
	db, ok := s.databases[name]
	if !ok {
		return fmt.Errorf("unknown database %q", name)
	}

	if err := db.CheckpointWAL(); err != nil {
		s.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint before backup failed")
	}

	if _, err := db.Conn().Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("failed to snapshot %s: %w", name, err)
	}

	s.log.Debug().Str("database", name).Str("dest", destPath).Msg("Database snapshot written")
	return nil
}
