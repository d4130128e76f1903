package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const archiveTimeLayout = "2006-01-02-150405"

// minBackupsToKeep backups survive rotation regardless of age
const minBackupsToKeep = 3

// CloudBackupService archives database snapshots and replicates them to the
// backup bucket.
type CloudBackupService struct {
	s3      *S3Client
	backups *BackupService
	dataDir string
	prefix  string
	log     zerolog.Logger
}

// ArchiveMetadata describes the contents of one backup archive
type ArchiveMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one database snapshot inside an archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes one stored archive
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewCloudBackupService creates a cloud backup service. Archives are stored
// under "<prefix>-backup-<timestamp>.tar.gz".
func NewCloudBackupService(s3 *S3Client, backups *BackupService, dataDir, prefix string, log zerolog.Logger) *CloudBackupService {
	return &CloudBackupService{
		s3:      s3,
		backups: backups,
		dataDir: dataDir,
		prefix:  prefix,
		log:     log.With().Str("service", "cloud_backup").Logger(),
	}
}

// CreateAndUpload snapshots every database, archives the snapshots with a
// checksummed manifest and uploads the archive.
func (s *CloudBackupService) CreateAndUpload(ctx context.Context) error {
	start := time.Now()

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := ArchiveMetadata{Timestamp: start.UTC()}
	var files []string

	for _, name := range s.backups.DatabaseNames() {
		snapshotPath := filepath.Join(stagingDir, name+".db")
		if err := s.backups.BackupDatabase(name, snapshotPath); err != nil {
			return err
		}

		info, err := os.Stat(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to stat snapshot %s: %w", name, err)
		}
		checksum, err := fileChecksum(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to checksum snapshot %s: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  name + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, snapshotPath)
	}

	manifestPath := filepath.Join(stagingDir, "manifest.json")
	if err := writeManifest(manifestPath, metadata); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	files = append(files, manifestPath)

	archiveName := fmt.Sprintf("%s-backup-%s.tar.gz", s.prefix, start.Format(archiveTimeLayout))
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.s3.Upload(ctx, archiveName, archive); err != nil {
		return err
	}

	info, _ := os.Stat(archivePath)
	s.log.Info().
		Str("archive", archiveName).
		Int64("size_bytes", info.Size()).
		Dur("duration", time.Since(start)).
		Msg("Cloud backup uploaded")
	return nil
}

// ListBackups lists stored archives, newest first
func (s *CloudBackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.s3.List(ctx, s.prefix+"-backup-")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil || !strings.HasSuffix(*obj.Key, ".tar.gz") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(*obj.Key, s.prefix+"-backup-"), ".tar.gz")
		timestamp, err := time.Parse(archiveTimeLayout, raw)
		if err != nil {
			s.log.Warn().Str("key", *obj.Key).Msg("Unparseable backup key, skipping")
			continue
		}

		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, BackupInfo{
			Key:       *obj.Key,
			Timestamp: timestamp,
			SizeBytes: size,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes archives older than retentionDays, always keeping
// the newest few. retentionDays of 0 keeps everything.
func (s *CloudBackupService) RotateOldBackups(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep || !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.s3.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().Int("deleted", deleted).Int("kept", len(backups)-deleted).Msg("Backup rotation completed")
	return nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeManifest(path string, metadata ArchiveMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func createArchive(archivePath string, files []string) error {
	archive, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	gzipWriter := gzip.NewWriter(archive)
	defer gzipWriter.Close()
	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, path := range files {
		if err := addFile(tarWriter, path); err != nil {
			return fmt.Errorf("failed to add %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func addFile(tarWriter *tar.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
