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
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/events"
)

// backupPrefix is the object key prefix for backup archives
const backupPrefix = "backups/"

// BackupService archives the engine databases and uploads them to the
// object store. The ledger database is the one that matters: it is the
// only place executed trades live.
type BackupService struct {
	s3        *S3Client
	databases []*database.DB
	dataDir   string
	retention time.Duration
	bus       *events.Bus
	log       zerolog.Logger
}

// BackupMetadata describes the contents of one backup archive
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database inside the archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// NewBackupService creates a new backup service
func NewBackupService(s3 *S3Client, databases []*database.DB, dataDir string, retentionDays int, bus *events.Bus, log zerolog.Logger) *BackupService {
	return &BackupService{
		s3:        s3,
		databases: databases,
		dataDir:   dataDir,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		bus:       bus,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// Run creates a backup archive, uploads it, and rotates old backups
func (s *BackupService) Run(ctx context.Context) error {
	s.log.Info().Msg("Starting backup")
	start := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{
		Timestamp: start.UTC(),
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}

	for _, db := range s.databases {
		staged := filepath.Join(stagingDir, db.Name()+".db")
		if err := s.snapshotDatabase(db, staged); err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(staged)
		if err != nil {
			return fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := checksumFile(staged)
		if err != nil {
			return fmt.Errorf("failed to checksum %s snapshot: %w", db.Name(), err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  db.Name() + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	archivePath := filepath.Join(stagingDir, fmt.Sprintf("steward-%s.tar.gz", start.UTC().Format("20060102-150405")))
	if err := createArchive(archivePath, stagingDir, metadata); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	key := backupPrefix + filepath.Base(archivePath)
	if err := s.s3.Upload(ctx, key, file); err != nil {
		return err
	}

	if err := s.rotate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	s.bus.Emit(events.BackupCompleted, "reliability", map[string]interface{}{
		"key":         key,
		"databases":   len(metadata.Databases),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	s.log.Info().
		Str("key", key).
		Dur("duration", time.Since(start)).
		Msg("Backup uploaded")
	return nil
}

// snapshotDatabase writes a consistent copy of a live database using
// VACUUM INTO, which works under WAL without blocking writers.
func (s *BackupService) snapshotDatabase(db *database.DB, dest string) error {
	if _, err := db.Exec("VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("vacuum into failed: %w", err)
	}
	return nil
}

// rotate deletes backups older than the retention window
func (s *BackupService) rotate(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	objects, err := s.s3.List(ctx, backupPrefix)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.retention)
	for _, obj := range objects {
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := s.s3.Delete(ctx, obj.Key); err != nil {
			return err
		}
		s.log.Info().Str("key", obj.Key).Msg("Rotated old backup")
	}
	return nil
}

// createArchive tars and gzips the staged snapshots plus a metadata file
func createArchive(archivePath, stagingDir string, metadata BackupMetadata) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    "metadata.json",
		Mode:    0644,
		Size:    int64(len(metaJSON)),
		ModTime: metadata.Timestamp,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(metaJSON); err != nil {
		return err
	}

	for _, db := range metadata.Databases {
		path := filepath.Join(stagingDir, db.Filename)
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		if err := tw.WriteHeader(&tar.Header{
			Name:    db.Filename,
			Mode:    0644,
			Size:    db.SizeBytes,
			ModTime: metadata.Timestamp,
		}); err != nil {
			file.Close()
			return err
		}
		if _, err := io.Copy(tw, file); err != nil {
			file.Close()
			return err
		}
		file.Close()
	}
	return nil
}

// checksumFile returns the hex SHA-256 of a file
func checksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
