package reliability

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/stkpulse/stackwatch/internal/database"
)

const (
	backupTimeFormat = "2006-01-02-150405"
	// A burst of failed rotations must never leave us without restore points.
	minBackupsToKeep = 3
)

// objectStore is the subset of the S3 client the backup service needs.
type objectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
}

// BackupService uploads compressed ledger snapshots to object storage.
// The ledger is the only database backed up: portfolio state is rebuildable
// from it plus the chain, and cache.db is disposable.
type BackupService struct {
	ledgerDB *database.DB
	store    objectStore
	dataDir  string
	prefix   string
	log      zerolog.Logger
}

// NewBackupService creates a new ledger backup service.
func NewBackupService(ledgerDB *database.DB, store objectStore, dataDir, prefix string, log zerolog.Logger) *BackupService {
	return &BackupService{
		ledgerDB: ledgerDB,
		store:    store,
		dataDir:  dataDir,
		prefix:   prefix,
		log:      log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUploadBackup snapshots the ledger database and uploads it.
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) error {
	s.log.Info().Msg("Starting ledger backup")
	startTime := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	snapshotPath := filepath.Join(stagingDir, "ledger.db")
	if err := s.snapshotDatabase(snapshotPath); err != nil {
		return err
	}

	archivePath := snapshotPath + ".gz"
	if err := s.compress(snapshotPath, archivePath); err != nil {
		return err
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	info, err := archive.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	key := s.backupKey(time.Now().UTC())
	if err := s.store.Upload(ctx, key, archive); err != nil {
		return err
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Ledger backup completed")
	return nil
}

// RotateOldBackups deletes backups past the retention period while always
// keeping the newest minBackupsToKeep.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) error {
	backups, err := s.listBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	for _, b := range backups[minBackupsToKeep:] {
		if b.timestamp.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.key); err != nil {
			s.log.Error().Err(err).Str("key", b.key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", b.key).Msg("Deleted old backup")
	}
	return nil
}

type remoteBackup struct {
	key       string
	timestamp time.Time
}

// listBackups returns the parseable backups, newest first.
func (s *BackupService) listBackups(ctx context.Context) ([]remoteBackup, error) {
	objects, err := s.store.List(ctx, s.prefix+"/ledger-backup-")
	if err != nil {
		return nil, err
	}

	backups := make([]remoteBackup, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		ts, ok := s.parseBackupKey(*obj.Key)
		if !ok {
			s.log.Warn().Str("key", *obj.Key).Msg("Skipping unparseable backup key")
			continue
		}
		backups = append(backups, remoteBackup{key: *obj.Key, timestamp: ts})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].timestamp.After(backups[j].timestamp)
	})
	return backups, nil
}

func (s *BackupService) backupKey(at time.Time) string {
	return fmt.Sprintf("%s/ledger-backup-%s.db.gz", s.prefix, at.Format(backupTimeFormat))
}

func (s *BackupService) parseBackupKey(key string) (time.Time, bool) {
	name := strings.TrimPrefix(key, s.prefix+"/ledger-backup-")
	name = strings.TrimSuffix(name, ".db.gz")
	ts, err := time.Parse(backupTimeFormat, name)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// snapshotDatabase writes a consistent copy with SQLite's VACUUM INTO.
func (s *BackupService) snapshotDatabase(path string) error {
	if _, err := s.ledgerDB.Conn().Exec(fmt.Sprintf("VACUUM INTO '%s'", path)); err != nil {
		return fmt.Errorf("VACUUM INTO failed: %w", err)
	}
	return nil
}

func (s *BackupService) compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}
