package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vetclinic/internal/config"

	"github.com/rs/zerolog"
)

// ErrBackupUnsupported is returned for backends whose backups are managed by
// the database server itself.
var ErrBackupUnsupported = errors.New("file backups require the sqlite driver")

const (
	backupPrefix = "vetclinic_"
	backupSuffix = ".db"
)

// BackupService snapshots the clinic's SQLite database on an interval.
type BackupService struct {
	db     *DB
	config config.BackupConfig
	now    func() time.Time
	logger *zerolog.Logger
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) (*BackupService, error) {
	if db == nil {
		return nil, fmt.Errorf("backup: no database: %w", ErrBackupUnsupported)
	}
	if db.Driver() != config.DriverSQLite {
		return nil, fmt.Errorf("backup: driver %q: %w", db.Driver(), ErrBackupUnsupported)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = filepath.Join(filepath.Dir(db.Path()), "backups")
	}
	return &BackupService{db: db, config: cfg, now: time.Now, logger: logger}, nil
}

// Start runs a backup right away and then every Interval until ctx is done.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("backup service is disabled")
		return
	}

	interval := s.config.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s.logger.Info().Dur("interval", interval).Str("storage_path", s.config.StoragePath).Msg("backup service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *BackupService) runOnce(ctx context.Context) {
	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("backup failed")
		return
	}
	s.CleanupOldBackups()
}

// PerformBackup writes a consistent snapshot through the live connection with
// VACUUM INTO, then checks that the copy opens and passes quick_check.
// It returns the path of the new file.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := backupPrefix + s.now().UTC().Format("20060102T150405.000") + backupSuffix
	path := filepath.Join(s.config.StoragePath, name)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to snapshot database: %w", err)
	}

	bookings, err := verifyBackup(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}

	s.logger.Info().Str("path", path).Int("bookings", bookings).Msg("backup completed")
	return path, nil
}

func verifyBackup(ctx context.Context, path string) (int, error) {
	snapshot, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, fmt.Errorf("failed to open backup: %w", err)
	}
	defer snapshot.Close()

	var check string
	if err := snapshot.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		return 0, fmt.Errorf("failed to check backup: %w", err)
	}
	if check != "ok" {
		return 0, fmt.Errorf("backup %s is corrupt: %s", path, check)
	}

	var bookings int
	if err := snapshot.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings").Scan(&bookings); err != nil {
		return 0, fmt.Errorf("failed to read backup bookings: %w", err)
	}
	return bookings, nil
}

// CleanupOldBackups removes snapshots older than RetentionDays and reports how
// many were deleted. Other files in the directory are left alone.
func (s *BackupService) CleanupOldBackups() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read backup directory")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		info, err := file.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.config.StoragePath, name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("failed to delete old backup")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("old backups deleted")
	}
	return removed
}
