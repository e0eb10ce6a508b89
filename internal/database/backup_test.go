package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vetclinic/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupSnapshotHoldsBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking(3, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC), 45)
	require.NoError(t, db.CreateBooking(ctx, b))

	s, err := NewBackupService(db, config.BackupConfig{Enabled: true}, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }

	path, err := s.PerformBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(db.Path()), "backups", "vetclinic_20240601T080000.000.db"), path)

	restored, err := NewDB(path, nil)
	require.NoError(t, err)
	defer restored.Close()

	got, err := restored.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.EmployeeID)
	assert.True(t, got.StartAt.Equal(b.StartAt))
	assert.Equal(t, 45, got.DurationMinutes)
}

func TestBackupRequiresSQLite(t *testing.T) {
	_, err := NewBackupService(&DB{driver: config.DriverPostgres}, config.BackupConfig{Enabled: true}, nil)
	assert.ErrorIs(t, err, ErrBackupUnsupported)

	_, err = NewBackupService(nil, config.BackupConfig{Enabled: true}, nil)
	assert.ErrorIs(t, err, ErrBackupUnsupported)
}

func TestCleanupOldBackups(t *testing.T) {
	db := setupTestDB(t)
	storage := filepath.Join(t.TempDir(), "backups")
	s, err := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: storage, RetentionDays: 7}, nil)
	require.NoError(t, err)

	fresh, err := s.PerformBackup(context.Background())
	require.NoError(t, err)

	old := time.Now().AddDate(0, 0, -8)
	for _, name := range []string{"vetclinic_20200101T000000.000.db", "notes.txt"} {
		p := filepath.Join(storage, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		require.NoError(t, os.Chtimes(p, old, old))
	}

	assert.Equal(t, 1, s.CleanupOldBackups())

	files, err := os.ReadDir(storage)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.ElementsMatch(t, []string{filepath.Base(fresh), "notes.txt"}, names)
}

func TestBackupStartDisabled(t *testing.T) {
	db := setupTestDB(t)
	storage := filepath.Join(t.TempDir(), "backups")
	s, err := NewBackupService(db, config.BackupConfig{Enabled: false, StoragePath: storage}, nil)
	require.NoError(t, err)

	s.Start(context.Background())
	assert.NoDirExists(t, storage)
}

func TestBackupStartRunsImmediately(t *testing.T) {
	db := setupTestDB(t)
	storage := filepath.Join(t.TempDir(), "backups")
	s, err := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: storage, Interval: time.Hour}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		snapshots, _ := filepath.Glob(filepath.Join(storage, "vetclinic_*.db"))
		return len(snapshots) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
