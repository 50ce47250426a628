package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"karavan/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService_PerformBackup(t *testing.T) {
	logger := zerolog.Nop()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	job := newTestJob("owner-1")
	require.NoError(t, db.CreateJob(context.Background(), job))

	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   filepath.Join(dir, "backups"),
		RetentionDays: 7,
	}
	svc := NewBackupService(dbPath, cfg, &logger)
	require.NoError(t, svc.PerformBackup())

	files, err := os.ReadDir(cfg.StoragePath)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0].Name(), "backup_"))

	// The backup is a readable database containing the job.
	backup, err := sql.Open("sqlite3", filepath.Join(cfg.StoragePath, files[0].Name()))
	require.NoError(t, err)
	defer backup.Close()

	var count int
	require.NoError(t, backup.QueryRow("SELECT COUNT(*) FROM import_jobs").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestBackupService_CleanupOldBackups(t *testing.T) {
	logger := zerolog.Nop()
	storage := t.TempDir()

	oldPath := filepath.Join(storage, "backup_old.db")
	require.NoError(t, os.WriteFile(oldPath, []byte("stale"), 0o644))
	stale := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(oldPath, stale, stale))

	freshPath := filepath.Join(storage, "backup_fresh.db")
	require.NoError(t, os.WriteFile(freshPath, []byte("fresh"), 0o644))

	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storage,
		RetentionDays: 7,
	}
	svc := NewBackupService("", cfg, &logger)
	svc.CleanupOldBackups()

	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, freshPath)
}

func TestBackupService_ZeroRetentionKeepsEverything(t *testing.T) {
	logger := zerolog.Nop()
	storage := t.TempDir()

	oldPath := filepath.Join(storage, "backup_old.db")
	require.NoError(t, os.WriteFile(oldPath, []byte("stale"), 0o644))
	stale := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(oldPath, stale, stale))

	cfg := config.BackupConfig{Enabled: true, StoragePath: storage}
	svc := NewBackupService("", cfg, &logger)
	svc.CleanupOldBackups()

	assert.FileExists(t, oldPath)
}
