package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taller/internal/config"
	"taller/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	storagePath := filepath.Join(tempDir, "backups")

	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(tempDir, "offline.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Append(ctx, newEntry(models.EntityClientes, models.OpCreate, "tmp-1")))

	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	s := NewBackupService(db, cfg, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(ctx)
		require.NoError(t, err)
		assert.FileExists(t, path)

		restored, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer restored.Close()

		n, err := restored.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, "offline_old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))

		foreign := filepath.Join(storagePath, "notes.txt")
		require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))
		require.NoError(t, os.Chtimes(foreign, oldTime, oldTime))

		assert.Equal(t, 1, s.CleanupOldBackups())
		assert.NoFileExists(t, oldFile)
		assert.FileExists(t, foreign)

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		assert.Len(t, files, 2)
	})

	t.Run("Disabled", func(t *testing.T) {
		disabled := NewBackupService(db, config.BackupConfig{}, nil)
		done := make(chan struct{})
		go func() {
			disabled.Start(context.Background())
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Start should return immediately when disabled")
		}
	})
}
