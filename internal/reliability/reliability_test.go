package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aristath/allocator/internal/database"
	testutil "github.com/aristath/allocator/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = body
	}
	return files
}

func TestMaintenanceJob_Run(t *testing.T) {
	runsDB, cleanupRuns := testutil.NewTestDB(t, "runs")
	defer cleanupRuns()
	cacheDB, cleanupCache := testutil.NewTestDB(t, "cache")
	defer cleanupCache()

	job := NewMaintenanceJob([]*database.DB{runsDB, cacheDB}, zerolog.Nop())
	assert.Equal(t, "daily_maintenance", job.Name())
	require.NoError(t, job.Run())

	assert.NoError(t, runsDB.QuickCheck(context.Background()))
}

func TestMaintenanceJob_FailsOnClosedDatabase(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "runs")
	defer cleanup()
	require.NoError(t, db.Close())

	job := NewMaintenanceJob([]*database.DB{db}, zerolog.Nop())
	assert.Error(t, job.Run())
}

func TestBackupService_CreateAndUploadBackup(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "runs")
	defer cleanup()
	_, err := db.Conn().Exec("CREATE TABLE backup_probe (id INTEGER PRIMARY KEY, label TEXT)")
	require.NoError(t, err)
	_, err = db.Conn().Exec("INSERT INTO backup_probe (label) VALUES ('kept')")
	require.NoError(t, err)

	uploader := testutil.NewMockUploader()
	service := NewBackupService([]*database.DB{db}, uploader, "nightly", zerolog.Nop())
	service.now = func() time.Time { return time.Date(2024, 3, 9, 4, 5, 6, 0, time.UTC) }

	key, err := service.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nightly/backups/allocator-backup-2024-03-09-040506.tar.gz", key)
	assert.Equal(t, []string{key}, uploader.Keys())

	data, ok := uploader.Object(key)
	require.True(t, ok)
	files := readArchive(t, data)
	require.Contains(t, files, MetadataFile)
	require.Contains(t, files, "runs.db")

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files[MetadataFile], &metadata))
	assert.True(t, metadata.Timestamp.Equal(time.Date(2024, 3, 9, 4, 5, 6, 0, time.UTC)))
	require.Len(t, metadata.Databases, 1)
	entry := metadata.Databases[0]
	assert.Equal(t, "runs", entry.Name)
	assert.Equal(t, "runs.db", entry.Filename)
	assert.Equal(t, int64(len(files["runs.db"])), entry.SizeBytes)
	assert.Equal(t, fmt.Sprintf("sha256:%x", sha256.Sum256(files["runs.db"])), entry.Checksum)

	// The snapshot is a usable database holding the probe row.
	restored, err := database.New(database.Config{Path: writeSnapshot(t, files["runs.db"]), Name: "restored"})
	require.NoError(t, err)
	defer restored.Close()
	var label string
	require.NoError(t, restored.Conn().QueryRow("SELECT label FROM backup_probe").Scan(&label))
	assert.Equal(t, "kept", label)
}

func TestBackupJob_PropagatesUploadFailure(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "runs")
	defer cleanup()

	uploader := testutil.NewMockUploader()
	uploader.SetError(errors.New("bucket unavailable"))

	job := NewBackupJob(NewBackupService([]*database.DB{db}, uploader, "", zerolog.Nop()))
	assert.Equal(t, "backup_runs", job.Name())
	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
	assert.Empty(t, uploader.Keys())
}

func writeSnapshot(t *testing.T, data []byte) string {
	t.Helper()
	path := t.TempDir() + "/restored.db"
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}
