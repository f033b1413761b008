package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, table string) bool {
	t.Helper()
	var count int
	err := db.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestMigrate_AppliesEmbeddedSchema(t *testing.T) {
	runs := openTestDB(t, "runs", ProfileStandard)
	require.NoError(t, runs.Migrate())
	assert.True(t, tableExists(t, runs, "runs"))

	// Idempotent.
	require.NoError(t, runs.Migrate())

	cache := openTestDB(t, "cache", ProfileCache)
	require.NoError(t, cache.Migrate())
	assert.True(t, tableExists(t, cache, "return_stats"))
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db := openTestDB(t, "scratch", ProfileStandard)
	require.NoError(t, db.Migrate())
	assert.False(t, tableExists(t, db, "runs"))
}

func TestWithTransaction(t *testing.T) {
	db := openTestDB(t, "scratch", ProfileStandard)
	_, err := db.Conn().Exec(`CREATE TABLE items (name TEXT)`)
	require.NoError(t, err)

	err = WithTransaction(context.Background(), db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (name) VALUES ('kept')`)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(context.Background(), db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('dropped')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = WithTransaction(context.Background(), db.Conn(), func(tx *sql.Tx) error {
		panic("bad")
	})
	assert.ErrorContains(t, err, "panic in transaction")

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 1, count)

	assert.Error(t, WithTransaction(context.Background(), nil, func(tx *sql.Tx) error { return nil }))
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t, "runs", ProfileStandard)
	require.NoError(t, db.Migrate())

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Positive(t, stats.PageCount)
	assert.Positive(t, stats.PageSize)
	assert.Equal(t, "runs", db.Name())
}

func TestNew_AppliesProfilePragmas(t *testing.T) {
	standard := openTestDB(t, "runs", ProfileStandard)
	cache := openTestDB(t, "cache", ProfileCache)

	var mode string
	require.NoError(t, standard.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var sync int
	require.NoError(t, standard.Conn().QueryRow("PRAGMA synchronous").Scan(&sync))
	assert.Equal(t, 1, sync) // NORMAL
	require.NoError(t, cache.Conn().QueryRow("PRAGMA synchronous").Scan(&sync))
	assert.Equal(t, 0, sync) // OFF

	var fk int
	require.NoError(t, standard.Conn().QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}
