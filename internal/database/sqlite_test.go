package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigratesToLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "laudo.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	var version int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, CurrentVersion(), version)

	for _, table := range []string{"response_cache", "usage_counters", "usage_records"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "缺少表 %s", table)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laudo.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// 重新打开不应重复执行 ALTER TABLE
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db))
}
