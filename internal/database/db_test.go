package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MigratesEachDatabase(t *testing.T) {
	dir := t.TempDir()

	arena, ledger, cache, err := OpenAll(dir)
	require.NoError(t, err)
	defer arena.Close()
	defer ledger.Close()
	defer cache.Close()

	tables := map[*DB][]string{
		arena:  {"agents", "positions", "decisions", "performance_snapshots"},
		ledger: {"trades"},
		cache:  {"market_context_history", "cache_entries", "daily_closes"},
	}

	for db, names := range tables {
		for _, name := range names {
			var found string
			err := db.Conn().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&found)
			require.NoError(t, err, "table %s missing from %s", name, db.Name())
		}
	}

	assert.Equal(t, ProfileLedger, ledger.Profile())
	assert.FileExists(t, filepath.Join(dir, "arena.db"))
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "arena.db"), Name: NameArena})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
}

func TestApplySchema_UnknownNameIsNoop(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "x.db"), Name: "unknown"})
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, ApplySchema(db.Conn(), "unknown"))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- comment\nCREATE TABLE a (x INT);\n\nCREATE INDEX i ON a(x);\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INT);", stmts[0])
}

func TestWithTransaction(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "tx.db"), Name: "tx"})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().Exec(`CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)

	t.Run("commit", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			_, err := tx.Exec(`INSERT INTO t (v) VALUES (1)`)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("rollback on error", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			_, _ = tx.Exec(`INSERT INTO t (v) VALUES (2)`)
			return assert.AnError
		})
		require.Error(t, err)
	})

	t.Run("rollback on panic", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			_, _ = tx.Exec(`INSERT INTO t (v) VALUES (3)`)
			panic("boom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic")
	})

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestBackupTo(t *testing.T) {
	dir := t.TempDir()
	db, err := New(Config{Path: filepath.Join(dir, "ledger.db"), Name: NameLedger, Profile: ProfileLedger})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	dest := filepath.Join(dir, "backup", "ledger.db")
	require.NoError(t, db.BackupTo(context.Background(), dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	require.NoError(t, db.HealthCheck(context.Background()))
	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
}
