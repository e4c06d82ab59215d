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

func TestNewCreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calculations.db")

	db, err := New(Config{Path: path, Profile: ProfileCache, Name: "calculations"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, path, db.Path())
	assert.Equal(t, ProfileCache, db.Profile())
	assert.Equal(t, "calculations", db.Name())

	require.NoError(t, db.Migrate())
	// idempotent
	require.NoError(t, db.Migrate())

	var count int
	err = db.Conn().QueryRow("SELECT COUNT(*) FROM calculation_cache").Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.NoError(t, db.QuickCheck(context.Background()))
}

func TestNewDefaultsToStandardProfile(t *testing.T) {
	db, err := New(Config{Path: "file:standard?mode=memory&cache=shared", Name: "unknown"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, ProfileStandard, db.Profile())
	assert.NoError(t, db.Migrate())
}

func TestBuildConnectionString(t *testing.T) {
	s := buildConnectionString("/tmp/x.db", ProfileCache)
	assert.Contains(t, s, "/tmp/x.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, s, "synchronous(OFF)")

	s = buildConnectionString("file:mem?mode=memory", ProfileStandard)
	assert.Contains(t, s, "file:mem?mode=memory&_pragma=journal_mode(WAL)")
	assert.Contains(t, s, "synchronous(NORMAL)")
}

func TestWithTransaction(t *testing.T) {
	db, err := New(Config{Path: "file:tx?mode=memory&cache=shared", Name: "tx"})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t (v) VALUES (1)")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, _ = tx.Exec("INSERT INTO t (v) VALUES (2)")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("kaboom")
	})
	assert.ErrorContains(t, err, "panic in transaction")

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)

	assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
}
