package database

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		Profile: profile,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewAndMigrate(t *testing.T) {
	db := newTestDB(t, ProfileLedger)

	err := db.Migrate(`CREATE TABLE IF NOT EXISTS things (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	// Re-applying the schema must be a no-op
	err = db.Migrate(`CREATE TABLE IF NOT EXISTS things (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	_, err = db.Conn().Exec(`INSERT INTO things (name) VALUES (?)`, "a")
	require.NoError(t, err)

	var count int
	err = db.Conn().QueryRow(`SELECT COUNT(*) FROM things`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBuildConnectionStringKeepsExistingQuery(t *testing.T) {
	// A URI path with query parameters must extend them, not start a second
	// query string
	connStr := buildConnectionString("file:x?mode=memory&cache=shared", ProfileLedger)
	assert.Equal(t, 1, strings.Count(connStr, "?"))
	assert.Contains(t, connStr, "cache=shared&_pragma=journal_mode(WAL)")

	connStr = buildConnectionString("/data/state.db", ProfileLedger)
	assert.Equal(t, 1, strings.Count(connStr, "?"))
	assert.Contains(t, connStr, "state.db?_pragma=journal_mode(WAL)")
}

func TestDefaultProfile(t *testing.T) {
	db := newTestDB(t, "")
	assert.Equal(t, "test", db.Name())
}

func TestVacuum(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	require.NoError(t, db.Migrate(`CREATE TABLE IF NOT EXISTS t (id INTEGER)`))
	assert.NoError(t, db.Vacuum())
}
