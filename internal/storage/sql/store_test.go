package sql

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/traefik-route-manager/internal/storage"
	"github.com/bcnelson/traefik-route-manager/internal/storage/storagetest"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("sqlite3", filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	return s
}

func TestStore_SQLite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage { return newSQLiteStore(t) })
}

func TestNew_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.db")

	s, err := New("sqlite3", path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Migrations are idempotent across restarts.
	s, err = New("sqlite3", path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New("mysql", "ignored")
	assert.Error(t, err)
}
