package dbx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, 1, db.Stats().MaxOpenConnections)
	_, err = db.Exec(`CREATE TABLE t (id INTEGER)`)
	require.NoError(t, err)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	require.Error(t, err)
}

func TestOpen_PingFailure(t *testing.T) {
	_, err := Open(context.Background(), DriverPostgres, "postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	require.Error(t, err)
}
