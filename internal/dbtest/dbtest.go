// Package dbtest opens throwaway SQLite databases carrying a service schema.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/jmehdipour/order-saga/internal/db"
	"github.com/jmehdipour/order-saga/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

const (
	Order      = "order"
	Payment    = "payment"
	Restaurant = "restaurant"
)

// Open creates a fresh database for service under t.TempDir and applies its
// schema. The database is closed when the test ends.
func Open(t testing.TB, service string) *sqlx.DB {
	t.Helper()

	dbx, err := db.NewSQLiteConnection(filepath.Join(t.TempDir(), service+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbx.Close() })

	schema, err := migrations.Load(db.DriverSQLite, service)
	require.NoError(t, err)
	_, err = dbx.Exec(schema)
	require.NoError(t, err)

	return dbx
}
