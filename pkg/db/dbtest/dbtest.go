// Package dbtest opens throwaway databases for package tests.
package dbtest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/assetforge/cfgvault/pkg/db"
)

// Open returns a fresh in-memory SQLite database configured exactly like
// production SQLite, closed when the test ends.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	gormDB, err := db.Open(db.Options{Type: db.TypeSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gormDB
}

// Migrate runs AutoMigrate for each migrator and fails the test on error.
func Migrate(t testing.TB, migrators ...db.Migrator) {
	t.Helper()
	for _, m := range migrators {
		require.NoError(t, m.AutoMigrate())
	}
}
