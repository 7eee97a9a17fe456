package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID   string `gorm:"primaryKey;column:id"`
	Name string `gorm:"column:name;uniqueIndex"`
}

type widgetStore struct{ db *gorm.DB }

func (s widgetStore) AutoMigrate() error { return s.db.AutoMigrate(&widget{}) }

type failingMigrator struct{}

func (failingMigrator) AutoMigrate() error { return errors.New("boom") }

func TestOpen_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	gormDB, err := Open(Options{Type: "sqlite", DSN: path})
	require.NoError(t, err)

	require.NoError(t, Migrate(context.Background(), gormDB, widgetStore{gormDB}))
	require.NoError(t, gormDB.Create(&widget{ID: "1", Name: "a"}).Error)

	err = gormDB.Create(&widget{ID: "2", Name: "a"}).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(Options{Type: "sqlite"})
	assert.Error(t, err)

	_, err = Open(Options{Type: "oracle", DSN: "x"})
	assert.Error(t, err)

	_, err = Open(Options{Type: "mysql", DSN: "not a dsn"})
	assert.Error(t, err)
}

func TestMigrate_PropagatesError(t *testing.T) {
	gormDB, err := Open(Options{Type: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)

	err = Migrate(context.Background(), gormDB, failingMigrator{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, TypeSQLite, NormalizeType(""))
	assert.Equal(t, TypeSQLite, NormalizeType("SQLite3"))
	assert.Equal(t, TypePostgres, NormalizeType("postgresql"))
	assert.Equal(t, TypeMySQL, NormalizeType("mariadb"))
}

func TestMySQLDSN_ForcesParseTime(t *testing.T) {
	dsn, err := mysqlDSN("user:pw@tcp(localhost:3306)/vault")
	require.NoError(t, err)
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, cfg.ParseTime)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Contains(t, sqliteDSN("/tmp/a.db"), "?_pragma=foreign_keys(1)")
	assert.Contains(t, sqliteDSN("/tmp/a.db?mode=rwc"), "&_pragma=busy_timeout(5000)")
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, IsUniqueViolation(fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsUniqueViolation(&mysql.MySQLError{Number: 1062, Message: "dup"}))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: widgets.name")))
	assert.False(t, IsUniqueViolation(errors.New("disk I/O error")))
}
