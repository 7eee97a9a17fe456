// Package db opens the relational store behind the version control engine.
// SQLite is the default single-file backend; PostgreSQL and MySQL are
// supported for shared deployments.
package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// Options configures Open.
type Options struct {
	// Type is one of sqlite, postgres or mysql.
	Type string
	// DSN is the driver connection string. For sqlite it is a file path or
	// ":memory:".
	DSN string
	// MaxOpenConns caps the pool. SQLite always uses a single connection.
	MaxOpenConns int
	// LogSQL routes gorm statement logging to glog.
	LogSQL bool
}

// Open connects to the configured database. Unique-constraint violations
// are translated to gorm.ErrDuplicatedKey.
func Open(opts Options) (*gorm.DB, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	dialector, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
	if opts.LogSQL {
		cfg.Logger = logger.New(glogWriter{}, logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Info,
		})
	}

	gormDB, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", opts.Type, err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	switch {
	case NormalizeType(opts.Type) == TypeSQLite:
		// One writer per database file; a second connection to ":memory:"
		// would also see a different, empty database.
		sqlDB.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	return gormDB, nil
}

func dialectorFor(opts Options) (gorm.Dialector, error) {
	switch NormalizeType(opts.Type) {
	case TypeSQLite:
		return sqlite.Open(sqliteDSN(opts.DSN)), nil
	case TypePostgres:
		return postgres.Open(opts.DSN), nil
	case TypeMySQL:
		dsn, err := mysqlDSN(opts.DSN)
		if err != nil {
			return nil, err
		}
		return gormmysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unknown database type %q (expected sqlite, postgres, or mysql)", opts.Type)
	}
}

// NormalizeType maps driver aliases to one of the Type constants. Unknown
// values are returned unchanged.
func NormalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "sqlite", "sqlite3":
		return TypeSQLite
	case "postgres", "postgresql", "pg":
		return TypePostgres
	case "mysql", "mariadb":
		return TypeMySQL
	default:
		return t
	}
}

// sqliteDSN enables foreign keys, WAL journaling and a busy timeout on file
// databases.
func sqliteDSN(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// mysqlDSN forces parseTime so DATETIME columns scan into time.Time.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}

// glogWriter implements logger.Writer using glog.
type glogWriter struct{}

func (glogWriter) Printf(format string, args ...any) { glog.Infof(format, args...) }
