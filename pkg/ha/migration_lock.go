// Package ha serializes schema migration when several cfgvault processes
// start against the same database.
package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// lockName identifies the migration lock in both strategies.
const lockName = "cfgvault-migration"

// MigrationLocker runs a function while holding the migration lock.
type MigrationLocker interface {
	// WithLock blocks until the lock is acquired, runs fn, then releases
	// the lock whether or not fn failed.
	WithLock(ctx context.Context, fn func() error) error
}

// LockOptions tunes the table-based lock used on SQLite and MySQL.
type LockOptions struct {
	MaxRetries    int
	RetryInterval time.Duration
	StaleAfter    time.Duration
}

// DefaultLockOptions returns the retry policy used by NewMigrationLocker.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		MaxRetries:    30,
		RetryInterval: time.Second,
		StaleAfter:    5 * time.Minute,
	}
}

// NewMigrationLocker picks a lock strategy for the database dialect.
// PostgreSQL uses a session advisory lock; everything else uses a lock row.
func NewMigrationLocker(db *gorm.DB) MigrationLocker {
	return NewMigrationLockerWithOptions(db, DefaultLockOptions())
}

// NewMigrationLockerWithOptions is NewMigrationLocker with an explicit
// retry policy for the table-based strategy.
func NewMigrationLockerWithOptions(db *gorm.DB, opts LockOptions) MigrationLocker {
	if db == nil {
		return noopMigrationLock{}
	}
	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{
			db:     db,
			lockID: AdvisoryLockID(),
		}
	}
	// Create the lock table up front so concurrent callers never hit
	// "no such table" on their first attempt.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &tableMigrationLock{db: db, opts: opts}
}

// AdvisoryLockID is the pg_advisory_lock key for schema migration.
func AdvisoryLockID() int64 {
	return int64(crc32.ChecksumIEEE([]byte(lockName)))
}

type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

// migrationLockRecord is the lock row for databases without advisory locks.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// tableMigrationLock relies on primary-key insert conflicts: only one
// process can hold the row. Rows older than StaleAfter are treated as
// left behind by a crashed process and removed.
type tableMigrationLock struct {
	db   *gorm.DB
	opts LockOptions
}

func (l *tableMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	holder, _ := os.Hostname()
	if holder == "" {
		holder = "unknown"
	}
	holder = fmt.Sprintf("%s/%d", holder, os.Getpid())

	row := migrationLockRecord{ID: lockName, LockedBy: holder}
	retries := l.opts.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	acquired := false
	for i := 0; i < retries; i++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", lockName, time.Now().Add(-l.opts.StaleAfter)).
			Delete(&migrationLockRecord{})

		row.LockedAt = time.Now()
		if lastErr = l.db.WithContext(ctx).Create(&row).Error; lastErr == nil {
			acquired = true
			break
		}

		if i == retries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.RetryInterval):
		}
	}
	if !acquired {
		return fmt.Errorf("acquire migration lock after %d attempts: %w", retries, lastErr)
	}

	defer func() {
		l.db.Where("id = ?", lockName).Delete(&migrationLockRecord{})
	}()
	return fn()
}
