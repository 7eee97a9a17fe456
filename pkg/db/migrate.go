package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/assetforge/cfgvault/pkg/ha"
)

// Migrator is implemented by every store that owns tables.
type Migrator interface {
	AutoMigrate() error
}

// Migrate runs each migrator while holding the cross-process migration
// lock, so concurrent starts against a shared database do not race on DDL.
func Migrate(ctx context.Context, gormDB *gorm.DB, migrators ...Migrator) error {
	return MigrateWithOptions(ctx, gormDB, ha.DefaultLockOptions(), migrators...)
}

// MigrateWithOptions is Migrate with an explicit lock retry policy.
func MigrateWithOptions(ctx context.Context, gormDB *gorm.DB, opts ha.LockOptions, migrators ...Migrator) error {
	locker := ha.NewMigrationLockerWithOptions(gormDB, opts)
	return locker.WithLock(ctx, func() error {
		for _, m := range migrators {
			if err := m.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		return nil
	})
}
