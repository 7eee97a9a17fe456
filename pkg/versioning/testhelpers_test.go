package versioning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/assetforge/cfgvault/pkg/assets"
	"github.com/assetforge/cfgvault/pkg/audit"
	"github.com/assetforge/cfgvault/pkg/authz"
	"github.com/assetforge/cfgvault/pkg/db/dbtest"
)

var (
	engineer = authz.Principal{UserID: "eve", Role: authz.RoleEngineer}
	admin    = authz.Principal{UserID: "ada", Role: authz.RoleAdministrator}
)

type fixture struct {
	db        *gorm.DB
	assets    *assets.Store
	store     *Store
	lifecycle *Lifecycle
	events    *audit.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.Open(t)
	assetStore := assets.NewStore(gdb)
	events := &audit.Recorder{}
	f := &fixture{
		db:        gdb,
		assets:    assetStore,
		store:     NewStore(gdb, assetStore, nil, WithAuditSink(events)),
		lifecycle: NewLifecycle(gdb, WithAuditSink(events)),
		events:    events,
	}
	dbtest.Migrate(t, assetStore, f.store)
	return f
}

func (f *fixture) device(t *testing.T, name string) string {
	t.Helper()
	a, err := f.assets.Create(context.Background(), &assets.Asset{Name: name, AssetType: assets.TypeDevice, CreatedBy: "alice"})
	require.NoError(t, err)
	return a.ID
}

func (f *fixture) storeText(t *testing.T, assetID, content string) *Version {
	t.Helper()
	v, err := f.store.Store(context.Background(), StoreRequest{
		AssetID:  assetID,
		FileName: "plc.cfg",
		Content:  []byte(content),
		Author:   "alice",
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) historyCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&StatusChange{}).Count(&n).Error)
	return n
}
