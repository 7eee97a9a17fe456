package branching

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/assetforge/cfgvault/pkg/assets"
	"github.com/assetforge/cfgvault/pkg/audit"
	"github.com/assetforge/cfgvault/pkg/authz"
	"github.com/assetforge/cfgvault/pkg/db/dbtest"
	"github.com/assetforge/cfgvault/pkg/versioning"
)

var (
	engineer = authz.Principal{UserID: "eve", Role: authz.RoleEngineer}
	admin    = authz.Principal{UserID: "ada", Role: authz.RoleAdministrator}
)

type fixture struct {
	db        *gorm.DB
	assets    *assets.Store
	versions  *versioning.Store
	lifecycle *versioning.Lifecycle
	manager   *Manager
	events    *audit.Recorder
	asset     string
	v1        *versioning.Version
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	gdb := dbtest.Open(t)
	events := &audit.Recorder{}

	f := &fixture{db: gdb, events: events}
	f.assets = assets.NewStore(gdb)
	f.versions = versioning.NewStore(gdb, f.assets, nil)
	f.lifecycle = versioning.NewLifecycle(gdb)
	f.manager = NewManager(gdb, f.versions, f.lifecycle, WithAuditSink(events))
	dbtest.Migrate(t, f.assets, f.versions, f.manager)

	a, err := f.assets.Create(ctx, &assets.Asset{Name: "PLC-01", AssetType: assets.TypeDevice, CreatedBy: "alice"})
	require.NoError(t, err)
	f.asset = a.ID

	f.v1, err = f.versions.Store(ctx, versioning.StoreRequest{AssetID: a.ID, FileName: "plc.cfg", Content: []byte("cfg1\nline2\n"), Author: "alice"})
	require.NoError(t, err)
	return f
}

func (f *fixture) branch(t *testing.T, name string) *Branch {
	t.Helper()
	b, err := f.manager.Create(context.Background(), CreateRequest{
		Name:            name,
		AssetID:         f.asset,
		ParentVersionID: f.v1.ID,
		CreatedBy:       engineer.UserID,
	})
	require.NoError(t, err)
	return b
}

func TestManager_CreateSeedsFirstVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.branch(t, "feature-x")
	assert.True(t, b.IsActive)
	require.NotNil(t, b.LatestBranchVersion)
	assert.Equal(t, "branch-v1", *b.LatestBranchVersion)

	versions, err := f.manager.Versions(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "branch-v1", versions[0].BranchVersionNumber)
	assert.True(t, versions[0].IsLatest)
	assert.Equal(t, *b.LatestVersionID, versions[0].VersionID)

	content, err := f.versions.GetContent(ctx, versions[0].VersionID)
	require.NoError(t, err)
	assert.Equal(t, "cfg1\nline2\n", string(content))

	seeded, err := f.versions.Get(ctx, versions[0].VersionID)
	require.NoError(t, err)
	assert.Equal(t, "Initial branch version created from parent version v1", seeded.Notes)
	assert.Equal(t, "v2", seeded.VersionNumber)
	assert.Equal(t, "plc.cfg", seeded.FileName)

	assert.Equal(t, []string{audit.EventBranchCreated}, f.events.Types())
}

func TestManager_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.assets.Create(ctx, &assets.Asset{Name: "PLC-02", AssetType: assets.TypeDevice, CreatedBy: "alice"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  CreateRequest
		kind versioning.Kind
	}{
		{"short name", CreateRequest{Name: " x ", AssetID: f.asset, ParentVersionID: f.v1.ID, CreatedBy: "eve"}, versioning.KindValidation},
		{"long name", CreateRequest{Name: strings.Repeat("n", 101), AssetID: f.asset, ParentVersionID: f.v1.ID, CreatedBy: "eve"}, versioning.KindValidation},
		{"slash", CreateRequest{Name: "a/b", AssetID: f.asset, ParentVersionID: f.v1.ID, CreatedBy: "eve"}, versioning.KindValidation},
		{"backslash", CreateRequest{Name: `a\b`, AssetID: f.asset, ParentVersionID: f.v1.ID, CreatedBy: "eve"}, versioning.KindValidation},
		{"nul", CreateRequest{Name: "a\x00b", AssetID: f.asset, ParentVersionID: f.v1.ID, CreatedBy: "eve"}, versioning.KindValidation},
		{"long description", CreateRequest{Name: "ok", Description: strings.Repeat("d", 501), AssetID: f.asset, ParentVersionID: f.v1.ID, CreatedBy: "eve"}, versioning.KindValidation},
		{"missing creator", CreateRequest{Name: "ok", AssetID: f.asset, ParentVersionID: f.v1.ID}, versioning.KindValidation},
		{"unknown parent", CreateRequest{Name: "ok", AssetID: f.asset, ParentVersionID: "nope", CreatedBy: "eve"}, versioning.KindNotFound},
		{"parent of other asset", CreateRequest{Name: "ok", AssetID: other.ID, ParentVersionID: f.v1.ID, CreatedBy: "eve"}, versioning.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Create(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, versioning.KindOf(err), err.Error())
		})
	}

	branches, err := f.manager.List(ctx, f.asset, true)
	require.NoError(t, err)
	assert.Empty(t, branches)
}

func TestManager_CreateRejectsArchivedParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.Archive(ctx, f.v1.ID, admin, "")
	require.NoError(t, err)

	_, err = f.manager.Create(ctx, CreateRequest{Name: "late", AssetID: f.asset, ParentVersionID: f.v1.ID, CreatedBy: "eve"})
	assert.ErrorIs(t, err, versioning.ErrConflict)
}

func TestManager_DuplicateNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.branch(t, "feature-x")
	_, err := f.manager.Create(ctx, CreateRequest{Name: " feature-x ", AssetID: f.asset, ParentVersionID: f.v1.ID, CreatedBy: "eve"})
	assert.ErrorIs(t, err, versioning.ErrConflict)

	require.NoError(t, f.manager.Delete(ctx, first.ID, engineer))

	second := f.branch(t, "feature-x")
	assert.NotEqual(t, first.ID, second.ID)

	all, err := f.manager.List(ctx, f.asset, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	active, err := f.manager.List(ctx, f.asset, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	old, err := f.manager.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.True(t, strings.HasPrefix(old.Name, "feature-x#deleted-"))

	other, err := f.assets.Create(ctx, &assets.Asset{Name: "PLC-02", AssetType: assets.TypeDevice, CreatedBy: "alice"})
	require.NoError(t, err)
	otherV1, err := f.versions.Store(ctx, versioning.StoreRequest{AssetID: other.ID, FileName: "plc.cfg", Content: []byte("cfg\n"), Author: "alice"})
	require.NoError(t, err)
	elsewhere, err := f.manager.Create(ctx, CreateRequest{Name: "feature-x", AssetID: other.ID, ParentVersionID: otherV1.ID, CreatedBy: "eve"})
	require.NoError(t, err)
	assert.Equal(t, other.ID, elsewhere.AssetID)
	assert.NotEqual(t, second.ID, elsewhere.ID)
}

func TestManager_CreateSurvivesSeedFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tampered := append([]byte(nil), f.v1.EncryptedBlob...)
	tampered[len(tampered)-1] ^= 0x01
	require.NoError(t, f.db.Model(&versioning.Version{}).Where("id = ?", f.v1.ID).Update("file_content", tampered).Error)

	b, err := f.manager.Create(ctx, CreateRequest{Name: "feature-x", AssetID: f.asset, ParentVersionID: f.v1.ID, CreatedBy: "eve"})
	require.NoError(t, err)
	assert.True(t, b.IsActive)
	assert.Nil(t, b.LatestVersionID)
	assert.Nil(t, b.LatestBranchVersion)
	assert.Contains(t, f.events.Types(), audit.EventBranchCreated)

	versions, err := f.manager.Versions(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
	_, err = f.manager.Latest(ctx, b.ID)
	assert.ErrorIs(t, err, versioning.ErrNotFound)

	bv, err := f.manager.Import(ctx, ImportRequest{BranchID: b.ID, Content: []byte("cfg2\n"), Author: "eve"})
	require.NoError(t, err)
	assert.Equal(t, "branch-v1", bv.BranchVersionNumber)
	assert.True(t, bv.IsLatest)
}

func TestManager_Import(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.branch(t, "feature-x")

	bv2, err := f.manager.Import(ctx, ImportRequest{BranchID: b.ID, Content: []byte("cfg2\n"), Author: "eve", Notes: "tuned"})
	require.NoError(t, err)
	assert.Equal(t, "branch-v2", bv2.BranchVersionNumber)
	bv3, err := f.manager.Import(ctx, ImportRequest{BranchID: b.ID, Content: []byte("cfg3\n"), FileName: "alt.cfg", Author: "eve"})
	require.NoError(t, err)
	assert.Equal(t, "branch-v3", bv3.BranchVersionNumber)

	versions, err := f.manager.Versions(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	latest := 0
	for _, v := range versions {
		if v.IsLatest {
			latest++
			assert.Equal(t, bv3.ID, v.ID)
		}
	}
	assert.Equal(t, 1, latest)
	assert.Equal(t, "branch-v3", versions[0].BranchVersionNumber)

	got, err := f.manager.Latest(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bv3.ID, got.ID)

	refreshed, err := f.manager.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bv3.VersionID, *refreshed.LatestVersionID)
	assert.Equal(t, "branch-v3", *refreshed.LatestBranchVersion)

	v2, err := f.versions.Get(ctx, bv2.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "plc.cfg", v2.FileName)
	assert.Equal(t, f.asset, v2.AssetID)
	v3, err := f.versions.Get(ctx, bv3.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "alt.cfg", v3.FileName)
}

func TestManager_ImportRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.branch(t, "feature-x")

	_, err := f.manager.Import(ctx, ImportRequest{BranchID: b.ID, Author: "eve"})
	assert.ErrorIs(t, err, versioning.ErrValidation)

	_, err = f.manager.Import(ctx, ImportRequest{BranchID: "missing", Content: []byte("x"), Author: "eve"})
	assert.ErrorIs(t, err, versioning.ErrNotFound)

	require.NoError(t, f.manager.Delete(ctx, b.ID, admin))
	_, err = f.manager.Import(ctx, ImportRequest{BranchID: b.ID, Content: []byte("x"), Author: "eve"})
	assert.ErrorIs(t, err, versioning.ErrNotFound)

	versions, err := f.manager.Versions(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestManager_PromoteToSilver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.branch(t, "feature-x")
	_, err := f.manager.Import(ctx, ImportRequest{BranchID: b.ID, Content: []byte("cfg2\n"), Author: "eve"})
	require.NoError(t, err)

	promoted, err := f.manager.PromoteToSilver(ctx, b.ID, engineer)
	require.NoError(t, err)
	assert.Equal(t, versioning.StatusSilver, promoted.Status)
	assert.Equal(t, "Promoted from branch 'feature-x' (branch-v2)", promoted.Notes)
	assert.Equal(t, engineer.UserID, promoted.Author)

	content, err := f.versions.GetContent(ctx, promoted.ID)
	require.NoError(t, err)
	assert.Equal(t, "cfg2\n", string(content))

	history, err := f.lifecycle.History(ctx, promoted.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, versioning.StatusDraft, *history[0].OldStatus)
	assert.Equal(t, versioning.StatusSilver, history[0].NewStatus)

	// Silver can then be approved and promoted like any main-line version.
	_, err = f.lifecycle.Transition(ctx, promoted.ID, versioning.StatusApproved, engineer, "")
	require.NoError(t, err)
	_, err = f.lifecycle.PromoteToGolden(ctx, promoted.ID, admin, "")
	require.NoError(t, err)
}

func TestManager_PromoteEmptyBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := &Branch{ID: "b-empty", Name: "empty", AssetID: f.asset, ParentVersionID: f.v1.ID, CreatedBy: "eve", IsActive: true}
	require.NoError(t, f.db.Create(b).Error)

	_, err := f.manager.PromoteToSilver(ctx, b.ID, engineer)
	assert.ErrorIs(t, err, versioning.ErrNotFound)

	list, err := f.versions.List(ctx, f.asset)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestManager_Compare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.branch(t, "feature-x")
	first, err := f.manager.Latest(ctx, b.ID)
	require.NoError(t, err)
	second, err := f.manager.Import(ctx, ImportRequest{BranchID: b.ID, Content: []byte("cfg1\nline2 changed\n"), Author: "eve"})
	require.NoError(t, err)

	diff, err := f.manager.Compare(ctx, b.ID, first.VersionID, second.VersionID)
	require.NoError(t, err)
	assert.Contains(t, diff, "--- branch-v1\n+++ branch-v2\n")
	assert.Contains(t, diff, "-line2\n+line2 changed\n")
	assert.Contains(t, diff, "1 of 2 lines differ")

	same, err := f.manager.Compare(ctx, b.ID, first.VersionID, first.VersionID)
	require.NoError(t, err)
	assert.Contains(t, same, "no differences")

	// v1 exists but is not part of the branch.
	_, err = f.manager.Compare(ctx, b.ID, first.VersionID, f.v1.ID)
	assert.ErrorIs(t, err, versioning.ErrNotFound)

	other := f.branch(t, "other")
	otherLatest, err := f.manager.Latest(ctx, other.ID)
	require.NoError(t, err)
	_, err = f.manager.Compare(ctx, b.ID, first.VersionID, otherLatest.VersionID)
	assert.ErrorIs(t, err, versioning.ErrNotFound)
}

func TestManager_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.branch(t, "feature-x")

	stranger := authz.Principal{UserID: "mallory", Role: authz.RoleEngineer}
	err := f.manager.Delete(ctx, b.ID, stranger)
	assert.ErrorIs(t, err, versioning.ErrPermissionDenied)

	require.NoError(t, f.manager.Delete(ctx, b.ID, engineer))
	err = f.manager.Delete(ctx, b.ID, engineer)
	assert.ErrorIs(t, err, versioning.ErrNotFound)

	// Branch content survives in the version store.
	list, err := f.versions.List(ctx, f.asset)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
