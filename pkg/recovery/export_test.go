package recovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetforge/cfgvault/pkg/assets"
	"github.com/assetforge/cfgvault/pkg/audit"
	"github.com/assetforge/cfgvault/pkg/authz"
	"github.com/assetforge/cfgvault/pkg/db/dbtest"
	"github.com/assetforge/cfgvault/pkg/versioning"
)

func newVersion(t *testing.T, content string) (*versioning.Store, *versioning.Version) {
	t.Helper()
	gdb := dbtest.Open(t)
	assetStore := assets.NewStore(gdb)
	store := versioning.NewStore(gdb, assetStore, nil)
	dbtest.Migrate(t, assetStore, store)

	a, err := assetStore.Create(context.Background(), &assets.Asset{Name: "PLC-01", AssetType: assets.TypeDevice, CreatedBy: "alice"})
	require.NoError(t, err)
	v, err := store.Store(context.Background(), versioning.StoreRequest{AssetID: a.ID, FileName: "plc.cfg", Content: []byte(content), Author: "alice"})
	require.NoError(t, err)
	return store, v
}

// corruptingFs flips the first byte of every write.
type corruptingFs struct{ afero.Fs }

func (c corruptingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := c.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return corruptingFile{f}, nil
}

type corruptingFile struct{ afero.File }

func (c corruptingFile) Write(p []byte) (int, error) {
	bad := append([]byte(nil), p...)
	if len(bad) > 0 {
		bad[0] ^= 0xff
	}
	return c.File.Write(bad)
}

// truncatingFs drops the last byte of every write.
type truncatingFs struct{ afero.Fs }

func (c truncatingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := c.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return truncatingFile{f}, nil
}

type truncatingFile struct{ afero.File }

func (c truncatingFile) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := c.File.Write(p[:len(p)-1]); err != nil {
		return 0, err
	}
	return len(p), nil
}

func TestExport_WritesVerifiedFile(t *testing.T) {
	store, v := newVersion(t, "setpoint=42\nmode=auto\n")
	dir := t.TempDir()
	events := &audit.Recorder{}
	exporter := NewExporter(store, WithAuditSink(events))

	ctx := authz.WithPrincipal(context.Background(), authz.Principal{UserID: "ada", Role: authz.RoleAdministrator})
	target := filepath.Join(dir, "plc-recovery.cfg")
	res, err := exporter.Export(ctx, v.ID, target)
	require.NoError(t, err)

	assert.Equal(t, target, res.Path)
	assert.Equal(t, v.PlaintextSize, res.Bytes)
	assert.Equal(t, v.ContentHash, res.ContentHash)
	assert.Equal(t, "v1", res.VersionNumber)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "setpoint=42\nmode=auto\n", string(data))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, FileMode, info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.Len(t, events.Events, 1)
	assert.Equal(t, audit.EventVersionExported, events.Events[0].EventType)
	assert.Equal(t, "ada", events.Events[0].Actor)
}

// deniedStatFs fails every Stat with a permission error.
type deniedStatFs struct{ afero.Fs }

func (d deniedStatFs) Stat(name string) (os.FileInfo, error) {
	return nil, &os.PathError{Op: "stat", Path: name, Err: fs.ErrPermission}
}

func TestExport_ParentDirectoryErrors(t *testing.T) {
	tests := []struct {
		name string
		fs   func(t *testing.T) afero.Fs
		path string
		want error
	}{
		{
			name: "missing directory",
			fs:   func(t *testing.T) afero.Fs { return afero.NewMemMapFs() },
			path: "/missing/plc.cfg",
			want: versioning.ErrValidation,
		},
		{
			name: "parent is a file",
			fs: func(t *testing.T) afero.Fs {
				mem := afero.NewMemMapFs()
				require.NoError(t, afero.WriteFile(mem, "/exports", []byte("x"), 0o644))
				return mem
			},
			path: "/exports/plc.cfg",
			want: versioning.ErrValidation,
		},
		{
			name: "stat denied",
			fs: func(t *testing.T) afero.Fs {
				mem := afero.NewMemMapFs()
				require.NoError(t, mem.MkdirAll("/exports", 0o755))
				return deniedStatFs{mem}
			},
			path: "/exports/plc.cfg",
			want: versioning.ErrStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, v := newVersion(t, "cfg")
			exporter := NewExporter(store, WithFs(tt.fs(t)))

			_, err := exporter.Export(context.Background(), v.ID, tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			if tt.want == versioning.ErrStorage {
				assert.ErrorIs(t, err, fs.ErrPermission)
			}
		})
	}
}

func TestExport_RejectsPaths(t *testing.T) {
	store, v := newVersion(t, "cfg")
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/exports", 0o755))
	exporter := NewExporter(store, WithFs(fs))

	for _, path := range []string{"", "/exports/../etc/passwd", "~/plc.cfg", "/missing/plc.cfg"} {
		t.Run(path, func(t *testing.T) {
			_, err := exporter.Export(context.Background(), v.ID, path)
			assert.ErrorIs(t, err, versioning.ErrValidation)
		})
	}

	_, err := exporter.Export(context.Background(), "nope", "/exports/plc.cfg")
	assert.ErrorIs(t, err, versioning.ErrNotFound)
}

func TestExport_CorruptionLeavesNothingBehind(t *testing.T) {
	tests := []struct {
		name string
		wrap func(afero.Fs) afero.Fs
	}{
		{"flipped byte", func(fs afero.Fs) afero.Fs { return corruptingFs{fs} }},
		{"short write", func(fs afero.Fs) afero.Fs { return truncatingFs{fs} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, v := newVersion(t, "setpoint=42\n")
			base := afero.NewMemMapFs()
			require.NoError(t, base.MkdirAll("/exports", 0o755))
			exporter := NewExporter(store, WithFs(tt.wrap(base)))

			_, err := exporter.Export(context.Background(), v.ID, "/exports/plc.cfg")
			require.Error(t, err)
			assert.ErrorIs(t, err, versioning.ErrIntegrity)

			entries, err := afero.ReadDir(base, "/exports")
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestExport_OverwritesExistingFile(t *testing.T) {
	store, v := newVersion(t, "new content\n")
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/exports", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/exports/plc.cfg", []byte("old"), 0o644))
	exporter := NewExporter(store, WithFs(fs))

	_, err := exporter.Export(context.Background(), v.ID, "/exports/plc.cfg")
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/exports/plc.cfg")
	require.NoError(t, err)
	assert.Equal(t, "new content\n", string(data))
}
