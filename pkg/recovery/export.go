// Package recovery writes stored configuration versions back to disk for
// device recovery, verifying what actually landed on the filesystem.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/assetforge/cfgvault/pkg/audit"
	"github.com/assetforge/cfgvault/pkg/authz"
	"github.com/assetforge/cfgvault/pkg/codec"
	"github.com/assetforge/cfgvault/pkg/versioning"
)

// FileMode is the permission of exported files.
const FileMode os.FileMode = 0o600

// ContentSource reads versions and their verified plaintext.
type ContentSource interface {
	Get(ctx context.Context, versionID string) (*versioning.Version, error)
	GetContent(ctx context.Context, versionID string) ([]byte, error)
}

// Result describes a completed export.
type Result struct {
	Path          string `json:"path"`
	VersionID     string `json:"versionId"`
	VersionNumber string `json:"versionNumber"`
	Bytes         int64  `json:"bytes"`
	ContentHash   string `json:"contentHash"`
}

// Exporter writes version content to a filesystem.
type Exporter struct {
	source ContentSource
	fs     afero.Fs
	logger *zap.Logger
	audit  audit.Sink
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithFs sets the target filesystem. The default is the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(e *Exporter) { e.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithAuditSink sets the audit sink.
func WithAuditSink(s audit.Sink) Option {
	return func(e *Exporter) {
		if s != nil {
			e.audit = s
		}
	}
}

// NewExporter creates a new Exporter.
func NewExporter(source ContentSource, opts ...Option) *Exporter {
	e := &Exporter{
		source: source,
		fs:     afero.NewOsFs(),
		logger: zap.NewNop(),
		audit:  audit.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the plaintext of a version to path. The bytes are written
// to a temporary sibling, read back and checked against the stored size and
// content hash, and only then renamed onto path. Nothing is left behind on
// failure.
func (e *Exporter) Export(ctx context.Context, versionID, path string) (*Result, error) {
	const op = "export"

	if err := checkPath(path); err != nil {
		return nil, versioning.E(versioning.KindValidation, op, "", err)
	}
	dir := filepath.Dir(path)
	info, err := e.fs.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, versioning.Errorf(versioning.KindValidation, op, "parent directory %s does not exist", dir)
	case err != nil:
		return nil, versioning.E(versioning.KindStorage, op, "inspect "+dir, err)
	case !info.IsDir():
		return nil, versioning.Errorf(versioning.KindValidation, op, "%s is not a directory", dir)
	}

	v, err := e.source.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	content, err := e.source.GetContent(ctx, versionID)
	if err != nil {
		return nil, err
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.partial-%s", filepath.Base(path), uuid.New().String()[:8]))
	if err := e.write(tmp, content); err != nil {
		e.discard(tmp)
		return nil, versioning.E(versioning.KindStorage, op, "write "+path, err)
	}
	if err := e.verify(tmp, v); err != nil {
		e.discard(tmp)
		e.logger.Error("exported file failed verification",
			zap.String("versionId", v.ID),
			zap.String("path", path),
			zap.Error(err))
		return nil, versioning.E(versioning.KindIntegrity, op, path, err)
	}
	if err := e.fs.Rename(tmp, path); err != nil {
		e.discard(tmp)
		return nil, versioning.E(versioning.KindStorage, op, "rename into "+path, err)
	}

	res := &Result{
		Path:          path,
		VersionID:     v.ID,
		VersionNumber: v.VersionNumber,
		Bytes:         v.PlaintextSize,
		ContentHash:   v.ContentHash,
	}
	e.logger.Info("configuration exported",
		zap.String("versionId", v.ID),
		zap.String("versionNumber", v.VersionNumber),
		zap.String("path", path),
		zap.Int64("bytes", res.Bytes))
	e.audit.Record(ctx, audit.Event{
		EventType: audit.EventVersionExported,
		Actor:     actorFrom(ctx),
		AssetID:   v.AssetID,
		VersionID: v.ID,
		Metadata:  map[string]string{"path": path, "contentHash": v.ContentHash},
	})
	return res, nil
}

func (e *Exporter) write(name string, content []byte) error {
	f, err := e.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (e *Exporter) verify(name string, v *versioning.Version) error {
	f, err := e.fs.Open(name)
	if err != nil {
		return fmt.Errorf("re-open exported file: %w", err)
	}
	defer f.Close()

	written, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("re-read exported file: %w", err)
	}
	if int64(len(written)) != v.PlaintextSize {
		return fmt.Errorf("size mismatch: wrote %d bytes, expected %d", len(written), v.PlaintextSize)
	}
	if !codec.VerifyContent(written, v.ContentHash) {
		return codec.ErrHashMismatch
	}
	return nil
}

func (e *Exporter) discard(name string) {
	if err := e.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("failed to remove partial export", zap.String("path", name), zap.Error(err))
	}
}

// checkPath rejects parent traversal and home-directory shorthand.
func checkPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("export path is required")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("export path %q must not contain '..'", path)
	}
	if strings.Contains(path, "~") {
		return fmt.Errorf("export path %q must not contain '~'", path)
	}
	return nil
}

func actorFrom(ctx context.Context) string {
	if p, ok := authz.PrincipalFromContext(ctx); ok && p.UserID != "" {
		return p.UserID
	}
	return "system"
}
