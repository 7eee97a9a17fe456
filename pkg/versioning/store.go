package versioning

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/assetforge/cfgvault/pkg/assets"
	"github.com/assetforge/cfgvault/pkg/audit"
	"github.com/assetforge/cfgvault/pkg/codec"
	"github.com/assetforge/cfgvault/pkg/db"
)

// numberAttempts bounds how often Store retries a version-number collision.
const numberAttempts = 3

// AssetChecker reports whether an asset exists.
type AssetChecker interface {
	Exists(ctx context.Context, id string) (assets.AssetType, error)
}

// TxAssetChecker is an AssetChecker that can join an open transaction.
// Checkers that cannot are queried on their own handle, which deadlocks a
// single-connection SQLite database when called inside a transaction.
type TxAssetChecker interface {
	AssetChecker
	WithTx(tx *gorm.DB) AssetChecker
}

// directoryChecker adapts the asset directory to TxAssetChecker.
type directoryChecker struct{ *assets.Store }

func (d directoryChecker) WithTx(tx *gorm.DB) AssetChecker {
	return directoryChecker{d.Store.WithTx(tx)}
}

// Option configures a Store or Lifecycle.
type Option func(*options)

type options struct {
	logger *zap.Logger
	audit  audit.Sink
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAuditSink sets the audit sink. The default is audit.Nop.
func WithAuditSink(s audit.Sink) Option {
	return func(o *options) {
		if s != nil {
			o.audit = s
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), audit: audit.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store persists configuration versions through the codec pipeline.
type Store struct {
	db       *gorm.DB
	assets   AssetChecker
	pipeline *codec.Pipeline
	options
}

// NewStore creates a new Store. A nil pipeline means codec.DefaultPipeline.
func NewStore(gormDB *gorm.DB, assetChecker AssetChecker, pipeline *codec.Pipeline, opts ...Option) *Store {
	if pipeline == nil {
		pipeline = codec.DefaultPipeline()
	}
	if dir, ok := assetChecker.(*assets.Store); ok && dir != nil {
		assetChecker = directoryChecker{dir}
	}
	return &Store{
		db:       gormDB,
		assets:   assetChecker,
		pipeline: pipeline,
		options:  buildOptions(opts),
	}
}

// AutoMigrate creates the version and status-history tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Version{}, &StatusChange{})
}

// WithTx returns a Store bound to an open transaction. Audit events are
// not emitted from a bound store; the owner of the transaction emits them
// after commit.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	cp := *s
	cp.db = tx
	cp.audit = audit.Nop{}
	if b, ok := s.assets.(TxAssetChecker); ok {
		cp.assets = b.WithTx(tx)
	}
	return &cp
}

// Pipeline returns the codec pipeline used by the store.
func (s *Store) Pipeline() *codec.Pipeline { return s.pipeline }

// Store encodes req.Content and records it as the asset's next Draft version.
func (s *Store) Store(ctx context.Context, req StoreRequest) (*Version, error) {
	const op = "store version"

	req.FileName = strings.TrimSpace(req.FileName)
	req.Author = strings.TrimSpace(req.Author)
	if req.FileName == "" {
		return nil, Errorf(KindValidation, op, "file name is required")
	}
	if req.Author == "" {
		return nil, Errorf(KindValidation, op, "author is required")
	}
	if err := s.checkAsset(ctx, op, req.AssetID); err != nil {
		return nil, err
	}

	enc, err := s.pipeline.Encode(req.Author, req.Content)
	switch {
	case errors.Is(err, codec.ErrEmptyPayload), errors.Is(err, codec.ErrPayloadTooLarge):
		return nil, E(KindValidation, op, "content rejected", err)
	case err != nil:
		return nil, E(KindStorage, op, "encode content", err)
	}

	v := &Version{
		AssetID:       req.AssetID,
		FileName:      req.FileName,
		EncryptedBlob: enc.Blob,
		PlaintextSize: enc.PlaintextSize,
		ContentHash:   enc.ContentHash,
		Compression:   enc.Compression,
		Author:        req.Author,
		Notes:         req.Notes,
		Status:        StatusDraft,
	}

	for attempt := 1; ; attempt++ {
		v.ID = uuid.New().String()
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var numbers []string
			if err := tx.Model(&Version{}).
				Where("asset_id = ?", v.AssetID).
				Pluck("version_number", &numbers).Error; err != nil {
				return err
			}
			v.VersionNumber = NextNumber(MainLinePrefix, numbers)
			return tx.Create(v).Error
		})
		if err == nil {
			break
		}
		if !db.IsUniqueViolation(err) {
			return nil, WrapStorage(op, err)
		}
		if attempt == numberAttempts {
			return nil, E(KindConflict, op, "version number assignment kept colliding", err)
		}
		s.logger.Debug("version number collision, retrying",
			zap.String("assetId", v.AssetID),
			zap.String("versionNumber", v.VersionNumber),
			zap.Int("attempt", attempt))
	}

	s.logger.Info("stored configuration version",
		zap.String("assetId", v.AssetID),
		zap.String("versionId", v.ID),
		zap.String("versionNumber", v.VersionNumber),
		zap.Int64("size", v.PlaintextSize),
		zap.String("compression", v.Compression.String()))
	s.audit.Record(ctx, audit.Event{
		EventType: audit.EventVersionCreated,
		Actor:     v.Author,
		AssetID:   v.AssetID,
		VersionID: v.ID,
		Metadata:  map[string]string{"versionNumber": v.VersionNumber, "fileName": v.FileName},
	})
	return v, nil
}

// GetContent returns the decrypted, decompressed and hash-verified payload
// of a version.
func (s *Store) GetContent(ctx context.Context, versionID string) ([]byte, error) {
	const op = "get content"

	v, err := s.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.pipeline.Decode(v.Author, v.EncryptedBlob, v.Compression, v.PlaintextSize, v.ContentHash)
	if err != nil {
		s.logger.Error("stored content failed verification",
			zap.String("versionId", v.ID),
			zap.String("versionNumber", v.VersionNumber),
			zap.Error(err))
		return nil, E(KindIntegrity, op, "version "+v.VersionNumber, err)
	}
	return plaintext, nil
}

// Get returns a version by id.
func (s *Store) Get(ctx context.Context, versionID string) (*Version, error) {
	return getVersion(s.db.WithContext(ctx), "get version", versionID)
}

// List returns the versions of an asset, newest first.
func (s *Store) List(ctx context.Context, assetID string) ([]Version, error) {
	var versions []Version
	if err := s.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Find(&versions).Error; err != nil {
		return nil, WrapStorage("list versions", err)
	}
	sortNewestFirst(versions)
	return versions, nil
}

// Latest returns the newest version of an asset.
func (s *Store) Latest(ctx context.Context, assetID string) (*Version, error) {
	versions, err := s.List(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, Errorf(KindNotFound, "latest version", "asset %s has no versions", assetID)
	}
	return &versions[0], nil
}

// Golden returns the asset's Golden version, or nil if it has none.
func (s *Store) Golden(ctx context.Context, assetID string) (*Version, error) {
	var v Version
	err := s.db.WithContext(ctx).
		Where("asset_id = ? AND status = ?", assetID, StatusGolden).
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, WrapStorage("golden version", err)
	}
	return &v, nil
}

func (s *Store) checkAsset(ctx context.Context, op, assetID string) error {
	if strings.TrimSpace(assetID) == "" {
		return Errorf(KindValidation, op, "asset id is required")
	}
	if s.assets == nil {
		return nil
	}
	if _, err := s.assets.Exists(ctx, assetID); err != nil {
		if errors.Is(err, assets.ErrNotFound) {
			return E(KindNotFound, op, "asset "+assetID, err)
		}
		return WrapStorage(op, err)
	}
	return nil
}

func getVersion(tx *gorm.DB, op, versionID string) (*Version, error) {
	if strings.TrimSpace(versionID) == "" {
		return nil, Errorf(KindValidation, op, "version id is required")
	}
	var v Version
	if err := tx.Where("id = ?", versionID).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errorf(KindNotFound, op, "version %s", versionID)
		}
		return nil, WrapStorage(op, err)
	}
	return &v, nil
}

// sortNewestFirst orders by numeric version suffix, then creation time.
func sortNewestFirst(versions []Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		ni, _ := parseNumber(MainLinePrefix, versions[i].VersionNumber)
		nj, _ := parseNumber(MainLinePrefix, versions[j].VersionNumber)
		if ni != nj {
			return ni > nj
		}
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
}
