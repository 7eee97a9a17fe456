// Package engine wires the version control components into one facade that
// serializes every core operation behind a single mutex. It is the library
// API consumed by the command layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/assetforge/cfgvault/pkg/assets"
	"github.com/assetforge/cfgvault/pkg/audit"
	"github.com/assetforge/cfgvault/pkg/authz"
	"github.com/assetforge/cfgvault/pkg/branching"
	"github.com/assetforge/cfgvault/pkg/config"
	"github.com/assetforge/cfgvault/pkg/db"
	"github.com/assetforge/cfgvault/pkg/recovery"
	"github.com/assetforge/cfgvault/pkg/versioning"
)

// Engine is the process-boundary facade.
type Engine struct {
	mu sync.Mutex

	db       *gorm.DB
	cfg      *config.Config
	logger   *zap.Logger
	identity authz.Provider

	assets    *assets.Store
	versions  *versioning.Store
	lifecycle *versioning.Lifecycle
	branches  *branching.Manager
	exporter  *recovery.Exporter
	auditLog  *audit.Store
}

// Option configures an Engine.
type Option func(*Engine)

// WithIdentity sets the identity provider. The default is a StaticProvider
// built from the config identity section.
func WithIdentity(p authz.Provider) Option {
	return func(e *Engine) { e.identity = p }
}

// WithExportOptions passes options to the recovery exporter.
func WithExportOptions(opts ...recovery.Option) Option {
	return func(e *Engine) {
		e.exporter = recovery.NewExporter(e.versions, append(e.exportDefaults(), opts...)...)
	}
}

// Open connects to the configured database, runs migrations and returns a
// ready Engine.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	gormDB, err := db.Open(cfg.DBOptions())
	if err != nil {
		return nil, err
	}
	e := New(gormDB, cfg, logger, opts...)
	if err := e.Migrate(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// New builds an Engine on an existing connection. Call Migrate before use
// on a fresh database.
func New(gormDB *gorm.DB, cfg *config.Config, logger *zap.Logger, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{db: gormDB, cfg: cfg, logger: logger}

	var sink audit.Sink = audit.Nop{}
	e.auditLog = audit.NewStore(gormDB, logger.Named("audit"))
	if cfg.Audit.Enabled {
		sink = e.auditLog
	}

	e.assets = assets.NewStore(gormDB)
	e.versions = versioning.NewStore(gormDB, e.assets, cfg.Pipeline(),
		versioning.WithLogger(logger.Named("versions")),
		versioning.WithAuditSink(sink))
	e.lifecycle = versioning.NewLifecycle(gormDB,
		versioning.WithLogger(logger.Named("lifecycle")),
		versioning.WithAuditSink(sink))
	e.branches = branching.NewManager(gormDB, e.versions, e.lifecycle,
		branching.WithLogger(logger.Named("branches")),
		branching.WithAuditSink(sink))
	e.exporter = recovery.NewExporter(e.versions, e.exportDefaults()...)
	e.identity = authz.StaticProvider{Fixed: defaultPrincipal(cfg)}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) exportDefaults() []recovery.Option {
	var sink audit.Sink = audit.Nop{}
	if e.cfg.Audit.Enabled {
		sink = e.auditLog
	}
	return []recovery.Option{
		recovery.WithLogger(e.logger.Named("recovery")),
		recovery.WithAuditSink(sink),
	}
}

func defaultPrincipal(cfg *config.Config) authz.Principal {
	role, err := authz.ParseRole(cfg.Identity.Role)
	if err != nil {
		role = authz.RoleEngineer
	}
	return authz.Principal{UserID: cfg.Identity.User, Role: role}
}

// Migrate creates or updates every table under the migration lock.
func (e *Engine) Migrate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return db.MigrateWithOptions(ctx, e.db, e.cfg.LockOptions(),
		e.assets, e.versions, e.branches, e.auditLog)
}

// Close releases the database connection.
func (e *Engine) Close() error {
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Principal resolves the caller for ctx.
func (e *Engine) Principal(ctx context.Context) (authz.Principal, error) {
	p, err := e.identity.Principal(ctx)
	if err != nil {
		return authz.Principal{}, versioning.E(versioning.KindValidation, "resolve principal", "", err)
	}
	return p, nil
}

// CreateAsset registers a folder or device. CreatedBy defaults to the caller.
func (e *Engine) CreateAsset(ctx context.Context, a *assets.Asset) (*assets.Asset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a.CreatedBy == "" {
		p, err := e.Principal(ctx)
		if err != nil {
			return nil, err
		}
		a.CreatedBy = p.UserID
	}
	out, err := e.assets.Create(ctx, a)
	if err != nil {
		return nil, assetErr("create asset", err)
	}
	e.logger.Info("asset created", zap.String("assetId", out.ID), zap.String("name", out.Name))
	if e.cfg.Audit.Enabled {
		e.auditLog.Record(ctx, audit.Event{
			EventType: audit.EventAssetCreated,
			Actor:     out.CreatedBy,
			AssetID:   out.ID,
			Metadata:  map[string]string{"name": out.Name, "type": string(out.AssetType)},
		})
	}
	return out, nil
}

// GetAsset returns an asset by id.
func (e *Engine) GetAsset(ctx context.Context, id string) (*assets.Asset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.assets.Get(ctx, id)
	return a, assetErr("get asset", err)
}

// ListAssets returns the children of parentID, or the roots.
func (e *Engine) ListAssets(ctx context.Context, parentID string) ([]assets.Asset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out, err := e.assets.Children(ctx, parentID)
	return out, assetErr("list assets", err)
}

// AssetPath returns the slash-joined path of an asset.
func (e *Engine) AssetPath(ctx context.Context, id string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.assets.Path(ctx, id)
	return p, assetErr("asset path", err)
}

// StoreVersion stores a new Draft version. Author defaults to the caller.
func (e *Engine) StoreVersion(ctx context.Context, req versioning.StoreRequest) (*versioning.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if req.Author == "" {
		p, err := e.Principal(ctx)
		if err != nil {
			return nil, err
		}
		req.Author = p.UserID
	}
	return e.versions.Store(ctx, req)
}

// GetVersion returns version metadata.
func (e *Engine) GetVersion(ctx context.Context, id string) (*versioning.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.versions.Get(ctx, id)
}

// ListVersions returns an asset's versions, newest first.
func (e *Engine) ListVersions(ctx context.Context, assetID string) ([]versioning.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.versions.List(ctx, assetID)
}

// LatestVersion returns an asset's newest version.
func (e *Engine) LatestVersion(ctx context.Context, assetID string) (*versioning.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.versions.Latest(ctx, assetID)
}

// GoldenVersion returns an asset's Golden version, or nil.
func (e *Engine) GoldenVersion(ctx context.Context, assetID string) (*versioning.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.versions.Golden(ctx, assetID)
}

// Content returns the verified plaintext of a version.
func (e *Engine) Content(ctx context.Context, versionID string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.versions.GetContent(ctx, versionID)
}

// Transition moves a version through the generic status path as the caller.
func (e *Engine) Transition(ctx context.Context, versionID string, to versioning.Status, reason string) (*versioning.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.Principal(ctx)
	if err != nil {
		return nil, err
	}
	return e.lifecycle.Transition(ctx, versionID, to, p, reason)
}

// PromoteToGolden promotes an Approved version as the caller.
func (e *Engine) PromoteToGolden(ctx context.Context, versionID, reason string) (*versioning.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.Principal(ctx)
	if err != nil {
		return nil, err
	}
	return e.lifecycle.PromoteToGolden(ctx, versionID, p, reason)
}

// Archive archives a version as the caller.
func (e *Engine) Archive(ctx context.Context, versionID, reason string) (*versioning.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.Principal(ctx)
	if err != nil {
		return nil, err
	}
	return e.lifecycle.Archive(ctx, versionID, p, reason)
}

// Restore returns an Archived version to Draft as the caller.
func (e *Engine) Restore(ctx context.Context, versionID, reason string) (*versioning.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.Principal(ctx)
	if err != nil {
		return nil, err
	}
	return e.lifecycle.Restore(ctx, versionID, p, reason)
}

// History returns a version's status changes, oldest first.
func (e *Engine) History(ctx context.Context, versionID string) ([]versioning.StatusChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lifecycle.History(ctx, versionID)
}

// Eligibility describes what the caller may do with a version.
type Eligibility struct {
	VersionID   string              `json:"versionId"`
	Status      versioning.Status   `json:"status"`
	Role        authz.Role          `json:"role"`
	Transitions []versioning.Status `json:"transitions"`
	CanPromote  bool                `json:"canPromote"`
}

// Eligible reports the generic transitions open to the caller and whether
// the version can be promoted to Golden. It never changes state.
func (e *Engine) Eligible(ctx context.Context, versionID string) (*Eligibility, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.Principal(ctx)
	if err != nil {
		return nil, err
	}
	v, err := e.versions.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	can, err := e.lifecycle.CanPromote(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return &Eligibility{
		VersionID:   v.ID,
		Status:      v.Status,
		Role:        p.Role,
		Transitions: sortedStatuses(versioning.LegalTransitions(p.Role, v.Status)),
		CanPromote:  can && p.IsAdministrator(),
	}, nil
}

// CreateBranch creates a branch. CreatedBy defaults to the caller.
func (e *Engine) CreateBranch(ctx context.Context, req branching.CreateRequest) (*branching.Branch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if req.CreatedBy == "" {
		p, err := e.Principal(ctx)
		if err != nil {
			return nil, err
		}
		req.CreatedBy = p.UserID
	}
	return e.branches.Create(ctx, req)
}

// ImportToBranch adds content to a branch. Author defaults to the caller.
func (e *Engine) ImportToBranch(ctx context.Context, req branching.ImportRequest) (*branching.BranchVersion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if req.Author == "" {
		p, err := e.Principal(ctx)
		if err != nil {
			return nil, err
		}
		req.Author = p.UserID
	}
	return e.branches.Import(ctx, req)
}

// PromoteBranch promotes a branch's latest content to a Silver main-line
// version as the caller.
func (e *Engine) PromoteBranch(ctx context.Context, branchID string) (*versioning.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.Principal(ctx)
	if err != nil {
		return nil, err
	}
	return e.branches.PromoteToSilver(ctx, branchID, p)
}

// CompareBranch diffs two versions of a branch.
func (e *Engine) CompareBranch(ctx context.Context, branchID, left, right string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.branches.Compare(ctx, branchID, left, right)
}

// GetBranch returns a branch.
func (e *Engine) GetBranch(ctx context.Context, branchID string) (*branching.Branch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.branches.Get(ctx, branchID)
}

// ListBranches returns an asset's branches.
func (e *Engine) ListBranches(ctx context.Context, assetID string, includeInactive bool) ([]branching.Branch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.branches.List(ctx, assetID, includeInactive)
}

// BranchVersions returns a branch's versions, newest first.
func (e *Engine) BranchVersions(ctx context.Context, branchID string) ([]branching.BranchVersion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.branches.Versions(ctx, branchID)
}

// DeleteBranch soft-deletes a branch as the caller.
func (e *Engine) DeleteBranch(ctx context.Context, branchID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.Principal(ctx)
	if err != nil {
		return err
	}
	return e.branches.Delete(ctx, branchID, p)
}

// Export writes a version's verified content to path.
func (e *Engine) Export(ctx context.Context, versionID, path string) (*recovery.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, err := e.identity.Principal(ctx); err == nil {
		ctx = authz.WithPrincipal(ctx, p)
	}
	return e.exporter.Export(ctx, versionID, path)
}

// AuditLog returns a page of audit events for an asset, newest first.
func (e *Engine) AuditLog(ctx context.Context, assetID string, pageSize int, pageToken string) ([]audit.Event, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	events, next, err := e.auditLog.ListByAsset(ctx, assetID, pageSize, pageToken)
	if err != nil {
		return nil, "", versioning.WrapStorage("audit log", err)
	}
	return events, next, nil
}

// PruneAudit deletes audit events older than the configured retention.
// Administrator only.
func (e *Engine) PruneAudit(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.Principal(ctx)
	if err != nil {
		return 0, err
	}
	if !p.IsAdministrator() {
		return 0, versioning.Errorf(versioning.KindPermissionDenied, "prune audit", "only administrators can prune the audit log")
	}
	n, err := e.auditLog.Prune(ctx, e.cfg.Audit.RetentionDays)
	if err != nil {
		return 0, versioning.WrapStorage("prune audit", err)
	}
	return n, nil
}

func assetErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, assets.ErrNotFound):
		return versioning.E(versioning.KindNotFound, op, "", err)
	case errors.Is(err, assets.ErrInvalid):
		return versioning.E(versioning.KindValidation, op, "", err)
	case errors.Is(err, assets.ErrDuplicate):
		return versioning.E(versioning.KindConflict, op, "", err)
	default:
		return versioning.E(versioning.KindStorage, op, "", fmt.Errorf("asset directory: %w", err))
	}
}

func sortedStatuses(set mapset.Set[versioning.Status]) []versioning.Status {
	out := make([]versioning.Status, 0, set.Cardinality())
	for _, s := range versioning.AllStatuses {
		if set.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}
