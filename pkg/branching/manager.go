// Package branching manages isolated lines of configuration versions that
// branch off an asset's main line and can be promoted back as Silver.
package branching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/assetforge/cfgvault/pkg/audit"
	"github.com/assetforge/cfgvault/pkg/authz"
	"github.com/assetforge/cfgvault/pkg/db"
	"github.com/assetforge/cfgvault/pkg/versioning"
)

const (
	minNameLength        = 2
	maxNameLength        = 100
	maxDescriptionLength = 500
	defaultFileName      = "configuration"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithAuditSink sets the audit sink. The default is audit.Nop.
func WithAuditSink(s audit.Sink) Option {
	return func(m *Manager) {
		if s != nil {
			m.audit = s
		}
	}
}

// Manager creates branches, imports content into them, compares their
// versions and promotes them back to the main line.
type Manager struct {
	db        *gorm.DB
	versions  *versioning.Store
	lifecycle *versioning.Lifecycle
	logger    *zap.Logger
	audit     audit.Sink
}

// NewManager creates a new Manager.
func NewManager(gormDB *gorm.DB, versions *versioning.Store, lifecycle *versioning.Lifecycle, opts ...Option) *Manager {
	m := &Manager{
		db:        gormDB,
		versions:  versions,
		lifecycle: lifecycle,
		logger:    zap.NewNop(),
		audit:     audit.Nop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AutoMigrate creates the branch tables.
func (m *Manager) AutoMigrate() error {
	return m.db.AutoMigrate(&Branch{}, &BranchVersion{})
}

// Create registers a new branch rooted at req.ParentVersionID and seeds it
// with a copy of the parent content as branch-v1. A failed copy is logged
// and leaves an empty branch.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Branch, error) {
	const op = "create branch"

	name, err := validateName(op, req.Name)
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(req.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, versioning.Errorf(versioning.KindValidation, op, "description exceeds %d characters", maxDescriptionLength)
	}
	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		return nil, versioning.Errorf(versioning.KindValidation, op, "created_by is required")
	}

	parent, err := m.versions.Get(ctx, req.ParentVersionID)
	if err != nil {
		return nil, err
	}
	if parent.AssetID != req.AssetID {
		return nil, versioning.Errorf(versioning.KindValidation, op, "parent version %s does not belong to asset %s", parent.VersionNumber, req.AssetID)
	}
	if parent.Status == versioning.StatusArchived {
		return nil, versioning.Errorf(versioning.KindConflict, op, "parent version %s is Archived", parent.VersionNumber)
	}

	branch := &Branch{
		ID:              uuid.New().String(),
		Name:            name,
		AssetID:         req.AssetID,
		ParentVersionID: parent.ID,
		CreatedBy:       createdBy,
		IsActive:        true,
	}
	if description != "" {
		branch.Description = &description
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var clashes []Branch
		if err := tx.Where("asset_id = ? AND name = ?", branch.AssetID, name).Find(&clashes).Error; err != nil {
			return err
		}
		for _, c := range clashes {
			if c.IsActive {
				return versioning.Errorf(versioning.KindConflict, op, "branch %q already exists for this asset", name)
			}
			// Free the name held by a deleted branch.
			if err := tx.Model(&Branch{}).Where("id = ?", c.ID).
				Update("name", fmt.Sprintf("%s#deleted-%s", c.Name, c.ID)).Error; err != nil {
				return err
			}
		}
		return tx.Create(branch).Error
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, versioning.E(versioning.KindConflict, op, fmt.Sprintf("branch %q already exists for this asset", name), err)
		}
		return nil, versioning.WrapStorage(op, err)
	}

	m.logger.Info("branch created",
		zap.String("branchId", branch.ID),
		zap.String("name", branch.Name),
		zap.String("assetId", branch.AssetID),
		zap.String("parentVersion", parent.VersionNumber))
	m.audit.Record(ctx, audit.Event{
		EventType: audit.EventBranchCreated,
		Actor:     createdBy,
		AssetID:   branch.AssetID,
		VersionID: parent.ID,
		BranchID:  branch.ID,
		Metadata:  map[string]string{"name": branch.Name, "parentVersion": parent.VersionNumber},
	})

	if _, err := m.seed(ctx, branch, parent); err != nil {
		m.logger.Warn("failed to copy parent content into new branch",
			zap.String("branchId", branch.ID),
			zap.String("parentVersionId", parent.ID),
			zap.Error(err))
	}

	return m.Get(ctx, branch.ID)
}

func (m *Manager) seed(ctx context.Context, branch *Branch, parent *versioning.Version) (*BranchVersion, error) {
	content, err := m.versions.GetContent(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	return m.importContent(ctx, "seed branch", branch, versioning.StoreRequest{
		AssetID:  branch.AssetID,
		FileName: parent.FileName,
		Content:  content,
		Author:   branch.CreatedBy,
		Notes:    "Initial branch version created from parent version " + parent.VersionNumber,
	})
}

// Import stores content as the branch's next branch-vN version.
func (m *Manager) Import(ctx context.Context, req ImportRequest) (*BranchVersion, error) {
	const op = "import to branch"

	branch, err := m.activeBranch(ctx, op, req.BranchID)
	if err != nil {
		return nil, err
	}
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = m.parentFileName(ctx, branch)
	}

	bv, err := m.importContent(ctx, op, branch, versioning.StoreRequest{
		AssetID:  branch.AssetID,
		FileName: fileName,
		Content:  req.Content,
		Author:   req.Author,
		Notes:    req.Notes,
	})
	if err != nil {
		return nil, err
	}

	m.audit.Record(ctx, audit.Event{
		EventType: audit.EventBranchImported,
		Actor:     strings.TrimSpace(req.Author),
		AssetID:   branch.AssetID,
		VersionID: bv.VersionID,
		BranchID:  branch.ID,
		Metadata:  map[string]string{"branchVersion": bv.BranchVersionNumber},
	})
	return bv, nil
}

// importContent stores the version and links it as the branch's latest
// entry in a single transaction.
func (m *Manager) importContent(ctx context.Context, op string, branch *Branch, req versioning.StoreRequest) (*BranchVersion, error) {
	var bv *BranchVersion
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := m.versions.WithTx(tx).Store(ctx, req)
		if err != nil {
			return err
		}

		var numbers []string
		if err := tx.Model(&BranchVersion{}).
			Where("branch_id = ?", branch.ID).
			Pluck("branch_version_number", &numbers).Error; err != nil {
			return err
		}
		bv = &BranchVersion{
			ID:                  uuid.New().String(),
			BranchID:            branch.ID,
			VersionID:           v.ID,
			BranchVersionNumber: versioning.NextNumber(versioning.BranchPrefix, numbers),
			IsLatest:            true,
		}

		if err := tx.Model(&BranchVersion{}).
			Where("branch_id = ? AND is_latest = ?", branch.ID, true).
			Update("is_latest", false).Error; err != nil {
			return err
		}
		if err := tx.Create(bv).Error; err != nil {
			return err
		}
		return tx.Model(&Branch{}).Where("id = ?", branch.ID).Updates(map[string]any{
			"latest_version_id":     v.ID,
			"latest_branch_version": bv.BranchVersionNumber,
		}).Error
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, versioning.E(versioning.KindConflict, op, "concurrent import into branch "+branch.Name, err)
		}
		return nil, versioning.WrapStorage(op, err)
	}

	m.logger.Info("branch version imported",
		zap.String("branchId", branch.ID),
		zap.String("branchVersion", bv.BranchVersionNumber),
		zap.String("versionId", bv.VersionID))
	return bv, nil
}

// PromoteToSilver copies the branch's latest content to a new main-line
// version and marks it Silver through the generic transition path.
func (m *Manager) PromoteToSilver(ctx context.Context, branchID string, actor authz.Principal) (*versioning.Version, error) {
	const op = "promote branch"
	if err := actor.Validate(); err != nil {
		return nil, versioning.E(versioning.KindValidation, op, "", err)
	}

	branch, err := m.activeBranch(ctx, op, branchID)
	if err != nil {
		return nil, err
	}
	latest, err := m.Latest(ctx, branch.ID)
	if err != nil {
		return nil, err
	}
	source, err := m.versions.Get(ctx, latest.VersionID)
	if err != nil {
		return nil, err
	}
	content, err := m.versions.GetContent(ctx, latest.VersionID)
	if err != nil {
		return nil, err
	}

	notes := fmt.Sprintf("Promoted from branch '%s' (%s)", branch.Name, latest.BranchVersionNumber)
	var promoted *versioning.Version
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := m.versions.WithTx(tx).Store(ctx, versioning.StoreRequest{
			AssetID:  branch.AssetID,
			FileName: source.FileName,
			Content:  content,
			Author:   actor.UserID,
			Notes:    notes,
		})
		if err != nil {
			return err
		}
		promoted, err = m.lifecycle.WithTx(tx).Transition(ctx, v.ID, versioning.StatusSilver, actor, notes)
		return err
	})
	if err != nil {
		return nil, versioning.WrapStorage(op, err)
	}

	m.logger.Info("branch promoted to silver",
		zap.String("branchId", branch.ID),
		zap.String("branchVersion", latest.BranchVersionNumber),
		zap.String("versionId", promoted.ID),
		zap.String("versionNumber", promoted.VersionNumber))
	m.audit.Record(ctx, audit.Event{
		EventType: audit.EventBranchPromoted,
		Actor:     actor.UserID,
		AssetID:   branch.AssetID,
		VersionID: promoted.ID,
		BranchID:  branch.ID,
		Reason:    notes,
		Metadata:  map[string]string{"versionNumber": promoted.VersionNumber, "branchVersion": latest.BranchVersionNumber},
	})
	return promoted, nil
}

// Compare diffs two versions of the same branch. Both version ids must be
// linked to the branch.
func (m *Manager) Compare(ctx context.Context, branchID, leftVersionID, rightVersionID string) (string, error) {
	const op = "compare branch versions"

	if _, err := m.Get(ctx, branchID); err != nil {
		return "", err
	}
	left, err := m.member(ctx, op, branchID, leftVersionID)
	if err != nil {
		return "", err
	}
	right, err := m.member(ctx, op, branchID, rightVersionID)
	if err != nil {
		return "", err
	}

	leftContent, err := m.versions.GetContent(ctx, left.VersionID)
	if err != nil {
		return "", err
	}
	rightContent, err := m.versions.GetContent(ctx, right.VersionID)
	if err != nil {
		return "", err
	}
	return PositionalDiff(leftContent, rightContent, left.BranchVersionNumber, right.BranchVersionNumber), nil
}

// member returns the branch link for versionID, joined against the
// version table so dangling links are rejected too.
func (m *Manager) member(ctx context.Context, op, branchID, versionID string) (*BranchVersion, error) {
	var bv BranchVersion
	err := m.db.WithContext(ctx).
		Joins("JOIN configuration_versions cv ON cv.id = branch_versions.version_id").
		Where("branch_versions.branch_id = ? AND branch_versions.version_id = ?", branchID, versionID).
		First(&bv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, versioning.Errorf(versioning.KindNotFound, op, "version %s is not part of branch %s", versionID, branchID)
		}
		return nil, versioning.WrapStorage(op, err)
	}
	return &bv, nil
}

// Get returns a branch by id, active or not.
func (m *Manager) Get(ctx context.Context, branchID string) (*Branch, error) {
	const op = "get branch"
	var b Branch
	if err := m.db.WithContext(ctx).Where("id = ?", branchID).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, versioning.Errorf(versioning.KindNotFound, op, "branch %s", branchID)
		}
		return nil, versioning.WrapStorage(op, err)
	}
	return &b, nil
}

// List returns an asset's branches ordered by name.
func (m *Manager) List(ctx context.Context, assetID string, includeInactive bool) ([]Branch, error) {
	query := m.db.WithContext(ctx).Where("asset_id = ?", assetID)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}
	var branches []Branch
	if err := query.Order("name ASC").Find(&branches).Error; err != nil {
		return nil, versioning.WrapStorage("list branches", err)
	}
	return branches, nil
}

// Versions returns a branch's versions, newest first.
func (m *Manager) Versions(ctx context.Context, branchID string) ([]BranchVersion, error) {
	if _, err := m.Get(ctx, branchID); err != nil {
		return nil, err
	}
	var out []BranchVersion
	if err := m.db.WithContext(ctx).Where("branch_id = ?", branchID).Find(&out).Error; err != nil {
		return nil, versioning.WrapStorage("list branch versions", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return branchNumber(out[i].BranchVersionNumber) > branchNumber(out[j].BranchVersionNumber)
	})
	return out, nil
}

// Latest returns the branch version flagged as latest.
func (m *Manager) Latest(ctx context.Context, branchID string) (*BranchVersion, error) {
	const op = "latest branch version"
	var bv BranchVersion
	err := m.db.WithContext(ctx).Where("branch_id = ? AND is_latest = ?", branchID, true).First(&bv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, versioning.Errorf(versioning.KindNotFound, op, "branch %s has no versions", branchID)
		}
		return nil, versioning.WrapStorage(op, err)
	}
	return &bv, nil
}

// Delete soft-deletes a branch. Only its creator or an administrator may
// delete it. Its versions stay in the version store.
func (m *Manager) Delete(ctx context.Context, branchID string, actor authz.Principal) error {
	const op = "delete branch"
	if err := actor.Validate(); err != nil {
		return versioning.E(versioning.KindValidation, op, "", err)
	}
	branch, err := m.activeBranch(ctx, op, branchID)
	if err != nil {
		return err
	}
	if branch.CreatedBy != actor.UserID && !actor.IsAdministrator() {
		return versioning.Errorf(versioning.KindPermissionDenied, op, "only the creator or an administrator can delete branch %q", branch.Name)
	}

	res := m.db.WithContext(ctx).Model(&Branch{}).
		Where("id = ? AND is_active = ?", branch.ID, true).
		Update("is_active", false)
	if res.Error != nil {
		return versioning.WrapStorage(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return versioning.Errorf(versioning.KindNotFound, op, "branch %s", branchID)
	}

	m.logger.Info("branch deleted", zap.String("branchId", branch.ID), zap.String("actor", actor.UserID))
	m.audit.Record(ctx, audit.Event{
		EventType: audit.EventBranchDeleted,
		Actor:     actor.UserID,
		AssetID:   branch.AssetID,
		BranchID:  branch.ID,
		Metadata:  map[string]string{"name": branch.Name},
	})
	return nil
}

func (m *Manager) activeBranch(ctx context.Context, op, branchID string) (*Branch, error) {
	b, err := m.Get(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if !b.IsActive {
		return nil, versioning.Errorf(versioning.KindNotFound, op, "branch %q is deleted", b.Name)
	}
	return b, nil
}

func (m *Manager) parentFileName(ctx context.Context, b *Branch) string {
	parent, err := m.versions.Get(ctx, b.ParentVersionID)
	if err != nil {
		m.logger.Debug("parent version unavailable, using default file name",
			zap.String("branchId", b.ID), zap.Error(err))
		return defaultFileName
	}
	return parent.FileName
}

func validateName(op, raw string) (string, error) {
	name := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(name)
	if n < minNameLength || n > maxNameLength {
		return "", versioning.Errorf(versioning.KindValidation, op, "branch name must be %d-%d characters", minNameLength, maxNameLength)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return "", versioning.Errorf(versioning.KindValidation, op, "branch name must not contain '/', '\\' or NUL")
	}
	return name, nil
}

func branchNumber(s string) int {
	var n int
	if _, err := fmt.Sscanf(strings.TrimPrefix(s, versioning.BranchPrefix), "%d", &n); err != nil {
		return 0
	}
	return n
}
