// Package assets is the hierarchical registry of folders and devices that
// configuration versions are attached to.
package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assetforge/cfgvault/pkg/db"
)

var (
	// ErrNotFound is returned when an asset does not exist.
	ErrNotFound = errors.New("asset not found")
	// ErrInvalid is returned for malformed asset input.
	ErrInvalid = errors.New("invalid asset")
	// ErrDuplicate is returned when a sibling with the same name exists.
	ErrDuplicate = errors.New("duplicate asset name")
)

const maxNameLength = 255

// Store provides CRUD operations for the asset tree.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// AutoMigrate creates or updates the assets table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Asset{}); err != nil {
		return fmt.Errorf("auto-migrate assets: %w", err)
	}
	return nil
}

// Create inserts a new asset. The parent, when given, must exist and be a folder.
func (s *Store) Create(ctx context.Context, a *Asset) (*Asset, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" || len(a.Name) > maxNameLength {
		return nil, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalid, maxNameLength)
	}
	if !a.AssetType.Valid() {
		return nil, fmt.Errorf("%w: unknown asset type %q", ErrInvalid, a.AssetType)
	}
	if strings.TrimSpace(a.CreatedBy) == "" {
		return nil, fmt.Errorf("%w: created_by is required", ErrInvalid)
	}
	if a.ParentID != nil && *a.ParentID == "" {
		a.ParentID = nil
	}
	if a.ParentID != nil {
		parent, err := s.Get(ctx, *a.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.AssetType != TypeFolder {
			return nil, fmt.Errorf("%w: parent %s is a %s, only folders can have children", ErrInvalid, parent.ID, parent.AssetType)
		}
	}
	if a.ParentID == nil {
		// NULL parents never collide in the unique index.
		var n int64
		if err := s.db.WithContext(ctx).Model(&Asset{}).
			Where("parent_id IS NULL AND name = ?", a.Name).
			Count(&n).Error; err != nil {
			return nil, fmt.Errorf("check root asset name: %w", err)
		}
		if n > 0 {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, a.Name)
		}
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, a.Name)
		}
		return nil, fmt.Errorf("create asset: %w", err)
	}
	return a, nil
}

// Get retrieves an asset by id.
func (s *Store) Get(ctx context.Context, id string) (*Asset, error) {
	var a Asset
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &a, nil
}

// Exists returns the type of the asset, or ErrNotFound.
func (s *Store) Exists(ctx context.Context, id string) (AssetType, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return a.AssetType, nil
}

// Children lists the direct children of parentID ordered by sort order and
// name. An empty parentID lists the roots.
func (s *Store) Children(ctx context.Context, parentID string) ([]Asset, error) {
	query := s.db.WithContext(ctx).Order("sort_order ASC, name ASC")
	if parentID == "" {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", parentID)
	}
	var out []Asset
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return out, nil
}

// Path returns the slash-joined names from the root down to id.
func (s *Store) Path(ctx context.Context, id string) (string, error) {
	var names []string
	seen := make(map[string]bool)
	cur := id
	for cur != "" {
		if seen[cur] {
			return "", fmt.Errorf("asset tree cycle at %s", cur)
		}
		seen[cur] = true
		a, err := s.Get(ctx, cur)
		if err != nil {
			return "", err
		}
		names = append(names, a.Name)
		cur = ""
		if a.ParentID != nil {
			cur = *a.ParentID
		}
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return "/" + strings.Join(names, "/"), nil
}
