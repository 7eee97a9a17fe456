package assets

import "time"

// AssetType distinguishes container nodes from leaf devices.
type AssetType string

const (
	TypeFolder AssetType = "Folder"
	TypeDevice AssetType = "Device"
)

// Valid reports whether t is a known asset type.
func (t AssetType) Valid() bool { return t == TypeFolder || t == TypeDevice }

// Asset is a node in the asset tree. Folders may have children; devices
// (PLCs, drives, HMIs) are leaves.
type Asset struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Name        string    `gorm:"column:name;uniqueIndex:idx_asset_parent_name,priority:2;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	AssetType   AssetType `gorm:"column:asset_type;type:varchar(16);not null" json:"assetType"`
	ParentID    *string   `gorm:"column:parent_id;type:varchar(36);uniqueIndex:idx_asset_parent_name,priority:1;index" json:"parentId,omitempty"`
	SortOrder   int       `gorm:"column:sort_order;default:0;not null" json:"sortOrder"`
	CreatedBy   string    `gorm:"column:created_by;not null" json:"createdBy"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (Asset) TableName() string { return "assets" }
