package versioning

import (
	"time"

	"github.com/assetforge/cfgvault/pkg/codec"
)

// Version is one stored configuration file revision of an asset.
// Author is immutable after creation: the content key is derived from it.
type Version struct {
	ID              string            `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	AssetID         string            `gorm:"column:asset_id;type:varchar(36);uniqueIndex:idx_cv_asset_number,priority:1;index:idx_cv_asset_status,priority:1;not null" json:"assetId"`
	VersionNumber   string            `gorm:"column:version_number;type:varchar(32);uniqueIndex:idx_cv_asset_number,priority:2;not null" json:"versionNumber"`
	FileName        string            `gorm:"column:file_name;not null" json:"fileName"`
	EncryptedBlob   []byte            `gorm:"column:file_content;not null" json:"-"`
	PlaintextSize   int64             `gorm:"column:file_size;not null" json:"size"`
	ContentHash     string            `gorm:"column:content_hash;type:varchar(64);not null" json:"contentHash"`
	Compression     codec.Compression `gorm:"column:compression;type:varchar(8);default:none;not null" json:"compression"`
	Author          string            `gorm:"column:author;not null" json:"author"`
	Notes           string            `gorm:"column:notes" json:"notes,omitempty"`
	Status          Status            `gorm:"column:status;type:varchar(16);index:idx_cv_asset_status,priority:2;default:Draft;not null" json:"status"`
	StatusChangedBy *string           `gorm:"column:status_changed_by" json:"statusChangedBy,omitempty"`
	StatusChangedAt *time.Time        `gorm:"column:status_changed_at" json:"statusChangedAt,omitempty"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (Version) TableName() string { return "configuration_versions" }

// StatusChange is an append-only record of one status transition.
type StatusChange struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	VersionID string    `gorm:"column:version_id;type:varchar(36);index;not null" json:"versionId"`
	OldStatus *Status   `gorm:"column:old_status;type:varchar(16)" json:"oldStatus,omitempty"`
	NewStatus Status    `gorm:"column:new_status;type:varchar(16);not null" json:"newStatus"`
	ChangedBy string    `gorm:"column:changed_by;not null" json:"changedBy"`
	Reason    *string   `gorm:"column:change_reason" json:"reason,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (StatusChange) TableName() string { return "configuration_status_history" }

// StoreRequest is the input to Store.
type StoreRequest struct {
	AssetID  string
	FileName string
	Content  []byte
	Author   string
	Notes    string
}
