package branching

import "time"

// Branch is an isolated, independently numbered line of configuration
// versions rooted at a main-line version. Branches are soft-deleted.
type Branch struct {
	ID                  string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Name                string    `gorm:"column:name;type:varchar(255);uniqueIndex:idx_branch_asset_name,priority:2;not null" json:"name"`
	Description         *string   `gorm:"column:description;type:varchar(500)" json:"description,omitempty"`
	AssetID             string    `gorm:"column:asset_id;type:varchar(36);uniqueIndex:idx_branch_asset_name,priority:1;not null" json:"assetId"`
	ParentVersionID     string    `gorm:"column:parent_version_id;type:varchar(36);not null" json:"parentVersionId"`
	CreatedBy           string    `gorm:"column:created_by;not null" json:"createdBy"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
	IsActive            bool      `gorm:"column:is_active;index;not null" json:"isActive"`
	LatestVersionID     *string   `gorm:"column:latest_version_id;type:varchar(36)" json:"latestVersionId,omitempty"`
	LatestBranchVersion *string   `gorm:"column:latest_branch_version;type:varchar(32)" json:"latestBranchVersion,omitempty"`
}

// TableName returns the GORM table name.
func (Branch) TableName() string { return "branches" }

// BranchVersion links a stored configuration version into a branch.
// Exactly one row per branch has IsLatest set.
type BranchVersion struct {
	ID                  string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	BranchID            string    `gorm:"column:branch_id;type:varchar(36);uniqueIndex:idx_bv_branch_version,priority:1;uniqueIndex:idx_bv_branch_number,priority:1;not null" json:"branchId"`
	VersionID           string    `gorm:"column:version_id;type:varchar(36);uniqueIndex:idx_bv_branch_version,priority:2;not null" json:"versionId"`
	BranchVersionNumber string    `gorm:"column:branch_version_number;type:varchar(32);uniqueIndex:idx_bv_branch_number,priority:2;not null" json:"branchVersionNumber"`
	IsLatest            bool      `gorm:"column:is_latest;not null" json:"isLatest"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (BranchVersion) TableName() string { return "branch_versions" }

// CreateRequest is the input to Manager.Create.
type CreateRequest struct {
	Name            string
	Description     string
	AssetID         string
	ParentVersionID string
	CreatedBy       string
}

// ImportRequest is the input to Manager.Import. An empty FileName reuses
// the branch parent's file name.
type ImportRequest struct {
	BranchID string
	Content  []byte
	FileName string
	Notes    string
	Author   string
}
