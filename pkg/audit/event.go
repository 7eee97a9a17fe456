// Package audit records what happened to versions and branches. Recording
// is fire-and-forget: a failure to record never fails the operation that
// produced the event.
package audit

import (
	"context"
	"sync"
	"time"
)

// Event types emitted by the engine.
const (
	EventAssetCreated        = "asset.created"
	EventVersionCreated      = "version.created"
	EventVersionTransitioned = "version.transitioned"
	EventVersionPromoted     = "version.promoted"
	EventVersionArchived     = "version.archived"
	EventVersionRestored     = "version.restored"
	EventBranchCreated       = "branch.created"
	EventBranchImported      = "branch.imported"
	EventBranchPromoted      = "branch.promoted"
	EventBranchDeleted       = "branch.deleted"
	EventVersionExported     = "version.exported"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Event is one audit occurrence.
type Event struct {
	ID        string            `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	EventType string            `gorm:"column:event_type;index:idx_audit_type_time,priority:1;not null" json:"eventType"`
	Actor     string            `gorm:"column:actor;not null" json:"actor"`
	AssetID   string            `gorm:"column:asset_id;index:idx_audit_asset_time,priority:1" json:"assetId,omitempty"`
	VersionID string            `gorm:"column:version_id" json:"versionId,omitempty"`
	BranchID  string            `gorm:"column:branch_id" json:"branchId,omitempty"`
	Outcome   string            `gorm:"column:outcome;not null" json:"outcome"`
	Reason    string            `gorm:"column:reason" json:"reason,omitempty"`
	Metadata  map[string]string `gorm:"column:metadata;type:text;serializer:json" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"column:created_at;index:idx_audit_type_time,priority:2;index:idx_audit_asset_time,priority:2" json:"createdAt"`
}

// TableName returns the GORM table name.
func (Event) TableName() string { return "audit_events" }

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// Nop discards every event.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, Event) {}

// Recorder collects events in memory. Useful in tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

// Record implements Sink.
func (r *Recorder) Record(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, event)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.EventType)
	}
	return out
}
