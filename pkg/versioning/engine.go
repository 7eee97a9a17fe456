package versioning

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/assetforge/cfgvault/pkg/audit"
	"github.com/assetforge/cfgvault/pkg/authz"
)

// AutoArchiveReason is recorded on the history row of a Golden version that
// was displaced by a newer promotion.
const AutoArchiveReason = "Automatically archived due to new Golden promotion"

// Lifecycle moves versions through the status state machine. Every status
// change writes exactly one history row in the same transaction.
type Lifecycle struct {
	db  *gorm.DB
	now func() time.Time
	options
}

// NewLifecycle creates a new Lifecycle.
func NewLifecycle(gormDB *gorm.DB, opts ...Option) *Lifecycle {
	return &Lifecycle{db: gormDB, now: time.Now, options: buildOptions(opts)}
}

// WithTx returns a Lifecycle bound to an open transaction. A bound
// Lifecycle does not emit audit events.
func (l *Lifecycle) WithTx(tx *gorm.DB) *Lifecycle {
	cp := *l
	cp.db = tx
	cp.audit = audit.Nop{}
	return &cp
}

// Transition moves a version to status to through the generic path.
// Golden is never reachable here; see PromoteToGolden.
func (l *Lifecycle) Transition(ctx context.Context, versionID string, to Status, actor authz.Principal, reason string) (*Version, error) {
	const op = "transition"
	if err := actor.Validate(); err != nil {
		return nil, E(KindValidation, op, "", err)
	}

	var (
		v    *Version
		from Status
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		v, err = getVersion(tx, op, versionID)
		if err != nil {
			return err
		}
		from = v.Status
		if err := checkTransition(op, actor.Role, from, to); err != nil {
			return err
		}
		return l.applyStatus(tx, op, v, to, actor.UserID, reason)
	})
	if err != nil {
		l.logDenied(op, versionID, actor, err)
		return nil, WrapStorage(op, err)
	}

	l.logger.Info("version status changed",
		zap.String("versionId", v.ID),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("actor", actor.UserID))
	l.audit.Record(ctx, transitionEvent(v, from, actor.UserID, reason))
	return v, nil
}

// PromoteToGolden makes an Approved version the asset's single Golden
// version, archiving whatever was Golden before. Administrator only. The
// whole promotion commits or nothing does.
func (l *Lifecycle) PromoteToGolden(ctx context.Context, versionID string, actor authz.Principal, reason string) (*Version, error) {
	const op = "promote to golden"
	if err := actor.Validate(); err != nil {
		return nil, E(KindValidation, op, "", err)
	}

	var (
		v        *Version
		archived []Version
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		v, err = getVersion(tx, op, versionID)
		if err != nil {
			return err
		}
		if !actor.IsAdministrator() {
			return Errorf(KindPermissionDenied, op, "only administrators can promote to Golden")
		}
		if v.Status != StatusApproved {
			return Errorf(KindConflict, op, "version %s is %s, only Approved versions can be promoted", v.VersionNumber, v.Status)
		}

		var previous []Version
		if err := tx.Where("asset_id = ? AND status = ? AND id <> ?", v.AssetID, StatusGolden, v.ID).
			Find(&previous).Error; err != nil {
			return err
		}
		for i := range previous {
			if err := l.applyStatus(tx, op, &previous[i], StatusArchived, actor.UserID, AutoArchiveReason); err != nil {
				return err
			}
		}
		archived = previous

		return l.applyStatus(tx, op, v, StatusGolden, actor.UserID, reason)
	})
	if err != nil {
		l.logDenied(op, versionID, actor, err)
		return nil, WrapStorage(op, err)
	}

	for i := range archived {
		l.logger.Info("previous golden version archived",
			zap.String("versionId", archived[i].ID),
			zap.String("versionNumber", archived[i].VersionNumber))
		l.audit.Record(ctx, audit.Event{
			EventType: audit.EventVersionArchived,
			Actor:     actor.UserID,
			AssetID:   archived[i].AssetID,
			VersionID: archived[i].ID,
			Reason:    AutoArchiveReason,
			Metadata:  map[string]string{"from": StatusGolden.String(), "supersededBy": v.ID},
		})
	}
	l.logger.Info("version promoted to golden",
		zap.String("versionId", v.ID),
		zap.String("versionNumber", v.VersionNumber),
		zap.String("actor", actor.UserID),
		zap.Int("archived", len(archived)))
	l.audit.Record(ctx, audit.Event{
		EventType: audit.EventVersionPromoted,
		Actor:     actor.UserID,
		AssetID:   v.AssetID,
		VersionID: v.ID,
		Reason:    reason,
		Metadata:  map[string]string{"versionNumber": v.VersionNumber},
	})
	return v, nil
}

// CanPromote reports whether a version is eligible for Golden promotion.
func (l *Lifecycle) CanPromote(ctx context.Context, versionID string) (bool, error) {
	v, err := getVersion(l.db.WithContext(ctx), "can promote", versionID)
	if err != nil {
		return false, err
	}
	return v.Status == StatusApproved, nil
}

// Archive moves a version to Archived through the generic path.
func (l *Lifecycle) Archive(ctx context.Context, versionID string, actor authz.Principal, reason string) (*Version, error) {
	return l.Transition(ctx, versionID, StatusArchived, actor, reason)
}

// Restore brings an Archived version back to Draft. It is the only way out
// of Archived and is limited to administrators.
func (l *Lifecycle) Restore(ctx context.Context, versionID string, actor authz.Principal, reason string) (*Version, error) {
	const op = "restore"
	if err := actor.Validate(); err != nil {
		return nil, E(KindValidation, op, "", err)
	}

	var v *Version
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		v, err = getVersion(tx, op, versionID)
		if err != nil {
			return err
		}
		if !actor.IsAdministrator() {
			return Errorf(KindPermissionDenied, op, "only administrators can restore archived versions")
		}
		if v.Status != StatusArchived {
			return Errorf(KindConflict, op, "version %s is %s, not Archived", v.VersionNumber, v.Status)
		}
		return l.applyStatus(tx, op, v, StatusDraft, actor.UserID, reason)
	})
	if err != nil {
		l.logDenied(op, versionID, actor, err)
		return nil, WrapStorage(op, err)
	}

	l.logger.Info("archived version restored",
		zap.String("versionId", v.ID),
		zap.String("actor", actor.UserID))
	l.audit.Record(ctx, audit.Event{
		EventType: audit.EventVersionRestored,
		Actor:     actor.UserID,
		AssetID:   v.AssetID,
		VersionID: v.ID,
		Reason:    reason,
	})
	return v, nil
}

// History returns a version's status changes, oldest first.
func (l *Lifecycle) History(ctx context.Context, versionID string) ([]StatusChange, error) {
	const op = "history"
	if _, err := getVersion(l.db.WithContext(ctx), op, versionID); err != nil {
		return nil, err
	}
	var changes []StatusChange
	if err := l.db.WithContext(ctx).
		Where("version_id = ?", versionID).
		Order("created_at ASC").
		Find(&changes).Error; err != nil {
		return nil, WrapStorage(op, err)
	}
	return changes, nil
}

// applyStatus updates the status columns of v and appends one history row.
// The update is guarded on the old status so a concurrent change surfaces
// as a conflict instead of being overwritten. Author is never touched.
func (l *Lifecycle) applyStatus(tx *gorm.DB, op string, v *Version, to Status, by, reason string) error {
	from := v.Status
	now := l.now().UTC()

	res := tx.Model(&Version{}).
		Where("id = ? AND status = ?", v.ID, from).
		Select("status", "status_changed_by", "status_changed_at").
		Updates(map[string]any{
			"status":            to,
			"status_changed_by": by,
			"status_changed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return Errorf(KindConflict, op, "version %s changed status concurrently", v.ID)
	}

	change := &StatusChange{
		ID:        uuid.New().String(),
		VersionID: v.ID,
		OldStatus: &from,
		NewStatus: to,
		ChangedBy: by,
		CreatedAt: now,
	}
	if r := strings.TrimSpace(reason); r != "" {
		change.Reason = &r
	}
	if err := tx.Create(change).Error; err != nil {
		return err
	}

	v.Status = to
	v.StatusChangedBy = &by
	v.StatusChangedAt = &now
	return nil
}

func (l *Lifecycle) logDenied(op, versionID string, actor authz.Principal, err error) {
	switch KindOf(err) {
	case KindPermissionDenied, KindConflict, KindValidation:
		l.logger.Warn("status change rejected",
			zap.String("op", op),
			zap.String("versionId", versionID),
			zap.String("actor", actor.UserID),
			zap.String("role", actor.Role.String()),
			zap.Error(err))
	}
}

func transitionEvent(v *Version, from Status, actor, reason string) audit.Event {
	eventType := audit.EventVersionTransitioned
	if v.Status == StatusArchived {
		eventType = audit.EventVersionArchived
	}
	return audit.Event{
		EventType: eventType,
		Actor:     actor,
		AssetID:   v.AssetID,
		VersionID: v.ID,
		Reason:    reason,
		Metadata:  map[string]string{"from": from.String(), "to": v.Status.String()},
	}
}
