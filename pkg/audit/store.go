package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultPageSize and MaxPageSize bound ListByAsset.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Store is an append-only, gorm-backed Sink.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a new Store. A nil logger discards recording failures.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// AutoMigrate creates the audit_events table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Event{})
}

// Record appends event. Errors are logged and swallowed.
func (s *Store) Record(ctx context.Context, event Event) {
	if err := s.Append(ctx, &event); err != nil {
		s.logger.Warn("failed to record audit event",
			zap.String("eventType", event.EventType),
			zap.String("versionId", event.VersionID),
			zap.Error(err))
	}
}

// Append creates a new immutable audit event record.
func (s *Store) Append(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListByAsset returns paginated audit events for an asset, newest first.
// pageToken is an RFC3339Nano timestamp; events created strictly before it
// are returned.
func (s *Store) ListByAsset(ctx context.Context, assetID string, pageSize int, pageToken string) ([]Event, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	query := s.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("created_at DESC").
		Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []Event
	if err := query.Find(&records).Error; err != nil {
		return nil, "", fmt.Errorf("list audit events by asset: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, nextToken, nil
}

// DeleteOlderThan deletes audit events created before cutoff and returns
// the number of deleted records.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Event{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Prune applies a retention window of retentionDays. A non-positive
// retention disables pruning.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		s.logger.Info("audit retention disabled", zap.Int("retentionDays", retentionDays))
		return 0, nil
	}
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	deleted, err := s.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("audit retention cleanup failed", zap.Error(err))
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("audit retention cleanup completed",
			zap.Int64("deleted", deleted),
			zap.String("cutoff", cutoff.Format(time.RFC3339)))
	}
	return deleted, nil
}
