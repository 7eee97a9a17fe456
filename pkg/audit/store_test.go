package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := NewStore(db, nil)
	require.NoError(t, s.AutoMigrate())
	return s
}

func TestStore_RecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, &Event{
			EventType: EventVersionCreated,
			Actor:     "alice",
			AssetID:   "plc-1",
			VersionID: fmt.Sprintf("ver-%d", i),
			Metadata:  map[string]string{"versionNumber": fmt.Sprintf("v%d", i+1)},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	s.Record(ctx, Event{EventType: EventVersionCreated, Actor: "bob", AssetID: "plc-2"})

	page, next, err := s.ListByAsset(ctx, "plc-1", 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "ver-4", page[0].VersionID)
	assert.Equal(t, "ver-3", page[1].VersionID)
	assert.Equal(t, "v5", page[0].Metadata["versionNumber"])
	assert.Equal(t, OutcomeSuccess, page[0].Outcome)
	require.NotEmpty(t, next)

	rest, next, err := s.ListByAsset(ctx, "plc-1", 10, next)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
	assert.Empty(t, next)

	_, _, err = s.ListByAsset(ctx, "plc-1", 10, "yesterday")
	assert.Error(t, err)
}

func TestStore_Prune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Append(ctx, &Event{EventType: EventVersionCreated, Actor: "a", CreatedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, s.Append(ctx, &Event{EventType: EventVersionCreated, Actor: "a", CreatedAt: now.AddDate(0, 0, -10)}))

	deleted, err := s.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = s.Prune(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Record(context.Background(), Event{EventType: EventVersionPromoted})
	r.Record(context.Background(), Event{EventType: EventVersionArchived})
	assert.Equal(t, []string{EventVersionPromoted, EventVersionArchived}, r.Types())

	Nop{}.Record(context.Background(), Event{})
}
