package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDirectory(t *testing.T) *GormDirectory {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	d, err := NewGormDirectory(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec("DELETE FROM broadcasts")
	})
	return d
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	b := &Broadcast{RoomID: "room-1", OwnerID: "owner-1", Title: "launch", MaxViewers: 100}
	require.NoError(t, d.Create(ctx, b))
	require.Equal(t, StatusScheduled, b.Status)

	got, err := d.GetByRoomID(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, "owner-1", got.OwnerID)
	require.Equal(t, 100, got.MaxViewers)

	_, err = d.GetByRoomID(ctx, "missing")
	require.ErrorIs(t, err, ErrBroadcastNotFound)
}

func TestLiveTransitions(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	require.NoError(t, d.Create(ctx, &Broadcast{RoomID: "room-1", OwnerID: "owner-1"}))

	require.NoError(t, d.SetLive(ctx, "room-1"))
	got, err := d.GetByRoomID(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, StatusLive, got.Status)
	require.NotNil(t, got.StartedAt)
	require.Nil(t, got.EndedAt)

	live, err := d.FindLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)

	require.NoError(t, d.SetEnded(ctx, "room-1"))
	got, err = d.GetByRoomID(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, StatusEnded, got.Status)
	require.NotNil(t, got.EndedAt)

	live, err = d.FindLive(ctx)
	require.NoError(t, err)
	require.Empty(t, live)

	// Ending an already-ended broadcast is reported.
	require.ErrorIs(t, d.SetEnded(ctx, "room-1"), ErrBroadcastNotFound)
}

func TestSetLiveUnknownRoom(t *testing.T) {
	d := newTestDirectory(t)
	require.ErrorIs(t, d.SetLive(context.Background(), "missing"), ErrBroadcastNotFound)
}
