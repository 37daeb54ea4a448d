package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMembership(t *testing.T) *Membership {
	t.Helper()
	return NewMembership(NewMemoryKV(), time.Hour)
}

func TestJoinUnknownRoom(t *testing.T) {
	m := newTestMembership(t)

	_, err := m.JoinRoom(context.Background(), "missing", "user-1", "conn-1")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinAndLeave(t *testing.T) {
	ctx := context.Background()
	m := newTestMembership(t)

	require.NoError(t, m.CreateRoom(ctx, "room-1", "owner", 10))

	count, err := m.JoinRoom(ctx, "room-1", "viewer-1", "conn-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = m.JoinRoom(ctx, "room-1", "viewer-2", "conn-2")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Rejoining on the same connection does not double-count.
	count, err = m.JoinRoom(ctx, "room-1", "viewer-2", "conn-2")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = m.LeaveRoom(ctx, "room-1", "viewer-1", "conn-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// Leaving when not present is a no-op.
	count, err = m.LeaveRoom(ctx, "room-1", "viewer-1", "conn-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSameUserTwoConnections(t *testing.T) {
	ctx := context.Background()
	m := newTestMembership(t)

	require.NoError(t, m.CreateRoom(ctx, "room-1", "owner", 10))

	// The same user watching from two devices counts as two viewers.
	count, err := m.JoinRoom(ctx, "room-1", "viewer-1", "conn-a")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = m.JoinRoom(ctx, "room-1", "viewer-1", "conn-b")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Dropping one connection leaves the other counted.
	count, err = m.LeaveRoom(ctx, "room-1", "viewer-1", "conn-a")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	members, err := m.Viewers(ctx, "room-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"viewer-1:conn-b"}, members)
}

func TestJoinRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	m := newTestMembership(t)

	require.NoError(t, m.CreateRoom(ctx, "room-1", "owner", 2))

	_, err := m.JoinRoom(ctx, "room-1", "viewer-1", "conn-1")
	require.NoError(t, err)
	_, err = m.JoinRoom(ctx, "room-1", "viewer-2", "conn-2")
	require.NoError(t, err)

	count, err := m.JoinRoom(ctx, "room-1", "viewer-3", "conn-3")
	require.ErrorIs(t, err, ErrRoomFull)
	require.Equal(t, 2, count)

	// A slot freed by a leave admits the waiting viewer.
	_, err = m.LeaveRoom(ctx, "room-1", "viewer-1", "conn-1")
	require.NoError(t, err)
	count, err = m.JoinRoom(ctx, "room-1", "viewer-3", "conn-3")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestJoinRaceCanOverfill(t *testing.T) {
	ctx := context.Background()
	m := newTestMembership(t)

	require.NoError(t, m.CreateRoom(ctx, "room-1", "owner", 1))

	// Simulate two joins that both passed the capacity check before either
	// was added: the second SAdd still lands. The overshoot is accepted.
	require.NoError(t, m.kv.SAdd(ctx, viewersKey("room-1"), member("viewer-1", "conn-1")))
	require.NoError(t, m.kv.SAdd(ctx, viewersKey("room-1"), member("viewer-2", "conn-2")))

	count, err := m.ViewerCount(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Further joins through the front door are refused.
	_, err = m.JoinRoom(ctx, "room-1", "viewer-3", "conn-3")
	require.ErrorIs(t, err, ErrRoomFull)
}

func TestUnlimitedCapacity(t *testing.T) {
	ctx := context.Background()
	m := newTestMembership(t)

	require.NoError(t, m.CreateRoom(ctx, "room-1", "owner", 0))
	for i := 0; i < 50; i++ {
		_, err := m.JoinRoom(ctx, "room-1", fmt.Sprintf("viewer-%d", i), fmt.Sprintf("conn-%d", i))
		require.NoError(t, err)
	}
	count, err := m.ViewerCount(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, 50, count)
}

func TestLiveStatus(t *testing.T) {
	ctx := context.Background()
	m := newTestMembership(t)

	require.NoError(t, m.CreateRoom(ctx, "room-1", "owner", 10))

	record, err := m.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	require.False(t, record.Live)
	require.Empty(t, record.StreamerID)

	require.NoError(t, m.SetLive(ctx, "room-1", "owner"))
	record, err = m.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	require.True(t, record.Live)
	require.Equal(t, "owner", record.StreamerID)
}

func TestEndRoom(t *testing.T) {
	ctx := context.Background()
	m := newTestMembership(t)

	require.NoError(t, m.CreateRoom(ctx, "room-1", "owner", 10))
	_, err := m.JoinRoom(ctx, "room-1", "viewer-1", "conn-1")
	require.NoError(t, err)
	require.NoError(t, m.SetLive(ctx, "room-1", "owner"))

	require.NoError(t, m.EndRoom(ctx, "room-1"))

	// The record stays, marked ended, with its viewer set and broadcaster
	// record gone.
	record, err := m.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	require.False(t, record.Live)
	require.Empty(t, record.StreamerID)
	count, err := m.ViewerCount(ctx, "room-1")
	require.NoError(t, err)
	require.Zero(t, count)

	// An ended room admits nobody.
	_, err = m.JoinRoom(ctx, "room-1", "viewer-2", "conn-2")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestActiveRoomsListsOnlyLive(t *testing.T) {
	ctx := context.Background()
	m := newTestMembership(t)

	require.NoError(t, m.CreateRoom(ctx, "room-a", "owner", 10))
	require.NoError(t, m.CreateRoom(ctx, "room-b", "owner", 10))
	require.NoError(t, m.CreateRoom(ctx, "room-c", "owner", 10))
	require.NoError(t, m.SetLive(ctx, "room-a", "owner"))
	require.NoError(t, m.SetLive(ctx, "room-b", "owner"))
	require.NoError(t, m.EndRoom(ctx, "room-b"))

	rooms, err := m.ActiveRooms(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"room-a"}, rooms)
}

func TestRecordTTLExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	m := NewMembership(kv, 10*time.Millisecond)

	require.NoError(t, m.CreateRoom(ctx, "room-1", "owner", 10))
	time.Sleep(20 * time.Millisecond)

	_, err := m.JoinRoom(ctx, "room-1", "viewer-1", "conn-1")
	require.ErrorIs(t, err, ErrRoomNotFound)
}
