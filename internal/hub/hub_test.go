package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"livecast/internal/config"
	"livecast/internal/domain"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 65536,
	})
	go h.Run()
	return h
}

func newClient(h *Hub, id string) *Client {
	return &Client{
		ID:      id,
		Hub:     h,
		Send:    make(chan []byte, 16),
		Session: domain.NewSession(id, "user-"+id, id),
	}
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ClientCount() == n
	}, time.Second, 5*time.Millisecond)
}

func recv(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-c.Send:
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestRoomFanout(t *testing.T) {
	h := newTestHub(t)
	a, b, outside := newClient(h, "a"), newClient(h, "b"), newClient(h, "c")
	h.Register(a)
	h.Register(b)
	h.Register(outside)
	waitForClients(t, h, 3)

	h.JoinRoom(a, "room-1")
	h.JoinRoom(b, "room-1")

	require.NoError(t, h.BroadcastToRoom("room-1", map[string]string{"type": "hello"}, a.ID))

	msg := recv(t, b)
	require.Equal(t, "hello", msg["type"])

	// The sender is excluded and outsiders never see room traffic.
	require.Empty(t, a.Send)
	require.Empty(t, outside.Send)
}

func TestRoomsOfTracksMembership(t *testing.T) {
	h := newTestHub(t)
	a := newClient(h, "a")
	h.Register(a)
	waitForClients(t, h, 1)

	h.JoinRoom(a, "room-1")
	h.JoinRoom(a, "room-2")
	require.ElementsMatch(t, []string{"room-1", "room-2"}, h.RoomsOf(a.ID))
	require.Equal(t, 1, h.LocalRoomSize("room-1"))

	h.LeaveRoom(a, "room-1")
	require.ElementsMatch(t, []string{"room-2"}, h.RoomsOf(a.ID))
	require.Zero(t, h.LocalRoomSize("room-1"))
}

func TestUnregisterClearsRooms(t *testing.T) {
	h := newTestHub(t)
	a := newClient(h, "a")
	h.Register(a)
	waitForClients(t, h, 1)
	h.JoinRoom(a, "room-1")

	h.Unregister(a)
	waitForClients(t, h, 0)
	require.Zero(t, h.LocalRoomSize("room-1"))

	// Messages to a departed client are dropped, not an error.
	require.NoError(t, h.SendToClient(a.ID, map[string]string{"type": "late"}))
}

func TestSendToClient(t *testing.T) {
	h := newTestHub(t)
	a := newClient(h, "a")
	h.Register(a)
	waitForClients(t, h, 1)

	require.NoError(t, h.SendToClient(a.ID, map[string]string{"type": "direct"}))
	require.Equal(t, "direct", recv(t, a)["type"])
}

func TestBroadcasterForRoom(t *testing.T) {
	h := newTestHub(t)
	a, b := newClient(h, "a"), newClient(h, "b")
	h.Register(a)
	h.Register(b)
	waitForClients(t, h, 2)
	h.JoinRoom(a, "room-1")
	h.JoinRoom(b, "room-1")

	require.Nil(t, h.BroadcasterForRoom("room-1"))

	b.Session.MarkBroadcasting("room-1")
	got := h.BroadcasterForRoom("room-1")
	require.NotNil(t, got)
	require.Equal(t, b.ID, got.ID)
}
