package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"livecast/internal/config"
	"livecast/internal/directory"
	"livecast/internal/engine"
	"livecast/internal/hub"
	"livecast/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *store.Membership, *directory.GormDirectory) {
	t.Helper()

	pool, err := engine.NewPool(engine.Config{
		WorkerCount:   1,
		ListenIP:      "127.0.0.1",
		RTCMinPort:    40000,
		RTCMaxPort:    40999,
		OnWorkerDeath: func(int, error) {},
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db, err := gorm.Open(sqlite.Open("file:admin?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	dir, err := directory.NewGormDirectory(db)
	require.NoError(t, err)
	t.Cleanup(func() { db.Exec("DELETE FROM broadcasts") })

	h := hub.NewHub(config.WebSocketConfig{PingInterval: 30 * time.Second, PongWait: 60 * time.Second, WriteWait: 10 * time.Second})
	membership := store.NewMembership(store.NewMemoryKV(), time.Hour)
	return NewHandler(pool, h, membership, dir), membership, dir
}

func get(t *testing.T, handler *Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	handler.Router().ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)
	code, body := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestStats(t *testing.T) {
	h, _, _ := newTestHandler(t)
	code, body := get(t, h, "/stats")
	require.Equal(t, http.StatusOK, code)
	engineStats := body["engine"].(map[string]interface{})
	require.EqualValues(t, 1, engineStats["workers"])
	require.EqualValues(t, 0, body["connections"])
}

func TestRoomsListing(t *testing.T) {
	ctx := context.Background()
	h, membership, _ := newTestHandler(t)

	require.NoError(t, membership.CreateRoom(ctx, "room-1", "owner", 5))
	require.NoError(t, membership.SetLive(ctx, "room-1", "owner"))
	_, err := membership.JoinRoom(ctx, "room-1", "viewer-1", "conn-1")
	require.NoError(t, err)

	// A room that never went live stays off the listing.
	require.NoError(t, membership.CreateRoom(ctx, "room-2", "owner", 5))

	code, body := get(t, h, "/rooms")
	require.Equal(t, http.StatusOK, code)
	rooms := body["rooms"].([]interface{})
	require.Len(t, rooms, 1)
	view := rooms[0].(map[string]interface{})
	require.Equal(t, "room-1", view["room_id"])
	require.EqualValues(t, 1, view["viewer_count"])
	require.EqualValues(t, 5, view["max_viewers"])
}

func TestLiveBroadcastsListing(t *testing.T) {
	ctx := context.Background()
	h, _, dir := newTestHandler(t)

	require.NoError(t, dir.Create(ctx, &directory.Broadcast{RoomID: "room-x", OwnerID: "owner"}))
	require.NoError(t, dir.SetLive(ctx, "room-x"))

	code, body := get(t, h, "/broadcasts")
	require.Equal(t, http.StatusOK, code)
	broadcasts := body["broadcasts"].([]interface{})
	require.Len(t, broadcasts, 1)
}
