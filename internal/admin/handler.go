package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"livecast/internal/directory"
	"livecast/internal/engine"
	"livecast/internal/hub"
	"livecast/internal/store"
	"livecast/pkg/log"
)

// Handler serves the diagnostics surface: health, pool stats, and the room
// listing.
type Handler struct {
	pool       *engine.Pool
	hub        *hub.Hub
	membership *store.Membership
	directory  directory.Directory
}

func NewHandler(pool *engine.Pool, h *hub.Hub, membership *store.Membership, dir directory.Directory) *Handler {
	return &Handler{
		pool:       pool,
		hub:        h,
		membership: membership,
		directory:  dir,
	}
}

// Router builds the admin gin engine.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), log.GinMiddleware(log.L()))

	r.GET("/healthz", h.Health)
	r.GET("/stats", h.Stats)
	r.GET("/rooms", h.Rooms)
	r.GET("/broadcasts", h.LiveBroadcasts)
	return r
}

// LiveBroadcasts lists the directory entries currently marked live.
func (h *Handler) LiveBroadcasts(c *gin.Context) {
	ctx := c.Request.Context()
	live, err := h.directory.FindLive(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list live broadcasts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list broadcasts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": live})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stats reports engine pool occupancy and connection counts.
func (h *Handler) Stats(c *gin.Context) {
	stats := h.pool.Stats()
	c.JSON(http.StatusOK, gin.H{
		"engine":      stats,
		"connections": h.hub.ClientCount(),
	})
}

type roomView struct {
	RoomID      string `json:"room_id"`
	OwnerID     string `json:"owner_id"`
	Live        bool   `json:"live"`
	ViewerCount int    `json:"viewer_count"`
	MaxViewers  int    `json:"max_viewers"`
}

// Rooms lists the rooms with active membership records.
func (h *Handler) Rooms(c *gin.Context) {
	ctx := c.Request.Context()

	ids, err := h.membership.ActiveRooms(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}

	out := make([]roomView, 0, len(ids))
	for _, id := range ids {
		view, err := h.roomView(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (h *Handler) roomView(ctx context.Context, roomID string) (roomView, error) {
	record, err := h.membership.GetRoom(ctx, roomID)
	if err != nil {
		return roomView{}, err
	}
	count, err := h.membership.ViewerCount(ctx, roomID)
	if err != nil {
		return roomView{}, err
	}
	return roomView{
		RoomID:      roomID,
		OwnerID:     record.OwnerID,
		Live:        record.Live,
		ViewerCount: count,
		MaxViewers:  record.MaxViewers,
	}, nil
}
