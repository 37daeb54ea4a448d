package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

// Redis key patterns:
// room:{room_id}      HASH                      - room record (owner_id, max_viewers, created_at, status)
// viewers:{room_id}   SET<user_id:conn_id>      - connections currently watching
// streamer:{room_id}  HASH                      - active broadcaster (user_id, started_at)
//
// All keys carry the record TTL so abandoned rooms expire on their own.

func roomKey(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// member is the composite set entry: the same user watching from two
// connections counts as two viewers, and each connection evicts only itself.
func member(userID, connID string) string {
	return userID + ":" + connID
}

func viewersKey(roomID string) string {
	return fmt.Sprintf("viewers:%s", roomID)
}

func streamerKey(roomID string) string {
	return fmt.Sprintf("streamer:%s", roomID)
}

// RoomRecord is the shared view of a room across gateway instances.
type RoomRecord struct {
	RoomID     string    `json:"room_id"`
	OwnerID    string    `json:"owner_id"`
	MaxViewers int       `json:"max_viewers"`
	CreatedAt  time.Time `json:"created_at"`
	Live       bool      `json:"live"`
	StreamerID string    `json:"streamer_id,omitempty"`
}

// Membership tracks which users are in which rooms, shared across instances.
type Membership struct {
	kv  KV
	ttl time.Duration
}

// NewMembership builds a membership store with the given record TTL.
func NewMembership(kv KV, recordTTL time.Duration) *Membership {
	if recordTTL <= 0 {
		recordTTL = 24 * time.Hour
	}
	return &Membership{kv: kv, ttl: recordTTL}
}

// CreateRoom registers a room record. Idempotent for the same room.
func (m *Membership) CreateRoom(ctx context.Context, roomID, ownerID string, maxViewers int) error {
	key := roomKey(roomID)
	fields := map[string]string{
		"owner_id":    ownerID,
		"max_viewers": strconv.Itoa(maxViewers),
		"created_at":  strconv.FormatInt(time.Now().Unix(), 10),
		"status":      "idle",
	}
	if err := m.kv.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("create room %s: %w", roomID, err)
	}
	return m.kv.Expire(ctx, key, m.ttl)
}

// JoinRoom adds a viewer and returns the resulting viewer count.
//
// The check-then-add is not atomic: two joins racing on the last slot can
// both pass the capacity check and briefly overfill the room by one. The
// count self-corrects on the next leave and the overshoot is bounded by the
// number of gateway instances, so we accept it rather than paying for a
// script on every join.
func (m *Membership) JoinRoom(ctx context.Context, roomID, userID, connID string) (int, error) {
	exists, err := m.kv.Exists(ctx, roomKey(roomID))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrRoomNotFound
	}

	record, err := m.kv.HGetAll(ctx, roomKey(roomID))
	if err != nil {
		return 0, err
	}
	if record["status"] == "ended" {
		return 0, ErrRoomNotFound
	}
	maxViewers, _ := strconv.Atoi(record["max_viewers"])

	count, err := m.kv.SCard(ctx, viewersKey(roomID))
	if err != nil {
		return 0, err
	}
	if maxViewers > 0 && count >= int64(maxViewers) {
		return int(count), ErrRoomFull
	}

	if err := m.kv.SAdd(ctx, viewersKey(roomID), member(userID, connID)); err != nil {
		return 0, err
	}
	if err := m.kv.Expire(ctx, viewersKey(roomID), m.ttl); err != nil {
		return 0, err
	}

	newCount, err := m.kv.SCard(ctx, viewersKey(roomID))
	if err != nil {
		return 0, err
	}
	return int(newCount), nil
}

// LeaveRoom removes one viewer connection. Removing an absent member is a
// no-op, and other connections of the same user stay counted.
func (m *Membership) LeaveRoom(ctx context.Context, roomID, userID, connID string) (int, error) {
	if err := m.kv.SRem(ctx, viewersKey(roomID), member(userID, connID)); err != nil {
		return 0, err
	}
	count, err := m.kv.SCard(ctx, viewersKey(roomID))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// ViewerCount returns the current viewer count for a room.
func (m *Membership) ViewerCount(ctx context.Context, roomID string) (int, error) {
	count, err := m.kv.SCard(ctx, viewersKey(roomID))
	return int(count), err
}

// Viewers returns the current user_id:conn_id members of a room.
func (m *Membership) Viewers(ctx context.Context, roomID string) ([]string, error) {
	return m.kv.SMembers(ctx, viewersKey(roomID))
}

// GetRoom fetches a room record, including live status.
func (m *Membership) GetRoom(ctx context.Context, roomID string) (*RoomRecord, error) {
	record, err := m.kv.HGetAll(ctx, roomKey(roomID))
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, ErrRoomNotFound
	}

	maxViewers, _ := strconv.Atoi(record["max_viewers"])
	createdAt, _ := strconv.ParseInt(record["created_at"], 10, 64)

	out := &RoomRecord{
		RoomID:     roomID,
		OwnerID:    record["owner_id"],
		MaxViewers: maxViewers,
		CreatedAt:  time.Unix(createdAt, 0),
		Live:       record["status"] == "live",
	}

	streamer, err := m.kv.HGetAll(ctx, streamerKey(roomID))
	if err != nil {
		return nil, err
	}
	out.StreamerID = streamer["user_id"]
	return out, nil
}

// SetLive records the active broadcaster and flips the room status.
func (m *Membership) SetLive(ctx context.Context, roomID, streamerID string) error {
	if err := m.kv.HSet(ctx, roomKey(roomID), map[string]string{"status": "live"}); err != nil {
		return err
	}
	fields := map[string]string{
		"user_id":    streamerID,
		"started_at": strconv.FormatInt(time.Now().Unix(), 10),
	}
	if err := m.kv.HSet(ctx, streamerKey(roomID), fields); err != nil {
		return err
	}
	return m.kv.Expire(ctx, streamerKey(roomID), m.ttl)
}

// EndRoom marks the room ended and deletes its viewer set and broadcaster
// record. The viewer count drops to zero; the room record itself stays until
// its TTL so late lookups see "ended" instead of nothing.
func (m *Membership) EndRoom(ctx context.Context, roomID string) error {
	if err := m.kv.HSet(ctx, roomKey(roomID), map[string]string{"status": "ended"}); err != nil {
		return err
	}
	return m.kv.Del(ctx, viewersKey(roomID), streamerKey(roomID))
}

// ActiveRooms lists the rooms currently marked live.
func (m *Membership) ActiveRooms(ctx context.Context) ([]string, error) {
	keys, err := m.kv.Keys(ctx, "room:*")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		record, err := m.kv.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		if record["status"] != "live" {
			continue
		}
		out = append(out, strings.TrimPrefix(key, "room:"))
	}
	return out, nil
}
