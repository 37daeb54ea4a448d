package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"livecast/internal/hub"
	pkglog "livecast/pkg/log"
)

// relayChannel carries room events between gateway instances.
const relayChannel = "gateway:rooms"

// relayEnvelope is the cross-instance wire format for room events.
type relayEnvelope struct {
	Instance string          `json:"instance"`
	RoomID   string          `json:"room_id"`
	Exclude  string          `json:"exclude,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Relay forwards room events to peer gateway instances over Redis pub/sub so
// a fanout reaches viewers connected elsewhere.
type Relay struct {
	client     *redis.Client
	hub        *hub.Hub
	instanceID string
	sub        *redis.PubSub
}

func NewRelay(client *redis.Client, h *hub.Hub, instanceID string) *Relay {
	return &Relay{
		client:     client,
		hub:        h,
		instanceID: instanceID,
	}
}

// Publish sends a room event to every peer instance.
func (r *Relay) Publish(ctx context.Context, roomID, exclude string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal relay payload: %w", err)
	}
	env, err := json.Marshal(relayEnvelope{
		Instance: r.instanceID,
		RoomID:   roomID,
		Exclude:  exclude,
		Payload:  payload,
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, relayChannel, env).Err()
}

// Run subscribes to the relay channel and replays peer events into the local
// hub. Blocks until the context ends.
func (r *Relay) Run(ctx context.Context) error {
	r.sub = r.client.Subscribe(ctx, relayChannel)
	defer r.sub.Close()

	if _, err := r.sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}

	l := pkglog.L()
	l.Info().Str("channel", relayChannel).Msg("relay subscribed")

	ch := r.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				l.Error().Err(err).Msg("malformed relay envelope")
				continue
			}
			if env.Instance == r.instanceID {
				continue
			}
			r.deliver(&env)
		}
	}
}

func (r *Relay) deliver(env *relayEnvelope) {
	if r.hub.LocalRoomSize(env.RoomID) == 0 {
		return
	}
	if err := r.hub.BroadcastToRoom(env.RoomID, json.RawMessage(env.Payload), env.Exclude); err != nil {
		pkglog.L().Error().Err(err).Str(pkglog.FieldRoomID, env.RoomID).Msg("relay delivery failed")
	}
}
