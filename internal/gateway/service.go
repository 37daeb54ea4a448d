package gateway

import (
	"context"
	"errors"

	"livecast/internal/config"
	"livecast/internal/directory"
	"livecast/internal/domain"
	"livecast/internal/engine"
	"livecast/internal/hub"
	"livecast/internal/room"
	"livecast/internal/store"
	pkglog "livecast/pkg/log"
)

// Service implements the signaling operations behind the websocket gateway.
type Service struct {
	hub        *hub.Hub
	rooms      *room.Manager
	membership *store.Membership
	directory  directory.Directory
	relay      *Relay
	roomCfg    config.RoomConfig
}

func NewService(
	h *hub.Hub,
	rooms *room.Manager,
	membership *store.Membership,
	dir directory.Directory,
	relay *Relay,
	roomCfg config.RoomConfig,
) *Service {
	return &Service{
		hub:        h,
		rooms:      rooms,
		membership: membership,
		directory:  dir,
		relay:      relay,
		roomCfg:    roomCfg,
	}
}

// fanout delivers a room event to local clients and to the other gateway
// instances.
func (s *Service) fanout(roomID string, message interface{}, exclude string) {
	if err := s.hub.BroadcastToRoom(roomID, message, exclude); err != nil {
		pkglog.L().Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("room fanout failed")
	}
	if s.relay != nil {
		if err := s.relay.Publish(context.Background(), roomID, exclude, message); err != nil {
			pkglog.L().Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("relay publish failed")
		}
	}
}

// HandleJoinRoom admits a viewer into a room: the room must exist in the
// directory, have capacity, and not already contain this user.
func (s *Service) HandleJoinRoom(ctx context.Context, c *hub.Client, roomID string) error {
	if roomID == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "room_id is required"))
	}

	entry, err := s.directory.GetByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, directory.ErrBroadcastNotFound) {
			return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeStreamNotFound, "Stream not found"))
		}
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to look up stream"))
	}
	if entry.Status != directory.StatusLive {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeStreamNotFound, "Stream is not live"))
	}

	count, err := s.membership.JoinRoom(ctx, roomID, c.Session.UserID, c.ID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRoomNotFound):
			return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRoomNotFound, "Room not found"))
		case errors.Is(err, store.ErrRoomFull):
			return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRoomFull, "Room is full"))
		default:
			return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to join room"))
		}
	}

	session, err := s.rooms.GetOrCreate(ctx, roomID)
	if err != nil {
		s.membership.LeaveRoom(ctx, roomID, c.Session.UserID, c.ID)
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to prepare room"))
	}

	s.hub.JoinRoom(c, roomID)
	c.Session.JoinRoom(roomID)

	pkglog.L().Info().
		Str(pkglog.FieldClientID, c.ID).
		Str(pkglog.FieldUserID, c.Session.UserID).
		Str(pkglog.FieldRoomID, roomID).
		Int("viewer_count", count).
		Msg("viewer joined room")

	if err := c.SendMessage(&domain.RoomJoinedMessage{
		Type:         domain.MsgTypeRoomJoined,
		RoomID:       roomID,
		ViewerCount:  count,
		Capabilities: session.Capabilities(),
	}); err != nil {
		return err
	}

	// Late joiners learn about media already flowing.
	for _, p := range session.Producers() {
		c.SendMessage(&domain.NewProducerMessage{
			Type:       domain.MsgTypeNewProducer,
			RoomID:     roomID,
			ProducerID: p.ID(),
			Kind:       p.Kind(),
		})
	}

	s.fanout(roomID, &domain.ViewerJoinedMessage{
		Type:        domain.MsgTypeViewerJoined,
		RoomID:      roomID,
		ViewerCount: count,
	}, c.ID)
	return nil
}

// HandleLeaveRoom removes a viewer from a room and releases its resources.
func (s *Service) HandleLeaveRoom(ctx context.Context, c *hub.Client, roomID string) error {
	if !c.Session.InRoom(roomID) {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Not in this room"))
	}
	return s.leaveRoom(ctx, c, roomID, true)
}

func (s *Service) leaveRoom(ctx context.Context, c *hub.Client, roomID string, ack bool) error {
	count, err := s.membership.LeaveRoom(ctx, roomID, c.Session.UserID, c.ID)
	if err != nil {
		pkglog.L().Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("membership leave failed")
	}

	if session, ok := s.rooms.Get(roomID); ok {
		wasBroadcaster, cerr := session.CloseForConnection(ctx, c.ID)
		if cerr != nil {
			pkglog.L().Error().Err(cerr).Str(pkglog.FieldRoomID, roomID).Msg("resource cleanup failed")
		}
		if wasBroadcaster {
			s.endBroadcast(ctx, roomID)
		}
		if session.Empty() && s.hub.LocalRoomSize(roomID) <= 1 {
			if cerr := s.rooms.Close(ctx, roomID); cerr != nil {
				pkglog.L().Error().Err(cerr).Str(pkglog.FieldRoomID, roomID).Msg("room close failed")
			}
		}
	}

	s.hub.LeaveRoom(c, roomID)
	c.Session.LeaveRoom(roomID)

	pkglog.L().Info().
		Str(pkglog.FieldClientID, c.ID).
		Str(pkglog.FieldRoomID, roomID).
		Int("viewer_count", count).
		Msg("viewer left room")

	if ack {
		if err := c.SendMessage(&domain.RoomLeftMessage{
			Type:        domain.MsgTypeRoomLeft,
			RoomID:      roomID,
			ViewerCount: count,
		}); err != nil {
			return err
		}
	}

	s.fanout(roomID, &domain.ViewerLeftMessage{
		Type:        domain.MsgTypeViewerLeft,
		RoomID:      roomID,
		ViewerCount: count,
	}, c.ID)
	return nil
}

// HandleStartBroadcast flips a room live. Only the directory owner may
// broadcast.
func (s *Service) HandleStartBroadcast(ctx context.Context, c *hub.Client, roomID string) error {
	entry, err := s.directory.GetByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, directory.ErrBroadcastNotFound) {
			return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeStreamNotFound, "Stream not found"))
		}
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to look up stream"))
	}
	if entry.OwnerID != c.Session.UserID {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeForbidden, "Only the owner can broadcast"))
	}

	record, err := s.membership.GetRoom(ctx, roomID)
	if err != nil && !errors.Is(err, store.ErrRoomNotFound) {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to look up room"))
	}
	if record != nil && record.Live && record.StreamerID != c.Session.UserID {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeForbidden, "Room already has a broadcaster"))
	}

	if errors.Is(err, store.ErrRoomNotFound) {
		maxViewers := entry.MaxViewers
		if maxViewers == 0 {
			maxViewers = s.roomCfg.DefaultMaxViewers
		}
		if err := s.membership.CreateRoom(ctx, roomID, entry.OwnerID, maxViewers); err != nil {
			return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to create room"))
		}
	}

	session, err := s.rooms.GetOrCreate(ctx, roomID)
	if err != nil {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to prepare room"))
	}

	if err := s.membership.SetLive(ctx, roomID, c.Session.UserID); err != nil {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to mark room live"))
	}
	if err := s.directory.SetLive(ctx, roomID); err != nil {
		pkglog.L().Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("directory live update failed")
	}

	s.hub.JoinRoom(c, roomID)
	c.Session.JoinRoom(roomID)
	c.Session.MarkBroadcasting(roomID)

	pkglog.L().Info().
		Str(pkglog.FieldUserID, c.Session.UserID).
		Str(pkglog.FieldRoomID, roomID).
		Msg("broadcast started")

	caps := session.Capabilities()
	if err := c.SendMessage(&domain.BroadcastStartedMessage{
		Type:         domain.MsgTypeBroadcastStarted,
		RoomID:       roomID,
		Capabilities: &caps,
	}); err != nil {
		return err
	}

	s.fanout(roomID, &domain.BroadcastStartedMessage{
		Type:          domain.MsgTypeBroadcastStarted,
		RoomID:        roomID,
		BroadcasterID: c.Session.UserID,
	}, c.ID)
	return nil
}

// HandleStopBroadcast ends the caller's broadcast in a room.
func (s *Service) HandleStopBroadcast(ctx context.Context, c *hub.Client, roomID string) error {
	if !c.Session.IsBroadcasting(roomID) {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeForbidden, "Not broadcasting in this room"))
	}

	if session, ok := s.rooms.Get(roomID); ok {
		if err := session.StopBroadcast(ctx, c.ID); err != nil &&
			!errors.Is(err, room.ErrNoBroadcast) {
			pkglog.L().Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("stop broadcast cleanup failed")
		}
	}
	c.Session.UnmarkBroadcasting(roomID)
	s.endBroadcast(ctx, roomID)

	if err := c.SendMessage(&domain.BroadcastStoppedMessage{
		Type:   domain.MsgTypeBroadcastStopped,
		RoomID: roomID,
	}); err != nil {
		return err
	}

	s.fanout(roomID, &domain.BroadcastStoppedMessage{
		Type:   domain.MsgTypeBroadcastStopped,
		RoomID: roomID,
	}, c.ID)
	return nil
}

func (s *Service) endBroadcast(ctx context.Context, roomID string) {
	if err := s.membership.EndRoom(ctx, roomID); err != nil {
		pkglog.L().Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("membership end failed")
	}
	if err := s.directory.SetEnded(ctx, roomID); err != nil &&
		!errors.Is(err, directory.ErrBroadcastNotFound) {
		pkglog.L().Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("directory end update failed")
	}
	pkglog.L().Info().Str(pkglog.FieldRoomID, roomID).Msg("broadcast ended")
}

// HandleGetCapabilities returns the room's codec capability set.
func (s *Service) HandleGetCapabilities(ctx context.Context, c *hub.Client, roomID string) error {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRoomNotFound, "Room not found"))
	}
	return c.SendMessage(&domain.CapabilitiesMessage{
		Type:         domain.MsgTypeCapabilities,
		RoomID:       roomID,
		Capabilities: session.Capabilities(),
	})
}

// HandleCreateTransport builds a transport in the room for this connection.
func (s *Service) HandleCreateTransport(ctx context.Context, c *hub.Client, msg *domain.CreateTransportMessage) error {
	session, ok := s.rooms.Get(msg.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRoomNotFound, "Room not found"))
	}

	role := engine.RoleViewer
	if msg.IsBroadcaster {
		role = engine.RoleBroadcaster
	}
	t, err := session.CreateTransport(ctx, c.ID, role)
	if err != nil {
		return c.SendMessage(s.errEnvelope(err, "Failed to create transport"))
	}

	params := t.Params()
	pkglog.L().Debug().
		Str(pkglog.FieldClientID, c.ID).
		Str(pkglog.FieldRoomID, msg.RoomID).
		Str(pkglog.FieldTransport, t.ID()).
		Str("role", string(role)).
		Msg("transport created")

	return c.SendMessage(&domain.TransportCreatedMessage{
		Type:           domain.MsgTypeTransportCreated,
		RoomID:         msg.RoomID,
		TransportID:    t.ID(),
		ICEParameters:  params.ICEParameters,
		ICECandidates:  params.ICECandidates,
		DTLSParameters: params.DTLSParameters,
	})
}

// HandleConnectTransport finalizes a transport's secure handshake.
func (s *Service) HandleConnectTransport(ctx context.Context, c *hub.Client, msg *domain.ConnectTransportMessage) error {
	session, ok := s.rooms.Get(msg.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRoomNotFound, "Room not found"))
	}
	if err := session.ConnectTransport(ctx, c.ID, msg.TransportID, msg.DTLSParameters); err != nil {
		return c.SendMessage(s.errEnvelope(err, "Failed to connect transport"))
	}
	return c.SendMessage(&domain.TransportConnectedMessage{
		Type:        domain.MsgTypeTransportConnected,
		TransportID: msg.TransportID,
	})
}

// HandleICECandidate feeds a trickled candidate to a transport.
func (s *Service) HandleICECandidate(ctx context.Context, c *hub.Client, msg *domain.ICECandidateMessage) error {
	session, ok := s.rooms.Get(msg.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRoomNotFound, "Room not found"))
	}
	if err := session.AddICECandidate(ctx, c.ID, msg.TransportID, msg.Candidate); err != nil {
		return c.SendMessage(s.errEnvelope(err, "Failed to add candidate"))
	}
	return c.SendMessage(&domain.CandidateAddedMessage{
		Type:        domain.MsgTypeCandidateAdded,
		TransportID: msg.TransportID,
	})
}

// HandleProduce starts accepting inbound media and announces the producer to
// the room.
func (s *Service) HandleProduce(ctx context.Context, c *hub.Client, msg *domain.ProduceMessage) error {
	session, ok := s.rooms.Get(msg.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRoomNotFound, "Room not found"))
	}

	p, err := session.Produce(ctx, c.ID, msg.TransportID, engine.ProducerOptions{
		Kind:          msg.Kind,
		Codec:         msg.Codec,
		RTPParameters: msg.RTPParameters,
	})
	if err != nil {
		return c.SendMessage(s.errEnvelope(err, "Failed to produce"))
	}

	pkglog.L().Info().
		Str(pkglog.FieldClientID, c.ID).
		Str(pkglog.FieldRoomID, msg.RoomID).
		Str(pkglog.FieldProducerID, p.ID()).
		Str("kind", p.Kind()).
		Msg("producer created")

	if err := c.SendMessage(&domain.ProducerCreatedMessage{
		Type:       domain.MsgTypeProducerCreated,
		ProducerID: p.ID(),
		Kind:       p.Kind(),
		Layers:     p.Layers(),
	}); err != nil {
		return err
	}

	s.fanout(msg.RoomID, &domain.NewProducerMessage{
		Type:       domain.MsgTypeNewProducer,
		RoomID:     msg.RoomID,
		ProducerID: p.ID(),
		Kind:       p.Kind(),
	}, c.ID)
	return nil
}

// HandleConsume attaches the caller to a producer, gated by capability
// compatibility.
func (s *Service) HandleConsume(ctx context.Context, c *hub.Client, msg *domain.ConsumeMessage) error {
	session, ok := s.rooms.Get(msg.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRoomNotFound, "Room not found"))
	}

	consumer, err := session.Consume(ctx, c.ID, msg.TransportID, msg.ProducerID,
		msg.RTPCapabilities, s.roomCfg.ConsumerStartPaused)
	if err != nil {
		return c.SendMessage(s.errEnvelope(err, "Failed to consume"))
	}

	pkglog.L().Debug().
		Str(pkglog.FieldClientID, c.ID).
		Str(pkglog.FieldRoomID, msg.RoomID).
		Str(pkglog.FieldConsumerID, consumer.ID()).
		Msg("consumer created")

	return c.SendMessage(&domain.ConsumerCreatedMessage{
		Type:       domain.MsgTypeConsumerCreated,
		ConsumerID: consumer.ID(),
		ProducerID: consumer.ProducerID(),
		Kind:       consumer.Kind(),
		Codec:      consumer.Codec(),
		Layers:     consumer.Layers(),
		Paused:     consumer.Paused(),
	})
}

// HandlePauseConsumer suspends relay on a consumer.
func (s *Service) HandlePauseConsumer(ctx context.Context, c *hub.Client, msg *domain.PauseConsumerMessage) error {
	session, ok := s.rooms.Get(msg.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRoomNotFound, "Room not found"))
	}
	if err := session.PauseConsumer(ctx, c.ID, msg.ConsumerID); err != nil {
		return c.SendMessage(s.errEnvelope(err, "Failed to pause consumer"))
	}
	return c.SendMessage(&domain.ConsumerStateMessage{
		Type:       domain.MsgTypeConsumerPaused,
		ConsumerID: msg.ConsumerID,
	})
}

// HandleResumeConsumer re-enables relay on a consumer.
func (s *Service) HandleResumeConsumer(ctx context.Context, c *hub.Client, msg *domain.ResumeConsumerMessage) error {
	session, ok := s.rooms.Get(msg.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRoomNotFound, "Room not found"))
	}
	if err := session.ResumeConsumer(ctx, c.ID, msg.ConsumerID); err != nil {
		return c.SendMessage(s.errEnvelope(err, "Failed to resume consumer"))
	}
	return c.SendMessage(&domain.ConsumerStateMessage{
		Type:       domain.MsgTypeConsumerResumed,
		ConsumerID: msg.ConsumerID,
	})
}

// HandleRelaySignal forwards opaque negotiation data to another connection on
// this instance.
func (s *Service) HandleRelaySignal(ctx context.Context, c *hub.Client, msg *domain.RelaySignalMessage) error {
	if msg.To == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "relay target is required"))
	}
	return s.hub.SendToClient(msg.To, &domain.SignalMessage{
		Type:   domain.MsgTypeSignal,
		From:   c.ID,
		UserID: c.Session.UserID,
		Signal: msg.Signal,
	})
}

// HandleDisconnect releases everything the connection held: broadcast state,
// media resources, and room memberships.
func (s *Service) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	for _, roomID := range c.Session.BroadcastRooms() {
		if session, ok := s.rooms.Get(roomID); ok {
			if err := session.StopBroadcast(ctx, c.ID); err != nil &&
				!errors.Is(err, room.ErrNoBroadcast) && !errors.Is(err, room.ErrNotOwner) {
				pkglog.L().Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("disconnect broadcast cleanup failed")
			}
		}
		c.Session.UnmarkBroadcasting(roomID)
		s.endBroadcast(ctx, roomID)
		s.fanout(roomID, &domain.BroadcastStoppedMessage{
			Type:   domain.MsgTypeBroadcastStopped,
			RoomID: roomID,
		}, c.ID)
	}

	for _, roomID := range c.Session.Rooms() {
		if err := s.leaveRoom(ctx, c, roomID, false); err != nil {
			pkglog.L().Error().Err(err).
				Str(pkglog.FieldClientID, c.ID).
				Str(pkglog.FieldRoomID, roomID).
				Msg("disconnect room cleanup failed")
		}
	}

	pkglog.L().Info().Str(pkglog.FieldClientID, c.ID).Msg("connection cleaned up")
	return nil
}

// errEnvelope maps internal errors to the typed error envelope.
func (s *Service) errEnvelope(err error, fallback string) *domain.ErrorMessage {
	switch {
	case errors.Is(err, room.ErrTransportNotFound):
		return domain.NewErrorMessage(domain.ErrCodeTransportNotFound, "Transport not found")
	case errors.Is(err, room.ErrProducerNotFound):
		return domain.NewErrorMessage(domain.ErrCodeProducerNotFound, "Producer not found")
	case errors.Is(err, room.ErrConsumerNotFound):
		return domain.NewErrorMessage(domain.ErrCodeConsumerNotFound, "Consumer not found")
	case errors.Is(err, room.ErrNotOwner), errors.Is(err, room.ErrBroadcastActive):
		return domain.NewErrorMessage(domain.ErrCodeForbidden, "Not allowed")
	case errors.Is(err, engine.ErrCannotConsume):
		return domain.NewErrorMessage(domain.ErrCodeCannotConsume, "Capabilities incompatible with producer")
	case errors.Is(err, engine.ErrUnsupportedCodec), errors.Is(err, engine.ErrInvalidMediaKind):
		return domain.NewErrorMessage(domain.ErrCodeBadRequest, err.Error())
	case errors.Is(err, engine.ErrTransportClosed),
		errors.Is(err, engine.ErrProducerClosed),
		errors.Is(err, engine.ErrConsumerClosed),
		errors.Is(err, engine.ErrRouterClosed):
		return domain.NewErrorMessage(domain.ErrCodeBadRequest, err.Error())
	default:
		pkglog.L().Error().Err(err).Msg(fallback)
		return domain.NewErrorMessage(domain.ErrCodeInternalError, fallback)
	}
}
