package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"livecast/internal/auth"
	"livecast/internal/domain"
	"livecast/internal/hub"
	pkglog "livecast/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy enforced at the edge
	},
}

// WSHandler upgrades signaling connections and routes their messages.
type WSHandler struct {
	hub      *hub.Hub
	service  *Service
	verifier *auth.Verifier
	limiter  *Limiter
}

func NewWSHandler(h *hub.Hub, svc *Service, verifier *auth.Verifier, limiter *Limiter) *WSHandler {
	return &WSHandler{
		hub:      h,
		service:  svc,
		verifier: verifier,
		limiter:  limiter,
	}
}

// bearerToken pulls the signaling token from the Authorization header or the
// token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HandleWebSocket authenticates, admits, and upgrades a signaling connection.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := pkglog.L()
	ctx := r.Context()

	claims, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ip := remoteIP(r)
	if err := h.limiter.AllowConnection(ctx, ip); err != nil {
		if err == ErrTooManyConnections {
			l.Warn().Str(pkglog.FieldClientIP, ip).Msg("connection limit reached")
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
		l.Error().Err(err).Msg("admission check failed")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.limiter.ReleaseConnection(context.Background(), ip)
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.New().String()
	client := &hub.Client{
		ID:       clientID,
		RemoteIP: ip,
		Hub:      h.hub,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Session:  domain.NewSession(clientID, claims.UserID, claims.Username),
	}

	client.SetDisconnectHandler(func(c *hub.Client) {
		ctx := context.Background()
		if err := h.service.HandleDisconnect(ctx, c); err != nil {
			l.Error().Err(err).Str(pkglog.FieldClientID, c.ID).Msg("disconnect handler error")
		}
		h.limiter.ReleaseConnection(ctx, c.RemoteIP)
		h.limiter.Reset(ctx, c.ID)
	})

	h.hub.Register(client)
	l.Info().
		Str(pkglog.FieldClientID, clientID).
		Str(pkglog.FieldUserID, claims.UserID).
		Str(pkglog.FieldClientIP, ip).
		Msg("signaling connection established")

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	ctx := context.Background()
	l := pkglog.L()

	if err := h.limiter.AllowEvent(ctx, client.ID); err != nil {
		if err == ErrRateLimited {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeRateLimitExceeded, "Too many events"))
			return
		}
		l.Error().Err(err).Str(pkglog.FieldClientID, client.ID).Msg("rate check failed")
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Rate check failed"))
		return
	}

	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	var err error
	switch base.Type {
	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleJoinRoom(ctx, client, msg.RoomID)

	case domain.MsgTypeLeaveRoom:
		var msg domain.LeaveRoomMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleLeaveRoom(ctx, client, msg.RoomID)

	case domain.MsgTypeStartBroadcast:
		var msg domain.StartBroadcastMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleStartBroadcast(ctx, client, msg.RoomID)

	case domain.MsgTypeStopBroadcast:
		var msg domain.StopBroadcastMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleStopBroadcast(ctx, client, msg.RoomID)

	case domain.MsgTypeGetCapabilities:
		var msg domain.GetCapabilitiesMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleGetCapabilities(ctx, client, msg.RoomID)

	case domain.MsgTypeCreateTransport:
		var msg domain.CreateTransportMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleCreateTransport(ctx, client, &msg)

	case domain.MsgTypeConnectTransport:
		var msg domain.ConnectTransportMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleConnectTransport(ctx, client, &msg)

	case domain.MsgTypeProduce:
		var msg domain.ProduceMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleProduce(ctx, client, &msg)

	case domain.MsgTypeConsume:
		var msg domain.ConsumeMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleConsume(ctx, client, &msg)

	case domain.MsgTypePauseConsumer:
		var msg domain.PauseConsumerMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandlePauseConsumer(ctx, client, &msg)

	case domain.MsgTypeResumeConsumer:
		var msg domain.ResumeConsumerMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleResumeConsumer(ctx, client, &msg)

	case domain.MsgTypeRelaySignal:
		var msg domain.RelaySignalMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleRelaySignal(ctx, client, &msg)

	case domain.MsgTypeICECandidate:
		var msg domain.ICECandidateMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleICECandidate(ctx, client, &msg)

	case domain.MsgTypePing:
		err = client.SendMessage(&domain.BaseMessage{Type: domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
		return
	}

	if err != nil {
		l.Error().Err(err).
			Str(pkglog.FieldClientID, client.ID).
			Str("message_type", base.Type).
			Msg("message handling failed")
	}
}

func (h *WSHandler) decode(client *hub.Client, raw []byte, dst interface{}) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message payload"))
		return false
	}
	return true
}
