package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livecast/internal/config"
	"livecast/internal/domain"
	pkglog "livecast/pkg/log"
)

// DisconnectHandler runs when a client's read loop ends, before the client
// is unregistered.
type DisconnectHandler func(*Client)

// Client is one connected signaling websocket.
type Client struct {
	ID       string
	RemoteIP string
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	Session  *domain.Session

	disconnectHandler DisconnectHandler
}

func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// Hub tracks the websocket clients on this instance and their room
// memberships.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan *RoomMessage
	config     config.WebSocketConfig

	mu          sync.RWMutex
	clients     map[string]*Client
	rooms       map[string]map[string]*Client // roomID -> clientID -> client
	clientRooms map[string]map[string]struct{}
}

// RoomMessage is a payload fanned out to every client in a room.
type RoomMessage struct {
	RoomID  string
	Message []byte
	Exclude string // client id excluded from the fanout
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *RoomMessage, 256),
		config:      cfg,
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		clientRooms: make(map[string]map[string]struct{}),
	}
}

// Run drives registration and room fanout. Meant to run as a goroutine for
// the life of the process.
func (h *Hub) Run() {
	l := pkglog.L()
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l.Info().Str(pkglog.FieldClientID, client.ID).
				Str(pkglog.FieldClientIP, client.RemoteIP).
				Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for roomID := range h.clientRooms[client.ID] {
					h.removeFromRoomLocked(client.ID, roomID)
				}
				delete(h.clientRooms, client.ID)
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			l.Info().Str(pkglog.FieldClientID, client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for clientID, client := range h.rooms[msg.RoomID] {
				if clientID == msg.Exclude {
					continue
				}
				select {
				case client.Send <- msg.Message:
				default:
					// Send buffer full; drop the slow client.
					go h.removeClient(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinRoom adds a client to a room's local fanout set.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][client.ID] = client

	if _, ok := h.clientRooms[client.ID]; !ok {
		h.clientRooms[client.ID] = make(map[string]struct{})
	}
	h.clientRooms[client.ID][roomID] = struct{}{}
}

// LeaveRoom removes a client from a room's local fanout set.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(client.ID, roomID)
	delete(h.clientRooms[client.ID], roomID)
}

func (h *Hub) removeFromRoomLocked(clientID, roomID string) {
	if roomClients, ok := h.rooms[roomID]; ok {
		delete(roomClients, clientID)
		if len(roomClients) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// RoomsOf returns the rooms a client is currently in.
func (h *Hub) RoomsOf(clientID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clientRooms[clientID]))
	for roomID := range h.clientRooms[clientID] {
		out = append(out, roomID)
	}
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// LocalRoomSize returns how many of a room's members are on this instance.
func (h *Hub) LocalRoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// BroadcastToRoom fans a message out to every client in a room, minus the
// excluded one.
func (h *Hub) BroadcastToRoom(roomID string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.broadcast <- &RoomMessage{RoomID: roomID, Message: data, Exclude: exclude}
	return nil
}

// SendToClient delivers a message to one client, if connected here.
func (h *Hub) SendToClient(clientID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	select {
	case client.Send <- data:
	default:
		go h.removeClient(client)
	}
	return nil
}

// Client returns a connected client by id.
func (h *Hub) Client(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	return c, ok
}

// BroadcasterForRoom returns the room's broadcasting client on this
// instance, if any.
func (h *Hub) BroadcasterForRoom(roomID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.rooms[roomID] {
		if client.Session != nil && client.Session.IsBroadcasting(roomID) {
			return client
		}
	}
	return nil
}

func (h *Hub) removeClient(client *Client) {
	h.unregister <- client
}

// ReadPump pumps inbound frames to the handler until the connection dies.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				pkglog.L().Error().Err(err).
					Str(pkglog.FieldClientID, c.ID).
					Msg("websocket read error")
			}
			break
		}
		handler(c, message)
	}
}

// WritePump drains the send channel to the connection and keeps it alive
// with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues a message for this client, dropping it if the buffer
// is full.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	select {
	case c.Send <- data:
	default:
	}
	return nil
}
