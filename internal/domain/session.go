package domain

import "sync"

// Session tracks one authenticated websocket connection and the rooms it has
// joined over its lifetime. Methods are safe for concurrent use.
type Session struct {
	ID       string
	UserID   string
	Username string

	mu        sync.RWMutex
	rooms     map[string]struct{}
	broadcast map[string]struct{}
}

func NewSession(id, userID, username string) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		Username:  username,
		rooms:     make(map[string]struct{}),
		broadcast: make(map[string]struct{}),
	}
}

func (s *Session) JoinRoom(roomID string) {
	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) LeaveRoom(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	delete(s.broadcast, roomID)
	s.mu.Unlock()
}

func (s *Session) InRoom(roomID string) bool {
	s.mu.RLock()
	_, ok := s.rooms[roomID]
	s.mu.RUnlock()
	return ok
}

// Rooms returns a snapshot of the rooms this session is in.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

func (s *Session) MarkBroadcasting(roomID string) {
	s.mu.Lock()
	s.broadcast[roomID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) UnmarkBroadcasting(roomID string) {
	s.mu.Lock()
	delete(s.broadcast, roomID)
	s.mu.Unlock()
}

func (s *Session) IsBroadcasting(roomID string) bool {
	s.mu.RLock()
	_, ok := s.broadcast[roomID]
	s.mu.RUnlock()
	return ok
}

// BroadcastRooms returns the rooms this session is currently broadcasting in.
func (s *Session) BroadcastRooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.broadcast))
	for id := range s.broadcast {
		out = append(out, id)
	}
	return out
}
