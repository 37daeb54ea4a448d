package room

import (
	"context"
	"sync"

	"livecast/internal/engine"
	pkglog "livecast/pkg/log"
)

// Manager holds the sessions for every room hosted on this instance.
type Manager struct {
	pool *engine.Pool

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(pool *engine.Pool) *Manager {
	return &Manager{
		pool:     pool,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns a room's session, creating its routing context on the
// next worker if the room is new here.
func (m *Manager) GetOrCreate(ctx context.Context, roomID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[roomID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[roomID]; ok {
		return s, nil
	}

	router, err := m.pool.CreateRouter(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s = newSession(roomID, router)
	m.sessions[roomID] = s

	pkglog.L().Info().
		Str(pkglog.FieldRoomID, roomID).
		Int(pkglog.FieldWorkerID, router.Worker().ID()).
		Msg("room session created")
	return s, nil
}

// Get returns a room's session if it exists on this instance.
func (m *Manager) Get(roomID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[roomID]
	return s, ok
}

// Close tears down a room's session and its routing context.
func (m *Manager) Close(ctx context.Context, roomID string) error {
	m.mu.Lock()
	_, ok := m.sessions[roomID]
	delete(m.sessions, roomID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.pool.CloseRouter(ctx, roomID); err != nil {
		return err
	}
	pkglog.L().Info().Str(pkglog.FieldRoomID, roomID).Msg("room session closed")
	return nil
}

// Rooms returns the room ids hosted on this instance.
func (m *Manager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}
