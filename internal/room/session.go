package room

import (
	"context"
	"errors"
	"sync"

	"livecast/internal/engine"
	pkglog "livecast/pkg/log"
)

var (
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrNotOwner          = errors.New("resource belongs to another connection")
	ErrBroadcastActive   = errors.New("room already has an active broadcast")
	ErrNoBroadcast       = errors.New("room has no active broadcast")
)

// owned tracks the engine resources created by one connection.
type owned struct {
	transports map[string]struct{}
	consumers  map[string]struct{}
}

func newOwned() *owned {
	return &owned{
		transports: make(map[string]struct{}),
		consumers:  make(map[string]struct{}),
	}
}

// Session owns the media-plane state of one room on this instance: the
// routing context plus registries mapping wire ids back to engine resources
// and to the connection that created them.
type Session struct {
	roomID string
	router *engine.Router

	mu              sync.RWMutex
	transports      map[string]*engine.Transport
	producers       map[string]*engine.Producer
	consumers       map[string]*engine.Consumer
	owners          map[string]*owned
	broadcasterConn string
}

func newSession(roomID string, router *engine.Router) *Session {
	return &Session{
		roomID:     roomID,
		router:     router,
		transports: make(map[string]*engine.Transport),
		producers:  make(map[string]*engine.Producer),
		consumers:  make(map[string]*engine.Consumer),
		owners:     make(map[string]*owned),
	}
}

func (s *Session) RoomID() string { return s.roomID }

func (s *Session) Capabilities() engine.RTPCapabilities {
	return s.router.Capabilities()
}

func (s *Session) ownerLocked(connID string) *owned {
	o, ok := s.owners[connID]
	if !ok {
		o = newOwned()
		s.owners[connID] = o
	}
	return o
}

// CreateTransport builds a transport on the room's routing context and
// records the creating connection as its owner.
func (s *Session) CreateTransport(ctx context.Context, connID string, role engine.Role) (*engine.Transport, error) {
	t, err := s.router.CreateTransport(ctx, role)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.transports[t.ID()] = t
	s.ownerLocked(connID).transports[t.ID()] = struct{}{}
	s.mu.Unlock()
	return t, nil
}

func (s *Session) transportFor(connID, transportID string) (*engine.Transport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transports[transportID]
	if !ok {
		return nil, ErrTransportNotFound
	}
	if o, ok := s.owners[connID]; !ok {
		return nil, ErrNotOwner
	} else if _, ok := o.transports[transportID]; !ok {
		return nil, ErrNotOwner
	}
	return t, nil
}

// ConnectTransport applies the remote DTLS parameters to an owned transport.
func (s *Session) ConnectTransport(ctx context.Context, connID, transportID string, remote engine.DTLSParameters) error {
	t, err := s.transportFor(connID, transportID)
	if err != nil {
		return err
	}
	return t.Connect(ctx, remote)
}

// AddICECandidate feeds a trickled candidate to an owned transport.
func (s *Session) AddICECandidate(ctx context.Context, connID, transportID string, candidate []byte) error {
	t, err := s.transportFor(connID, transportID)
	if err != nil {
		return err
	}
	return t.AddRemoteCandidate(ctx, candidate)
}

// Produce creates a producer on an owned transport and marks the connection
// as the room's broadcaster.
func (s *Session) Produce(ctx context.Context, connID, transportID string, opts engine.ProducerOptions) (*engine.Producer, error) {
	t, err := s.transportFor(connID, transportID)
	if err != nil {
		return nil, err
	}

	// Claim the broadcaster slot before touching the engine so two
	// connections racing on an idle room cannot both produce.
	s.mu.Lock()
	if s.broadcasterConn != "" && s.broadcasterConn != connID {
		s.mu.Unlock()
		return nil, ErrBroadcastActive
	}
	claimed := s.broadcasterConn == ""
	s.broadcasterConn = connID
	s.mu.Unlock()

	p, err := s.router.CreateProducer(ctx, t, opts)
	if err != nil {
		s.mu.Lock()
		if claimed && s.broadcasterConn == connID && len(s.producers) == 0 {
			s.broadcasterConn = ""
		}
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.producers[p.ID()] = p
	s.mu.Unlock()
	return p, nil
}

// Consume attaches a consumer for an existing producer to an owned transport.
func (s *Session) Consume(ctx context.Context, connID, transportID, producerID string, caps engine.RTPCapabilities, startPaused bool) (*engine.Consumer, error) {
	t, err := s.transportFor(connID, transportID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	p, ok := s.producers[producerID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrProducerNotFound
	}

	c, err := s.router.CreateConsumer(ctx, t, p, caps, startPaused)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.consumers[c.ID()] = c
	s.ownerLocked(connID).consumers[c.ID()] = struct{}{}
	s.mu.Unlock()
	return c, nil
}

// CloseTransport tears down one owned transport, cascading to every producer
// and consumer it carries.
func (s *Session) CloseTransport(ctx context.Context, connID, transportID string) error {
	t, err := s.transportFor(connID, transportID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.transports, transportID)
	if o, ok := s.owners[connID]; ok {
		delete(o.transports, transportID)
	}
	s.mu.Unlock()

	if err := s.router.CloseTransport(ctx, t); err != nil {
		return err
	}
	s.reapClosedConsumers()
	s.reapClosedProducers()
	return nil
}

func (s *Session) consumerFor(connID, consumerID string) (*engine.Consumer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consumers[consumerID]
	if !ok {
		return nil, ErrConsumerNotFound
	}
	if o, ok := s.owners[connID]; !ok {
		return nil, ErrNotOwner
	} else if _, ok := o.consumers[consumerID]; !ok {
		return nil, ErrNotOwner
	}
	return c, nil
}

func (s *Session) PauseConsumer(ctx context.Context, connID, consumerID string) error {
	c, err := s.consumerFor(connID, consumerID)
	if err != nil {
		return err
	}
	return c.Pause(ctx)
}

func (s *Session) ResumeConsumer(ctx context.Context, connID, consumerID string) error {
	c, err := s.consumerFor(connID, consumerID)
	if err != nil {
		return err
	}
	return c.Resume(ctx)
}

// Producers returns the live producers in the room, for late joiners.
func (s *Session) Producers() []*engine.Producer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.Producer, 0, len(s.producers))
	for _, p := range s.producers {
		if !p.Closed() {
			out = append(out, p)
		}
	}
	return out
}

// BroadcasterConn returns the connection currently producing, if any.
func (s *Session) BroadcasterConn() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broadcasterConn
}

// StopBroadcast closes the broadcaster's producers. Only the broadcasting
// connection may stop its own broadcast.
func (s *Session) StopBroadcast(ctx context.Context, connID string) error {
	s.mu.Lock()
	if s.broadcasterConn == "" {
		s.mu.Unlock()
		return ErrNoBroadcast
	}
	if s.broadcasterConn != connID {
		s.mu.Unlock()
		return ErrNotOwner
	}
	producers := make([]*engine.Producer, 0, len(s.producers))
	for _, p := range s.producers {
		producers = append(producers, p)
	}
	s.producers = make(map[string]*engine.Producer)
	s.broadcasterConn = ""
	s.mu.Unlock()

	for _, p := range producers {
		if err := p.Close(ctx); err != nil && !errors.Is(err, engine.ErrProducerClosed) {
			pkglog.L().Warn().Err(err).
				Str(pkglog.FieldRoomID, s.roomID).
				Str(pkglog.FieldProducerID, p.ID()).
				Msg("failed to close producer")
		}
	}
	s.reapClosedConsumers()
	return nil
}

// reapClosedConsumers drops registry entries for consumers closed by a
// producer cascade so lookups fail fast instead of hitting dead resources.
func (s *Session) reapClosedConsumers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.consumers {
		if c.Closed() {
			delete(s.consumers, id)
			for _, o := range s.owners {
				delete(o.consumers, id)
			}
		}
	}
}

func (s *Session) reapClosedProducers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.producers {
		if p.Closed() {
			delete(s.producers, id)
		}
	}
}

// CloseForConnection tears down everything a connection created. Returns
// true if the connection was the room's broadcaster.
func (s *Session) CloseForConnection(ctx context.Context, connID string) (wasBroadcaster bool, err error) {
	s.mu.Lock()
	o := s.owners[connID]
	delete(s.owners, connID)
	wasBroadcaster = s.broadcasterConn == connID
	if wasBroadcaster {
		s.broadcasterConn = ""
		s.producers = make(map[string]*engine.Producer)
	}
	var transports []*engine.Transport
	if o != nil {
		for id := range o.transports {
			if t, ok := s.transports[id]; ok {
				transports = append(transports, t)
				delete(s.transports, id)
			}
		}
		for id := range o.consumers {
			delete(s.consumers, id)
		}
	}
	s.mu.Unlock()

	for _, t := range transports {
		if cerr := s.router.CloseTransport(ctx, t); cerr != nil && err == nil {
			err = cerr
		}
	}
	return wasBroadcaster, err
}

// Counts reports the room's resource totals.
func (s *Session) Counts() (transports, producers, consumers int) {
	return s.router.Counts()
}

// Empty reports whether no connection holds resources in the room.
func (s *Session) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.owners) == 0 && s.broadcasterConn == ""
}
