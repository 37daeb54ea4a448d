package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Router is a per-room routing context. It is bound to exactly one worker for
// its entire lifetime and is never rehomed.
type Router struct {
	id     string
	roomID string
	worker *Worker
	codecs []Codec

	simulcastEnabled bool
	simulcastLayers  []SimulcastLayer

	mu         sync.RWMutex
	transports map[string]*Transport
	closed     bool
}

func newRouter(roomID string, w *Worker, cfg Config) *Router {
	return &Router{
		id:               uuid.New().String(),
		roomID:           roomID,
		worker:           w,
		codecs:           cfg.Codecs,
		simulcastEnabled: cfg.SimulcastEnabled,
		simulcastLayers:  cfg.SimulcastLayers,
		transports:       make(map[string]*Transport),
	}
}

// ID returns the router id.
func (r *Router) ID() string { return r.id }

// RoomID returns the owning room.
func (r *Router) RoomID() string { return r.roomID }

// Worker returns the worker hosting this router.
func (r *Router) Worker() *Worker { return r.worker }

// Capabilities returns the router's fixed codec set.
func (r *Router) Capabilities() RTPCapabilities {
	return RTPCapabilities{Codecs: r.codecs}
}

// CreateTransport allocates a bidirectional transport on the router's worker
// and returns its negotiation parameters.
func (r *Router) CreateTransport(ctx context.Context, role Role) (*Transport, error) {
	var (
		t   *Transport
		err error
	)
	doErr := r.worker.do(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			err = ErrRouterClosed
			return
		}

		ice, e := r.worker.iceParameters()
		if e != nil {
			err = e
			return
		}
		t = &Transport{
			id:     uuid.New().String(),
			router: r,
			role:   role,
			state:  TransportPending,
			params: TransportParams{
				ICEParameters:  ice,
				ICECandidates:  r.worker.localCandidates(),
				DTLSParameters: r.worker.dtlsParameters(),
			},
			producers: make(map[string]*Producer),
			consumers: make(map[string]*Consumer),
		}
		t.params.ID = t.id
		r.transports[t.id] = t
	})
	if doErr != nil {
		return nil, doErr
	}
	return t, err
}

// CreateProducer starts accepting inbound media on the transport. Video
// producers get the configured simulcast layers; audio producers never carry
// layers.
func (r *Router) CreateProducer(ctx context.Context, t *Transport, opts ProducerOptions) (*Producer, error) {
	kind, err := codecKind(opts.Kind)
	if err != nil {
		return nil, err
	}
	if opts.Codec.Kind != "" && opts.Codec.Kind != opts.Kind {
		return nil, ErrInvalidMediaKind
	}
	if !r.supports(opts.Codec) {
		return nil, ErrUnsupportedCodec
	}

	var (
		p     *Producer
		opErr error
	)
	doErr := r.worker.do(ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.state == TransportClosed {
			opErr = ErrTransportClosed
			return
		}

		p = &Producer{
			id:            uuid.New().String(),
			transport:     t,
			kind:          kind,
			codec:         opts.Codec,
			rtpParameters: opts.RTPParameters,
		}
		if kind.String() == "video" && r.simulcastEnabled {
			p.layers = append(p.layers, r.simulcastLayers...)
		}
		t.producers[p.id] = p
	})
	if doErr != nil {
		return nil, doErr
	}
	return p, opErr
}

// CanConsume reports whether remote capabilities are compatible with the
// producer: the producer's codec must appear in the remote set with a matching
// clock rate.
func (r *Router) CanConsume(p *Producer, caps RTPCapabilities) bool {
	if p == nil || p.Closed() {
		return false
	}
	for _, c := range caps.Codecs {
		if codecMatches(c, p.codec) {
			return true
		}
	}
	return false
}

// CreateConsumer starts relaying the producer's media out through the
// transport. It fails with ErrCannotConsume when capabilities don't match.
func (r *Router) CreateConsumer(ctx context.Context, t *Transport, p *Producer, caps RTPCapabilities, startPaused bool) (*Consumer, error) {
	if !r.CanConsume(p, caps) {
		return nil, ErrCannotConsume
	}

	var (
		c     *Consumer
		opErr error
	)
	doErr := r.worker.do(ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.state == TransportClosed {
			opErr = ErrTransportClosed
			return
		}
		if p.Closed() {
			opErr = ErrProducerClosed
			return
		}

		c = &Consumer{
			id:        uuid.New().String(),
			transport: t,
			producer:  p,
			paused:    startPaused,
		}
		t.consumers[c.id] = c
	})
	if doErr != nil {
		return nil, doErr
	}
	return c, opErr
}

// CloseTransport closes the transport and cascades to every producer and
// consumer it owns.
func (r *Router) CloseTransport(ctx context.Context, t *Transport) error {
	return r.worker.do(ctx, func() {
		t.closeCascade()
		r.mu.Lock()
		delete(r.transports, t.id)
		r.mu.Unlock()
	})
}

// Close tears the routing context down, cascading through every transport.
func (r *Router) Close(ctx context.Context) error {
	return r.worker.do(ctx, func() {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.closed = true
		transports := make([]*Transport, 0, len(r.transports))
		for id, t := range r.transports {
			transports = append(transports, t)
			delete(r.transports, id)
		}
		r.mu.Unlock()
		for _, t := range transports {
			t.closeCascade()
		}
	})
}

// Counts returns the live transport/producer/consumer totals.
func (r *Router) Counts() (transports, producers, consumers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	transports = len(r.transports)
	for _, t := range r.transports {
		t.mu.Lock()
		producers += len(t.producers)
		consumers += len(t.consumers)
		t.mu.Unlock()
	}
	return
}

func (r *Router) supports(c Codec) bool {
	for _, own := range r.codecs {
		if codecMatches(own, c) {
			return true
		}
	}
	return false
}
