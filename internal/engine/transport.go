package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Transport is a negotiated bidirectional media channel between one
// participant and the forwarding engine.
type Transport struct {
	id     string
	router *Router
	role   Role
	params TransportParams

	mu               sync.Mutex
	state            TransportState
	remoteDTLS       *DTLSParameters
	remoteCandidates []json.RawMessage
	producers        map[string]*Producer
	consumers        map[string]*Consumer
}

// ID returns the transport id.
func (t *Transport) ID() string { return t.id }

// Role reports which side of the relay this transport serves.
func (t *Transport) Role() Role { return t.role }

// Params returns the local negotiation parameters handed to the client.
func (t *Transport) Params() TransportParams { return t.params }

// State returns the current negotiation state.
func (t *Transport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect finalizes the secure handshake with the remote DTLS parameters.
func (t *Transport) Connect(ctx context.Context, remote DTLSParameters) error {
	var opErr error
	doErr := t.router.worker.do(ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.state == TransportClosed {
			opErr = ErrTransportClosed
			return
		}
		t.remoteDTLS = &remote
		t.state = TransportConnected
	})
	if doErr != nil {
		return doErr
	}
	return opErr
}

// AddRemoteCandidate records a trickled remote ICE candidate. The candidate
// payload is opaque to the control plane.
func (t *Transport) AddRemoteCandidate(ctx context.Context, candidate json.RawMessage) error {
	var opErr error
	doErr := t.router.worker.do(ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.state == TransportClosed {
			opErr = ErrTransportClosed
			return
		}
		t.remoteCandidates = append(t.remoteCandidates, candidate)
	})
	if doErr != nil {
		return doErr
	}
	return opErr
}

// closeCascade cascades the close to every owned producer and consumer. Runs
// on the worker loop.
func (t *Transport) closeCascade() {
	t.mu.Lock()
	if t.state == TransportClosed {
		t.mu.Unlock()
		return
	}
	t.state = TransportClosed
	producers := make([]*Producer, 0, len(t.producers))
	for id, p := range t.producers {
		producers = append(producers, p)
		delete(t.producers, id)
	}
	for id, c := range t.consumers {
		c.close()
		delete(t.consumers, id)
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.closeCascade()
	}
}

// Producer is a transport-bound source of inbound media.
type Producer struct {
	id            string
	transport     *Transport
	kind          webrtc.RTPCodecType
	codec         Codec
	layers        []SimulcastLayer
	rtpParameters json.RawMessage

	mu     sync.Mutex
	closed bool
}

// ID returns the producer id.
func (p *Producer) ID() string { return p.id }

// TransportID returns the owning transport's id.
func (p *Producer) TransportID() string { return p.transport.id }

// Kind returns "audio" or "video".
func (p *Producer) Kind() string { return p.kind.String() }

// Codec returns the negotiated codec.
func (p *Producer) Codec() Codec { return p.codec }

// Layers returns the simulcast encoding layers; empty for audio.
func (p *Producer) Layers() []SimulcastLayer { return p.layers }

// RTPParameters returns the opaque media parameters from the client.
func (p *Producer) RTPParameters() json.RawMessage { return p.rtpParameters }

// Closed reports whether the producer has been closed.
func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops accepting inbound media on this producer and releases every
// consumer relaying it.
func (p *Producer) Close(ctx context.Context) error {
	return p.transport.router.worker.do(ctx, func() {
		p.transport.mu.Lock()
		delete(p.transport.producers, p.id)
		p.transport.mu.Unlock()
		p.closeCascade()
	})
}

// closeCascade marks the producer closed and closes its consumers across all
// of the routing context's transports. Runs on the worker loop.
func (p *Producer) closeCascade() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	r := p.transport.router
	r.mu.Lock()
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.mu.Lock()
		for id, c := range t.consumers {
			if c.producer == p {
				c.close()
				delete(t.consumers, id)
			}
		}
		t.mu.Unlock()
	}
}

// Consumer is a transport-bound sink relaying exactly one producer.
type Consumer struct {
	id        string
	transport *Transport
	producer  *Producer

	mu     sync.Mutex
	paused bool
	closed bool
}

// ID returns the consumer id.
func (c *Consumer) ID() string { return c.id }

// TransportID returns the owning transport's id.
func (c *Consumer) TransportID() string { return c.transport.id }

// ProducerID returns the consumed producer's id.
func (c *Consumer) ProducerID() string { return c.producer.id }

// Kind mirrors the producer's media kind.
func (c *Consumer) Kind() string { return c.producer.Kind() }

// Codec mirrors the producer's codec.
func (c *Consumer) Codec() Codec { return c.producer.codec }

// Layers mirrors the producer's simulcast layers.
func (c *Consumer) Layers() []SimulcastLayer { return c.producer.layers }

// Paused reports whether relay is currently paused.
func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Closed reports whether the consumer has been released.
func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pause suspends relay without destroying the consumer.
func (c *Consumer) Pause(ctx context.Context) error {
	return c.setPaused(ctx, true)
}

// Resume re-enables relay.
func (c *Consumer) Resume(ctx context.Context) error {
	return c.setPaused(ctx, false)
}

func (c *Consumer) setPaused(ctx context.Context, paused bool) error {
	var opErr error
	doErr := c.transport.router.worker.do(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			opErr = ErrConsumerClosed
			return
		}
		c.paused = paused
	})
	if doErr != nil {
		return doErr
	}
	return opErr
}

// Close stops relaying and releases the consumer.
func (c *Consumer) Close(ctx context.Context) error {
	return c.transport.router.worker.do(ctx, func() {
		c.close()
		c.transport.mu.Lock()
		delete(c.transport.consumers, c.id)
		c.transport.mu.Unlock()
	})
}

func (c *Consumer) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
