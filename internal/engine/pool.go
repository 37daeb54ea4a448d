package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	pkglog "livecast/pkg/log"
)

// Config configures the forwarding-engine worker pool.
type Config struct {
	// WorkerCount is the number of forwarding workers; 0 means one per CPU.
	WorkerCount int
	ListenIP    string
	AnnouncedIP string
	RTCMinPort  int
	RTCMaxPort  int

	SimulcastEnabled bool
	SimulcastLayers  []SimulcastLayer
	Codecs           []Codec

	// OnWorkerDeath is invoked when a worker dies unexpectedly. Live routing
	// contexts cannot migrate off a dead worker, so the default terminates
	// the process.
	OnWorkerDeath func(workerID int, err error)
}

func (c Config) workerCount() int {
	if c.WorkerCount > 0 {
		return c.WorkerCount
	}
	return runtime.NumCPU()
}

// Each worker gets a disjoint slice of the configured RTC port range.
func (c Config) rtcMinPort(workerID int) int {
	return c.RTCMinPort + workerID*c.portSpan()
}

func (c Config) rtcMaxPort(workerID int) int {
	return c.rtcMinPort(workerID) + c.portSpan() - 1
}

func (c Config) portSpan() int {
	return (c.RTCMaxPort - c.RTCMinPort + 1) / c.workerCount()
}

// Stats is a read-only snapshot of pool occupancy.
type Stats struct {
	Workers    int `json:"workers"`
	Rooms      int `json:"rooms"`
	Transports int `json:"transports"`
	Producers  int `json:"producers"`
	Consumers  int `json:"consumers"`
}

// Pool owns the fixed set of forwarding workers and assigns each new room a
// routing context on one of them, round robin.
type Pool struct {
	cfg     Config
	workers []*Worker
	next    uint32

	mu      sync.RWMutex
	routers map[string]*Router
	closing bool
}

// NewPool spawns the configured number of workers.
func NewPool(cfg Config) (*Pool, error) {
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = DefaultCodecs()
	}
	if cfg.OnWorkerDeath == nil {
		cfg.OnWorkerDeath = func(workerID int, err error) {
			pkglog.L().Fatal().Err(err).Int(pkglog.FieldWorkerID, workerID).
				Msg("forwarding worker died, terminating")
		}
	}
	if err := registerCodecs(cfg.Codecs); err != nil {
		return nil, fmt.Errorf("invalid codec set: %w", err)
	}

	n := cfg.workerCount()
	p := &Pool{
		cfg:     cfg,
		routers: make(map[string]*Router),
	}
	for i := 0; i < n; i++ {
		w, err := newWorker(i, cfg)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.workers = append(p.workers, w)
		go p.watch(w)
		pkglog.L().Info().Int(pkglog.FieldWorkerID, i).
			Int("rtc_min_port", w.minPort).Int("rtc_max_port", w.maxPort).
			Msg("forwarding worker started")
	}
	return p, nil
}

func (p *Pool) watch(w *Worker) {
	<-w.Done()

	p.mu.RLock()
	closing := p.closing
	p.mu.RUnlock()

	if err := w.ExitError(); err != nil && !closing {
		p.cfg.OnWorkerDeath(w.ID(), err)
	}
}

// NextWorker returns the next worker in round-robin order.
func (p *Pool) NextWorker() *Worker {
	i := atomic.AddUint32(&p.next, 1) - 1
	return p.workers[int(i)%len(p.workers)]
}

// CreateRouter returns the room's routing context, creating it on the next
// worker if the room doesn't have one yet. A room keeps its first router for
// its entire lifetime.
func (p *Pool) CreateRouter(ctx context.Context, roomID string) (*Router, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.routers[roomID]; ok {
		return r, nil
	}

	w := p.NextWorker()
	select {
	case <-w.Done():
		return nil, ErrWorkerDead
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r := newRouter(roomID, w, p.cfg)
	p.routers[roomID] = r
	pkglog.L().Info().Str(pkglog.FieldRoomID, roomID).
		Int(pkglog.FieldWorkerID, w.ID()).Msg("routing context created")
	return r, nil
}

// Router returns the room's routing context, if any.
func (p *Pool) Router(roomID string) (*Router, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.routers[roomID]
	return r, ok
}

// CloseRouter tears down the room's routing context.
func (p *Pool) CloseRouter(ctx context.Context, roomID string) error {
	p.mu.Lock()
	r, ok := p.routers[roomID]
	delete(p.routers, roomID)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Close(ctx)
}

// Stats aggregates occupancy across all workers and rooms.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{Workers: len(p.workers), Rooms: len(p.routers)}
	for _, r := range p.routers {
		t, pr, c := r.Counts()
		s.Transports += t
		s.Producers += pr
		s.Consumers += c
	}
	return s
}

// Close shuts every worker down cleanly.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	for _, w := range p.workers {
		w.Close()
	}
}
