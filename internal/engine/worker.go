package engine

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/pion/randutil"
	"github.com/pion/webrtc/v4"
)

const runesAlpha = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Worker is one forwarding loop. Every operation on a router hosted by this
// worker runs serialized on the worker's loop; callers suspend until the loop
// answers. A worker that stops answering is dead, and its routers die with it.
type Worker struct {
	id           int
	listenIP     string
	announcedIP  string
	minPort      int
	maxPort      int
	fingerprints []DTLSFingerprint

	ops  chan workerOp
	quit chan struct{}
	done chan struct{}

	mu       sync.Mutex
	nextPort int
	closed   bool // Close() was requested; a closed worker is not a dead one
	exitErr  error
}

type workerOp struct {
	fn   func()
	done chan struct{}
}

func newWorker(id int, cfg Config) (*Worker, error) {
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("worker %d: generate DTLS key: %w", id, err)
	}
	cert, err := webrtc.GenerateCertificate(sk)
	if err != nil {
		return nil, fmt.Errorf("worker %d: generate DTLS certificate: %w", id, err)
	}
	fps, err := cert.GetFingerprints()
	if err != nil {
		return nil, fmt.Errorf("worker %d: certificate fingerprints: %w", id, err)
	}

	w := &Worker{
		id:          id,
		listenIP:    cfg.ListenIP,
		announcedIP: cfg.AnnouncedIP,
		minPort:     cfg.rtcMinPort(id),
		maxPort:     cfg.rtcMaxPort(id),
		ops:         make(chan workerOp),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	w.nextPort = w.minPort
	for _, fp := range fps {
		w.fingerprints = append(w.fingerprints, DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}

	go w.run()
	return w, nil
}

func (w *Worker) run() {
	defer func() {
		if r := recover(); r != nil {
			w.mu.Lock()
			w.exitErr = fmt.Errorf("worker %d panicked: %v", w.id, r)
			w.mu.Unlock()
		}
		close(w.done)
	}()

	for {
		select {
		case op := <-w.ops:
			op.fn()
			close(op.done)
		case <-w.quit:
			return
		}
	}
}

// do posts fn to the worker loop and waits for it to complete. It returns
// ErrWorkerDead if the loop has exited, or the context error if the caller
// gives up waiting; in that case fn may still run and its result is discarded.
func (w *Worker) do(ctx context.Context, fn func()) error {
	op := workerOp{fn: fn, done: make(chan struct{})}

	select {
	case w.ops <- op:
	case <-w.done:
		return ErrWorkerDead
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-op.done:
		return nil
	case <-w.done:
		return ErrWorkerDead
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID returns the worker's index in the pool.
func (w *Worker) ID() int { return w.id }

// Done is closed when the worker loop has exited, cleanly or not.
func (w *Worker) Done() <-chan struct{} { return w.done }

// ExitError reports why the loop exited; nil for a clean shutdown.
func (w *Worker) ExitError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.exitErr != nil {
		return w.exitErr
	}
	if !w.closed {
		select {
		case <-w.done:
			return fmt.Errorf("worker %d exited unexpectedly", w.id)
		default:
		}
	}
	return nil
}

// Close shuts the worker loop down cleanly.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.quit)
	<-w.done
}

// kill terminates the loop as if the worker crashed. Test hook.
func (w *Worker) kill(err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = false
	w.exitErr = err
	w.mu.Unlock()

	// Closing quit without marking closed makes the exit look like a crash.
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.done
}

func (w *Worker) allocPort() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.nextPort
	w.nextPort++
	if w.nextPort > w.maxPort {
		w.nextPort = w.minPort
	}
	return p
}

// localCandidates builds the host candidates advertised for a new transport,
// one UDP and one TCP, on the worker's port range. The announced IP replaces
// the listen IP when the engine sits behind NAT.
func (w *Worker) localCandidates() []ICECandidate {
	ip := w.listenIP
	if w.announcedIP != "" {
		ip = w.announcedIP
	}
	return []ICECandidate{
		{Foundation: "udpcandidate", Priority: 1076302079, IP: ip, Protocol: "udp", Port: w.allocPort(), Type: "host"},
		{Foundation: "tcpcandidate", Priority: 1076276479, IP: ip, Protocol: "tcp", Port: w.allocPort(), Type: "host"},
	}
}

func (w *Worker) iceParameters() (ICEParameters, error) {
	ufrag, err := randutil.GenerateCryptoRandomString(16, runesAlpha)
	if err != nil {
		return ICEParameters{}, err
	}
	pwd, err := randutil.GenerateCryptoRandomString(32, runesAlpha)
	if err != nil {
		return ICEParameters{}, err
	}
	return ICEParameters{UsernameFragment: ufrag, Password: pwd, ICELite: true}, nil
}

func (w *Worker) dtlsParameters() DTLSParameters {
	return DTLSParameters{Role: "auto", Fingerprints: w.fingerprints}
}
