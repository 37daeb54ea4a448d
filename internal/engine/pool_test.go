package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, workers int) *Pool {
	t.Helper()
	p, err := NewPool(Config{
		WorkerCount: workers,
		ListenIP:    "127.0.0.1",
		RTCMinPort:  40000,
		RTCMaxPort:  49999,
		OnWorkerDeath: func(workerID int, err error) {
			t.Logf("worker %d died: %v", workerID, err)
		},
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestRoundRobinAssignment(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 3)

	counts := make(map[int]int)
	for i := 0; i < 9; i++ {
		r, err := p.CreateRouter(ctx, roomName(i))
		require.NoError(t, err)
		counts[r.Worker().ID()]++
	}

	require.Len(t, counts, 3)
	for id, n := range counts {
		require.Equal(t, 3, n, "worker %d", id)
	}
}

func roomName(i int) string {
	return string(rune('a'+i)) + "-room"
}

func TestCreateRouterIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 2)

	r1, err := p.CreateRouter(ctx, "room-1")
	require.NoError(t, err)
	r2, err := p.CreateRouter(ctx, "room-1")
	require.NoError(t, err)
	require.Same(t, r1, r2)

	// The second distinct room lands on the other worker.
	r3, err := p.CreateRouter(ctx, "room-2")
	require.NoError(t, err)
	require.NotEqual(t, r1.Worker().ID(), r3.Worker().ID())
}

func TestDisjointPortRanges(t *testing.T) {
	p := newTestPool(t, 4)

	seen := make(map[int]struct{})
	for _, w := range p.workers {
		require.Less(t, w.minPort, w.maxPort)
		for port := w.minPort; port <= w.maxPort; port++ {
			_, dup := seen[port]
			require.False(t, dup, "port %d assigned to two workers", port)
			seen[port] = struct{}{}
		}
	}
}

func TestWorkerDeathNotifiesPool(t *testing.T) {
	var (
		mu   sync.Mutex
		dead []int
	)
	p, err := NewPool(Config{
		WorkerCount: 2,
		ListenIP:    "127.0.0.1",
		RTCMinPort:  40000,
		RTCMaxPort:  49999,
		OnWorkerDeath: func(workerID int, err error) {
			mu.Lock()
			dead = append(dead, workerID)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	p.workers[1].kill(errors.New("segfault"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dead) == 1 && dead[0] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestOperationOnDeadWorker(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 1)

	r, err := p.CreateRouter(ctx, "room-1")
	require.NoError(t, err)

	p.workers[0].kill(errors.New("segfault"))
	<-p.workers[0].Done()

	_, err = r.CreateTransport(ctx, RoleViewer)
	require.ErrorIs(t, err, ErrWorkerDead)
}

func TestPoolStats(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 2)

	r, err := p.CreateRouter(ctx, "room-1")
	require.NoError(t, err)
	bt, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)
	_, err = r.CreateProducer(ctx, bt, ProducerOptions{Kind: "audio", Codec: opusCodec()})
	require.NoError(t, err)

	stats := p.Stats()
	require.Equal(t, 2, stats.Workers)
	require.Equal(t, 1, stats.Rooms)
	require.Equal(t, 1, stats.Transports)
	require.Equal(t, 1, stats.Producers)
	require.Zero(t, stats.Consumers)
}

func TestCloseRouterReleasesRoom(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 1)

	_, err := p.CreateRouter(ctx, "room-1")
	require.NoError(t, err)
	require.NoError(t, p.CloseRouter(ctx, "room-1"))

	_, ok := p.Router("room-1")
	require.False(t, ok)
}
