package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func opusCodec() Codec {
	return Codec{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func vp8Codec() Codec {
	return Codec{Kind: "video", MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func newTestRouter(t *testing.T, simulcast bool) *Router {
	t.Helper()
	p, err := NewPool(Config{
		WorkerCount:      1,
		ListenIP:         "127.0.0.1",
		RTCMinPort:       40000,
		RTCMaxPort:       40999,
		SimulcastEnabled: simulcast,
		SimulcastLayers: []SimulcastLayer{
			{RID: "low", ScaleResolutionDownBy: 4, MaxBitrate: 500_000},
			{RID: "medium", ScaleResolutionDownBy: 2, MaxBitrate: 1_500_000},
			{RID: "high", ScaleResolutionDownBy: 1, MaxBitrate: 3_000_000},
		},
		OnWorkerDeath: func(int, error) {},
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	r, err := p.CreateRouter(context.Background(), "room-1")
	require.NoError(t, err)
	return r
}

func TestTransportNegotiationParams(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	tr, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)

	params := tr.Params()
	require.NotEmpty(t, params.ID)
	require.NotEmpty(t, params.ICEParameters.UsernameFragment)
	require.NotEmpty(t, params.ICEParameters.Password)
	require.NotEmpty(t, params.ICECandidates)
	require.NotEmpty(t, params.DTLSParameters.Fingerprints)
	require.Equal(t, TransportPending, tr.State())

	require.NoError(t, tr.Connect(ctx, DTLSParameters{Role: "client"}))
	require.Equal(t, TransportConnected, tr.State())

	require.NoError(t, tr.AddRemoteCandidate(ctx, json.RawMessage(`{"candidate":"x"}`)))
}

func TestProduceSimulcastLayers(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, true)

	tr, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)

	video, err := r.CreateProducer(ctx, tr, ProducerOptions{Kind: "video", Codec: vp8Codec()})
	require.NoError(t, err)
	require.Len(t, video.Layers(), 3)
	require.Equal(t, "low", video.Layers()[0].RID)
	require.EqualValues(t, 3_000_000, video.Layers()[2].MaxBitrate)

	// Audio never gets simulcast layers.
	audio, err := r.CreateProducer(ctx, tr, ProducerOptions{Kind: "audio", Codec: opusCodec()})
	require.NoError(t, err)
	require.Empty(t, audio.Layers())
}

func TestProduceSimulcastDisabled(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	tr, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)

	video, err := r.CreateProducer(ctx, tr, ProducerOptions{Kind: "video", Codec: vp8Codec()})
	require.NoError(t, err)
	require.Empty(t, video.Layers())
}

func TestProduceUnsupportedCodec(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	tr, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)

	_, err = r.CreateProducer(ctx, tr, ProducerOptions{
		Kind:  "video",
		Codec: Codec{Kind: "video", MimeType: "video/AV1", ClockRate: 90000},
	})
	require.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestCanConsume(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	tr, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)
	p, err := r.CreateProducer(ctx, tr, ProducerOptions{Kind: "video", Codec: vp8Codec()})
	require.NoError(t, err)

	require.True(t, r.CanConsume(p, RTPCapabilities{Codecs: []Codec{vp8Codec()}}))
	require.False(t, r.CanConsume(p, RTPCapabilities{Codecs: []Codec{opusCodec()}}))
	require.False(t, r.CanConsume(p, RTPCapabilities{}))
}

func TestConsumeLifecycle(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	bt, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)
	p, err := r.CreateProducer(ctx, bt, ProducerOptions{Kind: "video", Codec: vp8Codec()})
	require.NoError(t, err)

	vt, err := r.CreateTransport(ctx, RoleViewer)
	require.NoError(t, err)

	caps := RTPCapabilities{Codecs: []Codec{vp8Codec()}}
	c, err := r.CreateConsumer(ctx, vt, p, caps, false)
	require.NoError(t, err)
	require.False(t, c.Paused())
	require.Equal(t, p.ID(), c.ProducerID())

	require.NoError(t, c.Pause(ctx))
	require.True(t, c.Paused())
	require.NoError(t, c.Resume(ctx))
	require.False(t, c.Paused())

	require.NoError(t, c.Close(ctx))
	require.ErrorIs(t, c.Pause(ctx), ErrConsumerClosed)
}

func TestConsumeStartPaused(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	bt, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)
	p, err := r.CreateProducer(ctx, bt, ProducerOptions{Kind: "video", Codec: vp8Codec()})
	require.NoError(t, err)
	vt, err := r.CreateTransport(ctx, RoleViewer)
	require.NoError(t, err)

	c, err := r.CreateConsumer(ctx, vt, p, RTPCapabilities{Codecs: []Codec{vp8Codec()}}, true)
	require.NoError(t, err)
	require.True(t, c.Paused())
}

func TestConsumeIncompatibleCapabilities(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	bt, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)
	p, err := r.CreateProducer(ctx, bt, ProducerOptions{Kind: "video", Codec: vp8Codec()})
	require.NoError(t, err)
	vt, err := r.CreateTransport(ctx, RoleViewer)
	require.NoError(t, err)

	_, err = r.CreateConsumer(ctx, vt, p, RTPCapabilities{Codecs: []Codec{opusCodec()}}, false)
	require.ErrorIs(t, err, ErrCannotConsume)
}

func TestCloseTransportCascades(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	bt, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)
	p, err := r.CreateProducer(ctx, bt, ProducerOptions{Kind: "video", Codec: vp8Codec()})
	require.NoError(t, err)

	vt, err := r.CreateTransport(ctx, RoleViewer)
	require.NoError(t, err)
	c, err := r.CreateConsumer(ctx, vt, p, RTPCapabilities{Codecs: []Codec{vp8Codec()}}, false)
	require.NoError(t, err)

	require.NoError(t, r.CloseTransport(ctx, bt))

	require.Equal(t, TransportClosed, bt.State())
	require.True(t, p.Closed())
	// Consumers of the closed producer die with it, even on other transports.
	require.True(t, c.Closed())

	transports, producers, consumers := r.Counts()
	require.Equal(t, 1, transports)
	require.Zero(t, producers)
	require.Zero(t, consumers)
}

func TestProducerCloseCascadesToConsumers(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	bt, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)
	p, err := r.CreateProducer(ctx, bt, ProducerOptions{Kind: "video", Codec: vp8Codec()})
	require.NoError(t, err)
	vt, err := r.CreateTransport(ctx, RoleViewer)
	require.NoError(t, err)
	c, err := r.CreateConsumer(ctx, vt, p, RTPCapabilities{Codecs: []Codec{vp8Codec()}}, false)
	require.NoError(t, err)

	require.NoError(t, p.Close(ctx))
	require.True(t, c.Closed())
	require.False(t, r.CanConsume(p, RTPCapabilities{Codecs: []Codec{vp8Codec()}}))
}

func TestRouterCloseCascades(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	bt, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)
	_, err = r.CreateProducer(ctx, bt, ProducerOptions{Kind: "video", Codec: vp8Codec()})
	require.NoError(t, err)

	require.NoError(t, r.Close(ctx))
	require.Equal(t, TransportClosed, bt.State())

	_, err = r.CreateTransport(ctx, RoleViewer)
	require.ErrorIs(t, err, ErrRouterClosed)
}

func TestProduceKindMismatch(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t, false)

	tr, err := r.CreateTransport(ctx, RoleBroadcaster)
	require.NoError(t, err)

	_, err = r.CreateProducer(ctx, tr, ProducerOptions{Kind: "audio", Codec: vp8Codec()})
	require.ErrorIs(t, err, ErrInvalidMediaKind)
}
