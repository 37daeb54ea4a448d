package engine

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/pion/webrtc/v4"
)

var (
	ErrWorkerDead       = errors.New("forwarding worker is dead")
	ErrRouterClosed     = errors.New("router is closed")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrProducerClosed   = errors.New("producer is closed")
	ErrConsumerClosed   = errors.New("consumer is closed")
	ErrCannotConsume    = errors.New("capabilities are not compatible with producer")
	ErrUnsupportedCodec = errors.New("codec is not supported by the router")
	ErrInvalidMediaKind = errors.New("media kind must be audio or video")
)

// Role marks which side of the relay a transport serves.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

// TransportState tracks DTLS/ICE negotiation progress.
type TransportState string

const (
	TransportPending   TransportState = "pending"
	TransportConnected TransportState = "connected"
	TransportClosed    TransportState = "closed"
)

// Codec is one entry of a router's fixed capability set.
type Codec struct {
	Kind        string `json:"kind"` // audio | video
	MimeType    string `json:"mime_type"`
	ClockRate   uint32 `json:"clock_rate"`
	Channels    uint16 `json:"channels,omitempty"`
	SDPFmtpLine string `json:"sdp_fmtp_line,omitempty"`
}

// RTPCapabilities is the capability set exchanged with clients.
type RTPCapabilities struct {
	Codecs []Codec `json:"codecs"`
}

// SimulcastLayer describes one encoding tier of a video producer.
type SimulcastLayer struct {
	RID                   string  `json:"rid"`
	ScaleResolutionDownBy float64 `json:"scale_resolution_down_by"`
	MaxBitrate            uint32  `json:"max_bitrate"`
}

// ICEParameters are the local ICE credentials of a transport.
type ICEParameters struct {
	UsernameFragment string `json:"username_fragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"ice_lite"`
}

// ICECandidate is one local candidate offered during negotiation.
type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       int    `json:"port"`
	Type       string `json:"type"`
}

// DTLSFingerprint is a certificate digest advertised for the secure handshake.
type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DTLSParameters carry one side's DTLS role and fingerprints.
type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

// TransportParams are the negotiation parameters returned on transport
// creation.
type TransportParams struct {
	ID             string         `json:"id"`
	ICEParameters  ICEParameters  `json:"ice_parameters"`
	ICECandidates  []ICECandidate `json:"ice_candidates"`
	DTLSParameters DTLSParameters `json:"dtls_parameters"`
}

// ProducerOptions describe the inbound media a transport starts accepting.
type ProducerOptions struct {
	Kind          string          `json:"kind"`
	Codec         Codec           `json:"codec"`
	RTPParameters json.RawMessage `json:"rtp_parameters"`
}

// DefaultCodecs is the fixed router codec set: one audio codec and several
// video codecs for broad client compatibility.
func DefaultCodecs() []Codec {
	return []Codec{
		{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
		{Kind: "video", MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		{Kind: "video", MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=2"},
		{Kind: "video", MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
	}
}

func codecKind(kind string) (webrtc.RTPCodecType, error) {
	switch strings.ToLower(kind) {
	case "audio":
		return webrtc.RTPCodecTypeAudio, nil
	case "video":
		return webrtc.RTPCodecTypeVideo, nil
	default:
		return webrtc.RTPCodecType(0), ErrInvalidMediaKind
	}
}

func codecMatches(a, b Codec) bool {
	return strings.EqualFold(a.MimeType, b.MimeType) && a.ClockRate == b.ClockRate
}

// registerCodecs validates the codec set against pion's media engine. A set
// the media engine rejects would never negotiate with real clients.
func registerCodecs(codecs []Codec) error {
	m := &webrtc.MediaEngine{}
	payloadType := webrtc.PayloadType(96)
	for _, c := range codecs {
		kind, err := codecKind(c.Kind)
		if err != nil {
			return err
		}
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    c.MimeType,
				ClockRate:   c.ClockRate,
				Channels:    c.Channels,
				SDPFmtpLine: c.SDPFmtpLine,
			},
			PayloadType: payloadType,
		}
		if err := m.RegisterCodec(params, kind); err != nil {
			return err
		}
		payloadType++
	}
	return nil
}
