package domain

import (
	"encoding/json"

	"livecast/internal/engine"
)

// Client -> server event types.
const (
	MsgTypeJoinRoom         = "join_room"
	MsgTypeLeaveRoom        = "leave_room"
	MsgTypeStartBroadcast   = "start_broadcast"
	MsgTypeStopBroadcast    = "stop_broadcast"
	MsgTypeGetCapabilities  = "get_capabilities"
	MsgTypeCreateTransport  = "create_transport"
	MsgTypeConnectTransport = "connect_transport"
	MsgTypeProduce          = "produce"
	MsgTypeConsume          = "consume"
	MsgTypePauseConsumer    = "pause_consumer"
	MsgTypeResumeConsumer   = "resume_consumer"
	MsgTypeRelaySignal      = "relay_signal"
	MsgTypeICECandidate     = "ice_candidate"
	MsgTypePing             = "ping"
)

// Server -> client event types.
const (
	MsgTypeRoomJoined         = "room_joined"
	MsgTypeRoomLeft           = "room_left"
	MsgTypeBroadcastStarted   = "broadcast_started"
	MsgTypeBroadcastStopped   = "broadcast_stopped"
	MsgTypeCapabilities       = "capabilities"
	MsgTypeTransportCreated   = "transport_created"
	MsgTypeTransportConnected = "transport_connected"
	MsgTypeProducerCreated    = "producer_created"
	MsgTypeConsumerCreated    = "consumer_created"
	MsgTypeConsumerPaused     = "consumer_paused"
	MsgTypeConsumerResumed    = "consumer_resumed"
	MsgTypeCandidateAdded     = "ice_candidate_added"
	MsgTypeSignal             = "signal"
	MsgTypeViewerJoined       = "viewer_joined"
	MsgTypeViewerLeft         = "viewer_left"
	MsgTypeNewProducer        = "new_producer"
	MsgTypeError              = "error"
	MsgTypePong               = "pong"
)

// BaseMessage carries the event type shared by all messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> server payloads.

type JoinRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type LeaveRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type StartBroadcastMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type StopBroadcastMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type GetCapabilitiesMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type CreateTransportMessage struct {
	Type          string `json:"type"`
	RoomID        string `json:"room_id"`
	IsBroadcaster bool   `json:"is_broadcaster"`
}

type ConnectTransportMessage struct {
	Type           string                `json:"type"`
	RoomID         string                `json:"room_id"`
	TransportID    string                `json:"transport_id"`
	DTLSParameters engine.DTLSParameters `json:"dtls_parameters"`
}

type ProduceMessage struct {
	Type          string          `json:"type"`
	RoomID        string          `json:"room_id"`
	TransportID   string          `json:"transport_id"`
	Kind          string          `json:"kind"`
	Codec         engine.Codec    `json:"codec"`
	RTPParameters json.RawMessage `json:"rtp_parameters"`
}

type ConsumeMessage struct {
	Type            string                 `json:"type"`
	RoomID          string                 `json:"room_id"`
	TransportID     string                 `json:"transport_id"`
	ProducerID      string                 `json:"producer_id"`
	RTPCapabilities engine.RTPCapabilities `json:"rtp_capabilities"`
}

type PauseConsumerMessage struct {
	Type       string `json:"type"`
	RoomID     string `json:"room_id"`
	ConsumerID string `json:"consumer_id"`
}

type ResumeConsumerMessage struct {
	Type       string `json:"type"`
	RoomID     string `json:"room_id"`
	ConsumerID string `json:"consumer_id"`
}

// RelaySignalMessage is negotiation data the gateway forwards verbatim to the
// target connection.
type RelaySignalMessage struct {
	Type   string          `json:"type"`
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

type ICECandidateMessage struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"room_id"`
	TransportID string          `json:"transport_id"`
	Candidate   json.RawMessage `json:"candidate"`
}

// Server -> client payloads.

type RoomJoinedMessage struct {
	Type         string                 `json:"type"`
	RoomID       string                 `json:"room_id"`
	ViewerCount  int                    `json:"viewer_count"`
	Capabilities engine.RTPCapabilities `json:"capabilities"`
}

type RoomLeftMessage struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	ViewerCount int    `json:"viewer_count"`
}

type BroadcastStartedMessage struct {
	Type          string                  `json:"type"`
	RoomID        string                  `json:"room_id"`
	BroadcasterID string                  `json:"broadcaster_id,omitempty"`
	Capabilities  *engine.RTPCapabilities `json:"capabilities,omitempty"`
}

type BroadcastStoppedMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type CapabilitiesMessage struct {
	Type         string                 `json:"type"`
	RoomID       string                 `json:"room_id"`
	Capabilities engine.RTPCapabilities `json:"capabilities"`
}

type TransportCreatedMessage struct {
	Type           string                `json:"type"`
	RoomID         string                `json:"room_id"`
	TransportID    string                `json:"transport_id"`
	ICEParameters  engine.ICEParameters  `json:"ice_parameters"`
	ICECandidates  []engine.ICECandidate `json:"ice_candidates"`
	DTLSParameters engine.DTLSParameters `json:"dtls_parameters"`
}

type TransportConnectedMessage struct {
	Type        string `json:"type"`
	TransportID string `json:"transport_id"`
}

type ProducerCreatedMessage struct {
	Type       string                  `json:"type"`
	ProducerID string                  `json:"producer_id"`
	Kind       string                  `json:"kind"`
	Layers     []engine.SimulcastLayer `json:"layers,omitempty"`
}

type ConsumerCreatedMessage struct {
	Type       string                  `json:"type"`
	ConsumerID string                  `json:"consumer_id"`
	ProducerID string                  `json:"producer_id"`
	Kind       string                  `json:"kind"`
	Codec      engine.Codec            `json:"codec"`
	Layers     []engine.SimulcastLayer `json:"layers,omitempty"`
	Paused     bool                    `json:"paused"`
}

type ConsumerStateMessage struct {
	Type       string `json:"type"`
	ConsumerID string `json:"consumer_id"`
}

type CandidateAddedMessage struct {
	Type        string `json:"type"`
	TransportID string `json:"transport_id"`
}

// SignalMessage delivers relayed negotiation data to its target.
type SignalMessage struct {
	Type   string          `json:"type"`
	From   string          `json:"from"`
	UserID string          `json:"user_id,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

type ViewerJoinedMessage struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	ViewerCount int    `json:"viewer_count"`
}

type ViewerLeftMessage struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	ViewerCount int    `json:"viewer_count"`
}

type NewProducerMessage struct {
	Type       string `json:"type"`
	RoomID     string `json:"room_id"`
	ProducerID string `json:"producer_id"`
	Kind       string `json:"kind"`
}
