package engine

import (
	"encoding/json"

	"github.com/ribbonhq/ribbon/internal/domain"
)

// RTP parameter blobs negotiated between browser and engine pass through
// the core untouched.
type (
	RTPCapabilities = json.RawMessage
	RTPParameters   = json.RawMessage
	DTLSParameters  = json.RawMessage
)

// TransportInfo is what the engine returns for a freshly allocated
// WebRTC transport; it is relayed to the client verbatim.
type TransportInfo struct {
	ID             domain.TransportID `json:"id"`
	ICEParameters  json.RawMessage    `json:"iceParameters"`
	ICECandidates  json.RawMessage    `json:"iceCandidates"`
	DTLSParameters json.RawMessage    `json:"dtlsParameters"`
}

type ProduceResult struct {
	ID domain.ProducerID `json:"id"`
}

// ConsumerInfo describes an engine-side consumer. Consumers are created
// paused; the client resumes once playback is wired up.
type ConsumerInfo struct {
	ID            domain.ConsumerID `json:"id"`
	ProducerID    domain.ProducerID `json:"producerId"`
	Kind          domain.MediaKind  `json:"kind"`
	RTPParameters RTPParameters     `json:"rtpParameters"`
}

type ProducerInfo struct {
	ProducerID domain.ProducerID `json:"producerId"`
	PeerID     domain.PeerID     `json:"peerId"`
	Kind       domain.MediaKind  `json:"kind"`
}

type JoinResult struct {
	Peers []PeerInfo `json:"peers"`
}

type PeerInfo struct {
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
}

type LeaveResult struct {
	ClosedProducers []domain.ProducerID `json:"closedProducers"`
}

type RoomStats struct {
	PeerCount     int `json:"peerCount"`
	ProducerCount int `json:"producerCount"`
	ConsumerCount int `json:"consumerCount"`
}

// NotificationHandler receives server-push events from the engine. Calls
// arrive on the client's read loop goroutine; handlers must not block.
type NotificationHandler interface {
	OnNewProducer(room domain.RoomID, peer domain.PeerID, producer domain.ProducerID, kind domain.MediaKind)
	OnProducerClosed(room domain.RoomID, peer domain.PeerID, producer domain.ProducerID)
	OnPeerClosed(room domain.RoomID, peer domain.PeerID)
}
