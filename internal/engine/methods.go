package engine

import (
	"context"
	"encoding/json"

	"github.com/ribbonhq/ribbon/internal/domain"
)

// Typed wrappers over the RPC surface. Parameter shapes mirror what the
// engine expects on the wire.

func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil, nil)
}

type routerParams struct {
	RoomID domain.RoomID `json:"roomId"`
	Worker int           `json:"worker,omitempty"`
}

// CreateRouter allocates the engine-side router for a room on the given
// worker. Issued once per room, before any peer joins.
func (c *Client) CreateRouter(ctx context.Context, room domain.RoomID, worker int) error {
	return c.call(ctx, "createRouter", routerParams{RoomID: room, Worker: worker}, nil)
}

// CloseRouter releases the engine-side router and everything under it.
// Issued exactly once, when the room is destroyed.
func (c *Client) CloseRouter(ctx context.Context, room domain.RoomID) error {
	return c.call(ctx, "closeRouter", routerParams{RoomID: room}, nil)
}

func (c *Client) RouterCapabilities(ctx context.Context, room domain.RoomID) (RTPCapabilities, error) {
	var caps json.RawMessage
	err := c.call(ctx, "getRouterRtpCapabilities", routerParams{RoomID: room}, &caps)
	return caps, err
}

type peerParams struct {
	RoomID      domain.RoomID `json:"roomId"`
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName,omitempty"`
}

func (c *Client) Join(ctx context.Context, room domain.RoomID, peer domain.PeerID, displayName string) (JoinResult, error) {
	var res JoinResult
	err := c.call(ctx, "join", peerParams{RoomID: room, PeerID: peer, DisplayName: displayName}, &res)
	return res, err
}

func (c *Client) Leave(ctx context.Context, room domain.RoomID, peer domain.PeerID) ([]domain.ProducerID, error) {
	var res LeaveResult
	err := c.call(ctx, "leave", peerParams{RoomID: room, PeerID: peer}, &res)
	return res.ClosedProducers, err
}

type createTransportParams struct {
	RoomID    domain.RoomID `json:"roomId"`
	PeerID    domain.PeerID `json:"peerId"`
	Consuming bool          `json:"consuming"`
}

func (c *Client) CreateTransport(ctx context.Context, room domain.RoomID, peer domain.PeerID, consuming bool) (TransportInfo, error) {
	var res TransportInfo
	err := c.call(ctx, "createWebRtcTransport", createTransportParams{RoomID: room, PeerID: peer, Consuming: consuming}, &res)
	return res, err
}

type connectTransportParams struct {
	RoomID         domain.RoomID      `json:"roomId"`
	PeerID         domain.PeerID      `json:"peerId"`
	TransportID    domain.TransportID `json:"transportId"`
	DTLSParameters DTLSParameters     `json:"dtlsParameters"`
}

func (c *Client) ConnectTransport(ctx context.Context, room domain.RoomID, peer domain.PeerID, transport domain.TransportID, dtls DTLSParameters) error {
	return c.call(ctx, "connectTransport", connectTransportParams{
		RoomID: room, PeerID: peer, TransportID: transport, DTLSParameters: dtls,
	}, nil)
}

type produceParams struct {
	RoomID        domain.RoomID      `json:"roomId"`
	PeerID        domain.PeerID      `json:"peerId"`
	TransportID   domain.TransportID `json:"transportId"`
	Kind          domain.MediaKind   `json:"kind"`
	RTPParameters RTPParameters      `json:"rtpParameters"`
}

func (c *Client) Produce(ctx context.Context, room domain.RoomID, peer domain.PeerID, transport domain.TransportID, kind domain.MediaKind, rtp RTPParameters) (domain.ProducerID, error) {
	var res ProduceResult
	err := c.call(ctx, "produce", produceParams{
		RoomID: room, PeerID: peer, TransportID: transport, Kind: kind, RTPParameters: rtp,
	}, &res)
	return res.ID, err
}

type consumeParams struct {
	RoomID          domain.RoomID     `json:"roomId"`
	PeerID          domain.PeerID     `json:"peerId"`
	ProducerID      domain.ProducerID `json:"producerId"`
	RTPCapabilities RTPCapabilities   `json:"rtpCapabilities"`
}

func (c *Client) Consume(ctx context.Context, room domain.RoomID, peer domain.PeerID, producer domain.ProducerID, caps RTPCapabilities) (ConsumerInfo, error) {
	var res ConsumerInfo
	err := c.call(ctx, "consume", consumeParams{
		RoomID: room, PeerID: peer, ProducerID: producer, RTPCapabilities: caps,
	}, &res)
	return res, err
}

type consumerParams struct {
	RoomID     domain.RoomID     `json:"roomId"`
	PeerID     domain.PeerID     `json:"peerId"`
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

func (c *Client) ResumeConsumer(ctx context.Context, room domain.RoomID, peer domain.PeerID, consumer domain.ConsumerID) error {
	return c.call(ctx, "resumeConsumer", consumerParams{RoomID: room, PeerID: peer, ConsumerID: consumer}, nil)
}

type producerParams struct {
	RoomID     domain.RoomID     `json:"roomId"`
	PeerID     domain.PeerID     `json:"peerId"`
	ProducerID domain.ProducerID `json:"producerId"`
}

func (c *Client) PauseProducer(ctx context.Context, room domain.RoomID, peer domain.PeerID, producer domain.ProducerID) error {
	return c.call(ctx, "pauseProducer", producerParams{RoomID: room, PeerID: peer, ProducerID: producer}, nil)
}

func (c *Client) ResumeProducer(ctx context.Context, room domain.RoomID, peer domain.PeerID, producer domain.ProducerID) error {
	return c.call(ctx, "resumeProducer", producerParams{RoomID: room, PeerID: peer, ProducerID: producer}, nil)
}

func (c *Client) CloseProducer(ctx context.Context, room domain.RoomID, peer domain.PeerID, producer domain.ProducerID) error {
	return c.call(ctx, "closeProducer", producerParams{RoomID: room, PeerID: peer, ProducerID: producer}, nil)
}

func (c *Client) Producers(ctx context.Context, room domain.RoomID, peer domain.PeerID) ([]ProducerInfo, error) {
	var res []ProducerInfo
	err := c.call(ctx, "getProducers", peerParams{RoomID: room, PeerID: peer}, &res)
	return res, err
}

func (c *Client) RoomStats(ctx context.Context, room domain.RoomID) (RoomStats, error) {
	var res RoomStats
	err := c.call(ctx, "getRoomStats", routerParams{RoomID: room}, &res)
	return res, err
}

type layersParams struct {
	RoomID        domain.RoomID     `json:"roomId"`
	PeerID        domain.PeerID     `json:"peerId"`
	ConsumerID    domain.ConsumerID `json:"consumerId"`
	SpatialLayer  int               `json:"spatialLayer"`
	TemporalLayer *int              `json:"temporalLayer,omitempty"`
}

// SetPreferredLayers passes a simulcast layer hint through to the engine.
// Layer selection policy is entirely the engine's business.
func (c *Client) SetPreferredLayers(ctx context.Context, room domain.RoomID, peer domain.PeerID, consumer domain.ConsumerID, spatial int, temporal *int) error {
	return c.call(ctx, "setPreferredLayers", layersParams{
		RoomID: room, PeerID: peer, ConsumerID: consumer, SpatialLayer: spatial, TemporalLayer: temporal,
	}, nil)
}
