package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/engine"
	"github.com/ribbonhq/ribbon/internal/session"
)

// CreateTransport allocates a WebRTC transport for the peer. Direction is
// fixed at creation: a consuming transport never accepts produce.
func (o *Orchestrator) CreateTransport(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, consuming bool) (engine.TransportInfo, error) {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return engine.TransportInfo{}, domain.ErrRoomNotFound
	}
	if err := room.EnsureActive(peerID); err != nil {
		return engine.TransportInfo{}, err
	}

	info, err := o.Engine.CreateTransport(ctx, roomID, peerID, consuming)
	if err != nil {
		return engine.TransportInfo{}, err
	}
	if cerr := room.CommitTransport(peerID, session.Transport{ID: info.ID, Consuming: consuming}); cerr != nil {
		// Peer left between the engine call and the commit; the engine side
		// is cleaned by its own leave handling.
		return engine.TransportInfo{}, cerr
	}
	return info, nil
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, transportID domain.TransportID, dtls engine.DTLSParameters) error {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	if err := room.ValidateTransport(peerID, transportID); err != nil {
		return err
	}
	if err := o.Engine.ConnectTransport(ctx, roomID, peerID, transportID, dtls); err != nil {
		return err
	}
	return room.MarkTransportConnected(peerID, transportID)
}

// Produce publishes a track. A second produce of the same kind replaces
// the first: the old producer is closed engine-side and announced as
// closed before the new one is announced.
func (o *Orchestrator) Produce(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, transportID domain.TransportID, kind domain.MediaKind, rtp engine.RTPParameters) (domain.ProducerID, error) {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return "", domain.ErrRoomNotFound
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: media kind %q", domain.ErrBadRequest, kind)
	}
	if err := room.ValidateProduce(peerID, transportID, kind); err != nil {
		return "", err
	}

	id, err := o.Engine.Produce(ctx, roomID, peerID, transportID, kind, rtp)
	if err != nil {
		return "", err
	}

	replaced, err := room.CommitProducer(peerID, kind, id)
	if err != nil {
		// Peer raced out during the engine call. Close the freshly created
		// producer so it does not linger in the router.
		o.closeEngineProducer(roomID, peerID, id)
		return "", err
	}
	if replaced != "" {
		o.closeEngineProducer(roomID, peerID, replaced)
		o.notify().ProducerClosed(roomID, peerID, replaced)
	}
	o.notify().NewProducer(roomID, session.ProducerEntry{ProducerID: id, PeerID: peerID, Kind: kind})
	return id, nil
}

// Consume subscribes the peer to another peer's producer. Consumers are
// created paused; the client resumes once its transport is ready.
func (o *Orchestrator) Consume(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, producerID domain.ProducerID, caps engine.RTPCapabilities) (engine.ConsumerInfo, error) {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return engine.ConsumerInfo{}, domain.ErrRoomNotFound
	}
	if err := room.EnsureActive(peerID); err != nil {
		return engine.ConsumerInfo{}, err
	}
	// A consume racing a close is an expected interleaving, not a protocol
	// violation; surface it as not-found so the client just drops the tile.
	if _, live := room.ProducerOwner(producerID); !live {
		return engine.ConsumerInfo{}, domain.ErrProducerNotFound
	}

	info, err := o.Engine.Consume(ctx, roomID, peerID, producerID, caps)
	if err != nil {
		return engine.ConsumerInfo{}, err
	}
	if cerr := room.CommitConsumer(peerID, session.Consumer{ID: info.ID, ProducerID: info.ProducerID, Paused: true}); cerr != nil {
		return engine.ConsumerInfo{}, cerr
	}
	return info, nil
}

func (o *Orchestrator) ResumeConsumer(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, consumerID domain.ConsumerID) error {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	if err := o.Engine.ResumeConsumer(ctx, roomID, peerID, consumerID); err != nil {
		return err
	}
	return room.MarkConsumerResumed(peerID, consumerID)
}

// PauseProducer mutes one of the caller's own tracks. The producer stays
// alive and consumers stay attached; only the flow stops.
func (o *Orchestrator) PauseProducer(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, producerID domain.ProducerID) error {
	if err := o.checkProducerOwner(roomID, peerID, producerID); err != nil {
		return err
	}
	if err := o.Engine.PauseProducer(ctx, roomID, peerID, producerID); err != nil {
		return err
	}
	room, _ := o.Registry.Get(roomID)
	if room != nil {
		if err := room.SetProducerPaused(peerID, producerID, true); err != nil {
			return err
		}
	}
	o.notify().ProducerPaused(roomID, peerID, producerID)
	return nil
}

func (o *Orchestrator) ResumeProducer(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, producerID domain.ProducerID) error {
	if err := o.checkProducerOwner(roomID, peerID, producerID); err != nil {
		return err
	}
	if err := o.Engine.ResumeProducer(ctx, roomID, peerID, producerID); err != nil {
		return err
	}
	room, _ := o.Registry.Get(roomID)
	if room != nil {
		if err := room.SetProducerPaused(peerID, producerID, false); err != nil {
			return err
		}
	}
	o.notify().ProducerResumed(roomID, peerID, producerID)
	return nil
}

// CloseProducer retires one of the caller's own tracks for good.
func (o *Orchestrator) CloseProducer(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, producerID domain.ProducerID) error {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	if err := o.checkProducerOwner(roomID, peerID, producerID); err != nil {
		return err
	}
	if err := o.Engine.CloseProducer(ctx, roomID, peerID, producerID); err != nil {
		return err
	}
	if removed, _ := room.RemoveProducer(peerID, producerID); removed {
		o.notify().ProducerClosed(roomID, peerID, producerID)
	}
	return nil
}

// ListProducers returns every live producer in join order, excluding the
// caller's own.
func (o *Orchestrator) ListProducers(roomID domain.RoomID, peerID domain.PeerID) ([]session.ProducerEntry, error) {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if err := room.EnsureActive(peerID); err != nil {
		return nil, err
	}
	return room.Producers(peerID), nil
}

// SetPreferredLayers forwards a simulcast layer preference for one of the
// caller's consumers. Purely an engine concern; no local state changes.
func (o *Orchestrator) SetPreferredLayers(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, consumerID domain.ConsumerID, spatial int, temporal *int) error {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	if err := room.EnsureActive(peerID); err != nil {
		return err
	}
	return o.Engine.SetPreferredLayers(ctx, roomID, peerID, consumerID, spatial, temporal)
}

func (o *Orchestrator) checkProducerOwner(roomID domain.RoomID, peerID domain.PeerID, producerID domain.ProducerID) error {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	owner, live := room.ProducerOwner(producerID)
	if !live {
		return domain.ErrProducerNotFound
	}
	if owner != peerID {
		return domain.ErrUnauthorized
	}
	return nil
}

func (o *Orchestrator) closeEngineProducer(roomID domain.RoomID, peerID domain.PeerID, producerID domain.ProducerID) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := o.Engine.CloseProducer(ctx, roomID, peerID, producerID); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("producer", string(producerID)).Msg("engine producer close failed")
	}
}
