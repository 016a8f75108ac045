package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/session"
)

// Engine push events. The orchestrator mirrors them into local state and
// fans them out, so an engine-initiated close looks the same to clients
// as a client-initiated one.

func (o *Orchestrator) OnNewProducer(roomID domain.RoomID, peerID domain.PeerID, producerID domain.ProducerID, kind domain.MediaKind) {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return
	}
	if _, known := room.ProducerOwner(producerID); known {
		return
	}
	if _, err := room.CommitProducer(peerID, kind, producerID); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("producer", string(producerID)).Msg("push for unknown peer")
		return
	}
	o.notify().NewProducer(roomID, session.ProducerEntry{ProducerID: producerID, PeerID: peerID, Kind: kind})
}

func (o *Orchestrator) OnProducerClosed(roomID domain.RoomID, peerID domain.PeerID, producerID domain.ProducerID) {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return
	}
	if removed, _ := room.RemoveProducer(peerID, producerID); removed {
		o.notify().ProducerClosed(roomID, peerID, producerID)
	}
}

// OnPeerClosed handles an engine-side eviction (transport died, worker
// crashed). Treated as a leave so the room sees a single departure path.
func (o *Orchestrator) OnPeerClosed(roomID domain.RoomID, peerID domain.PeerID) {
	o.Leave(context.Background(), roomID, peerID)
}
