package signal

import (
	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/engine"
	"github.com/ribbonhq/ribbon/internal/session"
)

// orch.Notifier implementation. Events describing a peer are not echoed
// back to that peer; its own reply already carries the state change.

func (ctl *Controller) PeerJoined(room domain.RoomID, peer session.PeerSnapshot) {
	ctl.broadcast(room, peer.ID, peerJoinedMsg{
		Type: "peerJoined", PeerID: peer.ID, DisplayName: peer.DisplayName, IsHost: peer.IsHost,
	})
}

func (ctl *Controller) PeerLeft(room domain.RoomID, peer domain.PeerID, displayName string) {
	ctl.broadcast(room, peer, peerLeftMsg{Type: "peerLeft", PeerID: peer, DisplayName: displayName})
}

func (ctl *Controller) NewProducer(room domain.RoomID, entry session.ProducerEntry) {
	ctl.broadcast(room, entry.PeerID, newProducerMsg{
		Type: "newProducer", ProducerID: entry.ProducerID, PeerID: entry.PeerID, Kind: entry.Kind,
	})
}

func (ctl *Controller) ProducerClosed(room domain.RoomID, owner domain.PeerID, producer domain.ProducerID) {
	ctl.broadcast(room, owner, producerEventMsg{Type: "producerClosed", ProducerID: producer, PeerID: owner})
}

func (ctl *Controller) ProducerPaused(room domain.RoomID, owner domain.PeerID, producer domain.ProducerID) {
	ctl.broadcast(room, owner, producerEventMsg{Type: "producerPaused", ProducerID: producer, PeerID: owner})
}

func (ctl *Controller) ProducerResumed(room domain.RoomID, owner domain.PeerID, producer domain.ProducerID) {
	ctl.broadcast(room, owner, producerEventMsg{Type: "producerResumed", ProducerID: producer, PeerID: owner})
}

func (ctl *Controller) ApprovalRequest(room domain.RoomID, host domain.PeerID, pending session.PendingSnapshot) {
	if c, ok := ctl.connOf(room, host); ok {
		ctl.sendJSON(c, approvalRequestMsg{
			Type: "approvalRequest", PeerID: pending.ID, DisplayName: pending.DisplayName,
		})
	}
}

func (ctl *Controller) JoinApproved(room domain.RoomID, peer domain.PeerID, peers []session.PeerSnapshot, caps engine.RTPCapabilities) {
	c, ok := ctl.connOf(room, peer)
	if !ok {
		return
	}
	ctl.admit(room, peer, c)
	producers, _ := ctl.Orch.ListProducers(room, peer)
	ctl.sendJSON(c, roomJoinedMsg{
		Type:            "roomJoined",
		Room:            room,
		Peers:           peers,
		Producers:       producers,
		RTPCapabilities: caps,
		ICEServers:      ctl.iceServers(c.sid),
	})
}

func (ctl *Controller) JoinDenied(room domain.RoomID, peer domain.PeerID) {
	if c, ok := ctl.connOf(room, peer); ok {
		ctl.unregister(room, peer, c)
		c.unbind()
		ctl.sendJSON(c, joinDeniedMsg{Type: "joinDenied", Room: room})
	}
}

func (ctl *Controller) RoomClosed(room domain.RoomID) {
	ctl.mu.Lock()
	conns := ctl.rooms[room]
	delete(ctl.rooms, room)
	waiting := ctl.pending[room]
	delete(ctl.pending, room)
	ctl.mu.Unlock()

	for _, c := range conns {
		c.unbind()
		ctl.sendJSON(c, roomClosedMsg{Type: "roomClosed", Room: room})
	}
	for _, c := range waiting {
		c.unbind()
		ctl.sendJSON(c, roomClosedMsg{Type: "roomClosed", Room: room})
	}
}
