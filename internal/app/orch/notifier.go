package orch

import (
	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/engine"
	"github.com/ribbonhq/ribbon/internal/session"
)

// Notifier fans room events out to connected clients. Implemented by the
// signaling gateway. "To others" excludes the peer the event describes.
type Notifier interface {
	PeerJoined(room domain.RoomID, peer session.PeerSnapshot)
	PeerLeft(room domain.RoomID, peer domain.PeerID, displayName string)
	NewProducer(room domain.RoomID, entry session.ProducerEntry)
	ProducerClosed(room domain.RoomID, owner domain.PeerID, producer domain.ProducerID)
	ProducerPaused(room domain.RoomID, owner domain.PeerID, producer domain.ProducerID)
	ProducerResumed(room domain.RoomID, owner domain.PeerID, producer domain.ProducerID)

	// ApprovalRequest goes to the host only.
	ApprovalRequest(room domain.RoomID, host domain.PeerID, pending session.PendingSnapshot)
	// JoinApproved carries the admitted peer's room state; goes to that
	// peer only.
	JoinApproved(room domain.RoomID, peer domain.PeerID, peers []session.PeerSnapshot, caps engine.RTPCapabilities)
	JoinDenied(room domain.RoomID, peer domain.PeerID)

	RoomClosed(room domain.RoomID)
}

// NopNotifier is the default sink before the gateway registers.
type NopNotifier struct{}

func (NopNotifier) PeerJoined(domain.RoomID, session.PeerSnapshot)                  {}
func (NopNotifier) PeerLeft(domain.RoomID, domain.PeerID, string)                   {}
func (NopNotifier) NewProducer(domain.RoomID, session.ProducerEntry)                {}
func (NopNotifier) ProducerClosed(domain.RoomID, domain.PeerID, domain.ProducerID)  {}
func (NopNotifier) ProducerPaused(domain.RoomID, domain.PeerID, domain.ProducerID)  {}
func (NopNotifier) ProducerResumed(domain.RoomID, domain.PeerID, domain.ProducerID) {}
func (NopNotifier) ApprovalRequest(domain.RoomID, domain.PeerID, session.PendingSnapshot) {
}
func (NopNotifier) JoinApproved(domain.RoomID, domain.PeerID, []session.PeerSnapshot, engine.RTPCapabilities) {
}
func (NopNotifier) JoinDenied(domain.RoomID, domain.PeerID) {}
func (NopNotifier) RoomClosed(domain.RoomID)                {}
