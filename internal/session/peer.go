package session

import (
	"time"

	"github.com/ribbonhq/ribbon/internal/domain"
)

// Transport mirrors one engine-side WebRTC transport owned by a peer.
type Transport struct {
	ID        domain.TransportID
	Consuming bool
	Connected bool
}

// Producer mirrors one engine-side producer. At most one per media kind
// per peer. CreatedAt orders a producer against reconciliation sweeps.
type Producer struct {
	ID        domain.ProducerID
	Kind      domain.MediaKind
	Paused    bool
	CreatedAt time.Time
}

// Consumer mirrors one engine-side consumer. Consumers are born paused and
// only start forwarding after the client acknowledges readiness.
type Consumer struct {
	ID         domain.ConsumerID
	ProducerID domain.ProducerID
	Paused     bool
}

// Peer is one participant inside a room. All fields are guarded by the
// owning room's mutex; peers never outlive their room.
type Peer struct {
	ID          domain.PeerID
	DisplayName string
	State       domain.PeerState
	JoinedAt    time.Time

	sendTransport *Transport
	recvTransport *Transport
	producers     map[domain.MediaKind]*Producer
	consumers     map[domain.ConsumerID]*Consumer
}

func newPeer(id domain.PeerID, displayName string, state domain.PeerState, now time.Time) *Peer {
	return &Peer{
		ID:          id,
		DisplayName: displayName,
		State:       state,
		JoinedAt:    now,
		producers:   make(map[domain.MediaKind]*Producer),
		consumers:   make(map[domain.ConsumerID]*Consumer),
	}
}

func (p *Peer) transport(id domain.TransportID) *Transport {
	if p.sendTransport != nil && p.sendTransport.ID == id {
		return p.sendTransport
	}
	if p.recvTransport != nil && p.recvTransport.ID == id {
		return p.recvTransport
	}
	return nil
}

func (p *Peer) producerByID(id domain.ProducerID) *Producer {
	for _, pr := range p.producers {
		if pr.ID == id {
			return pr
		}
	}
	return nil
}

// releaseAll clears the peer's mirrored resources and returns the producer
// ids that were live. Idempotent: a second call returns nothing.
func (p *Peer) releaseAll() []domain.ProducerID {
	closed := make([]domain.ProducerID, 0, len(p.producers))
	for _, pr := range p.producers {
		closed = append(closed, pr.ID)
	}
	p.producers = make(map[domain.MediaKind]*Producer)
	p.consumers = make(map[domain.ConsumerID]*Consumer)
	p.sendTransport = nil
	p.recvTransport = nil
	return closed
}

// PeerSnapshot is a read-only view handed to the gateway and APIs.
type PeerSnapshot struct {
	ID          domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
	IsHost      bool          `json:"isHost"`
}

// PendingSnapshot is one join request awaiting the host's decision.
type PendingSnapshot struct {
	ID          domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
	RequestedAt time.Time     `json:"requestedAt"`
}

// ProducerEntry is one row of a producer listing.
type ProducerEntry struct {
	ProducerID domain.ProducerID `json:"producerId"`
	PeerID     domain.PeerID     `json:"peerId"`
	Kind       domain.MediaKind  `json:"kind"`
}
