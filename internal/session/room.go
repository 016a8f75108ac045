// Package session holds the in-memory session state: the room registry and
// the per-room state machine for peers, transports, producers and
// consumers. It mirrors engine-side resources but never talks to the
// engine itself; the orchestrator pairs every mutation here with the
// matching engine call.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ribbonhq/ribbon/internal/domain"
)

// Room is the authority over one session's membership and media
// bookkeeping. Every mutating operation runs under the room mutex;
// interleaved joins, leaves and produces can never observe a half-updated
// peer map. Read-only snapshots take the read lock.
type Room struct {
	ID        domain.RoomID
	CreatedAt time.Time
	Mode      domain.AccessMode
	MaxPeers  int // 0 = unlimited

	mu    sync.RWMutex
	host  domain.PeerID
	peers map[domain.PeerID]*Peer
	order []domain.PeerID // join order, for UI listings
}

func NewRoom(id domain.RoomID, mode domain.AccessMode, maxPeers int) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		Mode:      mode,
		MaxPeers:  maxPeers,
		peers:     make(map[domain.PeerID]*Peer),
	}
}

// JoinOutcome says how a join request was resolved.
type JoinOutcome int

const (
	JoinAdmitted JoinOutcome = iota
	JoinPending
)

type JoinResult struct {
	Outcome JoinOutcome
	IsHost  bool
	Peers   []PeerSnapshot // active peers, including the joiner, join order
}

// Join admits or parks a peer. In a host-approval room the first joiner
// becomes host and is admitted directly; this happens under the room mutex,
// so two racing first joiners resolve to exactly one host. Joining with a
// peer id already present is a no-op returning the current state.
func (r *Room) Join(peerID domain.PeerID, displayName string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[peerID]; ok && p.State != domain.PeerLeft {
		if p.State == domain.PeerAwaitingApproval {
			return JoinResult{Outcome: JoinPending}, nil
		}
		return JoinResult{Outcome: JoinAdmitted, IsHost: peerID == r.host, Peers: r.activeSnapshotLocked()}, nil
	}

	if r.MaxPeers > 0 && r.activeCountLocked() >= r.MaxPeers {
		return JoinResult{}, domain.ErrRoomFull
	}

	if r.Mode == domain.AccessHostApproval && r.host != "" {
		p := newPeer(peerID, displayName, domain.PeerAwaitingApproval, time.Now())
		r.peers[peerID] = p
		r.order = append(r.order, peerID)
		log.Info().Str("module", "session").Str("room", string(r.ID)).Str("peer", string(peerID)).Msg("join pending approval")
		return JoinResult{Outcome: JoinPending}, nil
	}

	p := newPeer(peerID, displayName, domain.PeerActive, time.Now())
	r.peers[peerID] = p
	r.order = append(r.order, peerID)

	isHost := false
	if r.Mode == domain.AccessHostApproval && r.host == "" {
		r.host = peerID
		isHost = true
	}
	log.Info().Str("module", "session").Str("room", string(r.ID)).Str("peer", string(peerID)).Bool("host", isHost).Msg("peer joined")
	return JoinResult{Outcome: JoinAdmitted, IsHost: isHost, Peers: r.activeSnapshotLocked()}, nil
}

// Approve transitions an awaiting peer to active. Host only. MaxPeers
// gates Join requests, not approvals: the host's explicit decision admits
// a parked request even when the room has since filled.
func (r *Room) Approve(caller, peerID domain.PeerID) (PeerSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.host {
		return PeerSnapshot{}, domain.ErrUnauthorized
	}
	p, ok := r.peers[peerID]
	if !ok || p.State != domain.PeerAwaitingApproval {
		return PeerSnapshot{}, domain.ErrPeerNotFound
	}
	p.State = domain.PeerActive
	log.Info().Str("module", "session").Str("room", string(r.ID)).Str("peer", string(peerID)).Msg("join approved")
	return PeerSnapshot{ID: p.ID, DisplayName: p.DisplayName}, nil
}

// Deny removes a pending join request. No resources were allocated for the
// peer yet, so nothing is released. Host only.
func (r *Room) Deny(caller, peerID domain.PeerID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.host {
		return "", domain.ErrUnauthorized
	}
	p, ok := r.peers[peerID]
	if !ok || p.State != domain.PeerAwaitingApproval {
		return "", domain.ErrPeerNotFound
	}
	r.removeLocked(peerID)
	log.Info().Str("module", "session").Str("room", string(r.ID)).Str("peer", string(peerID)).Msg("join denied")
	return p.DisplayName, nil
}

// LeaveResult reports what a leave released locally.
type LeaveResult struct {
	Left            bool // false when the peer was unknown or already gone
	DisplayName     string
	WasActive       bool
	ClosedProducers []domain.ProducerID
	RoomEmpty       bool
}

// Leave transitions a peer to left, releases its mirrored resources and
// removes it from the room. Safe to call for unknown or already-left peers;
// leave races with engine-side disconnect notifications are expected.
func (r *Room) Leave(peerID domain.PeerID) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok || p.State == domain.PeerLeft {
		return LeaveResult{RoomEmpty: len(r.peers) == 0}
	}

	wasActive := p.State == domain.PeerActive
	closed := p.releaseAll()
	p.State = domain.PeerLeft
	r.removeLocked(peerID)

	if r.host == peerID {
		r.host = ""
		// Hand the room to the longest-present active peer, if any.
		for _, id := range r.order {
			if q, ok := r.peers[id]; ok && q.State == domain.PeerActive {
				r.host = id
				break
			}
		}
	}

	log.Info().Str("module", "session").Str("room", string(r.ID)).Str("peer", string(peerID)).Int("closed_producers", len(closed)).Msg("peer left")
	return LeaveResult{
		Left:            true,
		DisplayName:     p.DisplayName,
		WasActive:       wasActive,
		ClosedProducers: closed,
		RoomEmpty:       len(r.peers) == 0,
	}
}

// EnsureActive is the local reservation step before an engine round-trip:
// it verifies the peer is present and admitted without holding the lock
// across the remote call.
func (r *Room) EnsureActive(peerID domain.PeerID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ensureActiveLocked(peerID)
}

func (r *Room) ensureActiveLocked(peerID domain.PeerID) error {
	p, ok := r.peers[peerID]
	if !ok || p.State != domain.PeerActive {
		return domain.ErrPeerNotFound
	}
	return nil
}

// CommitTransport records an engine-allocated transport against its owner.
// Fails with PeerNotFound if the peer left between reservation and commit;
// the caller must then close the transport engine-side.
func (r *Room) CommitTransport(peerID domain.PeerID, t Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok || p.State != domain.PeerActive {
		return domain.ErrPeerNotFound
	}
	if t.Consuming {
		p.recvTransport = &t
	} else {
		p.sendTransport = &t
	}
	return nil
}

// MarkTransportConnected records a completed DTLS handshake.
func (r *Room) MarkTransportConnected(peerID domain.PeerID, transportID domain.TransportID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok || p.State != domain.PeerActive {
		return domain.ErrPeerNotFound
	}
	t := p.transport(transportID)
	if t == nil {
		return domain.ErrTransportNotFound
	}
	t.Connected = true
	return nil
}

// ValidateTransport checks that an admitted peer owns the transport.
func (r *Room) ValidateTransport(peerID domain.PeerID, transportID domain.TransportID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.ensureActiveLocked(peerID); err != nil {
		return err
	}
	if r.peers[peerID].transport(transportID) == nil {
		return domain.ErrTransportNotFound
	}
	return nil
}

// ValidateProduce checks the preconditions for a produce call: admitted
// peer, a known sending transport that completed its connect handshake,
// and a recognized media kind.
func (r *Room) ValidateProduce(peerID domain.PeerID, transportID domain.TransportID, kind domain.MediaKind) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.ensureActiveLocked(peerID); err != nil {
		return err
	}
	if !kind.Valid() {
		return domain.ErrBadRequest
	}
	p := r.peers[peerID]
	t := p.transport(transportID)
	if t == nil || t.Consuming || !t.Connected {
		return domain.ErrTransportNotFound
	}
	return nil
}

// CommitProducer records a new producer and returns the id of the producer
// it replaced, if the peer already had one of this kind. Browsers retry
// produce calls; replacement keeps the at-most-one-per-kind invariant
// instead of accumulating duplicates.
func (r *Room) CommitProducer(peerID domain.PeerID, kind domain.MediaKind, id domain.ProducerID) (replaced domain.ProducerID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok || p.State != domain.PeerActive {
		return "", domain.ErrPeerNotFound
	}
	if old, ok := p.producers[kind]; ok {
		replaced = old.ID
	}
	p.producers[kind] = &Producer{ID: id, Kind: kind, CreatedAt: time.Now()}
	return replaced, nil
}

// ProducerOwner resolves a producer id to its owning peer.
func (r *Room) ProducerOwner(id domain.ProducerID) (domain.PeerID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pid := range r.order {
		if p, ok := r.peers[pid]; ok && p.producerByID(id) != nil {
			return pid, true
		}
	}
	return "", false
}

// SetProducerPaused flips the mirrored pause state of a producer owned by
// peerID.
func (r *Room) SetProducerPaused(peerID domain.PeerID, id domain.ProducerID, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok || p.State != domain.PeerActive {
		return domain.ErrPeerNotFound
	}
	pr := p.producerByID(id)
	if pr == nil {
		return domain.ErrProducerNotFound
	}
	pr.Paused = paused
	return nil
}

// RemoveProducer drops a producer from its owner's bookkeeping and cascades
// to every consumer of it in the room. Returns the dropped consumers so the
// gateway can notify their owners. No-op when the producer is unknown.
func (r *Room) RemoveProducer(peerID domain.PeerID, id domain.ProducerID) (removed bool, orphans []ConsumerRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[peerID]; ok {
		for kind, pr := range p.producers {
			if pr.ID == id {
				delete(p.producers, kind)
				removed = true
				break
			}
		}
	}
	if !removed {
		return false, nil
	}
	return true, r.dropConsumersOfLocked(id)
}

// ConsumerRef names one consumer and its owning peer.
type ConsumerRef struct {
	PeerID     domain.PeerID
	ConsumerID domain.ConsumerID
}

func (r *Room) dropConsumersOfLocked(producer domain.ProducerID) []ConsumerRef {
	var refs []ConsumerRef
	for pid, p := range r.peers {
		for cid, c := range p.consumers {
			if c.ProducerID == producer {
				delete(p.consumers, cid)
				refs = append(refs, ConsumerRef{PeerID: pid, ConsumerID: cid})
			}
		}
	}
	return refs
}

// CommitConsumer records an engine-created consumer (born paused) against
// its owner. Fails with PeerNotFound if the consuming peer left during the
// engine round-trip.
func (r *Room) CommitConsumer(peerID domain.PeerID, c Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok || p.State != domain.PeerActive {
		return domain.ErrPeerNotFound
	}
	c.Paused = true
	p.consumers[c.ID] = &c
	return nil
}

// MarkConsumerResumed records the client's readiness acknowledgement.
func (r *Room) MarkConsumerResumed(peerID domain.PeerID, id domain.ConsumerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok || p.State != domain.PeerActive {
		return domain.ErrPeerNotFound
	}
	c, ok := p.consumers[id]
	if !ok {
		return domain.ErrBadRequest
	}
	c.Paused = false
	return nil
}

// Producers lists live producers in join order, excluding those owned by
// excluding (pass "" for all). Late joiners reconcile against this to
// avoid missed newProducer races.
func (r *Room) Producers(excluding domain.PeerID) []ProducerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProducerEntry, 0)
	for _, pid := range r.order {
		if pid == excluding {
			continue
		}
		p, ok := r.peers[pid]
		if !ok || p.State != domain.PeerActive {
			continue
		}
		for _, kind := range []domain.MediaKind{domain.KindAudio, domain.KindVideo, domain.KindScreen} {
			if pr, ok := p.producers[kind]; ok {
				out = append(out, ProducerEntry{ProducerID: pr.ID, PeerID: pid, Kind: kind})
			}
		}
	}
	return out
}

// RetainProducers drops any mirrored producer whose id the engine no longer
// reports. Used by the reconciliation sweep after a timed-out engine
// teardown. Producers committed at or after sweepStart are kept even when
// absent from live: they landed while the engine snapshot was in flight
// and the snapshot cannot know them. Returns what was dropped.
func (r *Room) RetainProducers(live map[domain.ProducerID]bool, sweepStart time.Time) []ProducerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []ProducerEntry
	for pid, p := range r.peers {
		for kind, pr := range p.producers {
			if !live[pr.ID] && pr.CreatedAt.Before(sweepStart) {
				delete(p.producers, kind)
				r.dropConsumersOfLocked(pr.ID)
				dropped = append(dropped, ProducerEntry{ProducerID: pr.ID, PeerID: pid, Kind: kind})
			}
		}
	}
	return dropped
}

// Peers returns the admitted peers in join order.
func (r *Room) Peers() []PeerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeSnapshotLocked()
}

// PendingJoins returns join requests awaiting the host, oldest first.
func (r *Room) PendingJoins() []PendingSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PendingSnapshot, 0)
	for _, pid := range r.order {
		if p, ok := r.peers[pid]; ok && p.State == domain.PeerAwaitingApproval {
			out = append(out, PendingSnapshot{ID: p.ID, DisplayName: p.DisplayName, RequestedAt: p.JoinedAt})
		}
	}
	return out
}

func (r *Room) Host() domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host
}

func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCountLocked()
}

func (r *Room) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers) == 0
}

func (r *Room) activeSnapshotLocked() []PeerSnapshot {
	out := make([]PeerSnapshot, 0, len(r.order))
	for _, pid := range r.order {
		if p, ok := r.peers[pid]; ok && p.State == domain.PeerActive {
			out = append(out, PeerSnapshot{ID: p.ID, DisplayName: p.DisplayName, IsHost: pid == r.host})
		}
	}
	return out
}

func (r *Room) activeCountLocked() int {
	n := 0
	for _, p := range r.peers {
		if p.State == domain.PeerActive {
			n++
		}
	}
	return n
}

func (r *Room) removeLocked(peerID domain.PeerID) {
	delete(r.peers, peerID)
	for i, id := range r.order {
		if id == peerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
