package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/engine"
	"github.com/ribbonhq/ribbon/internal/session"
)

// EnsureRoom returns the live room for id, allocating the engine-side
// router on first creation. Router allocation picks a worker round-robin.
// Concurrent calls for the same id collapse into one allocation; on engine
// failure the room is not registered and remains creatable on retry.
func (o *Orchestrator) EnsureRoom(ctx context.Context, id domain.RoomID, mode domain.AccessMode, maxPeers int) (*session.Room, error) {
	if room, ok := o.Registry.Get(id); ok {
		return room, nil
	}

	v, err, _ := o.create.Do(string(id), func() (any, error) {
		if room, ok := o.Registry.Get(id); ok {
			return room, nil
		}
		worker := int(o.nextWorker.Add(1)-1) % o.workers
		if err := o.Engine.CreateRouter(ctx, id, worker); err != nil {
			return nil, err
		}
		if maxPeers == 0 {
			maxPeers = o.DefaultMaxPeers
		}
		room, created := o.Registry.Register(session.NewRoom(id, mode, maxPeers))
		if created {
			log.Info().Str("module", "orch").Str("room", string(id)).Int("worker", worker).Msg("room created")
		}
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Room), nil
}

// JoinOutput is the reply payload for an admitted join.
type JoinOutput struct {
	Pending         bool
	IsHost          bool
	Peers           []session.PeerSnapshot
	Producers       []session.ProducerEntry
	RTPCapabilities engine.RTPCapabilities
}

// JoinRoom runs the full join flow: local admission (approval gate,
// capacity, host bootstrap) under the room lock, then the engine
// handshake outside it. Local membership is rolled back if the engine
// rejects the join.
func (o *Orchestrator) JoinRoom(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, displayName string) (JoinOutput, error) {
	room, err := o.lookupOrRestore(ctx, roomID)
	if err != nil {
		return JoinOutput{}, err
	}

	res, err := room.Join(peerID, displayName)
	if err != nil {
		return JoinOutput{}, err
	}

	if res.Outcome == session.JoinPending {
		if host := room.Host(); host != "" {
			o.notify().ApprovalRequest(roomID, host, session.PendingSnapshot{
				ID: peerID, DisplayName: displayName, RequestedAt: time.Now(),
			})
		}
		return JoinOutput{Pending: true}, nil
	}

	out, err := o.completeAdmission(ctx, room, peerID, displayName)
	if err != nil {
		return JoinOutput{}, err
	}
	out.IsHost = res.IsHost
	return out, nil
}

// completeAdmission performs the engine handshake for an already-admitted
// peer and fans out peerJoined. Rolls the local admission back when the
// engine is unreachable.
func (o *Orchestrator) completeAdmission(ctx context.Context, room *session.Room, peerID domain.PeerID, displayName string) (JoinOutput, error) {
	caps, err := o.Engine.RouterCapabilities(ctx, room.ID)
	if err == nil {
		_, err = o.Engine.Join(ctx, room.ID, peerID, displayName)
	}
	if err != nil {
		res := room.Leave(peerID)
		if res.RoomEmpty {
			o.destroyRoom(room.ID)
		}
		return JoinOutput{}, err
	}

	if o.Store != nil {
		if serr := o.Store.AddParticipant(ctx, room.ID, peerID, displayName, time.Now()); serr != nil {
			log.Error().Err(serr).Str("module", "orch").Msg("record participant")
		}
	}

	o.notify().PeerJoined(room.ID, session.PeerSnapshot{
		ID: peerID, DisplayName: displayName, IsHost: room.Host() == peerID,
	})

	return JoinOutput{
		Peers:           room.Peers(),
		Producers:       room.Producers(peerID),
		RTPCapabilities: caps,
	}, nil
}

// ApproveJoin admits an awaiting peer. Host only; the engine handshake for
// the approved peer runs here so the client receives a complete room state.
func (o *Orchestrator) ApproveJoin(ctx context.Context, roomID domain.RoomID, caller, peerID domain.PeerID) error {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	snap, err := room.Approve(caller, peerID)
	if err != nil {
		return err
	}
	out, err := o.completeAdmission(ctx, room, peerID, snap.DisplayName)
	if err != nil {
		return err
	}
	o.notify().JoinApproved(roomID, peerID, out.Peers, out.RTPCapabilities)
	return nil
}

// DenyJoin removes a pending request and tells the denied client. Nothing
// was allocated for the peer, so nothing is released.
func (o *Orchestrator) DenyJoin(roomID domain.RoomID, caller, peerID domain.PeerID) error {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	if _, err := room.Deny(caller, peerID); err != nil {
		return err
	}
	o.notify().JoinDenied(roomID, peerID)
	return nil
}

// Leave tears a peer down. Local state always completes, even when the
// paired engine teardown times out; engine resources leaked that way are
// collected by the reconciliation sweep. Idempotent: unknown or
// already-left peers are a no-op with an empty result.
func (o *Orchestrator) Leave(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) []domain.ProducerID {
	room, ok := o.Registry.Get(roomID)
	if !ok {
		return nil
	}

	res := room.Leave(peerID)
	if !res.Left {
		if res.RoomEmpty {
			o.destroyRoom(roomID)
		}
		return nil
	}

	closed := res.ClosedProducers

	// Detach from the caller's cancellation: a dropped websocket must not
	// abort the engine-side teardown it triggered.
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	engineClosed, err := o.Engine.Leave(ectx, roomID, peerID)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(roomID)).Str("peer", string(peerID)).Msg("engine leave failed; local state already clean")
	} else {
		closed = mergeProducerIDs(closed, engineClosed)
	}

	if o.Store != nil {
		if serr := o.Store.MarkParticipantLeft(ectx, roomID, peerID, time.Now()); serr != nil {
			log.Error().Err(serr).Str("module", "orch").Msg("record departure")
		}
	}

	if res.WasActive {
		for _, id := range closed {
			o.notify().ProducerClosed(roomID, peerID, id)
		}
		o.notify().PeerLeft(roomID, peerID, res.DisplayName)
	}

	if res.RoomEmpty {
		o.destroyRoom(roomID)
	}
	return closed
}

// destroyRoom removes the room and releases its engine-side router.
// Registry removal returns false for a room already gone, which keeps the
// release exactly-once under racing leaves.
func (o *Orchestrator) destroyRoom(roomID domain.RoomID) {
	if !o.Registry.Remove(roomID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := o.Engine.CloseRouter(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(roomID)).Msg("engine router close failed")
	}
	if o.Invites != nil {
		o.Invites.DropRoom(roomID)
	}
	if o.Store != nil {
		if err := o.Store.SetRoomStatus(ctx, roomID, "closed"); err != nil {
			log.Error().Err(err).Str("module", "orch").Msg("mark room closed")
		}
	}
	o.notify().RoomClosed(roomID)
	log.Info().Str("module", "orch").Str("room", string(roomID)).Msg("room destroyed")
}

// lookupOrRestore finds a live room, or revives one from its persisted
// record (server restarts drop live state but not room records).
func (o *Orchestrator) lookupOrRestore(ctx context.Context, roomID domain.RoomID) (*session.Room, error) {
	if room, ok := o.Registry.Get(roomID); ok {
		return room, nil
	}
	if o.Store == nil {
		return nil, domain.ErrRoomNotFound
	}
	rec, found, err := o.Store.GetRoom(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("room lookup")
		return nil, domain.ErrRoomNotFound
	}
	if !found || rec.Status != "active" {
		return nil, domain.ErrRoomNotFound
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return nil, domain.ErrRoomNotFound
	}
	mode := domain.AccessOpen
	if rec.RequireApproval {
		mode = domain.AccessHostApproval
	}
	return o.EnsureRoom(ctx, roomID, mode, rec.MaxParticipants)
}

func mergeProducerIDs(a, b []domain.ProducerID) []domain.ProducerID {
	seen := make(map[domain.ProducerID]bool, len(a)+len(b))
	out := make([]domain.ProducerID, 0, len(a)+len(b))
	for _, list := range [][]domain.ProducerID{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
