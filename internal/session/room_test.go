package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ribbonhq/ribbon/internal/domain"
)

func activeRoom(t *testing.T, peers ...domain.PeerID) *Room {
	t.Helper()
	r := NewRoom("r1", domain.AccessOpen, 0)
	for _, p := range peers {
		if _, err := r.Join(p, string(p)); err != nil {
			t.Fatalf("Join(%s): %v", p, err)
		}
	}
	return r
}

// joinProducer gives p a connected send transport and one producer.
func joinProducer(t *testing.T, r *Room, p domain.PeerID, kind domain.MediaKind, id domain.ProducerID) {
	t.Helper()
	tid := domain.TransportID("t-" + p)
	if err := r.CommitTransport(p, Transport{ID: tid}); err != nil {
		t.Fatalf("CommitTransport: %v", err)
	}
	if err := r.MarkTransportConnected(p, tid); err != nil {
		t.Fatalf("MarkTransportConnected: %v", err)
	}
	if _, err := r.CommitProducer(p, kind, id); err != nil {
		t.Fatalf("CommitProducer: %v", err)
	}
}

func TestJoinLeaveCounts(t *testing.T) {
	r := activeRoom(t, "a", "b", "c")
	if got := r.PeerCount(); got != 3 {
		t.Fatalf("PeerCount after 3 joins: got %d, want 3", got)
	}

	r.Leave("b")
	if got := r.PeerCount(); got != 2 {
		t.Fatalf("PeerCount after leave: got %d, want 2", got)
	}

	r.Leave("a")
	res := r.Leave("c")
	if got := r.PeerCount(); got != 0 {
		t.Fatalf("PeerCount after all left: got %d, want 0", got)
	}
	if !res.RoomEmpty {
		t.Fatal("last leave should report the room empty")
	}
}

func TestJoinDuplicateTolerated(t *testing.T) {
	r := activeRoom(t, "a")
	res, err := r.Join("a", "a")
	if err != nil {
		t.Fatalf("duplicate Join: %v", err)
	}
	if res.Outcome != JoinAdmitted {
		t.Fatalf("duplicate Join outcome: got %v, want admitted", res.Outcome)
	}
	if got := r.PeerCount(); got != 1 {
		t.Fatalf("PeerCount after duplicate join: got %d, want 1", got)
	}
}

func TestJoinRoomFull(t *testing.T) {
	r := NewRoom("r1", domain.AccessOpen, 2)
	for _, p := range []domain.PeerID{"a", "b"} {
		if _, err := r.Join(p, string(p)); err != nil {
			t.Fatalf("Join(%s): %v", p, err)
		}
	}
	if _, err := r.Join("c", "c"); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("Join over cap: got %v, want ErrRoomFull", err)
	}
}

func TestLeaveIdempotent(t *testing.T) {
	r := activeRoom(t, "a", "b")
	joinProducer(t, r, "a", domain.KindAudio, "prod-1")

	first := r.Leave("a")
	if !first.Left || len(first.ClosedProducers) != 1 {
		t.Fatalf("first leave: %+v", first)
	}

	second := r.Leave("a")
	if second.Left || len(second.ClosedProducers) != 0 {
		t.Fatalf("second leave must be a no-op with no closed producers, got %+v", second)
	}

	if unknown := r.Leave("nobody"); unknown.Left {
		t.Fatalf("leave of unknown peer must be a no-op, got %+v", unknown)
	}
}

func TestProduceSameKindReplaces(t *testing.T) {
	r := activeRoom(t, "a")
	joinProducer(t, r, "a", domain.KindAudio, "audio-1")

	replaced, err := r.CommitProducer("a", domain.KindAudio, "audio-2")
	if err != nil {
		t.Fatalf("CommitProducer: %v", err)
	}
	if replaced != "audio-1" {
		t.Fatalf("replaced: got %q, want audio-1", replaced)
	}

	entries := r.Producers("")
	if len(entries) != 1 || entries[0].ProducerID != "audio-2" {
		t.Fatalf("expected exactly one audio producer audio-2, got %+v", entries)
	}
}

func TestFirstJoinerBecomesHostInApprovalRoom(t *testing.T) {
	r := NewRoom("r1", domain.AccessHostApproval, 0)

	res, err := r.Join("p1", "p1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if res.Outcome != JoinAdmitted || !res.IsHost {
		t.Fatalf("first joiner must be admitted as host, got %+v", res)
	}
	if r.Host() != "p1" {
		t.Fatalf("Host: got %q, want p1", r.Host())
	}
}

func TestFirstJoinRaceYieldsOneHost(t *testing.T) {
	r := NewRoom("r1", domain.AccessHostApproval, 0)

	const n = 16
	var wg sync.WaitGroup
	hosts := make(chan domain.PeerID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pid := domain.PeerID(fmt.Sprintf("p%d", i))
			res, err := r.Join(pid, string(pid))
			if err == nil && res.Outcome == JoinAdmitted && res.IsHost {
				hosts <- pid
			}
		}(i)
	}
	wg.Wait()
	close(hosts)

	var won []domain.PeerID
	for pid := range hosts {
		won = append(won, pid)
	}
	if len(won) != 1 {
		t.Fatalf("expected exactly one host, got %v", won)
	}
	if r.Host() != won[0] {
		t.Fatalf("Host: got %q, want %q", r.Host(), won[0])
	}
}

func TestApprovalFlow(t *testing.T) {
	r := NewRoom("r1", domain.AccessHostApproval, 0)
	if _, err := r.Join("h", "host"); err != nil {
		t.Fatalf("host join: %v", err)
	}

	res, err := r.Join("p2", "guest")
	if err != nil {
		t.Fatalf("guest join: %v", err)
	}
	if res.Outcome != JoinPending {
		t.Fatalf("guest must await approval, got %+v", res)
	}
	if pending := r.PendingJoins(); len(pending) != 1 || pending[0].ID != "p2" {
		t.Fatalf("PendingJoins: %+v", pending)
	}
	// Pending peers are invisible to active snapshots.
	if peers := r.Peers(); len(peers) != 1 {
		t.Fatalf("active peers while pending: %+v", peers)
	}

	if _, err := r.Approve("p2", "p2"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-host approve: got %v, want ErrUnauthorized", err)
	}

	snap, err := r.Approve("h", "p2")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if snap.ID != "p2" || snap.DisplayName != "guest" {
		t.Fatalf("approved snapshot: %+v", snap)
	}
	if peers := r.Peers(); len(peers) != 2 {
		t.Fatalf("active peers after approval: %+v", peers)
	}
}

func TestDenyRemovesPending(t *testing.T) {
	r := NewRoom("r1", domain.AccessHostApproval, 0)
	r.Join("h", "host")
	r.Join("p2", "guest")

	name, err := r.Deny("h", "p2")
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if name != "guest" {
		t.Fatalf("denied display name: got %q", name)
	}
	if pending := r.PendingJoins(); len(pending) != 0 {
		t.Fatalf("pending after deny: %+v", pending)
	}
	if _, err := r.Deny("h", "p2"); !errors.Is(err, domain.ErrPeerNotFound) {
		t.Fatalf("second deny: got %v, want ErrPeerNotFound", err)
	}
}

func TestHostHandOffOnLeave(t *testing.T) {
	r := NewRoom("r1", domain.AccessHostApproval, 0)
	r.Join("h", "host")
	r.Join("p2", "second")
	if _, err := r.Approve("h", "p2"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	r.Leave("h")
	if r.Host() != "p2" {
		t.Fatalf("host after hand-off: got %q, want p2", r.Host())
	}
}

func TestProducersExcludesOwner(t *testing.T) {
	r := activeRoom(t, "a", "b")
	joinProducer(t, r, "a", domain.KindAudio, "pa")
	joinProducer(t, r, "b", domain.KindVideo, "pb")

	for _, e := range r.Producers("a") {
		if e.PeerID == "a" {
			t.Fatalf("listing for a contains a's own producer: %+v", e)
		}
	}
	if got := len(r.Producers("")); got != 2 {
		t.Fatalf("full listing: got %d entries, want 2", got)
	}
}

func TestValidateProduceRequiresConnectedSendTransport(t *testing.T) {
	r := activeRoom(t, "a")
	if err := r.ValidateProduce("a", "missing", domain.KindAudio); !errors.Is(err, domain.ErrTransportNotFound) {
		t.Fatalf("missing transport: got %v", err)
	}

	if err := r.CommitTransport("a", Transport{ID: "t1"}); err != nil {
		t.Fatalf("CommitTransport: %v", err)
	}
	if err := r.ValidateProduce("a", "t1", domain.KindAudio); !errors.Is(err, domain.ErrTransportNotFound) {
		t.Fatalf("unconnected transport: got %v", err)
	}

	if err := r.MarkTransportConnected("a", "t1"); err != nil {
		t.Fatalf("MarkTransportConnected: %v", err)
	}
	if err := r.ValidateProduce("a", "t1", domain.KindAudio); err != nil {
		t.Fatalf("connected transport: %v", err)
	}

	if err := r.CommitTransport("a", Transport{ID: "t2", Consuming: true}); err != nil {
		t.Fatalf("CommitTransport recv: %v", err)
	}
	if err := r.ValidateProduce("a", "t2", domain.KindAudio); !errors.Is(err, domain.ErrTransportNotFound) {
		t.Fatalf("consuming transport must not accept produce: got %v", err)
	}
}

func TestRemoveProducerCascadesToConsumers(t *testing.T) {
	r := activeRoom(t, "a", "b")
	joinProducer(t, r, "a", domain.KindVideo, "pv")
	if err := r.CommitConsumer("b", Consumer{ID: "cv", ProducerID: "pv"}); err != nil {
		t.Fatalf("CommitConsumer: %v", err)
	}

	removed, orphans := r.RemoveProducer("a", "pv")
	if !removed {
		t.Fatal("expected removal")
	}
	if len(orphans) != 1 || orphans[0].PeerID != "b" || orphans[0].ConsumerID != "cv" {
		t.Fatalf("orphans: %+v", orphans)
	}

	if removed, _ := r.RemoveProducer("a", "pv"); removed {
		t.Fatal("second removal must be a no-op")
	}
}

func TestConsumerBornPaused(t *testing.T) {
	r := activeRoom(t, "a", "b")
	joinProducer(t, r, "a", domain.KindAudio, "pa")

	// Even if the caller hands over Paused=false, the commit pins it.
	if err := r.CommitConsumer("b", Consumer{ID: "c1", ProducerID: "pa", Paused: false}); err != nil {
		t.Fatalf("CommitConsumer: %v", err)
	}
	if err := r.MarkConsumerResumed("b", "c1"); err != nil {
		t.Fatalf("MarkConsumerResumed: %v", err)
	}
	if err := r.MarkConsumerResumed("b", "missing"); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("resume unknown consumer: got %v", err)
	}
}

func TestRetainProducersDropsStale(t *testing.T) {
	r := activeRoom(t, "a")
	joinProducer(t, r, "a", domain.KindAudio, "pa")
	if _, err := r.CommitProducer("a", domain.KindVideo, "pv"); err != nil {
		t.Fatalf("CommitProducer: %v", err)
	}

	dropped := r.RetainProducers(map[domain.ProducerID]bool{"pa": true}, time.Now().Add(time.Hour))
	if len(dropped) != 1 || dropped[0].ProducerID != "pv" {
		t.Fatalf("dropped: %+v", dropped)
	}
	if entries := r.Producers(""); len(entries) != 1 || entries[0].ProducerID != "pa" {
		t.Fatalf("surviving producers: %+v", entries)
	}
}

func TestRetainProducersSparesEntriesNewerThanSweep(t *testing.T) {
	r := activeRoom(t, "a")
	sweepStart := time.Now().Add(-time.Hour)
	joinProducer(t, r, "a", domain.KindAudio, "pa")

	// The entry postdates the sweep snapshot, so its absence from the
	// live set means nothing.
	if dropped := r.RetainProducers(nil, sweepStart); len(dropped) != 0 {
		t.Fatalf("fresh producer dropped: %+v", dropped)
	}
	if entries := r.Producers(""); len(entries) != 1 || entries[0].ProducerID != "pa" {
		t.Fatalf("surviving producers: %+v", entries)
	}
}

func TestApproveAdmitsPastCap(t *testing.T) {
	r := NewRoom("r1", domain.AccessHostApproval, 2)
	if _, err := r.Join("h", "host"); err != nil {
		t.Fatalf("host join: %v", err)
	}
	for _, p := range []domain.PeerID{"p2", "p3"} {
		if res, err := r.Join(p, string(p)); err != nil || res.Outcome != JoinPending {
			t.Fatalf("Join(%s): %+v, %v", p, res, err)
		}
	}
	if _, err := r.Approve("h", "p3"); err != nil {
		t.Fatalf("approve to cap: %v", err)
	}

	// Room is at cap with one request still parked: new joins bounce, but
	// the host's decision on the parked request still lands.
	if _, err := r.Join("p4", "late"); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("join at cap: got %v, want ErrRoomFull", err)
	}
	if _, err := r.Approve("h", "p2"); err != nil {
		t.Fatalf("approve past cap: %v", err)
	}
	if got := r.PeerCount(); got != 3 {
		t.Fatalf("active peers after approval: got %d, want 3", got)
	}
}
