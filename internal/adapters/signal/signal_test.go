package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ribbonhq/ribbon/internal/app/orch"
	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/engine"
	"github.com/ribbonhq/ribbon/internal/session"
)

// nopEngine satisfies orch.MediaEngine for tests that only exercise the
// gateway side.
type nopEngine struct{}

func (nopEngine) Ping(context.Context) error                             { return nil }
func (nopEngine) CreateRouter(context.Context, domain.RoomID, int) error { return nil }
func (nopEngine) CloseRouter(context.Context, domain.RoomID) error       { return nil }
func (nopEngine) RouterCapabilities(context.Context, domain.RoomID) (engine.RTPCapabilities, error) {
	return engine.RTPCapabilities(`{"codecs":[]}`), nil
}
func (nopEngine) Join(context.Context, domain.RoomID, domain.PeerID, string) (engine.JoinResult, error) {
	return engine.JoinResult{}, nil
}
func (nopEngine) Leave(context.Context, domain.RoomID, domain.PeerID) ([]domain.ProducerID, error) {
	return nil, nil
}
func (nopEngine) CreateTransport(context.Context, domain.RoomID, domain.PeerID, bool) (engine.TransportInfo, error) {
	return engine.TransportInfo{}, nil
}
func (nopEngine) ConnectTransport(context.Context, domain.RoomID, domain.PeerID, domain.TransportID, engine.DTLSParameters) error {
	return nil
}
func (nopEngine) Produce(context.Context, domain.RoomID, domain.PeerID, domain.TransportID, domain.MediaKind, engine.RTPParameters) (domain.ProducerID, error) {
	return "", nil
}
func (nopEngine) Consume(context.Context, domain.RoomID, domain.PeerID, domain.ProducerID, engine.RTPCapabilities) (engine.ConsumerInfo, error) {
	return engine.ConsumerInfo{}, nil
}
func (nopEngine) ResumeConsumer(context.Context, domain.RoomID, domain.PeerID, domain.ConsumerID) error {
	return nil
}
func (nopEngine) PauseProducer(context.Context, domain.RoomID, domain.PeerID, domain.ProducerID) error {
	return nil
}
func (nopEngine) ResumeProducer(context.Context, domain.RoomID, domain.PeerID, domain.ProducerID) error {
	return nil
}
func (nopEngine) CloseProducer(context.Context, domain.RoomID, domain.PeerID, domain.ProducerID) error {
	return nil
}
func (nopEngine) Producers(context.Context, domain.RoomID, domain.PeerID) ([]engine.ProducerInfo, error) {
	return nil, nil
}
func (nopEngine) RoomStats(context.Context, domain.RoomID) (engine.RoomStats, error) {
	return engine.RoomStats{}, nil
}
func (nopEngine) SetPreferredLayers(context.Context, domain.RoomID, domain.PeerID, domain.ConsumerID, int, *int) error {
	return nil
}

func testConn(sid string) *wsConn {
	return &wsConn{send: make(chan []byte, 4), sid: sid}
}

func drain(t *testing.T, c *wsConn) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case b := <-c.send:
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("bad frame %s: %v", b, err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestBroadcastExcludesOriginator(t *testing.T) {
	ctl := NewController(nil, nil, 0, time.Second)

	a, b, c := testConn("a"), testConn("b"), testConn("c")
	ctl.register("r1", "a", a)
	ctl.register("r1", "b", b)
	ctl.register("r2", "c", c)

	ctl.broadcast("r1", "a", map[string]any{"type": "peerJoined", "peerId": "a"})

	if got := drain(t, a); len(got) != 0 {
		t.Fatalf("originator received its own event: %v", got)
	}
	if got := drain(t, b); len(got) != 1 || got[0]["type"] != "peerJoined" {
		t.Fatalf("roommate frames: %v", got)
	}
	if got := drain(t, c); len(got) != 0 {
		t.Fatalf("other room received the event: %v", got)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	ctl := NewController(nil, nil, 0, time.Second)
	b := testConn("b")
	ctl.register("r1", "b", b)
	ctl.unregister("r1", "b", b)

	ctl.broadcast("r1", "", map[string]any{"type": "roomClosed"})
	if got := drain(t, b); len(got) != 0 {
		t.Fatalf("unregistered conn received: %v", got)
	}
}

func TestUnregisterIgnoresReplacedConn(t *testing.T) {
	ctl := NewController(nil, nil, 0, time.Second)
	old, fresh := testConn("x"), testConn("x")
	ctl.register("r1", "p", old)
	// Reconnect replaces the entry; unregistering the stale conn must not
	// evict the fresh one.
	ctl.register("r1", "p", fresh)
	ctl.unregister("r1", "p", old)

	if got, ok := ctl.connOf("r1", "p"); !ok || got != fresh {
		t.Fatal("fresh connection lost after stale unregister")
	}
}

func TestPendingConnExcludedFromFanOut(t *testing.T) {
	ctl := NewController(nil, nil, 0, time.Second)
	host, guest := testConn("h"), testConn("g")
	ctl.register("r1", "h", host)
	ctl.registerPending("r1", "g", guest)

	ctl.broadcast("r1", "", map[string]any{"type": "newProducer"})
	if got := drain(t, guest); len(got) != 0 {
		t.Fatalf("unadmitted conn received room events: %v", got)
	}
	if got := drain(t, host); len(got) != 1 {
		t.Fatalf("admitted conn frames: %v", got)
	}

	// Direct delivery still reaches the parked conn.
	if c, ok := ctl.connOf("r1", "g"); !ok || c != guest {
		t.Fatal("parked conn must stay addressable")
	}

	ctl.admit("r1", "g", guest)
	if _, ok := ctl.pending["r1"]; ok {
		t.Fatal("admit must clear the pending entry")
	}
	ctl.broadcast("r1", "", map[string]any{"type": "newProducer"})
	if got := drain(t, guest); len(got) != 1 {
		t.Fatalf("admitted conn frames: %v", got)
	}
}

func TestJoinPendingReceivesNoFanOutUntilApproved(t *testing.T) {
	o := orch.New(session.NewRegistry(), nopEngine{}, nil, nil, 1, 0)
	ctl := NewController(o, nil, 0, time.Second)
	o.SetNotifier(ctl)
	ctx := context.Background()

	if _, err := o.EnsureRoom(ctx, "r1", domain.AccessHostApproval, 0); err != nil {
		t.Fatalf("EnsureRoom: %v", err)
	}

	host := testConn("h")
	ctl.handleJoinRoom(ctx, host, []byte(`{"type":"joinRoom","roomId":"r1","peerId":"h","displayName":"host"}`))
	if got := drain(t, host); len(got) != 1 || got[0]["type"] != "roomJoined" {
		t.Fatalf("host join frames: %v", got)
	}

	guest := testConn("g")
	ctl.handleJoinRoom(ctx, guest, []byte(`{"type":"joinRoom","roomId":"r1","peerId":"g","displayName":"guest"}`))
	if got := drain(t, guest); len(got) != 1 || got[0]["type"] != "waitingApproval" {
		t.Fatalf("guest join frames: %v", got)
	}
	if got := drain(t, host); len(got) != 1 || got[0]["type"] != "approvalRequest" {
		t.Fatalf("host approval frames: %v", got)
	}

	// Room activity while the request is parked must not leak to it.
	ctl.NewProducer("r1", session.ProducerEntry{ProducerID: "pa", PeerID: "h", Kind: domain.KindAudio})
	if got := drain(t, guest); len(got) != 0 {
		t.Fatalf("parked conn saw room events: %v", got)
	}

	ctl.handleApprove(ctx, host, []byte(`{"type":"approveJoin","peerId":"g"}`))
	if got := drain(t, guest); len(got) != 1 || got[0]["type"] != "roomJoined" {
		t.Fatalf("guest approval frames: %v", got)
	}
	ctl.NewProducer("r1", session.ProducerEntry{ProducerID: "pv", PeerID: "h", Kind: domain.KindVideo})
	if got := drain(t, guest); len(got) != 1 || got[0]["type"] != "newProducer" {
		t.Fatalf("admitted guest frames: %v", got)
	}
}

func TestDisconnectIgnoresReplacedConn(t *testing.T) {
	o := orch.New(session.NewRegistry(), nopEngine{}, nil, nil, 1, 0)
	ctl := NewController(o, nil, 0, time.Second)
	ctx := context.Background()

	if _, err := o.EnsureRoom(ctx, "r1", domain.AccessOpen, 0); err != nil {
		t.Fatalf("EnsureRoom: %v", err)
	}
	if _, err := o.JoinRoom(ctx, "r1", "p", "p"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	stale, fresh := testConn("x"), testConn("x")
	stale.bind("r1", "p")
	ctl.register("r1", "p", stale)
	fresh.bind("r1", "p")
	ctl.register("r1", "p", fresh)

	ctl.disconnect(stale)
	room, ok := o.Registry.Get("r1")
	if !ok || room.PeerCount() != 1 {
		t.Fatal("stale disconnect tore down the live session")
	}
	if got, ok := ctl.connOf("r1", "p"); !ok || got != fresh {
		t.Fatal("fresh connection lost after stale disconnect")
	}

	ctl.disconnect(fresh)
	if _, ok := o.Registry.Get("r1"); ok {
		t.Fatal("live disconnect must leave and destroy the empty room")
	}
}

func TestTrySendBackpressure(t *testing.T) {
	c := &wsConn{send: make(chan []byte, 1)}

	if err := c.TrySend([]byte(`1`)); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.TrySend([]byte(`2`)); err != ErrBackpressure {
		t.Fatalf("full buffer: got %v, want ErrBackpressure", err)
	}
}

func TestBindingRejectsUnbound(t *testing.T) {
	c := testConn("s")
	if _, _, ok := c.binding(); ok {
		t.Fatal("fresh conn must be unbound")
	}
	c.bind("r1", "p1")
	room, peer, ok := c.binding()
	if !ok || room != domain.RoomID("r1") || peer != domain.PeerID("p1") {
		t.Fatalf("binding: %v %v %v", room, peer, ok)
	}
	c.unbind()
	if _, _, ok := c.binding(); ok {
		t.Fatal("unbind must clear the identity")
	}
}

func TestJoinLimiterSlidingWindow(t *testing.T) {
	rl := newJoinLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !rl.Allow("sid") {
			t.Fatalf("attempt %d should pass", i)
		}
	}
	if rl.Allow("sid") {
		t.Fatal("fourth attempt in window should be blocked")
	}
	if !rl.Allow("other") {
		t.Fatal("limiter must be per client")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("sid") {
		t.Fatal("attempt after window should pass")
	}
}
