package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ribbonhq/ribbon/internal/app/orch"
	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/turncred"
)

var ErrBackpressure = errors.New("backpressure")

// Controller serves the websocket signaling channel: one long-lived
// connection per client, bound to at most one (room, peer) identity by a
// successful joinRoom. It also implements orch.Notifier, fanning room
// events back out over the same connections.
type Controller struct {
	Orch *orch.Orchestrator
	Turn *turncred.Generator

	ReadLimit  int64
	PingPeriod time.Duration

	limiter *joinLimiter

	// rooms holds admitted connections only; pending holds connections
	// parked on host approval. Pending conns are reachable for direct
	// messages (approvalRequest replies, joinApproved, joinDenied) but
	// excluded from room fan-out until admitted.
	mu      sync.RWMutex
	rooms   map[domain.RoomID]map[domain.PeerID]*wsConn
	pending map[domain.RoomID]map[domain.PeerID]*wsConn
}

func NewController(o *orch.Orchestrator, turn *turncred.Generator, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Orch:       o,
		Turn:       turn,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
		limiter:    newJoinLimiter(10, time.Minute),
		rooms:      make(map[domain.RoomID]map[domain.PeerID]*wsConn),
		pending:    make(map[domain.RoomID]map[domain.PeerID]*wsConn),
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	sid  string

	mu     sync.RWMutex
	closed bool
	room   domain.RoomID
	peer   domain.PeerID
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// bind attaches the connection to a room identity. Only joinRoom calls
// this; everything after uses the bound pair and ignores client-supplied
// ids.
func (c *wsConn) bind(room domain.RoomID, peer domain.PeerID) {
	c.mu.Lock()
	c.room, c.peer = room, peer
	c.mu.Unlock()
}

func (c *wsConn) binding() (domain.RoomID, domain.PeerID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room, c.peer, c.room != "" && c.peer != ""
}

func (c *wsConn) unbind() {
	c.mu.Lock()
	c.room, c.peer = "", ""
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", sid).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
		sid:  sid,
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, conn)
	}()
}

// register makes the bound connection reachable for room fan-out.
func (ctl *Controller) register(room domain.RoomID, peer domain.PeerID, c *wsConn) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	putConn(ctl.rooms, room, peer, c)
}

// registerPending parks a connection awaiting the host's decision. It can
// be addressed directly but receives no room fan-out.
func (ctl *Controller) registerPending(room domain.RoomID, peer domain.PeerID, c *wsConn) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	putConn(ctl.pending, room, peer, c)
}

// admit moves c into the room fan-out set, clearing its pending entry.
func (ctl *Controller) admit(room domain.RoomID, peer domain.PeerID, c *wsConn) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	dropConn(ctl.pending, room, peer, c)
	putConn(ctl.rooms, room, peer, c)
}

func (ctl *Controller) unregister(room domain.RoomID, peer domain.PeerID, c *wsConn) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	dropConn(ctl.rooms, room, peer, c)
	dropConn(ctl.pending, room, peer, c)
}

func (ctl *Controller) connOf(room domain.RoomID, peer domain.PeerID) (*wsConn, bool) {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	if c, ok := ctl.rooms[room][peer]; ok {
		return c, true
	}
	c, ok := ctl.pending[room][peer]
	return c, ok
}

func putConn(index map[domain.RoomID]map[domain.PeerID]*wsConn, room domain.RoomID, peer domain.PeerID, c *wsConn) {
	conns, ok := index[room]
	if !ok {
		conns = make(map[domain.PeerID]*wsConn)
		index[room] = conns
	}
	conns[peer] = c
}

// dropConn removes the entry only when it still points at c; a reconnect
// that replaced the entry keeps its fresh connection.
func dropConn(index map[domain.RoomID]map[domain.PeerID]*wsConn, room domain.RoomID, peer domain.PeerID, c *wsConn) {
	conns, ok := index[room]
	if !ok {
		return
	}
	if conns[peer] == c {
		delete(conns, peer)
	}
	if len(conns) == 0 {
		delete(index, room)
	}
}

// broadcast sends v to every connection bound to the room except the
// excluded peer.
func (ctl *Controller) broadcast(room domain.RoomID, excluding domain.PeerID, v any) {
	ctl.mu.RLock()
	targets := make([]*wsConn, 0, len(ctl.rooms[room]))
	for peer, c := range ctl.rooms[room] {
		if peer == excluding {
			continue
		}
		targets = append(targets, c)
	}
	ctl.mu.RUnlock()

	for _, c := range targets {
		ctl.sendJSON(c, v)
	}
}
