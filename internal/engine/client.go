// Package engine is the adapter for the external media relay (a
// mediasoup-style SFU reached over a unix socket). The relay owns the
// authoritative forwarding resources; this client owns call correlation,
// timeouts and notification dispatch.
package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ribbonhq/ribbon/internal/domain"
)

const writeTimeout = 5 * time.Second

// Client is a JSON-RPC client over a single long-lived socket connection.
// Multiple calls may be in flight at once; responses are matched by request
// id, never by method name. The connection is dialed lazily and redialed
// on the next call after a transport failure.
type Client struct {
	network    string
	socketPath string
	timeout    time.Duration
	handler    NotificationHandler

	nextID atomic.Uint64

	connMu sync.Mutex
	conn   net.Conn

	pendMu  sync.Mutex
	pending map[uint64]chan rpcFrame
}

func New(socketPath string, timeout time.Duration) *Client {
	return &Client{
		network:    "unix",
		socketPath: socketPath,
		timeout:    timeout,
		pending:    make(map[uint64]chan rpcFrame),
	}
}

// SetNotificationHandler installs the push-event sink. Must be called
// before the first call is issued.
func (c *Client) SetNotificationHandler(h NotificationHandler) { c.handler = h }

func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("engine: marshal %s params: %w", method, err)
		}
		raw = b
	}

	id := c.nextID.Add(1)
	frame, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("engine: marshal %s: %w", method, err)
	}
	frame = append(frame, '\n')

	ch := make(chan rpcFrame, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	if err := c.write(frame); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrEngineUnavailable, method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", domain.ErrEngineUnavailable, method, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: %s timed out after %s", domain.ErrEngineUnavailable, method, c.timeout)
	case f := <-ch:
		if f.Error != nil {
			return mapEngineError(f.Error)
		}
		if out != nil && len(f.Result) > 0 {
			if err := json.Unmarshal(f.Result, out); err != nil {
				return fmt.Errorf("engine: decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) write(frame []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		conn, err := net.Dial(c.network, c.socketPath)
		if err != nil {
			return err
		}
		c.conn = conn
		go c.readLoop(conn)
		log.Info().Str("module", "engine").Str("socket", c.socketPath).Msg("connected to media engine")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(frame); err != nil {
		_ = c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	r := bufio.NewReaderSize(conn, 1<<20)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			break
		}
		var f rpcFrame
		if err := json.Unmarshal(line, &f); err != nil {
			log.Error().Err(err).Str("module", "engine").Msg("bad frame from engine")
			continue
		}
		if f.isNotification() {
			c.dispatch(f)
			continue
		}
		c.pendMu.Lock()
		ch, ok := c.pending[f.ID]
		c.pendMu.Unlock()
		if ok {
			ch <- f
		}
	}

	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	_ = conn.Close()
	c.failPending()
	log.Warn().Str("module", "engine").Msg("engine connection lost")
}

// failPending unblocks every in-flight call after the connection drops;
// their responses can no longer arrive.
func (c *Client) failPending() {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- rpcFrame{ID: id, Error: &rpcError{Code: "engineUnavailable", Message: "connection lost"}}:
		default:
		}
		delete(c.pending, id)
	}
}

type notifyParams struct {
	RoomID     domain.RoomID     `json:"roomId"`
	PeerID     domain.PeerID     `json:"peerId"`
	ProducerID domain.ProducerID `json:"producerId"`
	Kind       domain.MediaKind  `json:"kind"`
}

func (c *Client) dispatch(f rpcFrame) {
	if c.handler == nil {
		return
	}
	var p notifyParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		log.Error().Err(err).Str("module", "engine").Str("method", f.Method).Msg("bad notification params")
		return
	}
	switch f.Method {
	case "newProducer":
		c.handler.OnNewProducer(p.RoomID, p.PeerID, p.ProducerID, p.Kind)
	case "producerClosed":
		c.handler.OnProducerClosed(p.RoomID, p.PeerID, p.ProducerID)
	case "peerClosed":
		c.handler.OnPeerClosed(p.RoomID, p.PeerID)
	default:
		log.Debug().Str("module", "engine").Str("method", f.Method).Msg("unknown notification")
	}
}

var engineCodes = map[string]domain.Code{
	"roomNotFound":      domain.CodeRoomNotFound,
	"peerNotFound":      domain.CodePeerNotFound,
	"transportNotFound": domain.CodeTransportNotFound,
	"producerNotFound":  domain.CodeProducerNotFound,
	"cannotConsume":     domain.CodeIncompatibleCapabilities,
	"roomFull":          domain.CodeRoomFull,
	"engineUnavailable": domain.CodeEngineUnavailable,
}

// mapEngineError converts the engine's structured {code, message} pair into
// a taxonomy error. Codes the table does not know pass through unchanged so
// the client still sees something stable.
func mapEngineError(e *rpcError) error {
	if code, ok := engineCodes[e.Code]; ok {
		return &domain.Error{Code: code, Message: e.Message}
	}
	return &domain.Error{Code: domain.Code(e.Code), Message: e.Message}
}
