package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ping := time.NewTicker(ctl.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", c.sid).Msg("readPump closing")
		ctl.disconnect(c)
		c.Close()
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	readWait := ctl.PingPeriod * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", c.sid).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
			ctl.handleMessage(ctx, c, data)
		}
	}
}

// disconnect treats a dropped connection as leave for whatever identity
// it was bound to. A connection that a reconnect already replaced only
// clears itself; the live session belongs to the new connection.
func (ctl *Controller) disconnect(c *wsConn) {
	room, peer, ok := c.binding()
	if !ok {
		return
	}
	c.unbind()
	if cur, live := ctl.connOf(room, peer); !live || cur != c {
		return
	}
	ctl.unregister(room, peer, c)
	ctl.Orch.Leave(context.Background(), room, peer)
}

func (ctl *Controller) handleMessage(ctx context.Context, c *wsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_request", "malformed message")
		return
	}

	switch env.Type {
	case "joinRoom":
		ctl.handleJoinRoom(ctx, c, data)
	case "approveJoin":
		ctl.handleApprove(ctx, c, data)
	case "denyJoin":
		ctl.handleDeny(c, data)
	case "leave":
		ctl.handleLeave(ctx, c)
	case "createTransport":
		ctl.handleCreateTransport(ctx, c, data)
	case "connectTransport":
		ctl.handleConnectTransport(ctx, c, data)
	case "produce":
		ctl.handleProduce(ctx, c, data)
	case "consume":
		ctl.handleConsume(ctx, c, data)
	case "resumeConsumer":
		ctl.handleResumeConsumer(ctx, c, data)
	case "pauseProducer":
		ctl.handlePauseProducer(ctx, c, data)
	case "resumeProducer":
		ctl.handleResumeProducer(ctx, c, data)
	case "closeProducer":
		ctl.handleCloseProducer(ctx, c, data)
	case "getProducers":
		ctl.handleGetProducers(c)
	case "setPreferredLayers":
		ctl.handleSetPreferredLayers(ctx, c, data)
	case "ping":
		ctl.sendJSON(c, map[string]any{"type": "pong"})
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, "bad_request", "unknown message type")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", c.sid).Msg("send dropped")
	}
}
