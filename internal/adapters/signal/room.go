package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ribbonhq/ribbon/internal/domain"
)

func (ctl *Controller) handleJoinRoom(ctx context.Context, c *wsConn, data []byte) {
	if _, _, bound := c.binding(); bound {
		ctl.sendError(c, domain.CodeBadRequest, "already in a room")
		return
	}
	if !ctl.limiter.Allow(c.sid) {
		ctl.sendError(c, domain.CodeBadRequest, "too many join attempts")
		return
	}

	type joinPayload struct {
		Type        string `json:"type"`
		Room        string `json:"roomId"`
		Peer        string `json:"peerId"`
		DisplayName string `json:"displayName"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" || p.Peer == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(c, domain.CodeBadRequest, "bad join payload")
		return
	}
	roomID, peerID := domain.RoomID(p.Room), domain.PeerID(p.Peer)

	// Bind and park before the orchestrator call so the approval decision
	// can reach this connection. Room fan-out starts only on admission.
	c.bind(roomID, peerID)
	ctl.registerPending(roomID, peerID, c)

	log.Info().Str("module", "signal").Str("sid", c.sid).Str("room", p.Room).Str("peer", p.Peer).Msg("join")
	out, err := ctl.Orch.JoinRoom(ctx, roomID, peerID, p.DisplayName)
	if err != nil {
		ctl.unregister(roomID, peerID, c)
		c.unbind()
		ctl.sendDomainError(c, err)
		return
	}

	if out.Pending {
		ctl.sendJSON(c, waitingApprovalMsg{Type: "waitingApproval", Room: roomID})
		return
	}
	ctl.admit(roomID, peerID, c)
	ctl.sendJSON(c, roomJoinedMsg{
		Type:            "roomJoined",
		Room:            roomID,
		IsHost:          out.IsHost,
		Peers:           out.Peers,
		Producers:       out.Producers,
		RTPCapabilities: out.RTPCapabilities,
		ICEServers:      ctl.iceServers(c.sid),
	})
}

func (ctl *Controller) handleApprove(ctx context.Context, c *wsConn, data []byte) {
	room, caller, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	var p struct {
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.PeerID == "" {
		ctl.sendError(c, domain.CodeBadRequest, "bad approve payload")
		return
	}
	if err := ctl.Orch.ApproveJoin(ctx, room, caller, domain.PeerID(p.PeerID)); err != nil {
		ctl.sendDomainError(c, err)
	}
}

func (ctl *Controller) handleDeny(c *wsConn, data []byte) {
	room, caller, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	var p struct {
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.PeerID == "" {
		ctl.sendError(c, domain.CodeBadRequest, "bad deny payload")
		return
	}
	if err := ctl.Orch.DenyJoin(room, caller, domain.PeerID(p.PeerID)); err != nil {
		ctl.sendDomainError(c, err)
	}
}

// handleLeave exits the room without dropping the websocket; the client
// can join another room on the same connection.
func (ctl *Controller) handleLeave(ctx context.Context, c *wsConn) {
	room, peer, bound := c.binding()
	if !bound {
		return
	}
	log.Info().Str("module", "signal").Str("sid", c.sid).Str("room", string(room)).Msg("leave")
	c.unbind()
	ctl.unregister(room, peer, c)
	ctl.Orch.Leave(ctx, room, peer)
	ctl.sendJSON(c, map[string]any{"type": "left"})
}

func (ctl *Controller) iceServers(label string) []webrtc.ICEServer {
	if ctl.Turn == nil {
		return nil
	}
	return ctl.Turn.ICEServers(label)
}
