package signal

import (
	"context"
	"encoding/json"

	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/engine"
)

// media handlers. Every message operates on the connection's bound
// identity; ids inside payloads name resources, never the acting peer.

func (ctl *Controller) handleCreateTransport(ctx context.Context, c *wsConn, data []byte) {
	room, peer, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	var p struct {
		Consuming bool `json:"consuming"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, domain.CodeBadRequest, "bad createTransport payload")
		return
	}
	info, err := ctl.Orch.CreateTransport(ctx, room, peer, p.Consuming)
	if err != nil {
		ctl.sendDomainError(c, err)
		return
	}
	ctl.sendJSON(c, transportCreatedMsg{Type: "transportCreated", Consuming: p.Consuming, Transport: info})
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, c *wsConn, data []byte) {
	room, peer, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	var p struct {
		TransportID    string                `json:"transportId"`
		DTLSParameters engine.DTLSParameters `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" || len(p.DTLSParameters) == 0 {
		ctl.sendError(c, domain.CodeBadRequest, "bad connectTransport payload")
		return
	}
	tid := domain.TransportID(p.TransportID)
	if err := ctl.Orch.ConnectTransport(ctx, room, peer, tid, p.DTLSParameters); err != nil {
		ctl.sendDomainError(c, err)
		return
	}
	ctl.sendJSON(c, transportConnectedMsg{Type: "transportConnected", TransportID: tid})
}

func (ctl *Controller) handleProduce(ctx context.Context, c *wsConn, data []byte) {
	room, peer, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	var p struct {
		TransportID   string               `json:"transportId"`
		Kind          string               `json:"kind"`
		RTPParameters engine.RTPParameters `json:"rtpParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" || len(p.RTPParameters) == 0 {
		ctl.sendError(c, domain.CodeBadRequest, "bad produce payload")
		return
	}
	kind := domain.MediaKind(p.Kind)
	id, err := ctl.Orch.Produce(ctx, room, peer, domain.TransportID(p.TransportID), kind, p.RTPParameters)
	if err != nil {
		ctl.sendDomainError(c, err)
		return
	}
	ctl.sendJSON(c, producedMsg{Type: "produced", ProducerID: id, Kind: kind})
}

func (ctl *Controller) handleConsume(ctx context.Context, c *wsConn, data []byte) {
	room, peer, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	var p struct {
		ProducerID      string                 `json:"producerId"`
		RTPCapabilities engine.RTPCapabilities `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" || len(p.RTPCapabilities) == 0 {
		ctl.sendError(c, domain.CodeBadRequest, "bad consume payload")
		return
	}
	info, err := ctl.Orch.Consume(ctx, room, peer, domain.ProducerID(p.ProducerID), p.RTPCapabilities)
	if err != nil {
		ctl.sendDomainError(c, err)
		return
	}
	ctl.sendJSON(c, consumedMsg{Type: "consumed", Consumer: info})
}

func (ctl *Controller) handleResumeConsumer(ctx context.Context, c *wsConn, data []byte) {
	room, peer, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	var p struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConsumerID == "" {
		ctl.sendError(c, domain.CodeBadRequest, "bad resumeConsumer payload")
		return
	}
	if err := ctl.Orch.ResumeConsumer(ctx, room, peer, domain.ConsumerID(p.ConsumerID)); err != nil {
		ctl.sendDomainError(c, err)
	}
}

func (ctl *Controller) producerOp(data []byte) (domain.ProducerID, bool) {
	var p struct {
		ProducerID string `json:"producerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		return "", false
	}
	return domain.ProducerID(p.ProducerID), true
}

func (ctl *Controller) handlePauseProducer(ctx context.Context, c *wsConn, data []byte) {
	room, peer, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	id, ok := ctl.producerOp(data)
	if !ok {
		ctl.sendError(c, domain.CodeBadRequest, "bad pauseProducer payload")
		return
	}
	if err := ctl.Orch.PauseProducer(ctx, room, peer, id); err != nil {
		ctl.sendDomainError(c, err)
	}
}

func (ctl *Controller) handleResumeProducer(ctx context.Context, c *wsConn, data []byte) {
	room, peer, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	id, ok := ctl.producerOp(data)
	if !ok {
		ctl.sendError(c, domain.CodeBadRequest, "bad resumeProducer payload")
		return
	}
	if err := ctl.Orch.ResumeProducer(ctx, room, peer, id); err != nil {
		ctl.sendDomainError(c, err)
	}
}

func (ctl *Controller) handleCloseProducer(ctx context.Context, c *wsConn, data []byte) {
	room, peer, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	id, ok := ctl.producerOp(data)
	if !ok {
		ctl.sendError(c, domain.CodeBadRequest, "bad closeProducer payload")
		return
	}
	if err := ctl.Orch.CloseProducer(ctx, room, peer, id); err != nil {
		ctl.sendDomainError(c, err)
	}
}

func (ctl *Controller) handleGetProducers(c *wsConn) {
	room, peer, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	list, err := ctl.Orch.ListProducers(room, peer)
	if err != nil {
		ctl.sendDomainError(c, err)
		return
	}
	ctl.sendJSON(c, producerListMsg{Type: "producerList", Producers: list})
}

func (ctl *Controller) handleSetPreferredLayers(ctx context.Context, c *wsConn, data []byte) {
	room, peer, bound := c.binding()
	if !bound {
		ctl.sendError(c, domain.CodeUnauthorized, "not in a room")
		return
	}
	var p struct {
		ConsumerID string `json:"consumerId"`
		Spatial    int    `json:"spatialLayer"`
		Temporal   *int   `json:"temporalLayer"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConsumerID == "" {
		ctl.sendError(c, domain.CodeBadRequest, "bad setPreferredLayers payload")
		return
	}
	if err := ctl.Orch.SetPreferredLayers(ctx, room, peer, domain.ConsumerID(p.ConsumerID), p.Spatial, p.Temporal); err != nil {
		ctl.sendDomainError(c, err)
	}
}
