package signal

import (
	"github.com/pion/webrtc/v4"

	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/engine"
	"github.com/ribbonhq/ribbon/internal/session"
)

// Server→client events. Client→server payloads are decoded inline in
// their handlers.

type errorMsg struct {
	Type    string      `json:"type"`
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

type roomJoinedMsg struct {
	Type            string                  `json:"type"`
	Room            domain.RoomID           `json:"room"`
	IsHost          bool                    `json:"isHost"`
	Peers           []session.PeerSnapshot  `json:"peers"`
	Producers       []session.ProducerEntry `json:"producers"`
	RTPCapabilities engine.RTPCapabilities  `json:"rtpCapabilities"`
	ICEServers      []webrtc.ICEServer      `json:"iceServers"`
}

type waitingApprovalMsg struct {
	Type string        `json:"type"`
	Room domain.RoomID `json:"room"`
}

type approvalRequestMsg struct {
	Type        string        `json:"type"`
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
}

type joinDeniedMsg struct {
	Type string        `json:"type"`
	Room domain.RoomID `json:"room"`
}

type peerJoinedMsg struct {
	Type        string        `json:"type"`
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
	IsHost      bool          `json:"isHost"`
}

type peerLeftMsg struct {
	Type        string        `json:"type"`
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
}

type newProducerMsg struct {
	Type       string            `json:"type"`
	ProducerID domain.ProducerID `json:"producerId"`
	PeerID     domain.PeerID     `json:"peerId"`
	Kind       domain.MediaKind  `json:"kind"`
}

type producerEventMsg struct {
	Type       string            `json:"type"`
	ProducerID domain.ProducerID `json:"producerId"`
	PeerID     domain.PeerID     `json:"peerId"`
}

type roomClosedMsg struct {
	Type string        `json:"type"`
	Room domain.RoomID `json:"room"`
}

type transportCreatedMsg struct {
	Type      string               `json:"type"`
	Consuming bool                 `json:"consuming"`
	Transport engine.TransportInfo `json:"transport"`
}

type transportConnectedMsg struct {
	Type        string             `json:"type"`
	TransportID domain.TransportID `json:"transportId"`
}

type producedMsg struct {
	Type       string            `json:"type"`
	ProducerID domain.ProducerID `json:"producerId"`
	Kind       domain.MediaKind  `json:"kind"`
}

type consumedMsg struct {
	Type     string              `json:"type"`
	Consumer engine.ConsumerInfo `json:"consumer"`
}

type producerListMsg struct {
	Type      string                  `json:"type"`
	Producers []session.ProducerEntry `json:"producers"`
}

func (ctl *Controller) sendError(c *wsConn, code domain.Code, message string) {
	ctl.sendJSON(c, errorMsg{Type: "error", Code: code, Message: message})
}

// sendDomainError maps an orchestrator error onto the wire taxonomy.
func (ctl *Controller) sendDomainError(c *wsConn, err error) {
	ctl.sendError(c, domain.CodeOf(err), err.Error())
}
