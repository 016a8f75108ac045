// Package domain holds entity types and the error taxonomy. No logic lives
// here beyond validation of the raw values.
package domain

type (
	RoomID      string
	PeerID      string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// MediaKind is the kind of media a producer carries. A peer owns at most
// one producer per kind.
type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindScreen MediaKind = "screen"
)

func (k MediaKind) Valid() bool {
	switch k {
	case KindAudio, KindVideo, KindScreen:
		return true
	}
	return false
}

// PeerState is the lifecycle state of a peer inside a room.
// Left is terminal.
type PeerState int

const (
	PeerJoining PeerState = iota
	PeerAwaitingApproval
	PeerActive
	PeerLeft
)

func (s PeerState) String() string {
	switch s {
	case PeerJoining:
		return "joining"
	case PeerAwaitingApproval:
		return "awaiting_approval"
	case PeerActive:
		return "active"
	case PeerLeft:
		return "left"
	}
	return "unknown"
}

// AccessMode controls whether joins are admitted directly or gated on the
// host's approval.
type AccessMode int

const (
	AccessOpen AccessMode = iota
	AccessHostApproval
)
