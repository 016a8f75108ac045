// Package orch coordinates the session state machine, the media engine
// adapter, invites and persistence. Gateway handlers call exactly one
// orchestrator operation per client intent.
//
// Lock discipline: each room's mutex is held only around local state
// mutation, never across an engine round-trip. Operations reserve locally,
// call the engine unlocked, then commit or roll back.
package orch

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/engine"
	"github.com/ribbonhq/ribbon/internal/invite"
	"github.com/ribbonhq/ribbon/internal/session"
	"github.com/ribbonhq/ribbon/internal/store"
)

// MediaEngine is the adapter surface the orchestrator drives. Implemented
// by engine.Client; tests install a fake.
type MediaEngine interface {
	Ping(ctx context.Context) error
	CreateRouter(ctx context.Context, room domain.RoomID, worker int) error
	CloseRouter(ctx context.Context, room domain.RoomID) error
	RouterCapabilities(ctx context.Context, room domain.RoomID) (engine.RTPCapabilities, error)
	Join(ctx context.Context, room domain.RoomID, peer domain.PeerID, displayName string) (engine.JoinResult, error)
	Leave(ctx context.Context, room domain.RoomID, peer domain.PeerID) ([]domain.ProducerID, error)
	CreateTransport(ctx context.Context, room domain.RoomID, peer domain.PeerID, consuming bool) (engine.TransportInfo, error)
	ConnectTransport(ctx context.Context, room domain.RoomID, peer domain.PeerID, transport domain.TransportID, dtls engine.DTLSParameters) error
	Produce(ctx context.Context, room domain.RoomID, peer domain.PeerID, transport domain.TransportID, kind domain.MediaKind, rtp engine.RTPParameters) (domain.ProducerID, error)
	Consume(ctx context.Context, room domain.RoomID, peer domain.PeerID, producer domain.ProducerID, caps engine.RTPCapabilities) (engine.ConsumerInfo, error)
	ResumeConsumer(ctx context.Context, room domain.RoomID, peer domain.PeerID, consumer domain.ConsumerID) error
	PauseProducer(ctx context.Context, room domain.RoomID, peer domain.PeerID, producer domain.ProducerID) error
	ResumeProducer(ctx context.Context, room domain.RoomID, peer domain.PeerID, producer domain.ProducerID) error
	CloseProducer(ctx context.Context, room domain.RoomID, peer domain.PeerID, producer domain.ProducerID) error
	Producers(ctx context.Context, room domain.RoomID, peer domain.PeerID) ([]engine.ProducerInfo, error)
	RoomStats(ctx context.Context, room domain.RoomID) (engine.RoomStats, error)
	SetPreferredLayers(ctx context.Context, room domain.RoomID, peer domain.PeerID, consumer domain.ConsumerID, spatial int, temporal *int) error
}

// teardownTimeout bounds engine calls issued on paths that must complete
// locally regardless of the engine (leave, room destroy).
const teardownTimeout = 10 * time.Second

type Orchestrator struct {
	Registry *session.Registry
	Engine   MediaEngine
	Invites  *invite.Service
	Store    *store.Store // optional

	// DefaultMaxPeers caps rooms that carry no explicit limit. Zero means
	// unlimited.
	DefaultMaxPeers int

	workers    int
	nextWorker atomic.Uint64
	create     singleflight.Group
	notifier   Notifier
}

func New(reg *session.Registry, eng MediaEngine, inv *invite.Service, st *store.Store, workers, defaultMaxPeers int) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		Registry:        reg,
		Engine:          eng,
		Invites:         inv,
		Store:           st,
		DefaultMaxPeers: defaultMaxPeers,
		workers:         workers,
		notifier:        NopNotifier{},
	}
}

// SetNotifier installs the fan-out sink. Called once at wire-up, before
// any traffic.
func (o *Orchestrator) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	o.notifier = n
}

func (o *Orchestrator) notify() Notifier { return o.notifier }
