package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ribbonhq/ribbon/internal/domain"
)

// Registry is the only process-wide mutable structure: the map from room id
// to live room. Its lock protects creation, lookup and deletion only; each
// room serializes its own mutations with its own mutex.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*Room)}
}

func (r *Registry) Get(id domain.RoomID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// Register adds a room, returning the already-registered one when the id is
// taken. The caller allocates engine-side resources before registering, so
// a room visible here always has a live router behind it.
func (r *Registry) Register(room *Room) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rooms[room.ID]; ok {
		return existing, false
	}
	r.rooms[room.ID] = room
	log.Info().Str("module", "session").Str("room", string(room.ID)).Msg("room registered")
	return room, true
}

// Remove drops a room from the registry. Returns false when the id is
// unknown, so engine-side teardown runs exactly once even under racing
// leaves.
func (r *Registry) Remove(id domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; !ok {
		return false
	}
	delete(r.rooms, id)
	log.Info().Str("module", "session").Str("room", string(id)).Msg("room removed")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RoomInfo is the lobby view of a live room.
type RoomInfo struct {
	ID        domain.RoomID `json:"roomId"`
	CreatedAt time.Time     `json:"createdAt"`
	PeerCount int           `json:"peerCount"`
}

func (r *Registry) Snapshot() []RoomInfo {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, RoomInfo{ID: room.ID, CreatedAt: room.CreatedAt, PeerCount: room.PeerCount()})
	}
	return out
}

// Rooms returns the live rooms; used by the reconciliation sweep.
func (r *Registry) Rooms() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}
