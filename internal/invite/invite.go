// Package invite tracks invite tokens for gated rooms. The in-memory table
// is authoritative; a persistence hook records links for the lobby and for
// restart-survivable audit, never for resolution.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ribbonhq/ribbon/internal/domain"
)

// Recorder is the optional write-through persistence hook.
type Recorder interface {
	SaveInvite(ctx context.Context, token string, room domain.RoomID, reusable bool, expiresAt time.Time) error
	RecordInviteUse(ctx context.Context, token string, exhausted bool) error
}

type entry struct {
	room      domain.RoomID
	reusable  bool
	expiresAt time.Time // zero = no expiry
}

type Service struct {
	mu       sync.Mutex
	byToken  map[string]*entry
	recorder Recorder
	now      func() time.Time
}

func NewService(recorder Recorder) *Service {
	return &Service{
		byToken:  make(map[string]*entry),
		recorder: recorder,
		now:      time.Now,
	}
}

// Create mints a token for a room. ttl of zero means no expiry.
func (s *Service) Create(ctx context.Context, room domain.RoomID, reusable bool, ttl time.Duration) (string, error) {
	token := newToken()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.byToken[token] = &entry{room: room, reusable: reusable, expiresAt: expiresAt}
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.SaveInvite(ctx, token, room, reusable, expiresAt); err != nil {
			log.Error().Err(err).Str("module", "invite").Msg("persist invite")
		}
	}
	log.Info().Str("module", "invite").Str("room", string(room)).Bool("reusable", reusable).Msg("invite created")
	return token, nil
}

// Resolve maps a token to its room. Single-use tokens are invalidated
// atomically with the first successful resolution: of two concurrent
// resolves, exactly one succeeds.
func (s *Service) Resolve(ctx context.Context, token string) (domain.RoomID, error) {
	s.mu.Lock()
	e, ok := s.byToken[token]
	if !ok {
		s.mu.Unlock()
		return "", domain.ErrInviteNotFound
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.byToken, token)
		s.mu.Unlock()
		return "", domain.ErrInviteExpired
	}
	exhausted := !e.reusable
	if exhausted {
		delete(s.byToken, token)
	}
	room := e.room
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.RecordInviteUse(ctx, token, exhausted); err != nil {
			log.Error().Err(err).Str("module", "invite").Msg("record invite use")
		}
	}
	return room, nil
}

// DropRoom invalidates every token pointing at a destroyed room.
func (s *Service) DropRoom(room domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, e := range s.byToken {
		if e.room == room {
			delete(s.byToken, token)
		}
	}
}

func newToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
