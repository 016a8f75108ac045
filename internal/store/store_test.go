package store

import (
	"context"
	"testing"
	"time"

	"github.com/ribbonhq/ribbon/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?mode=memory&cache=shared", 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoomRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Unix(1_700_000_000, 0)
	rec := RoomRecord{
		ID:              "r1",
		Name:            "standup",
		PassphraseHash:  "$2a$10$fakehash",
		CreatedBy:       "client-1",
		CreatedAt:       created,
		ExpiresAt:       created.Add(24 * time.Hour),
		MaxParticipants: 8,
		RequireApproval: true,
	}
	if err := s.CreateRoom(ctx, rec); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	got, found, err := s.GetRoom(ctx, "r1")
	if err != nil || !found {
		t.Fatalf("GetRoom: found=%v err=%v", found, err)
	}
	if got.Name != "standup" || got.PassphraseHash != rec.PassphraseHash || !got.RequireApproval {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Status != "active" {
		t.Fatalf("fresh room status: got %q, want active", got.Status)
	}
	if got.MaxParticipants != 8 {
		t.Fatalf("max participants: got %d", got.MaxParticipants)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created at: got %v, want %v", got.CreatedAt, created)
	}

	if _, found, err := s.GetRoom(ctx, "missing"); err != nil || found {
		t.Fatalf("missing room: found=%v err=%v", found, err)
	}
}

func TestListActiveExcludesClosed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []domain.RoomID{"a", "b"} {
		if err := s.CreateRoom(ctx, RoomRecord{ID: id, Name: string(id), CreatedBy: "c", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("CreateRoom(%s): %v", id, err)
		}
	}
	if err := s.SetRoomStatus(ctx, "a", "closed"); err != nil {
		t.Fatalf("SetRoomStatus: %v", err)
	}

	active, err := s.ListActiveRooms(ctx)
	if err != nil {
		t.Fatalf("ListActiveRooms: %v", err)
	}
	if len(active) != 1 || active[0].ID != "b" {
		t.Fatalf("active rooms: %+v", active)
	}
}

func TestExpireRooms(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(10_000, 0)

	if err := s.CreateRoom(ctx, RoomRecord{ID: "old", Name: "old", CreatedBy: "c", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := s.CreateRoom(ctx, RoomRecord{ID: "fresh", Name: "fresh", CreatedBy: "c", CreatedAt: now, ExpiresAt: now.Add(48 * time.Hour)}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	// No expiry set: never swept.
	if err := s.CreateRoom(ctx, RoomRecord{ID: "forever", Name: "forever", CreatedBy: "c", CreatedAt: now}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	n, err := s.ExpireRooms(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ExpireRooms: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired count: got %d, want 1", n)
	}

	rec, _, _ := s.GetRoom(ctx, "old")
	if rec.Status != "expired" {
		t.Fatalf("old status: %q", rec.Status)
	}
	for _, id := range []domain.RoomID{"fresh", "forever"} {
		rec, _, _ := s.GetRoom(ctx, id)
		if rec.Status != "active" {
			t.Fatalf("%s status: %q", id, rec.Status)
		}
	}
}

func TestParticipantHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(5_000, 0)

	if err := s.AddParticipant(ctx, "r1", "p1", "alice", now); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if err := s.MarkParticipantLeft(ctx, "r1", "p1", now.Add(time.Minute)); err != nil {
		t.Fatalf("MarkParticipantLeft: %v", err)
	}
	// A second mark is a no-op, it must not error.
	if err := s.MarkParticipantLeft(ctx, "r1", "p1", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("second MarkParticipantLeft: %v", err)
	}
}

func TestInviteRecording(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveInvite(ctx, "tok-1", "r1", false, time.Time{}); err != nil {
		t.Fatalf("SaveInvite: %v", err)
	}

	uses, active, err := s.InviteUses(ctx, "tok-1")
	if err != nil || uses != 0 || !active {
		t.Fatalf("fresh invite: uses=%d active=%v err=%v", uses, active, err)
	}

	if err := s.RecordInviteUse(ctx, "tok-1", true); err != nil {
		t.Fatalf("RecordInviteUse: %v", err)
	}
	uses, active, err = s.InviteUses(ctx, "tok-1")
	if err != nil || uses != 1 || active {
		t.Fatalf("exhausted invite: uses=%d active=%v err=%v", uses, active, err)
	}
}
