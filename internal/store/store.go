// Package store persists room records, participant history and invite
// links in an embedded SQLite database. Live session state never lives
// here; the registry in internal/session is authoritative while a room is
// running.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ribbonhq/ribbon/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	passphrase_hash TEXT,
	created_by TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER,
	max_participants INTEGER DEFAULT 15,
	status TEXT DEFAULT 'active',
	require_approval INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS participants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id TEXT NOT NULL,
	peer_id TEXT NOT NULL,
	display_name TEXT NOT NULL,
	joined_at INTEGER NOT NULL,
	left_at INTEGER
);

CREATE TABLE IF NOT EXISTS invite_links (
	token TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER,
	reusable INTEGER DEFAULT 0,
	use_count INTEGER DEFAULT 0,
	is_active INTEGER DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_participants_room ON participants(room_id);
CREATE INDEX IF NOT EXISTS idx_invites_room ON invite_links(room_id);
`

// Store wraps a fixed-size SQLite connection pool. Safe for concurrent
// use; individual connections are not, so every method takes its own
// connection and returns it when done.
type Store struct {
	pool *sqlitex.Pool
}

// Open creates the pool and applies pragmas plus the schema to every
// connection. Use ":memory:" with poolSize 1 in tests.
func Open(path string, poolSize int) (*Store, error) {
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = ON;", nil); err != nil {
				return err
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	log.Info().Str("module", "store").Str("path", path).Msg("sqlite store opened")
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error { return s.pool.Close() }

// RoomRecord is the persisted description of a room, as created through
// the lobby.
type RoomRecord struct {
	ID              domain.RoomID
	Name            string
	PassphraseHash  string
	CreatedBy       string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	MaxParticipants int
	Status          string
	RequireApproval bool
}

func (s *Store) CreateRoom(ctx context.Context, rec RoomRecord) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		`INSERT INTO rooms (id, name, passphrase_hash, created_by, created_at, expires_at, max_participants, status, require_approval)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'active', ?);`,
		&sqlitex.ExecOptions{Args: []any{
			string(rec.ID), rec.Name, rec.PassphraseHash, rec.CreatedBy,
			rec.CreatedAt.Unix(), unixOrZero(rec.ExpiresAt), rec.MaxParticipants, boolInt(rec.RequireApproval),
		}})
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (RoomRecord, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return RoomRecord{}, false, err
	}
	defer s.pool.Put(conn)

	var rec RoomRecord
	found := false
	err = sqlitex.Execute(conn,
		`SELECT id, name, passphrase_hash, created_by, created_at, expires_at, max_participants, status, require_approval
		 FROM rooms WHERE id = ?;`,
		&sqlitex.ExecOptions{
			Args: []any{string(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				rec = roomFromRow(stmt)
				return nil
			},
		})
	return rec, found, err
}

func (s *Store) ListActiveRooms(ctx context.Context) ([]RoomRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []RoomRecord
	err = sqlitex.Execute(conn,
		`SELECT id, name, passphrase_hash, created_by, created_at, expires_at, max_participants, status, require_approval
		 FROM rooms WHERE status = 'active' ORDER BY created_at DESC;`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, roomFromRow(stmt))
				return nil
			},
		})
	return out, err
}

func (s *Store) SetRoomStatus(ctx context.Context, id domain.RoomID, status string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `UPDATE rooms SET status = ? WHERE id = ?;`,
		&sqlitex.ExecOptions{Args: []any{status, string(id)}})
}

// ExpireRooms marks rooms whose expiry passed. Returns how many changed.
func (s *Store) ExpireRooms(ctx context.Context, now time.Time) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE rooms SET status = 'expired' WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at > 0 AND expires_at < ?;`,
		&sqlitex.ExecOptions{Args: []any{now.Unix()}})
	if err != nil {
		return 0, err
	}
	return conn.Changes(), nil
}

func (s *Store) AddParticipant(ctx context.Context, room domain.RoomID, peer domain.PeerID, displayName string, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		`INSERT INTO participants (room_id, peer_id, display_name, joined_at) VALUES (?, ?, ?, ?);`,
		&sqlitex.ExecOptions{Args: []any{string(room), string(peer), displayName, at.Unix()}})
}

func (s *Store) MarkParticipantLeft(ctx context.Context, room domain.RoomID, peer domain.PeerID, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		`UPDATE participants SET left_at = ? WHERE room_id = ? AND peer_id = ? AND left_at IS NULL;`,
		&sqlitex.ExecOptions{Args: []any{at.Unix(), string(room), string(peer)}})
}

// SaveInvite implements invite.Recorder.
func (s *Store) SaveInvite(ctx context.Context, token string, room domain.RoomID, reusable bool, expiresAt time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		`INSERT INTO invite_links (token, room_id, created_at, expires_at, reusable) VALUES (?, ?, ?, ?, ?);`,
		&sqlitex.ExecOptions{Args: []any{token, string(room), time.Now().Unix(), unixOrZero(expiresAt), boolInt(reusable)}})
}

// RecordInviteUse implements invite.Recorder.
func (s *Store) RecordInviteUse(ctx context.Context, token string, exhausted bool) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	active := 1
	if exhausted {
		active = 0
	}
	return sqlitex.Execute(conn,
		`UPDATE invite_links SET use_count = use_count + 1, is_active = ? WHERE token = ?;`,
		&sqlitex.ExecOptions{Args: []any{active, token}})
}

// InviteUses reports the recorded use count and active flag of a token.
func (s *Store) InviteUses(ctx context.Context, token string) (uses int, active bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`SELECT use_count, is_active FROM invite_links WHERE token = ?;`,
		&sqlitex.ExecOptions{
			Args: []any{token},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				uses = stmt.ColumnInt(0)
				active = stmt.ColumnInt(1) != 0
				return nil
			},
		})
	return uses, active, err
}

func roomFromRow(stmt *sqlite.Stmt) RoomRecord {
	return RoomRecord{
		ID:              domain.RoomID(stmt.ColumnText(0)),
		Name:            stmt.ColumnText(1),
		PassphraseHash:  stmt.ColumnText(2),
		CreatedBy:       stmt.ColumnText(3),
		CreatedAt:       time.Unix(stmt.ColumnInt64(4), 0),
		ExpiresAt:       timeOrZero(stmt.ColumnInt64(5)),
		MaxParticipants: stmt.ColumnInt(6),
		Status:          stmt.ColumnText(7),
		RequireApproval: stmt.ColumnInt(8) != 0,
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
