package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/peerwave/signalrelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id  TEXT PRIMARY KEY,
	host_uid TEXT NOT NULL,
	players  TEXT NOT NULL DEFAULT '[]',
	status   TEXT NOT NULL DEFAULT 'waiting',
	created  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	uid     TEXT PRIMARY KEY,
	handle  TEXT NOT NULL,
	created INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS hashes (
	room_id   TEXT NOT NULL,
	tick      INTEGER NOT NULL,
	hash      TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (room_id, tick)
);

CREATE INDEX IF NOT EXISTS idx_rooms_status ON rooms(status, created DESC);
CREATE INDEX IF NOT EXISTS idx_hashes_room ON hashes(room_id, tick);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (and if needed initializes) a SQLite store at dbPath.
// Use ":memory:" for an ephemeral store in tests.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== RoomStore implementation ====

func (s *SQLiteStore) CreateRoom(ctx context.Context, roomID, hostUID string, players []string) (*store.Room, error) {
	if len(players) == 0 {
		players = []string{hostUID}
	}
	room := &store.Room{
		RoomID:  roomID,
		HostUID: hostUID,
		Players: players,
		Status:  store.RoomStatusWaiting,
		Created: time.Now().UnixMilli(),
	}

	playersJSON, err := json.Marshal(room.Players)
	if err != nil {
		return nil, fmt.Errorf("marshal players: %w", err)
	}

	query := `INSERT INTO rooms (room_id, host_uid, players, status, created) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, room.RoomID, room.HostUID, string(playersJSON), room.Status, room.Created); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return room, nil
}

func (s *SQLiteStore) GetRoom(ctx context.Context, roomID string) (*store.Room, error) {
	query := `SELECT room_id, host_uid, players, status, created FROM rooms WHERE room_id = ?`
	return scanRoom(s.db.QueryRowContext(ctx, query, roomID))
}

func (s *SQLiteStore) ListRooms(ctx context.Context, filter store.RoomFilter) ([]*store.Room, error) {
	query := `SELECT room_id, host_uid, players, status, created FROM rooms`
	args := []any{}
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *SQLiteStore) UpdateRoom(ctx context.Context, roomID string, patch store.RoomPatch) (*store.Room, error) {
	var sets []string
	var args []any

	if patch.HostUID != nil {
		sets = append(sets, "host_uid = ?")
		args = append(args, *patch.HostUID)
	}
	if patch.Players != nil {
		playersJSON, err := json.Marshal(*patch.Players)
		if err != nil {
			return nil, fmt.Errorf("marshal players: %w", err)
		}
		sets = append(sets, "players = ?")
		args = append(args, string(playersJSON))
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if len(sets) == 0 {
		return s.GetRoom(ctx, roomID)
	}

	args = append(args, roomID)
	query := `UPDATE rooms SET ` + strings.Join(sets, ", ") + ` WHERE room_id = ?`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update room: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetRoom(ctx, roomID)
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, roomID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE room_id = ?`, roomID)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*store.Room, error) {
	var room store.Room
	var playersJSON string
	err := row.Scan(&room.RoomID, &room.HostUID, &playersJSON, &room.Status, &room.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan room: %w", err)
	}
	if err := json.Unmarshal([]byte(playersJSON), &room.Players); err != nil {
		return nil, fmt.Errorf("unmarshal players: %w", err)
	}
	return &room, nil
}

// ==== UserStore implementation ====

func (s *SQLiteStore) CreateUser(ctx context.Context, uid, handle string) (*store.User, error) {
	user := &store.User{
		UID:     uid,
		Handle:  handle,
		Created: time.Now().UnixMilli(),
	}
	query := `INSERT INTO users (uid, handle, created) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, user.UID, user.Handle, user.Created); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, uid string) (*store.User, error) {
	var user store.User
	query := `SELECT uid, handle, created FROM users WHERE uid = ?`
	err := s.db.QueryRowContext(ctx, query, uid).Scan(&user.UID, &user.Handle, &user.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, uid, handle string) (*store.User, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET handle = ? WHERE uid = ?`, handle, uid)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetUser(ctx, uid)
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, uid string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ==== HashStore implementation ====

func (s *SQLiteStore) SaveHash(ctx context.Context, h *store.Hash) error {
	if h.Timestamp == 0 {
		h.Timestamp = time.Now().UnixMilli()
	}
	query := `INSERT OR REPLACE INTO hashes (room_id, tick, hash, timestamp) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, h.RoomID, h.Tick, h.Hash, h.Timestamp); err != nil {
		return fmt.Errorf("save hash: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListHashesByRoom(ctx context.Context, roomID string) ([]*store.Hash, error) {
	query := `SELECT room_id, tick, hash, timestamp FROM hashes WHERE room_id = ? ORDER BY tick`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list hashes: %w", err)
	}
	defer rows.Close()

	var hashes []*store.Hash
	for rows.Next() {
		var h store.Hash
		if err := rows.Scan(&h.RoomID, &h.Tick, &h.Hash, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		hashes = append(hashes, &h)
	}
	return hashes, rows.Err()
}

func (s *SQLiteStore) GetHashByRoomAndTick(ctx context.Context, roomID string, tick int64) (*store.Hash, error) {
	var h store.Hash
	query := `SELECT room_id, tick, hash, timestamp FROM hashes WHERE room_id = ? AND tick = ?`
	err := s.db.QueryRowContext(ctx, query, roomID, tick).Scan(&h.RoomID, &h.Tick, &h.Hash, &h.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hash: %w", err)
	}
	return &h, nil
}

func (s *SQLiteStore) DeleteHashesByRoom(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM hashes WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("delete hashes: %w", err)
	}
	return nil
}
