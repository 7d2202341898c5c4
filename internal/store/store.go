package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup by ID misses.
var ErrNotFound = errors.New("store: not found")

// RoomStatus tracks a room's lifecycle in the lobby.
type RoomStatus string

const (
	RoomStatusWaiting  RoomStatus = "waiting"
	RoomStatusPlaying  RoomStatus = "playing"
	RoomStatusFinished RoomStatus = "finished"
)

// Room is a persisted lobby room. This is lobby metadata only; live
// signaling membership is owned by the gateway and never stored.
type Room struct {
	RoomID  string     `json:"roomId"`
	HostUID string     `json:"hostUid"`
	Players []string   `json:"players"`
	Status  RoomStatus `json:"status"`
	Created int64      `json:"created"` // epoch millis
}

// User is a persisted user profile.
type User struct {
	UID     string `json:"uid"`
	Handle  string `json:"handle"`
	Created int64  `json:"created"`
}

// Hash is a per-tick state digest used by peers to detect
// divergence during a session.
type Hash struct {
	RoomID    string `json:"roomId"`
	Tick      int64  `json:"tick"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
}

// RoomFilter narrows ListRooms results.
type RoomFilter struct {
	Status *RoomStatus
	Limit  int
	Offset int
}

// RoomPatch is a partial room update; nil fields are left untouched.
type RoomPatch struct {
	HostUID *string
	Players *[]string
	Status  *RoomStatus
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom persists a new room in waiting status with the host
	// as its first player.
	CreateRoom(ctx context.Context, roomID, hostUID string, players []string) (*Room, error)

	// GetRoom retrieves a room by its opaque ID.
	GetRoom(ctx context.Context, roomID string) (*Room, error)

	// ListRooms lists rooms, optionally filtered by status, newest first.
	ListRooms(ctx context.Context, filter RoomFilter) ([]*Room, error)

	// UpdateRoom applies a partial patch and returns the updated room.
	UpdateRoom(ctx context.Context, roomID string, patch RoomPatch) (*Room, error)

	// DeleteRoom removes a room.
	DeleteRoom(ctx context.Context, roomID string) error
}

// UserStore handles user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, uid, handle string) (*User, error)
	GetUser(ctx context.Context, uid string) (*User, error)
	UpdateUser(ctx context.Context, uid, handle string) (*User, error)
	DeleteUser(ctx context.Context, uid string) error
}

// HashStore handles state-sync hash persistence.
type HashStore interface {
	SaveHash(ctx context.Context, h *Hash) error
	ListHashesByRoom(ctx context.Context, roomID string) ([]*Hash, error)
	GetHashByRoomAndTick(ctx context.Context, roomID string, tick int64) (*Hash, error)
	DeleteHashesByRoom(ctx context.Context, roomID string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	RoomStore
	UserStore
	HashStore

	// Close closes the underlying database connection.
	Close() error
}
