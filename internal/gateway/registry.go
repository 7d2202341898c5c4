package gateway

import "sync"

// Registry tracks live connections per room and the room of each
// connection. It is pure bookkeeping with no broker knowledge; the
// emptiness transitions reported by Add and Remove are the single
// authoritative signal the gateway uses to drive channel subscription
// lifecycle.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]map[*Conn]struct{}
	roomOf map[*Conn]string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[*Conn]struct{}),
		roomOf: make(map[*Conn]string),
	}
}

// Add registers a connection under a room and reports whether it is
// the room's first member.
func (r *Registry) Add(roomID string, c *Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Conn]struct{})
		r.rooms[roomID] = members
	}
	members[c] = struct{}{}
	r.roomOf[c] = roomID
	return !ok
}

// Remove deregisters a connection. It reports the room it belonged
// to and whether it was the room's last member. ok is false for a
// connection that was never registered.
func (r *Registry) Remove(c *Conn) (roomID string, last, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok = r.roomOf[c]
	if !ok {
		return "", false, false
	}
	delete(r.roomOf, c)

	members := r.rooms[roomID]
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return roomID, true, true
	}
	return roomID, false, true
}

// MembersOf snapshots the room's current connections.
func (r *Registry) MembersOf(roomID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	out := make([]*Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// RoomOf reports the room a connection is registered under.
func (r *Registry) RoomOf(c *Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.roomOf[c]
	return roomID, ok
}

// Rooms lists every room with at least one member.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rooms))
	for roomID := range r.rooms {
		out = append(out, roomID)
	}
	return out
}
