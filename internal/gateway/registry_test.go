package gateway

import "testing"

func TestRegistryFirstAndLastTransitions(t *testing.T) {
	r := NewRegistry()

	c1 := newConn("r", "u1")
	c2 := newConn("r", "u2")

	if !r.Add("r", c1) {
		t.Fatal("first member must report first")
	}
	if r.Add("r", c2) {
		t.Fatal("second member must not report first")
	}

	if got := len(r.MembersOf("r")); got != 2 {
		t.Fatalf("expected 2 members, got %d", got)
	}

	roomID, last, ok := r.Remove(c1)
	if !ok || roomID != "r" || last {
		t.Fatalf("unexpected remove result: %q %v %v", roomID, last, ok)
	}
	roomID, last, ok = r.Remove(c2)
	if !ok || roomID != "r" || !last {
		t.Fatalf("last removal not reported: %q %v %v", roomID, last, ok)
	}

	if got := len(r.MembersOf("r")); got != 0 {
		t.Fatalf("expected empty room, got %d members", got)
	}
	if rooms := r.Rooms(); len(rooms) != 0 {
		t.Fatalf("empty rooms still listed: %v", rooms)
	}
}

func TestRegistryRemoveUnknownConn(t *testing.T) {
	r := NewRegistry()
	if _, _, ok := r.Remove(newConn("r", "ghost")); ok {
		t.Fatal("removing an unregistered connection must report ok=false")
	}
}

func TestRegistryRoomOf(t *testing.T) {
	r := NewRegistry()
	c := newConn("abc", "u1")
	r.Add("abc", c)

	roomID, ok := r.RoomOf(c)
	if !ok || roomID != "abc" {
		t.Fatalf("unexpected RoomOf: %q %v", roomID, ok)
	}

	r.Remove(c)
	if _, ok := r.RoomOf(c); ok {
		t.Fatal("RoomOf must miss after removal")
	}
}

func TestRegistryIsolatesRooms(t *testing.T) {
	r := NewRegistry()
	c1 := newConn("a", "u1")
	c2 := newConn("b", "u1") // same client id, different room

	r.Add("a", c1)
	r.Add("b", c2)

	if got := len(r.MembersOf("a")); got != 1 {
		t.Fatalf("room a: expected 1 member, got %d", got)
	}
	if _, last, _ := r.Remove(c1); !last {
		t.Fatal("room a should empty independently of room b")
	}
	if got := len(r.MembersOf("b")); got != 1 {
		t.Fatalf("room b lost a member: %d", got)
	}
}
