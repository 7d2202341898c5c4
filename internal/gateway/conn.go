package gateway

// Conn is one client's live signaling session, bound to exactly one
// room for its whole life. Outbound frames go through a buffered send
// queue drained by the connection's write loop, which preserves
// per-connection ordering.
type Conn struct {
	RoomID   string
	ClientID string

	send chan []byte
	done chan struct{}
}

const sendQueueSize = 32

func newConn(roomID, clientID string) *Conn {
	return &Conn{
		RoomID:   roomID,
		ClientID: clientID,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// enqueue hands a frame to the write loop. Delivery is best-effort:
// a full queue or a closed connection drops the frame.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}
