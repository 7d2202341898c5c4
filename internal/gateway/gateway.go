package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/peerwave/signalrelay/internal/pubsub"
	"github.com/peerwave/signalrelay/internal/signal"
)

var roomIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidRoomID reports whether a room identifier is acceptable on the
// /signal/{roomId} path.
func ValidRoomID(roomID string) bool {
	return roomIDPattern.MatchString(roomID)
}

// ChannelFor maps a room to its broker channel.
func ChannelFor(roomID string) string {
	return "room:" + roomID
}

// systemMessage is the server-originated envelope for lifecycle events.
type systemMessage struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	RoomID    string `json:"roomId"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

// errorMessage is the structured error reply for a single connection.
type errorMessage struct {
	Type    string            `json:"type"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// Gateway accepts signaling connections, binds them to rooms via the
// registry, validates inbound traffic, and bridges it to the pub/sub
// adapter for cross-instance distribution.
type Gateway struct {
	adapter  pubsub.Adapter
	registry *Registry
	log      *zerolog.Logger

	// mu serializes room membership transitions against channel
	// subscription lifecycle so first-join and last-leave cannot race.
	mu   sync.Mutex
	subs map[string]*pubsub.Subscription
}

// New builds a gateway on top of an adapter. Each gateway owns its own
// registry; independent gateways never interfere.
func New(adapter pubsub.Adapter, logger *zerolog.Logger) *Gateway {
	return &Gateway{
		adapter:  adapter,
		registry: NewRegistry(),
		log:      logger,
		subs:     make(map[string]*pubsub.Subscription),
	}
}

// ActiveRooms lists rooms with at least one local connection.
func (g *Gateway) ActiveRooms() []string {
	return g.registry.Rooms()
}

// ClientsInRoom lists the client identities currently connected to a
// room on this instance.
func (g *Gateway) ClientsInRoom(roomID string) []string {
	members := g.registry.MembersOf(roomID)
	out := make([]string, 0, len(members))
	for _, c := range members {
		out = append(out, c.ClientID)
	}
	return out
}

// HandleUpgrade upgrades an HTTP request into a signaling session.
// Both a valid room id and a non-empty client id are required before
// the upgrade; failing either destroys the attempt without any
// partial registration.
func (g *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request, roomID, clientID string) {
	if !ValidRoomID(roomID) {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	if clientID == "" {
		g.log.Warn().Str("room_id", roomID).Msg("rejecting connect without clientId")
		http.Error(w, "clientId is required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error().Err(err).Str("room_id", roomID).Msg("ws accept error")
		return
	}

	g.serve(r.Context(), ws, roomID, clientID)
}

func (g *Gateway) serve(ctx context.Context, ws *websocket.Conn, roomID, clientID string) {
	defer ws.Close(websocket.StatusInternalError, "internal error")

	conn := newConn(roomID, clientID)
	g.join(ctx, conn)
	defer g.leave(conn)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- g.readLoop(ctx, ws, conn)
	}()
	go func() {
		errCh <- g.writeLoop(ctx, ws, conn)
	}()

	err := <-errCh
	close(conn.done)
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "error"
			g.log.Warn().Err(err).Str("room_id", roomID).Str("client_id", clientID).Msg("signaling connection closed with error")
		}
	}

	ws.Close(status, reason)
}

// join registers the connection, subscribes the room channel on first
// membership, acknowledges the client, and notifies local peers.
func (g *Gateway) join(ctx context.Context, conn *Conn) {
	g.mu.Lock()
	if g.registry.Add(conn.RoomID, conn) {
		channel := ChannelFor(conn.RoomID)
		roomID := conn.RoomID
		sub, err := g.adapter.Subscribe(ctx, channel, func(payload []byte) {
			g.dispatch(roomID, payload)
		})
		if err != nil {
			// Local-only delivery for this room until the next
			// first-join retriggers a subscribe.
			g.log.Warn().Err(err).Str("channel", channel).Msg("broker subscribe failed, room degraded to local delivery")
		} else {
			g.subs[conn.RoomID] = sub
		}
	}
	g.mu.Unlock()

	g.log.Info().Str("room_id", conn.RoomID).Str("client_id", conn.ClientID).Msg("client connected")

	now := time.Now().UnixMilli()
	conn.enqueue(mustMarshal(systemMessage{
		Type:      "system",
		Event:     "connected",
		RoomID:    conn.RoomID,
		ClientID:  conn.ClientID,
		Timestamp: now,
	}))
	g.broadcastLocal(conn.RoomID, conn, mustMarshal(systemMessage{
		Type:      "system",
		Event:     "user-joined",
		RoomID:    conn.RoomID,
		ClientID:  conn.ClientID,
		Timestamp: now,
	}))
}

// leave removes the connection, notifies remaining local peers, and
// tears the channel down when the room empties. Runs synchronously on
// the close path; cleanup is never deferred past the closing turn.
func (g *Gateway) leave(conn *Conn) {
	g.mu.Lock()
	roomID, last, ok := g.registry.Remove(conn)
	if ok && last {
		// Tear down this gateway's own handler; the adapter issues the
		// broker-level unsubscribe once the channel has no handlers
		// left. Other gateways on the same adapter are untouched.
		if sub := g.subs[roomID]; sub != nil {
			delete(g.subs, roomID)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sub.Unsubscribe(ctx); err != nil {
				g.log.Warn().Err(err).Str("channel", ChannelFor(roomID)).Msg("broker unsubscribe failed")
			}
			cancel()
		}
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	g.log.Info().Str("room_id", roomID).Str("client_id", conn.ClientID).Msg("client disconnected")

	g.broadcastLocal(roomID, conn, mustMarshal(systemMessage{
		Type:      "system",
		Event:     "user-left",
		RoomID:    roomID,
		ClientID:  conn.ClientID,
		Timestamp: time.Now().UnixMilli(),
	}))
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn) error {
	for {
		kind, raw, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		if kind != websocket.MessageText {
			conn.enqueue(mustMarshal(errorMessage{Type: "error", Error: "Invalid message format"}))
			continue
		}
		g.handleInbound(ctx, conn, raw)
	}
}

func (g *Gateway) writeLoop(ctx context.Context, ws *websocket.Conn, conn *Conn) error {
	for {
		select {
		case payload := <-conn.send:
			if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleInbound validates one frame and routes it. Validation and
// identity failures answer the sender only; the connection stays open.
func (g *Gateway) handleInbound(ctx context.Context, conn *Conn, raw []byte) {
	msg, err := signal.Validate(raw)
	if err != nil {
		var vErr *signal.ValidationError
		if errors.As(err, &vErr) {
			conn.enqueue(mustMarshal(errorMessage{Type: "error", Error: "Invalid message format", Details: vErr.Details}))
		} else {
			conn.enqueue(mustMarshal(errorMessage{Type: "error", Error: "Failed to process message"}))
		}
		return
	}

	// A sender may only speak as the identity bound at connect time.
	if msg.SenderID != conn.ClientID {
		g.log.Warn().Str("claimed", msg.SenderID).Str("client_id", conn.ClientID).Msg("sender id mismatch")
		conn.enqueue(mustMarshal(errorMessage{Type: "error", Error: "Sender ID mismatch"}))
		return
	}

	// Local peers first: same-instance delivery must not wait for the
	// broker round trip.
	data, err := json.Marshal(msg)
	if err != nil {
		conn.enqueue(mustMarshal(errorMessage{Type: "error", Error: "Failed to process message"}))
		return
	}
	g.broadcastLocal(conn.RoomID, conn, data)

	payload, err := json.Marshal(signal.Envelope{Message: *msg, OriginClientID: conn.ClientID})
	if err != nil {
		return
	}
	if err := g.adapter.Publish(ctx, ChannelFor(conn.RoomID), payload); err != nil {
		// Same-instance peers already have the message; only
		// cross-instance delivery is lost.
		g.log.Warn().Err(err).Str("room_id", conn.RoomID).Msg("broker publish failed, local-only delivery")
	}
}

// dispatch handles a frame arriving from the broker for a subscribed
// room. The origin tag is stripped before delivery. When the origin
// client is connected to this instance the whole local fan-out is
// skipped: those peers already received the message synchronously at
// publish time, and forwarding the echo would deliver it twice.
func (g *Gateway) dispatch(roomID string, payload []byte) {
	var env signal.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		g.log.Error().Err(err).Str("room_id", roomID).Msg("malformed broker payload")
		return
	}

	members := g.registry.MembersOf(roomID)
	for _, member := range members {
		if member.ClientID == env.OriginClientID {
			return
		}
	}

	data, err := json.Marshal(env.Message)
	if err != nil {
		return
	}
	for _, member := range members {
		member.enqueue(data)
	}
}

// broadcastLocal sends a frame to every room member on this instance
// except the originating connection. Best-effort, no confirmation.
func (g *Gateway) broadcastLocal(roomID string, from *Conn, payload []byte) {
	for _, member := range g.registry.MembersOf(roomID) {
		if member == from {
			continue
		}
		member.enqueue(payload)
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
