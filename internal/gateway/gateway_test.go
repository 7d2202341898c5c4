package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/peerwave/signalrelay/internal/pubsub"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func startGatewayServer(t *testing.T, g *Gateway) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/signal/", func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimPrefix(r.URL.Path, "/signal/")
		g.HandleUpgrade(w, r, roomID, r.URL.Query().Get("clientId"))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// testConn pumps frames through a single background reader so that a
// timed-out wait for a frame does not close the connection: a
// coder/websocket Read whose context expires tears down the whole
// connection as a side effect, which would corrupt later assertions.
type testConn struct {
	conn   *websocket.Conn
	frames chan []byte
	errs   chan error
}

func (tc *testConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	return tc.conn.Write(ctx, typ, p)
}

func (tc *testConn) Close(code websocket.StatusCode, reason string) error {
	return tc.conn.Close(code, reason)
}

func dial(t *testing.T, ctx context.Context, ts *httptest.Server, roomID, clientID string) *testConn {
	t.Helper()

	url := strings.Replace(ts.URL, "http", "ws", 1) + "/signal/" + roomID
	if clientID != "" {
		url += "?clientId=" + clientID
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s as %q: %v", roomID, clientID, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	tc := &testConn{
		conn:   conn,
		frames: make(chan []byte),
		errs:   make(chan error, 1),
	}
	go func() {
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				tc.errs <- err
				return
			}
			tc.frames <- data
		}
	}()
	return tc
}

func readFrame(t *testing.T, ctx context.Context, conn *testConn) map[string]any {
	t.Helper()

	readCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	select {
	case data := <-conn.frames:
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal frame %s: %v", data, err)
		}
		return frame
	case err := <-conn.errs:
		t.Fatalf("read frame: %v", err)
	case <-readCtx.Done():
		t.Fatalf("read frame: %v", readCtx.Err())
	}
	return nil
}

func expectNoFrame(t *testing.T, conn *testConn) {
	t.Helper()

	select {
	case data := <-conn.frames:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(200 * time.Millisecond):
	}
}

func expectSystemEvent(t *testing.T, frame map[string]any, event string) {
	t.Helper()
	if frame["type"] != "system" || frame["event"] != event {
		t.Fatalf("expected system/%s, got %v", event, frame)
	}
}

func TestSDPOfferReachesOtherLocalPeerOnly(t *testing.T) {
	adapter := pubsub.NewMemoryAdapter(testLogger())
	g := New(adapter, testLogger())
	ts := startGatewayServer(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u1 := dial(t, ctx, ts, "abc", "u1")
	expectSystemEvent(t, readFrame(t, ctx, u1), "connected")

	u2 := dial(t, ctx, ts, "abc", "u2")
	expectSystemEvent(t, readFrame(t, ctx, u2), "connected")
	expectSystemEvent(t, readFrame(t, ctx, u1), "user-joined")

	offer := `{"type":"sdp","senderId":"u1","targetId":"u2","timestamp":1700000000000,"sdp":{"type":"offer","sdp":"v=0"}}`
	if err := u1.Write(ctx, websocket.MessageText, []byte(offer)); err != nil {
		t.Fatalf("send offer: %v", err)
	}

	frame := readFrame(t, ctx, u2)
	if frame["type"] != "sdp" || frame["senderId"] != "u1" || frame["targetId"] != "u2" {
		t.Fatalf("unexpected payload: %v", frame)
	}
	if _, tagged := frame["_originClientId"]; tagged {
		t.Fatalf("origin tag leaked to client: %v", frame)
	}
	sdp, _ := frame["sdp"].(map[string]any)
	if sdp == nil || sdp["type"] != "offer" || sdp["sdp"] != "v=0" {
		t.Fatalf("sdp payload mangled: %v", frame)
	}

	// No echo back to the sender, and no double delivery to u2 from
	// the broker round trip.
	expectNoFrame(t, u1)
	expectNoFrame(t, u2)
}

func TestSenderIdentityMismatchRejected(t *testing.T) {
	adapter := pubsub.NewMemoryAdapter(testLogger())
	g := New(adapter, testLogger())
	ts := startGatewayServer(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u1 := dial(t, ctx, ts, "r", "u1")
	expectSystemEvent(t, readFrame(t, ctx, u1), "connected")
	u2 := dial(t, ctx, ts, "r", "u2")
	expectSystemEvent(t, readFrame(t, ctx, u2), "connected")
	expectSystemEvent(t, readFrame(t, ctx, u1), "user-joined")

	spoofed := `{"type":"host-change","senderId":"u2","newHostId":"u1"}`
	if err := u1.Write(ctx, websocket.MessageText, []byte(spoofed)); err != nil {
		t.Fatalf("send spoofed: %v", err)
	}

	frame := readFrame(t, ctx, u1)
	if frame["type"] != "error" || frame["error"] != "Sender ID mismatch" {
		t.Fatalf("expected mismatch error, got %v", frame)
	}
	expectNoFrame(t, u2)

	// Connection stays usable after the error.
	valid := `{"type":"host-change","senderId":"u1","newHostId":"u1"}`
	if err := u1.Write(ctx, websocket.MessageText, []byte(valid)); err != nil {
		t.Fatalf("send valid: %v", err)
	}
	frame = readFrame(t, ctx, u2)
	if frame["type"] != "host-change" {
		t.Fatalf("expected host-change after recovery, got %v", frame)
	}
}

func TestInvalidMessageGetsErrorReplyAndStaysOpen(t *testing.T) {
	adapter := pubsub.NewMemoryAdapter(testLogger())
	g := New(adapter, testLogger())
	ts := startGatewayServer(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u1 := dial(t, ctx, ts, "r", "u1")
	expectSystemEvent(t, readFrame(t, ctx, u1), "connected")

	if err := u1.Write(ctx, websocket.MessageText, []byte(`{"type":"sdp","senderId":"u1"}`)); err != nil {
		t.Fatalf("send invalid: %v", err)
	}
	frame := readFrame(t, ctx, u1)
	if frame["type"] != "error" || frame["error"] != "Invalid message format" {
		t.Fatalf("expected validation error, got %v", frame)
	}
	details, _ := frame["details"].(map[string]any)
	if details == nil {
		t.Fatalf("expected field details, got %v", frame)
	}
	if _, ok := details["targetId"]; !ok {
		t.Fatalf("expected targetId detail, got %v", details)
	}
}

func TestConnectWithoutClientIDRejected(t *testing.T) {
	adapter := pubsub.NewMemoryAdapter(testLogger())
	g := New(adapter, testLogger())
	ts := startGatewayServer(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(ts.URL, "http", "ws", 1) + "/signal/r"
	if _, _, err := websocket.Dial(ctx, url, nil); err == nil {
		t.Fatal("upgrade without clientId must be rejected")
	}

	if members := g.ClientsInRoom("r"); len(members) != 0 {
		t.Fatalf("registry must stay empty, got %v", members)
	}
}

func TestInvalidRoomIDRejected(t *testing.T) {
	adapter := pubsub.NewMemoryAdapter(testLogger())
	g := New(adapter, testLogger())
	ts := startGatewayServer(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(ts.URL, "http", "ws", 1) + "/signal/bad%20room?clientId=u1"
	if _, _, err := websocket.Dial(ctx, url, nil); err == nil {
		t.Fatal("upgrade with invalid room id must be rejected")
	}
}

func TestLastLeaveUnsubscribesChannel(t *testing.T) {
	adapter := pubsub.NewMemoryAdapter(testLogger())
	g := New(adapter, testLogger())
	ts := startGatewayServer(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u1 := dial(t, ctx, ts, "r", "u1")
	expectSystemEvent(t, readFrame(t, ctx, u1), "connected")
	u2 := dial(t, ctx, ts, "r", "u2")
	expectSystemEvent(t, readFrame(t, ctx, u2), "connected")
	expectSystemEvent(t, readFrame(t, ctx, u1), "user-joined")

	if n := adapter.SubscribeCount("room:r"); n != 1 {
		t.Fatalf("expected one broker subscription, got %d", n)
	}

	u1.Close(websocket.StatusNormalClosure, "bye")
	expectSystemEvent(t, readFrame(t, ctx, u2), "user-left")

	u2.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(3 * time.Second)
	for {
		if adapter.UnsubscribeCount("room:r") == 1 && len(g.ClientsInRoom("r")) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cleanup incomplete: unsubs=%d members=%v",
				adapter.UnsubscribeCount("room:r"), g.ClientsInRoom("r"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCrossInstanceDeliveryWithOriginSuppression(t *testing.T) {
	// Two gateways sharing one broker model two relay instances.
	broker := pubsub.NewMemoryAdapter(testLogger())
	g1 := New(broker, testLogger())
	g2 := New(broker, testLogger())
	ts1 := startGatewayServer(t, g1)
	ts2 := startGatewayServer(t, g2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u1 := dial(t, ctx, ts1, "x", "u1")
	expectSystemEvent(t, readFrame(t, ctx, u1), "connected")
	local := dial(t, ctx, ts1, "x", "u2")
	expectSystemEvent(t, readFrame(t, ctx, local), "connected")
	expectSystemEvent(t, readFrame(t, ctx, u1), "user-joined")
	remote := dial(t, ctx, ts2, "x", "u3")
	expectSystemEvent(t, readFrame(t, ctx, remote), "connected")

	msg := `{"type":"ice","senderId":"u1","targetId":"u3","ice":{"candidate":"candidate:1","sdpMid":null,"sdpMLineIndex":null}}`
	if err := u1.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Remote instance receives through the broker.
	frame := readFrame(t, ctx, remote)
	if frame["type"] != "ice" || frame["senderId"] != "u1" {
		t.Fatalf("remote peer got wrong frame: %v", frame)
	}
	if _, tagged := frame["_originClientId"]; tagged {
		t.Fatalf("origin tag leaked cross-instance: %v", frame)
	}

	// Same-instance peer receives exactly once, sender not at all.
	frame = readFrame(t, ctx, local)
	if frame["type"] != "ice" {
		t.Fatalf("local peer got wrong frame: %v", frame)
	}
	expectNoFrame(t, local)
	expectNoFrame(t, u1)
}

func TestLastLeaveKeepsOtherInstancesSubscribed(t *testing.T) {
	// Two gateways on one broker. When the room empties on the first
	// instance, only that instance's handler goes away; the second
	// instance keeps receiving broker traffic for the room.
	broker := pubsub.NewMemoryAdapter(testLogger())
	g1 := New(broker, testLogger())
	g2 := New(broker, testLogger())
	ts1 := startGatewayServer(t, g1)
	ts2 := startGatewayServer(t, g2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u1 := dial(t, ctx, ts1, "y", "u1")
	expectSystemEvent(t, readFrame(t, ctx, u1), "connected")
	remote := dial(t, ctx, ts2, "y", "u2")
	expectSystemEvent(t, readFrame(t, ctx, remote), "connected")

	u1.Close(websocket.StatusNormalClosure, "bye")
	deadline := time.Now().Add(3 * time.Second)
	for len(g1.ClientsInRoom("y")) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("first instance did not clean up the room")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A fresh client on the first instance re-subscribes it; its
	// traffic must still reach the second instance through the broker.
	u3 := dial(t, ctx, ts1, "y", "u3")
	expectSystemEvent(t, readFrame(t, ctx, u3), "connected")

	msg := `{"type":"ice","senderId":"u3","targetId":"u2","ice":{"candidate":"candidate:2","sdpMid":null,"sdpMLineIndex":null}}`
	if err := u3.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("send: %v", err)
	}

	frame := readFrame(t, ctx, remote)
	if frame["type"] != "ice" || frame["senderId"] != "u3" {
		t.Fatalf("remote peer lost its subscription: %v", frame)
	}
}

func TestBrokerLossDegradesToLocalDelivery(t *testing.T) {
	adapter := pubsub.NewMemoryAdapter(testLogger())
	g := New(adapter, testLogger())
	ts := startGatewayServer(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u1 := dial(t, ctx, ts, "r", "u1")
	expectSystemEvent(t, readFrame(t, ctx, u1), "connected")
	u2 := dial(t, ctx, ts, "r", "u2")
	expectSystemEvent(t, readFrame(t, ctx, u2), "connected")
	expectSystemEvent(t, readFrame(t, ctx, u1), "user-joined")

	// Broker goes away; same-instance traffic must keep flowing.
	_ = adapter.Disconnect()

	msg := `{"type":"host-change","senderId":"u1","newHostId":"u2"}`
	if err := u1.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("send: %v", err)
	}
	frame := readFrame(t, ctx, u2)
	if frame["type"] != "host-change" {
		t.Fatalf("local delivery lost with broker down: %v", frame)
	}
	expectNoFrame(t, u1)
}

func TestValidRoomID(t *testing.T) {
	valid := []string{"abc", "room-1", "room_2", "A1"}
	invalid := []string{"", "room 1", "room/1", "room!", "a.b"}

	for _, id := range valid {
		if !ValidRoomID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}
	for _, id := range invalid {
		if ValidRoomID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}
