// Manual smoke client for the signaling endpoint. Connects to a room,
// waits for the connected ack, sends an SDP offer, and prints every
// frame received until the timeout expires.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/peerwave/signalrelay/internal/signal"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/signal", "signaling endpoint base")
	room := flag.String("room", "smoke", "room id")
	client := flag.String("client", "smoke-client", "client id to announce")
	target := flag.String("target", "peer", "client id to address the offer to")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s?clientId=%s", *addr, *room, *client)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	offer := signal.Message{
		Type:      signal.TypeSDP,
		SenderID:  *client,
		TargetID:  *target,
		Timestamp: time.Now().UnixMilli(),
		SDP:       &signal.SDP{Type: "offer", SDP: "v=0"},
	}
	if err := wsjson.Write(ctx, conn, offer); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	for {
		var frame map[string]json.RawMessage
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		pretty, _ := json.Marshal(frame)
		fmt.Printf("received: %s\n", pretty)
	}
}
