package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubBroadcastsToConnectedClient(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the hub a moment to register the client before publishing.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && hub.clientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.clientCount() != 1 {
		t.Fatalf("clientCount = %d, want 1", hub.clientCount())
	}

	hub.Publish("upload", "deadbeef", 3, 10)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got.Op != "upload" || got.FileHandle != "deadbeef" || got.PartIndex != 3 || got.TotalParts != 10 {
		t.Errorf("got %+v, want Op=upload FileHandle=deadbeef PartIndex=3 TotalParts=10", got)
	}
}
