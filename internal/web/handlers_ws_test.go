package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"zigstack/internal/events"
	"zigstack/internal/logging"
)

func newTestHub() *WSHub {
	return NewWSHub(logging.Quiet())
}

func rxEvent(cmd1 uint8) events.Event {
	return events.Event{Type: events.FrameRX, Data: events.FrameEvent{Direction: "rx", Cmd0: 0x61, Cmd1: cmd1}}
}

func clientCount(h *WSHub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	if got := clientCount(hub); got != 1 {
		t.Errorf("after register: count = %d, want 1", got)
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	if got := clientCount(hub); got != 0 {
		t.Errorf("after unregister: count = %d, want 0", got)
	}
}

func TestWSHubBroadcastFiltersTypes(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	all := &wsClient{send: make(chan []byte, 16)}
	errsOnly := &wsClient{send: make(chan []byte, 16), types: parseTypes("decode_error")}
	hub.register <- all
	hub.register <- errsOnly
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(rxEvent(0x01))
	hub.Broadcast(events.Event{Type: events.DecodeError, Data: events.FrameEvent{ErrorKind: "checksum"}})
	time.Sleep(20 * time.Millisecond)

	if got := len(all.send); got != 2 {
		t.Errorf("unfiltered client got %d messages, want 2", got)
	}
	if got := len(errsOnly.send); got != 1 {
		t.Fatalf("filtered client got %d messages, want 1", got)
	}
	var ev events.Event
	if err := json.Unmarshal(<-errsOnly.send, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != events.DecodeError || ev.Data.ErrorKind != "checksum" {
		t.Errorf("got %+v", ev)
	}
}

func TestParseTypes(t *testing.T) {
	if parseTypes("") != nil {
		t.Error("empty filter should be nil")
	}
	got := parseTypes("frame_rx, link_control,")
	if len(got) != 2 || !got[events.FrameRX] || !got[events.LinkControl] {
		t.Errorf("got %v", got)
	}
}

func TestWSHubSlowClientEviction(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 64)}
	hub.register <- slow
	hub.register <- fast
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(rxEvent(1))
	time.Sleep(10 * time.Millisecond)
	hub.Broadcast(rxEvent(2))
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, slowPresent := hub.clients[slow]
	_, fastPresent := hub.clients[fast]
	hub.mu.RUnlock()

	if slowPresent {
		t.Error("slow client should have been evicted")
	}
	if !fastPresent {
		t.Error("fast client should still be present")
	}
}

func TestWSHubBroadcastDropsWhenFull(t *testing.T) {
	hub := newTestHub()
	// Run is not started, so the queue fills.
	for i := 0; i < 256; i++ {
		hub.Broadcast(rxEvent(uint8(i)))
	}

	done := make(chan struct{})
	go func() {
		hub.Broadcast(rxEvent(0xFF))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Broadcast blocked when channel is full")
	}
}

func TestWSHubStopClosesClients(t *testing.T) {
	hub := newTestHub()
	go hub.Run()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Stop()
	hub.Stop()
	time.Sleep(10 * time.Millisecond)

	if _, ok := <-client.send; ok {
		t.Error("client.send should be closed after hub stop")
	}
}

func TestWSStreamsBusEvents(t *testing.T) {
	bus := events.NewBus(logging.Quiet())
	srv := NewServer(&fakeLine{}, newTestStore(t), bus, logging.Quiet())
	defer srv.Stop()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?types=frame_rx", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for registration before emitting.
	deadline := time.Now().Add(time.Second)
	for clientCount(srv.wsHub) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(events.Event{Type: events.FrameTX, Data: events.FrameEvent{Cmd0: 0x21}})
	bus.Emit(rxEvent(0x80))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != events.FrameRX || ev.Data.Cmd1 != 0x80 {
		t.Errorf("got %+v, want frame_rx cmd1=0x80", ev)
	}
}
