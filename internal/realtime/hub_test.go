package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShouldSend_AllEvents(t *testing.T) {
	h := NewHub(testLogger())
	client := &Client{sub: Subscription{AllEvents: true}}

	if !h.shouldSend(client, &Event{Type: EventEscrowChanged}) {
		t.Error("Expected all-events subscription to match")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := NewHub(testLogger())

	match := &Client{sub: Subscription{EventTypes: []EventType{EventEscrowChanged}}}
	if !h.shouldSend(match, &Event{Type: EventEscrowChanged}) {
		t.Error("Expected matching type to pass")
	}

	miss := &Client{sub: Subscription{EventTypes: []EventType{"other"}}}
	if h.shouldSend(miss, &Event{Type: EventEscrowChanged}) {
		t.Error("Expected non-matching type to be filtered")
	}

	empty := &Client{}
	if h.shouldSend(empty, &Event{Type: EventEscrowChanged}) {
		t.Error("Expected empty subscription to receive nothing")
	}
}

func TestHub_Stats_Initial(t *testing.T) {
	h := NewHub(testLogger())

	stats := h.Stats()
	if stats["connectedClients"] != 0 {
		t.Errorf("Expected 0 clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"] != int64(0) {
		t.Errorf("Expected 0 events, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 8),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	waitFor(t, func() bool { return h.Stats()["connectedClients"] == 1 }, "client registered")

	h.NotifyEscrowChanged()

	select {
	case raw := <-client.send:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("Expected valid JSON event: %v", err)
		}
		if ev.Type != EventEscrowChanged {
			t.Errorf("Expected escrow_changed, got %s", ev.Type)
		}
		if ev.Timestamp.IsZero() {
			t.Error("Expected a timestamp on the event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}

	h.unregister <- client
	waitFor(t, func() bool { return h.Stats()["connectedClients"] == 0 }, "client unregistered")
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// Unbuffered send channel with no reader: first broadcast stalls and the
	// hub evicts the client instead of blocking everyone else.
	slow := &Client{hub: h, send: make(chan []byte), sub: Subscription{AllEvents: true}}
	h.register <- slow
	waitFor(t, func() bool { return h.Stats()["connectedClients"] == 1 }, "client registered")

	h.NotifyEscrowChanged()
	waitFor(t, func() bool { return h.Stats()["connectedClients"] == 0 }, "slow client evicted")
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}
	h.register <- client
	waitFor(t, func() bool { return h.Stats()["connectedClients"] == 1 }, "client registered")

	cancel()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("Expected send channel closed on shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for channel close")
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
