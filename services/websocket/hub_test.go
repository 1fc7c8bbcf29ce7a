package websocket

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBroadcastReachesRegisteredClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := &Client{hub: hub, send: make(chan []byte, 1), userID: 1}
	b := &Client{hub: hub, send: make(chan []byte, 1), userID: 2}
	hub.register <- a
	hub.register <- b

	hub.Broadcast(Message{Type: "payment.reconciled", Data: map[string]int{"studentId": 7}})

	for _, c := range []*Client{a, b} {
		select {
		case raw := <-c.send:
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("invalid message: %v", err)
			}
			if msg.Type != "payment.reconciled" {
				t.Fatalf("unexpected type %q", msg.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d received nothing", c.userID)
		}
	}
	if got := hub.GetClientCount(); got != 2 {
		t.Fatalf("GetClientCount() = %d, want 2", got)
	}
}

func TestBroadcastToUser(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := &Client{hub: hub, send: make(chan []byte, 1), userID: 1}
	b := &Client{hub: hub, send: make(chan []byte, 1), userID: 2}
	hub.register <- a
	hub.register <- b

	hub.BroadcastToUser(2, Message{Type: "ping"})

	select {
	case <-b.send:
	case <-time.After(time.Second):
		t.Fatal("target user received nothing")
	}
	select {
	case <-a.send:
		t.Fatal("other user must not receive the message")
	default:
	}

	hub.unregister <- a
	deadline := time.Now().Add(time.Second)
	for hub.GetClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.GetClientCount(); got != 1 {
		t.Fatalf("GetClientCount() = %d, want 1", got)
	}
}
