package websocket

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, meetingID int64) *Client {
	return &Client{
		hub:       hub,
		send:      make(chan []byte, sendBufferSize),
		meetingID: meetingID,
	}
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got, true
	case <-time.After(50 * time.Millisecond):
		return Message{}, false
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, 0)
	c2 := mockClient(hub, 0)
	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)
	// Should not panic
	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcast(t *testing.T) {
	hub := NewHub(slog.Default())
	c1 := mockClient(hub, 0)
	c2 := mockClient(hub, 0)
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.Broadcast(NewMessage(EntityMember, "transitioned", 42, map[string]any{"status": "active"}))

	for _, c := range []*Client{c1, c2} {
		got, ok := receive(t, c)
		if !ok {
			t.Fatal("timeout waiting for message")
		}
		if got.Type != "member_transitioned" {
			t.Errorf("type = %q, want %q", got.Type, "member_transitioned")
		}
		if got.ID != 42 {
			t.Errorf("id = %d, want 42", got.ID)
		}
	}
}

func TestBroadcastMeetingScope(t *testing.T) {
	hub := NewHub(slog.Default())
	all := mockClient(hub, 0)
	m1 := mockClient(hub, 1)
	m2 := mockClient(hub, 2)
	for _, c := range []*Client{all, m1, m2} {
		hub.Register(c)
		defer hub.Unregister(c)
	}

	hub.Broadcast(NewMessage(EntityAttendance, "check_in", 7, nil).ForMeeting(1))

	if _, ok := receive(t, all); !ok {
		t.Error("unscoped client should receive every meeting")
	}
	if got, ok := receive(t, m1); !ok || got.MeetingID != 1 {
		t.Errorf("meeting 1 client: got %+v, ok %v", got, ok)
	}
	if _, ok := receive(t, m2); ok {
		t.Error("meeting 2 client should not receive meeting 1 events")
	}

	hub.Broadcast(NewMessage(EntityMember, "deleted", 3, nil))
	if _, ok := receive(t, m2); !ok {
		t.Error("unscoped messages reach scoped clients")
	}
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, 0)
	hub.Register(c)
	defer hub.Unregister(c)

	for i := 0; i < sendBufferSize; i++ {
		hub.Broadcast(NewMessage("test", "fill", int64(i), nil))
	}
	// This should drop the message, not panic or block
	hub.Broadcast(NewMessage("test", "dropped", 999, nil))

	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered = %d, want %d", got, sendBufferSize)
	}
}

func TestBroadcastEmptyHub(t *testing.T) {
	NewHub(slog.Default()).Broadcast(NewMessage(EntityMeeting, "started", 1, nil))
}
