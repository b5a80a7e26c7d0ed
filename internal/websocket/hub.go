package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/roster/internal/metrics"
)

const (
	EntityMember     = "member"
	EntityMeeting    = "meeting"
	EntityAttendance = "attendance"
)

// Message is a live-update notification. MeetingID scopes attendance and
// meeting messages so a check-in screen can follow a single meeting.
type Message struct {
	Type      string `json:"type"`
	Entity    string `json:"entity"`
	Action    string `json:"action"`
	ID        int64  `json:"id,omitempty"`
	MeetingID int64  `json:"meeting_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, data any) Message {
	return Message{
		Type:   entity + "_" + action,
		Entity: entity,
		Action: action,
		ID:     id,
		Data:   data,
	}
}

// ForMeeting returns a copy of m scoped to meetingID.
func (m Message) ForMeeting(meetingID int64) Message {
	m.MeetingID = meetingID
	return m
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	metrics.WebsocketClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	metrics.WebsocketClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
}

// Broadcast sends a message to every client following it. Clients that
// follow one meeting only receive unscoped messages and that meeting's.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.follows(msg) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop message to avoid blocking
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
