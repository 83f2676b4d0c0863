// Package notify routes real-time video events to every live connection of a
// user. A user id is the address; connections join it explicitly.
package notify

import (
	"alcyxob/video-app/internal/logging"
	"alcyxob/video-app/internal/metrics"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

// Event names of the real-time contract.
const (
	EventProcessing = "video:processing"
	EventProgress   = "video:progress"
	EventCompleted  = "video:completed"
	EventFailed     = "video:failed"
)

var ErrUnknownConnection = errors.New("connection is not attached")

// Notifier delivers an event to every connection joined to userID.
// Delivery is best-effort; implementations never block on slow receivers.
type Notifier interface {
	Emit(userID, event string, payload any)
}

// Subscriber is the sending half of one live connection. Send must not block
// and reports whether the payload was queued.
type Subscriber interface {
	Send(payload []byte) bool
}

// Envelope is the frame written to clients.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type membership struct {
	sub    Subscriber
	userID string // empty until joined
}

// Hub holds the in-memory routing state connection -> address. It is rebuilt
// from scratch on restart.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*membership
	rooms map[string]map[string]Subscriber
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logging.WithComponent(logger, "notify"),
		conns:  make(map[string]*membership),
		rooms:  make(map[string]map[string]Subscriber),
	}
}

// Attach registers a live connection that has not joined any address yet.
func (h *Hub) Attach(connID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.conns[connID]; exists {
		return
	}
	h.conns[connID] = &membership{sub: sub}
}

// Join associates connID with userID. Joining the same address again is a
// no-op; joining a different one moves the connection.
func (h *Hub) Join(connID, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if m.userID == userID {
		return nil
	}
	if m.userID != "" {
		h.removeFromRoomLocked(m.userID, connID)
	}
	room := h.rooms[userID]
	if room == nil {
		room = make(map[string]Subscriber)
		h.rooms[userID] = room
	}
	room[connID] = m.sub
	m.userID = userID
	return nil
}

// Leave drops connID and its membership. Unknown ids are ignored.
// Once Leave returns no further Emit reaches the connection.
func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.conns[connID]
	if !ok {
		return
	}
	if m.userID != "" {
		h.removeFromRoomLocked(m.userID, connID)
	}
	delete(h.conns, connID)
}

func (h *Hub) removeFromRoomLocked(userID, connID string) {
	room := h.rooms[userID]
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, userID)
	}
}

// Emit sends the event to every connection joined to userID. With nobody
// joined the event is dropped.
func (h *Hub) Emit(userID, event string, payload any) {
	metrics.RealtimeEvents.WithLabelValues(event).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[userID]
	if len(room) == 0 {
		return
	}
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("failed to marshal event", "event", event, "error", err)
		return
	}
	for connID, sub := range room {
		if !sub.Send(data) {
			h.logger.Warn("dropped event for slow connection", "event", event, "connId", connID)
		}
	}
}

// Connections returns the number of connections joined to userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// Fanout emits every event to each notifier in order.
type Fanout []Notifier

// Emit skips nil notifiers.
func (f Fanout) Emit(userID, event string, payload any) {
	for _, n := range f {
		if n != nil {
			n.Emit(userID, event, payload)
		}
	}
}
