package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event types pushed to clients.
const (
	EventNotification = "notification"
	EventTyping       = "typing"
	EventUpdate       = "update"
	EventError        = "error"
	EventJoined       = "joined"
)

// Event is the envelope written to every socket.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType string, data interface{}) Event {
	return Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
}

// MembershipChecker decides whether a user may join a course room.
type MembershipChecker func(ctx context.Context, userID, courseID string) (bool, error)

// Config tunes the hub.
type Config struct {
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	SendBuffer    int
	MaxMessage    int64
	CanJoinCourse MembershipChecker
	// OnConnectionChange receives +1/-1 as sockets register and leave.
	OnConnectionChange func(delta int)
	Logger             *zap.Logger
}

// Hub tracks live sockets grouped into rooms ("user:<id>", "course:<id>").
type Hub struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
}

// UserRoom names the private room of a user.
func UserRoom(userID string) string { return "user:" + userID }

// CourseRoom names the room shared by members of a course.
func CourseRoom(courseID string) string { return "course:" + courseID }

// NewHub constructs a hub with defaults applied.
func NewHub(cfg Config) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxMessage <= 0 {
		cfg.MaxMessage = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Hub{
		cfg:     cfg,
		logger:  cfg.Logger,
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

// Serve registers conn for userID and blocks until the connection closes.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, userID string) {
	client := newClient(h, conn, userID)
	h.register(client)
	defer h.unregister(client)

	go client.writePump()
	client.readPump(ctx)
}

// SendToUser pushes evt to every socket of userID and returns how many received it.
func (h *Hub) SendToUser(userID string, evt Event) int {
	return h.Broadcast(UserRoom(userID), evt, nil)
}

// Broadcast pushes evt to all members of room except the given client.
func (h *Hub) Broadcast(room string, evt Event, except *Client) int {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("failed to encode realtime event", zap.String("type", evt.Type), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for client := range h.rooms[room] {
		if client == except {
			continue
		}
		if client.enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

// Online reports whether userID has at least one live socket.
func (h *Hub) Online(userID string) bool {
	return h.RoomSize(UserRoom(userID)) > 0
}

// RoomSize returns the number of sockets in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Connections returns the number of live sockets.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.joinLocked(c, UserRoom(c.userID))
	h.mu.Unlock()
	if h.cfg.OnConnectionChange != nil {
		h.cfg.OnConnectionChange(1)
	}
	h.logger.Debug("realtime client connected", zap.String("user_id", c.userID))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()
	c.close()
	if h.cfg.OnConnectionChange != nil {
		h.cfg.OnConnectionChange(-1)
	}
	h.logger.Debug("realtime client disconnected", zap.String("user_id", c.userID))
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.joinLocked(c, room)
	}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) inRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *Client, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendEvent(NewEvent(EventError, map[string]string{"message": "malformed message"}))
		return
	}
	courseID := strings.TrimSpace(msg.CourseID)

	switch msg.Type {
	case "join_course":
		if courseID == "" {
			c.sendEvent(NewEvent(EventError, map[string]string{"message": "courseId required"}))
			return
		}
		if h.cfg.CanJoinCourse != nil {
			allowed, err := h.cfg.CanJoinCourse(ctx, c.userID, courseID)
			if err != nil {
				h.logger.Warn("course membership check failed", zap.String("user_id", c.userID), zap.String("course_id", courseID), zap.Error(err))
			}
			if err != nil || !allowed {
				c.sendEvent(NewEvent(EventError, map[string]string{"message": "not a member of this course", "courseId": courseID}))
				return
			}
		}
		h.join(c, CourseRoom(courseID))
		c.sendEvent(NewEvent(EventJoined, map[string]string{"courseId": courseID}))
	case "leave_course":
		h.leave(c, CourseRoom(courseID))
	case "typing":
		room := CourseRoom(courseID)
		if !h.inRoom(c, room) {
			return
		}
		h.Broadcast(room, NewEvent(EventTyping, map[string]interface{}{
			"userId":   c.userID,
			"courseId": courseID,
			"isTyping": msg.IsTyping,
		}), c)
	default:
		c.sendEvent(NewEvent(EventError, map[string]string{"message": "unknown message type"}))
	}
}

type inboundMessage struct {
	Type     string `json:"type"`
	CourseID string `json:"courseId"`
	IsTyping bool   `json:"isTyping"`
}
