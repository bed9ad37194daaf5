package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type EventKind string

const (
	EventQR      EventKind = "qr"
	EventStatus  EventKind = "status"
	EventMessage EventKind = "message"

	eventJoined EventKind = "joined"
	eventLeft   EventKind = "left"
	eventError  EventKind = "error"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pingInterval = 25 * time.Second
	pingMessage  = 9 // RFC 6455 ping opcode
)

// Event is the envelope pushed to viewers
type Event struct {
	Event EventKind   `json:"event"`
	Data  interface{} `json:"data"`
}

// Request is what a viewer sends after connecting.
// "join-session" with sessionKey is accepted for older inbox builds.
type Request struct {
	Type       string `json:"type"`
	TenantID   string `json:"tenantId"`
	SessionKey string `json:"sessionKey"`
	Token      string `json:"token"`
}

func (r Request) tenant() string {
	if r.TenantID != "" {
		return strings.TrimSpace(r.TenantID)
	}
	// session keys are "tenant" or "tenant:name"
	tenant, _, _ := strings.Cut(strings.TrimSpace(r.SessionKey), ":")
	return tenant
}

// Conn is the websocket connection as the hub uses it
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Authorizer decides whether a viewer holding token may join tenantID
type Authorizer func(tenantID, token string) error

type Client struct {
	conn  Conn
	send  chan Event
	rooms map[string]struct{} // guarded by Hub.mu

	ctx    context.Context
	cancel context.CancelFunc
}

// Hub fans events out to viewers grouped in per-tenant rooms.
// Delivery is at-most-once: a viewer whose buffer is full misses the event.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms: map[string]map[*Client]struct{}{},
		log:   log.With().Str("component", "realtime").Logger(),
	}
}

// Serve registers conn, handles its join/leave requests and blocks until it disconnects
func (h *Hub) Serve(conn Conn, authorize Authorizer) {
	c := h.AddClient(conn)
	defer h.RemoveClient(c)

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		h.handleRequest(c, req, authorize)
	}
}

func (h *Hub) handleRequest(c *Client, req Request, authorize Authorizer) {
	tenant := req.tenant()
	switch req.Type {
	case "join", "join-session":
		if tenant == "" {
			c.enqueue(Event{Event: eventError, Data: map[string]string{"error": "tenantId is required"}})
			return
		}
		if authorize != nil {
			if err := authorize(tenant, req.Token); err != nil {
				c.enqueue(Event{Event: eventError, Data: map[string]string{"error": err.Error()}})
				return
			}
		}
		h.Join(c, tenant)
		c.enqueue(Event{Event: eventJoined, Data: map[string]string{"tenantId": tenant}})
	case "leave", "leave-session":
		h.Leave(c, tenant)
		c.enqueue(Event{Event: eventLeft, Data: map[string]string{"tenantId": tenant}})
	default:
		c.enqueue(Event{Event: eventError, Data: map[string]string{"error": "unknown request type"}})
	}
}

func (h *Hub) AddClient(conn Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		send:   make(chan Event, sendBuffer),
		rooms:  map[string]struct{}{},
		ctx:    ctx,
		cancel: cancel,
	}

	go c.writeLoop()
	go c.keepAliveLoop()

	return c
}

func (h *Hub) RemoveClient(c *Client) {
	c.cancel()

	h.mu.Lock()
	for tenant := range c.rooms {
		h.leaveLocked(c, tenant)
	}
	h.mu.Unlock()

	_ = c.conn.Close()
}

func (h *Hub) Join(c *Client, tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[tenantID] == nil {
		h.rooms[tenantID] = map[*Client]struct{}{}
	}
	h.rooms[tenantID][c] = struct{}{}
	c.rooms[tenantID] = struct{}{}
}

func (h *Hub) Leave(c *Client, tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, tenantID)
}

func (h *Hub) leaveLocked(c *Client, tenantID string) {
	delete(c.rooms, tenantID)
	if set, ok := h.rooms[tenantID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, tenantID)
		}
	}
}

// Publish delivers an event to every viewer in the tenant's room and returns how many got it
func (h *Hub) Publish(tenantID string, kind EventKind, payload interface{}) int {
	ev := Event{Event: kind, Data: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.rooms[tenantID] {
		if c.enqueue(ev) {
			delivered++
		} else {
			h.log.Warn().Str("tenant", tenantID).Str("event", string(kind)).Msg("viewer buffer full, event dropped")
		}
	}
	return delivered
}

// RoomSize reports how many viewers are joined to a tenant
func (h *Hub) RoomSize(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenantID])
}

func (c *Client) enqueue(ev Event) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			err := c.conn.WriteControl(pingMessage, nil, time.Now().Add(5*time.Second))
			if err != nil && !errors.Is(err, context.Canceled) {
				c.cancel()
				return
			}
		}
	}
}
