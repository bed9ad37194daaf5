package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/hotelchat-backend/internal/realtime"
)

// RealtimeHandler upgrades inbox connections and hands them to the hub
type RealtimeHandler struct {
	hub       *realtime.Hub
	authorize realtime.Authorizer
}

// NewRealtimeHandler creates a new realtime handler. A nil authorize lets anyone join any hotel.
func NewRealtimeHandler(hub *realtime.Hub, authorize realtime.Authorizer) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, authorize: authorize}
}

// Upgrade rejects plain HTTP requests to the websocket endpoint
func (h *RealtimeHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals("token", c.Query("token"))
	return c.Next()
}

// Serve runs one viewer connection until it closes
func (h *RealtimeHandler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		authorize := h.authorize
		if authorize != nil {
			// a token given on the URL covers join requests that carry none
			urlToken, _ := conn.Locals("token").(string)
			authorize = func(tenantID, token string) error {
				if token == "" {
					token = urlToken
				}
				return h.authorize(tenantID, token)
			}
		}
		h.hub.Serve(conn, authorize)
	})
}
