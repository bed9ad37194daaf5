package handlers

import "github.com/gofiber/fiber/v2"

// HealthHandler handles health check requests
type HealthHandler struct {
	Version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		Version: version,
	}
}

// Check reports liveness only; dependencies are not checked
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "OK",
	})
}

// Info describes the service on the root path
func (h *HealthHandler) Info(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "Welcome to HotelChat Backend!",
		"version": h.Version,
		"endpoints": fiber.Map{
			"health":   "/health",
			"sessions": "/session",
			"messages": "/message/send",
			"chats":    "/chats",
			"realtime": "/ws",
			"webhook":  "/webhook/whatsapp/:tenantId",
		},
	})
}
