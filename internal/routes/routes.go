package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Ananth-NQI/hotelchat-backend/internal/handlers"
	"github.com/Ananth-NQI/hotelchat-backend/internal/middleware"
)

// Handlers groups everything the route table serves
type Handlers struct {
	Health   *handlers.HealthHandler
	Sessions *handlers.SessionHandler
	Messages *handlers.MessageHandler
	Chats    *handlers.ChatHandler
	Realtime *handlers.RealtimeHandler
	WhatsApp *handlers.WhatsAppHandler // nil unless the Twilio transport is in use
}

// Options configures authentication of the route table
type Options struct {
	JWTSecret                string
	TwilioAuthToken          string
	DisableWebhookValidation bool
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, h Handlers, opts Options, log zerolog.Logger) {
	app.Get("/", h.Health.Info)
	app.Get("/health", h.Health.Check)

	// Realtime channel; joins are authorized per hotel inside the hub
	app.Get("/ws", h.Realtime.Upgrade, h.Realtime.Serve())

	auth := middleware.TenantAuth(opts.JWTSecret)

	session := app.Group("/session", auth)
	session.Post("/start", h.Sessions.Start)
	session.Post("/stop", h.Sessions.Stop)
	session.Get("/active", h.Sessions.Active)
	session.Get("/:tenantId", h.Sessions.Get)

	app.Post("/message/send", auth, h.Messages.Send)

	chats := app.Group("/chats", auth)
	chats.Get("/", h.Chats.List)
	chats.Post("/:id/read", h.Chats.MarkRead)
	chats.Get("/:id/messages", h.Chats.Messages)

	// Paths used by the existing inbox
	legacy := app.Group("/whatsapp", auth)
	legacy.Post("/start-session", h.Sessions.Start)
	legacy.Post("/send", h.Messages.SendLegacy)
	legacy.Get("/messages/:id", h.Chats.Messages)

	// ========== WEBHOOK ROUTES ==========
	if h.WhatsApp == nil {
		return
	}
	webhooks := app.Group("/webhook")
	if opts.DisableWebhookValidation {
		// Development: Skip validation for ngrok
		log.Warn().Msg("WhatsApp webhook validation DISABLED")
		webhooks.Post("/whatsapp/:tenantId", h.WhatsApp.HandleWebhook)
	} else {
		webhooks.Post("/whatsapp/:tenantId", middleware.ValidateTwilioSignature(opts.TwilioAuthToken, log), h.WhatsApp.HandleWebhook)
	}
}
