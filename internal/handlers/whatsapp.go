package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/transport"
)

// MessageDeliverer hands webhook messages to a running session
type MessageDeliverer interface {
	Deliver(key string, msg *transport.Message) error
}

// WhatsAppHandler handles Twilio WhatsApp webhook requests
type WhatsAppHandler struct {
	deliverer MessageDeliverer
	log       zerolog.Logger
}

// NewWhatsAppHandler creates a new WhatsApp webhook handler
func NewWhatsAppHandler(deliverer MessageDeliverer, log zerolog.Logger) *WhatsAppHandler {
	return &WhatsAppHandler{
		deliverer: deliverer,
		log:       log.With().Str("component", "webhook").Logger(),
	}
}

// TwilioWebhookPayload represents incoming WhatsApp message from Twilio
type TwilioWebhookPayload struct {
	MessageSid          string `form:"MessageSid" json:"MessageSid"`
	AccountSid          string `form:"AccountSid" json:"AccountSid"`
	MessagingServiceSid string `form:"MessagingServiceSid" json:"MessagingServiceSid,omitempty"`
	From                string `form:"From" json:"From"` // whatsapp:+5511999990000
	To                  string `form:"To" json:"To"`
	Body                string `form:"Body" json:"Body"`
	ProfileName         string `form:"ProfileName" json:"ProfileName,omitempty"`
	WaID                string `form:"WaId" json:"WaId,omitempty"`
	NumMedia            string `form:"NumMedia" json:"NumMedia,omitempty"`
	MediaUrl0           string `form:"MediaUrl0" json:"MediaUrl0,omitempty"`
	MediaContentType0   string `form:"MediaContentType0" json:"MediaContentType0,omitempty"`
	MessageStatus       string `form:"MessageStatus" json:"MessageStatus,omitempty"`
}

// HandleWebhook pushes an incoming WhatsApp message into the tenant's session
func (h *WhatsAppHandler) HandleWebhook(c *fiber.Ctx) error {
	tenant := strings.TrimSpace(c.Params("tenantId"))
	if tenant == "" {
		return badRequest(c, "tenantId is required")
	}

	var payload TwilioWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		h.log.Warn().Err(err).Str("tenant", tenant).Msg("Error parsing webhook")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	// Status callbacks carry no sender content
	if payload.From == "" || (payload.Body == "" && mediaCount(payload) == 0) {
		h.log.Debug().Str("tenant", tenant).Str("sid", payload.MessageSid).Str("status", payload.MessageStatus).
			Msg("Webhook without message content acknowledged")
		return c.SendStatus(fiber.StatusOK)
	}

	msg := payload.toMessage(time.Now())
	key := models.SessionKey(tenant, c.Query("sessionName"))
	if err := h.deliverer.Deliver(key, msg); err != nil {
		if errors.Is(err, transport.ErrNoTwilioSession) {
			h.log.Warn().Str("session", key).Str("sid", payload.MessageSid).Msg("Webhook for a session that is not running")
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not active",
			})
		}
		h.log.Error().Err(err).Str("session", key).Msg("Webhook delivery failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	h.log.Info().Str("session", key).Str("from", payload.From).Msg("WhatsApp message received via webhook")

	// Acknowledge webhook receipt
	return c.SendStatus(fiber.StatusOK)
}

func mediaCount(p TwilioWebhookPayload) int {
	n, err := strconv.Atoi(p.NumMedia)
	if err != nil {
		return 0
	}
	return n
}

func (p TwilioWebhookPayload) toMessage(receivedAt time.Time) *transport.Message {
	msg := &transport.Message{
		ID:         p.MessageSid,
		From:       p.From,
		Body:       p.Body,
		Type:       transport.TypeChat,
		NotifyName: p.ProfileName,
		Timestamp:  receivedAt,
	}
	if mediaCount(p) > 0 {
		msg.Type = mediaType(p.MediaContentType0)
	}
	if raw, err := json.Marshal(p); err == nil {
		msg.Raw = raw
	}
	return msg
}

func mediaType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/webp"):
		return transport.TypeSticker
	case strings.HasPrefix(contentType, "image/"):
		return transport.TypeImage
	case strings.HasPrefix(contentType, "audio/"):
		return transport.TypeAudio
	case strings.HasPrefix(contentType, "video/"):
		return transport.TypeVideo
	default:
		return transport.TypeDocument
	}
}
