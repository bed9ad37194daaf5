package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Ananth-NQI/hotelchat-backend/internal/middleware"
	"github.com/Ananth-NQI/hotelchat-backend/internal/services"
)

// Sender is the outbound pipeline as the HTTP layer uses it
type Sender interface {
	Send(ctx context.Context, req services.SendRequest) (*services.SendResult, error)
}

// MessageHandler handles operator sends
type MessageHandler struct {
	sender Sender
	log    zerolog.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(sender Sender, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		sender: sender,
		log:    log.With().Str("component", "http").Logger(),
	}
}

type sendRequest struct {
	TenantID           string `json:"tenantId"`
	SessionName        string `json:"sessionName"`
	ChatID             string `json:"chatId"`
	DestinationAddress string `json:"destinationAddress"`
	Text               string `json:"text"`

	// inbox fields
	SessionKey string `json:"sessionKey"`
	ToWaID     string `json:"toWaId"`
}

func (r sendRequest) toService() services.SendRequest {
	out := services.SendRequest{
		TenantID:           strings.TrimSpace(r.TenantID),
		SessionName:        r.SessionName,
		ChatID:             r.ChatID,
		DestinationAddress: r.DestinationAddress,
		Text:               r.Text,
	}
	if out.TenantID == "" && r.SessionKey != "" {
		out.TenantID, out.SessionName = splitSessionKey(r.SessionKey)
	}
	if out.DestinationAddress == "" {
		out.DestinationAddress = r.ToWaID
	}
	return out
}

// Send delivers an operator message: 404 without a live session, 400 on bad input,
// 500 with the transport or store error otherwise
func (h *MessageHandler) Send(c *fiber.Ctx) error {
	req, ok, err := h.parse(c)
	if !ok {
		return err
	}

	res, err := h.sender.Send(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"chatId":        res.ChatID,
		"storedMessage": res.Message,
	})
}

// SendLegacy is Send answering with the inbox's response shape
func (h *MessageHandler) SendLegacy(c *fiber.Ctx) error {
	req, ok, err := h.parse(c)
	if !ok {
		return err
	}

	res, err := h.sender.Send(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"dbMessage": res.Message,
	})
}

func (h *MessageHandler) parse(c *fiber.Ctx) (services.SendRequest, bool, error) {
	var body sendRequest
	if err := c.BodyParser(&body); err != nil {
		return services.SendRequest{}, false, badRequest(c, "Invalid request body")
	}

	req := body.toService()
	if req.TenantID == "" {
		return req, false, badRequest(c, "tenantId is required")
	}
	if err := middleware.CheckTenant(c, req.TenantID); err != nil {
		return req, false, respondError(c, err)
	}
	return req, true, nil
}
