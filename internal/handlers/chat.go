package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/hotelchat-backend/internal/middleware"
	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
)

// ChatService is the chat aggregator as the HTTP layer uses it
type ChatService interface {
	Get(ctx context.Context, chatID string) (*models.Chat, error)
	List(ctx context.Context, hotelID string, limit int) ([]*models.Chat, error)
	MarkRead(ctx context.Context, chatID string) error
}

// MessageLister reads a chat's history
type MessageLister interface {
	ListByChat(ctx context.Context, chatID string, limit int, cursor *storage.MessageCursor) ([]*models.Message, error)
}

// ChatHandler serves the inbox: chat list, history and read receipts
type ChatHandler struct {
	chats    ChatService
	messages MessageLister
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chats ChatService, messages MessageLister) *ChatHandler {
	return &ChatHandler{
		chats:    chats,
		messages: messages,
	}
}

// List returns a tenant's chats, most recent first
func (h *ChatHandler) List(c *fiber.Ctx) error {
	tenant := c.Query("tenantId")
	if tenant == "" {
		tenant = middleware.BoundTenant(c)
	}
	if tenant == "" {
		return badRequest(c, "tenantId is required")
	}
	if err := middleware.CheckTenant(c, tenant); err != nil {
		return respondError(c, err)
	}

	chats, err := h.chats.List(c.UserContext(), tenant, c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	if chats == nil {
		chats = []*models.Chat{}
	}

	return c.JSON(fiber.Map{
		"count": len(chats),
		"chats": chats,
	})
}

// MarkRead resets a chat's unread counter
func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	chat, err := h.ownedChat(c)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.chats.MarkRead(c.UserContext(), chat.ID); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"chatId":  chat.ID,
	})
}

// Messages returns a chat's history, newest first. ?before= (RFC3339) with ?beforeId= of the
// last message shown pages backwards.
func (h *ChatHandler) Messages(c *fiber.Ctx) error {
	chat, err := h.ownedChat(c)
	if err != nil {
		return respondError(c, err)
	}

	var cursor *storage.MessageCursor
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return badRequest(c, "before must be an RFC3339 timestamp")
		}
		cursor = &storage.MessageCursor{Before: t, ID: c.Query("beforeId")}
	} else if c.Query("beforeId") != "" {
		return badRequest(c, "beforeId requires before")
	}

	messages, err := h.messages.ListByChat(c.UserContext(), chat.ID, c.QueryInt("limit", 0), cursor)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(messages)
}

// ownedChat loads the :id chat and checks it belongs to the caller's hotel
func (h *ChatHandler) ownedChat(c *fiber.Ctx) (*models.Chat, error) {
	id := c.Params("id")
	if id == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "chat id is required")
	}

	chat, err := h.chats.Get(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if err := middleware.CheckTenant(c, chat.HotelID); err != nil {
		return nil, err
	}
	return chat, nil
}
