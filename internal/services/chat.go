package services

import (
	"context"
	"time"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
)

const (
	previewMaxRunes   = 200
	defaultChatsLimit = 100
)

// ChatAggregator keeps one thread per (hotel, contact) with its preview and unread counter
type ChatAggregator struct {
	store storage.Store
	now   func() time.Time
}

func NewChatAggregator(store storage.Store) *ChatAggregator {
	return &ChatAggregator{store: store, now: time.Now}
}

// Touch records activity on the chat, creating it on first contact.
// Inbound activity bumps the unread counter; the store upsert keeps concurrent touches on one row.
func (a *ChatAggregator) Touch(ctx context.Context, hotelID, contactID, preview string, at time.Time, inbound bool) (string, error) {
	if at.IsZero() {
		at = a.now()
	}
	chat, err := a.store.UpsertChatActivity(ctx, hotelID, contactID, truncatePreview(preview), at, inbound)
	if err != nil {
		return "", storeWriteError("touch chat", err)
	}
	return chat.ID, nil
}

// Ensure returns the chat id for the pair without recording activity
func (a *ChatAggregator) Ensure(ctx context.Context, hotelID, contactID string) (string, error) {
	chat, err := a.store.EnsureChat(ctx, hotelID, contactID)
	if err != nil {
		return "", storeWriteError("ensure chat", err)
	}
	return chat.ID, nil
}

func (a *ChatAggregator) Get(ctx context.Context, chatID string) (*models.Chat, error) {
	return a.store.GetChat(ctx, chatID)
}

// List returns the hotel's chats, most recent activity first
func (a *ChatAggregator) List(ctx context.Context, hotelID string, limit int) ([]*models.Chat, error) {
	if limit <= 0 {
		limit = defaultChatsLimit
	}
	return a.store.GetChatsByHotel(ctx, hotelID, limit)
}

// MarkRead resets the unread counter (the inbox's read receipt)
func (a *ChatAggregator) MarkRead(ctx context.Context, chatID string) error {
	return a.store.ResetChatUnread(ctx, chatID)
}

func truncatePreview(s string) string {
	r := []rune(s)
	if len(r) <= previewMaxRunes {
		return s
	}
	return string(r[:previewMaxRunes-1]) + "…"
}
