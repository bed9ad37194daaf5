package services

import (
	"context"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
)

const (
	DefaultMessagesLimit = 50
	MaxMessagesLimit     = 200
)

// MessageStore persists messages idempotently on the transport message id
type MessageStore struct {
	store storage.Store
}

func NewMessageStore(store storage.Store) *MessageStore {
	return &MessageStore{store: store}
}

// Append stores msg. A redelivered transport id returns the first stored copy with duplicate=true.
func (s *MessageStore) Append(ctx context.Context, msg *models.Message) (*models.Message, bool, error) {
	if msg.HotelID == "" || msg.ChatID == "" || msg.ContactID == "" {
		return nil, false, invalidRequest("message needs hotel, chat and contact")
	}
	if msg.Kind == "" {
		msg.Kind = models.KindText
	}
	stored, created, err := s.store.CreateMessageIfAbsent(ctx, msg)
	if err != nil {
		return nil, false, storeWriteError("append message", err)
	}
	return stored, !created, nil
}

// ListByChat returns up to limit messages past the cursor (from the newest when nil), newest first
func (s *MessageStore) ListByChat(ctx context.Context, chatID string, limit int, cursor *storage.MessageCursor) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultMessagesLimit
	}
	if limit > MaxMessagesLimit {
		limit = MaxMessagesLimit
	}
	messages, err := s.store.GetMessagesByChat(ctx, chatID, limit, cursor)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return messages, nil
}
