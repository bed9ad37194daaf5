package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
)

// ErrNotFound is returned by lookups that match no record
var ErrNotFound = errors.New("record not found")

// Store defines the interface for storage operations.
// Every find-or-create method is race-safe: uniqueness is enforced by the store itself,
// so concurrent callers converge on the same row.
type Store interface {
	// Session operations
	UpsertSession(ctx context.Context, session *models.WhatsAppSession) error
	GetSession(ctx context.Context, key string) (*models.WhatsAppSession, error)
	GetSessionsByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]*models.WhatsAppSession, error)
	// DisconnectSessionIfUnchanged marks seen DISCONNECTED only if its row still has the status and
	// updated_at that were read; changed is false when another write got there first.
	DisconnectSessionIfUnchanged(ctx context.Context, seen *models.WhatsAppSession, reason string) (changed bool, err error)

	// Contact operations
	GetContactByPhone(ctx context.Context, phone string) (*models.Contact, error)
	// CreateContactIfAbsent inserts the contact unless its phone exists and returns the stored row.
	// created is true only for the caller whose insert won.
	CreateContactIfAbsent(ctx context.Context, contact *models.Contact) (stored *models.Contact, created bool, err error)

	// Guest operations
	CreateGuest(ctx context.Context, guest *models.Guest) (*models.Guest, error)
	GetGuest(ctx context.Context, id string) (*models.Guest, error)
	// FindGuestByPhoneSuffix returns the oldest guest whose phone ends with suffix
	FindGuestByPhoneSuffix(ctx context.Context, suffix string) (*models.Guest, error)
	// LinkGuestToContact sets the guest's contact only if it has none; linked reports whether it did
	LinkGuestToContact(ctx context.Context, guestID, contactID string) (linked bool, err error)

	// Chat operations
	EnsureChat(ctx context.Context, hotelID, contactID string) (*models.Chat, error)
	UpsertChatActivity(ctx context.Context, hotelID, contactID, preview string, at time.Time, inbound bool) (*models.Chat, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	GetChatsByHotel(ctx context.Context, hotelID string, limit int) ([]*models.Chat, error)
	ResetChatUnread(ctx context.Context, chatID string) error

	// Message operations
	// CreateMessageIfAbsent inserts the message unless (hotel, wa_message_id) already exists,
	// in which case the existing row is returned untouched with created=false.
	CreateMessageIfAbsent(ctx context.Context, message *models.Message) (stored *models.Message, created bool, err error)
	// GetMessagesByChat returns the chat's messages newest first, ordered by (timestamp, id),
	// starting after cursor when one is given.
	GetMessagesByChat(ctx context.Context, chatID string, limit int, cursor *MessageCursor) ([]*models.Message, error)
}

// MessageCursor marks the last message of a history page.
// Timestamps are only second precise, so ID breaks ties; without it every message at Before is skipped.
type MessageCursor struct {
	Before time.Time
	ID     string
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*DatabaseStore)(nil)
)
