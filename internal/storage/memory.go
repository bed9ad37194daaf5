package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/utils"
)

// MemoryStore holds all data in memory (USE_MEMORY_STORE, tests).
// Records are copied in and out so callers never share state with the store.
type MemoryStore struct {
	mu sync.RWMutex

	sessions map[string]*models.WhatsAppSession
	contacts map[string]*models.Contact // by id
	guests   map[string]*models.Guest
	chats    map[string]*models.Chat
	messages map[string]*models.Message

	// Unique indexes
	contactByPhone map[string]string // phone -> contact id
	chatByPair     map[string]string // hotel|contact -> chat id
	messageByWAID  map[string]string // hotel|wa id -> message id
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:       make(map[string]*models.WhatsAppSession),
		contacts:       make(map[string]*models.Contact),
		guests:         make(map[string]*models.Guest),
		chats:          make(map[string]*models.Chat),
		messages:       make(map[string]*models.Message),
		contactByPhone: make(map[string]string),
		chatByPair:     make(map[string]string),
		messageByWAID:  make(map[string]string),
	}
}

func pairKey(a, b string) string {
	return a + "|" + b
}

// Session operations

func (m *MemoryStore) UpsertSession(_ context.Context, session *models.WhatsAppSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s := *session
	if s.SessionName == "" {
		s.SessionName = models.DefaultSessionName
	}
	if existing, ok := m.sessions[s.ID]; ok {
		s.CreatedAt = existing.CreatedAt
	} else {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.QRCode != nil {
		qr := *s.QRCode
		s.QRCode = &qr
	}
	m.sessions[s.ID] = &s

	session.CreatedAt = s.CreatedAt
	session.UpdatedAt = s.UpdatedAt
	return nil
}

func (m *MemoryStore) DisconnectSessionIfUnchanged(_ context.Context, seen *models.WhatsAppSession, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[seen.ID]
	if !ok || s.Status != seen.Status || !s.UpdatedAt.Equal(seen.UpdatedAt) {
		return false, nil
	}
	s.Status = models.SessionDisconnected
	s.QRCode = nil
	s.QRAttempt = 0
	s.LastError = reason
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) GetSession(_ context.Context, key string) (*models.WhatsAppSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *MemoryStore) GetSessionsByStatus(_ context.Context, statuses ...models.SessionStatus) ([]*models.WhatsAppSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.WhatsAppSession
	for _, s := range m.sessions {
		for _, st := range statuses {
			if s.Status == st {
				cp := *s
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Contact operations

func (m *MemoryStore) GetContactByPhone(_ context.Context, phone string) (*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.contactByPhone[phone]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m.contacts[id]
	return &out, nil
}

func (m *MemoryStore) CreateContactIfAbsent(_ context.Context, contact *models.Contact) (*models.Contact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.contactByPhone[contact.Phone]; ok {
		out := *m.contacts[id]
		return &out, false, nil
	}
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	now := time.Now()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	stored := *contact
	m.contacts[stored.ID] = &stored
	m.contactByPhone[stored.Phone] = stored.ID
	return contact, true, nil
}

// Guest operations

func (m *MemoryStore) CreateGuest(_ context.Context, guest *models.Guest) (*models.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if guest.ID == "" {
		guest.ID = uuid.NewString()
	}
	now := time.Now()
	guest.CreatedAt = now
	guest.UpdatedAt = now
	guest.PhoneSuffix = utils.PhoneSuffix(guest.Phone, models.GuestPhoneSuffixLen)

	stored := *guest
	m.guests[stored.ID] = &stored
	return guest, nil
}

func (m *MemoryStore) GetGuest(_ context.Context, id string) (*models.Guest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.guests[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *g
	return &out, nil
}

func (m *MemoryStore) FindGuestByPhoneSuffix(_ context.Context, suffix string) (*models.Guest, error) {
	if suffix == "" {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var first *models.Guest
	for _, g := range m.guests {
		if g.PhoneSuffix != suffix {
			continue
		}
		if first == nil || g.CreatedAt.Before(first.CreatedAt) ||
			(g.CreatedAt.Equal(first.CreatedAt) && strings.Compare(g.ID, first.ID) < 0) {
			first = g
		}
	}
	if first == nil {
		return nil, ErrNotFound
	}
	out := *first
	return &out, nil
}

func (m *MemoryStore) LinkGuestToContact(_ context.Context, guestID, contactID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.guests[guestID]
	if !ok || g.ContactID != nil {
		return false, nil
	}
	id := contactID
	g.ContactID = &id
	g.UpdatedAt = time.Now()
	return true, nil
}

// Chat operations

func (m *MemoryStore) EnsureChat(_ context.Context, hotelID, contactID string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(hotelID, contactID)
	if id, ok := m.chatByPair[key]; ok {
		out := *m.chats[id]
		return &out, nil
	}
	chat := m.insertChatLocked(hotelID, contactID)
	out := *chat
	return &out, nil
}

func (m *MemoryStore) insertChatLocked(hotelID, contactID string) *models.Chat {
	now := time.Now()
	chat := &models.Chat{
		ID:            uuid.NewString(),
		HotelID:       hotelID,
		ContactID:     contactID,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.chats[chat.ID] = chat
	m.chatByPair[pairKey(hotelID, contactID)] = chat.ID
	return chat
}

func (m *MemoryStore) UpsertChatActivity(_ context.Context, hotelID, contactID, preview string, at time.Time, inbound bool) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var chat *models.Chat
	if id, ok := m.chatByPair[pairKey(hotelID, contactID)]; ok {
		chat = m.chats[id]
	} else {
		chat = m.insertChatLocked(hotelID, contactID)
	}
	chat.LastMessage = preview
	chat.LastMessageAt = at
	chat.UpdatedAt = time.Now()
	if inbound {
		chat.UnreadCount++
	}
	out := *chat
	return &out, nil
}

func (m *MemoryStore) GetChat(_ context.Context, id string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.withContactLocked(chat), nil
}

func (m *MemoryStore) withContactLocked(chat *models.Chat) *models.Chat {
	out := *chat
	if c, ok := m.contacts[chat.ContactID]; ok {
		contact := *c
		out.Contact = &contact
	}
	return &out
}

func (m *MemoryStore) GetChatsByHotel(_ context.Context, hotelID string, limit int) ([]*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Chat
	for _, chat := range m.chats {
		if chat.HotelID == hotelID {
			out = append(out, m.withContactLocked(chat))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ResetChatUnread(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	chat.UnreadCount = 0
	chat.UpdatedAt = time.Now()
	return nil
}

// Message operations

func (m *MemoryStore) CreateMessageIfAbsent(_ context.Context, message *models.Message) (*models.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if message.WAMessageID != nil && *message.WAMessageID == "" {
		message.WAMessageID = nil
	}
	if message.WAMessageID != nil {
		if id, ok := m.messageByWAID[pairKey(message.HotelID, *message.WAMessageID)]; ok {
			out := *m.messages[id]
			return &out, false, nil
		}
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	now := time.Now()
	if message.Timestamp.IsZero() {
		message.Timestamp = now
	}
	message.CreatedAt = now

	stored := *message
	m.messages[stored.ID] = &stored
	if stored.WAMessageID != nil {
		m.messageByWAID[pairKey(stored.HotelID, *stored.WAMessageID)] = stored.ID
	}
	return message, true, nil
}

func (m *MemoryStore) GetMessagesByChat(_ context.Context, chatID string, limit int, cursor *MessageCursor) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Message
	for _, msg := range m.messages {
		if msg.ChatID != chatID {
			continue
		}
		if cursor != nil && !cursor.after(msg) {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// after reports whether msg comes after the cursor in newest-first order
func (c *MessageCursor) after(msg *models.Message) bool {
	if msg.Timestamp.Before(c.Before) {
		return true
	}
	return c.ID != "" && msg.Timestamp.Equal(c.Before) && msg.ID < c.ID
}
