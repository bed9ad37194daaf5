package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
)

// DatabaseStore implements Store on gorm (postgres, sqlite or mysql)
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a store backed by db
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// AutoMigrate creates or updates every table the store uses
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.WhatsAppSession{},
		&models.Contact{},
		&models.Guest{},
		&models.Chat{},
		&models.Message{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Session operations

func (d *DatabaseStore) UpsertSession(ctx context.Context, session *models.WhatsAppSession) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"hotel_id", "session_name", "status", "qrcode", "qr_attempt", "last_error", "updated_at",
		}),
	}).Create(session).Error
}

func (d *DatabaseStore) GetSession(ctx context.Context, key string) (*models.WhatsAppSession, error) {
	var session models.WhatsAppSession
	if err := d.db.WithContext(ctx).Where("id = ?", key).First(&session).Error; err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (d *DatabaseStore) GetSessionsByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]*models.WhatsAppSession, error) {
	var sessions []*models.WhatsAppSession
	err := d.db.WithContext(ctx).Where("status IN ?", statuses).Order("id").Find(&sessions).Error
	return sessions, err
}

func (d *DatabaseStore) DisconnectSessionIfUnchanged(ctx context.Context, seen *models.WhatsAppSession, reason string) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.WhatsAppSession{}).
		Where("id = ? AND status = ? AND updated_at = ?", seen.ID, seen.Status, seen.UpdatedAt).
		Updates(map[string]interface{}{
			"status":     models.SessionDisconnected,
			"qrcode":     nil,
			"qr_attempt": 0,
			"last_error": reason,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Contact operations

func (d *DatabaseStore) GetContactByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	var contact models.Contact
	if err := d.db.WithContext(ctx).Where("phone = ?", phone).First(&contact).Error; err != nil {
		return nil, notFound(err)
	}
	return &contact, nil
}

func (d *DatabaseStore) CreateContactIfAbsent(ctx context.Context, contact *models.Contact) (*models.Contact, bool, error) {
	res := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoNothing: true,
	}).Create(contact)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return contact, true, nil
	}
	existing, err := d.GetContactByPhone(ctx, contact.Phone)
	return existing, false, err
}

// Guest operations

func (d *DatabaseStore) CreateGuest(ctx context.Context, guest *models.Guest) (*models.Guest, error) {
	if err := d.db.WithContext(ctx).Create(guest).Error; err != nil {
		return nil, err
	}
	return guest, nil
}

func (d *DatabaseStore) GetGuest(ctx context.Context, id string) (*models.Guest, error) {
	var guest models.Guest
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&guest).Error; err != nil {
		return nil, notFound(err)
	}
	return &guest, nil
}

func (d *DatabaseStore) FindGuestByPhoneSuffix(ctx context.Context, suffix string) (*models.Guest, error) {
	if suffix == "" {
		return nil, ErrNotFound
	}
	var guest models.Guest
	err := d.db.WithContext(ctx).
		Where("phone_suffix = ?", suffix).
		Order("created_at ASC, id ASC").
		First(&guest).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &guest, nil
}

func (d *DatabaseStore) LinkGuestToContact(ctx context.Context, guestID, contactID string) (bool, error) {
	// UpdateColumn skips the BeforeSave hook, which would otherwise blank the suffix
	res := d.db.WithContext(ctx).Model(&models.Guest{}).
		Where("id = ? AND contact_id IS NULL", guestID).
		UpdateColumn("contact_id", contactID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Chat operations

func (d *DatabaseStore) EnsureChat(ctx context.Context, hotelID, contactID string) (*models.Chat, error) {
	chat := &models.Chat{HotelID: hotelID, ContactID: contactID, LastMessageAt: time.Now()}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hotel_id"}, {Name: "contact_id"}},
		DoNothing: true,
	}).Create(chat).Error
	if err != nil {
		return nil, err
	}
	return d.getChatByPair(ctx, hotelID, contactID)
}

func (d *DatabaseStore) UpsertChatActivity(ctx context.Context, hotelID, contactID, preview string, at time.Time, inbound bool) (*models.Chat, error) {
	unread := 0
	if inbound {
		unread = 1
	}
	chat := &models.Chat{
		HotelID:       hotelID,
		ContactID:     contactID,
		LastMessage:   preview,
		LastMessageAt: at,
		UnreadCount:   unread,
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "hotel_id"}, {Name: "contact_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_message":    preview,
			"last_message_at": at,
			"unread_count":    gorm.Expr("whatsapp_chats.unread_count + ?", unread),
			"updated_at":      time.Now(),
		}),
	}).Create(chat).Error
	if err != nil {
		return nil, err
	}
	return d.getChatByPair(ctx, hotelID, contactID)
}

func (d *DatabaseStore) getChatByPair(ctx context.Context, hotelID, contactID string) (*models.Chat, error) {
	var chat models.Chat
	err := d.db.WithContext(ctx).
		Where("hotel_id = ? AND contact_id = ?", hotelID, contactID).
		First(&chat).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &chat, nil
}

func (d *DatabaseStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	if err := d.db.WithContext(ctx).Preload("Contact").Where("id = ?", id).First(&chat).Error; err != nil {
		return nil, notFound(err)
	}
	return &chat, nil
}

func (d *DatabaseStore) GetChatsByHotel(ctx context.Context, hotelID string, limit int) ([]*models.Chat, error) {
	var chats []*models.Chat
	q := d.db.WithContext(ctx).Preload("Contact").
		Where("hotel_id = ?", hotelID).
		Order("last_message_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&chats).Error
	return chats, err
}

func (d *DatabaseStore) ResetChatUnread(ctx context.Context, chatID string) error {
	res := d.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]interface{}{"unread_count": 0, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Message operations

func (d *DatabaseStore) CreateMessageIfAbsent(ctx context.Context, message *models.Message) (*models.Message, bool, error) {
	db := d.db.WithContext(ctx)
	if message.WAMessageID == nil || *message.WAMessageID == "" {
		message.WAMessageID = nil
		if err := db.Create(message).Error; err != nil {
			return nil, false, err
		}
		return message, true, nil
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hotel_id"}, {Name: "wa_message_id"}},
		DoNothing: true,
	}).Create(message)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return message, true, nil
	}

	var existing models.Message
	err := db.Where("hotel_id = ? AND wa_message_id = ?", message.HotelID, *message.WAMessageID).
		First(&existing).Error
	if err != nil {
		return nil, false, notFound(err)
	}
	return &existing, false, nil
}

func (d *DatabaseStore) GetMessagesByChat(ctx context.Context, chatID string, limit int, cursor *MessageCursor) ([]*models.Message, error) {
	var messages []*models.Message
	q := d.db.WithContext(ctx).Where("chat_id = ?", chatID)
	switch {
	case cursor == nil:
	case cursor.ID == "":
		q = q.Where("sent_at < ?", cursor.Before)
	default:
		q = q.Where("(sent_at < ? OR (sent_at = ? AND id < ?))", cursor.Before, cursor.Before, cursor.ID)
	}
	err := q.Order("sent_at DESC, id DESC").Limit(limit).Find(&messages).Error
	return messages, err
}
