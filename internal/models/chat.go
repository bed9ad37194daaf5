package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chat is the conversation thread between one hotel and one contact
type Chat struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	HotelID       string    `json:"hotel_id" gorm:"uniqueIndex:ux_chat_hotel_contact,priority:1;size:191;not null"`
	ContactID     string    `json:"contact_id" gorm:"uniqueIndex:ux_chat_hotel_contact,priority:2;size:36;not null"`
	LastMessage   string    `json:"last_message" gorm:"type:text"`
	LastMessageAt time.Time `json:"last_message_at" gorm:"index"`
	UnreadCount   int       `json:"unread_count" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Contact *Contact `json:"contact,omitempty" gorm:"foreignKey:ContactID"`
}

func (Chat) TableName() string {
	return "whatsapp_chats"
}

func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
