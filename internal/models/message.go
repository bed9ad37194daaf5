package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type MessageDirection string

const (
	DirectionIn  MessageDirection = "in"
	DirectionOut MessageDirection = "out"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindMedia MessageKind = "media" // body holds a placeholder
)

type MessageStatus string

const (
	MessageReceived MessageStatus = "received"
	MessageSent     MessageStatus = "sent"
	MessageRead     MessageStatus = "read"
)

// Message is one WhatsApp message in either direction. Only Status may change after insert.
type Message struct {
	ID          string           `json:"id" gorm:"primaryKey;size:36"`
	HotelID     string           `json:"hotel_id" gorm:"index;uniqueIndex:ux_message_hotel_wa,priority:1;size:191;not null"`
	ChatID      string           `json:"chat_id" gorm:"index:idx_message_chat_ts,priority:1;size:36;not null"`
	ContactID   string           `json:"contact_id" gorm:"index;size:36;not null"`
	Direction   MessageDirection `json:"direction" gorm:"size:3;not null"`
	Body        string           `json:"message" gorm:"column:message;type:text"`
	Kind        MessageKind      `json:"kind" gorm:"size:10;default:'text'"`
	Status      MessageStatus    `json:"status" gorm:"size:10;not null"`
	WAMessageID *string          `json:"wa_message_id" gorm:"uniqueIndex:ux_message_hotel_wa,priority:2;size:191"`
	RawPayload  datatypes.JSON   `json:"raw_payload,omitempty"`
	Timestamp   time.Time        `json:"timestamp" gorm:"column:sent_at;index:idx_message_chat_ts,priority:2"`
	CreatedAt   time.Time        `json:"created_at"`
}

func (Message) TableName() string {
	return "whatsapp_messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return nil
}
