package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Contact is a phone identity shared by every hotel; hotels see it through their chats
type Contact struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	Phone         string    `json:"phone" gorm:"uniqueIndex;size:32;not null"` // normalized, digits only
	Name          string    `json:"name" gorm:"size:255"`
	ProfilePicURL *string   `json:"profile_pic_url" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Contact) TableName() string {
	return "whatsapp_contacts"
}

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
