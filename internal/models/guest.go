package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Ananth-NQI/hotelchat-backend/internal/utils"
)

// GuestPhoneSuffixLen is how many trailing digits the guest matcher compares
const GuestPhoneSuffixLen = 8

// Guest is a reservation record owned by the hotel PMS. We only read it and set ContactID once.
type Guest struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	HotelID     string    `json:"hotel_id" gorm:"index;size:191"`
	Name        string    `json:"name" gorm:"size:255"`
	Phone       string    `json:"phone" gorm:"size:64"`
	PhoneSuffix string    `json:"-" gorm:"index;size:16"`
	ContactID   *string   `json:"contact_id" gorm:"index;size:36"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (g *Guest) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave keeps the suffix index in sync with the stored phone
func (g *Guest) BeforeSave(tx *gorm.DB) error {
	g.PhoneSuffix = utils.PhoneSuffix(g.Phone, GuestPhoneSuffixLen)
	return nil
}
