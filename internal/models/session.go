package models

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a tenant's WhatsApp session
type SessionStatus string

const (
	SessionUninitialized SessionStatus = "UNINITIALIZED"
	SessionStarting      SessionStatus = "STARTING"
	SessionQRCode        SessionStatus = "QRCODE"
	SessionConnected     SessionStatus = "CONNECTED"
	SessionError         SessionStatus = "ERROR"
	SessionDisconnected  SessionStatus = "DISCONNECTED"
)

// DefaultSessionName is used when a start request names no sub-session
const DefaultSessionName = "Principal"

// IsTerminal reports whether the session needs an explicit restart to leave this state
func (s SessionStatus) IsTerminal() bool {
	return s == SessionError || s == SessionDisconnected
}

// WhatsAppSession is the persisted view of a tenant session, polled by the inbox UI
type WhatsAppSession struct {
	ID          string        `json:"id" gorm:"primaryKey;size:191"` // session key
	HotelID     string        `json:"hotel_id" gorm:"index;size:191;not null"`
	SessionName string        `json:"session_name" gorm:"size:120;default:'Principal'"`
	Status      SessionStatus `json:"status" gorm:"size:20;index;default:'UNINITIALIZED'"`
	QRCode      *string       `json:"qrcode" gorm:"column:qrcode;type:text"` // only set while Status is QRCODE
	QRAttempt   int           `json:"qr_attempt" gorm:"default:0"`
	LastError   string        `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (WhatsAppSession) TableName() string {
	return "whatsapp_sessions"
}

// SessionKey builds the registry/persistence key of a tenant session.
// The default session keeps the bare tenant id so existing rows stay addressable.
func SessionKey(hotelID, sessionName string) string {
	hotelID, sessionName = strings.TrimSpace(hotelID), strings.TrimSpace(sessionName)
	if sessionName == "" || sessionName == DefaultSessionName {
		return hotelID
	}
	return hotelID + ":" + sessionName
}
