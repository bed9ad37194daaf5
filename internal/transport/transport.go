// Package transport adapts WhatsApp clients to the event stream the session manager consumes.
//
// A Dialer establishes one connection per session key and returns a Handle plus a channel of
// Events. The channel is closed when the connection is gone for good, whether the transport
// dropped it or Close was called; consumers treat a closed channel as DISCONNECTED.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
)

type EventKind string

const (
	EventQR      EventKind = "qr"
	EventStatus  EventKind = "status"
	EventMessage EventKind = "message"
)

// Event is one thing the transport reports about a session
type Event struct {
	Kind    EventKind
	QR      string // image data URL, EventQR only
	Attempt int    // QR refresh counter, starts at 1
	State   models.SessionStatus
	Err     error // cause, when State is ERROR
	Message *Message
}

// Message is an inbound WhatsApp message as the transport saw it
type Message struct {
	ID         string          `json:"id"`
	From       string          `json:"from"`
	Body       string          `json:"body"`
	Type       string          `json:"type"` // chat, image, video, ptt, audio, document, sticker
	IsGroup    bool            `json:"isGroupMsg"`
	NotifyName string          `json:"notifyName"`
	AvatarURL  string          `json:"avatarUrl,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Message types reported by the transports
const (
	TypeChat     = "chat"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeVoice    = "ptt"
	TypeDocument = "document"
	TypeSticker  = "sticker"
)

type SendResult struct {
	ID string `json:"id"`
	To string `json:"to"`
}

// Handle is a live connection. Only the session that owns it may call SendText.
type Handle interface {
	SendText(ctx context.Context, address, text string) (SendResult, error)
	Close() error
}

// Dialer establishes transport connections
type Dialer interface {
	Connect(ctx context.Context, key string) (Handle, <-chan Event, error)
}

// ErrClosed is returned when sending through a handle that was closed
var ErrClosed = errors.New("transport: connection closed")

// eventStream is the emit/close plumbing shared by the handles.
// emit never blocks past close and never sends on a closed channel.
type eventStream struct {
	mu     sync.RWMutex
	events chan Event
	done   chan struct{}
	closed bool
	once   sync.Once
}

func newEventStream(buffer int) *eventStream {
	return &eventStream{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (s *eventStream) emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *eventStream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// close releases blocked emitters, runs beforeClose, then closes the channel
func (s *eventStream) close(beforeClose func()) {
	s.once.Do(func() {
		close(s.done)
		if beforeClose != nil {
			beforeClose()
		}
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}
