package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/utils"
)

// ErrNoTwilioSession is returned by Deliver when the webhook targets a session that is not running
var ErrNoTwilioSession = errors.New("transport: no twilio session for key")

// messageCreator is the slice of the Twilio REST API we use
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioDialer runs sessions on the Twilio WhatsApp Business API.
// There is no pairing step: a session is CONNECTED as soon as it starts, and inbound
// messages arrive through the webhook, which hands them to Deliver.
type TwilioDialer struct {
	api  messageCreator
	from string // Format: "whatsapp:+14155238886"
	log  zerolog.Logger

	mu      sync.Mutex
	handles map[string]*twilioHandle
}

// NewTwilioDialer creates a dialer from account credentials
func NewTwilioDialer(accountSID, authToken, from string, log zerolog.Logger) (*TwilioDialer, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio credentials")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioDialer(client.Api, from, log), nil
}

func newTwilioDialer(api messageCreator, from string, log zerolog.Logger) *TwilioDialer {
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}
	return &TwilioDialer{
		api:     api,
		from:    from,
		log:     log.With().Str("component", "twilio").Logger(),
		handles: make(map[string]*twilioHandle),
	}
}

func (d *TwilioDialer) Connect(_ context.Context, key string) (Handle, <-chan Event, error) {
	h := &twilioHandle{dialer: d, key: key, stream: newEventStream(eventBuffer)}

	d.mu.Lock()
	if old, ok := d.handles[key]; ok {
		d.mu.Unlock()
		_ = old.Close()
		d.mu.Lock()
	}
	d.handles[key] = h
	d.mu.Unlock()

	h.stream.emit(Event{Kind: EventStatus, State: models.SessionConnected})
	return h, h.stream.events, nil
}

// Deliver pushes a webhook message into the session's event stream
func (d *TwilioDialer) Deliver(key string, msg *Message) error {
	d.mu.Lock()
	h, ok := d.handles[key]
	d.mu.Unlock()
	if !ok || h.stream.isClosed() {
		return ErrNoTwilioSession
	}
	h.stream.emit(Event{Kind: EventMessage, Message: msg})
	return nil
}

func (d *TwilioDialer) release(h *twilioHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handles[h.key] == h {
		delete(d.handles, h.key)
	}
}

type twilioHandle struct {
	dialer *TwilioDialer
	key    string
	stream *eventStream
}

func (h *twilioHandle) SendText(_ context.Context, address, text string) (SendResult, error) {
	if h.stream.isClosed() {
		return SendResult{}, ErrClosed
	}
	phone := utils.DigitsOnly(strings.SplitN(address, "@", 2)[0])
	if phone == "" {
		return SendResult{}, fmt.Errorf("invalid address %q", address)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(h.dialer.from)
	params.SetTo("whatsapp:+" + phone)
	params.SetBody(text)

	resp, err := h.dialer.api.CreateMessage(params)
	if err != nil {
		return SendResult{}, err
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		msg := ""
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return SendResult{}, fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, msg)
	}

	result := SendResult{To: "whatsapp:+" + phone}
	if resp.Sid != nil {
		result.ID = *resp.Sid
	}
	h.dialer.log.Debug().Str("sid", result.ID).Str("to", result.To).Msg("WhatsApp message sent")
	return result, nil
}

func (h *twilioHandle) Close() error {
	h.stream.close(func() { h.dialer.release(h) })
	return nil
}
