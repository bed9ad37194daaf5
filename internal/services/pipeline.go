package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/realtime"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
	"github.com/Ananth-NQI/hotelchat-backend/internal/transport"
	"github.com/Ananth-NQI/hotelchat-backend/internal/utils"
)

const (
	placeholderImage = "[Imagem]"
	placeholderFile  = "[Arquivo]"
	placeholderAudio = "[Áudio]"
	placeholderVideo = "[Vídeo]"
)

// NormalizerFunc returns the phone normalizer of a tenant
type NormalizerFunc func(hotelID string) utils.PhoneNormalizer

// DefaultNormalizers uses one country code for every tenant
func DefaultNormalizers(countryCode string) NormalizerFunc {
	n := utils.NewPhoneNormalizer(countryCode)
	return func(string) utils.PhoneNormalizer { return n }
}

// messageEvent is the realtime payload of a stored message
type messageEvent struct {
	TenantID string          `json:"tenantId"`
	ChatID   string          `json:"chatId"`
	Message  *models.Message `json:"message"`
}

// InboundPipeline turns a received transport message into contact, chat and message rows
// and a realtime notification. Failures abort that one message only.
type InboundPipeline struct {
	contacts    *ContactResolver
	chats       *ChatAggregator
	messages    *MessageStore
	publisher   Publisher
	normalizers NormalizerFunc
	log         zerolog.Logger
}

func NewInboundPipeline(contacts *ContactResolver, chats *ChatAggregator, messages *MessageStore, publisher Publisher, normalizers NormalizerFunc, log zerolog.Logger) *InboundPipeline {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if normalizers == nil {
		normalizers = DefaultNormalizers(utils.DefaultCountryCode)
	}
	return &InboundPipeline{
		contacts:    contacts,
		chats:       chats,
		messages:    messages,
		publisher:   publisher,
		normalizers: normalizers,
		log:         log.With().Str("component", "inbound").Logger(),
	}
}

// HandleInbound processes one message for a tenant. Group messages and redeliveries are skipped.
func (p *InboundPipeline) HandleInbound(ctx context.Context, hotelID string, msg *transport.Message) error {
	if msg == nil || msg.IsGroup {
		return nil
	}
	phone := p.normalizers(hotelID).Normalize(msg.From)
	if phone == "" {
		p.log.Warn().Str("tenant", hotelID).Str("from", msg.From).Msg("Message without sender ignored")
		return nil
	}

	body, kind := inboundBody(msg)
	p.log.Info().Str("tenant", hotelID).Str("from", phone).Str("kind", string(kind)).Msg("Message received")

	contactID, err := p.contacts.Resolve(ctx, phone, msg.NotifyName, msg.AvatarURL)
	if err != nil {
		return err
	}
	chatID, err := p.chats.Ensure(ctx, hotelID, contactID)
	if err != nil {
		return err
	}

	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	record := &models.Message{
		HotelID:   hotelID,
		ChatID:    chatID,
		ContactID: contactID,
		Direction: models.DirectionIn,
		Body:      body,
		Kind:      kind,
		Status:    models.MessageReceived,
		Timestamp: at,
	}
	if msg.ID != "" {
		id := msg.ID
		record.WAMessageID = &id
	}
	if raw := rawPayload(msg); raw != nil {
		record.RawPayload = raw
	}

	stored, duplicate, err := p.messages.Append(ctx, record)
	if err != nil {
		return err
	}
	if duplicate {
		p.log.Debug().Str("tenant", hotelID).Str("wa_id", msg.ID).Msg("Redelivered message skipped")
		return nil
	}

	if _, err := p.chats.Touch(ctx, hotelID, contactID, body, at, true); err != nil {
		return err
	}

	p.publisher.Publish(hotelID, realtime.EventMessage, messageEvent{
		TenantID: hotelID,
		ChatID:   chatID,
		Message:  stored,
	})
	return nil
}

func inboundBody(msg *transport.Message) (string, models.MessageKind) {
	body := strings.TrimSpace(msg.Body)
	placeholder := ""
	switch msg.Type {
	case "", transport.TypeChat:
		return body, models.KindText
	case transport.TypeImage, transport.TypeSticker:
		placeholder = placeholderImage
	case transport.TypeAudio, transport.TypeVoice:
		placeholder = placeholderAudio
	case transport.TypeVideo:
		placeholder = placeholderVideo
	default:
		placeholder = placeholderFile
	}
	if body != "" {
		return placeholder + " " + body, models.KindMedia
	}
	return placeholder, models.KindMedia
}

func rawPayload(msg *transport.Message) datatypes.JSON {
	if len(msg.Raw) > 0 && json.Valid(msg.Raw) {
		return datatypes.JSON(msg.Raw)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// SessionSender is the part of the session manager the outbound path needs
type SessionSender interface {
	Send(ctx context.Context, hotelID, sessionName, address, text string) (transport.SendResult, error)
	IsActive(hotelID, sessionName string) bool
}

// SendRequest is an operator's outbound message
type SendRequest struct {
	TenantID           string
	SessionName        string
	ChatID             string // optional; the chat is derived from tenant and destination
	DestinationAddress string
	Text               string
}

// SendResult is the outcome of a successful send
type SendResult struct {
	ChatID  string          `json:"chatId"`
	Message *models.Message `json:"storedMessage"`
}

// OutboundPipeline sends operator messages and records them.
// The transport send happens first; a store failure afterwards leaves the message
// delivered but unrecorded and is reported as a StoreWriteError.
type OutboundPipeline struct {
	sessions    SessionSender
	contacts    *ContactResolver
	chats       *ChatAggregator
	messages    *MessageStore
	publisher   Publisher
	normalizers NormalizerFunc
	log         zerolog.Logger
}

func NewOutboundPipeline(sessions SessionSender, contacts *ContactResolver, chats *ChatAggregator, messages *MessageStore, publisher Publisher, normalizers NormalizerFunc, log zerolog.Logger) *OutboundPipeline {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if normalizers == nil {
		normalizers = DefaultNormalizers(utils.DefaultCountryCode)
	}
	return &OutboundPipeline{
		sessions:    sessions,
		contacts:    contacts,
		chats:       chats,
		messages:    messages,
		publisher:   publisher,
		normalizers: normalizers,
		log:         log.With().Str("component", "outbound").Logger(),
	}
}

func (p *OutboundPipeline) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	tenant := strings.TrimSpace(req.TenantID)
	if tenant == "" {
		return nil, invalidRequest("tenantId is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, invalidRequest("text is required")
	}
	if !p.sessions.IsActive(tenant, req.SessionName) {
		return nil, ErrSessionNotActive
	}

	normalizer := p.normalizers(tenant)
	phone := normalizer.Normalize(req.DestinationAddress)
	if phone == "" {
		return nil, invalidRequest("destinationAddress is required")
	}

	if req.ChatID != "" {
		if err := p.checkChat(ctx, tenant, req.ChatID, phone); err != nil {
			return nil, err
		}
	}

	sent, err := p.sessions.Send(ctx, tenant, req.SessionName, normalizer.Address(phone), req.Text)
	if err != nil {
		p.log.Error().Err(err).Str("tenant", tenant).Str("to", phone).Msg("Send failed")
		return nil, err
	}
	now := time.Now()

	// From here on the message is out; everything below is bookkeeping
	contactID, err := p.contacts.Resolve(ctx, phone, "", "")
	if err != nil {
		return nil, p.unrecorded(tenant, phone, sent, err)
	}
	chatID, err := p.chats.Ensure(ctx, tenant, contactID)
	if err != nil {
		return nil, p.unrecorded(tenant, phone, sent, err)
	}

	record := &models.Message{
		HotelID:   tenant,
		ChatID:    chatID,
		ContactID: contactID,
		Direction: models.DirectionOut,
		Body:      req.Text,
		Kind:      models.KindText,
		Status:    models.MessageSent,
		Timestamp: now,
	}
	if sent.ID != "" {
		id := sent.ID
		record.WAMessageID = &id
	}
	stored, _, err := p.messages.Append(ctx, record)
	if err != nil {
		return nil, p.unrecorded(tenant, phone, sent, err)
	}

	if _, err := p.chats.Touch(ctx, tenant, contactID, req.Text, now, false); err != nil {
		p.log.Warn().Err(err).Str("tenant", tenant).Str("chat", chatID).Msg("Chat preview not updated after send")
	}

	p.publisher.Publish(tenant, realtime.EventMessage, messageEvent{
		TenantID: tenant,
		ChatID:   chatID,
		Message:  stored,
	})
	p.log.Info().Str("tenant", tenant).Str("to", phone).Str("wa_id", sent.ID).Msg("Message sent")

	return &SendResult{ChatID: chatID, Message: stored}, nil
}

// checkChat rejects a chat id that is not the tenant's thread with the destination phone
func (p *OutboundPipeline) checkChat(ctx context.Context, tenant, chatID, phone string) error {
	chat, err := p.chats.Get(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && chat.HotelID != tenant) {
		return invalidRequest("chatId does not belong to tenant")
	}
	if err != nil {
		return err
	}
	contact, err := p.contacts.Lookup(ctx, phone)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && contact.ID != chat.ContactID) {
		return invalidRequest("chatId does not match destinationAddress")
	}
	return err
}

func (p *OutboundPipeline) unrecorded(tenant, phone string, sent transport.SendResult, err error) error {
	p.log.Error().Err(err).Str("tenant", tenant).Str("to", phone).Str("wa_id", sent.ID).
		Msg("Message delivered but not recorded")
	var swe *StoreWriteError
	if errors.As(err, &swe) {
		return err
	}
	return storeWriteError("record sent message", err)
}
