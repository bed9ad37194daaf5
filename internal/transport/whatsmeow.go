package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/utils"
)

const (
	eventBuffer = 64
	qrImageSize = 256
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// WhatsmeowDialer connects sessions to WhatsApp Web. Each session key gets its own
// sqlite device store under TokensDir, so a restart resumes without a new QR scan.
type WhatsmeowDialer struct {
	TokensDir string
	log       zerolog.Logger
}

func NewWhatsmeowDialer(tokensDir string, log zerolog.Logger) *WhatsmeowDialer {
	if tokensDir == "" {
		tokensDir = "tokens"
	}
	return &WhatsmeowDialer{
		TokensDir: tokensDir,
		log:       log.With().Str("component", "whatsmeow").Logger(),
	}
}

func (d *WhatsmeowDialer) Connect(ctx context.Context, key string) (Handle, <-chan Event, error) {
	if err := os.MkdirAll(d.TokensDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create tokens dir: %w", err)
	}
	log := d.log.With().Str("session", key).Logger()

	file := filepath.Join(d.TokensDir, unsafeKeyChars.ReplaceAllString(key, "_")+".db")
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", file)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Zerolog(log.With().Str("module", "store").Logger()))
	if err != nil {
		return nil, nil, fmt.Errorf("open device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Zerolog(log.With().Str("module", "client").Logger()))
	// a dropped connection ends the session; the operator restarts it explicitly
	client.EnableAutoReconnect = false

	h := &whatsmeowHandle{
		client:    client,
		container: container,
		stream:    newEventStream(eventBuffer),
		log:       log,
	}
	client.AddEventHandler(h.handleEvent)

	if client.Store.ID == nil {
		// The QR channel must outlive the request context that started the session
		qrChan, err := client.GetQRChannel(context.Background())
		if err != nil {
			_ = container.Close()
			return nil, nil, fmt.Errorf("open qr channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			_ = container.Close()
			return nil, nil, fmt.Errorf("connect: %w", err)
		}
		go h.pumpQR(qrChan)
	} else {
		if err := client.Connect(); err != nil {
			_ = container.Close()
			return nil, nil, fmt.Errorf("connect: %w", err)
		}
	}

	return h, h.stream.events, nil
}

type whatsmeowHandle struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	stream    *eventStream
	log       zerolog.Logger
}

func (h *whatsmeowHandle) SendText(ctx context.Context, address, text string) (SendResult, error) {
	if h.stream.isClosed() {
		return SendResult{}, ErrClosed
	}
	jid, err := addressToJID(address)
	if err != nil {
		return SendResult{}, err
	}
	resp, err := h.client.SendMessage(ctx, jid, &waProto.Message{Conversation: proto.String(text)})
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{ID: string(resp.ID), To: jid.String()}, nil
}

func (h *whatsmeowHandle) Close() error {
	var err error
	h.stream.close(func() {
		h.client.Disconnect()
		err = h.container.Close()
	})
	return err
}

func (h *whatsmeowHandle) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	attempt := 0
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			attempt++
			img, err := qrDataURL(item.Code)
			if err != nil {
				h.log.Warn().Err(err).Msg("QR render failed, sending raw code")
				img = item.Code
			}
			h.stream.emit(Event{Kind: EventQR, QR: img, Attempt: attempt})
		case "success":
			// paired; the Connected event follows once the login finishes
			h.stream.emit(Event{Kind: EventStatus, State: models.SessionStarting})
		case "timeout":
			h.stream.emit(Event{Kind: EventStatus, State: models.SessionError, Err: errors.New("qr code expired without being scanned")})
		default:
			err := item.Error
			if err == nil {
				err = fmt.Errorf("pairing failed: %s", item.Event)
			}
			h.stream.emit(Event{Kind: EventStatus, State: models.SessionError, Err: err})
		}
	}
}

func (h *whatsmeowHandle) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		h.stream.emit(Event{Kind: EventStatus, State: models.SessionConnected})
	case *events.PairSuccess:
		h.stream.emit(Event{Kind: EventStatus, State: models.SessionStarting})
	case *events.LoggedOut:
		h.stream.emit(Event{Kind: EventStatus, State: models.SessionDisconnected, Err: errors.New("logged out from phone")})
	case *events.StreamReplaced:
		h.stream.emit(Event{Kind: EventStatus, State: models.SessionDisconnected, Err: errors.New("session opened elsewhere")})
	case *events.Disconnected:
		h.stream.emit(Event{Kind: EventStatus, State: models.SessionDisconnected})
	case *events.ConnectFailure:
		h.stream.emit(Event{Kind: EventStatus, State: models.SessionError, Err: fmt.Errorf("connect failure: %v", v.Reason)})
	case *events.ClientOutdated:
		h.stream.emit(Event{Kind: EventStatus, State: models.SessionError, Err: errors.New("client outdated")})
	case *events.TemporaryBan:
		h.stream.emit(Event{Kind: EventStatus, State: models.SessionError, Err: fmt.Errorf("temporary ban: %v", v)})
	case *events.Message:
		if msg := convertWhatsmeowMessage(v); msg != nil {
			h.stream.emit(Event{Kind: EventMessage, Message: msg})
		}
	}
}

func convertWhatsmeowMessage(v *events.Message) *Message {
	if v == nil || v.Message == nil || v.Info.IsFromMe {
		return nil
	}
	// status stories and broadcast lists are not inbox conversations
	if v.Info.Chat.Server == types.BroadcastServer {
		return nil
	}
	m := v.Message
	msg := &Message{
		ID:         string(v.Info.ID),
		From:       v.Info.Sender.ToNonAD().String(),
		IsGroup:    v.Info.IsGroup,
		NotifyName: v.Info.PushName,
		Timestamp:  v.Info.Timestamp,
		Type:       TypeChat,
	}

	switch {
	case m.GetConversation() != "":
		msg.Body = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		msg.Body = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		msg.Type = TypeImage
		msg.Body = m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		msg.Type = TypeVideo
		msg.Body = m.GetVideoMessage().GetCaption()
	case m.GetAudioMessage() != nil:
		msg.Type = TypeAudio
		if m.GetAudioMessage().GetPTT() {
			msg.Type = TypeVoice
		}
	case m.GetDocumentMessage() != nil:
		msg.Type = TypeDocument
		msg.Body = m.GetDocumentMessage().GetCaption()
	case m.GetStickerMessage() != nil:
		msg.Type = TypeSticker
	default:
		// receipts, reactions, protocol messages
		return nil
	}

	if raw, err := json.Marshal(v.Info); err == nil {
		msg.Raw = raw
	}
	return msg
}

// addressToJID turns "5511999990000@c.us" (or bare digits) into a user JID
func addressToJID(address string) (types.JID, error) {
	user, server, found := strings.Cut(address, "@")
	user = utils.DigitsOnly(user)
	if user == "" {
		return types.JID{}, fmt.Errorf("invalid address %q", address)
	}
	if !found || server == "" || server == "c.us" {
		server = types.DefaultUserServer
	}
	return types.NewJID(user, server), nil
}

// qrDataURL renders a pairing code as the PNG data URL the inbox shows
func qrDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
