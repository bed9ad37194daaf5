package handlers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/hotelchat-backend/internal/services"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
	"github.com/Ananth-NQI/hotelchat-backend/internal/transport"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrSessionNotActive, fiber.StatusNotFound},
		{fmt.Errorf("get chat: %w", storage.ErrNotFound), fiber.StatusNotFound},
		{fmt.Errorf("%w: text is required", services.ErrInvalidRequest), fiber.StatusBadRequest},
		{fiber.NewError(fiber.StatusForbidden, "nope"), fiber.StatusForbidden},
		{&services.StoreWriteError{Op: "append message", Err: errors.New("disk full")}, fiber.StatusInternalServerError},
		{context.DeadlineExceeded, fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestSplitSessionKey(t *testing.T) {
	tenant, name := splitSessionKey("H1:Reception")
	require.Equal(t, "H1", tenant)
	require.Equal(t, "Reception", name)

	tenant, name = splitSessionKey(" H1 ")
	require.Equal(t, "H1", tenant)
	require.Empty(t, name)
}

func TestWebhookPayloadToMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := TwilioWebhookPayload{
		MessageSid: "SM1", From: "whatsapp:+5511999990000", Body: "Olá", ProfileName: "Ana",
	}
	msg := p.toMessage(at)
	require.Equal(t, "SM1", msg.ID)
	require.Equal(t, transport.TypeChat, msg.Type)
	require.Equal(t, at, msg.Timestamp)
	require.Contains(t, string(msg.Raw), `"MessageSid":"SM1"`)

	for contentType, want := range map[string]string{
		"image/jpeg":      transport.TypeImage,
		"image/webp":      transport.TypeSticker,
		"audio/ogg":       transport.TypeAudio,
		"video/mp4":       transport.TypeVideo,
		"application/pdf": transport.TypeDocument,
	} {
		p := TwilioWebhookPayload{MessageSid: "SM2", From: "whatsapp:+5511999990000", NumMedia: "1", MediaContentType0: contentType}
		require.Equal(t, want, p.toMessage(at).Type, contentType)
	}

	require.Zero(t, mediaCount(TwilioWebhookPayload{NumMedia: "many"}))
}
