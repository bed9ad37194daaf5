package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
)

func newTestDatabaseStore(t *testing.T) *DatabaseStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return NewDatabaseStore(db)
}

// forEachStore runs fn against a fresh MemoryStore and a fresh sqlite DatabaseStore
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("database", func(t *testing.T) { fn(t, newTestDatabaseStore(t)) })
}

func mustContact(t *testing.T, s Store, phone string) *models.Contact {
	t.Helper()
	c, _, err := s.CreateContactIfAbsent(context.Background(), &models.Contact{Phone: phone, Name: phone})
	require.NoError(t, err)
	return c
}

func TestSessionUpsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetSession(ctx, "H1")
		require.ErrorIs(t, err, ErrNotFound)

		qr := "data:image/png;base64,AAA"
		require.NoError(t, s.UpsertSession(ctx, &models.WhatsAppSession{
			ID: "H1", HotelID: "H1", SessionName: models.DefaultSessionName,
			Status: models.SessionQRCode, QRCode: &qr, QRAttempt: 1,
		}))
		got, err := s.GetSession(ctx, "H1")
		require.NoError(t, err)
		require.Equal(t, models.SessionQRCode, got.Status)
		require.NotNil(t, got.QRCode)
		require.Equal(t, qr, *got.QRCode)

		require.NoError(t, s.UpsertSession(ctx, &models.WhatsAppSession{
			ID: "H1", HotelID: "H1", SessionName: models.DefaultSessionName, Status: models.SessionConnected,
		}))
		got, err = s.GetSession(ctx, "H1")
		require.NoError(t, err)
		require.Equal(t, models.SessionConnected, got.Status)
		require.Nil(t, got.QRCode)
		require.Equal(t, 0, got.QRAttempt)

		require.NoError(t, s.UpsertSession(ctx, &models.WhatsAppSession{
			ID: "H2", HotelID: "H2", SessionName: models.DefaultSessionName, Status: models.SessionError, LastError: "boom",
		}))
		live, err := s.GetSessionsByStatus(ctx, models.SessionStarting, models.SessionQRCode, models.SessionConnected)
		require.NoError(t, err)
		require.Len(t, live, 1)
		require.Equal(t, "H1", live[0].ID)
	})
}

func TestDisconnectSessionIfUnchanged(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		qr := "data:image/png;base64,AAA"
		require.NoError(t, s.UpsertSession(ctx, &models.WhatsAppSession{
			ID: "H1", HotelID: "H1", SessionName: models.DefaultSessionName,
			Status: models.SessionQRCode, QRCode: &qr, QRAttempt: 2,
		}))
		seen, err := s.GetSession(ctx, "H1")
		require.NoError(t, err)

		// a newer write since the read wins
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, s.UpsertSession(ctx, &models.WhatsAppSession{
			ID: "H1", HotelID: "H1", SessionName: models.DefaultSessionName, Status: models.SessionConnected,
		}))
		changed, err := s.DisconnectSessionIfUnchanged(ctx, seen, "stale")
		require.NoError(t, err)
		require.False(t, changed)
		got, err := s.GetSession(ctx, "H1")
		require.NoError(t, err)
		require.Equal(t, models.SessionConnected, got.Status)

		changed, err = s.DisconnectSessionIfUnchanged(ctx, got, "stale")
		require.NoError(t, err)
		require.True(t, changed)
		got, err = s.GetSession(ctx, "H1")
		require.NoError(t, err)
		require.Equal(t, models.SessionDisconnected, got.Status)
		require.Nil(t, got.QRCode)
		require.Zero(t, got.QRAttempt)
		require.Equal(t, "stale", got.LastError)

		changed, err = s.DisconnectSessionIfUnchanged(ctx, &models.WhatsAppSession{ID: "missing", Status: models.SessionConnected}, "stale")
		require.NoError(t, err)
		require.False(t, changed)
	})
}

func TestCreateContactIfAbsent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, created, err := s.CreateContactIfAbsent(ctx, &models.Contact{Phone: "5511999990000", Name: "Ana"})
		require.NoError(t, err)
		require.True(t, created)
		require.NotEmpty(t, first.ID)

		second, created, err := s.CreateContactIfAbsent(ctx, &models.Contact{Phone: "5511999990000", Name: "Other"})
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, first.ID, second.ID)
		require.Equal(t, "Ana", second.Name)

		byPhone, err := s.GetContactByPhone(ctx, "5511999990000")
		require.NoError(t, err)
		require.Equal(t, first.ID, byPhone.ID)

		_, err = s.GetContactByPhone(ctx, "5511000000000")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGuestSuffixLookupAndLink(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		older, err := s.CreateGuest(ctx, &models.Guest{HotelID: "H1", Name: "Older", Phone: "+55 (11) 99999-0000"})
		require.NoError(t, err)
		require.Equal(t, "99990000", older.PhoneSuffix)
		time.Sleep(5 * time.Millisecond)
		_, err = s.CreateGuest(ctx, &models.Guest{HotelID: "H2", Name: "Newer", Phone: "21 99999-0000"})
		require.NoError(t, err)

		found, err := s.FindGuestByPhoneSuffix(ctx, "99990000")
		require.NoError(t, err)
		require.Equal(t, older.ID, found.ID)

		_, err = s.FindGuestByPhoneSuffix(ctx, "12345678")
		require.ErrorIs(t, err, ErrNotFound)

		c1 := mustContact(t, s, "5511999990000")
		c2 := mustContact(t, s, "5521999990000")

		linked, err := s.LinkGuestToContact(ctx, older.ID, c1.ID)
		require.NoError(t, err)
		require.True(t, linked)

		linked, err = s.LinkGuestToContact(ctx, older.ID, c2.ID)
		require.NoError(t, err)
		require.False(t, linked)

		got, err := s.GetGuest(ctx, older.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ContactID)
		require.Equal(t, c1.ID, *got.ContactID)
		require.Equal(t, "99990000", got.PhoneSuffix)
	})
}

func TestChatActivity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		contact := mustContact(t, s, "5511999990000")

		ensured, err := s.EnsureChat(ctx, "H1", contact.ID)
		require.NoError(t, err)
		again, err := s.EnsureChat(ctx, "H1", contact.ID)
		require.NoError(t, err)
		require.Equal(t, ensured.ID, again.ID)
		require.Equal(t, 0, again.UnreadCount)

		at := time.Now().Add(-time.Minute)
		chat, err := s.UpsertChatActivity(ctx, "H1", contact.ID, "Olá", at, true)
		require.NoError(t, err)
		require.Equal(t, ensured.ID, chat.ID)
		require.Equal(t, 1, chat.UnreadCount)
		require.Equal(t, "Olá", chat.LastMessage)

		chat, err = s.UpsertChatActivity(ctx, "H1", contact.ID, "Bom dia", time.Now(), false)
		require.NoError(t, err)
		require.Equal(t, 1, chat.UnreadCount)
		require.Equal(t, "Bom dia", chat.LastMessage)

		// same contact, other hotel: separate thread
		other, err := s.UpsertChatActivity(ctx, "H2", contact.ID, "Hi", time.Now(), true)
		require.NoError(t, err)
		require.NotEqual(t, chat.ID, other.ID)

		require.NoError(t, s.ResetChatUnread(ctx, chat.ID))
		got, err := s.GetChat(ctx, chat.ID)
		require.NoError(t, err)
		require.Equal(t, 0, got.UnreadCount)
		require.NotNil(t, got.Contact)
		require.Equal(t, contact.Phone, got.Contact.Phone)

		require.ErrorIs(t, s.ResetChatUnread(ctx, "missing"), ErrNotFound)
		_, err = s.GetChat(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConcurrentInboundTouchesShareOneChat(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		contact := mustContact(t, s, "5511999990000")

		const n = 25
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.UpsertChatActivity(ctx, "H1", contact.ID, fmt.Sprintf("msg %d", i), time.Now(), true)
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		chats, err := s.GetChatsByHotel(ctx, "H1", 0)
		require.NoError(t, err)
		require.Len(t, chats, 1)
		require.Equal(t, n, chats[0].UnreadCount)
	})
}

func TestChatsByHotelOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustContact(t, s, "5511000000001")
		b := mustContact(t, s, "5511000000002")
		c := mustContact(t, s, "5511000000003")

		now := time.Now()
		_, err := s.UpsertChatActivity(ctx, "H1", a.ID, "a", now.Add(-2*time.Hour), true)
		require.NoError(t, err)
		_, err = s.UpsertChatActivity(ctx, "H1", b.ID, "b", now, true)
		require.NoError(t, err)
		_, err = s.UpsertChatActivity(ctx, "H1", c.ID, "c", now.Add(-time.Hour), true)
		require.NoError(t, err)
		_, err = s.UpsertChatActivity(ctx, "H2", a.ID, "other hotel", now, true)
		require.NoError(t, err)

		chats, err := s.GetChatsByHotel(ctx, "H1", 0)
		require.NoError(t, err)
		require.Len(t, chats, 3)
		require.Equal(t, []string{"b", "c", "a"}, []string{chats[0].LastMessage, chats[1].LastMessage, chats[2].LastMessage})

		limited, err := s.GetChatsByHotel(ctx, "H1", 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
	})
}

func TestCreateMessageIfAbsent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		contact := mustContact(t, s, "5511999990000")
		chat, err := s.EnsureChat(ctx, "H1", contact.ID)
		require.NoError(t, err)

		waID := "ABCD1234"
		newMsg := func(hotel, body string, id *string) *models.Message {
			return &models.Message{
				HotelID: hotel, ChatID: chat.ID, ContactID: contact.ID,
				Direction: models.DirectionIn, Body: body, Kind: models.KindText,
				Status: models.MessageReceived, WAMessageID: id,
			}
		}

		first, created, err := s.CreateMessageIfAbsent(ctx, newMsg("H1", "Olá", &waID))
		require.NoError(t, err)
		require.True(t, created)

		dup, created, err := s.CreateMessageIfAbsent(ctx, newMsg("H1", "Olá again", &waID))
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, first.ID, dup.ID)
		require.Equal(t, "Olá", dup.Body)

		// the id space is per hotel
		_, created, err = s.CreateMessageIfAbsent(ctx, newMsg("H2", "Olá", &waID))
		require.NoError(t, err)
		require.True(t, created)

		// without a transport id nothing deduplicates
		empty := ""
		_, created, err = s.CreateMessageIfAbsent(ctx, newMsg("H1", "x", nil))
		require.NoError(t, err)
		require.True(t, created)
		_, created, err = s.CreateMessageIfAbsent(ctx, newMsg("H1", "x", &empty))
		require.NoError(t, err)
		require.True(t, created)

		msgs, err := s.GetMessagesByChat(ctx, chat.ID, 50, nil)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
	})
}

func TestMessagesByChatPaging(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		contact := mustContact(t, s, "5511999990000")
		chat, err := s.EnsureChat(ctx, "H1", contact.ID)
		require.NoError(t, err)

		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			_, _, err := s.CreateMessageIfAbsent(ctx, &models.Message{
				HotelID: "H1", ChatID: chat.ID, ContactID: contact.ID,
				Direction: models.DirectionIn, Body: fmt.Sprintf("m%d", i), Kind: models.KindText,
				Status: models.MessageReceived, Timestamp: base.Add(time.Duration(i) * time.Minute),
			})
			require.NoError(t, err)
		}

		newest, err := s.GetMessagesByChat(ctx, chat.ID, 2, nil)
		require.NoError(t, err)
		require.Len(t, newest, 2)
		require.Equal(t, "m4", newest[0].Body)
		require.Equal(t, "m3", newest[1].Body)

		older, err := s.GetMessagesByChat(ctx, chat.ID, 10, &MessageCursor{Before: newest[1].Timestamp})
		require.NoError(t, err)
		require.Len(t, older, 3)
		require.Equal(t, "m2", older[0].Body)
		require.Equal(t, "m0", older[2].Body)

		none, err := s.GetMessagesByChat(ctx, "missing", 10, nil)
		require.NoError(t, err)
		require.Empty(t, none)
	})
}

func TestMessagesByChatPagingWithinOneSecond(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		contact := mustContact(t, s, "5511999990000")
		chat, err := s.EnsureChat(ctx, "H1", contact.ID)
		require.NoError(t, err)

		second := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		times := []time.Time{second.Add(-time.Minute), second, second, second, second.Add(time.Minute)}
		for i, at := range times {
			_, _, err := s.CreateMessageIfAbsent(ctx, &models.Message{
				HotelID: "H1", ChatID: chat.ID, ContactID: contact.ID,
				Direction: models.DirectionIn, Body: fmt.Sprintf("m%d", i), Kind: models.KindText,
				Status: models.MessageReceived, Timestamp: at,
			})
			require.NoError(t, err)
		}

		// walk the history two at a time; the page boundary falls inside the shared second
		var seen []string
		var cursor *MessageCursor
		for page := 0; page < 5; page++ {
			msgs, err := s.GetMessagesByChat(ctx, chat.ID, 2, cursor)
			require.NoError(t, err)
			if len(msgs) == 0 {
				break
			}
			for _, m := range msgs {
				seen = append(seen, m.Body)
			}
			last := msgs[len(msgs)-1]
			cursor = &MessageCursor{Before: last.Timestamp, ID: last.ID}
		}

		require.Len(t, seen, 5)
		require.Equal(t, "m4", seen[0])
		require.ElementsMatch(t, []string{"m1", "m2", "m3"}, seen[1:4])
		require.Equal(t, "m0", seen[4])
	})
}
