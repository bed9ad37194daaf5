package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/hotelchat-backend/internal/config"
	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/services"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
)

type fakeStarter struct {
	mu      sync.Mutex
	running map[string]bool
	started []string
}

func (f *fakeStarter) Start(_ context.Context, hotelID, sessionName string) (services.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := models.SessionKey(hotelID, sessionName)
	if f.running[key] {
		return services.StartAlreadyRunning, nil
	}
	f.running[key] = true
	f.started = append(f.started, key)
	return services.StartStarting, nil
}

func (f *fakeStarter) IsRunning(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[key]
}

func seedSession(t *testing.T, store storage.Store, key string, status models.SessionStatus) {
	t.Helper()
	s := &models.WhatsAppSession{ID: key, HotelID: key, SessionName: models.DefaultSessionName, Status: status}
	if status == models.SessionQRCode {
		qr := "data:image/png;base64,AAA"
		s.QRCode = &qr
		s.QRAttempt = 3
	}
	require.NoError(t, store.UpsertSession(context.Background(), s))
}

func TestReconcileMarksOrphanedSessions(t *testing.T) {
	store := storage.NewMemoryStore()
	starter := &fakeStarter{running: map[string]bool{"H3": true}}
	seedSession(t, store, "H1", models.SessionConnected)
	seedSession(t, store, "H2", models.SessionQRCode)
	seedSession(t, store, "H3", models.SessionConnected)
	seedSession(t, store, "H4", models.SessionError)

	job := NewSessionJob(store, starter, nil, 0, zerolog.Nop())
	require.Equal(t, 2, job.Reconcile(context.Background()))

	ctx := context.Background()
	h1, err := store.GetSession(ctx, "H1")
	require.NoError(t, err)
	require.Equal(t, models.SessionDisconnected, h1.Status)
	require.NotEmpty(t, h1.LastError)

	h2, err := store.GetSession(ctx, "H2")
	require.NoError(t, err)
	require.Equal(t, models.SessionDisconnected, h2.Status)
	require.Nil(t, h2.QRCode)
	require.Zero(t, h2.QRAttempt)

	h3, err := store.GetSession(ctx, "H3")
	require.NoError(t, err)
	require.Equal(t, models.SessionConnected, h3.Status, "a session this process holds is left alone")

	h4, err := store.GetSession(ctx, "H4")
	require.NoError(t, err)
	require.Equal(t, models.SessionError, h4.Status)

	require.Zero(t, job.Reconcile(ctx))
}

// racingStore lets a session write land right after the reconcile read
type racingStore struct {
	storage.Store
	afterRead func()
}

func (s *racingStore) GetSessionsByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]*models.WhatsAppSession, error) {
	rows, err := s.Store.GetSessionsByStatus(ctx, statuses...)
	if s.afterRead != nil {
		s.afterRead()
	}
	return rows, err
}

func TestReconcileKeepsRowsWrittenMeanwhile(t *testing.T) {
	inner := storage.NewMemoryStore()
	seedSession(t, inner, "H1", models.SessionStarting)
	seedSession(t, inner, "H2", models.SessionConnected)

	store := &racingStore{Store: inner, afterRead: func() {
		// H1 was started again and connected between the read and the write
		time.Sleep(2 * time.Millisecond)
		seedSession(t, inner, "H1", models.SessionConnected)
	}}
	job := NewSessionJob(store, &fakeStarter{running: map[string]bool{}}, nil, 0, zerolog.Nop())
	require.Equal(t, 1, job.Reconcile(context.Background()))

	h1, err := inner.GetSession(context.Background(), "H1")
	require.NoError(t, err)
	require.Equal(t, models.SessionConnected, h1.Status)

	h2, err := inner.GetSession(context.Background(), "H2")
	require.NoError(t, err)
	require.Equal(t, models.SessionDisconnected, h2.Status)
}

func TestBootSessionsStartsAutostartTenants(t *testing.T) {
	starter := &fakeStarter{running: map[string]bool{"H3": true}}
	tenants := []config.Tenant{
		{ID: "H1", Autostart: true},
		{ID: "H2"},
		{ID: "H3", Autostart: true},
		{ID: "H4", SessionName: "Reception", Autostart: true},
	}
	job := NewSessionJob(storage.NewMemoryStore(), starter, tenants, 0, zerolog.Nop())

	require.Equal(t, 2, job.BootSessions(context.Background()))
	require.Equal(t, []string{"H1", "H4:Reception"}, starter.started)
}

func TestStartReconcilesBeforeBoot(t *testing.T) {
	store := storage.NewMemoryStore()
	starter := &fakeStarter{running: map[string]bool{}}
	seedSession(t, store, "H1", models.SessionConnected)

	job := NewSessionJob(store, starter, []config.Tenant{{ID: "H1", Autostart: true}}, 10*time.Millisecond, zerolog.Nop())
	job.Start(context.Background())
	defer job.Stop()

	// the stale row was cleared before H1 was started again, so H1 is now held and left alone
	s, err := store.GetSession(context.Background(), "H1")
	require.NoError(t, err)
	require.Equal(t, models.SessionDisconnected, s.Status)
	require.Equal(t, []string{"H1"}, starter.started)

	seedSession(t, store, "H2", models.SessionStarting)
	require.Eventually(t, func() bool {
		s, err := store.GetSession(context.Background(), "H2")
		return err == nil && s.Status == models.SessionDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	job.Stop()
	job.Stop()
}
