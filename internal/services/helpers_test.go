package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/realtime"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
	"github.com/Ananth-NQI/hotelchat-backend/internal/transport"
)

type published struct {
	Tenant  string
	Kind    realtime.EventKind
	Payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(tenantID string, kind realtime.EventKind, payload interface{}) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Tenant: tenantID, Kind: kind, Payload: payload})
	return 1
}

func (p *recordingPublisher) ofKind(kind realtime.EventKind) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type sentText struct {
	Address string
	Text    string
}

type fakeHandle struct {
	mu      sync.Mutex
	events  chan transport.Event
	closed  bool
	sent    []sentText
	sendErr error
	seq     int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan transport.Event, 32)}
}

func (h *fakeHandle) SendText(_ context.Context, address, text string) (transport.SendResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return transport.SendResult{}, transport.ErrClosed
	}
	if h.sendErr != nil {
		return transport.SendResult{}, h.sendErr
	}
	h.seq++
	h.sent = append(h.sent, sentText{Address: address, Text: text})
	return transport.SendResult{ID: fmt.Sprintf("wamid-%d", h.seq), To: address}, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	return nil
}

// emit pushes an event as the transport would; events after Close are dropped
func (h *fakeHandle) emit(ev transport.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.events <- ev
	}
}

func (h *fakeHandle) sentTexts() []sentText {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]sentText(nil), h.sent...)
}

type fakeDialer struct {
	mu         sync.Mutex
	handles    map[string]*fakeHandle
	connectErr error
	// onConnect queues events before Connect returns, like the Twilio transport
	onConnect []transport.Event
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{handles: make(map[string]*fakeHandle)}
}

func (d *fakeDialer) Connect(_ context.Context, key string) (transport.Handle, <-chan transport.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return nil, nil, d.connectErr
	}
	h := newFakeHandle()
	for _, ev := range d.onConnect {
		h.emit(ev)
	}
	d.handles[key] = h
	return h, h.events, nil
}

func (d *fakeDialer) handle(key string) *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[key]
}

// waitHandle blocks until the session goroutine has dialed key
func (d *fakeDialer) waitHandle(t *testing.T, key string) *fakeHandle {
	t.Helper()
	require.Eventually(t, func() bool { return d.handle(key) != nil }, 2*time.Second, 5*time.Millisecond)
	return d.handle(key)
}

type inboundCall struct {
	HotelID string
	Msg     *transport.Message
}

type fakeInbound struct {
	mu    sync.Mutex
	calls []inboundCall
	panic bool
}

func (f *fakeInbound) HandleInbound(_ context.Context, hotelID string, msg *transport.Message) error {
	if f.panic {
		panic("inbound exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, inboundCall{HotelID: hotelID, Msg: msg})
	return nil
}

func (f *fakeInbound) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sessionFixture struct {
	store     *storage.MemoryStore
	dialer    *fakeDialer
	publisher *recordingPublisher
	inbound   *fakeInbound
	manager   *SessionManager
}

func newSessionFixture(t *testing.T, cfg SessionConfig) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		store:     storage.NewMemoryStore(),
		dialer:    newFakeDialer(),
		publisher: &recordingPublisher{},
		inbound:   &fakeInbound{},
	}
	f.manager = NewSessionManager(f.store, f.dialer, NewSessionRegistry(), f.publisher, f.inbound, cfg, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})
	return f
}

// waitStatus waits until the persisted session reaches status
func (f *sessionFixture) waitStatus(t *testing.T, key string, status models.SessionStatus) *models.WhatsAppSession {
	t.Helper()
	var last *models.WhatsAppSession
	require.Eventually(t, func() bool {
		s, err := f.store.GetSession(context.Background(), key)
		if err != nil {
			return false
		}
		last = s
		return s.Status == status
	}, 2*time.Second, 5*time.Millisecond, "session %s never reached %s", key, status)
	return last
}

// requireQRInvariant checks that only QRCODE rows carry a QR payload
func requireQRInvariant(t *testing.T, s *models.WhatsAppSession) {
	t.Helper()
	if s.Status == models.SessionQRCode {
		require.NotNil(t, s.QRCode)
		require.NotEmpty(t, *s.QRCode)
		return
	}
	require.Nil(t, s.QRCode)
}
