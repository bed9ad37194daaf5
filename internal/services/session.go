package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/realtime"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
	"github.com/Ananth-NQI/hotelchat-backend/internal/transport"
)

const (
	DefaultQRMaxAttempts = 5
	DefaultQRTimeout     = 3 * time.Minute

	storeTimeout   = 10 * time.Second
	inboundTimeout = 30 * time.Second
)

// StartResult is what a start request reports back synchronously
type StartResult string

const (
	StartStarting       StartResult = "STARTING"
	StartAlreadyRunning StartResult = "ALREADY_RUNNING"
)

// Publisher pushes events to the viewers of a tenant
type Publisher interface {
	Publish(tenantID string, kind realtime.EventKind, payload interface{}) int
}

// InboundHandler processes messages received on a tenant's session
type InboundHandler interface {
	HandleInbound(ctx context.Context, hotelID string, msg *transport.Message) error
}

// SessionConfig bounds the QR wait
type SessionConfig struct {
	QRMaxAttempts int           // QR refreshes allowed before giving up; 0 disables
	QRTimeout     time.Duration // time from the first QR to CONNECTED; 0 disables
}

// SessionInfo describes a live session for monitoring
type SessionInfo struct {
	Key       string               `json:"key"`
	HotelID   string               `json:"hotel_id"`
	Name      string               `json:"session_name"`
	Status    models.SessionStatus `json:"status"`
	StartedAt time.Time            `json:"started_at"`
}

// liveSession is the in-memory side of a session: the transport handle and its state
type liveSession struct {
	key       string
	hotelID   string
	name      string
	startedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	handle    transport.Handle
	status    models.SessionStatus
	qrAttempt int
	lastQR    string

	sendMu sync.Mutex // one writer per connection
}

func (ls *liveSession) setHandle(h transport.Handle) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.handle = h
}

func (ls *liveSession) getStatus() models.SessionStatus {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.status
}

func (ls *liveSession) info() SessionInfo {
	return SessionInfo{
		Key:       ls.key,
		HotelID:   ls.hotelID,
		Name:      ls.name,
		Status:    ls.getStatus(),
		StartedAt: ls.startedAt,
	}
}

// SessionRegistry owns the table of sessions held by this process, one per session key
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*liveSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*liveSession)}
}

// reserve claims key for ls; false when another session holds it
func (r *SessionRegistry) reserve(ls *liveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[ls.key]; exists {
		return false
	}
	r.sessions[ls.key] = ls
	return true
}

// release drops key only if ls still holds it
func (r *SessionRegistry) release(ls *liveSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[ls.key] == ls {
		delete(r.sessions, ls.key)
	}
}

func (r *SessionRegistry) get(key string) (*liveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.sessions[key]
	return ls, ok
}

func (r *SessionRegistry) list() []*liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*liveSession, 0, len(r.sessions))
	for _, ls := range r.sessions {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Has reports whether key is starting or live in this process
func (r *SessionRegistry) Has(key string) bool {
	_, ok := r.get(key)
	return ok
}

// Len returns the number of sessions held
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SessionManager drives each tenant session through its lifecycle:
//
//	UNINITIALIZED → STARTING → QRCODE ⇄ STARTING → CONNECTED → {ERROR | DISCONNECTED}
//
// Every transition is persisted before the next event of that session is handled.
// Each session runs its own goroutine, so tenants never wait on each other.
type SessionManager struct {
	store     storage.Store
	dialer    transport.Dialer
	registry  *SessionRegistry
	publisher Publisher
	inbound   InboundHandler
	cfg       SessionConfig
	log       zerolog.Logger

	wg sync.WaitGroup
}

// NewSessionManager creates a session manager
func NewSessionManager(store storage.Store, dialer transport.Dialer, registry *SessionRegistry, publisher Publisher, inbound InboundHandler, cfg SessionConfig, log zerolog.Logger) *SessionManager {
	if registry == nil {
		registry = NewSessionRegistry()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &SessionManager{
		store:     store,
		dialer:    dialer,
		registry:  registry,
		publisher: publisher,
		inbound:   inbound,
		cfg:       cfg,
		log:       log.With().Str("component", "sessions").Logger(),
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, realtime.EventKind, interface{}) int { return 0 }

// Start begins connecting the tenant session in the background.
// Establishment failures are only visible through the persisted state and status events.
func (m *SessionManager) Start(ctx context.Context, hotelID, sessionName string) (StartResult, error) {
	hotelID = strings.TrimSpace(hotelID)
	if hotelID == "" {
		return "", invalidRequest("tenantId is required")
	}
	sessionName = strings.TrimSpace(sessionName)
	if sessionName == "" {
		sessionName = models.DefaultSessionName
	}

	// cancel is set before the session is visible to Stop and Shutdown
	sessCtx, cancel := context.WithCancel(context.Background())
	ls := &liveSession{
		key:       models.SessionKey(hotelID, sessionName),
		hotelID:   hotelID,
		name:      sessionName,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    models.SessionStarting,
	}
	if !m.registry.reserve(ls) {
		cancel()
		m.log.Debug().Str("session", ls.key).Msg("Start ignored, session already running")
		return StartAlreadyRunning, nil
	}

	if err := m.persist(ctx, ls, models.SessionStarting, "", nil); err != nil {
		cancel()
		m.registry.release(ls)
		close(ls.done)
		return "", storeWriteError("start session", err)
	}
	m.publishStatus(ls, models.SessionStarting, nil)
	m.log.Info().Str("session", ls.key).Str("tenant", hotelID).Msg("Starting WhatsApp session")

	m.wg.Add(1)
	go m.run(sessCtx, ls)

	return StartStarting, nil
}

// connected returns a session that finished pairing, with its handle
func (m *SessionManager) connected(hotelID, sessionName string) (*liveSession, transport.Handle, bool) {
	ls, ok := m.registry.get(models.SessionKey(hotelID, sessionName))
	if !ok {
		return nil, nil, false
	}
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if ls.handle == nil || ls.status != models.SessionConnected {
		return nil, nil, false
	}
	return ls, ls.handle, true
}

// Send delivers text through the tenant's connection once it is CONNECTED
func (m *SessionManager) Send(ctx context.Context, hotelID, sessionName, address, text string) (transport.SendResult, error) {
	ls, h, ok := m.connected(hotelID, sessionName)
	if !ok {
		return transport.SendResult{}, ErrSessionNotActive
	}

	ls.sendMu.Lock()
	defer ls.sendMu.Unlock()
	return h.SendText(ctx, address, text)
}

// IsActive reports whether the tenant session is CONNECTED and can send
func (m *SessionManager) IsActive(hotelID, sessionName string) bool {
	_, _, ok := m.connected(hotelID, sessionName)
	return ok
}

// IsRunning reports whether a session key is starting or live in this process
func (m *SessionManager) IsRunning(key string) bool {
	return m.registry.Has(key)
}

// Stop closes the tenant's connection and waits for the session to settle as DISCONNECTED
func (m *SessionManager) Stop(ctx context.Context, hotelID, sessionName string) error {
	ls, ok := m.registry.get(models.SessionKey(hotelID, sessionName))
	if !ok {
		return ErrSessionNotActive
	}
	ls.cancel()
	select {
	case <-ls.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSession returns the persisted session record
func (m *SessionManager) GetSession(ctx context.Context, hotelID, sessionName string) (*models.WhatsAppSession, error) {
	return m.store.GetSession(ctx, models.SessionKey(hotelID, sessionName))
}

// GetActiveSessions returns the sessions held by this process (for monitoring)
func (m *SessionManager) GetActiveSessions() []SessionInfo {
	sessions := m.registry.list()
	out := make([]SessionInfo, 0, len(sessions))
	for _, ls := range sessions {
		out = append(out, ls.info())
	}
	return out
}

// Shutdown stops every session and waits for their goroutines
func (m *SessionManager) Shutdown(ctx context.Context) error {
	for _, ls := range m.registry.list() {
		ls.cancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run owns one session from dial to its terminal state
func (m *SessionManager) run(ctx context.Context, ls *liveSession) {
	defer m.wg.Done()
	defer close(ls.done)
	defer m.registry.release(ls)

	log := m.log.With().Str("session", ls.key).Str("tenant", ls.hotelID).Logger()

	if ctx.Err() != nil {
		m.transition(ls, models.SessionDisconnected, "", errors.New("stopped before connecting"))
		return
	}

	handle, events, err := m.dialer.Connect(ctx, ls.key)
	if err != nil {
		estErr := &EstablishError{Key: ls.key, Err: err}
		log.Error().Err(estErr).Msg("Transport establishment failed")
		m.transition(ls, models.SessionError, "", estErr)
		return
	}
	ls.setHandle(handle)
	defer func() {
		if err := handle.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing transport failed")
		}
	}()

	var (
		qrTimer    *time.Timer
		qrDeadline <-chan time.Time
		cancelled  = ctx.Done()
	)
	defer func() {
		if qrTimer != nil {
			qrTimer.Stop()
		}
	}()

	for {
		select {
		case <-cancelled:
			log.Info().Msg("Stopping WhatsApp session")
			cancelled = nil
			// the transport closes the event channel, which ends the loop as DISCONNECTED
			_ = handle.Close()

		case <-qrDeadline:
			m.transition(ls, models.SessionError, "", fmt.Errorf("qr code not scanned within %s", m.cfg.QRTimeout))
			return

		case ev, ok := <-events:
			if !ok {
				if !ls.getStatus().IsTerminal() {
					m.transition(ls, models.SessionDisconnected, "", errors.New("transport closed"))
				}
				log.Info().Str("status", string(ls.getStatus())).Msg("WhatsApp session ended")
				return
			}
			if m.handleEvent(ctx, log, ls, ev) {
				return
			}

			switch status := ls.getStatus(); {
			case status == models.SessionQRCode && qrTimer == nil && m.cfg.QRTimeout > 0:
				qrTimer = time.NewTimer(m.cfg.QRTimeout)
				qrDeadline = qrTimer.C
			case status == models.SessionConnected && qrTimer != nil:
				qrTimer.Stop()
				qrTimer, qrDeadline = nil, nil
			}
		}
	}
}

// handleEvent applies one transport event and reports whether the session reached a terminal state.
// A panic while handling is treated as the transport reporting ERROR.
func (m *SessionManager) handleEvent(ctx context.Context, log zerolog.Logger, ls *liveSession, ev transport.Event) (terminal bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(ev.Kind)).Msg("Session event handler panicked")
			m.transition(ls, models.SessionError, "", fmt.Errorf("panic handling %s event: %v", ev.Kind, r))
			terminal = true
		}
	}()

	switch ev.Kind {
	case transport.EventQR:
		if ev.QR == "" {
			log.Warn().Msg("QR event without payload ignored")
			return false
		}
		attempt := ev.Attempt
		if attempt <= 0 {
			ls.mu.RLock()
			attempt = ls.qrAttempt + 1
			ls.mu.RUnlock()
		}
		if m.cfg.QRMaxAttempts > 0 && attempt > m.cfg.QRMaxAttempts {
			m.transition(ls, models.SessionError, "", fmt.Errorf("qr code not scanned after %d attempts", m.cfg.QRMaxAttempts))
			return true
		}
		ls.mu.Lock()
		ls.qrAttempt = attempt
		ls.mu.Unlock()
		log.Info().Int("attempt", attempt).Msg("QR code received")
		m.transition(ls, models.SessionQRCode, ev.QR, nil)
		return false

	case transport.EventStatus:
		if ev.State == "" {
			log.Warn().Msg("Status event without state ignored")
			return false
		}
		qr := ""
		if ev.State == models.SessionQRCode {
			ls.mu.RLock()
			qr = ls.lastQR
			ls.mu.RUnlock()
			if qr == "" {
				log.Warn().Msg("QRCODE status without a QR payload ignored")
				return false
			}
		}
		log.Info().Str("status", string(ev.State)).Err(ev.Err).Msg("Session status")
		m.transition(ls, ev.State, qr, ev.Err)
		return ev.State.IsTerminal()

	case transport.EventMessage:
		if ev.Message == nil || m.inbound == nil {
			return false
		}
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inboundTimeout)
		defer cancel()
		if err := m.inbound.HandleInbound(mctx, ls.hotelID, ev.Message); err != nil {
			log.Error().Err(err).Str("wa_id", ev.Message.ID).Msg("Inbound message dropped")
		}
		return false

	default:
		log.Warn().Str("event", string(ev.Kind)).Msg("Unknown transport event ignored")
		return false
	}
}

// transition records a new state in memory, in the store and on the realtime channel.
// The QR payload is kept only for QRCODE.
func (m *SessionManager) transition(ls *liveSession, status models.SessionStatus, qr string, cause error) {
	ls.mu.Lock()
	ls.status = status
	if status == models.SessionQRCode {
		ls.lastQR = qr
	} else {
		ls.lastQR = ""
	}
	if status == models.SessionConnected {
		ls.qrAttempt = 0
	}
	ls.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.persist(ctx, ls, status, qr, cause); err != nil {
		m.log.Error().Err(storeWriteError("persist session state", err)).
			Str("session", ls.key).Str("status", string(status)).Msg("Session state not saved")
	}

	if status == models.SessionQRCode {
		m.publisher.Publish(ls.hotelID, realtime.EventQR, map[string]interface{}{
			"tenantId":   ls.hotelID,
			"sessionKey": ls.key,
			"image":      qr,
			"attempt":    ls.qrAttemptSnapshot(),
		})
		return
	}
	m.publishStatus(ls, status, cause)
}

func (ls *liveSession) qrAttemptSnapshot() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.qrAttempt
}

func (m *SessionManager) persist(ctx context.Context, ls *liveSession, status models.SessionStatus, qr string, cause error) error {
	session := &models.WhatsAppSession{
		ID:          ls.key,
		HotelID:     ls.hotelID,
		SessionName: ls.name,
		Status:      status,
	}
	if status == models.SessionQRCode {
		payload := qr
		session.QRCode = &payload
		session.QRAttempt = ls.qrAttemptSnapshot()
	}
	if cause != nil {
		session.LastError = cause.Error()
	}
	return m.store.UpsertSession(ctx, session)
}

func (m *SessionManager) publishStatus(ls *liveSession, status models.SessionStatus, cause error) {
	payload := map[string]interface{}{
		"tenantId":   ls.hotelID,
		"sessionKey": ls.key,
		"state":      status,
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	m.publisher.Publish(ls.hotelID, realtime.EventStatus, payload)
}
