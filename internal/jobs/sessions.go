package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ananth-NQI/hotelchat-backend/internal/config"
	"github.com/Ananth-NQI/hotelchat-backend/internal/models"
	"github.com/Ananth-NQI/hotelchat-backend/internal/services"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
)

const defaultReconcileInterval = time.Minute

// SessionStarter is the part of the session manager the jobs drive
type SessionStarter interface {
	Start(ctx context.Context, hotelID, sessionName string) (services.StartResult, error)
	IsRunning(key string) bool
}

// SessionJob starts configured tenants at boot and marks sessions left behind by a
// previous process as DISCONNECTED
type SessionJob struct {
	store    storage.Store
	sessions SessionStarter
	tenants  []config.Tenant
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewSessionJob creates the session job scheduler
func NewSessionJob(store storage.Store, sessions SessionStarter, tenants []config.Tenant, interval time.Duration, log zerolog.Logger) *SessionJob {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	return &SessionJob{
		store:    store,
		sessions: sessions,
		tenants:  tenants,
		interval: interval,
		log:      log.With().Str("component", "jobs").Logger(),
	}
}

// Start reconciles once, boots the autostart tenants and schedules reconciliation
func (j *SessionJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		j.log.Warn().Msg("Session jobs already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.stopped = make(chan struct{})

	// stale rows must be cleared before boot starts fresh sessions
	j.Reconcile(ctx)
	j.BootSessions(ctx)

	go j.scheduleReconcile(ctx, j.stopped)
	j.log.Info().Dur("interval", j.interval).Msg("Session jobs started")
}

// Stop halts the scheduled reconciliation
func (j *SessionJob) Stop() {
	j.mu.Lock()
	cancel, stopped := j.cancel, j.stopped
	j.cancel, j.stopped = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	j.log.Info().Msg("Stopping session jobs...")
	cancel()
	<-stopped
}

func (j *SessionJob) scheduleReconcile(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Reconcile(ctx)
		}
	}
}

// BootSessions starts every configured tenant marked autostart and returns how many were started
func (j *SessionJob) BootSessions(ctx context.Context) int {
	started := 0
	for _, t := range j.tenants {
		if !t.Autostart {
			continue
		}
		res, err := j.sessions.Start(ctx, t.ID, t.SessionName)
		if err != nil {
			j.log.Error().Err(err).Str("tenant", t.ID).Msg("Autostart failed")
			continue
		}
		if res == services.StartStarting {
			started++
		}
	}
	if started > 0 {
		j.log.Info().Int("sessions", started).Msg("Autostarted tenant sessions")
	}
	return started
}

// Reconcile marks persisted non-terminal sessions that this process does not hold as
// DISCONNECTED and returns how many were changed
func (j *SessionJob) Reconcile(ctx context.Context) int {
	stale, err := j.store.GetSessionsByStatus(ctx,
		models.SessionStarting, models.SessionQRCode, models.SessionConnected)
	if err != nil {
		j.log.Error().Err(err).Msg("Error loading sessions to reconcile")
		return 0
	}

	changed := 0
	for _, s := range stale {
		if j.sessions.IsRunning(s.ID) {
			continue
		}
		ok, err := j.store.DisconnectSessionIfUnchanged(ctx, s, "session not held by any running process")
		if err != nil {
			j.log.Error().Err(err).Str("session", s.ID).Msg("Failed to mark stale session")
			continue
		}
		if !ok {
			j.log.Debug().Str("session", s.ID).Msg("Session changed while reconciling, left alone")
			continue
		}
		changed++
	}
	if changed > 0 {
		j.log.Info().Int("sessions", changed).Msg("Stale sessions marked DISCONNECTED")
	}
	return changed
}
